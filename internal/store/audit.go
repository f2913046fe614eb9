package store

import (
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Audit operation types.
const (
	AuditOpCreate     = "create"
	AuditOpUpdate     = "update"
	AuditOpTransition = "transition"
	AuditOpChallenge  = "challenge"
	AuditOpDefend     = "defend"
	AuditOpMerge      = "merge"
	AuditOpDelete     = "delete"
	AuditOpSkip       = "skip"
	AuditOpHalt       = "halt"
	AuditOpRestore    = "restore"
	AuditOpPurge      = "purge"
	AuditOpRepair     = "repair"
)

// AuditEntry is an immutable record of one state-changing operation.
// Entries are keyed by ULID so chronological range scans need no extra
// index on the id.
type AuditEntry struct {
	ID          string `json:"id"`
	Op          string `json:"op"`
	UnitID      string `json:"unit_id"`
	Actor       string `json:"actor"` // "human" or "automatic"
	Reason      string `json:"reason,omitempty"`
	BeforeState string `json:"before_state,omitempty"`
	AfterState  string `json:"after_state,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// AppendAudit writes an audit entry. There is no update or delete path for
// audit rows anywhere in the codebase.
func (db *DB) AppendAudit(e *AuditEntry) error {
	now := time.Now()
	if e.ID == "" {
		e.ID = ulid.MustNew(ulid.Timestamp(now), rand.New(rand.NewSource(now.UnixNano()))).String()
	}
	e.CreatedAt = now.UnixMilli()

	_, err := db.Exec(`
		INSERT INTO audit_entries (id, op, unit_id, actor, reason, before_state, after_state, created_at)
		VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?)
	`, e.ID, e.Op, e.UnitID, e.Actor, e.Reason, e.BeforeState, e.AfterState, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// ListAudit returns entries created at or after since (unix millis),
// newest first. since <= 0 returns everything.
func (db *DB) ListAudit(since int64) ([]AuditEntry, error) {
	rows, err := db.Query(`
		SELECT id, op, unit_id, actor, reason, before_state, after_state, created_at
		FROM audit_entries
		WHERE created_at >= ?
		ORDER BY created_at DESC, id DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var reason, before, after sql.NullString
		if err := rows.Scan(&e.ID, &e.Op, &e.UnitID, &e.Actor, &reason, &before, &after, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Reason = reason.String
		e.BeforeState = before.String
		e.AfterState = after.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountAuditOps returns the number of entries with the given op since the
// given time. Used by health reporting for the rolling decay rate.
func (db *DB) CountAuditOps(op string, since int64) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM audit_entries WHERE op = ? AND created_at >= ?
	`, op, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count audit ops: %w", err)
	}
	return n, nil
}
