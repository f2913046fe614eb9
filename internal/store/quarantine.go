package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// QuarantineRecord holds a soft-deleted unit's full snapshot. The snapshot
// captures the unit as it was before deletion, so restore can reproduce
// its pre-deletion state exactly.
type QuarantineRecord struct {
	UnitID    string `json:"unit_id"`
	Snapshot  Unit   `json:"snapshot"`
	Reason    string `json:"reason"`
	DeletedAt int64  `json:"deleted_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// QuarantineUnit moves a unit into quarantine: the full row is snapshotted,
// then the live row and its outbound adjacency are removed in one
// transaction. Inbound adjacency from other units is left in place; the
// sync consistency check reports it as dangling until restore or purge.
func (db *DB) QuarantineUnit(u *Unit, reason string, expiresAt int64) error {
	snapshot, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("snapshot unit %s: %w", u.ID, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin quarantine: %w", err)
	}

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO quarantine (unit_id, snapshot, reason, deleted_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, string(snapshot), reason, now, expiresAt); err != nil {
		tx.Rollback()
		return fmt.Errorf("insert quarantine %s: %w", u.ID, err)
	}

	if err := db.deleteUnitRow(tx, u.ID); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit quarantine %s: %w", u.ID, err)
	}
	db.MarkIndexDirty()
	return nil
}

// GetQuarantine returns the quarantine record for a unit, or nil if absent.
func (db *DB) GetQuarantine(unitID string) (*QuarantineRecord, error) {
	var rec QuarantineRecord
	var snapshot string
	err := db.QueryRow(`
		SELECT unit_id, snapshot, reason, deleted_at, expires_at
		FROM quarantine WHERE unit_id = ?
	`, unitID).Scan(&rec.UnitID, &snapshot, &rec.Reason, &rec.DeletedAt, &rec.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quarantine %s: %w", unitID, err)
	}
	if err := json.Unmarshal([]byte(snapshot), &rec.Snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", unitID, err)
	}
	return &rec, nil
}

// ReinsertUnit puts a quarantined snapshot back into the units table with a
// fresh checksum, removing the quarantine record in the same transaction.
func (db *DB) ReinsertUnit(rec *QuarantineRecord) error {
	u := rec.Snapshot
	u.Checksum = ContentChecksum(u.Content)

	linksJSON, lineageJSON, err := marshalGraph(&u)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin restore: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO units (id, kind, scope, summary, content, state, prior_state,
			trust_score, blessed, access_count, last_access, last_challenged_at, last_linked_at,
			links, lineage, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Kind, u.Scope, u.Summary, u.Content, u.State, u.PriorState,
		u.TrustScore, boolInt(u.Blessed), u.AccessCount, u.LastAccess, u.LastChallengedAt, u.LastLinkedAt,
		linksJSON, lineageJSON, u.Checksum, u.CreatedAt, time.Now().UnixMilli()); err != nil {
		tx.Rollback()
		return fmt.Errorf("reinsert unit %s: %w", u.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM quarantine WHERE unit_id = ?`, u.ID); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear quarantine %s: %w", u.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit restore %s: %w", u.ID, err)
	}

	now := time.Now().UnixMilli()
	if err := db.syncLinks(u.ID, u.Links, now); err != nil {
		return err
	}
	db.MarkIndexDirty()
	return nil
}

// ExpiredQuarantine returns records whose expiry has passed.
func (db *DB) ExpiredQuarantine(now int64) ([]QuarantineRecord, error) {
	rows, err := db.Query(`
		SELECT unit_id, snapshot, reason, deleted_at, expires_at
		FROM quarantine WHERE expires_at <= ?
		ORDER BY expires_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired quarantine: %w", err)
	}
	defer rows.Close()

	var recs []QuarantineRecord
	for rows.Next() {
		var rec QuarantineRecord
		var snapshot string
		if err := rows.Scan(&rec.UnitID, &snapshot, &rec.Reason, &rec.DeletedAt, &rec.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan quarantine: %w", err)
		}
		if err := json.Unmarshal([]byte(snapshot), &rec.Snapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", rec.UnitID, err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// DeleteQuarantine permanently purges a quarantine record. Irreversible.
func (db *DB) DeleteQuarantine(unitID string) error {
	_, err := db.Exec(`DELETE FROM quarantine WHERE unit_id = ?`, unitID)
	if err != nil {
		return fmt.Errorf("purge quarantine %s: %w", unitID, err)
	}
	return nil
}

// QuarantineCount returns the current quarantine occupancy.
func (db *DB) QuarantineCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM quarantine`).Scan(&n)
	return n, err
}
