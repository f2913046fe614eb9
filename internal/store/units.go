package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Unit kinds. The kind is a semantic category fixed at creation.
const (
	KindThread     = "thread"
	KindDecision   = "decision"
	KindConstraint = "constraint"
	KindContext    = "context"
	KindFact       = "fact"
)

// Unit scopes. Scope governs protection: always-scoped units are immune to
// automatic deletion.
const (
	ScopeAlways  = "always"
	ScopeProject = "project"
	ScopeSession = "session"
)

// Lifecycle states.
const (
	StateDrifting   = "drifting"
	StateAttached   = "attached"
	StateGrowing    = "growing"
	StateCalcified  = "calcified"
	StateChallenged = "challenged"
	StateFossil     = "fossil"
	StateSkeleton   = "skeleton"
	StateDeleted    = "deleted"
)

// ValidKinds are the allowed unit kinds.
var ValidKinds = map[string]bool{
	KindThread:     true,
	KindDecision:   true,
	KindConstraint: true,
	KindContext:    true,
	KindFact:       true,
}

// ValidScopes are the allowed unit scopes.
var ValidScopes = map[string]bool{
	ScopeAlways:  true,
	ScopeProject: true,
	ScopeSession: true,
}

// ValidStates are the allowed lifecycle states.
var ValidStates = map[string]bool{
	StateDrifting:   true,
	StateAttached:   true,
	StateGrowing:    true,
	StateCalcified:  true,
	StateChallenged: true,
	StateFossil:     true,
	StateSkeleton:   true,
	StateDeleted:    true,
}

// MaxContentChars bounds the free-text body of a unit.
const MaxContentChars = 32000

// Sentinel errors for the optimistic-concurrency and lookup paths.
var (
	// ErrNotFound reports an unknown unit id or a missing/expired
	// quarantine entry.
	ErrNotFound = errors.New("not found")

	// ErrConflict reports a checksum mismatch on a conditional update.
	// The caller must re-read and retry; conflicting writes are never
	// silently merged.
	ErrConflict = errors.New("checksum conflict")
)

// ValidationError reports malformed input rejected before any state change.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// Unit is the atomic memory record.
type Unit struct {
	ID               string   `json:"id"`
	Kind             string   `json:"kind"`
	Scope            string   `json:"scope"`
	Summary          string   `json:"summary"`
	Content          string   `json:"content"`
	State            string   `json:"state"`
	PriorState       string   `json:"prior_state,omitempty"` // state before the current challenge
	TrustScore       float64  `json:"trust_score"`
	Blessed          bool     `json:"blessed"`
	AccessCount      int      `json:"access_count"`
	LastAccess       *int64   `json:"last_access,omitempty"`
	LastChallengedAt *int64   `json:"last_challenged_at,omitempty"`
	LastLinkedAt     *int64   `json:"last_linked_at,omitempty"` // last time an inbound link appeared
	Links            []string `json:"links"`
	Lineage          []string `json:"lineage"` // ids of units merged or decayed into this one
	Checksum         string   `json:"checksum"`
	CreatedAt        int64    `json:"created_at"`
	UpdatedAt        int64    `json:"updated_at"`
}

// ContentChecksum returns the hex SHA-256 of a unit's content, the value
// required for conditional updates.
func ContentChecksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ValidateUnit checks required fields and enum membership. It is called
// before any insert so malformed units are rejected, not defaulted.
func ValidateUnit(u *Unit) error {
	if !ValidKinds[u.Kind] {
		return &ValidationError{Field: "kind", Msg: fmt.Sprintf("unknown kind %q", u.Kind)}
	}
	if !ValidScopes[u.Scope] {
		return &ValidationError{Field: "scope", Msg: fmt.Sprintf("unknown scope %q", u.Scope)}
	}
	if u.Summary == "" {
		return &ValidationError{Field: "summary", Msg: "required"}
	}
	if len(u.Content) > MaxContentChars {
		return &ValidationError{Field: "content", Msg: fmt.Sprintf("%d chars exceeds limit %d", len(u.Content), MaxContentChars)}
	}
	return nil
}

// CreateUnit inserts a new unit. Assigns an id when empty, starts the unit
// in drifting state, and computes its checksum. Link rows are written to
// the adjacency table alongside the JSON field.
func (db *DB) CreateUnit(u *Unit) error {
	if err := ValidateUnit(u); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.State == "" {
		u.State = StateDrifting
	}
	if u.TrustScore == 0 {
		u.TrustScore = 0.5
	}
	u.Checksum = ContentChecksum(u.Content)
	u.CreatedAt = now
	u.UpdatedAt = now

	linksJSON, lineageJSON, err := marshalGraph(u)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		INSERT INTO units (id, kind, scope, summary, content, state, prior_state,
			trust_score, blessed, access_count, last_access, last_challenged_at, last_linked_at,
			links, lineage, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Kind, u.Scope, u.Summary, u.Content, u.State, u.PriorState,
		u.TrustScore, boolInt(u.Blessed), u.AccessCount, u.LastAccess, u.LastChallengedAt, u.LastLinkedAt,
		linksJSON, lineageJSON, u.Checksum, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create unit: %w", err)
	}

	if err := db.syncLinks(u.ID, u.Links, now); err != nil {
		return err
	}
	db.MarkIndexDirty()
	return nil
}

// GetUnit returns a unit by id, or nil if not found.
func (db *DB) GetUnit(id string) (*Unit, error) {
	row := db.QueryRow(selectUnits+" WHERE id = ?", id)
	u, err := scanUnit(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get unit %s: %w", id, err)
	}
	return u, nil
}

// UpdateUnit conditionally rewrites a unit's content-bearing fields
// (summary, content, links, lineage, trust score, ceremony flag). The
// caller supplies the checksum read at load time; a mismatch means the
// unit changed underneath and the update is rejected with ErrConflict.
func (db *DB) UpdateUnit(u *Unit, prevChecksum string) error {
	if err := ValidateUnit(u); err != nil {
		return err
	}

	now := time.Now().UnixMilli()
	newChecksum := ContentChecksum(u.Content)
	linksJSON, lineageJSON, err := marshalGraph(u)
	if err != nil {
		return err
	}

	result, err := db.Exec(`
		UPDATE units SET summary = ?, content = ?, links = ?, lineage = ?,
			trust_score = ?, blessed = ?, checksum = ?, updated_at = ?
		WHERE id = ? AND checksum = ?
	`, u.Summary, u.Content, linksJSON, lineageJSON,
		u.TrustScore, boolInt(u.Blessed), newChecksum, now,
		u.ID, prevChecksum)
	if err != nil {
		return fmt.Errorf("update unit %s: %w", u.ID, err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		existing, err := db.GetUnit(u.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("update unit %s: %w", u.ID, ErrNotFound)
		}
		return fmt.Errorf("update unit %s: %w", u.ID, ErrConflict)
	}

	u.Checksum = newChecksum
	u.UpdatedAt = now
	if err := db.syncLinks(u.ID, u.Links, now); err != nil {
		return err
	}
	db.MarkIndexDirty()
	return nil
}

// TouchUnit increments access_count and records the access time. This is
// the surfacing feedback loop the lifecycle engine later scores.
func (db *DB) TouchUnit(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE units SET access_count = access_count + 1, last_access = ?
		WHERE id = ?
	`, now, id)
	if err != nil {
		return fmt.Errorf("touch unit %s: %w", id, err)
	}
	return nil
}

// SetState moves a unit to a new lifecycle state. When entering the
// challenged state the previous state is recorded so a Defend verdict can
// revert it. Transition legality is the engine's responsibility.
func (db *DB) SetState(id, state string, recordPrior bool) error {
	if !ValidStates[state] {
		return &ValidationError{Field: "state", Msg: fmt.Sprintf("unknown state %q", state)}
	}
	var err error
	if recordPrior {
		_, err = db.Exec(`UPDATE units SET prior_state = state, state = ? WHERE id = ?`, state, id)
	} else {
		_, err = db.Exec(`UPDATE units SET state = ? WHERE id = ?`, state, id)
	}
	if err != nil {
		return fmt.Errorf("set state %s on %s: %w", state, id, err)
	}
	return nil
}

// SetDefended reverts a challenged unit to its prior state with the access
// count reset to the defend baseline. A full reset to zero would make the
// unit immediately decay-eligible again.
func (db *DB) SetDefended(id string, baseline int) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE units SET state = COALESCE(prior_state, 'attached'), prior_state = NULL,
			access_count = ?, last_challenged_at = ?
		WHERE id = ? AND state = 'challenged'
	`, baseline, now, id)
	if err != nil {
		return fmt.Errorf("defend unit %s: %w", id, err)
	}
	return nil
}

// RevertChallenge returns a challenged unit to its prior state without
// touching the access count or timestamps. Used when a halted batch must
// leave the live rows exactly as they were.
func (db *DB) RevertChallenge(id string) error {
	_, err := db.Exec(`
		UPDATE units SET state = COALESCE(prior_state, 'attached'), prior_state = NULL
		WHERE id = ? AND state = 'challenged'
	`, id)
	if err != nil {
		return fmt.Errorf("revert challenge %s: %w", id, err)
	}
	return nil
}

// Bless sets the ceremony flag: an explicit human or automatic signal that
// the unit matters.
func (db *DB) Bless(id string) error {
	_, err := db.Exec(`UPDATE units SET blessed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("bless unit %s: %w", id, err)
	}
	return nil
}

// EmptyContent clears a unit's body while keeping its links, used for the
// skeleton disposition. The checksum is recomputed for the empty body.
func (db *DB) EmptyContent(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE units SET content = '', checksum = ?, updated_at = ? WHERE id = ?
	`, ContentChecksum(""), now, id)
	if err != nil {
		return fmt.Errorf("empty content %s: %w", id, err)
	}
	db.MarkIndexDirty()
	return nil
}

// ListUnits returns all units ordered by id.
func (db *DB) ListUnits() ([]Unit, error) {
	rows, err := db.Query(selectUnits + " ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()
	return scanUnits(rows)
}

// ListDecayable returns units that could be decay candidates: not
// always-scoped, not already challenged, and not in a passive terminal
// state. Scoring happens in the engine.
func (db *DB) ListDecayable() ([]Unit, error) {
	rows, err := db.Query(selectUnits + `
		WHERE scope != 'always'
		  AND state IN ('drifting', 'attached', 'growing', 'calcified')
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list decayable: %w", err)
	}
	defer rows.Close()
	return scanUnits(rows)
}

// GetUnitsByIDs returns units for the given ids, keyed by id.
func (db *DB) GetUnitsByIDs(ids []string) (map[string]Unit, error) {
	result := make(map[string]Unit, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := ""
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = id
	}

	rows, err := db.Query(fmt.Sprintf("%s WHERE id IN (%s)", selectUnits, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("get units by ids: %w", err)
	}
	defer rows.Close()

	units, err := scanUnits(rows)
	if err != nil {
		return nil, err
	}
	for _, u := range units {
		result[u.ID] = u
	}
	return result, nil
}

// InboundCounts returns the number of inbound links per unit id.
func (db *DB) InboundCounts() (map[string]int, error) {
	rows, err := db.Query(`SELECT to_id, COUNT(*) FROM unit_links GROUP BY to_id`)
	if err != nil {
		return nil, fmt.Errorf("inbound counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan inbound count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// InboundLinks returns the ids of units linking to the given unit.
func (db *DB) InboundLinks(id string) ([]string, error) {
	rows, err := db.Query(`SELECT from_id FROM unit_links WHERE to_id = ? ORDER BY from_id`, id)
	if err != nil {
		return nil, fmt.Errorf("inbound links for %s: %w", id, err)
	}
	defer rows.Close()

	var from []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		from = append(from, f)
	}
	return from, rows.Err()
}

// CountsByState returns the number of units per lifecycle state.
func (db *DB) CountsByState() (map[string]int, error) {
	rows, err := db.Query(`SELECT state, COUNT(*) FROM units GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("counts by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// deleteUnitRow removes a unit row and its outbound adjacency. Only the
// quarantine path calls this; everything else soft-transitions state.
func (db *DB) deleteUnitRow(tx *sql.Tx, id string) error {
	if _, err := tx.Exec(`DELETE FROM unit_links WHERE from_id = ?`, id); err != nil {
		return fmt.Errorf("delete links of %s: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM units WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete unit %s: %w", id, err)
	}
	return nil
}

// syncLinks rewrites the adjacency rows for a unit's outbound links and
// stamps last_linked_at on the targets that gained an inbound edge.
func (db *DB) syncLinks(id string, links []string, now int64) error {
	if _, err := db.Exec(`DELETE FROM unit_links WHERE from_id = ?`, id); err != nil {
		return fmt.Errorf("clear links of %s: %w", id, err)
	}
	for _, to := range links {
		if to == id {
			continue
		}
		if _, err := db.Exec(`
			INSERT OR IGNORE INTO unit_links (from_id, to_id, created_at) VALUES (?, ?, ?)
		`, id, to, now); err != nil {
			return fmt.Errorf("insert link %s->%s: %w", id, to, err)
		}
		if _, err := db.Exec(`UPDATE units SET last_linked_at = ? WHERE id = ?`, now, to); err != nil {
			return fmt.Errorf("stamp link target %s: %w", to, err)
		}
	}
	return nil
}

const selectUnits = `
	SELECT id, kind, scope, summary, content, state, prior_state,
		trust_score, blessed, access_count, last_access, last_challenged_at, last_linked_at,
		links, lineage, checksum, created_at, updated_at
	FROM units`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (*Unit, error) {
	var u Unit
	var blessed int
	var priorState sql.NullString
	var lastAccess, lastChallenged, lastLinked sql.NullInt64
	var linksJSON, lineageJSON string

	err := row.Scan(&u.ID, &u.Kind, &u.Scope, &u.Summary, &u.Content, &u.State, &priorState,
		&u.TrustScore, &blessed, &u.AccessCount, &lastAccess, &lastChallenged, &lastLinked,
		&linksJSON, &lineageJSON, &u.Checksum, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}

	u.PriorState = priorState.String
	u.Blessed = blessed != 0
	if lastAccess.Valid {
		u.LastAccess = &lastAccess.Int64
	}
	if lastChallenged.Valid {
		u.LastChallengedAt = &lastChallenged.Int64
	}
	if lastLinked.Valid {
		u.LastLinkedAt = &lastLinked.Int64
	}
	if err := json.Unmarshal([]byte(linksJSON), &u.Links); err != nil {
		return nil, fmt.Errorf("decode links for %s: %w", u.ID, err)
	}
	if err := json.Unmarshal([]byte(lineageJSON), &u.Lineage); err != nil {
		return nil, fmt.Errorf("decode lineage for %s: %w", u.ID, err)
	}
	return &u, nil
}

func scanUnits(rows *sql.Rows) ([]Unit, error) {
	var units []Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		units = append(units, *u)
	}
	return units, rows.Err()
}

func marshalGraph(u *Unit) (links string, lineage string, err error) {
	if u.Links == nil {
		u.Links = []string{}
	}
	if u.Lineage == nil {
		u.Lineage = []string{}
	}
	lj, err := json.Marshal(u.Links)
	if err != nil {
		return "", "", fmt.Errorf("encode links: %w", err)
	}
	gj, err := json.Marshal(u.Lineage)
	if err != nil {
		return "", "", fmt.Errorf("encode lineage: %w", err)
	}
	return string(lj), string(gj), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
