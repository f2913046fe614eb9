package store

import (
	"fmt"
	"log"
	"strings"
	"unicode"
)

// The lexical index is derived state: a term → unit posting list rebuilt
// from the units table. It can be dropped and regenerated at any time
// without data loss; the units table stays authoritative.

// Tokenize lowercases and splits text on non-alphanumeric runes, dropping
// single-character fragments.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

// MarkIndexDirty records one index-invalidating write in index_meta. The
// counter is persisted so the rebuild trigger carries across process
// restarts; a short-lived command's writes still count toward the next
// command's rebuild.
func (db *DB) MarkIndexDirty() {
	if _, err := db.Exec(`UPDATE index_meta SET dirty_writes = dirty_writes + 1 WHERE id = 1`); err != nil {
		log.Printf("store: mark index dirty: %v", err)
	}
}

// DirtyWrites returns the number of writes since the last rebuild.
func (db *DB) DirtyWrites() int {
	var n int
	if err := db.QueryRow(`SELECT dirty_writes FROM index_meta WHERE id = 1`).Scan(&n); err != nil {
		log.Printf("store: read dirty writes: %v", err)
	}
	return n
}

// MaybeRebuildIndex rebuilds when the dirty-write count has reached the
// threshold. Readers racing a rebuild see a stale index, which is bounded
// by exactly this trigger.
func (db *DB) MaybeRebuildIndex(threshold int) error {
	if threshold <= 0 {
		threshold = 1
	}
	if db.DirtyWrites() < threshold {
		return nil
	}
	return db.RebuildIndex()
}

// RebuildIndex regenerates the posting list from scratch. Rebuilds are
// serialized; concurrent reads proceed against whichever postings are
// committed.
func (db *DB) RebuildIndex() error {
	db.indexMu.Lock()
	defer db.indexMu.Unlock()

	units, err := db.ListUnits()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin index rebuild: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM index_terms`); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear index: %w", err)
	}

	for _, u := range units {
		// Skeletons keep their links but have no body worth indexing
		// beyond the summary; deleted units never reach here (their
		// rows live in quarantine).
		freqs := make(map[string]int)
		for _, term := range Tokenize(u.Summary + " " + u.Content) {
			freqs[term]++
		}
		for term, freq := range freqs {
			if _, err := tx.Exec(`
				INSERT INTO index_terms (term, unit_id, freq) VALUES (?, ?, ?)
			`, term, u.ID, freq); err != nil {
				tx.Rollback()
				return fmt.Errorf("index term %q for %s: %w", term, u.ID, err)
			}
		}
	}

	if _, err := tx.Exec(`UPDATE index_meta SET dirty_writes = 0 WHERE id = 1`); err != nil {
		tx.Rollback()
		return fmt.Errorf("reset dirty writes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index rebuild: %w", err)
	}
	return nil
}

// Postings returns term → unit id → frequency for the given terms.
func (db *DB) Postings(terms []string) (map[string]map[string]int, error) {
	postings := make(map[string]map[string]int, len(terms))
	if len(terms) == 0 {
		return postings, nil
	}

	placeholders := ""
	args := make([]any, len(terms))
	for i, t := range terms {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = t
	}

	rows, err := db.Query(fmt.Sprintf(`
		SELECT term, unit_id, freq FROM index_terms WHERE term IN (%s)
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("query postings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var term, unitID string
		var freq int
		if err := rows.Scan(&term, &unitID, &freq); err != nil {
			return nil, fmt.Errorf("scan posting: %w", err)
		}
		if postings[term] == nil {
			postings[term] = make(map[string]int)
		}
		postings[term][unitID] = freq
	}
	return postings, rows.Err()
}

// IndexedUnits returns the distinct unit ids present in the index.
func (db *DB) IndexedUnits() (map[string]bool, error) {
	rows, err := db.Query(`SELECT DISTINCT unit_id FROM index_terms`)
	if err != nil {
		return nil, fmt.Errorf("list indexed units: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}
