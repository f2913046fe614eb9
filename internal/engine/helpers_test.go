package engine

import (
	"testing"
	"time"

	"github.com/lazypower/reef/internal/config"
	"github.com/lazypower/reef/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mkUnit(t *testing.T, db *store.DB, u store.Unit) store.Unit {
	t.Helper()
	if u.Kind == "" {
		u.Kind = store.KindFact
	}
	if u.Scope == "" {
		u.Scope = store.ScopeProject
	}
	if u.Summary == "" {
		u.Summary = "summary of " + u.ID
	}
	if err := db.CreateUnit(&u); err != nil {
		t.Fatalf("create unit %s: %v", u.ID, err)
	}
	return u
}

// backdate shifts a unit's creation and update stamps into the past so
// age-driven scoring can be exercised without waiting. The stamp is
// truncated to day granularity so units backdated by the same amount score
// identically.
func backdate(t *testing.T, db *store.DB, id string, days int) {
	t.Helper()
	then := time.Now().Truncate(24*time.Hour).AddDate(0, 0, -days).UnixMilli()
	if _, err := db.Exec(`UPDATE units SET created_at = ?, updated_at = ? WHERE id = ?`, then, then, id); err != nil {
		t.Fatalf("backdate %s: %v", id, err)
	}
}

func daysAgoMillis(days int) int64 {
	return time.Now().AddDate(0, 0, -days).UnixMilli()
}

func testCfg() config.Config {
	return config.Default()
}
