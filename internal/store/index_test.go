package store

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	got := Tokenize("Use SQLite, not Postgres! v2")
	want := []string{"use", "sqlite", "not", "postgres", "v2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokenize = %v, want %v", got, want)
	}
}

func TestRebuildIndexAndPostings(t *testing.T) {
	db := testDB(t)

	a := &Unit{Kind: KindFact, Scope: ScopeProject, Summary: "sqlite storage", Content: "sqlite keeps things simple"}
	b := &Unit{Kind: KindFact, Scope: ScopeProject, Summary: "postgres rejected", Content: "too heavy"}
	db.CreateUnit(a)
	db.CreateUnit(b)

	if err := db.RebuildIndex(); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}

	postings, err := db.Postings([]string{"sqlite", "postgres"})
	if err != nil {
		t.Fatalf("Postings: %v", err)
	}
	if postings["sqlite"][a.ID] != 2 {
		t.Errorf("sqlite freq for a = %d, want 2", postings["sqlite"][a.ID])
	}
	if _, ok := postings["sqlite"][b.ID]; ok {
		t.Error("b should not match sqlite")
	}
	if postings["postgres"][b.ID] != 1 {
		t.Errorf("postgres freq for b = %d, want 1", postings["postgres"][b.ID])
	}
}

func TestIndexRebuildableFromScratch(t *testing.T) {
	db := testDB(t)

	u := &Unit{Kind: KindFact, Scope: ScopeProject, Summary: "resilient index"}
	db.CreateUnit(u)
	db.RebuildIndex()

	// Simulate index loss; the store remains authoritative.
	if _, err := db.Exec(`DELETE FROM index_terms`); err != nil {
		t.Fatal(err)
	}

	if err := db.RebuildIndex(); err != nil {
		t.Fatalf("RebuildIndex after loss: %v", err)
	}
	ids, _ := db.IndexedUnits()
	if !ids[u.ID] {
		t.Error("unit missing from regenerated index")
	}
}

func TestMaybeRebuildIndexThreshold(t *testing.T) {
	db := testDB(t)

	u := &Unit{Kind: KindFact, Scope: ScopeProject, Summary: "threshold test"}
	db.CreateUnit(u) // 1 dirty write

	if err := db.MaybeRebuildIndex(5); err != nil {
		t.Fatalf("MaybeRebuildIndex: %v", err)
	}
	if ids, _ := db.IndexedUnits(); len(ids) != 0 {
		t.Error("rebuild should not trigger below threshold")
	}

	for i := 0; i < 4; i++ {
		db.MarkIndexDirty()
	}
	if err := db.MaybeRebuildIndex(5); err != nil {
		t.Fatalf("MaybeRebuildIndex: %v", err)
	}
	if ids, _ := db.IndexedUnits(); !ids[u.ID] {
		t.Error("rebuild should trigger at threshold")
	}
	if db.DirtyWrites() != 0 {
		t.Errorf("dirty writes = %d, want 0 after rebuild", db.DirtyWrites())
	}
}

func TestDirtyWritesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reef.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 3; i++ {
		u := &Unit{Kind: KindFact, Scope: ScopeProject, Summary: "restart survivor"}
		if err := db.CreateUnit(u); err != nil {
			t.Fatalf("CreateUnit: %v", err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if n := db.DirtyWrites(); n != 3 {
		t.Errorf("dirty writes after reopen = %d, want 3", n)
	}
	if err := db.MaybeRebuildIndex(3); err != nil {
		t.Fatalf("MaybeRebuildIndex: %v", err)
	}
	if ids, _ := db.IndexedUnits(); len(ids) != 3 {
		t.Errorf("indexed units = %d, want 3 after threshold rebuild", len(ids))
	}
}

func TestEmptyContentMarksIndexDirty(t *testing.T) {
	db := testDB(t)

	u := &Unit{Kind: KindFact, Scope: ScopeProject, Summary: "skeleton soon", Content: "ancient wisdom"}
	if err := db.CreateUnit(u); err != nil {
		t.Fatalf("CreateUnit: %v", err)
	}
	if err := db.RebuildIndex(); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}

	if err := db.EmptyContent(u.ID); err != nil {
		t.Fatalf("EmptyContent: %v", err)
	}
	if n := db.DirtyWrites(); n != 1 {
		t.Errorf("dirty writes = %d, want 1 after skeletonizing", n)
	}

	if err := db.MaybeRebuildIndex(1); err != nil {
		t.Fatalf("MaybeRebuildIndex: %v", err)
	}
	postings, err := db.Postings([]string{"ancient"})
	if err != nil {
		t.Fatalf("Postings: %v", err)
	}
	if len(postings["ancient"]) != 0 {
		t.Error("emptied body terms still searchable after rebuild")
	}
}
