package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lazypower/reef/internal/engine"
	"github.com/lazypower/reef/internal/store"
)

func TestCreateUnit(t *testing.T) {
	srv, _ := testServer(t)

	body := `{"kind":"decision","scope":"project","summary":"use WAL mode","content":"journal_mode=WAL for all databases"}`
	req := httptest.NewRequest("POST", "/api/units", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var u store.Unit
	if err := json.Unmarshal(w.Body.Bytes(), &u); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if u.ID == "" {
		t.Error("created unit has no id")
	}
	if u.State != store.StateDrifting {
		t.Errorf("state = %s, want drifting", u.State)
	}
	if u.Checksum == "" {
		t.Error("created unit has no checksum")
	}
}

func TestCreateUnitRejectsBadKind(t *testing.T) {
	srv, _ := testServer(t)

	body := `{"kind":"vibe","scope":"project","summary":"nope"}`
	req := httptest.NewRequest("POST", "/api/units", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGetUnit(t *testing.T) {
	srv, db := testServer(t)

	u := store.Unit{ID: "fetch-me", Kind: store.KindFact, Scope: store.ScopeProject, Summary: "a fact"}
	if err := db.CreateUnit(&u); err != nil {
		t.Fatalf("CreateUnit: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/units/fetch-me", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	req = httptest.NewRequest("GET", "/api/units/no-such-unit", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestSurfaceEndpoint(t *testing.T) {
	srv, db := testServer(t)

	u := store.Unit{ID: "surf-1", Kind: store.KindFact, Scope: store.ScopeProject, Summary: "sqlite wal checkpoint tuning"}
	if err := db.CreateUnit(&u); err != nil {
		t.Fatalf("CreateUnit: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/surface?q=wal+checkpoint&fresh=true", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Count   int                    `json:"count"`
		Results []engine.SurfaceResult `json:"results"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Count != 1 || resp.Results[0].ID != "surf-1" {
		t.Errorf("resp = %+v, want surf-1", resp)
	}

	// Surfacing feeds back into the access count.
	got, _ := db.GetUnit("surf-1")
	if got.AccessCount != 1 {
		t.Errorf("access count = %d, want 1", got.AccessCount)
	}
}

func TestSurfaceRejectsBadTier(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest("GET", "/api/surface?q=x&tier=9", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestBlessEndpoint(t *testing.T) {
	srv, db := testServer(t)

	u := store.Unit{ID: "bless-me", Kind: store.KindConstraint, Scope: store.ScopeProject, Summary: "no force pushes"}
	if err := db.CreateUnit(&u); err != nil {
		t.Fatalf("CreateUnit: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/units/bless-me/bless", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	got, _ := db.GetUnit("bless-me")
	if !got.Blessed {
		t.Error("unit not blessed")
	}
}

func TestRestoreEndpoint(t *testing.T) {
	srv, db := testServer(t)

	u := store.Unit{ID: "bring-back", Kind: store.KindFact, Scope: store.ScopeProject, Summary: "deleted fact", Content: "still useful"}
	if err := db.CreateUnit(&u); err != nil {
		t.Fatalf("CreateUnit: %v", err)
	}
	expires := time.Now().Add(7 * 24 * time.Hour).UnixMilli()
	if err := db.QuarantineUnit(&u, "stale", expires); err != nil {
		t.Fatalf("QuarantineUnit: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/units/bring-back/restore", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	got, _ := db.GetUnit("bring-back")
	if got == nil || got.Content != "still useful" {
		t.Errorf("restored unit = %+v", got)
	}

	// A second restore has nothing to work with.
	req = httptest.NewRequest("POST", "/api/units/bring-back/restore", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAuditEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	body := `{"kind":"fact","scope":"session","summary":"ephemeral note"}`
	req := httptest.NewRequest("POST", "/api/units", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/audit?since=1h", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Count   int                `json:"count"`
		Entries []store.AuditEntry `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Count != 1 || resp.Entries[0].Op != store.AuditOpCreate {
		t.Errorf("resp = %+v, want one create entry", resp)
	}

	req = httptest.NewRequest("GET", "/api/audit?since=banana", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
