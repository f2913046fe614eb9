package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lazypower/reef/internal/engine"
	"github.com/lazypower/reef/internal/store"
)

func (s *Server) handleSurface(w http.ResponseWriter, r *http.Request) {
	q := engine.SurfaceQuery{
		Text:  r.URL.Query().Get("q"),
		Fresh: r.URL.Query().Get("fresh") == "true",
	}
	if b := r.URL.Query().Get("budget"); b != "" {
		if n, err := strconv.Atoi(b); err == nil && n > 0 {
			q.Budget = n
		}
	}
	if tier := r.URL.Query().Get("tier"); tier != "" {
		if n, err := strconv.Atoi(tier); err == nil && n >= engine.TierSummary && n <= engine.TierLinked {
			q.Tier = n
		} else {
			http.Error(w, `{"error":"tier must be 1, 2, or 3"}`, http.StatusBadRequest)
			return
		}
	}
	if expand := r.URL.Query().Get("expand"); expand != "" {
		q.Expand = strings.Split(expand, ",")
	}

	results, err := s.surfacer.Surface(q)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []engine.SurfaceResult{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"count":   len(results),
		"results": results,
	})
}

func (s *Server) handleCreateUnit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind    string   `json:"kind"`
		Scope   string   `json:"scope"`
		Summary string   `json:"summary"`
		Content string   `json:"content"`
		Links   []string `json:"links"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	u := store.Unit{
		Kind:    req.Kind,
		Scope:   req.Scope,
		Summary: req.Summary,
		Content: req.Content,
		Links:   req.Links,
	}
	if err := s.db.CreateUnit(&u); err != nil {
		var verr *store.ValidationError
		if errors.As(err, &verr) {
			http.Error(w, `{"error":"`+verr.Error()+`"}`, http.StatusBadRequest)
			return
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if err := s.db.AppendAudit(&store.AuditEntry{
		Op:         store.AuditOpCreate,
		UnitID:     u.ID,
		Actor:      "human",
		AfterState: u.State,
	}); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(u)
}

func (s *Server) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "unitID")

	u, err := s.db.GetUnit(unitID)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if u == nil {
		http.Error(w, `{"error":"unit not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(u)
}

func (s *Server) handleBless(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "unitID")

	u, err := s.db.GetUnit(unitID)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if u == nil {
		http.Error(w, `{"error":"unit not found"}`, http.StatusNotFound)
		return
	}

	if err := s.db.Bless(unitID); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if err := s.db.AppendAudit(&store.AuditEntry{
		Op:     store.AuditOpUpdate,
		UnitID: unitID,
		Actor:  "human",
		Reason: "blessed",
	}); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "blessed"})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	unitID := chi.URLParam(r, "unitID")

	u, err := s.guard.Restore(unitID, "human")
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, `{"error":"nothing restorable for `+unitID+`"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "restored",
		"unit":   u,
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	var since int64
	if d := r.URL.Query().Get("since"); d != "" {
		dur, err := time.ParseDuration(d)
		if err != nil {
			http.Error(w, `{"error":"since must be a duration like 24h"}`, http.StatusBadRequest)
			return
		}
		since = time.Now().Add(-dur).UnixMilli()
	}

	entries, err := s.db.ListAudit(since)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []store.AuditEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}
