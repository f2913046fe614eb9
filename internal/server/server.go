// Package server exposes the reef store over a local HTTP API: surfacing,
// unit management, the audit trail, and Prometheus metrics.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lazypower/reef/internal/config"
	"github.com/lazypower/reef/internal/engine"
	"github.com/lazypower/reef/internal/metrics"
	"github.com/lazypower/reef/internal/store"
)

// Server is the reef HTTP API server.
type Server struct {
	db       *store.DB
	cfg      config.Config
	router   chi.Router
	surfacer *engine.Surfacer
	guard    *engine.Guard
	prom     *metrics.PromCollector
	version  string
	started  time.Time
}

// New creates a Server wired to the given database.
func New(db *store.DB, cfg config.Config, version string) *Server {
	prom := metrics.NewPromCollector()
	s := &Server{
		db:       db,
		cfg:      cfg,
		surfacer: engine.NewSurfacer(db, cfg, prom),
		guard:    engine.NewGuard(db, cfg.Safety, prom),
		prom:     prom,
		version:  version,
		started:  time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/surface", s.handleSurface)
		r.Get("/audit", s.handleAudit)

		r.Post("/units", s.handleCreateUnit)
		r.Get("/units/{unitID}", s.handleGetUnit)
		r.Post("/units/{unitID}/bless", s.handleBless)
		r.Post("/units/{unitID}/restore", s.handleRestore)
	})

	r.Handle("/metrics", s.prom.Handler())

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	health, err := engine.HealthSnapshot(s.db, s.prom)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime":         time.Since(s.started).Seconds(),
		"db":             dbOK,
		"db_path":        s.db.Path,
		"units_by_state": health.ByState,
		"quarantined":    health.Quarantined,
		"decay_rate_7d":  health.DecayRate7d,
	})
}
