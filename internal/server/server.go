// Package server exposes the memory engine over HTTP. It also owns
// persistence policy: the engine state is saved after mutating requests
// and loaded once at startup.
package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/latticemem/lattice/internal/engine"
	"github.com/latticemem/lattice/internal/store"
)

// Server is the lattice HTTP API server.
type Server struct {
	engine  *engine.Engine
	db      *store.DB
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server. db may be nil; the server then runs without
// persistence.
func New(eng *engine.Engine, db *store.DB, version string) *Server {
	s := &Server{
		engine:  eng,
		db:      db,
		version: version,
		started: time.Now(),
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

		r.Post("/enrich", s.handleEnrich)
		r.Post("/output", s.handleOutput)
		r.Post("/decide", s.handleDecide)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handleUpdateSettings)

		r.Get("/stats", s.handleStats)
		r.Get("/decisions", s.handleDecisions)
		r.Get("/injections", s.handleInjections)

		r.Post("/clear", s.handleClear)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := false
	dbPath := ""
	if s.db != nil {
		dbPath = s.db.Path
		dbOK = s.db.Ping() == nil
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": dbPath,
	})
}

// persist saves the engine state after a mutating request. Persistence
// failures are logged, never surfaced to the caller; the in-memory engine
// remains authoritative.
func (s *Server) persist() {
	if s.db == nil {
		return
	}
	if err := s.db.SaveSnapshot(s.engine.Snapshot()); err != nil {
		log.Printf("persist: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
