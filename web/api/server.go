// Package api serves pipeline status, run history and live events over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hochfrequenz/bundle-orch/internal/domain"
	"github.com/hochfrequenz/bundle-orch/internal/history"
)

// MountPath is where the API is mounted on the test server
const MountPath = "/__orch/"

// Status reports the orchestrator's live state
type Status interface {
	State() domain.RunState
	LastRun() *domain.Run
}

// RunStore reads persisted runs
type RunStore interface {
	ListRuns(ctx context.Context, opts history.ListOptions) ([]*domain.Run, error)
	GetRun(ctx context.Context, id string) (*domain.Run, error)
}

// Server is the HTTP API
type Server struct {
	status   Status
	runs     RunStore
	hub      *Hub
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	log      zerolog.Logger

	pingInterval time.Duration
}

// NewServer creates a new API server streaming events from hub. runs may be
// nil when history is disabled.
func NewServer(status Status, runs RunStore, hub *Hub, logger zerolog.Logger) *Server {
	s := &Server{
		status: status,
		runs:   runs,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux:          http.NewServeMux(),
		log:          logger.With().Str("component", "api").Logger(),
		pingInterval: 30 * time.Second,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/status", s.statusHandler())
	s.mux.HandleFunc("/runs", s.listRunsHandler())
	s.mux.HandleFunc("/runs/", s.getRunHandler())
	s.mux.HandleFunc("/events", s.sseHandler())
	s.mux.HandleFunc("/live", s.liveHandler())
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
