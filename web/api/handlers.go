package api

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/bundle-orch/internal/domain"
	"github.com/hochfrequenz/bundle-orch/internal/history"
)

const defaultRunLimit = 20

// RunResponse is the API response for a run
type RunResponse struct {
	ID           string  `json:"id"`
	Task         string  `json:"task"`
	Variant      string  `json:"variant"`
	State        string  `json:"state"`
	Passed       bool    `json:"passed"`
	Failure      string  `json:"failure,omitempty"`
	Warnings     int     `json:"warnings"`
	Errors       int     `json:"errors"`
	TestExitCode *int    `json:"test_exit_code,omitempty"`
	TestURL      string  `json:"test_url,omitempty"`
	StartedAt    string  `json:"started_at"`
	FinishedAt   *string `json:"finished_at,omitempty"`
	Duration     string  `json:"duration"`
}

// StatusResponse is the API response for the live status
type StatusResponse struct {
	State   string       `json:"state"`
	Clients int          `json:"clients"`
	LastRun *RunResponse `json:"last_run,omitempty"`
}

func runToResponse(r *domain.Run) RunResponse {
	resp := RunResponse{
		ID:           r.ID,
		Task:         r.Task,
		Variant:      string(r.Variant),
		State:        string(r.State),
		Passed:       r.Passed(),
		Failure:      string(r.Failure),
		Warnings:     r.Warnings,
		Errors:       r.Errors,
		TestExitCode: r.TestExitCode,
		TestURL:      r.TestURL,
		StartedAt:    r.StartedAt.Format(time.RFC3339),
		Duration:     r.Duration().Round(time.Millisecond).String(),
	}
	if r.FinishedAt != nil {
		t := r.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &t
	}
	return resp
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		status := StatusResponse{
			State:   string(s.status.State()),
			Clients: s.hub.Clients(),
		}
		if last := s.status.LastRun(); last != nil {
			resp := runToResponse(last)
			status.LastRun = &resp
		}
		writeJSON(w, status)
	}
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.runs == nil {
			writeError(w, http.StatusServiceUnavailable, "history is disabled")
			return
		}

		opts := history.ListOptions{
			Task:  r.URL.Query().Get("task"),
			Limit: defaultRunLimit,
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 1 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			opts.Limit = limit
		}

		runs, err := s.runs.ListRuns(r.Context(), opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := make([]RunResponse, len(runs))
		for i, run := range runs {
			resp[i] = runToResponse(run)
		}
		writeJSON(w, resp)
	}
}

func (s *Server) getRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.runs == nil {
			writeError(w, http.StatusServiceUnavailable, "history is disabled")
			return
		}

		id := strings.TrimPrefix(r.URL.Path, "/runs/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "run ID required")
			return
		}

		run, err := s.runs.GetRun(r.Context(), id)
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, runToResponse(run))
	}
}
