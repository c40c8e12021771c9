package domain

import "time"

// Run records one orchestration run of a named task
type Run struct {
	ID           string
	Task         string
	Variant      Variant
	State        RunState
	Failure      FailureKind
	Warnings     int
	Errors       int
	TestExitCode *int
	TestURL      string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// Passed reports whether the run completed without a failure
func (r *Run) Passed() bool {
	return r.Failure == "" && r.FinishedAt != nil
}

// Duration returns how long the run took, or zero while it is still going
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
