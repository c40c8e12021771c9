package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hochfrequenz/bundle-orch/internal/domain"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"build failure", &domain.PipelineError{Kind: domain.BuildFailure, Task: "dev", Err: errors.New("2 errors")}, exitFailure},
		{"test failure", &domain.PipelineError{Kind: domain.TestRunFailure, Task: "dev", Err: errors.New("exit 1")}, exitFailure},
		{"server failure", &domain.PipelineError{Kind: domain.ServerStartFailure, Task: "prod", Err: errors.New("bind")}, exitFailure},
		{"spawn failure", &domain.PipelineError{Kind: domain.ProcessSpawnFailure, Task: "dev", Err: domain.ErrSpawn}, exitSpawn},
		{"bare spawn", fmt.Errorf("starting: %w", domain.ErrSpawn), exitSpawn},
		{"config", &configError{err: errors.New("server port 0 out of range")}, exitConfig},
		{"wrapped config", fmt.Errorf("setup: %w", &configError{err: errors.New("bad")}), exitConfig},
		{"other", context.Canceled, exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
