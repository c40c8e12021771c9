package main

import (
	"errors"

	"github.com/hochfrequenz/bundle-orch/internal/domain"
)

// Process exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2
	exitSpawn   = 3
)

// configError marks errors in loading or validating configuration
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return exitConfig
	}
	if domain.KindOf(err) == domain.ProcessSpawnFailure {
		return exitSpawn
	}
	return exitFailure
}
