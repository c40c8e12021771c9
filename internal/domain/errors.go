package domain

import (
	"errors"
	"fmt"
)

// ErrSpawn marks failures to launch an external process
var ErrSpawn = errors.New("process could not be started")

// FailureKind classifies pipeline failures
type FailureKind string

const (
	BuildFailure        FailureKind = "build_failure"
	ServerStartFailure  FailureKind = "server_start_failure"
	TestRunFailure      FailureKind = "test_run_failure"
	TestBuildFailure    FailureKind = "test_build_failure"
	ProcessSpawnFailure FailureKind = "process_spawn_failure"
)

// PipelineError is returned by a task that ended in failure
type PipelineError struct {
	Kind FailureKind
	Task string
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Task, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Task, e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind carried by err, or "" if none
func KindOf(err error) FailureKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, ErrSpawn) {
		return ProcessSpawnFailure
	}
	return ""
}
