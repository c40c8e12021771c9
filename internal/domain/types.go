package domain

// Variant names a build configuration variant
type Variant string

const (
	VariantDevelopment Variant = "development"
	VariantProduction  Variant = "production"
)

// Valid reports whether v is a known variant
func (v Variant) Valid() bool {
	return v == VariantDevelopment || v == VariantProduction
}

// RunState represents the orchestrator's position in a pipeline
type RunState string

const (
	StateIdle           RunState = "idle"
	StateBuilding       RunState = "building"
	StateBuildFailed    RunState = "build_failed"
	StateServerStarting RunState = "server_starting"
	StateTesting        RunState = "testing"
	StateTestsPassed    RunState = "tests_passed"
	StateTestsFailed    RunState = "tests_failed"
	StateServerStopping RunState = "server_stopping"
	StateWatching       RunState = "watching"
)

// Terminal reports whether a one-shot run ends in this state
func (s RunState) Terminal() bool {
	return s == StateIdle || s == StateBuildFailed
}

// ServerState is the lifecycle state of a test server handle
type ServerState string

const (
	ServerStopped ServerState = "stopped"
	ServerRunning ServerState = "running"
)

// ServerHandle is a live binding of the test server to a port
type ServerHandle interface {
	Port() int
	State() ServerState
}
