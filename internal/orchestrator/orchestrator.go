// Package orchestrator sequences build, test server, test run and
// notifications into the named tasks.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hochfrequenz/bundle-orch/internal/domain"
)

// Task names
const (
	TaskDev   = "dev"
	TaskProd  = "prod"
	TaskWatch = "watch"
)

// Tasks lists the invocable task names
var Tasks = []string{TaskDev, TaskProd, TaskWatch}

// Builder invokes the bundler
type Builder interface {
	Build(ctx context.Context, cfg domain.BuildConfig) ([]domain.BuildResult, error)
	Watch(ctx context.Context, cfg domain.BuildConfig, bundle string) (<-chan domain.BuildResult, error)
}

// TestServer starts and stops the server the tests load their page from
type TestServer interface {
	Start(ctx context.Context, port int) (domain.ServerHandle, error)
	Stop(ctx context.Context, h domain.ServerHandle) error
}

// TestRunner runs the headless tests against a URL
type TestRunner interface {
	Run(ctx context.Context, url string) (domain.TestOutcome, error)
}

// Notifier surfaces outcomes to the operator. Implementations must not block.
type Notifier interface {
	NotifyBuildFailed()
	NotifyBuildPassed()
	NotifyTestsFailed(outcome domain.TestOutcome)
	NotifyTestsPassed()
	NotifyTestBuildFailed()
	NotifyServerFailed(err error)
}

// Publisher receives live pipeline events. Implementations must not block.
type Publisher interface {
	Publish(event domain.Event)
}

// Recorder persists finished runs
type Recorder interface {
	RecordRun(ctx context.Context, run *domain.Run) error
}

// Config holds the values threaded into every run
type Config struct {
	Port       int
	Host       string
	Page       string
	MainBundle string
	TestBundle string
}

// Deps are the collaborators of an Orchestrator. Publisher and Recorder are optional.
type Deps struct {
	Builder   Builder
	Server    TestServer
	Runner    TestRunner
	Notifier  Notifier
	Publisher Publisher
	Recorder  Recorder
}

// Orchestrator runs tasks
type Orchestrator struct {
	config Config
	deps   Deps
	log    zerolog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	state   domain.RunState
	lastRun *domain.Run
}

// New creates an orchestrator
func New(config Config, deps Deps, logger zerolog.Logger) *Orchestrator {
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Page == "" {
		config.Page = "index.html"
	}
	return &Orchestrator{
		config: config,
		deps:   deps,
		log:    logger.With().Str("component", "orchestrator").Logger(),
		now:    time.Now,
		state:  domain.StateIdle,
	}
}

// State returns the current pipeline state
func (o *Orchestrator) State() domain.RunState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// LastRun returns the most recently finished run, or nil
func (o *Orchestrator) LastRun() *domain.Run {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastRun
}

// Run executes the named task
func (o *Orchestrator) Run(ctx context.Context, task string) error {
	switch task {
	case TaskDev:
		return o.Dev(ctx)
	case TaskProd:
		return o.Prod(ctx)
	case TaskWatch:
		return o.Watch(ctx)
	default:
		return fmt.Errorf("unknown task %q (want one of %s)", task, strings.Join(Tasks, ", "))
	}
}

// Dev builds with source maps, then runs the tests once
func (o *Orchestrator) Dev(ctx context.Context) error {
	return o.RunOnce(ctx, TaskDev, domain.VariantDevelopment)
}

// Prod builds optimized bundles, then runs the tests once
func (o *Orchestrator) Prod(ctx context.Context) error {
	return o.RunOnce(ctx, TaskProd, domain.VariantProduction)
}

// RunOnce builds every bundle and, if all succeed, serves the tests and runs
// them. A server that was started is stopped before RunOnce returns, whatever
// the outcome. The returned error is a *domain.PipelineError.
func (o *Orchestrator) RunOnce(ctx context.Context, task string, variant domain.Variant) (err error) {
	cfg := domain.ConfigFor(variant, o.config.Port)
	run := &domain.Run{
		ID:        uuid.NewString(),
		Task:      task,
		Variant:   variant,
		StartedAt: o.now(),
	}
	defer func() { o.finish(ctx, run, err) }()

	o.log.Info().Str("task", task).Str("variant", string(variant)).Msg("Running task")

	o.transition(task, domain.StateBuilding)
	results, err := o.deps.Builder.Build(ctx, cfg)
	o.reportBuild(task, results)
	run.Warnings, run.Errors = domain.CountProblems(results)

	if err != nil {
		o.deps.Notifier.NotifyBuildFailed()
		o.transition(task, domain.StateBuildFailed)
		return &domain.PipelineError{Kind: domain.ProcessSpawnFailure, Task: task, Err: err}
	}
	if failed, ok := domain.FirstFailure(results); ok {
		o.deps.Notifier.NotifyBuildFailed()
		o.transition(task, domain.StateBuildFailed)
		return &domain.PipelineError{
			Kind: domain.BuildFailure,
			Task: task,
			Err:  fmt.Errorf("bundle %s: %d errors", failed.Bundle, len(failed.Problems())),
		}
	}

	o.transition(task, domain.StateServerStarting)
	handle, err := o.deps.Server.Start(ctx, cfg.Port)
	if err != nil {
		o.deps.Notifier.NotifyServerFailed(err)
		o.transition(task, domain.StateIdle)
		return &domain.PipelineError{Kind: domain.ServerStartFailure, Task: task, Err: err}
	}
	defer func() {
		o.transition(task, domain.StateServerStopping)
		o.stopServer(ctx, handle)
		o.transition(task, domain.StateIdle)
	}()

	o.transition(task, domain.StateTesting)
	url := o.testURL(handle.Port())
	outcome := o.runTests(ctx, task, url)

	run.TestURL = url
	exitCode := outcome.ExitCode
	run.TestExitCode = &exitCode

	if outcome.Passed {
		o.deps.Notifier.NotifyTestsPassed()
		o.transition(task, domain.StateTestsPassed)
		return nil
	}

	o.deps.Notifier.NotifyTestsFailed(outcome)
	o.transition(task, domain.StateTestsFailed)
	return testFailure(task, outcome)
}

// runTests runs the test runner, turning a panic into a fatal outcome so the
// caller's cleanup still runs
func (o *Orchestrator) runTests(ctx context.Context, task, url string) (outcome domain.TestOutcome) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("test runner panicked: %v", r)
			o.log.Error().Err(err).Msg("Fatal error")
			outcome = domain.TestsFatal(err)
		}
		o.publish(domain.Event{
			Type:   domain.EventTest,
			Task:   task,
			Passed: outcome.Passed,
			URL:    outcome.URL,
		})
	}()

	// A launch error is carried by the fatal outcome
	outcome, _ = o.deps.Runner.Run(ctx, url)
	return outcome
}

func (o *Orchestrator) stopServer(ctx context.Context, handle domain.ServerHandle) {
	if err := o.deps.Server.Stop(ctx, handle); err != nil {
		o.log.Warn().Err(err).Int("port", handle.Port()).Msg("stopping test server")
	}
}

func (o *Orchestrator) testURL(port int) string {
	return fmt.Sprintf("http://%s:%d/%s", o.config.Host, port, strings.TrimPrefix(o.config.Page, "/"))
}

func (o *Orchestrator) transition(task string, to domain.RunState) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()

	o.log.Debug().Str("task", task).Str("from", string(from)).Str("to", string(to)).Msg("state")
	o.publish(domain.Event{Type: domain.EventState, Task: task, State: to})
}

func (o *Orchestrator) publish(event domain.Event) {
	if o.deps.Publisher == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = o.now()
	}
	o.deps.Publisher.Publish(event)
}

func (o *Orchestrator) finish(ctx context.Context, run *domain.Run, err error) {
	finished := o.now()
	run.FinishedAt = &finished
	run.State = o.State()
	run.Failure = domain.KindOf(err)

	o.mu.Lock()
	o.lastRun = run
	o.mu.Unlock()

	if o.deps.Recorder == nil {
		return
	}
	if rerr := o.deps.Recorder.RecordRun(context.WithoutCancel(ctx), run); rerr != nil {
		o.log.Warn().Err(rerr).Str("run", run.ID).Msg("recording run")
	}
}

func testFailure(task string, outcome domain.TestOutcome) error {
	if outcome.Fatal {
		kind := domain.TestRunFailure
		if errors.Is(outcome.Err, domain.ErrSpawn) {
			kind = domain.ProcessSpawnFailure
		}
		return &domain.PipelineError{Kind: kind, Task: task, Err: outcome.Err}
	}
	return &domain.PipelineError{
		Kind: domain.TestRunFailure,
		Task: task,
		Err:  fmt.Errorf("tests exited with code %d, see %s", outcome.ExitCode, outcome.URL),
	}
}
