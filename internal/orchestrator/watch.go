package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/bundle-orch/internal/domain"
)

// Watch starts the test server, then rebuilds the main and test bundles on
// every source change until ctx is done. Main bundle results only notify;
// a successful test bundle triggers a test run against the live server.
// The server stays up for the whole session and is stopped once ctx is done.
func (o *Orchestrator) Watch(ctx context.Context) error {
	const task = TaskWatch
	cfg := domain.ConfigFor(domain.VariantDevelopment, o.config.Port)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.transition(task, domain.StateServerStarting)
	url := o.testURL(cfg.Port)
	handle, err := o.deps.Server.Start(ctx, cfg.Port)
	if err != nil {
		// Keep watching; tests will fail to load until the port frees up
		o.log.Debug().Err(err).Msg("watching without test server")
		o.deps.Notifier.NotifyServerFailed(err)
	} else {
		url = o.testURL(handle.Port())
		defer func() {
			o.transition(task, domain.StateServerStopping)
			o.stopServer(ctx, handle)
			o.transition(task, domain.StateIdle)
		}()
	}

	mainResults, err := o.deps.Builder.Watch(ctx, cfg, o.config.MainBundle)
	if err != nil {
		return watchError(task, err)
	}
	testResults, err := o.deps.Builder.Watch(ctx, cfg, o.config.TestBundle)
	if err != nil {
		return watchError(task, err)
	}

	o.transition(task, domain.StateWatching)
	o.log.Info().
		Str("main", o.config.MainBundle).
		Str("test", o.config.TestBundle).
		Str("url", url).
		Msg("Watching for changes")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o.watchMain(gctx, mainResults)
		return nil
	})
	g.Go(func() error {
		o.watchTests(gctx, testResults, url)
		return nil
	})
	return g.Wait()
}

func (o *Orchestrator) watchMain(ctx context.Context, results <-chan domain.BuildResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-results:
			if !ok {
				return
			}
			o.reportBuild(TaskWatch, []domain.BuildResult{result})
			if result.OK() {
				o.deps.Notifier.NotifyBuildPassed()
			} else {
				o.deps.Notifier.NotifyBuildFailed()
			}
		}
	}
}

func (o *Orchestrator) watchTests(ctx context.Context, results <-chan domain.BuildResult, url string) {
	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-results:
			if !ok {
				return
			}
			o.testCycle(ctx, result, url)
		}
	}
}

// testCycle handles one test bundle rebuild and records it as a run
func (o *Orchestrator) testCycle(ctx context.Context, result domain.BuildResult, url string) {
	var err error
	run := &domain.Run{
		ID:        uuid.NewString(),
		Task:      TaskWatch,
		Variant:   domain.VariantDevelopment,
		StartedAt: o.now(),
		Warnings:  len(result.Warnings),
		Errors:    len(result.Problems()),
	}
	defer func() { o.finish(ctx, run, err) }()

	o.reportBuild(TaskWatch, []domain.BuildResult{result})
	if !result.OK() {
		o.deps.Notifier.NotifyTestBuildFailed()
		err = &domain.PipelineError{
			Kind: domain.TestBuildFailure,
			Task: TaskWatch,
			Err:  fmt.Errorf("bundle %s: %d errors", result.Bundle, len(result.Problems())),
		}
		return
	}

	outcome := o.runTests(ctx, TaskWatch, url)
	run.TestURL = url
	exitCode := outcome.ExitCode
	run.TestExitCode = &exitCode

	if outcome.Passed {
		o.deps.Notifier.NotifyTestsPassed()
		return
	}
	o.deps.Notifier.NotifyTestsFailed(outcome)
	err = testFailure(TaskWatch, outcome)
}

func watchError(task string, err error) error {
	kind := domain.KindOf(err)
	if kind == "" {
		kind = domain.BuildFailure
	}
	return &domain.PipelineError{Kind: kind, Task: task, Err: err}
}
