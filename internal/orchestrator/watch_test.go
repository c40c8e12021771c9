package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/hochfrequenz/bundle-orch/internal/domain"
)

func startWatch(t *testing.T, h *harness) (chan domain.BuildResult, chan domain.BuildResult, context.CancelFunc, <-chan error) {
	t.Helper()
	mainCh := make(chan domain.BuildResult)
	testCh := make(chan domain.BuildResult)
	h.builder.watch = map[string]chan domain.BuildResult{"main": mainCh, "test": testCh}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Watch(ctx) }()
	return mainCh, testCh, cancel, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
		return nil
	}
}

func TestWatch_MainFailureDoesNotAffectTests(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness()
	mainCh, testCh, cancel, done := startWatch(t, h)

	mainCh <- domain.BuildFailed("main", "syntax error")
	h.notifier.expect(t, "build_failed")

	testCh <- domain.BuildSuccess("test")
	h.notifier.expect(t, "tests_passed")

	mainCh <- domain.BuildSuccess("main")
	h.notifier.expect(t, "build_passed")

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Watch() = %v, want nil after cancel", err)
	}

	if urls := h.runner.calls(); len(urls) != 1 || urls[0] != "http://localhost:21113/index.html" {
		t.Errorf("runner urls = %v", urls)
	}
	if starts, stops := h.server.counts(); starts != 1 || stops != 1 {
		t.Errorf("server starts/stops = %d/%d, want 1/1", starts, stops)
	}
}

func TestWatch_TestBuildFailureSkipsRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness()
	_, testCh, cancel, done := startWatch(t, h)

	testCh <- domain.BuildFailed("test", "bad spec")
	h.notifier.expect(t, "test_build_failed")

	testCh <- domain.BuildSuccess("test")
	h.notifier.expect(t, "tests_passed")

	cancel()
	waitDone(t, done)

	if n := len(h.runner.calls()); n != 1 {
		t.Errorf("runner called %d times, want 1", n)
	}

	h.recorder.mu.Lock()
	defer h.recorder.mu.Unlock()
	if len(h.recorder.runs) != 2 {
		t.Fatalf("recorded %d runs, want 2", len(h.recorder.runs))
	}
	if h.recorder.runs[0].Failure != domain.TestBuildFailure {
		t.Errorf("first cycle Failure = %q, want test_build_failure", h.recorder.runs[0].Failure)
	}
	if !h.recorder.runs[1].Passed() {
		t.Errorf("second cycle should pass: %+v", h.recorder.runs[1])
	}
}

func TestWatch_TestsFailedCarriesURL(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness()
	h.runner.exitCode = 1
	_, testCh, cancel, done := startWatch(t, h)

	testCh <- domain.BuildSuccess("test")
	h.notifier.expect(t, "tests_failed")

	cancel()
	waitDone(t, done)

	h.notifier.mu.Lock()
	defer h.notifier.mu.Unlock()
	if url := h.notifier.outcomes[0].URL; url != "http://localhost:21113/index.html" {
		t.Errorf("failure URL = %q", url)
	}
}

func TestWatch_ServerFailureKeepsWatching(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness()
	h.server.startErr = errors.New("address already in use")
	mainCh, _, cancel, done := startWatch(t, h)

	h.notifier.expect(t, "server_failed")

	mainCh <- domain.BuildSuccess("main")
	h.notifier.expect(t, "build_passed")

	cancel()
	waitDone(t, done)

	if _, stops := h.server.counts(); stops != 0 {
		t.Errorf("server stopped %d times, want 0", stops)
	}
}

func TestWatch_ClosedChannelsEndWatch(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHarness()
	mainCh, testCh, cancel, done := startWatch(t, h)
	defer cancel()

	close(mainCh)
	close(testCh)

	if err := waitDone(t, done); err != nil {
		t.Errorf("Watch() = %v", err)
	}
	if _, stops := h.server.counts(); stops != 1 {
		t.Errorf("server stopped %d times, want 1", stops)
	}
}

func TestWatch_WatcherSetupError(t *testing.T) {
	h := newHarness()
	h.builder.watchErr = errors.New("watching src: no such file or directory")

	err := h.orch.Watch(context.Background())
	if domain.KindOf(err) != domain.BuildFailure {
		t.Fatalf("Watch() = %v, want build failure", err)
	}
	if starts, stops := h.server.counts(); starts != 1 || stops != 1 {
		t.Errorf("server starts/stops = %d/%d, want 1/1", starts, stops)
	}
}
