package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/hochfrequenz/bundle-orch/internal/domain"
)

const consoleDetails = "see console for details"

var (
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
)

// Icons are the images attached to desktop notifications
type Icons struct {
	Good string
	Bad  string
}

// Sink reports pipeline outcomes to the operator. Every Notify method writes
// one log line and dispatches one notification in the background; delivery
// failures are logged at debug level and never reach the caller.
type Sink struct {
	log      zerolog.Logger
	notifier Notifier
	icons    Icons
	wg       sync.WaitGroup
}

// NewSink creates a sink delivering through notifier
func NewSink(logger zerolog.Logger, notifier Notifier, icons Icons) *Sink {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Sink{log: logger, notifier: notifier, icons: icons}
}

// NotifyBuildFailed reports a failed main build
func (s *Sink) NotifyBuildFailed() {
	s.log.Error().Msg(failStyle.Render("Build failed"))
	s.deliver(Notification{
		Title:   "Build failed",
		Message: consoleDetails,
		Type:    NotifyError,
		Sound:   true,
		Icon:    s.icons.Bad,
	})
}

// NotifyBuildPassed reports a successful main build
func (s *Sink) NotifyBuildPassed() {
	s.log.Info().Msg(passStyle.Render("Build complete"))
	s.deliver(Notification{
		Title:   "Build complete",
		Message: consoleDetails,
		Type:    NotifySuccess,
		Icon:    s.icons.Good,
	})
}

// NotifyTestsFailed reports a failed test run. Failures carrying a URL get a
// click-to-open notification.
func (s *Sink) NotifyTestsFailed(outcome domain.TestOutcome) {
	if outcome.Fatal {
		s.log.Error().Msg(failStyle.Render("Test runner failed to start"))
		s.deliver(Notification{
			Title:   "Test runner failed to start",
			Message: errorText(outcome.Err),
			Type:    NotifyError,
			Sound:   true,
			Icon:    s.icons.Bad,
		})
		return
	}

	s.log.Error().Msg(failStyle.Render("Tests failed"))
	n := Notification{
		Title:   "Tests failed",
		Message: consoleDetails,
		Type:    NotifyError,
		Sound:   true,
		Icon:    s.icons.Bad,
	}
	if outcome.URL != "" {
		n.Message = "Click to view in browser"
		n.Open = outcome.URL
	}
	s.deliver(n)
}

// NotifyTestsPassed reports a passing test run
func (s *Sink) NotifyTestsPassed() {
	s.log.Info().Msg(passStyle.Render("Tests passed"))
	s.deliver(Notification{
		Title:   "Tests passed",
		Message: consoleDetails,
		Type:    NotifySuccess,
		Icon:    s.icons.Good,
	})
}

// NotifyTestBuildFailed reports a test bundle that did not compile
func (s *Sink) NotifyTestBuildFailed() {
	s.log.Error().Msg(failStyle.Render("Test build failed"))
	s.deliver(Notification{
		Title:   "Test build failed",
		Message: consoleDetails,
		Type:    NotifyError,
		Sound:   true,
		Icon:    s.icons.Bad,
	})
}

// NotifyServerFailed reports a test server that could not start
func (s *Sink) NotifyServerFailed(err error) {
	s.log.Error().Msg(failStyle.Render("Test server failed to start"))
	s.deliver(Notification{
		Title:   "Test server failed",
		Message: errorText(err),
		Type:    NotifyError,
		Sound:   true,
		Icon:    s.icons.Bad,
	})
}

// Wait blocks until in-flight notifications are delivered or ctx is done
func (s *Sink) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) deliver(n Notification) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Debug().Str("title", n.Title).Msg(fmt.Sprintf("notification panicked: %v", r))
			}
		}()

		if err := s.notifier.Send(n); err != nil {
			s.log.Debug().Err(err).Str("title", n.Title).Msg("notification not delivered")
		}
	}()
}

func errorText(err error) string {
	if err == nil {
		return consoleDetails
	}
	return err.Error()
}
