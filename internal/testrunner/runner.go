// Package testrunner launches the headless browser test process and
// classifies its exit status.
package testrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/hochfrequenz/bundle-orch/internal/domain"
)

// Config configures the test runner process
type Config struct {
	Command  string
	Reporter string
	Args     []string
	Dir      string
	Env      []string
	Timeout  time.Duration
}

// Runner runs the headless test process against a page URL
type Runner struct {
	config Config
	log    zerolog.Logger
}

// New creates a test runner invoker
func New(config Config, logger zerolog.Logger) *Runner {
	return &Runner{
		config: config,
		log:    logger.With().Str("component", "testrunner").Logger(),
	}
}

// Args returns the command-line arguments for a run against url
func (r *Runner) Args(url string) []string {
	var args []string
	if r.config.Reporter != "" {
		args = append(args, "-R", r.config.Reporter)
	}
	args = append(args, r.config.Args...)
	return append(args, url)
}

// Run launches the test process and waits for it. Exit code 0 is a pass, any
// other exit code a failure carrying url. If the process cannot be launched
// the outcome is fatal and the returned error wraps domain.ErrSpawn.
func (r *Runner) Run(ctx context.Context, url string) (domain.TestOutcome, error) {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	r.log.Info().Str("url", url).Msg("Starting unit tests")

	cmd := exec.CommandContext(ctx, r.config.Command, r.Args(url)...)
	cmd.Dir = r.config.Dir
	cmd.Env = append(os.Environ(), r.config.Env...)

	stdout := &lineLogger{log: r.log, stream: "stdout"}
	stderr := &lineLogger{log: r.log, stream: "stderr"}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return r.fatal(fmt.Errorf("starting test runner %s: %w: %w", r.config.Command, domain.ErrSpawn, err))
	}

	err := cmd.Wait()
	stdout.Flush()
	stderr.Flush()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return r.fatal(fmt.Errorf("test runner failed: %w", err))
		}
		exitCode = exitErr.ExitCode()
	}

	if ctx.Err() == context.DeadlineExceeded {
		r.log.Warn().Dur("timeout", r.config.Timeout).Msg("test runner timed out")
	}
	r.log.Info().Int("exit_code", exitCode).Msgf("Test runner exited with code %d", exitCode)
	r.log.Info().Msg("Unit tests finished")

	if exitCode == 0 {
		return domain.TestsPassed(), nil
	}
	return domain.TestsFailed(exitCode, url), nil
}

func (r *Runner) fatal(err error) (domain.TestOutcome, error) {
	r.log.Error().Err(err).Msg("Fatal error")
	return domain.TestsFatal(err), err
}

// lineLogger logs process output one line at a time
type lineLogger struct {
	log    zerolog.Logger
	stream string
	buf    []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.emit(l.buf[:i])
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}

// Flush logs a trailing line without newline
func (l *lineLogger) Flush() {
	if len(l.buf) > 0 {
		l.emit(l.buf)
		l.buf = nil
	}
}

func (l *lineLogger) emit(line []byte) {
	l.log.Info().Str("stream", l.stream).Msg(string(bytes.TrimRight(line, "\r")))
}
