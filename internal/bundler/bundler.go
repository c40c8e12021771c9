// Package bundler invokes the external bundler and turns its JSON stats into
// build results, once per run or continuously on file changes.
package bundler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/bundle-orch/internal/domain"
)

// Bundle is one named configuration of the bundler
type Bundle struct {
	Name       string
	WatchPaths []string
}

// Config configures the bundler invocation
type Config struct {
	Command    string
	ConfigFile string
	Args       []string
	Dir        string
	Bundles    []Bundle
	Debounce   time.Duration

	// Ignore lists output directories, relative to Dir, that never
	// trigger a rebuild
	Ignore []string
}

// Bundler runs the external bundler
type Bundler struct {
	config Config
	log    zerolog.Logger
}

// New creates a bundler invoker
func New(config Config, logger zerolog.Logger) *Bundler {
	if config.Debounce <= 0 {
		config.Debounce = 200 * time.Millisecond
	}
	return &Bundler{
		config: config,
		log:    logger.With().Str("component", "bundler").Logger(),
	}
}

// Args returns the command-line arguments for building one bundle
func (b *Bundler) Args(cfg domain.BuildConfig, bundle string) []string {
	var args []string
	if b.config.ConfigFile != "" {
		args = append(args, "--config", b.config.ConfigFile)
	}
	args = append(args, "--config-name", bundle, "--json", "--mode", string(cfg.Variant))

	if cfg.SourceMap {
		args = append(args, "--devtool", "source-map")
	}
	if cfg.Optimize {
		args = append(args, "--optimization-minimize")
	}
	if cfg.OutputFilename != "" {
		args = append(args, "--output-filename", cfg.OutputFilename)
	}
	return append(args, b.config.Args...)
}

// Env returns the child environment for a build
func (b *Bundler) Env(cfg domain.BuildConfig) []string {
	return append(os.Environ(),
		fmt.Sprintf("NODE_ENV=%s", cfg.Variant),
		fmt.Sprintf("NODE_PORT=%d", cfg.Port),
	)
}

// Build bundles every configured bundle concurrently and returns one result
// per bundle in configuration order. The error is non-nil only when the
// bundler could not be launched.
func (b *Bundler) Build(ctx context.Context, cfg domain.BuildConfig) ([]domain.BuildResult, error) {
	results := make([]domain.BuildResult, len(b.config.Bundles))

	var g errgroup.Group
	for i, bundle := range b.config.Bundles {
		g.Go(func() error {
			result, err := b.BuildBundle(ctx, cfg, bundle.Name)
			results[i] = result
			return err
		})
	}

	return results, g.Wait()
}

// BuildBundle runs the bundler once for a single bundle
func (b *Bundler) BuildBundle(ctx context.Context, cfg domain.BuildConfig, bundle string) (domain.BuildResult, error) {
	start := time.Now()
	args := b.Args(cfg, bundle)

	b.log.Debug().Str("bundle", bundle).Str("command", b.config.Command).
		Strs("args", args).Msg("starting bundler")

	cmd := exec.CommandContext(ctx, b.config.Command, args...)
	cmd.Dir = b.config.Dir
	cmd.Env = b.Env(cfg)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		err = fmt.Errorf("starting bundler %s: %w: %w", b.config.Command, domain.ErrSpawn, err)
		return domain.BuildResult{Bundle: bundle, Err: err, Duration: time.Since(start)}, err
	}

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			err = fmt.Errorf("bundler %s: %w", bundle, err)
			return domain.BuildResult{Bundle: bundle, Err: err, Duration: time.Since(start)}, nil
		}
		exitCode = exitErr.ExitCode()
	}

	result := classify(bundle, exitCode, stdout.Bytes(), stderr.String())
	result.Duration = time.Since(start)

	b.log.Debug().Str("bundle", bundle).Int("exit_code", exitCode).
		Int("warnings", len(result.Warnings)).Int("errors", len(result.Errors)).
		Dur("duration", result.Duration).Msg("bundler finished")
	return result, nil
}

func classify(bundle string, exitCode int, stdout []byte, stderr string) domain.BuildResult {
	stats, ok := ParseStats(stdout)
	result := domain.BuildResult{Bundle: bundle, Warnings: stats.Warnings, Errors: stats.Errors}

	if exitCode != 0 && len(result.Errors) == 0 {
		if msg := strings.TrimSpace(stderr); msg != "" && !ok {
			result.Errors = []string{msg}
		} else {
			result.Errors = []string{fmt.Sprintf("bundler exited with code %d", exitCode)}
		}
	}
	return result
}
