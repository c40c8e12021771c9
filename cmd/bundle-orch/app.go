package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/bundle-orch/internal/bundler"
	"github.com/hochfrequenz/bundle-orch/internal/config"
	"github.com/hochfrequenz/bundle-orch/internal/history"
	"github.com/hochfrequenz/bundle-orch/internal/notify"
	"github.com/hochfrequenz/bundle-orch/internal/orchestrator"
	"github.com/hochfrequenz/bundle-orch/internal/testrunner"
	"github.com/hochfrequenz/bundle-orch/internal/testserver"
	"github.com/hochfrequenz/bundle-orch/web/api"
)

// sinkFlushTimeout bounds how long exit waits for in-flight notifications
const sinkFlushTimeout = 5 * time.Second

// app wires the components for one CLI invocation
type app struct {
	cfg   *config.Config
	log   zerolog.Logger
	orch  *orchestrator.Orchestrator
	sink  *notify.Sink
	hub   *api.Hub
	store *history.Store
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithLocalFallback(configPath)
	if err != nil {
		return nil, &configError{err: fmt.Errorf("loading config: %w", err)}
	}
	if portFlag != 0 {
		cfg.Server.Port = portFlag
		if err := cfg.Validate(); err != nil {
			return nil, &configError{err: err}
		}
	}
	return cfg, nil
}

func openHistory(cfg *config.Config) (*history.Store, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	store, err := history.New(cfg.History.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	return store, nil
}

func newApp(cfg *config.Config, logger zerolog.Logger) *app {
	a := &app{cfg: cfg, log: logger, hub: api.NewHub()}

	store, err := openHistory(cfg)
	if err != nil {
		// History is optional; the pipeline still runs
		logger.Warn().Err(err).Msg("run history disabled")
	}
	a.store = store

	// Watch paths stay relative; the bundler resolves them against Dir
	bundles := make([]bundler.Bundle, len(cfg.Bundler.Bundles))
	for i, b := range cfg.Bundler.Bundles {
		bundles[i] = bundler.Bundle{Name: b.Name, WatchPaths: b.WatchPaths}
	}
	build := bundler.New(bundler.Config{
		Command:    cfg.ResolveCommand(cfg.Bundler.Command),
		ConfigFile: cfg.Resolve(cfg.Bundler.ConfigFile),
		Args:       cfg.Bundler.Args,
		Dir:        cfg.General.ProjectRoot,
		Bundles:    bundles,
		Debounce:   cfg.WatchInterval(),
		Ignore:     cfg.Bundler.OutputPaths,
	}, logger)

	runner := testrunner.New(testrunner.Config{
		Command:  cfg.ResolveCommand(cfg.Tests.Runner),
		Reporter: cfg.Tests.Reporter,
		Args:     cfg.Tests.Args,
		Dir:      cfg.General.ProjectRoot,
		Env:      []string{config.PortEnv + "=" + strconv.Itoa(cfg.Server.Port)},
		Timeout:  time.Duration(cfg.Tests.TimeoutSecs) * time.Second,
	}, logger)

	server := testserver.New(testserver.Config{
		Host:       cfg.Server.Host,
		Root:       cfg.Resolve(cfg.Server.Root),
		OnShutdown: []func(){a.hub.Disconnect},
	}, logger)

	a.sink = notify.NewSink(logger, a.notifier(), notify.Icons{
		Good: absPath(cfg.Resolve(cfg.Notifications.GoodIcon)),
		Bad:  absPath(cfg.Resolve(cfg.Notifications.BadIcon)),
	})

	deps := orchestrator.Deps{
		Builder:   build,
		Server:    server,
		Runner:    runner,
		Notifier:  a.sink,
		Publisher: a.hub,
	}
	if store != nil {
		deps.Recorder = store
	}
	a.orch = orchestrator.New(orchestrator.Config{
		Port:       cfg.Server.Port,
		Host:       cfg.Server.Host,
		Page:       cfg.Tests.Page,
		MainBundle: cfg.Bundler.MainBundle,
		TestBundle: cfg.Bundler.TestBundle,
	}, deps, logger)

	var runs api.RunStore
	if store != nil {
		runs = store
	}
	server.Mount(api.MountPath, api.NewServer(a.orch, runs, a.hub, logger))

	return a
}

// notifier combines the configured delivery backends
func (a *app) notifier() notify.Notifier {
	notifiers := []notify.Notifier{a.hub}
	if noNotify {
		return notify.NewMultiNotifier(notifiers...)
	}
	if a.cfg.Notifications.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}
	if a.cfg.Notifications.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(a.cfg.Notifications.SlackWebhook))
	}
	return notify.NewMultiNotifier(notifiers...)
}

// close flushes pending notifications and releases resources
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), sinkFlushTimeout)
	defer cancel()
	if err := a.sink.Wait(ctx); err != nil {
		a.log.Debug().Err(err).Msg("notifications still in flight at exit")
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing history")
		}
	}
}

// absPath makes notification icons independent of the notifier's working directory
func absPath(path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

func runTask(cmd *cobra.Command, task string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a := newApp(cfg, log.Logger)
	defer a.close()

	return a.orch.Run(cmd.Context(), task)
}
