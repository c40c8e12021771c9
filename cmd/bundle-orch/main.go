package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	portFlag   int
	noNotify   bool
	verbose    bool
	rootCmd    = &cobra.Command{
		Use:   "bundle-orch",
		Short: "Bundle, serve and test a browser project",
		Long: `bundle-orch drives a JavaScript build: it runs the bundler, serves the
generated test page on a local HTTP server, runs the headless browser tests
against it and reports every outcome as a desktop notification.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: nearest bundle-orch.toml)")
	rootCmd.PersistentFlags().IntVar(&portFlag, "port", 0, "test server port (overrides NODE_PORT and the config file)")
	rootCmd.PersistentFlags().BoolVar(&noNotify, "no-notify", false, "disable desktop and Slack notifications")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func setupLogging() {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		log.Error().Err(err).Msg("bundle-orch failed")
	}
	os.Exit(exitCode(err))
}
