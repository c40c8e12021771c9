package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/bundle-orch/internal/config"
	"github.com/hochfrequenz/bundle-orch/internal/domain"
	"github.com/hochfrequenz/bundle-orch/internal/history"
	"github.com/hochfrequenz/bundle-orch/internal/orchestrator"
	"github.com/hochfrequenz/bundle-orch/internal/schedule"
)

var (
	historyLimit int
	historyTask  string
	historyPrune int
)

func init() {
	// task commands
	rootCmd.AddCommand(&cobra.Command{
		Use:   orchestrator.TaskDev,
		Short: "Build with source maps, then run the tests once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd, orchestrator.TaskDev)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   orchestrator.TaskProd,
		Short: "Build minified bundles, then run the tests once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd, orchestrator.TaskProd)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   orchestrator.TaskWatch,
		Short: "Rebuild on every change and rerun the tests against a live server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd, orchestrator.TaskWatch)
		},
	})

	// history command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show")
	historyCmd.Flags().StringVar(&historyTask, "task", "", "filter by task")
	historyCmd.Flags().IntVar(&historyPrune, "prune", 0, "delete all but the newest N runs")
	rootCmd.AddCommand(historyCmd)

	// schedule command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "schedule",
		Short: "Run the configured cron schedules until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runSchedule,
	})

	// config command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfig,
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return &configError{err: fmt.Errorf("history is disabled in the configuration")}
	}

	store, err := history.New(cfg.History.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	if historyPrune > 0 {
		removed, err := store.Prune(cmd.Context(), historyPrune)
		if err != nil {
			return fmt.Errorf("pruning history: %w", err)
		}
		fmt.Printf("Removed %d runs\n", removed)
	}

	runs, err := store.ListRuns(cmd.Context(), history.ListOptions{Task: historyTask, Limit: historyLimit})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	printRuns(os.Stdout, runs)
	return nil
}

func printRuns(out io.Writer, runs []*domain.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tTASK\tRESULT\tWARN\tERR\tTESTS\tDURATION")
	for _, r := range runs {
		result := "passed"
		if !r.Passed() {
			result = string(r.Failure)
			if result == "" {
				result = "unfinished"
			}
		}
		tests := "-"
		if r.TestExitCode != nil {
			tests = fmt.Sprintf("exit %d", *r.TestExitCode)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Task,
			result,
			r.Warnings,
			r.Errors,
			tests,
			r.Duration().Round(time.Millisecond),
		)
	}
	w.Flush()
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Schedules) == 0 {
		return &configError{err: fmt.Errorf("no schedules configured")}
	}

	jobs := make([]schedule.Job, len(cfg.Schedules))
	for i, s := range cfg.Schedules {
		jobs[i] = schedule.Job{Name: s.Name, Cron: s.Cron, Task: s.Task}
	}
	sched, err := schedule.New(jobs, log.Logger)
	if err != nil {
		return &configError{err: err}
	}

	a := newApp(cfg, log.Logger)
	defer a.close()

	return sched.Run(cmd.Context(), func(ctx context.Context, job schedule.Job) error {
		return a.orch.Run(ctx, job.Task)
	})
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	if path := configSource(); path != "" {
		fmt.Printf("# loaded from %s\n", path)
	}
	fmt.Print(string(data))
	return nil
}

// configSource returns the file the configuration was loaded from, if any
func configSource() string {
	if configPath != "" {
		return configPath
	}
	return config.FindLocalConfig()
}
