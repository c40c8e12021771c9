package history

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hochfrequenz/bundle-orch/internal/domain"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_RecordAndGetRun(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	started := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(3 * time.Second)
	code := 1
	run := &domain.Run{
		ID:           "run-1",
		Task:         "dev",
		Variant:      domain.VariantDevelopment,
		State:        domain.StateIdle,
		Failure:      domain.TestRunFailure,
		Warnings:     2,
		TestExitCode: &code,
		TestURL:      "http://localhost:21113/index.html",
		StartedAt:    started,
		FinishedAt:   &finished,
	}
	if err := store.RecordRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Task != "dev" || got.Variant != domain.VariantDevelopment {
		t.Errorf("got %+v", got)
	}
	if got.Failure != domain.TestRunFailure || got.Passed() {
		t.Errorf("Failure = %q, Passed = %v", got.Failure, got.Passed())
	}
	if got.TestExitCode == nil || *got.TestExitCode != 1 {
		t.Errorf("TestExitCode = %v, want 1", got.TestExitCode)
	}
	if got.Warnings != 2 || got.TestURL != run.TestURL {
		t.Errorf("got %+v", got)
	}
	if got.Duration() != 3*time.Second {
		t.Errorf("Duration = %v, want 3s", got.Duration())
	}
}

func TestStore_RecordRunUpdates(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	run := &domain.Run{ID: "run-1", Task: "prod", Variant: domain.VariantProduction, State: domain.StateBuilding, StartedAt: time.Now()}
	if err := store.RecordRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	finished := time.Now()
	run.State = domain.StateBuildFailed
	run.Failure = domain.BuildFailure
	run.Errors = 3
	run.FinishedAt = &finished
	if err := store.RecordRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != domain.StateBuildFailed || got.Errors != 3 || got.FinishedAt == nil {
		t.Errorf("got %+v", got)
	}
	if got.TestExitCode != nil {
		t.Errorf("TestExitCode = %v, want nil", *got.TestExitCode)
	}
}

func TestStore_GetRunMissing(t *testing.T) {
	store := newStore(t)

	_, err := store.GetRun(context.Background(), "nope")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestStore_ListRuns(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, task := range []string{"dev", "prod", "dev", "watch"} {
		run := &domain.Run{
			ID:        task + "-" + string(rune('a'+i)),
			Task:      task,
			Variant:   domain.VariantDevelopment,
			State:     domain.StateIdle,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.RecordRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.ListRuns(ctx, ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("all runs = %d, want 4", len(all))
	}
	if all[0].ID != "watch-d" || all[3].ID != "dev-a" {
		t.Errorf("order = %s..%s, want newest first", all[0].ID, all[3].ID)
	}

	dev, err := store.ListRuns(ctx, ListOptions{Task: "dev"})
	if err != nil {
		t.Fatal(err)
	}
	if len(dev) != 2 {
		t.Errorf("dev runs = %d, want 2", len(dev))
	}

	limited, err := store.ListRuns(ctx, ListOptions{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ID != "watch-d" {
		t.Errorf("limited = %+v", limited)
	}
}

func TestStore_Prune(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		run := &domain.Run{
			ID:        string(rune('a' + i)),
			Task:      "dev",
			Variant:   domain.VariantDevelopment,
			State:     domain.StateIdle,
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.RecordRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := store.Prune(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}

	left, err := store.ListRuns(ctx, ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 2 || left[0].ID != "e" || left[1].ID != "d" {
		t.Errorf("left = %d runs", len(left))
	}
}

func TestNew_InMemory(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if err := store.RecordRun(context.Background(), &domain.Run{ID: "x", Task: "dev", Variant: domain.VariantDevelopment, State: domain.StateIdle, StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	runs, err := store.ListRuns(context.Background(), ListOptions{})
	if err != nil || len(runs) != 1 {
		t.Errorf("ListRuns = %d, %v", len(runs), err)
	}
}
