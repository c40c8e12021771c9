package schedule

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 22 * * *", false},   // 10 PM daily
		{"0 12 * * 1-5", false}, // noon weekdays
		{"*/5 * * * *", false},  // every 5 minutes
		{"@daily", false},
		{"invalid", true},
		{"* * * * * *", true},
	}

	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestJob_Validate(t *testing.T) {
	tests := []struct {
		name string
		job  Job
		want string
	}{
		{"valid", Job{Name: "nightly", Cron: "0 2 * * *", Task: "prod"}, ""},
		{"no name", Job{Cron: "0 2 * * *", Task: "prod"}, "name is required"},
		{"no cron", Job{Name: "n", Task: "dev"}, "cron expression is required"},
		{"bad cron", Job{Name: "n", Cron: "nope", Task: "dev"}, "invalid cron"},
		{"watch", Job{Name: "n", Cron: "@hourly", Task: "watch"}, `"watch" cannot be scheduled`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestNew_RejectsDuplicates(t *testing.T) {
	jobs := []Job{
		{Name: "a", Cron: "@hourly", Task: "dev"},
		{Name: "a", Cron: "@daily", Task: "prod"},
	}
	if _, err := New(jobs, zerolog.Nop()); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("New() = %v, want duplicate error", err)
	}
}

func TestScheduler_NextRunAndDue(t *testing.T) {
	s, err := New([]Job{
		{Name: "hourly", Cron: "0 * * * *", Task: "dev"},
		{Name: "nightly", Cron: "0 2 * * *", Task: "prod"},
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	start := time.Date(2024, 3, 1, 10, 30, 0, 0, time.Local)
	s.lastRun["hourly"] = start
	s.lastRun["nightly"] = start

	if next := s.NextRun("hourly"); !next.Equal(start.Add(30 * time.Minute)) {
		t.Errorf("NextRun(hourly) = %v", next)
	}
	if !s.NextRun("missing").IsZero() {
		t.Error("NextRun of unknown job should be zero")
	}

	due := s.Due(start.Add(45 * time.Minute))
	if len(due) != 1 || due[0].Name != "hourly" {
		t.Errorf("Due(+45m) = %+v, want [hourly]", due)
	}

	due = s.Due(start.Add(16 * time.Hour))
	if len(due) != 2 {
		t.Errorf("Due(+16h) = %+v, want both", due)
	}

	s.markRun("hourly", start.Add(45*time.Minute))
	if due := s.Due(start.Add(50 * time.Minute)); len(due) != 0 {
		t.Errorf("Due after run = %+v, want none", due)
	}
}

func TestScheduler_RunExecutesDueJobsInTurn(t *testing.T) {
	s, err := New([]Job{
		{Name: "a", Cron: "* * * * *", Task: "dev"},
		{Name: "b", Cron: "* * * * *", Task: "prod"},
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	clock := time.Now().Add(2 * time.Minute)
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	s.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		ran     []string
		active  int
		overlap bool
	)
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(_ context.Context, job Job) error {
			mu.Lock()
			active++
			if active > 1 {
				overlap = true
			}
			ran = append(ran, job.Name)
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			active--
			n := len(ran)
			mu.Unlock()
			if n == 2 {
				cancel()
			}
			return errors.New("tests failed")
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not run both jobs")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 2 || ran[0] != "a" || ran[1] != "b" {
		t.Errorf("ran = %v, want [a b]", ran)
	}
	if overlap {
		t.Error("jobs ran concurrently")
	}
}

func TestScheduler_RunRecoversPanics(t *testing.T) {
	s, err := New([]Job{{Name: "a", Cron: "* * * * *", Task: "dev"}}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	s.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, Job) error {
			cancel()
			panic("boom")
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after a panicking job")
	}
}
