package schedule

import (
	"fmt"
	"slices"

	"github.com/robfig/cron/v3"
)

// Runnable lists the tasks that may be scheduled. watch never finishes, so it is excluded.
var Runnable = []string{"dev", "prod"}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is a task triggered by a cron expression
type Job struct {
	Name string
	Cron string
	Task string
}

// ParseCron parses a five-field cron expression or a descriptor such as @daily
func ParseCron(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}

// Validate checks if the job is valid
func (j Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if j.Cron == "" {
		return fmt.Errorf("schedule %s: cron expression is required", j.Name)
	}
	if _, err := ParseCron(j.Cron); err != nil {
		return fmt.Errorf("schedule %s: invalid cron expression: %w", j.Name, err)
	}
	if !slices.Contains(Runnable, j.Task) {
		return fmt.Errorf("schedule %s: task %q cannot be scheduled", j.Name, j.Task)
	}
	return nil
}
