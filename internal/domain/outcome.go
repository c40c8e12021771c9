package domain

import "fmt"

// TestOutcome is the classified result of one headless test run
type TestOutcome struct {
	Passed   bool
	ExitCode int
	URL      string

	// Fatal marks runs where the test process could not be launched.
	Fatal bool
	Err   error
}

// TestsPassed returns a passing outcome
func TestsPassed() TestOutcome {
	return TestOutcome{Passed: true}
}

// TestsFailed returns a failing outcome for a non-zero exit
func TestsFailed(exitCode int, url string) TestOutcome {
	return TestOutcome{ExitCode: exitCode, URL: url}
}

// TestsFatal returns the outcome of a run whose process never started
func TestsFatal(err error) TestOutcome {
	return TestOutcome{ExitCode: -1, Fatal: true, Err: err}
}

func (o TestOutcome) String() string {
	switch {
	case o.Passed:
		return "passed"
	case o.Fatal:
		return fmt.Sprintf("fatal: %v", o.Err)
	default:
		return fmt.Sprintf("failed (exit %d)", o.ExitCode)
	}
}
