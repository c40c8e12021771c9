package domain

import (
	"fmt"
	"time"
)

// BuildConfig is the immutable set of options handed to the bundler for one run
type BuildConfig struct {
	Variant        Variant
	Debug          bool
	SourceMap      bool
	Optimize       bool
	OutputFilename string
	Port           int
}

// ConfigFor returns the build configuration for a variant on the given port
func ConfigFor(v Variant, port int) BuildConfig {
	switch v {
	case VariantProduction:
		return BuildConfig{
			Variant:        VariantProduction,
			Optimize:       true,
			OutputFilename: "[name].min.js",
			Port:           port,
		}
	default:
		return BuildConfig{
			Variant:        VariantDevelopment,
			Debug:          true,
			SourceMap:      true,
			OutputFilename: "[name].js",
			Port:           port,
		}
	}
}

// BuildResult is the outcome of bundling one bundle.
// A result is a failure exactly when Errors is non-empty or Err is set.
type BuildResult struct {
	Bundle   string
	Warnings []string
	Errors   []string
	Duration time.Duration

	// Err is set when the bundler could not be launched at all.
	Err error
}

// BuildSuccess returns a successful result carrying warnings
func BuildSuccess(bundle string, warnings ...string) BuildResult {
	return BuildResult{Bundle: bundle, Warnings: warnings}
}

// BuildFailed returns a failed result carrying errors
func BuildFailed(bundle string, errs ...string) BuildResult {
	return BuildResult{Bundle: bundle, Errors: errs}
}

// OK reports whether the build succeeded. Warnings alone never fail a build.
func (r BuildResult) OK() bool {
	return len(r.Errors) == 0 && r.Err == nil
}

// Problems returns the error messages, including the launch error if any
func (r BuildResult) Problems() []string {
	if r.Err == nil {
		return r.Errors
	}
	return append([]string{r.Err.Error()}, r.Errors...)
}

func (r BuildResult) String() string {
	if r.OK() {
		return fmt.Sprintf("%s: ok (%d warnings)", r.Bundle, len(r.Warnings))
	}
	return fmt.Sprintf("%s: failed (%d errors)", r.Bundle, len(r.Problems()))
}

// FirstFailure returns the first failed result, if any
func FirstFailure(results []BuildResult) (BuildResult, bool) {
	for _, r := range results {
		if !r.OK() {
			return r, true
		}
	}
	return BuildResult{}, false
}

// CountProblems sums warnings and errors over results
func CountProblems(results []BuildResult) (warnings, errs int) {
	for _, r := range results {
		warnings += len(r.Warnings)
		errs += len(r.Problems())
	}
	return warnings, errs
}
