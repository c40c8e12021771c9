package orchestrator

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/hochfrequenz/bundle-orch/internal/domain"
)

var (
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// reportBuild logs every warning and error and publishes one build event per bundle
func (o *Orchestrator) reportBuild(task string, results []domain.BuildResult) {
	for _, r := range results {
		for _, w := range r.Warnings {
			o.log.Warn().Str("bundle", r.Bundle).Msg(warnStyle.Render("WARN: ") + w)
		}
		for _, e := range r.Problems() {
			o.log.Error().Str("bundle", r.Bundle).Msg(errorStyle.Render("ERROR: ") + e)
		}

		o.publish(domain.Event{
			Type:     domain.EventBuild,
			Task:     task,
			Bundle:   r.Bundle,
			Passed:   r.OK(),
			Warnings: r.Warnings,
			Errors:   r.Problems(),
		})
	}
}
