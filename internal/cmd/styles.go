package cmd

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ciatc/band/internal/lockgate"
	"github.com/ciatc/band/internal/orchestrator"
)

var (
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#F87171") // Red
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	labelStyle   = lipgloss.NewStyle().Foreground(mutedColor).Width(10)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
)

func statusStyle(s orchestrator.Status) lipgloss.Style {
	switch s {
	case orchestrator.StatusSuccess:
		return successStyle
	case orchestrator.StatusSkipped:
		return mutedStyle
	case orchestrator.StatusTimeout:
		return warningStyle
	default:
		return errorStyle
	}
}

func stateStyle(s lockgate.State) lipgloss.Style {
	if s == lockgate.StateRunning {
		return warningStyle
	}
	return successStyle
}

// field renders "label value" on one line.
func field(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}
