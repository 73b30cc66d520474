// Package watch implements the dispatcher watch TUI. It polls the read-only
// API and follows its event stream.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme centralizes all styling for the watch TUI.
type Theme struct {
	StatusOK      lipgloss.Style
	StatusRunning lipgloss.Style
	StatusFailed  lipgloss.Style
	StatusIdle    lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	PulseActive   lipgloss.Style
	PulseInactive lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusIdle:    lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		PulseActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		PulseInactive: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// statusStyle picks a color for a channel status string.
func (t Theme) statusStyle(status string) lipgloss.Style {
	switch {
	case status == "" || status == "idle" || status == "Idle":
		return t.StatusIdle
	case len(status) >= 15 && status[:15] == "Running Command":
		return t.StatusRunning
	case status == "Running cleanup functions":
		return t.Highlight
	default:
		return t.StatusOK
	}
}
