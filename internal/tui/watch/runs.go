package watch

import (
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/commandxml/internal/journal"
)

func newRunsTable() table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Command", Width: 16},
			{Title: "Mode", Width: 10},
			{Title: "Finished", Width: 8},
			{Title: "Took", Width: 8},
			{Title: "Error", Width: 30},
		}),
		table.WithHeight(runsShown),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func runRows(runs []journal.Run) []table.Row {
	rows := make([]table.Row, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, table.Row{
			statusGlyph(r.Status),
			r.Command,
			string(r.Mode),
			r.FinishedAt.Local().Format("15:04:05"),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
			firstLine(r.Error),
		})
	}
	return rows
}

func statusGlyph(s journal.Status) string {
	switch s {
	case journal.StatusSucceeded:
		return "✓"
	case journal.StatusFailed:
		return "✗"
	case journal.StatusRejected:
		return "-"
	default:
		return "?"
	}
}

func renderRuns(t table.Model, count int, theme Theme, width int) string {
	body := t.View()
	if count == 0 {
		body = theme.Dim.Render("  No recorded runs")
	}
	return theme.Border.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, theme.Title.Render("RUNS"), body))
}

func itoa(n int) string { return strconv.Itoa(n) }
