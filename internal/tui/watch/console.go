package watch

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"
)

// setConsole replaces the viewport content, staying pinned to the bottom
// unless the user scrolled up.
func setConsole(vp *viewport.Model, lines []string) {
	follow := vp.AtBottom() || vp.TotalLineCount() == 0
	vp.SetContent(strings.Join(lines, "\n"))
	if follow {
		vp.GotoBottom()
	}
}

func renderConsole(vp viewport.Model, capacity int, theme Theme, width int) string {
	title := theme.Title.Render("CONSOLE")
	if capacity > 0 {
		title += theme.Dim.Render(" last " + itoa(capacity) + " lines")
	}

	body := vp.View()
	if vp.TotalLineCount() == 0 {
		body = theme.Dim.Render("  No output yet")
	}
	return theme.Border.Width(width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, title, body))
}
