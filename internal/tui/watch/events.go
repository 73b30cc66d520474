package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/commandxml/internal/events"
)

const eventsShown = 8

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENTS"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= eventsShown {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENTS"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch {
	case strings.HasSuffix(e.Type, ".finished"):
		typeStyle = theme.StatusOK
	case strings.HasSuffix(e.Type, ".failed"), strings.HasSuffix(e.Type, ".unknown"), strings.HasSuffix(e.Type, ".invalid"):
		typeStyle = theme.StatusFailed
	case strings.HasSuffix(e.Type, ".started"):
		typeStyle = theme.StatusRunning
	case strings.HasPrefix(e.Type, "dispatch"), strings.HasPrefix(e.Type, "channel"):
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	return fmt.Sprintf("%s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-18s", e.Type)), extractEventDesc(e))
}

func extractEventDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if cmd, ok := data["command"].(string); ok {
		parts = append(parts, cmd)
	}
	if mode, ok := data["mode"].(string); ok {
		parts = append(parts, "("+mode+")")
	}
	if runID, ok := data["run_id"].(string); ok {
		if len(runID) > 8 {
			runID = runID[:8]
		}
		parts = append(parts, "["+runID+"]")
	}
	if errText, ok := data["error"].(string); ok {
		parts = append(parts, firstLine(errText))
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
