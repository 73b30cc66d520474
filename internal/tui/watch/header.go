package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks dispatcher health from polling.
type HealthState struct {
	Status        string
	State         string
	ChannelStatus string
	Running       []string
	Commands      int
	UptimeSeconds int64
	Connected     bool
	LastCheck     time.Time
}

// Pulse lights up on events and fades over time.
type Pulse struct {
	dots      int
	lastEvent time.Time
}

func (p *Pulse) OnEvent() {
	p.dots = 5
	p.lastEvent = time.Now()
}

// Decay fades one dot per two seconds of silence.
func (p *Pulse) Decay() {
	if p.dots == 0 {
		return
	}
	p.dots = max(0, 5-int(time.Since(p.lastEvent)/(2*time.Second)))
}

func (p Pulse) Render(theme Theme) string {
	var b strings.Builder
	for i := range 5 {
		if i < p.dots {
			b.WriteString(theme.PulseActive.Render("●"))
		} else {
			b.WriteString(theme.PulseInactive.Render("○"))
		}
	}
	return b.String()
}

func (p Pulse) LastEvent() time.Time {
	return p.lastEvent
}

func renderHeader(health HealthState, pulse Pulse, theme Theme, width int) string {
	innerWidth := width - 4

	connection := theme.StatusOK.Render("CONNECTED")
	if !health.Connected {
		connection = theme.StatusFailed.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		connection = theme.StatusFailed.Render("DEGRADED")
	}

	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := " COMMANDXML WATCH"
	pad := max(1, innerWidth-lipgloss.Width(titleText)-lipgloss.Width(clock)-4)
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  ⏱ %s  Loop: %s  Commands: %d",
		connection,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.State,
		health.Commands,
	)

	status := health.ChannelStatus
	if status == "" {
		status = "-"
	}
	statusLine := " Status: " + theme.statusStyle(health.ChannelStatus).Render(status)
	if len(health.Running) > 0 {
		statusLine += theme.Dim.Render("  running: " + strings.Join(health.Running, ", "))
	}

	lastEvent := "never"
	if !pulse.LastEvent().IsZero() {
		lastEvent = fmt.Sprintf("%s ago", time.Since(pulse.LastEvent()).Round(time.Second))
	}
	activityLine := fmt.Sprintf(" Last event: %s %s", lastEvent, pulse.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, statusLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
