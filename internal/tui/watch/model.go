package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/commandxml/internal/events"
)

const maxEventLog = 50

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string

	width  int
	height int

	health   HealthState
	capacity int
	runCount int
	eventLog []events.Event
	lastID   int64

	pulse   Pulse
	console viewport.Model
	runs    table.Model
	theme   Theme

	hubEvents chan events.Event

	lastError string
}

// New creates a new watch TUI model.
func New(apiURL string) *Model {
	return &Model{
		apiURL:    apiURL,
		eventLog:  make([]events.Event, 0),
		console:   viewport.New(80, 10),
		runs:      newRunsTable(),
		theme:     NewDefaultTheme(),
		hubEvents: make(chan events.Event, 100),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchSnapshot(m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.console, cmd = m.console.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.console.Width = max(20, m.width-8)
		m.console.Height = max(5, m.height/3)
		m.runs.SetWidth(max(20, m.width-8))

	case tickMsg:
		m.pulse.Decay()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		if e.ID > m.lastID {
			m.lastID = e.ID
		}
		m.pulse.OnEvent()
		m.health.Connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case snapshotMsg:
		m.applySnapshot(msg)
		return m, tea.Tick(pollInterval, func(t time.Time) tea.Msg {
			return fetchSnapshot(m.apiURL)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.lastID, m.hubEvents)

	case errMsg:
		m.health.Connected = false
		m.lastError = msg.Error()
		return m, tea.Tick(retryInterval, func(t time.Time) tea.Msg {
			return fetchSnapshot(m.apiURL)
		})
	}

	return m, nil
}

func (m *Model) applySnapshot(s snapshotMsg) {
	m.health = HealthState{
		Status:        s.Health.Status,
		State:         s.Status.State,
		ChannelStatus: s.Status.Status,
		Running:       s.Status.Running,
		Commands:      s.Health.Commands,
		UptimeSeconds: s.Health.UptimeSeconds,
		Connected:     true,
		LastCheck:     time.Now(),
	}
	m.capacity = s.Console.Capacity
	setConsole(&m.console, s.Console.Lines)
	m.runCount = len(s.Runs)
	m.runs.SetRows(runRows(s.Runs))
	m.lastError = ""
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing watch..."
	}

	parts := []string{
		renderHeader(m.health, m.pulse, m.theme, m.width),
		renderConsole(m.console, m.capacity, m.theme, m.width),
		renderRuns(m.runs, m.runCount, m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll console"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

// Run starts the TUI and blocks until the user quits.
func Run(apiURL string) error {
	_, err := tea.NewProgram(New(apiURL)).Run()
	return err
}
