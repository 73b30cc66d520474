package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/commandxml/internal/api"
	"github.com/mattjoyce/commandxml/internal/events"
	"github.com/mattjoyce/commandxml/internal/journal"
)

const (
	pollInterval  = 2 * time.Second
	retryInterval = 5 * time.Second
	runsShown     = 10
)

// --- Message types ---

type eventMsg events.Event

// snapshotMsg is one poll of the read endpoints.
type snapshotMsg struct {
	Health  api.HealthzResponse
	Status  api.StatusResponse
	Console api.ConsoleResponse
	Runs    []journal.Run
}

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// --- Commands ---

// subscribeToEvents follows /events/stream and feeds events into ch.
// Returns sseDisconnectedMsg when the connection drops.
func subscribeToEvents(apiURL string, since int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/events/stream?since=%d", apiURL, since), nil)
		if err != nil {
			return errMsg(err)
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()

		readSSE(bufio.NewScanner(resp.Body), ch)
		return sseDisconnectedMsg{}
	}
}

func readSSE(scanner *bufio.Scanner, ch chan<- events.Event) {
	var current events.Event
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if len(current.Data) > 0 {
				current.At = time.Now()
				ch <- current
				current = events.Event{}
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				current.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			current.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			current.Data = json.RawMessage(line[6:])
		}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchSnapshot polls health, status, console and runs.
func fetchSnapshot(apiURL string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}

	var snap snapshotMsg
	if err := getJSON(client, apiURL+"/healthz", &snap.Health); err != nil {
		return errMsg(err)
	}
	if err := getJSON(client, apiURL+"/status", &snap.Status); err != nil {
		return errMsg(err)
	}
	if err := getJSON(client, apiURL+"/console", &snap.Console); err != nil {
		return errMsg(err)
	}

	// The journal is optional; a disabled one just leaves runs empty.
	var runs api.RunsResponse
	if err := getJSON(client, fmt.Sprintf("%s/runs?limit=%d", apiURL, runsShown), &runs); err == nil {
		snap.Runs = runs.Runs
	}
	return snap
}

func getJSON(client *http.Client, url string, v any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
