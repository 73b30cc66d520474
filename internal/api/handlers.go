package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/commandxml/internal/command"
	"github.com/mattjoyce/commandxml/internal/events"
	"github.com/mattjoyce/commandxml/internal/journal"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 500
)

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Commands:      len(s.catalog.Entries()),
		State:         string(s.status.State()),
		EventsDropped: s.events.Dropped(),
	})
}

// handleStatus handles GET /status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	running := s.status.Running()
	if running == nil {
		running = []string{}
	}
	respondJSON(w, http.StatusOK, StatusResponse{
		Status:   s.status.Status(),
		State:    string(s.status.State()),
		Stopping: s.status.Stopping(),
		Running:  running,
		Channel:  s.config.ChannelPath,
	})
}

// handleConsole handles GET /console.
func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	lines := s.console.History()
	if lines == nil {
		lines = []string{}
	}
	respondJSON(w, http.StatusOK, ConsoleResponse{
		Capacity: s.console.Capacity(),
		Lines:    lines,
	})
}

// handleListCommands handles GET /commands.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	entries := s.catalog.Entries()
	resp := CommandListResponse{Commands: make([]CommandInfo, 0, len(entries))}
	for _, e := range entries {
		resp.Commands = append(resp.Commands, commandInfo(e))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetCommand handles GET /commands/{name}.
func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, e := range s.catalog.Entries() {
		if e.Name == name {
			respondJSON(w, http.StatusOK, commandInfo(e))
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "command not found")
}

// handleRuns handles GET /runs?limit=N.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}

	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := s.runs.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []journal.Run{}
	}
	respondJSON(w, http.StatusOK, RunsResponse{Runs: runs})
}

// handleEventSnapshot handles GET /events?since=N&type=prefix[,prefix].
func (s *Server) handleEventSnapshot(w http.ResponseWriter, r *http.Request) {
	since := parseLastEventID(r.URL.Query().Get("since"))
	evs := s.events.SnapshotSince(since, eventFilter(r))
	if evs == nil {
		evs = []events.Event{}
	}
	respondJSON(w, http.StatusOK, EventsResponse{
		Events: evs,
		LastID: s.events.LastID(),
	})
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.catalog.Entries()))
}

func commandInfo(e command.Entry) CommandInfo {
	info := CommandInfo{
		Name:        e.Name,
		Description: e.Item.Description,
		Foreground:  e.Item.Foreground,
		HasCleanup:  e.Item.Cleanup != nil,
		Attributes:  make([]AttributeInfo, 0, len(e.Item.Schema)),
	}
	for _, f := range e.Item.Schema {
		info.Attributes = append(info.Attributes, AttributeInfo{Name: f.Name, Kind: f.Kind.String()})
	}
	return info
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
