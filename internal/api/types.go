package api

import (
	"github.com/mattjoyce/commandxml/internal/events"
	"github.com/mattjoyce/commandxml/internal/journal"
)

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Commands      int    `json:"commands"`
	State         string `json:"state"`
	EventsDropped int64  `json:"events_dropped"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Status   string   `json:"status"`
	State    string   `json:"state"`
	Stopping bool     `json:"stopping"`
	Running  []string `json:"running"`
	Channel  string   `json:"channel,omitempty"`
}

// ConsoleResponse is returned by GET /console. Lines are oldest first.
type ConsoleResponse struct {
	Capacity int      `json:"capacity"`
	Lines    []string `json:"lines"`
}

// AttributeInfo describes one required attribute.
type AttributeInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// CommandInfo describes a registered command.
type CommandInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Foreground  bool            `json:"foreground"`
	HasCleanup  bool            `json:"has_cleanup"`
	Attributes  []AttributeInfo `json:"attributes"`
}

// CommandListResponse is returned by GET /commands.
type CommandListResponse struct {
	Commands []CommandInfo `json:"commands"`
}

// RunsResponse is returned by GET /runs.
type RunsResponse struct {
	Runs []journal.Run `json:"runs"`
}

// EventsResponse is returned by GET /events.
type EventsResponse struct {
	Events []events.Event `json:"events"`
	LastID int64          `json:"last_id"`
}
