package api

import (
	"github.com/mattjoyce/commandxml/internal/command"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the read-only API.
// Registered commands are listed under x-commands since they are submitted
// through the channel document, not over HTTP.
func buildOpenAPIDoc(entries []command.Entry) map[string]any {
	get := func(summary string, params ...map[string]any) map[string]any {
		op := map[string]any{
			"summary": summary,
			"responses": map[string]any{
				"200": map[string]any{"description": "OK"},
			},
		}
		if len(params) > 0 {
			op["parameters"] = params
		}
		return map[string]any{"get": op}
	}
	query := func(name, typ, description string) map[string]any {
		return map[string]any{
			"name":        name,
			"in":          "query",
			"required":    false,
			"description": description,
			"schema":      map[string]any{"type": typ},
		}
	}
	typeFilter := query("type", "string", "Comma-separated event type prefixes")

	commands := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		attrs := map[string]any{}
		required := make([]string, 0, len(e.Item.Schema))
		for _, f := range e.Item.Schema {
			attrs[f.Name] = map[string]any{"type": "string", "format": f.Kind.String()}
			required = append(required, f.Name)
		}
		commands = append(commands, map[string]any{
			"name":        e.Name,
			"description": e.Item.Description,
			"attributes": map[string]any{
				"type":       "object",
				"properties": attrs,
				"required":   required,
			},
		})
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "CommandXML Dispatcher",
			"version": "1.0",
		},
		"paths": map[string]any{
			"/healthz":         get("Liveness and uptime"),
			"/status":          get("Current channel status and loop state"),
			"/console":         get("Log ring contents, oldest first"),
			"/commands":        get("Registered commands"),
			"/commands/{name}": get("One registered command"),
			"/runs":            get("Recorded runs, newest first", query("limit", "integer", "Maximum runs to return")),
			"/events":          get("Buffered events", query("since", "integer", "Only events with a greater id"), typeFilter),
			"/events/stream":   get("Server-sent event stream", query("since", "integer", "Replay events with a greater id"), typeFilter),
		},
		"x-commands": commands,
	}
}
