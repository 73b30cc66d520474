// Package doctor validates commandxml configuration and the state of the
// channel document before the dispatcher is started.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	"github.com/mattjoyce/commandxml/internal/channel"
	"github.com/mattjoyce/commandxml/internal/command"
	"github.com/mattjoyce/commandxml/internal/config"
	"github.com/mattjoyce/commandxml/internal/lock"
	"github.com/mattjoyce/commandxml/internal/storage"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Catalog resolves command names.
type Catalog interface {
	Lookup(name string) (*command.Item, bool)
}

// Doctor validates configuration against the registry and the filesystem.
type Doctor struct {
	cfg     *config.Config
	catalog Catalog
}

// New creates a Doctor from a loaded config and command registry.
func New(cfg *config.Config, catalog Catalog) *Doctor {
	return &Doctor{cfg: cfg, catalog: catalog}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateChannel(r)
	d.validateJournal(r)
	d.validateAPIConfig(r)
	d.warnMissingEnvVars(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateServiceConfig checks loop timing.
func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.Service.TickInterval <= 0 {
		d.addError(r, "service", "service.tick_interval", "tick_interval must be positive")
	}
	if d.cfg.Service.SettleDelay < 0 {
		d.addError(r, "service", "service.settle_delay", "settle_delay must not be negative")
	}
	if d.cfg.Service.TickInterval > 0 && d.cfg.Service.SettleDelay > d.cfg.Service.TickInterval {
		d.addWarning(r, "service", "service.settle_delay",
			fmt.Sprintf("settle_delay %s exceeds tick_interval %s; every foreground command delays the next poll",
				d.cfg.Service.SettleDelay, d.cfg.Service.TickInterval))
	}
}

// validateChannel checks the channel location, its document and its lock.
func (d *Doctor) validateChannel(r *Result) {
	path := d.cfg.Channel.Path()
	if err := storage.CheckLocalFilesystem(path, "channel document"); err != nil {
		d.addError(r, "channel", "channel.dir", err.Error())
		return
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		d.addWarning(r, "channel", "channel.file",
			fmt.Sprintf("%s does not exist yet; it is created on start", path))
		return
	case err != nil:
		d.addError(r, "channel", "channel.file", fmt.Sprintf("cannot read %s: %v", path, err))
		return
	}

	doc, err := channel.Parse(data)
	if err != nil {
		d.addWarning(r, "channel", "channel.file",
			fmt.Sprintf("%s is malformed and will be recreated, dropping queued commands: %v", path, err))
		return
	}

	for _, slot := range doc.Pending() {
		if _, ok := d.catalog.Lookup(slot.Name()); !ok {
			d.addWarning(r, "channel", "",
				fmt.Sprintf("queued command %q is not registered", slot.Name()))
		}
	}

	l, err := lock.AcquireChannel(path)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			d.addWarning(r, "channel", "", fmt.Sprintf("a dispatcher is already reading %s: %v", path, err))
			return
		}
		d.addError(r, "channel", "", fmt.Sprintf("cannot lock %s: %v", path, err))
		return
	}
	_ = l.Release()
}

// validateJournal checks the optional run journal location.
func (d *Doctor) validateJournal(r *Result) {
	if d.cfg.Journal.Path == "" {
		d.addWarning(r, "journal", "journal.path", "journal disabled; runs are not recorded")
		return
	}
	if err := storage.CheckLocalFilesystem(d.cfg.Journal.Path, "journal database"); err != nil {
		d.addError(r, "journal", "journal.path", err.Error())
	}
}

// validateAPIConfig checks the listen address when the API is enabled.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		d.addWarning(r, "api", "api.listen",
			fmt.Sprintf("API listens on %q; it has no authentication", d.cfg.API.Listen))
	}
}

// warnMissingEnvVars warns about ${VAR} references left unresolved.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	envVarRe := regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

	for _, f := range []struct{ field, value string }{
		{"channel.dir", d.cfg.Channel.Dir},
		{"channel.file", d.cfg.Channel.File},
		{"journal.path", d.cfg.Journal.Path},
		{"api.listen", d.cfg.API.Listen},
	} {
		for _, m := range envVarRe.FindAllStringSubmatch(f.value, -1) {
			d.addWarning(r, "env_vars", f.field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
		}
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
