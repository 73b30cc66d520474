// Package channel owns the shared XML document that external writers use to
// submit commands: its model, its codec and its load/create/save lifecycle.
package channel

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/commandxml/internal/command"
	"github.com/mattjoyce/commandxml/internal/events"
	"github.com/mattjoyce/commandxml/internal/log"
)

// Catalog lists the commands described in a fresh document.
type Catalog interface {
	Entries() []command.Entry
}

// ConsoleRenderer fills a document's Console section.
type ConsoleRenderer interface {
	Render(doc *Document)
}

// Store loads and persists the channel document at a fixed path.
type Store struct {
	path    string
	catalog Catalog
	console ConsoleRenderer
	events  *events.Hub
	logger  *slog.Logger
}

// NewStore creates a store for path. catalog and console may be nil.
func NewStore(path string, catalog Catalog, console ConsoleRenderer) *Store {
	return &Store{
		path:    path,
		catalog: catalog,
		console: console,
		logger:  log.WithComponent("channel"),
	}
}

// WithEvents publishes channel recreation to hub.
func (s *Store) WithEvents(hub *events.Hub) *Store {
	s.events = hub
	return s
}

// Path returns the document location.
func (s *Store) Path() string { return s.path }

// Load reads the document. An unreadable or malformed document is replaced by
// a fresh one and read again; only a second failure is returned.
func (s *Store) Load() (*Document, error) {
	doc, err := s.read()
	if err == nil {
		return doc, nil
	}

	s.logger.Warn("channel unreadable, recreating", "path", s.path, "error", err)
	if _, cerr := s.CreateFresh(); cerr != nil {
		return nil, fmt.Errorf("recreate channel: %w", cerr)
	}
	s.events.Publish(events.TypeChannelRecreated, map[string]any{
		"path":  s.path,
		"error": err.Error(),
	})

	doc, err = s.read()
	if err != nil {
		return nil, fmt.Errorf("load recreated channel: %w", err)
	}
	return doc, nil
}

func (s *Store) read() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read channel: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	doc.Digest = Digest(data)
	return doc, nil
}

// CreateFresh writes and returns a new well-formed document.
func (s *Store) CreateFresh() (*Document, error) {
	var entries []command.Entry
	if s.catalog != nil {
		entries = s.catalog.Entries()
	}
	doc := NewDocument(entries)
	if s.console != nil {
		s.console.Render(doc)
	}
	if err := s.Save(doc); err != nil {
		return nil, err
	}
	s.logger.Info("channel created", "path", s.path, "commands", len(entries))
	return doc, nil
}

// Save atomically replaces the persisted document.
func (s *Store) Save(doc *Document) error {
	data, err := Encode(doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create channel directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp channel: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp channel: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp channel: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp channel: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp channel: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace channel: %w", err)
	}

	doc.Digest = Digest(data)
	return nil
}

// Submit writes a command into the channel the way an external writer would.
func (s *Store) Submit(name string, args map[string]string, task bool) error {
	doc, err := s.Load()
	if err != nil {
		return err
	}
	doc.Submit(name, args, task)
	return s.Save(doc)
}

// Digest returns the BLAKE3 hex digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
