package command

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrFrozen is returned when registering after Finalize.
	ErrFrozen = errors.New("registry is finalized")
	// ErrDuplicate is returned when a name is already registered.
	ErrDuplicate = errors.New("command already registered")
)

// Entry pairs a command name with its item, preserving declaration order.
type Entry struct {
	Name string
	Item *Item
}

// Registry maps command names to items.
type Registry struct {
	mu     sync.RWMutex
	items  map[string]*Item
	order  []string
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*Item)}
}

// Initiate builds a registry from builtins plus caller extensions. Extensions
// are added in name order and never replace a builtin. With replace set the
// builtins are skipped and only the extensions are registered.
func Initiate(builtins []Entry, extra map[string]*Item, replace bool) (*Registry, error) {
	r := NewRegistry()
	if !replace {
		for _, e := range builtins {
			if err := r.Register(e.Name, e.Item); err != nil {
				return nil, err
			}
		}
	}

	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := r.Register(name, extra[name]); err != nil && !errors.Is(err, ErrDuplicate) {
			return nil, err
		}
	}
	return r, nil
}

// Register adds item under name if the name is free.
func (r *Registry) Register(name string, item *Item) error {
	if name == "" {
		return fmt.Errorf("command name is empty")
	}
	if item == nil {
		return fmt.Errorf("command %q: item is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register %q: %w", name, ErrFrozen)
	}
	if _, exists := r.items[name]; exists {
		return fmt.Errorf("register %q: %w", name, ErrDuplicate)
	}
	r.items[name] = item
	r.order = append(r.order, name)
	return nil
}

// Finalize names every item, applies the settle delay and freezes the registry.
// Calling it more than once is harmless.
func (r *Registry) Finalize(settle time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		r.items[name].assign(name, settle)
	}
	r.frozen = true
}

// Lookup returns the item registered under name.
func (r *Registry) Lookup(name string) (*Item, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[name]
	return it, ok
}

// Entries returns every command in registration order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, Entry{Name: name, Item: r.items[name]})
	}
	return out
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
