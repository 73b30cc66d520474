// Package logring keeps the command log shown in the channel's Console
// section: an unbounded history rendered as a fixed-height window of the most
// recent lines.
package logring

import (
	"strings"
	"sync"

	"github.com/mattjoyce/commandxml/internal/channel"
)

// DefaultCapacity is the number of lines rendered when none is configured.
const DefaultCapacity = 25

// BlankLine pads the rendered window when the history is shorter than capacity.
var BlankLine = "|" + strings.Repeat(" ", 76) + "|"

// Ring is the log history. One goroutine appends; any goroutine may read.
type Ring struct {
	mu       sync.RWMutex
	capacity int
	lines    []string
}

// New creates a ring rendering capacity lines.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{capacity: capacity}
}

// Capacity returns the rendered window height.
func (r *Ring) Capacity() int { return r.capacity }

// Append records a line. It does not persist anything.
func (r *Ring) Append(line string) {
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

// Len returns the number of lines ever appended.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lines)
}

// History returns a copy of every line in insertion order.
func (r *Ring) History() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

// Lines returns exactly Capacity entries: blank padding first, then the most
// recent lines oldest-first.
func (r *Ring) Lines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := 0
	if len(r.lines) > r.capacity {
		start = len(r.lines) - r.capacity
	}
	visible := r.lines[start:]

	out := make([]string, 0, r.capacity)
	for i := len(visible); i < r.capacity; i++ {
		out = append(out, BlankLine)
	}
	return append(out, visible...)
}

// Render rewrites doc's Console section with the current window.
func (r *Ring) Render(doc *channel.Document) {
	if doc.Console == nil {
		doc.Console = &channel.Console{}
	}
	doc.Console.Lines = r.Lines()
}
