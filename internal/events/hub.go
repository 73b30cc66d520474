// Package events fans dispatcher activity out to in-process subscribers and
// keeps a short ring of recent events for late readers such as the API.
package events

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the dispatcher and the channel store.
const (
	TypeTick             = "dispatch.tick"
	TypeCommandStarted   = "command.started"
	TypeCommandFinished  = "command.finished"
	TypeCommandFailed    = "command.failed"
	TypeCommandUnknown   = "command.unknown"
	TypeCommandInvalid   = "command.invalid"
	TypeCleanupFinished  = "cleanup.finished"
	TypeDispatchStopped  = "dispatch.stopped"
	TypeChannelRecreated = "channel.recreated"
)

const subscriberBuffer = 64

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Filter selects events. A nil Filter matches everything.
type Filter func(Event) bool

// Prefix matches events whose type starts with any of prefixes, so
// "command." selects every command event. No prefixes yields a nil Filter.
func Prefix(prefixes ...string) Filter {
	var keep []string
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			keep = append(keep, p)
		}
	}
	if len(keep) == 0 {
		return nil
	}
	return func(ev Event) bool {
		for _, p := range keep {
			if strings.HasPrefix(ev.Type, p) {
				return true
			}
		}
		return false
	}
}

func (f Filter) match(ev Event) bool {
	return f == nil || f(ev)
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
type Hub struct {
	nextID  atomic.Int64
	dropped atomic.Int64

	mu     sync.Mutex
	recent ring

	subs      map[int]subscriber
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		recent: ring{buf: make([]Event, capacity)},
		subs:   make(map[int]subscriber),
	}
}

// Publish records an event and offers it to matching subscribers. A nil
// hub drops it.
func (h *Hub) Publish(eventType string, data any) {
	if h == nil {
		return
	}

	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// IDs are assigned under the lock so the ring stays in ID order.
	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	h.recent.push(ev)

	for _, sub := range h.subs {
		if !sub.filter.match(ev) {
			continue
		}
		// Slow subscribers miss events rather than stall the dispatch loop.
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe delivers future events matching filter until cancel is called.
func (h *Hub) Subscribe(filter Filter) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = subscriber{ch: ch, filter: filter}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}

	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID that match filter,
// oldest first.
func (h *Hub) SnapshotSince(lastID int64, filter Filter) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recent.since(lastID, filter)
}

// LastID returns the ID of the most recently published event.
func (h *Hub) LastID() int64 {
	return h.nextID.Load()
}

// Dropped counts events a full subscriber buffer refused.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// ring keeps the newest len(buf) events.
type ring struct {
	buf   []Event
	start int
	size  int
}

func (r *ring) push(ev Event) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = ev
		r.size++
		return
	}
	r.buf[r.start] = ev
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(lastID int64, filter Filter) []Event {
	out := make([]Event, 0, r.size)
	for i := 0; i < r.size; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.ID > lastID && filter.match(ev) {
			out = append(out, ev)
		}
	}
	return out
}
