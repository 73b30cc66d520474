package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// waitPollInterval is how often WaitIdle re-checks the running flag.
const waitPollInterval = 250 * time.Millisecond

// Handler executes a command.
type Handler func(ctx context.Context, env *Env) error

// CleanupFunc runs once during the shutdown phase for commands that were invoked.
type CleanupFunc func(ctx context.Context, env *Env) error

// Scheduler accepts items whose cleanup must run at shutdown.
type Scheduler interface {
	Schedule(item *Item)
}

// Env is what a handler sees while running.
type Env struct {
	Args   Args
	Out    io.Writer
	Logger *slog.Logger

	stop func()
}

// NewEnv builds a handler environment. stop may be nil.
func NewEnv(args Args, out io.Writer, logger *slog.Logger, stop func()) *Env {
	if args == nil {
		args = Args{}
	}
	if out == nil {
		out = io.Discard
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Env{Args: args, Out: out, Logger: logger, stop: stop}
}

// RequestStop asks the dispatch loop to stop at the next tick boundary.
func (e *Env) RequestStop() {
	if e.stop != nil {
		e.stop()
	}
}

// PanicError is a recovered handler or cleanup panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes a panicked error value.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Item is a registered command: a handler plus optional cleanup and schema.
type Item struct {
	Description string
	Schema      Schema
	Handler     Handler
	Cleanup     CleanupFunc
	// Foreground forces synchronous execution even when the slot asks for a task.
	Foreground bool

	nameOnce sync.Once
	name     string
	settle   time.Duration

	scheduled atomic.Bool
	running   atomic.Bool
}

// New creates an item with a description and handler.
func New(description string, handler Handler) *Item {
	return &Item{Description: description, Handler: handler}
}

// Name is the registry key, assigned when the registry is finalized.
func (it *Item) Name() string { return it.name }

func (it *Item) String() string { return it.name }

// Running reports whether the handler is executing.
func (it *Item) Running() bool { return it.running.Load() }

// CleanupScheduled reports whether the item has been handed to the shutdown phase.
func (it *Item) CleanupScheduled() bool { return it.scheduled.Load() }

func (it *Item) assign(name string, settle time.Duration) {
	it.nameOnce.Do(func() {
		it.name = name
		it.settle = settle
	})
}

// Invoke runs the handler. Errors and panics go to onError and are never
// returned. The call returns once the running flag is observed clear.
func (it *Item) Invoke(ctx context.Context, env *Env, cleanups Scheduler, onError func(error)) {
	if it.Cleanup != nil && cleanups != nil && it.scheduled.CompareAndSwap(false, true) {
		cleanups.Schedule(it)
	}

	it.running.Store(true)
	if err := safeCall(func() error {
		if it.Handler == nil {
			return nil
		}
		return it.Handler(ctx, env)
	}); err != nil && onError != nil {
		onError(err)
	}
	it.running.Store(false)

	it.WaitIdle(ctx)
}

// InvokeCleanup runs the cleanup callback if present, isolating its failures.
func (it *Item) InvokeCleanup(ctx context.Context, env *Env, onError func(error)) {
	if it.Cleanup == nil {
		return
	}
	if err := safeCall(func() error { return it.Cleanup(ctx, env) }); err != nil && onError != nil {
		onError(err)
	}
}

// WaitIdle waits the settle delay, then until no run of this item is in flight.
func (it *Item) WaitIdle(ctx context.Context) {
	if it.settle > 0 {
		t := time.NewTimer(it.settle)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for it.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// Cleanups is the shutdown phase's ordered list of items to clean up.
type Cleanups struct {
	mu    sync.Mutex
	items []*Item
}

// Schedule appends item. Items guard against double scheduling themselves.
func (c *Cleanups) Schedule(item *Item) {
	c.mu.Lock()
	c.items = append(c.items, item)
	c.mu.Unlock()
}

// Items returns the scheduled items in scheduling order.
func (c *Cleanups) Items() []*Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Item, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of scheduled items.
func (c *Cleanups) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
