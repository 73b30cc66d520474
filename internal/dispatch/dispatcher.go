package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/commandxml/internal/channel"
	"github.com/mattjoyce/commandxml/internal/command"
	"github.com/mattjoyce/commandxml/internal/events"
	"github.com/mattjoyce/commandxml/internal/journal"
	"github.com/mattjoyce/commandxml/internal/log"
	"github.com/mattjoyce/commandxml/internal/logring"
)

// State is the loop's position in its tick cycle.
type State string

const (
	StateIdle       State = "idle"
	StateReading    State = "reading"
	StateValidating State = "validating"
	StateExecuting  State = "executing"
	StateStopped    State = "stopped"
)

// Status strings written to the channel.
const (
	StatusIdle    = "Idle"
	StatusCleanup = "Running cleanup functions"
)

const defaultTickInterval = 1 * time.Second

// Options configures a Dispatcher.
type Options struct {
	TickInterval time.Duration
	// SettleDelay is applied to every command when the registry is finalized.
	SettleDelay time.Duration
	// Out receives handler output. Defaults to os.Stdout.
	Out      io.Writer
	Events   *events.Hub
	Recorder Recorder

	// OnRunCommand fires right before a handler executes.
	OnRunCommand func(item *command.Item)
	// OnError fires when a handler or cleanup fails.
	OnError func(item *command.Item, err error)
}

// result is the outcome of one invocation.
type result struct {
	item     *command.Item
	runID    string
	mode     journal.Mode
	err      error
	started  time.Time
	finished time.Time
}

// Dispatcher owns the poll-execute-clear-persist loop.
type Dispatcher struct {
	store    ChannelStore
	registry *command.Registry
	ring     *logring.Ring
	cleanups *command.Cleanups
	opts     Options
	logger   *slog.Logger

	stop  atomic.Bool
	state atomic.Value

	statusMu sync.RWMutex
	status   string

	tasks      sync.WaitGroup
	finishedMu sync.Mutex
	finished   []result

	done    chan struct{}
	runErr  error
	started atomic.Bool
}

// New creates a Dispatcher and finalizes the registry.
func New(store ChannelStore, registry *command.Registry, ring *logring.Ring, opts Options) *Dispatcher {
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if ring == nil {
		ring = logring.New(logring.DefaultCapacity)
	}
	registry.Finalize(opts.SettleDelay)

	d := &Dispatcher{
		store:    store,
		registry: registry,
		ring:     ring,
		cleanups: &command.Cleanups{},
		opts:     opts,
		logger:   log.WithComponent("dispatch"),
		status:   channel.StatusIdle,
		done:     make(chan struct{}),
	}
	d.state.Store(StateIdle)
	return d
}

// Stop asks the loop to stop at the next tick boundary.
func (d *Dispatcher) Stop() {
	d.stop.Store(true)
}

// Stopping reports whether Stop has been requested.
func (d *Dispatcher) Stopping() bool {
	return d.stop.Load()
}

// State returns the loop state.
func (d *Dispatcher) State() State {
	return d.state.Load().(State)
}

// Status returns the last status written to the channel.
func (d *Dispatcher) Status() string {
	d.statusMu.RLock()
	defer d.statusMu.RUnlock()
	return d.status
}

// Ring returns the log ring.
func (d *Dispatcher) Ring() *logring.Ring { return d.ring }

// Registry returns the command registry.
func (d *Dispatcher) Registry() *command.Registry { return d.registry }

// Cleanups returns the shutdown phase's cleanup list.
func (d *Dispatcher) Cleanups() *command.Cleanups { return d.cleanups }

// Running returns the names of commands whose handlers are executing.
func (d *Dispatcher) Running() []string {
	var names []string
	for _, e := range d.registry.Entries() {
		if e.Item.Running() {
			names = append(names, e.Name)
		}
	}
	return names
}

// Start runs Serve on its own goroutine. Use Wait to block until it returns.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		d.runErr = d.serve(ctx)
		close(d.done)
	}()
}

// Serve runs the loop until it stops, then the cleanup phase. It blocks.
func (d *Dispatcher) Serve(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.New("dispatcher already started")
	}
	d.runErr = d.serve(ctx)
	close(d.done)
	return d.runErr
}

func (d *Dispatcher) serve(ctx context.Context) error {
	runErr := d.Run(ctx)

	// After Stop, cancelling ctx abandons the cleanup phase. After
	// cancellation, cleanups still run.
	shutdownCtx := ctx
	if ctx.Err() != nil {
		shutdownCtx = context.WithoutCancel(ctx)
	}
	if err := d.Shutdown(shutdownCtx); err != nil {
		d.logger.Error("shutdown failed", "error", err)
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// Done is closed once Serve (or Start's goroutine) has returned.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Wait blocks until the dispatcher started with Start has finished.
func (d *Dispatcher) Wait() error {
	<-d.done
	return d.runErr
}

// Run polls the channel every tick until Stop is called or ctx is cancelled.
// It does not run cleanups; see Shutdown.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatch loop started", "tick_interval", d.opts.TickInterval)
	defer d.logger.Info("dispatch loop stopped")
	defer d.state.Store(StateStopped)

	ticker := time.NewTicker(d.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if d.stop.Load() {
				return nil
			}
			if err := d.Tick(ctx); err != nil {
				// Keep polling; the next tick retries.
				d.logger.Error("tick failed", "error", err)
			}
		}
	}
}

// Tick performs one poll-read-execute-clear-persist cycle.
func (d *Dispatcher) Tick(ctx context.Context) error {
	d.state.Store(StateReading)
	defer d.state.Store(StateIdle)

	doc, err := d.store.Load()
	if err != nil {
		return fmt.Errorf("load channel: %w", err)
	}

	digest := doc.Digest
	drained := d.drainFinished()

	pending := doc.Pending()
	for _, slot := range pending {
		d.handleSlot(ctx, doc, slot, digest)
	}

	if len(pending) == 0 && drained == 0 {
		return nil
	}

	if len(pending) > 0 {
		doc.ClearSlots()
		d.setStatus(doc, StatusIdle)
		d.opts.Events.Publish(events.TypeTick, map[string]any{
			"processed": len(pending),
			"digest":    digest,
		})
	}
	d.ring.Render(doc)
	if err := d.store.Save(doc); err != nil {
		return fmt.Errorf("save channel: %w", err)
	}
	return nil
}

func (d *Dispatcher) handleSlot(ctx context.Context, doc *channel.Document, slot *channel.Slot, digest string) {
	name := slot.Name()
	item, ok := d.registry.Lookup(name)
	if !ok {
		d.writeLine("Unknown Command: " + name)
		d.opts.Events.Publish(events.TypeCommandUnknown, map[string]any{"command": name})
		d.record(ctx, result{
			mode:     journal.ModeForeground,
			err:      errors.New("unknown command"),
			started:  time.Now(),
			finished: time.Now(),
		}, name, journal.StatusRejected, digest)
		return
	}

	args := slot.Args()
	if len(item.Schema) > 0 {
		d.state.Store(StateValidating)
		if err := command.Validate(args, item.Schema); err != nil {
			d.writeLine("Could not validate value types: \n" + err.Error())
			d.opts.Events.Publish(events.TypeCommandInvalid, map[string]any{
				"command": name,
				"error":   err.Error(),
			})
			d.record(ctx, result{
				item:     item,
				mode:     journal.ModeForeground,
				err:      err,
				started:  time.Now(),
				finished: time.Now(),
			}, name, journal.StatusRejected, digest)
			return
		}
	}

	d.state.Store(StateExecuting)
	if slot.Task() {
		if !item.Foreground {
			d.startTask(ctx, item, args, digest)
			return
		}
		d.logger.Info("command is foreground-only, ignoring task attribute", "command", name)
	}
	d.runForeground(ctx, doc, item, args, digest)
}

func (d *Dispatcher) runForeground(ctx context.Context, doc *channel.Document, item *command.Item, args command.Args, digest string) {
	name := item.Name()
	d.setStatus(doc, "Running Command "+name)
	d.writeLine("Starting Command " + name)
	// Let observers see the running status while the handler works.
	d.persist(doc)

	res := d.invoke(ctx, item, args, journal.ModeForeground, digest)
	if res.err != nil {
		d.writeLine("Error when running command: " + name)
	}

	d.setStatus(doc, "Finish Running "+name)
	d.writeLine("Finished Command " + name)
}

func (d *Dispatcher) startTask(ctx context.Context, item *command.Item, args command.Args, digest string) {
	d.writeLine("Starting Command TASK: " + item.Name())

	d.tasks.Add(1)
	go func() {
		defer d.tasks.Done()
		res := d.invoke(ctx, item, args, journal.ModeBackground, digest)

		d.finishedMu.Lock()
		d.finished = append(d.finished, res)
		d.finishedMu.Unlock()
	}()
}

// drainFinished logs background tasks that completed since the last tick.
func (d *Dispatcher) drainFinished() int {
	d.finishedMu.Lock()
	done := d.finished
	d.finished = nil
	d.finishedMu.Unlock()

	for _, res := range done {
		name := res.item.Name()
		if res.err != nil {
			d.writeLine("Error when running command: " + name)
		}
		d.writeLine("Finish Running TASK " + name)
	}
	return len(done)
}

// invoke runs item and reports the outcome through hooks, events, the
// external log and the journal. It never touches the document or the ring,
// so it is safe on worker goroutines.
func (d *Dispatcher) invoke(ctx context.Context, item *command.Item, args command.Args, mode journal.Mode, digest string) result {
	res := result{
		item:    item,
		runID:   journal.NewRunID(),
		mode:    mode,
		started: time.Now(),
	}
	logger := log.WithInvocation(item.Name(), res.runID).With("mode", string(mode))

	if d.opts.OnRunCommand != nil {
		d.opts.OnRunCommand(item)
	}
	d.opts.Events.Publish(events.TypeCommandStarted, map[string]any{
		"command": item.Name(),
		"run_id":  res.runID,
		"mode":    mode,
	})
	logger.Info("command started")

	env := command.NewEnv(args, d.opts.Out, logger, d.Stop)
	item.Invoke(ctx, env, d.cleanups, func(err error) {
		res.err = err
		d.reportError(logger, item, "Error when running command", err)
	})
	res.finished = time.Now()

	status := journal.StatusSucceeded
	eventType := events.TypeCommandFinished
	payload := map[string]any{
		"command":     item.Name(),
		"run_id":      res.runID,
		"mode":        mode,
		"duration_ms": res.finished.Sub(res.started).Milliseconds(),
	}
	if res.err != nil {
		status = journal.StatusFailed
		eventType = events.TypeCommandFailed
		payload["error"] = res.err.Error()
	}
	d.opts.Events.Publish(eventType, payload)
	logger.Info("command finished", "status", string(status), "duration_ms", payload["duration_ms"])
	d.record(ctx, res, item.Name(), status, digest)
	return res
}

// Shutdown waits for background tasks, then runs every scheduled cleanup once.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.state.Store(StateStopped)

	waited := make(chan struct{})
	go func() {
		d.tasks.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return fmt.Errorf("wait for background tasks: %w", ctx.Err())
	}
	d.drainFinished()

	doc, err := d.store.Load()
	if err != nil {
		// Cleanups still run; only persistence is lost.
		d.logger.Error("load channel for cleanup", "error", err)
		doc = nil
	}
	if doc != nil {
		d.setStatus(doc, StatusCleanup)
		d.persist(doc)
	}

	for _, item := range d.cleanups.Items() {
		d.runCleanup(ctx, item)
		if doc != nil {
			d.persist(doc)
		}
	}

	d.opts.Events.Publish(events.TypeDispatchStopped, map[string]any{
		"cleanups": d.cleanups.Len(),
	})
	return nil
}

func (d *Dispatcher) runCleanup(ctx context.Context, item *command.Item) {
	name := item.Name()
	d.writeLine("Running cleanup function from command: " + name)

	res := result{item: item, runID: journal.NewRunID(), mode: journal.ModeCleanup, started: time.Now()}
	logger := log.WithInvocation(name, res.runID).With("mode", string(journal.ModeCleanup))

	env := command.NewEnv(nil, d.opts.Out, logger, nil)
	item.InvokeCleanup(ctx, env, func(err error) {
		res.err = err
		d.reportError(logger, item, "Error for cleanup function for command", err)
	})
	res.finished = time.Now()

	status := journal.StatusSucceeded
	if res.err != nil {
		status = journal.StatusFailed
		d.writeLine("Could not execute cleanup function for command: " + name + " check console")
	}
	d.writeLine("Finished running cleanup function from command: " + name)

	payload := map[string]any{"command": name, "run_id": res.runID, "status": status}
	if res.err != nil {
		payload["error"] = res.err.Error()
	}
	d.opts.Events.Publish(events.TypeCleanupFinished, payload)
	d.record(ctx, res, name, status, "")
}

func (d *Dispatcher) reportError(logger *slog.Logger, item *command.Item, msg string, err error) {
	attrs := []any{"error", err}
	var perr *command.PanicError
	if errors.As(err, &perr) {
		attrs = append(attrs, "stack", string(perr.Stack))
	}
	logger.Error(msg, attrs...)

	if d.opts.OnError != nil {
		d.opts.OnError(item, err)
	}
}

func (d *Dispatcher) record(ctx context.Context, res result, name string, status journal.Status, digest string) {
	if d.opts.Recorder == nil {
		return
	}
	run := journal.Run{
		ID:         res.runID,
		Command:    name,
		Mode:       res.mode,
		Status:     status,
		DocDigest:  digest,
		StartedAt:  res.started,
		FinishedAt: res.finished,
	}
	if res.err != nil {
		run.Error = res.err.Error()
	}
	if _, err := d.opts.Recorder.Record(context.WithoutCancel(ctx), run); err != nil {
		d.logger.Warn("failed to record run", "command", name, "error", err)
	}
}

// writeLine appends to the ring and mirrors the line to the external log.
func (d *Dispatcher) writeLine(line string) {
	d.ring.Append(line)
	d.logger.Info("console", "line", line)
}

func (d *Dispatcher) setStatus(doc *channel.Document, status string) {
	doc.SetStatus(status)
	d.statusMu.Lock()
	d.status = status
	d.statusMu.Unlock()
}

// persist renders the ring and saves, logging failures.
func (d *Dispatcher) persist(doc *channel.Document) {
	d.ring.Render(doc)
	if err := d.store.Save(doc); err != nil {
		d.logger.Error("failed to save channel", "error", err)
	}
}
