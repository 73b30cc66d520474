// Package dispatch runs the command loop over the shared channel document.
//
// The Dispatcher polls the channel on a fixed tick, executes every pending
// command slot in document order, records the outcome in the log ring and
// clears the slots before saving. It is the only writer of the document,
// the status field and the log ring.
//
// Execution modes:
//   - Foreground (default): runs on the loop goroutine. Status shows
//     "Running Command X" while it runs and "Finish Running X" afterwards.
//   - Background (task="true"): runs on its own goroutine. The worker never
//     touches the document; the loop logs its completion on a later tick.
//     Status only ever reflects foreground work.
//
// Error handling:
//   - Unreadable channel → recreated by the store, tick retried next interval
//   - Unknown command → logged, slot cleared
//   - Validation failure → every problem logged, command skipped, slot cleared
//   - Handler error or panic → logged with stack, OnError hook, loop continues
//   - Cleanup error or panic → logged, remaining cleanups still run
//
// Shutdown is cooperative: Stop (or the End command) sets a flag that the
// next tick observes. Shutdown then waits for background tasks and runs each
// scheduled cleanup exactly once.
package dispatch
