// Package command holds the command registry and the invocation contract for
// registered commands.
//
// An Item wraps one handler and an optional cleanup callback. The first time
// an Item is invoked its cleanup (if any) is scheduled on the shutdown phase's
// Cleanups list; later invocations never schedule it again. Handler and
// cleanup failures, including panics, are caught at the Item boundary and
// reported through the caller's onError callback so a failing command never
// takes down the dispatch loop.
//
// Attribute schemas are declarative: each Field names an attribute and one
// of a closed set of scalar Kinds, and Validate checks every field before
// reporting, so the error lists every offending attribute.
package command
