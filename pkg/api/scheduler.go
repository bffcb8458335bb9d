package api

import "time"

// Handle is a cancellable reference to a scheduled call.
type Handle interface {
	// Cancel stops the call if it has not fired yet. Safe to call twice.
	Cancel()
}

// Scheduler defers function calls. The routing layer uses it both for the
// readiness grace timer and to push crypto round-trips off the inbound
// message path (a slow signature verification must not stall ingestion
// on other channels).
type Scheduler interface {
	// After runs fn once after d has elapsed. A zero d means "as soon as
	// possible, but not synchronously in this call".
	After(d time.Duration, fn func()) Handle
}
