// Package scheduler provides the default timer-backed implementation of the
// api.Scheduler contract.
package scheduler

import (
	"time"

	"pitmesh/pkg/api"
)

// Timers schedules calls on the runtime timer heap. The zero value is ready
// to use.
type Timers struct{}

func New() *Timers { return &Timers{} }

// After runs fn once after d. Even a zero delay fires on a separate
// goroutine, never synchronously in the caller.
func (*Timers) After(d time.Duration, fn func()) api.Handle {
	return &handle{t: time.AfterFunc(d, fn)}
}

type handle struct{ t *time.Timer }

func (h *handle) Cancel() { h.t.Stop() }
