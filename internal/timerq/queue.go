// Package timerq provides the timer-queue collaborator consumed by the expiry
// core: one-shot callbacks at a wall-clock instant keyed by (hook, event id),
// plus recurring hooks on a fixed interval.
package timerq

import (
	"context"
	"time"
)

// Handler is the callback bound to a hook. For recurring hooks the event id is
// always zero.
type Handler func(ctx context.Context, eventID uint)

// Queue is the scheduling contract consumed by the expiry core. At most one
// one-shot entry exists per (hook, event id) pair at any instant; scheduling
// over an existing entry replaces it.
type Queue interface {
	// ScheduleOnce arranges for the hook's handler to run once at the given
	// instant. Instants in the past fire immediately.
	ScheduleOnce(at time.Time, hook string, eventID uint) error

	// ScheduleRecurring arranges for the hook's handler to run on a fixed
	// interval. The first-run instant is advisory; implementations only
	// guarantee bounded latency between scheduled runs.
	ScheduleRecurring(first time.Time, interval time.Duration, hook string) error

	// NextScheduled reports the next fire time for the (hook, event id) pair,
	// or false when nothing is scheduled. Recurring hooks are queried with
	// event id zero.
	NextScheduled(hook string, eventID uint) (time.Time, bool)

	// Unschedule cancels the entry for (hook, event id) when its scheduled
	// time matches at. It reports whether an entry was removed.
	Unschedule(at time.Time, hook string, eventID uint) bool
}
