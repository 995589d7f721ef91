package timerq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/pkg/logger"
)

type entryKey struct {
	hook    string
	eventID uint
}

type oneShot struct {
	at    time.Time
	timer *time.Timer
}

// MemoryQueue is an in-process Queue. One-shot entries are backed by runtime
// timers; recurring hooks are driven by a cron instance so interval delivery
// survives long uptimes without drift accumulation.
type MemoryQueue struct {
	mu        sync.Mutex
	handlers  map[string]Handler
	oneShots  map[entryKey]*oneShot
	recurring map[string]cron.EntryID
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
}

// MemoryOption customises the MemoryQueue.
type MemoryOption func(*MemoryQueue)

// WithNow overrides the clock used to compute one-shot delays, primarily for
// testing.
func WithNow(now func() time.Time) MemoryOption {
	return func(q *MemoryQueue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) MemoryOption {
	return func(q *MemoryQueue) {
		if c != nil {
			q.cron = c
		}
	}
}

// NewMemoryQueue constructs an empty queue. Hooks must be registered before
// anything is scheduled against them.
func NewMemoryQueue(opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{
		handlers:  make(map[string]Handler),
		oneShots:  make(map[entryKey]*oneShot),
		recurring: make(map[string]cron.EntryID),
		now:       time.Now,
		log:       logger.WithModule("timerq"),
	}

	for _, opt := range opts {
		opt(q)
	}

	if q.cron == nil {
		q.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return q
}

// Register binds a hook name to its handler. Scheduling against an unknown
// hook is an error.
func (q *MemoryQueue) Register(hook string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[hook] = handler
}

// Start launches the recurring schedule engine.
func (q *MemoryQueue) Start() {
	q.cron.Start()
}

// Stop halts recurring delivery and cancels all pending one-shot timers. The
// returned context completes when running cron jobs have finished.
func (q *MemoryQueue) Stop() context.Context {
	q.mu.Lock()
	for key, entry := range q.oneShots {
		entry.timer.Stop()
		delete(q.oneShots, key)
	}
	q.mu.Unlock()

	return q.cron.Stop()
}

// ScheduleOnce implements Queue. An existing entry for the pair is replaced.
func (q *MemoryQueue) ScheduleOnce(at time.Time, hook string, eventID uint) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	handler, ok := q.handlers[hook]
	if !ok {
		return fmt.Errorf("timerq: no handler registered for hook %q", hook)
	}

	key := entryKey{hook: hook, eventID: eventID}
	if existing, ok := q.oneShots[key]; ok {
		existing.timer.Stop()
		delete(q.oneShots, key)
	}

	delay := at.Sub(q.now())
	if delay < 0 {
		delay = 0
	}

	entry := &oneShot{at: at}
	entry.timer = time.AfterFunc(delay, func() {
		q.fire(key, handler)
	})
	q.oneShots[key] = entry

	return nil
}

// ScheduleRecurring implements Queue. Registering a hook that already has a
// recurring schedule is a no-op, which keeps setup idempotent across restarts.
func (q *MemoryQueue) ScheduleRecurring(first time.Time, interval time.Duration, hook string) error {
	if interval <= 0 {
		return fmt.Errorf("timerq: recurring interval must be positive, got %s", interval)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	handler, ok := q.handlers[hook]
	if !ok {
		return fmt.Errorf("timerq: no handler registered for hook %q", hook)
	}
	if _, ok := q.recurring[hook]; ok {
		return nil
	}

	id := q.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		handler(context.Background(), 0)
	}))
	q.recurring[hook] = id

	q.log.Debug("recurring hook scheduled",
		zap.String("hook", hook),
		zap.Duration("interval", interval),
		zap.Time("requested_first_run", first))

	return nil
}

// NextScheduled implements Queue.
func (q *MemoryQueue) NextScheduled(hook string, eventID uint) (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if entry, ok := q.oneShots[entryKey{hook: hook, eventID: eventID}]; ok {
		return entry.at, true
	}

	if eventID == 0 {
		if id, ok := q.recurring[hook]; ok {
			next := q.cron.Entry(id).Next
			return next, true
		}
	}

	return time.Time{}, false
}

// Unschedule implements Queue.
func (q *MemoryQueue) Unschedule(at time.Time, hook string, eventID uint) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := entryKey{hook: hook, eventID: eventID}
	entry, ok := q.oneShots[key]
	if !ok || !entry.at.Equal(at) {
		return false
	}

	entry.timer.Stop()
	delete(q.oneShots, key)
	return true
}

// Pending reports the number of live one-shot entries, used by tests.
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.oneShots)
}

func (q *MemoryQueue) fire(key entryKey, handler Handler) {
	q.mu.Lock()
	if entry, ok := q.oneShots[key]; ok {
		entry.timer.Stop()
		delete(q.oneShots, key)
	}
	q.mu.Unlock()

	handler(context.Background(), key.eventID)
}
