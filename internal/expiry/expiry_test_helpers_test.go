package expiry

import (
	"context"
	"sync"
	"time"

	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/models"
)

type fixedClock struct {
	mu      sync.Mutex
	current time.Time
}

func newFixedClock(t time.Time) *fixedClock {
	return &fixedClock{current: t}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

type queueKey struct {
	hook    string
	eventID uint
}

// fakeQueue records scheduling calls without any real timers. Fires are driven
// explicitly by the tests through the scheduler's handlers.
type fakeQueue struct {
	oneShots  map[queueKey]time.Time
	recurring map[string]time.Duration
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		oneShots:  make(map[queueKey]time.Time),
		recurring: make(map[string]time.Duration),
	}
}

func (q *fakeQueue) ScheduleOnce(at time.Time, hook string, eventID uint) error {
	q.oneShots[queueKey{hook, eventID}] = at
	return nil
}

func (q *fakeQueue) ScheduleRecurring(first time.Time, interval time.Duration, hook string) error {
	if _, ok := q.recurring[hook]; ok {
		return nil
	}
	q.recurring[hook] = interval
	return nil
}

func (q *fakeQueue) NextScheduled(hook string, eventID uint) (time.Time, bool) {
	if at, ok := q.oneShots[queueKey{hook, eventID}]; ok {
		return at, true
	}
	if eventID == 0 {
		if _, ok := q.recurring[hook]; ok {
			return time.Time{}, true
		}
	}
	return time.Time{}, false
}

func (q *fakeQueue) Unschedule(at time.Time, hook string, eventID uint) bool {
	key := queueKey{hook, eventID}
	existing, ok := q.oneShots[key]
	if !ok || !existing.Equal(at) {
		return false
	}
	delete(q.oneShots, key)
	return true
}

func (q *fakeQueue) pending() int {
	return len(q.oneShots)
}

// fakeStore serves events from a map; a nil entry or absent id reads as
// missing. Errors can be forced per id.
type fakeStore struct {
	events map[uint]*models.Event
	errs   map[uint]error
}

func newFakeStore(events ...*models.Event) *fakeStore {
	s := &fakeStore{
		events: make(map[uint]*models.Event),
		errs:   make(map[uint]error),
	}
	for _, evt := range events {
		s.events[evt.ID] = evt
	}
	return s
}

func (s *fakeStore) Lookup(ctx context.Context, id uint) (*models.Event, error) {
	if err, ok := s.errs[id]; ok {
		return nil, err
	}
	return s.events[id], nil
}

// expiredCounter is a bus subscriber counting canonical emissions per id.
type expiredCounter struct {
	byID  map[uint]int
	lastV string
}

func newExpiredCounter(bus *Bus) *expiredCounter {
	c := &expiredCounter{byID: make(map[uint]int)}
	bus.SubscribeExpired(func(ctx context.Context, ev Expired) {
		c.byID[ev.EventID]++
		c.lastV = ev.Via
	})
	return c
}

func (c *expiredCounter) count(id uint) int {
	return c.byID[id]
}
