package expiry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/models"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func endTimeAt(t time.Time) string {
	return t.UTC().Format(models.EndTimeLayout)
}

func publishedEvent(id uint, end string) *models.Event {
	return &models.Event{
		ID:      id,
		Kind:    models.KindEvent,
		Title:   "test event",
		Status:  models.StatusPublished,
		EndTime: end,
	}
}

func newTestScheduler(clock *fixedClock, events ...*models.Event) (*Scheduler, *fakeQueue, *fakeStore, *Bus) {
	queue := newFakeQueue()
	store := newFakeStore(events...)
	bus := NewBus()
	sched := NewScheduler(queue, store, bus, WithSchedulerNow(clock.Now))
	return sched, queue, store, bus
}

func TestPublishSchedulesExactlyOneTimer(t *testing.T) {
	clock := newFixedClock(baseTime)
	end := baseTime.Add(300 * time.Second)
	evt := publishedEvent(42, endTimeAt(end))

	sched, queue, _, _ := newTestScheduler(clock, evt)

	sched.HandleTransition(context.Background(), models.StatusDraft, models.StatusPublished, evt)

	at, ok := queue.NextScheduled(HookEventExpired, 42)
	require.True(t, ok)
	require.True(t, at.Equal(end))
	require.Equal(t, 1, queue.pending())
}

func TestRepublishNeverCreatesDuplicateTimers(t *testing.T) {
	clock := newFixedClock(baseTime)
	evt := publishedEvent(42, endTimeAt(baseTime.Add(time.Hour)))

	sched, queue, _, _ := newTestScheduler(clock, evt)

	sched.HandleTransition(context.Background(), models.StatusDraft, models.StatusPublished, evt)
	sched.HandleTransition(context.Background(), models.StatusDraft, models.StatusPublished, evt)

	require.Equal(t, 1, queue.pending())
}

func TestUnpublishCancelsTimer(t *testing.T) {
	clock := newFixedClock(baseTime)
	evt := publishedEvent(42, endTimeAt(baseTime.Add(time.Hour)))

	sched, queue, _, _ := newTestScheduler(clock, evt)

	sched.HandleTransition(context.Background(), models.StatusDraft, models.StatusPublished, evt)
	require.Equal(t, 1, queue.pending())

	sched.HandleTransition(context.Background(), models.StatusPublished, models.StatusDraft, evt)
	require.Zero(t, queue.pending())
}

func TestDeleteCancelsTimer(t *testing.T) {
	clock := newFixedClock(baseTime)
	evt := publishedEvent(42, endTimeAt(baseTime.Add(time.Hour)))

	sched, queue, _, _ := newTestScheduler(clock, evt)

	sched.HandleTransition(context.Background(), models.StatusDraft, models.StatusPublished, evt)
	sched.HandleTransition(context.Background(), models.StatusPublished, models.StatusDeleted, evt)

	require.Zero(t, queue.pending())
}

func TestCancelWithoutTimerIsNoOp(t *testing.T) {
	clock := newFixedClock(baseTime)
	sched, queue, _, _ := newTestScheduler(clock)

	sched.Cancel(context.Background(), 42)
	require.Zero(t, queue.pending())
}

func TestMalformedEndTimeLeavesUnscheduled(t *testing.T) {
	clock := newFixedClock(baseTime)
	evt := publishedEvent(7, "not-a-date")

	sched, queue, _, _ := newTestScheduler(clock, evt)

	sched.HandleTransition(context.Background(), models.StatusDraft, models.StatusPublished, evt)

	require.Zero(t, queue.pending())
}

func TestPastEndTimeLeavesUnscheduled(t *testing.T) {
	clock := newFixedClock(baseTime)
	evt := publishedEvent(7, endTimeAt(baseTime.Add(-time.Minute)))

	sched, queue, _, _ := newTestScheduler(clock, evt)

	sched.HandleTransition(context.Background(), models.StatusDraft, models.StatusPublished, evt)

	require.Zero(t, queue.pending())
}

func TestMissingEndTimeLeavesUnscheduled(t *testing.T) {
	clock := newFixedClock(baseTime)
	evt := publishedEvent(7, "")

	sched, queue, _, _ := newTestScheduler(clock, evt)

	sched.HandleTransition(context.Background(), models.StatusDraft, models.StatusPublished, evt)

	require.Zero(t, queue.pending())
}

func TestFireBeforeEndIsStale(t *testing.T) {
	clock := newFixedClock(baseTime)
	evt := publishedEvent(42, endTimeAt(baseTime.Add(time.Hour)))

	sched, queue, _, bus := newTestScheduler(clock, evt)
	counter := newExpiredCounter(bus)

	sched.HandleTransition(context.Background(), models.StatusDraft, models.StatusPublished, evt)
	sched.HandleExpiry(context.Background(), 42)

	require.Zero(t, counter.count(42), "stale fire must not emit the canonical event")
	require.Equal(t, 1, queue.pending(), "stale fire must not remove the timer")
}

func TestFireAfterEndEmitsOnceAndClearsTimer(t *testing.T) {
	clock := newFixedClock(baseTime)
	end := baseTime.Add(300 * time.Second)
	evt := publishedEvent(42, endTimeAt(end))

	sched, queue, _, bus := newTestScheduler(clock, evt)
	counter := newExpiredCounter(bus)

	sched.HandleTransition(context.Background(), models.StatusDraft, models.StatusPublished, evt)

	clock.Advance(301 * time.Second)
	sched.HandleExpiry(context.Background(), 42)

	require.Equal(t, 1, counter.count(42))
	require.Equal(t, ViaTimer, counter.lastV)
	require.Zero(t, queue.pending(), "no timer may survive the canonical event")
}

func TestFireForMissingEventAbortsSilently(t *testing.T) {
	clock := newFixedClock(baseTime)
	sched, _, _, bus := newTestScheduler(clock)
	counter := newExpiredCounter(bus)

	sched.HandleExpiry(context.Background(), 404)

	require.Zero(t, counter.count(404))
}

func TestFireForWrongKindAbortsSilently(t *testing.T) {
	clock := newFixedClock(baseTime)
	page := &models.Event{
		ID:      9,
		Kind:    "page",
		Status:  models.StatusPublished,
		EndTime: endTimeAt(baseTime.Add(-time.Hour)),
	}

	sched, _, _, bus := newTestScheduler(clock, page)
	counter := newExpiredCounter(bus)

	sched.HandleExpiry(context.Background(), 9)

	require.Zero(t, counter.count(9))
}

func TestFireLookupErrorDoesNotEmit(t *testing.T) {
	clock := newFixedClock(baseTime)
	sched, _, store, bus := newTestScheduler(clock)
	counter := newExpiredCounter(bus)

	store.errs[5] = errors.New("store unavailable")
	sched.HandleExpiry(context.Background(), 5)

	require.Zero(t, counter.count(5))
}

func TestEndTimeChangeReschedules(t *testing.T) {
	clock := newFixedClock(baseTime)
	firstEnd := baseTime.Add(time.Hour)
	evt := publishedEvent(42, endTimeAt(firstEnd))

	sched, queue, _, _ := newTestScheduler(clock, evt)

	sched.HandleTransition(context.Background(), models.StatusDraft, models.StatusPublished, evt)

	newEnd := baseTime.Add(2 * time.Hour)
	evt.EndTime = endTimeAt(newEnd)
	sched.HandleEndTimeChange(context.Background(), evt)

	at, ok := queue.NextScheduled(HookEventExpired, 42)
	require.True(t, ok)
	require.True(t, at.Equal(newEnd))
	require.Equal(t, 1, queue.pending())
}

func TestEndTimeChangeToInvalidCancels(t *testing.T) {
	clock := newFixedClock(baseTime)
	evt := publishedEvent(42, endTimeAt(baseTime.Add(time.Hour)))

	sched, queue, _, _ := newTestScheduler(clock, evt)

	sched.HandleTransition(context.Background(), models.StatusDraft, models.StatusPublished, evt)

	evt.EndTime = "not-a-date"
	sched.HandleEndTimeChange(context.Background(), evt)

	require.Zero(t, queue.pending())
}

func TestEndTimeChangeOnDraftDoesNotSchedule(t *testing.T) {
	clock := newFixedClock(baseTime)
	evt := publishedEvent(42, endTimeAt(baseTime.Add(time.Hour)))
	evt.Status = models.StatusDraft

	sched, queue, _, _ := newTestScheduler(clock, evt)

	sched.HandleEndTimeChange(context.Background(), evt)

	require.Zero(t, queue.pending())
}

func TestManualTriggerSafeForUnscheduledID(t *testing.T) {
	clock := newFixedClock(baseTime)
	ended := publishedEvent(11, endTimeAt(baseTime.Add(-time.Minute)))

	sched, _, _, bus := newTestScheduler(clock, ended)
	counter := newExpiredCounter(bus)

	sched.Trigger(context.Background(), 11)
	require.Equal(t, 1, counter.count(11))
	require.Equal(t, ViaManual, counter.lastV)

	// An id that never resolved to an ended event stays silent.
	sched.Trigger(context.Background(), 999)
	require.Zero(t, counter.count(999))
}

func TestDuplicateFireLeavesStateUnchanged(t *testing.T) {
	clock := newFixedClock(baseTime)
	evt := publishedEvent(42, endTimeAt(baseTime.Add(time.Minute)))

	sched, queue, _, _ := newTestScheduler(clock, evt)

	sched.HandleTransition(context.Background(), models.StatusDraft, models.StatusPublished, evt)
	clock.Advance(2 * time.Minute)

	sched.HandleExpiry(context.Background(), 42)
	require.Zero(t, queue.pending())

	// Second fire for the same id is a benign duplicate.
	sched.HandleExpiry(context.Background(), 42)
	require.Zero(t, queue.pending())
}
