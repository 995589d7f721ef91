package expiry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/cache"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/database/testutil"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/models"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/services"
)

// TestExpiryPipeline drives the full publish-to-cleanup path with a real
// database and event service: the one-shot timer is created on publish, the
// fire clears every member of the cleanup chain, and a duplicate fire leaves
// the settled state untouched.
func TestExpiryPipeline(t *testing.T) {
	ctx := context.Background()
	clock := newFixedClock(baseTime)

	db := testutil.MustOpenTestDB(t)
	store := cache.NewMemoryStore()
	queue := newFakeQueue()
	bus := NewBus()

	svc, err := services.NewEventService(db)
	require.NoError(t, err)

	sched := NewScheduler(queue, svc, bus, WithSchedulerNow(clock.Now))
	NewInvalidator(store, bus)
	svc.OnLifecycle(sched)
	svc.OnEndTimeChange(sched)

	tracker := NewTracker(db, svc, bus, queue, WithTrackerNow(clock.Now))
	svc.OnLifecycle(tracker)

	NewRecorder(db, bus)

	end := baseTime.Add(300 * time.Second)
	evt, err := svc.Create(ctx, services.CreateEventInput{
		Title:   "community meetup",
		EndTime: end.Format(models.EndTimeLayout),
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusDraft, evt.Status)
	require.Zero(t, queue.pending(), "drafts carry no timers")

	_, err = svc.Publish(ctx, evt.ID)
	require.NoError(t, err)

	at, ok := queue.NextScheduled(HookEventExpired, evt.ID)
	require.True(t, ok)
	require.True(t, at.Equal(end))

	tracked, err := tracker.Contains(ctx, evt.ID)
	require.NoError(t, err)
	require.True(t, tracked)

	cacheKeys := append(
		DefaultCacheKeys(DefaultKeyPrefix, evt.ID),
		ObjectCacheKey(evt.ID),
	)
	for i, key := range cacheKeys {
		if i < 3 {
			key = cache.NamespacedKey(DefaultNamespace, key)
		}
		require.NoError(t, store.Set(ctx, key, []byte("cached"), 0))
	}
	require.Equal(t, 4, store.Len())

	clock.Advance(301 * time.Second)
	sched.HandleExpiry(ctx, evt.ID)

	require.Zero(t, queue.pending(), "residual timer must be cancelled")
	require.Zero(t, store.Len(), "all cache keys must be invalidated")

	tracked, err = tracker.Contains(ctx, evt.ID)
	require.NoError(t, err)
	require.False(t, tracked, "tracked-set entry must be removed")

	var logCount int64
	require.NoError(t, db.Model(&models.ExpirationLog{}).
		Where("event_id = ? AND via = ?", evt.ID, ViaTimer).
		Count(&logCount).Error)
	require.EqualValues(t, 1, logCount)

	// A duplicate fire re-runs the chain against already-clean state.
	sched.HandleExpiry(ctx, evt.ID)

	require.Zero(t, queue.pending())
	require.Zero(t, store.Len())
	tracked, err = tracker.Contains(ctx, evt.ID)
	require.NoError(t, err)
	require.False(t, tracked)
}

// TestExpiryPipelineUnpublishBeforeEnd verifies the timer disappears when the
// event leaves published before its end instant, and that no cleanup runs.
func TestExpiryPipelineUnpublishBeforeEnd(t *testing.T) {
	ctx := context.Background()
	clock := newFixedClock(baseTime)

	db := testutil.MustOpenTestDB(t)
	queue := newFakeQueue()
	bus := NewBus()

	svc, err := services.NewEventService(db)
	require.NoError(t, err)

	sched := NewScheduler(queue, svc, bus, WithSchedulerNow(clock.Now))
	svc.OnLifecycle(sched)
	svc.OnEndTimeChange(sched)

	tracker := NewTracker(db, svc, bus, queue, WithTrackerNow(clock.Now))
	svc.OnLifecycle(tracker)
	counter := newExpiredCounter(bus)

	evt, err := svc.Create(ctx, services.CreateEventInput{
		Title:   "community meetup",
		EndTime: baseTime.Add(time.Hour).Format(models.EndTimeLayout),
	})
	require.NoError(t, err)

	_, err = svc.Publish(ctx, evt.ID)
	require.NoError(t, err)
	require.Equal(t, 1, queue.pending())

	_, err = svc.Unpublish(ctx, evt.ID)
	require.NoError(t, err)

	require.Zero(t, queue.pending())
	require.Zero(t, counter.count(evt.ID))

	tracked, err := tracker.Contains(ctx, evt.ID)
	require.NoError(t, err)
	require.False(t, tracked)
}

// TestExpiryPipelineDeleteClearsEverything covers permanent removal while a
// timer is pending.
func TestExpiryPipelineDeleteClearsEverything(t *testing.T) {
	ctx := context.Background()
	clock := newFixedClock(baseTime)

	db := testutil.MustOpenTestDB(t)
	queue := newFakeQueue()
	bus := NewBus()

	svc, err := services.NewEventService(db)
	require.NoError(t, err)

	sched := NewScheduler(queue, svc, bus, WithSchedulerNow(clock.Now))
	svc.OnLifecycle(sched)

	tracker := NewTracker(db, svc, bus, queue, WithTrackerNow(clock.Now))
	svc.OnLifecycle(tracker)

	evt, err := svc.Create(ctx, services.CreateEventInput{
		Title:   "community meetup",
		EndTime: baseTime.Add(time.Hour).Format(models.EndTimeLayout),
	})
	require.NoError(t, err)

	_, err = svc.Publish(ctx, evt.ID)
	require.NoError(t, err)
	require.Equal(t, 1, queue.pending())

	require.NoError(t, svc.Delete(ctx, evt.ID))

	require.Zero(t, queue.pending())
	tracked, err := tracker.Contains(ctx, evt.ID)
	require.NoError(t, err)
	require.False(t, tracked)

	missing, err := svc.Lookup(ctx, evt.ID)
	require.NoError(t, err)
	require.Nil(t, missing)
}

// TestExpiryPipelineSweepRecoversMissedTimer simulates a lost timer: the event
// ends while nothing is scheduled, and the sweep settles it through the same
// cleanup chain a fire would have used.
func TestExpiryPipelineSweepRecoversMissedTimer(t *testing.T) {
	ctx := context.Background()
	clock := newFixedClock(baseTime)

	db := testutil.MustOpenTestDB(t)
	store := cache.NewMemoryStore()
	queue := newFakeQueue()
	bus := NewBus()

	svc, err := services.NewEventService(db)
	require.NoError(t, err)

	NewScheduler(queue, svc, bus, WithSchedulerNow(clock.Now))
	NewInvalidator(store, bus)

	tracker := NewTracker(db, svc, bus, queue, WithTrackerNow(clock.Now))
	svc.OnLifecycle(tracker)

	NewRecorder(db, bus)

	evt, err := svc.Create(ctx, services.CreateEventInput{
		Title:   "community meetup",
		EndTime: baseTime.Add(time.Minute).Format(models.EndTimeLayout),
	})
	require.NoError(t, err)

	// Publish without the scheduler listening, so no timer ever exists.
	_, err = svc.Publish(ctx, evt.ID)
	require.NoError(t, err)
	require.Zero(t, queue.pending())

	require.NoError(t, store.Set(ctx,
		cache.NamespacedKey(DefaultNamespace, DefaultCacheKeys(DefaultKeyPrefix, evt.ID)[0]),
		[]byte("cached"), 0))

	clock.Advance(2 * time.Minute)
	require.NoError(t, tracker.Sweep(ctx))

	require.Zero(t, store.Len())

	tracked, err := tracker.Contains(ctx, evt.ID)
	require.NoError(t, err)
	require.False(t, tracked)

	var logCount int64
	require.NoError(t, db.Model(&models.ExpirationLog{}).
		Where("event_id = ? AND via = ?", evt.ID, ViaSweep).
		Count(&logCount).Error)
	require.EqualValues(t, 1, logCount)
}
