package expiry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/models"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/timerq"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/pkg/logger"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/pkg/metrics"
)

// HookTrackedSweep is the timer-queue hook carrying the recurring
// reconciliation sweep.
const HookTrackedSweep = "gatherpress_tracked_sweep"

// DefaultSweepInterval is a tunable default; any periodic invocation with
// bounded latency satisfies the recovery contract.
const DefaultSweepInterval = 24 * time.Hour

// Tracker maintains the durable set of not-yet-expired event ids and the
// periodic sweep that cross-checks it against authoritative state. It is the
// sole recovery mechanism for expiry timers that never fired (host downtime,
// queue eviction, clock skew). When the feature is disabled the tracker is
// simply never constructed, so none of its hooks exist and the set is never
// touched.
type Tracker struct {
	db       *gorm.DB
	store    Store
	bus      *Bus
	queue    timerq.Queue
	log      *zap.Logger
	now      func() time.Time
	interval time.Duration
}

// TrackerOption customises the Tracker.
type TrackerOption func(*Tracker)

// WithSweepInterval overrides the recurring sweep interval.
func WithSweepInterval(interval time.Duration) TrackerOption {
	return func(t *Tracker) {
		if interval > 0 {
			t.interval = interval
		}
	}
}

// WithTrackerNow overrides the clock used by the sweep, primarily for testing.
func WithTrackerNow(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker constructs the tracker and subscribes tracked-set removal to the
// canonical expired event, so every emission path converges on the same
// cleanup.
func NewTracker(db *gorm.DB, store Store, bus *Bus, queue timerq.Queue, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		db:       db,
		store:    store,
		bus:      bus,
		queue:    queue,
		log:      logger.WithModule("expiry.tracker"),
		now:      time.Now,
		interval: DefaultSweepInterval,
	}

	for _, opt := range opts {
		opt(t)
	}

	bus.SubscribeExpired(func(ctx context.Context, ev Expired) {
		if err := t.Remove(ctx, ev.EventID); err != nil {
			t.log.Warn("tracked-set removal failed", zap.Uint("event_id", ev.EventID), zap.Error(err))
		}
	})

	return t
}

// Start registers the recurring sweep with the timer queue if no schedule
// exists yet. The check makes setup self-healing: a lost schedule is recreated
// on the next start, an existing one is left alone.
func (t *Tracker) Start() error {
	if _, ok := t.queue.NextScheduled(HookTrackedSweep, 0); ok {
		return nil
	}
	return t.queue.ScheduleRecurring(t.now().Add(t.interval), t.interval, HookTrackedSweep)
}

// HandleTransition mirrors lifecycle changes into the tracked set: entering
// published adds the id, leaving published removes it. The add is intentionally
// independent of end-datetime validity, so an event with a malformed end time
// is tracked even though no timer exists for it; the sweep later settles it
// either way.
func (t *Tracker) HandleTransition(ctx context.Context, oldStatus, newStatus string, evt *models.Event) {
	if evt == nil || evt.Kind != models.KindEvent {
		return
	}

	switch {
	case newStatus == models.StatusPublished && oldStatus != models.StatusPublished:
		if err := t.Add(ctx, evt.ID); err != nil {
			t.log.Warn("tracked-set insert failed", zap.Uint("event_id", evt.ID), zap.Error(err))
		}
	case oldStatus == models.StatusPublished && newStatus != models.StatusPublished:
		if err := t.Remove(ctx, evt.ID); err != nil {
			t.log.Warn("tracked-set removal failed", zap.Uint("event_id", evt.ID), zap.Error(err))
		}
	}
}

// Add inserts the id into the tracked set. Inserting an id that is already
// present is a no-op.
func (t *Tracker) Add(ctx context.Context, id uint) error {
	if id == 0 {
		return nil
	}

	return t.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.TrackedEvent{EventID: id}).Error
}

// Remove deletes the id from the tracked set. Removing an absent id is a
// no-op.
func (t *Tracker) Remove(ctx context.Context, id uint) error {
	return t.db.WithContext(ctx).
		Delete(&models.TrackedEvent{}, "event_id = ?", id).Error
}

// Contains reports tracked-set membership, used by tests and diagnostics.
func (t *Tracker) Contains(ctx context.Context, id uint) (bool, error) {
	var count int64
	err := t.db.WithContext(ctx).
		Model(&models.TrackedEvent{}).
		Where("event_id = ?", id).
		Count(&count).Error
	return count > 0, err
}

// IDs returns the tracked ids, discarding non-positive values.
func (t *Tracker) IDs(ctx context.Context) ([]uint, error) {
	var raw []uint
	if err := t.db.WithContext(ctx).
		Model(&models.TrackedEvent{}).
		Pluck("event_id", &raw).Error; err != nil {
		return nil, fmt.Errorf("tracker: read tracked set: %w", err)
	}

	ids := make([]uint, 0, len(raw))
	for _, id := range raw {
		if id > 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Sweep reconciles the tracked set against authoritative event state. Ids that
// no longer resolve to an event row are dropped; ids whose event has ended get
// the canonical expired event re-emitted, which removes them from the set and
// invalidates caches exactly as a timer fire would. Everything else is left
// untouched. Per-id failures are aggregated so one bad row never stalls the
// rest of the sweep.
func (t *Tracker) Sweep(ctx context.Context) error {
	metrics.SweepRuns.Inc()

	ids, err := t.IDs(ctx)
	if err != nil {
		return err
	}

	var errs error
	for _, id := range ids {
		evt, err := t.store.Lookup(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("tracker: lookup event %d: %w", id, err))
			continue
		}

		if evt == nil || evt.Kind != models.KindEvent {
			if err := t.Remove(ctx, id); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("tracker: drop stale id %d: %w", id, err))
			}
			continue
		}

		if !evt.HasEnded(t.now()) {
			continue
		}

		metrics.SweepDetections.Inc()
		t.log.Info("sweep detected missed expiration", zap.Uint("event_id", id))
		t.bus.PublishExpired(ctx, Expired{EventID: id, Event: evt, Via: ViaSweep})
	}

	return errs
}
