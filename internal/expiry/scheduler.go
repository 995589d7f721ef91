package expiry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/models"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/timerq"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/pkg/logger"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/pkg/metrics"
)

// HookEventExpired is the timer-queue hook carrying one-shot expiry timers.
const HookEventExpired = "gatherpress_event_expired"

// Store provides read access to authoritative event state. Lookup returns
// (nil, nil) when no row exists for the id; errors are reserved for
// collaborator failures.
type Store interface {
	Lookup(ctx context.Context, id uint) (*models.Event, error)
}

// Scheduler owns the per-event timer state machine. It holds no per-event
// state of its own: the timer queue is the single source of truth for what is
// scheduled, which is what makes every transition idempotent.
type Scheduler struct {
	queue timerq.Queue
	store Store
	bus   *Bus
	log   *zap.Logger
	now   func() time.Time
}

// SchedulerOption customises the Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerNow overrides the clock used for validity checks, primarily for
// testing.
func WithSchedulerNow(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler constructs the scheduler and registers residual-timer
// cancellation as the first subscriber of the canonical expired event, so no
// dangling timer survives an emission regardless of which path produced it.
func NewScheduler(queue timerq.Queue, store Store, bus *Bus, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		queue: queue,
		store: store,
		bus:   bus,
		log:   logger.WithModule("expiry.scheduler"),
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	bus.SubscribeExpired(func(ctx context.Context, ev Expired) {
		s.Cancel(ctx, ev.EventID)
	})

	return s
}

// HandleTransition reacts to a lifecycle status change. Entering published
// schedules the expiry timer; leaving published (including permanent removal)
// cancels it. Everything else is ignored.
func (s *Scheduler) HandleTransition(ctx context.Context, oldStatus, newStatus string, evt *models.Event) {
	if evt == nil || evt.Kind != models.KindEvent {
		return
	}

	switch {
	case newStatus == models.StatusPublished && oldStatus != models.StatusPublished:
		s.Schedule(ctx, evt)
	case oldStatus == models.StatusPublished && newStatus != models.StatusPublished:
		s.Cancel(ctx, evt.ID)
	}
}

// HandleEndTimeChange re-runs the scheduling step after the end datetime of an
// event was edited without a status transition. The stale timer is always
// cancelled; a new one is created only when the event is published and the new
// value is a valid future instant.
func (s *Scheduler) HandleEndTimeChange(ctx context.Context, evt *models.Event) {
	if evt == nil || evt.Kind != models.KindEvent {
		return
	}

	s.Cancel(ctx, evt.ID)
	if evt.Status == models.StatusPublished {
		s.Schedule(ctx, evt)
	}
}

// Schedule creates the one-shot expiry timer for the event. A missing,
// malformed, or already-past end datetime is the expected steady state for
// most events and leaves the event unscheduled without error. Any pre-existing
// timer for the id is cancelled first so at most one ever exists.
func (s *Scheduler) Schedule(ctx context.Context, evt *models.Event) {
	at, err := evt.ParseEndTime()
	if err != nil {
		s.log.Debug("no valid end datetime; leaving unscheduled",
			zap.Uint("event_id", evt.ID), zap.String("end_datetime", evt.EndTime))
		return
	}
	if !at.After(s.now()) {
		s.log.Debug("end datetime not in the future; leaving unscheduled",
			zap.Uint("event_id", evt.ID), zap.Time("end", at))
		return
	}

	s.Cancel(ctx, evt.ID)

	if err := s.queue.ScheduleOnce(at, HookEventExpired, evt.ID); err != nil {
		s.log.Warn("failed to schedule expiry timer", zap.Uint("event_id", evt.ID), zap.Error(err))
		return
	}

	metrics.TimersScheduled.Inc()
	s.log.Debug("expiry timer scheduled", zap.Uint("event_id", evt.ID), zap.Time("at", at))
}

// Cancel removes the pending expiry timer for the id if one exists. Cancelling
// an id with no timer, or one whose timer already fired, is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, id uint) {
	at, ok := s.queue.NextScheduled(HookEventExpired, id)
	if !ok {
		return
	}
	if s.queue.Unschedule(at, HookEventExpired, id) {
		metrics.TimersCancelled.Inc()
		s.log.Debug("expiry timer cancelled", zap.Uint("event_id", id))
	}
}

// HandleExpiry is the timer-queue callback for HookEventExpired.
func (s *Scheduler) HandleExpiry(ctx context.Context, id uint) {
	s.expire(ctx, id, ViaTimer)
}

// Trigger runs the expiry path for an id outside any timer, e.g. from an
// operator request. The full revalidation makes it safe for ids that were
// never scheduled.
func (s *Scheduler) Trigger(ctx context.Context, id uint) {
	s.expire(ctx, id, ViaManual)
}

// expire re-fetches the event and revalidates against the authoritative
// HasEnded predicate before emitting the canonical expired event. A fire whose
// target no longer qualifies is a benign duplicate: no retry, no reschedule.
func (s *Scheduler) expire(ctx context.Context, id uint, via string) {
	evt, err := s.store.Lookup(ctx, id)
	if err != nil {
		s.log.Warn("event lookup failed during expiry", zap.Uint("event_id", id), zap.Error(err))
		return
	}
	if evt == nil {
		metrics.StaleFires.WithLabelValues("missing").Inc()
		s.log.Debug("expiry fired for missing event", zap.Uint("event_id", id))
		return
	}
	if evt.Kind != models.KindEvent {
		metrics.StaleFires.WithLabelValues("kind").Inc()
		s.log.Debug("expiry fired for non-event row", zap.Uint("event_id", id), zap.String("kind", evt.Kind))
		return
	}
	if !evt.HasEnded(s.now()) {
		metrics.StaleFires.WithLabelValues("not_ended").Inc()
		s.log.Debug("expiry fired before authoritative end; treating as stale", zap.Uint("event_id", id))
		return
	}

	metrics.Expirations.WithLabelValues(via).Inc()
	s.log.Info("event expired", zap.Uint("event_id", id), zap.String("via", via))
	s.bus.PublishExpired(ctx, Expired{EventID: id, Event: evt, Via: via})
}
