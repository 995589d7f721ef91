package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/models"
	apperrors "github.com/carstingaxion/gatherpress-cache-invalidation-hooks/pkg/errors"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/pkg/logger"
)

// LifecycleListener observes committed status transitions. Listeners run
// synchronously in registration order and must stay safe under duplicate or
// interleaved notifications.
type LifecycleListener interface {
	HandleTransition(ctx context.Context, oldStatus, newStatus string, evt *models.Event)
}

// EndTimeListener observes committed end-datetime edits that happen without a
// status transition.
type EndTimeListener interface {
	HandleEndTimeChange(ctx context.Context, evt *models.Event)
}

// CreateEventInput defines attributes required to persist a new event.
type CreateEventInput struct {
	Title    string
	EndTime  string
	Timezone string
}

// EventService owns event rows and is the authoritative entity store consumed
// by the expiry core. All mutations notify the registered listeners after the
// database write has succeeded.
type EventService struct {
	db        *gorm.DB
	log       *zap.Logger
	lifecycle []LifecycleListener
	endTime   []EndTimeListener
}

// NewEventService constructs an EventService.
func NewEventService(db *gorm.DB) (*EventService, error) {
	if db == nil {
		return nil, errors.New("event service: db is required")
	}
	return &EventService{
		db:  db,
		log: logger.WithModule("events"),
	}, nil
}

// OnLifecycle registers a status-transition listener.
func (s *EventService) OnLifecycle(l LifecycleListener) {
	if l != nil {
		s.lifecycle = append(s.lifecycle, l)
	}
}

// OnEndTimeChange registers an end-datetime listener.
func (s *EventService) OnEndTimeChange(l EndTimeListener) {
	if l != nil {
		s.endTime = append(s.endTime, l)
	}
}

// Create persists a new draft event. The end datetime is stored verbatim;
// validity is only judged when scheduling happens.
func (s *EventService) Create(ctx context.Context, input CreateEventInput) (*models.Event, error) {
	ctx = ensureContext(ctx)

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewBadRequest("title is required")
	}

	evt := models.Event{
		Kind:     models.KindEvent,
		Title:    title,
		Status:   models.StatusDraft,
		EndTime:  strings.TrimSpace(input.EndTime),
		Timezone: strings.TrimSpace(input.Timezone),
	}

	if err := s.db.WithContext(ctx).Create(&evt).Error; err != nil {
		return nil, fmt.Errorf("event service: create event: %w", err)
	}

	return &evt, nil
}

// Get loads an event or returns ErrNotFound.
func (s *EventService) Get(ctx context.Context, id uint) (*models.Event, error) {
	ctx = ensureContext(ctx)

	var evt models.Event
	if err := s.db.WithContext(ctx).Take(&evt, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("event service: load event: %w", err)
	}
	return &evt, nil
}

// Lookup is the read contract consumed by the expiry core: it returns
// (nil, nil) when no row exists, reserving errors for real store failures.
func (s *EventService) Lookup(ctx context.Context, id uint) (*models.Event, error) {
	evt, err := s.Get(ctx, id)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return evt, err
}

// Publish transitions the event into the published status.
func (s *EventService) Publish(ctx context.Context, id uint) (*models.Event, error) {
	return s.setStatus(ctx, id, models.StatusPublished)
}

// Unpublish returns the event to draft.
func (s *EventService) Unpublish(ctx context.Context, id uint) (*models.Event, error) {
	return s.setStatus(ctx, id, models.StatusDraft)
}

// Trash moves the event to the trashed status.
func (s *EventService) Trash(ctx context.Context, id uint) (*models.Event, error) {
	return s.setStatus(ctx, id, models.StatusTrashed)
}

// Delete permanently removes the event row. Listeners are notified with the
// deleted pseudo-status before the row disappears so pending timers and
// tracked-set entries can be cleared.
func (s *EventService) Delete(ctx context.Context, id uint) error {
	ctx = ensureContext(ctx)

	evt, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	s.notifyTransition(ctx, evt.Status, models.StatusDeleted, evt)

	if err := s.db.WithContext(ctx).Delete(&models.Event{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("event service: delete event: %w", err)
	}
	return nil
}

// UpdateEndTime replaces the raw end datetime attribute and notifies the
// end-time listeners. The value is not validated here: a malformed datetime is
// a legal, schedulable-later state.
func (s *EventService) UpdateEndTime(ctx context.Context, id uint, raw string) (*models.Event, error) {
	ctx = ensureContext(ctx)

	evt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	raw = strings.TrimSpace(raw)
	if err := s.db.WithContext(ctx).Model(evt).Update("end_datetime", raw).Error; err != nil {
		return nil, fmt.Errorf("event service: update end datetime: %w", err)
	}
	evt.EndTime = raw

	for _, l := range s.endTime {
		l.HandleEndTimeChange(ctx, evt)
	}

	return evt, nil
}

func (s *EventService) setStatus(ctx context.Context, id uint, newStatus string) (*models.Event, error) {
	ctx = ensureContext(ctx)

	evt, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	oldStatus := evt.Status
	if oldStatus == newStatus {
		return evt, nil
	}

	if err := s.db.WithContext(ctx).Model(evt).Update("status", newStatus).Error; err != nil {
		return nil, fmt.Errorf("event service: update status: %w", err)
	}
	evt.Status = newStatus

	s.log.Debug("event status transition",
		zap.Uint("event_id", evt.ID),
		zap.String("from", oldStatus),
		zap.String("to", newStatus))

	s.notifyTransition(ctx, oldStatus, newStatus, evt)

	return evt, nil
}

func (s *EventService) notifyTransition(ctx context.Context, oldStatus, newStatus string, evt *models.Event) {
	for _, l := range s.lifecycle {
		l.HandleTransition(ctx, oldStatus, newStatus, evt)
	}
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
