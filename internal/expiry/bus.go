// Package expiry implements the deferred-expiration core: the per-event timer
// state machine, the canonical expired event with its cleanup chain, and the
// redundant tracked set with its reconciliation sweep. All durable state lives
// in the injected collaborators; correctness rests on idempotent mutations,
// not locking.
package expiry

import (
	"context"
	"sync"

	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/models"
)

// Trigger paths recorded on the canonical expired event.
const (
	ViaTimer  = "timer"
	ViaSweep  = "sweep"
	ViaManual = "manual"
)

// Expired is the canonical notification that an event's end time has been
// confirmed reached. Subscribers must tolerate duplicate deliveries for the
// same id and ids that were never legitimately scheduled.
type Expired struct {
	EventID uint
	Event   *models.Event
	Via     string
}

// ExpiredHandler consumes the canonical expired event.
type ExpiredHandler func(ctx context.Context, ev Expired)

// KeyFilter transforms the cache-key sequence before invalidation. Filters run
// in registration order; the append-only convention is not enforced.
type KeyFilter func(keys []string, eventID uint) []string

// Bus is the typed observer mechanism for the canonical expired event.
// Handlers run synchronously in registration order but must not depend on that
// order beyond "residual timer cancellation runs first".
type Bus struct {
	mu       sync.RWMutex
	handlers []ExpiredHandler
	filters  []KeyFilter
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// SubscribeExpired appends a handler to the canonical event chain.
func (b *Bus) SubscribeExpired(h ExpiredHandler) {
	if h == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = append(b.handlers, h)
}

// PublishExpired delivers the canonical event to every subscriber in
// registration order.
func (b *Bus) PublishExpired(ctx context.Context, ev Expired) {
	b.mu.RLock()
	handlers := make([]ExpiredHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}

// OnCacheKeys registers a cache-key filter.
func (b *Bus) OnCacheKeys(f KeyFilter) {
	if f == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.filters = append(b.filters, f)
}

// FilterCacheKeys runs the filter pipeline over the supplied key sequence.
func (b *Bus) FilterCacheKeys(keys []string, eventID uint) []string {
	b.mu.RLock()
	filters := make([]KeyFilter, len(b.filters))
	copy(filters, b.filters)
	b.mu.RUnlock()

	for _, f := range filters {
		keys = f(keys, eventID)
	}
	return keys
}
