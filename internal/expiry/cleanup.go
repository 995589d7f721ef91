package expiry

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/cache"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/pkg/logger"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/pkg/metrics"
)

// Defaults for the cache key space cleared on expiry.
const (
	DefaultKeyPrefix = "gatherpress_event"
	DefaultNamespace = "gatherpress"

	objectNamespace = "objects"
)

// DefaultCacheKeys returns the seed key sequence cleared for an expired event:
// the per-event key plus the two global listing keys.
func DefaultCacheKeys(prefix string, eventID uint) []string {
	return []string{
		fmt.Sprintf("%s_%d", prefix, eventID),
		prefix + "_upcoming",
		prefix + "_past",
	}
}

// ObjectCacheKey addresses the object-level cache entry holding the event row
// itself, invalidated separately from the derived listing keys.
func ObjectCacheKey(eventID uint) string {
	return cache.NamespacedKey(objectNamespace, fmt.Sprintf("event_%d", eventID))
}

// Invalidator is the cache-invalidation member of the cleanup chain. On each
// canonical expired event it builds the default key sequence, runs the Bus
// filter pipeline over it, and deletes the surviving keys plus the object-level
// entry for the id. Running it any number of times for the same id is safe.
type Invalidator struct {
	cache     cache.Store
	bus       *Bus
	prefix    string
	namespace string
	log       *zap.Logger
}

// InvalidatorOption customises the Invalidator.
type InvalidatorOption func(*Invalidator)

// WithKeyPrefix overrides the cache key prefix.
func WithKeyPrefix(prefix string) InvalidatorOption {
	return func(i *Invalidator) {
		if strings.TrimSpace(prefix) != "" {
			i.prefix = prefix
		}
	}
}

// WithNamespace overrides the cache namespace.
func WithNamespace(namespace string) InvalidatorOption {
	return func(i *Invalidator) {
		if strings.TrimSpace(namespace) != "" {
			i.namespace = namespace
		}
	}
}

// NewInvalidator constructs the invalidator and subscribes it to the canonical
// expired event.
func NewInvalidator(store cache.Store, bus *Bus, opts ...InvalidatorOption) *Invalidator {
	i := &Invalidator{
		cache:     store,
		bus:       bus,
		prefix:    DefaultKeyPrefix,
		namespace: DefaultNamespace,
		log:       logger.WithModule("expiry.cache"),
	}

	for _, opt := range opts {
		opt(i)
	}

	bus.SubscribeExpired(i.handleExpired)

	return i
}

// Keys returns the namespaced key sequence that would be deleted for the id
// after filtering, used by tests and diagnostics.
func (i *Invalidator) Keys(eventID uint) []string {
	keys := i.bus.FilterCacheKeys(DefaultCacheKeys(i.prefix, eventID), eventID)

	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if strings.TrimSpace(key) == "" {
			continue
		}
		out = append(out, cache.NamespacedKey(i.namespace, key))
	}
	return out
}

func (i *Invalidator) handleExpired(ctx context.Context, ev Expired) {
	keys := i.Keys(ev.EventID)

	if len(keys) > 0 {
		if err := i.cache.Delete(ctx, keys...); err != nil {
			i.log.Warn("cache invalidation failed",
				zap.Uint("event_id", ev.EventID), zap.Strings("keys", keys), zap.Error(err))
		} else {
			metrics.CacheKeysInvalidated.Add(float64(len(keys)))
		}
	}

	if err := i.cache.Delete(ctx, ObjectCacheKey(ev.EventID)); err != nil {
		i.log.Warn("object cache invalidation failed", zap.Uint("event_id", ev.EventID), zap.Error(err))
	}
}
