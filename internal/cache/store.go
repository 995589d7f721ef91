package cache

import (
	"context"
	"strings"
	"time"
)

// Store represents the shared cache interface consumed across the application.
// Deleting a key that does not exist is always a no-op.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// NamespacedKey composes a namespace and a key into the flat key space used by
// the Store implementations. An empty namespace leaves the key untouched.
func NamespacedKey(namespace, key string) string {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return key
	}
	return namespace + ":" + key
}
