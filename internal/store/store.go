package store

import (
	"context"
	"strings"
)

// ChangeFunc is called with the key that changed. It runs on the store's
// delivery goroutine and must not block.
type ChangeFunc func(key string)

// Store is a shared, eventually consistent key/value medium.
type Store interface {
	// Get returns the current value of key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set replaces the value of key. Writing the value a key already holds
	// is a no-op and produces no change notification.
	Set(ctx context.Context, key string, value []byte) error

	// Watch calls fn for every change to a key in family. The watch ends
	// when ctx is cancelled or the returned cancel func is called.
	Watch(ctx context.Context, family string, fn ChangeFunc) (cancel func(), err error)
}

// InFamily reports whether key belongs to family, that is equals it or
// extends it with a dot-separated suffix.
func InFamily(family, key string) bool {
	return key == family || strings.HasPrefix(key, family+".")
}
