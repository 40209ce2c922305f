// Package staging keeps short-lived blobs under string keys with a TTL.
// Analysis previews live here between the analyze and import requests.
package staging

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for keys that were never stored, were deleted or expired.
var ErrNotFound = errors.New("staging: key not found")

// Store is a TTL key-value store. Implementations are safe for concurrent use.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// Sweeper is implemented by backends that do not expire entries on their own.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}
