// Package store defines the shared-state contract every gateway replica
// coordinates through. All operations are atomic on the backing store.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrKeyNotFound = errors.New("key not found")

type SharedState interface {
	// CreateIfAbsent stores value under key only if key does not exist.
	CreateIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// IncrementWithExpiry increments key and sets ttl when the counter was just created.
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns ErrKeyNotFound for a missing key.
	Get(ctx context.Context, key string) (string, error)
	// CompareAndSwap replaces key with value only while it still holds expected.
	// A zero ttl keeps the existing expiry.
	CompareAndSwap(ctx context.Context, key, expected, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete removes key only while it still holds expected.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	Ping(ctx context.Context) error
}
