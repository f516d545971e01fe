// Package store persists the session credentials (bearer token plus
// normalized user) across process restarts. Backends are pluggable; the
// default file backend is shared between concurrently running processes and
// emits change notifications consumed by the session synchronizer.
package store

import (
	"context"
	"errors"
)

// Fixed storage keys. Absence of either means "logged out".
const (
	TokenKey = "auth-token"
	UserKey  = "auth-user"
)

// ErrKeyNotFound is returned by Backend.Get when a key doesn't exist
var ErrKeyNotFound = errors.New("key not found")

// Backend is a durable key-value store holding raw JSON values.
// Mutations take every affected key at once so callers never observe a
// token without its user or vice versa.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetMulti(ctx context.Context, entries map[string][]byte) error
	DeleteMulti(ctx context.Context, keys ...string) error
	Close() error
}

// Notifier is implemented by backends that can report external mutations
// (another process writing the same store). Each Watch call gets its own
// channel; a signal means "re-read, something may have changed".
type Notifier interface {
	Watch(ctx context.Context) <-chan struct{}
}
