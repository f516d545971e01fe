package store

import (
	"context"
	"maps"
	"sync"
)

// Ensure MemoryBackend implements required interfaces
var _ Backend = (*MemoryBackend)(nil)
var _ Notifier = (*MemoryBackend)(nil)

// MemoryBackend keeps credentials in process memory. Used for ephemeral
// sessions and tests. It still emits change notifications so the
// synchronizer can be exercised without a filesystem.
type MemoryBackend struct {
	mu       sync.RWMutex
	entries  map[string][]byte
	watchers []chan struct{}
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string][]byte)}
}

// Get implements Backend
func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	value, ok := b.entries[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// SetMulti implements Backend
func (b *MemoryBackend) SetMulti(_ context.Context, entries map[string][]byte) error {
	b.mu.Lock()
	for key, value := range entries {
		stored := make([]byte, len(value))
		copy(stored, value)
		b.entries[key] = stored
	}
	b.mu.Unlock()

	b.notify()
	return nil
}

// DeleteMulti implements Backend
func (b *MemoryBackend) DeleteMulti(_ context.Context, keys ...string) error {
	b.mu.Lock()
	for _, key := range keys {
		delete(b.entries, key)
	}
	b.mu.Unlock()

	b.notify()
	return nil
}

// Close implements Backend
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.watchers {
		close(ch)
	}
	b.watchers = nil
	return nil
}

// Watch implements Notifier. The channel is buffered; a pending signal is
// enough, the consumer re-reads the whole store anyway.
func (b *MemoryBackend) Watch(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	b.watchers = append(b.watchers, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for i, w := range b.watchers {
			if w == ch {
				b.watchers = append(b.watchers[:i], b.watchers[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
	}()

	return ch
}

// Snapshot returns a copy of all entries, for tests and diagnostics.
func (b *MemoryBackend) Snapshot() map[string][]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.entries)
}

func (b *MemoryBackend) notify() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
