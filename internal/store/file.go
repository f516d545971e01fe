package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/clientsphere/sessionkit/internal/log"
	"github.com/fsnotify/fsnotify"
)

// Ensure FileBackend implements required interfaces
var _ Backend = (*FileBackend)(nil)
var _ Notifier = (*FileBackend)(nil)

// FileBackend persists credentials in a single JSON document on disk,
// the process-level analog of same-origin browser storage. Writes go
// through a temp file and rename so concurrent readers never see a partial
// document, and fsnotify events stand in for cross-tab storage events.
type FileBackend struct {
	path string

	mu       sync.Mutex // serializes read-modify-write cycles
	watcher  *fsnotify.Watcher
	watchers []chan struct{}
	done     chan struct{}
	closed   bool
}

// NewFileBackend creates a file backend at path, creating the parent
// directory if needed. The file itself is created on first write.
func NewFileBackend(path string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating credentials directory: %w", err)
	}
	return &FileBackend{path: path, done: make(chan struct{})}, nil
}

func (b *FileBackend) load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	entries := map[string]json.RawMessage{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing credentials file: %w", err)
	}
	return entries, nil
}

func (b *FileBackend) save(entries map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing credentials: %w", err)
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing credentials file: %w", err)
	}
	return nil
}

// Get implements Backend
func (b *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.load()
	if err != nil {
		return nil, err
	}
	value, ok := entries[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return value, nil
}

// SetMulti implements Backend. All entries land in one rename.
func (b *FileBackend) SetMulti(_ context.Context, entries map[string][]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := b.load()
	if err != nil {
		// A corrupted file is replaced wholesale rather than failing the
		// write that would repair it.
		log.LogWarnWithFields("store", "Replacing unreadable credentials file", map[string]any{
			"path":  b.path,
			"error": err.Error(),
		})
		current = map[string]json.RawMessage{}
	}

	for key, value := range entries {
		current[key] = json.RawMessage(value)
	}
	return b.save(current)
}

// DeleteMulti implements Backend
func (b *FileBackend) DeleteMulti(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := b.load()
	if err != nil {
		current = map[string]json.RawMessage{}
	}
	for _, key := range keys {
		delete(current, key)
	}
	return b.save(current)
}

// Close implements Backend. Safe to call more than once.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	if b.watcher != nil {
		err := b.watcher.Close()
		b.watcher = nil
		return err
	}
	return nil
}

// Watch implements Notifier. The fsnotify watcher is set up lazily on the
// parent directory: the credentials file is replaced by rename, so watching
// the file itself would drop the subscription after the first write.
func (b *FileBackend) Watch(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.watcher == nil {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			log.LogErrorWithFields("store", "Failed to create file watcher", map[string]any{
				"error": err.Error(),
			})
			close(ch)
			return ch
		}
		if err := watcher.Add(filepath.Dir(b.path)); err != nil {
			log.LogErrorWithFields("store", "Failed to watch credentials directory", map[string]any{
				"path":  b.path,
				"error": err.Error(),
			})
			watcher.Close()
			close(ch)
			return ch
		}
		b.watcher = watcher
		go b.forwardEvents(watcher)
	}

	b.watchers = append(b.watchers, ch)

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
			return
		}
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

func (b *FileBackend) forwardEvents(watcher *fsnotify.Watcher) {
	name := filepath.Base(b.path)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			b.mu.Lock()
			for _, ch := range b.watchers {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
			b.mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.LogWarnWithFields("store", "File watcher error", map[string]any{
				"error": err.Error(),
			})
		case <-b.done:
			return
		}
	}
}
