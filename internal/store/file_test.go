package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileBackend(t *testing.T) (*FileBackend, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.json")
	backend, err := NewFileBackend(path)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return backend, path
}

func TestFileBackendRoundtrip(t *testing.T) {
	ctx := context.Background()
	backend, _ := newTestFileBackend(t)

	_, err := backend.Get(ctx, TokenKey)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, backend.SetMulti(ctx, map[string][]byte{
		TokenKey: []byte(`"tok-1"`),
		UserKey:  []byte(`{"id":"7"}`),
	}))

	got, err := backend.Get(ctx, TokenKey)
	require.NoError(t, err)
	assert.JSONEq(t, `"tok-1"`, string(got))

	require.NoError(t, backend.DeleteMulti(ctx, TokenKey, UserKey))
	_, err = backend.Get(ctx, TokenKey)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestFileBackendPersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	backend, path := newTestFileBackend(t)

	require.NoError(t, backend.SetMulti(ctx, map[string][]byte{
		TokenKey: []byte(`"tok-1"`),
	}))
	require.NoError(t, backend.Close())

	reopened, err := NewFileBackend(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, TokenKey)
	require.NoError(t, err)
	assert.JSONEq(t, `"tok-1"`, string(got))
}

func TestFileBackendFilePermissions(t *testing.T) {
	ctx := context.Background()
	backend, path := newTestFileBackend(t)

	require.NoError(t, backend.SetMulti(ctx, map[string][]byte{
		TokenKey: []byte(`"tok-1"`),
	}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileBackendRepairsCorruptedFile(t *testing.T) {
	ctx := context.Background()
	backend, path := newTestFileBackend(t)

	require.NoError(t, os.WriteFile(path, []byte("{{{ not json"), 0o600))

	_, err := backend.Get(ctx, TokenKey)
	assert.Error(t, err, "a corrupted file is unreadable")

	// The next write replaces the corrupted document wholesale.
	require.NoError(t, backend.SetMulti(ctx, map[string][]byte{
		TokenKey: []byte(`"tok-2"`),
	}))

	got, err := backend.Get(ctx, TokenKey)
	require.NoError(t, err)
	assert.JSONEq(t, `"tok-2"`, string(got))
}

func TestFileBackendWatchSeesExternalWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, path := newTestFileBackend(t)
	ch := backend.Watch(ctx)
	require.NotNil(t, ch)

	// Simulate another process replacing the file via temp+rename.
	doc, err := json.Marshal(map[string]json.RawMessage{
		TokenKey: json.RawMessage(`"external"`),
	})
	require.NoError(t, err)
	tmp := path + ".other"
	require.NoError(t, os.WriteFile(tmp, doc, 0o600))
	require.NoError(t, os.Rename(tmp, path))

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("expected notification for external file replacement")
	}

	got, err := backend.Get(ctx, TokenKey)
	require.NoError(t, err)
	assert.JSONEq(t, `"external"`, string(got))
}

func TestFileBackendWatchIgnoresUnrelatedFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, path := newTestFileBackend(t)
	ch := backend.Watch(ctx)
	require.NotNil(t, ch)

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.json"), []byte("{}"), 0o600))

	select {
	case <-ch:
		t.Fatal("writes to unrelated files must not signal")
	case <-time.After(200 * time.Millisecond):
	}
}
