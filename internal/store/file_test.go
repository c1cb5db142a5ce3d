package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	_, ok, err := st.Get(ctx, KeyLastSeen)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.Put(ctx, KeyLastSeen, `{"s1":"2026-08-29T10:00:00Z"}`))
	value, ok, err := st.Get(ctx, KeyLastSeen)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"s1":"2026-08-29T10:00:00Z"}`, value)
}

func TestFileStoreOverwrite(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, st.Put(ctx, KeyStatus, "first"))
	require.NoError(t, st.Put(ctx, KeyStatus, "second"))

	value, ok, err := st.Get(ctx, KeyStatus)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", value)
}

func TestFileStoreListByPrefix(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, st.Put(ctx, UptimeKey("api"), "{}"))
	require.NoError(t, st.Put(ctx, UptimeKey("worker"), "{}"))
	require.NoError(t, st.Put(ctx, KeyLastSeen, "{}"))

	keys, err := st.List(ctx, "uptime:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"uptime:api", "uptime:worker"}, keys)
}

func TestFileStoreKeyEncoding(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFileStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, st.Put(ctx, "alerts:history", "[]"))

	// Colons never reach the filesystem.
	_, err = os.Stat(filepath.Join(dir, "alerts__history.json"))
	require.NoError(t, err)

	keys, err := st.List(ctx, "alerts:")
	require.NoError(t, err)
	assert.Equal(t, []string{"alerts:history"}, keys)
}

func TestFileStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	_, err := NewFileStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestMemStoreBehavesLikeFileStore(t *testing.T) {
	st := NewMemStore()
	ctx := context.Background()

	_, ok, err := st.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.Put(ctx, UptimeKey("api"), "{}"))
	require.NoError(t, st.Put(ctx, KeyNotifyState, "{}"))

	keys, err := st.List(ctx, "uptime:")
	require.NoError(t, err)
	assert.Equal(t, []string{"uptime:api"}, keys)
}
