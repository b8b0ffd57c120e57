package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnExternalWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.yaml")
	fs, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, fs.Save(context.Background(), Record{ID: "s1", StartedAt: time.Now()}))

	changed := make(chan struct{}, 1)
	w, err := NewWatcher(fs, func() { changed <- struct{}{} })
	require.NoError(t, err)
	defer w.Close()

	external, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, external.Save(context.Background(), Record{ID: "s2", StartedAt: time.Now()}))

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher reload notification")
	}

	all, err := fs.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
