package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStoreSaveGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	rec := Record{ID: "s1", ProjectPath: "/proj", Transport: "shm", StartedAt: time.Now().Truncate(time.Second)}
	require.NoError(t, s.Save(context.Background(), rec))

	got, ok, err := s.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, rec.ProjectPath, got.ProjectPath)
	assert.True(t, got.EndedAt.IsZero())
}

func TestSQLiteStoreUpsertOnConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	started := time.Now().Truncate(time.Second)
	require.NoError(t, s.Save(context.Background(), Record{ID: "s1", Transport: "shm", StartedAt: started}))
	require.NoError(t, s.Save(context.Background(), Record{ID: "s1", Transport: "ws", StartedAt: started, EndedAt: started.Add(time.Minute), LastReason: "quit"}))

	got, ok, err := s.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ws", got.Transport)
	assert.Equal(t, "quit", got.LastReason)
}

func TestSQLiteStoreListOrdersByStartedAtDesc(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	now := time.Now().Truncate(time.Second)
	require.NoError(t, s.Save(context.Background(), Record{ID: "older", StartedAt: now.Add(-time.Hour)}))
	require.NoError(t, s.Save(context.Background(), Record{ID: "newer", StartedAt: now}))

	all, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "newer", all[0].ID)
}
