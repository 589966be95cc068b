// ABOUTME: Tests for the SQLite session map and run audit log.
// ABOUTME: Uses a temp-dir database per test; schema is created on open.

package store

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewStore(filepath.Join(t.TempDir(), "nested", "warren.db"), logger)
	require.NoError(t, err, "parent directories must be created")
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	got, err := s.Session(ctx, "room-1")
	require.NoError(t, err)
	assert.Empty(t, got, "unknown chat has no session")

	require.NoError(t, s.SaveSession(ctx, "room-1", "sess-a"))
	got, err = s.Session(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-a", got)

	// Upsert replaces.
	require.NoError(t, s.SaveSession(ctx, "room-1", "sess-b"))
	got, err = s.Session(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-b", got)

	// Other chats are independent.
	got, err = s.Session(ctx, "room-2")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeleteSession(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.SaveSession(ctx, "room-1", "sess-a"))
	require.NoError(t, s.DeleteSession(ctx, "room-1"))

	got, err := s.Session(ctx, "room-1")
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.NoError(t, s.DeleteSession(ctx, "room-1"), "deleting absent session is fine")
}

func TestRunAudit(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.BeginRun(ctx, "run-1", "room-1"))
	require.NoError(t, s.BeginRun(ctx, "run-2", "room-1"))
	require.NoError(t, s.BeginRun(ctx, "run-3", "room-2"))

	require.NoError(t, s.FinishRun(ctx, "run-1", "success", ""))
	require.NoError(t, s.FinishRun(ctx, "run-2", "error", "boom"))

	runs, err := s.RecentRuns(ctx, "room-1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	byID := map[string]*Run{}
	for _, r := range runs {
		byID[r.ID] = r
	}
	assert.Equal(t, "success", byID["run-1"].Status)
	require.NotNil(t, byID["run-1"].FinishedAt)
	assert.Equal(t, "error", byID["run-2"].Status)
	assert.Equal(t, "boom", byID["run-2"].Error)

	// run-3 still in flight.
	runs, err = s.RecentRuns(ctx, "room-2", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "running", runs[0].Status)
	assert.Nil(t, runs[0].FinishedAt)

	all, err := s.RecentRuns(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2, "limit applies")
}

func TestFinishUnknownRun(t *testing.T) {
	s := newTestStore(t)
	err := s.FinishRun(t.Context(), "ghost", "success", "")
	assert.ErrorContains(t, err, "no such run")
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "warren.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := t.Context()

	s, err := NewStore(path, logger)
	require.NoError(t, err)
	require.NoError(t, s.SaveSession(ctx, "room-1", "sess-a"))
	require.NoError(t, s.Close())

	s, err = NewStore(path, logger)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Session(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-a", got)
}
