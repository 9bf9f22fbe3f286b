package taskstate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)
	return store, path
}

func TestFileStore_DeadlineRoundTrip(t *testing.T) {
	store, path := newStore(t)

	expiry := time.Now().Add(5 * time.Minute).UTC()
	require.NoError(t, store.SaveDeadline(42, expiry))

	// Reopen to simulate a process restart.
	reopened, err := NewFileStore(path)
	require.NoError(t, err)

	taskID, got, ok := reopened.Deadline()
	require.True(t, ok)
	assert.Equal(t, 42, taskID)
	assert.True(t, expiry.Equal(got))
}

func TestFileStore_ClearDeadline(t *testing.T) {
	store, _ := newStore(t)

	require.NoError(t, store.SaveDeadline(1, time.Now().Add(time.Minute)))
	require.NoError(t, store.ClearDeadline())

	_, _, ok := store.Deadline()
	assert.False(t, ok)
}

func TestFileStore_IsExpired(t *testing.T) {
	store, _ := newStore(t)
	now := time.Now()

	assert.False(t, store.IsExpired(now), "no deadline means not expired")

	require.NoError(t, store.SaveDeadline(1, now.Add(time.Minute)))
	assert.False(t, store.IsExpired(now))
	assert.True(t, store.IsExpired(now.Add(time.Minute)))
	assert.True(t, store.IsExpired(now.Add(2*time.Minute)))
}

func TestFileStore_QuizProgressIsPerTask(t *testing.T) {
	store, path := newStore(t)

	require.NoError(t, store.SaveQuizProgress(7, 2))

	idx, ok := store.QuizProgress(7)
	require.True(t, ok)
	assert.Equal(t, 2, idx)

	// Progress for a different task does not apply.
	_, ok = store.QuizProgress(8)
	assert.False(t, ok)

	// Survives restart.
	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	idx, ok = reopened.QuizProgress(7)
	require.True(t, ok)
	assert.Equal(t, 2, idx)

	require.NoError(t, reopened.ClearQuizProgress())
	_, ok = reopened.QuizProgress(7)
	assert.False(t, ok)
}

func TestFileStore_TimeOffset(t *testing.T) {
	store, path := newStore(t)

	_, ok := store.TimeOffset()
	assert.False(t, ok)

	require.NoError(t, store.SaveTimeOffset(-1500))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	offset, ok := reopened.TimeOffset()
	require.True(t, ok)
	assert.Equal(t, int64(-1500), offset)
}

func TestFileStore_ActiveSessionMarker(t *testing.T) {
	store, _ := newStore(t)

	_, ok := store.ActiveSession()
	assert.False(t, ok)

	require.NoError(t, store.SetActiveSession(99))
	id, ok := store.ActiveSession()
	require.True(t, ok)
	assert.Equal(t, 99, id)

	require.NoError(t, store.ClearActiveSession())
	_, ok = store.ActiveSession()
	assert.False(t, ok)
}

func TestFileStore_CorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{ not json"), 0o600))

	store, err := NewFileStore(path)
	require.NoError(t, err)
	_, _, ok := store.Deadline()
	assert.False(t, ok)
}
