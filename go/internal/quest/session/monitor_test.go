package session

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServerClock struct {
	clock clockwork.Clock
}

func (f fakeServerClock) Now() time.Time {
	return f.clock.Now()
}

type fakeTracker struct {
	mu      sync.Mutex
	stopped []int
}

func (f *fakeTracker) StopTracking(sessionID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, sessionID)
}

func (f *fakeTracker) stoppedSessions() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.stopped...)
}

type fakeMarkerStore struct {
	mu      sync.Mutex
	cleared int
}

func (f *fakeMarkerStore) ClearActiveSession() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}

func (f *fakeMarkerStore) clearCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cleared
}

func awaitPhase(t *testing.T, phases <-chan Phase, expected Phase) {
	t.Helper()
	select {
	case got := <-phases:
		require.Equal(t, expected, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for phase %s", expected)
	}
}

func newTestMonitor(t *testing.T) (*Monitor, *clockwork.FakeClock, *fakeTracker, *fakeMarkerStore) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	tracker := &fakeTracker{}
	store := &fakeMarkerStore{}
	monitor := NewMonitor(clock, fakeServerClock{clock}, store, tracker)
	t.Cleanup(monitor.Stop)
	return monitor, clock, tracker, store
}

func TestMonitor_FullLifecycle(t *testing.T) {
	monitor, clock, tracker, store := newTestMonitor(t)

	record := Record{
		SessionID:   5,
		StartAt:     clock.Now().Add(10 * time.Minute),
		MaxDuration: time.Hour,
		IsActive:    true,
	}
	monitor.Refresh(record)
	awaitPhase(t, monitor.Phases(), PhaseScheduled)

	// Wake-up at the start instant.
	clock.BlockUntil(1)
	clock.Advance(10 * time.Minute)
	awaitPhase(t, monitor.Phases(), PhaseInProgress)

	// Wake-up at the completion instant.
	clock.BlockUntil(1)
	clock.Advance(time.Hour)
	awaitPhase(t, monitor.Phases(), PhaseCompleted)

	require.Eventually(t, func() bool {
		return len(tracker.stoppedSessions()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []int{5}, tracker.stoppedSessions())
	assert.Equal(t, 1, store.clearCount())
}

func TestMonitor_ImmediateCompletionWhenPastDeadline(t *testing.T) {
	monitor, clock, tracker, _ := newTestMonitor(t)

	// The app was closed past the deadline: the record's end is in the past.
	monitor.Refresh(Record{
		SessionID:   9,
		StartAt:     clock.Now().Add(-2 * time.Hour),
		MaxDuration: time.Hour,
		IsActive:    true,
	})

	awaitPhase(t, monitor.Phases(), PhaseCompleted)
	assert.Equal(t, []int{9}, tracker.stoppedSessions())
}

func TestMonitor_RefreshRecomputesWakeUp(t *testing.T) {
	monitor, clock, _, _ := newTestMonitor(t)

	start := clock.Now().Add(-10 * time.Minute)
	monitor.Refresh(Record{
		SessionID:   3,
		StartAt:     start,
		MaxDuration: 60 * time.Minute,
		IsActive:    true,
	})
	awaitPhase(t, monitor.Phases(), PhaseInProgress)

	// Server corrects the duration down to 30 minutes; the old 60-minute
	// wake-up must be replaced, so completion fires 20 minutes from now.
	monitor.Refresh(Record{
		SessionID:   3,
		StartAt:     start,
		MaxDuration: 30 * time.Minute,
		IsActive:    true,
	})

	clock.BlockUntil(1)
	clock.Advance(20 * time.Minute)
	awaitPhase(t, monitor.Phases(), PhaseCompleted)
}

func TestMonitor_RefreshIsIdempotent(t *testing.T) {
	monitor, clock, _, _ := newTestMonitor(t)

	record := Record{
		SessionID:   4,
		StartAt:     clock.Now().Add(-time.Minute),
		MaxDuration: time.Hour,
		IsActive:    true,
	}
	monitor.Refresh(record)
	awaitPhase(t, monitor.Phases(), PhaseInProgress)

	monitor.Refresh(record)
	monitor.Refresh(record)

	select {
	case phase := <-monitor.Phases():
		t.Fatalf("unexpected duplicate phase %s", phase)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMonitor_CompletedIsTerminal(t *testing.T) {
	monitor, clock, tracker, store := newTestMonitor(t)

	record := Record{
		SessionID:   6,
		StartAt:     clock.Now().Add(-2 * time.Hour),
		MaxDuration: time.Hour,
		IsActive:    true,
	}
	monitor.Refresh(record)
	awaitPhase(t, monitor.Phases(), PhaseCompleted)

	// Re-deriving after completion must not re-fire the transition.
	monitor.Refresh(record)
	select {
	case phase := <-monitor.Phases():
		t.Fatalf("unexpected phase %s after completion", phase)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Len(t, tracker.stoppedSessions(), 1)
	assert.Equal(t, 1, store.clearCount())
}

func TestMonitor_InactiveRecordCompletesImmediately(t *testing.T) {
	monitor, clock, _, store := newTestMonitor(t)

	monitor.Refresh(Record{
		SessionID: 8,
		StartAt:   clock.Now().Add(time.Hour),
		IsActive:  false,
	})
	awaitPhase(t, monitor.Phases(), PhaseCompleted)
	assert.Equal(t, 1, store.clearCount())
}
