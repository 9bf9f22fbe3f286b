package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ServerClock supplies the authoritative current time for all phase
// derivations. All timing state machines must share one source.
type ServerClock interface {
	Now() time.Time
}

// Tracker is the foreground execution host signalled when a session ends.
type Tracker interface {
	StopTracking(sessionID int)
}

// MarkerStore is what the monitor needs from the durable store.
type MarkerStore interface {
	ClearActiveSession() error
}

// Monitor derives a session's phase and schedules a single-shot wake-up at
// the next phase boundary. Every Refresh cancels the previous wake-up and
// recomputes it from the latest session record, so a server-driven duration
// correction never leaves a stale timer behind.
type Monitor struct {
	clock   clockwork.Clock
	server  ServerClock
	store   MarkerStore
	tracker Tracker

	mu       sync.Mutex
	record   Record
	phase    Phase
	derived  bool
	timer    clockwork.Timer
	timerGen int
	done     chan struct{}
	closed   bool

	phaseCh chan Phase
}

// NewMonitor creates a session monitor. The tracker may be nil when no
// background location tracking is running.
func NewMonitor(clock clockwork.Clock, server ServerClock, store MarkerStore, tracker Tracker) *Monitor {
	return &Monitor{
		clock:   clock,
		server:  server,
		store:   store,
		tracker: tracker,
		done:    make(chan struct{}),
		phaseCh: make(chan Phase, 8),
	}
}

// Phases returns the stream of phase transitions. Each phase is delivered
// once, in order.
func (m *Monitor) Phases() <-chan Phase {
	return m.phaseCh
}

// Phase returns the most recently derived phase.
func (m *Monitor) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Refresh re-derives the phase from a session record and reschedules the
// wake-up. Call it whenever the session data is loaded or changes.
func (m *Monitor) Refresh(record Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.record = record
	m.derive()
}

// derive recomputes the phase and wake-up from m.record. Caller holds m.mu.
func (m *Monitor) derive() {
	now := m.server.Now()
	next := DerivePhase(now, m.record)
	m.transitionTo(next)

	m.cancelTimerLocked()
	if m.phase == PhaseCompleted {
		return
	}

	at := NextTransition(now, m.record)
	if at.IsZero() {
		return
	}

	wait := at.Sub(now)
	if wait < 0 {
		wait = 0
	}
	m.timerGen++
	gen := m.timerGen
	timer := m.clock.NewTimer(wait)
	m.timer = timer

	go func() {
		select {
		case <-timer.Chan():
			m.onWake(gen)
		case <-m.done:
			stopAndDrainTimer(timer)
		}
	}()

	log.Debug().
		Int("session_id", m.record.SessionID).
		Time("wake_at", at).
		Dur("wait", wait).
		Msg("scheduled session wake-up")
}

// onWake re-derives the phase when a scheduled wake-up fires. Stale timers
// from a superseded schedule are ignored.
func (m *Monitor) onWake(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || gen != m.timerGen {
		return
	}
	m.derive()
}

// transitionTo applies a derived phase. Completed is terminal; re-deriving
// an already-fired transition is a no-op. Caller holds m.mu.
func (m *Monitor) transitionTo(next Phase) {
	if m.derived && (next == m.phase || m.phase == PhaseCompleted) {
		return
	}
	m.derived = true
	m.phase = next

	select {
	case m.phaseCh <- next:
	default:
		log.Warn().
			Int("session_id", m.record.SessionID).
			Str("phase", next.String()).
			Msg("phase channel full, dropping snapshot")
	}

	log.Info().
		Int("session_id", m.record.SessionID).
		Str("phase", next.String()).
		Msg("session phase transition")

	if next == PhaseCompleted {
		if m.tracker != nil {
			m.tracker.StopTracking(m.record.SessionID)
		}
		if err := m.store.ClearActiveSession(); err != nil {
			log.Error().Err(err).Msg("failed to clear active session marker")
		}
	}
}

// Stop cancels the pending wake-up and closes the phase stream. It does not
// touch the durable store; resumption depends on it surviving navigation.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.cancelTimerLocked()
	close(m.done)
	close(m.phaseCh)
}

// cancelTimerLocked stops any pending wake-up. Caller holds m.mu.
func (m *Monitor) cancelTimerLocked() {
	if m.timer != nil {
		stopAndDrainTimer(m.timer)
		m.timer = nil
	}
	m.timerGen++
}

// stopAndDrainTimer safely stops a timer and drains its channel so the
// waiting goroutine does not leak a fired tick.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
