package clocksync

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// OffsetStore is what the service needs from the durable store.
type OffsetStore interface {
	SaveTimeOffset(offsetMillis int64) error
	TimeOffset() (offsetMillis int64, ok bool)
}

// Service tracks the offset between the authoritative server clock and the
// device clock. After LearnOffset, Now() advances on the device's monotonic
// clock from the learned anchor, so countdowns stay correct even if the user
// changes the wall-clock date or time mid-session.
type Service struct {
	clock clockwork.Clock
	store OffsetStore

	mu        sync.RWMutex
	learned   bool
	serverAt  time.Time // server instant at the anchor
	learnedAt time.Time // device instant at the anchor (monotonic reading)
}

// New creates a clock offset service, seeding the anchor from a previously
// persisted offset if one exists.
func New(clock clockwork.Clock, store OffsetStore) *Service {
	s := &Service{
		clock: clock,
		store: store,
	}

	if offsetMillis, ok := store.TimeOffset(); ok {
		now := clock.Now()
		s.learned = true
		s.learnedAt = now
		s.serverAt = now.Add(time.Duration(offsetMillis) * time.Millisecond)
		log.Debug().
			Int64("offset_ms", offsetMillis).
			Msg("restored clock offset from store")
	}
	return s
}

// LearnOffset anchors server time against the device clock and persists the
// offset. Subsequent calls overwrite the previous anchor (last-write-wins).
func (s *Service) LearnOffset(serverInstant time.Time) error {
	now := s.clock.Now()
	offsetMillis := serverInstant.Sub(now).Milliseconds()

	s.mu.Lock()
	s.learned = true
	s.serverAt = serverInstant
	s.learnedAt = now
	s.mu.Unlock()

	if err := s.store.SaveTimeOffset(offsetMillis); err != nil {
		return err
	}

	log.Info().
		Int64("offset_ms", offsetMillis).
		Time("server_time", serverInstant).
		Msg("learned clock offset")
	return nil
}

// Now returns the current server time if an offset has been learned, else
// the device wall clock.
func (s *Service) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.learned {
		return s.clock.Now()
	}
	// clock.Since uses the monotonic reading of learnedAt, so a wall-clock
	// change between the anchor and now does not skew the result.
	return s.serverAt.Add(s.clock.Since(s.learnedAt))
}

// Learned reports whether an offset has been learned.
func (s *Service) Learned() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.learned
}
