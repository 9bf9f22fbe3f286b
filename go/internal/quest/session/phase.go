package session

import "time"

// Phase is the derived lifecycle phase of a quest session.
type Phase int

const (
	PhaseScheduled Phase = iota
	PhaseInProgress
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseInProgress:
		return "in_progress"
	case PhaseCompleted:
		return "completed"
	default:
		return "scheduled"
	}
}

// Record is the session data the phase is derived from. EndAt is computed
// from the start instant and the maximum duration; a zero MaxDuration means
// the session has no fixed end.
type Record struct {
	SessionID   int
	StartAt     time.Time
	MaxDuration time.Duration
	IsActive    bool
}

// EndAt returns the completion instant, or a zero time when the session has
// no fixed end.
func (r Record) EndAt() time.Time {
	if r.MaxDuration <= 0 {
		return time.Time{}
	}
	return r.StartAt.Add(r.MaxDuration)
}

// DerivePhase computes the lifecycle phase from wall-clock comparisons.
// Pure and idempotent: the same inputs always yield the same phase.
func DerivePhase(now time.Time, r Record) Phase {
	if !r.IsActive {
		return PhaseCompleted
	}
	if now.Before(r.StartAt) {
		return PhaseScheduled
	}
	if end := r.EndAt(); !end.IsZero() && !now.Before(end) {
		return PhaseCompleted
	}
	return PhaseInProgress
}

// NextTransition returns the instant of the next phase boundary after now,
// or a zero time when no further transition is pending.
func NextTransition(now time.Time, r Record) time.Time {
	switch DerivePhase(now, r) {
	case PhaseScheduled:
		return r.StartAt
	case PhaseInProgress:
		return r.EndAt()
	}
	return time.Time{}
}
