package events

import "time"

// DeltaKind discriminates the participant delta variants.
type DeltaKind int

const (
	DeltaJoined DeltaKind = iota
	DeltaLeft
)

// ParticipantDelta is a tagged union of the participant-joined and
// participant-left events, normalized for roster merging.
type ParticipantDelta struct {
	Kind          DeltaKind
	ParticipantID int
	Username      string
	At            time.Time
}

// DeltaFromJoined converts a participant-joined payload into a delta.
func DeltaFromJoined(p ParticipantJoinedPayload) ParticipantDelta {
	return ParticipantDelta{
		Kind:          DeltaJoined,
		ParticipantID: p.ParticipantID,
		Username:      p.Username,
		At:            p.JoinedAt,
	}
}

// DeltaFromLeft converts a participant-left payload into a delta.
func DeltaFromLeft(p ParticipantLeftPayload) ParticipantDelta {
	return ParticipantDelta{
		Kind:          DeltaLeft,
		ParticipantID: p.ParticipantID,
		At:            p.LeftAt,
	}
}

// Participant is a roster entry keyed by participant ID.
type Participant struct {
	ID       int
	Username string
	JoinedAt time.Time
}

// Roster holds the participants of a session as a set keyed by ID.
// Applying a delta is idempotent: a duplicate join or a leave for an
// absent participant is a no-op.
type Roster struct {
	members map[int]Participant
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{members: make(map[int]Participant)}
}

// Apply merges a delta into the roster and reports whether it changed anything.
func (r *Roster) Apply(delta ParticipantDelta) bool {
	switch delta.Kind {
	case DeltaJoined:
		if _, exists := r.members[delta.ParticipantID]; exists {
			return false
		}
		r.members[delta.ParticipantID] = Participant{
			ID:       delta.ParticipantID,
			Username: delta.Username,
			JoinedAt: delta.At,
		}
		return true

	case DeltaLeft:
		if _, exists := r.members[delta.ParticipantID]; !exists {
			return false
		}
		delete(r.members, delta.ParticipantID)
		return true
	}
	return false
}

// Len returns the number of participants currently in the roster.
func (r *Roster) Len() int {
	return len(r.members)
}

// Contains reports whether a participant ID is in the roster.
func (r *Roster) Contains(id int) bool {
	_, ok := r.members[id]
	return ok
}

// Members returns the current participants in no particular order.
func (r *Roster) Members() []Participant {
	out := make([]Participant, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, p)
	}
	return out
}
