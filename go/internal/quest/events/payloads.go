package events

import (
	"encoding/json"
	"time"
)

// Event payload types shared between the realtime and relay packages

// Name identifies an event on the wire.
type Name string

// Inbound event names.
const (
	ParticipantJoined Name = "participant-joined"
	ParticipantLeft   Name = "participant-left"
	PointPassed       Name = "point-passed"
	SessionCancelled  Name = "session-cancelled"
	SessionEnded      Name = "session-ended"
	ErrorEvent        Name = "error"
	JoinSessionError  Name = "join-session-error"
)

// Outbound event names.
const (
	JoinSession            Name = "join-session"
	LeaveSession           Name = "leave-session"
	UpdateLocation         Name = "update-location"
	SubscribeToSession     Name = "subscribe-to-session"
	UnsubscribeFromSession Name = "unsubscribe-from-session"
)

// Frame is the wire envelope for every message on a sub-channel connection.
type Frame struct {
	Event Name            `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParticipantJoinedPayload is the payload for a participant-joined event
type ParticipantJoinedPayload struct {
	SessionID     int       `json:"session_id"`
	ParticipantID int       `json:"participant_id"`
	Username      string    `json:"username"`
	JoinedAt      time.Time `json:"joined_at"`
}

// ParticipantLeftPayload is the payload for a participant-left event
type ParticipantLeftPayload struct {
	SessionID     int       `json:"session_id"`
	ParticipantID int       `json:"participant_id"`
	LeftAt        time.Time `json:"left_at"`
}

// PointPassedPayload is the payload for a point-passed event
type PointPassedPayload struct {
	SessionID     int       `json:"session_id"`
	ParticipantID int       `json:"participant_id"`
	PointID       int       `json:"point_id"`
	PassedAt      time.Time `json:"passed_at"`
}

// SessionCancelledPayload is the payload for a session-cancelled event
type SessionCancelledPayload struct {
	SessionID   int       `json:"session_id"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// SessionEndedPayload is the payload for a session-ended event
type SessionEndedPayload struct {
	SessionID int       `json:"session_id"`
	EndedAt   time.Time `json:"ended_at"`
}

// ErrorPayload is the payload for the generic error event
type ErrorPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// JoinSessionPayload is the payload for a join-session request
type JoinSessionPayload struct {
	SessionID int `json:"session_id"`
}

// LeaveSessionPayload is the payload for a leave-session request
type LeaveSessionPayload struct {
	SessionID int `json:"session_id"`
}

// UpdateLocationPayload is the payload for an update-location request
type UpdateLocationPayload struct {
	SessionID int     `json:"session_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// SubscribePayload is the payload for subscribe-to-session and
// unsubscribe-from-session requests
type SubscribePayload struct {
	SessionID int `json:"session_id"`
}

// ParsePayload parses a frame's data into the payload struct for its event name.
func ParsePayload(frame *Frame) (interface{}, error) {
	switch frame.Event {
	case ParticipantJoined:
		var payload ParticipantJoinedPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case ParticipantLeft:
		var payload ParticipantLeftPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case PointPassed:
		var payload PointPassedPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case SessionCancelled:
		var payload SessionCancelledPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case SessionEnded:
		var payload SessionEndedPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case ErrorEvent:
		var payload ErrorPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event name
	}
}
