package realtime

import (
	"github.com/questline/questline/go/internal/quest/events"
)

// SessionChannel exposes the quest session operations of one sub-channel
// connection. Join and subscribe frames are recorded so they are re-sent
// after every reconnect.
type SessionChannel struct {
	conn *Conn
}

// NewSessionChannel wraps a connection with session operations.
func NewSessionChannel(conn *Conn) *SessionChannel {
	return &SessionChannel{conn: conn}
}

// Join announces this participant in a session.
func (ch *SessionChannel) Join(sessionID int) error {
	return ch.conn.EmitSubscription(events.JoinSession, events.JoinSessionPayload{SessionID: sessionID})
}

// Leave withdraws this participant from a session.
func (ch *SessionChannel) Leave(sessionID int) error {
	return ch.conn.DropSubscription(events.JoinSession, events.LeaveSession, events.LeaveSessionPayload{SessionID: sessionID})
}

// UpdateLocation reports the participant's current position.
func (ch *SessionChannel) UpdateLocation(sessionID int, latitude, longitude float64) error {
	return ch.conn.Emit(events.UpdateLocation, events.UpdateLocationPayload{
		SessionID: sessionID,
		Latitude:  latitude,
		Longitude: longitude,
	})
}

// Subscribe begins observing a session's lifecycle events on the server side.
func (ch *SessionChannel) Subscribe(sessionID int) error {
	return ch.conn.EmitSubscription(events.SubscribeToSession, events.SubscribePayload{SessionID: sessionID})
}

// Unsubscribe stops observing a session's lifecycle events.
func (ch *SessionChannel) Unsubscribe(sessionID int) error {
	return ch.conn.DropSubscription(events.SubscribeToSession, events.UnsubscribeFromSession, events.SubscribePayload{SessionID: sessionID})
}

// Errors returns the stream of generic error events.
func (ch *SessionChannel) Errors() *Subscription {
	return ch.conn.Router().Subscribe(events.ErrorEvent)
}

// JoinErrors returns the stream of join-session rejections as typed errors.
// Structured decode falls back to the raw frame text as the message.
func (ch *SessionChannel) JoinErrors() (<-chan *OperationRejectedError, func()) {
	sub := ch.conn.Router().Subscribe(events.JoinSessionError)
	out := make(chan *OperationRejectedError, defaultSubscriptionBuffer)

	go func() {
		defer close(out)
		for frame := range sub.Frames() {
			out <- &OperationRejectedError{
				Op:      "join-session",
				Message: OperationErrorMessage(frame.Data),
			}
		}
	}()

	return out, sub.Cancel
}
