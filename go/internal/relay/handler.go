package relay

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/questline/questline/go/internal/quest/events"
)

// handleFrame routes one inbound frame from a participant connection.
// A malformed frame gets an error event back; it never kills the connection.
func (c *client) handleFrame(message []byte) {
	var frame events.Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		log.Warn().Err(err).Str("client_id", c.ID).Msg("dropping malformed client frame")
		c.sendError("malformed frame")
		return
	}

	switch frame.Event {
	case events.JoinSession:
		var payload events.JoinSessionPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			c.sendNamedError(events.JoinSessionError, "invalid join-session payload")
			return
		}
		c.hub.addToSession(c, payload.SessionID)
		c.hub.BroadcastEvent(payload.SessionID, events.ParticipantJoined, events.ParticipantJoinedPayload{
			SessionID:     payload.SessionID,
			ParticipantID: c.ParticipantID,
			JoinedAt:      time.Now().UTC(),
		})

	case events.LeaveSession:
		var payload events.LeaveSessionPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			c.sendError("invalid leave-session payload")
			return
		}
		c.hub.BroadcastEvent(payload.SessionID, events.ParticipantLeft, events.ParticipantLeftPayload{
			SessionID:     payload.SessionID,
			ParticipantID: c.ParticipantID,
			LeftAt:        time.Now().UTC(),
		})
		c.hub.removeFromSession(c, payload.SessionID)

	case events.UpdateLocation:
		var payload events.UpdateLocationPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			c.sendError("invalid update-location payload")
			return
		}
		log.Debug().
			Int("participant_id", c.ParticipantID).
			Int("session_id", payload.SessionID).
			Float64("lat", payload.Latitude).
			Float64("lon", payload.Longitude).
			Msg("location update")

	case events.SubscribeToSession:
		var payload events.SubscribePayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			c.sendError("invalid subscribe payload")
			return
		}
		c.hub.addToSession(c, payload.SessionID)

	case events.UnsubscribeFromSession:
		var payload events.SubscribePayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			c.sendError("invalid unsubscribe payload")
			return
		}
		c.hub.removeFromSession(c, payload.SessionID)

	default:
		log.Debug().
			Str("client_id", c.ID).
			Str("event", string(frame.Event)).
			Msg("ignoring unknown client event")
	}
}

// sendError queues a generic error event to this client only.
func (c *client) sendError(message string) {
	data, err := json.Marshal(events.ErrorPayload{Success: false, Error: message})
	if err != nil {
		return
	}
	c.queueFrame(events.Frame{Event: events.ErrorEvent, Data: data})
}

// sendNamedError queues an operation-specific error event to this client only.
func (c *client) sendNamedError(event events.Name, message string) {
	data, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return
	}
	c.queueFrame(events.Frame{Event: event, Data: data})
}

func (c *client) queueFrame(frame events.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.Send <- data:
	default:
		log.Warn().Str("client_id", c.ID).Msg("send buffer full, dropping error frame")
	}
}

// Handler serves the websocket endpoint with a bearer-token handshake.
type Handler struct {
	hub *Hub
}

// NewHandler creates the relay HTTP handler.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// HandleConnection authenticates the handshake and upgrades the connection.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}

	participantIDStr := r.URL.Query().Get("participant_id")
	participantID, err := strconv.Atoi(participantIDStr)
	if err != nil {
		http.Error(w, "participant_id is required", http.StatusBadRequest)
		return
	}

	if err := h.hub.Upgrade(w, r, participantID); err != nil {
		log.Error().Err(err).Int("participant_id", participantID).Msg("failed to upgrade connection")
	}
}

// HandleStats returns per-session connection counts.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.hub.Stats())
}

// RegisterRoutes registers the relay routes on a mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/session", h.HandleConnection)
	mux.HandleFunc("/ws/stats", h.HandleStats)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// Browser websocket clients cannot set headers; accept a query fallback.
	return r.URL.Query().Get("token")
}
