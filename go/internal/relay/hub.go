package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/questline/questline/go/internal/quest/events"
)

// Hub manages websocket connections for quest session events. It is the
// server-side peer of the realtime client: one client per participant,
// grouped by session, with fan-out of session events to every member.
type Hub struct {
	sessionClients map[int]map[*client]bool
	mu             sync.RWMutex

	upgrader websocket.Upgrader
	config   Config

	broadcastCh chan broadcast
}

// client represents a websocket connection from one participant.
type client struct {
	ID            string
	ParticipantID int
	Conn          *websocket.Conn
	Send          chan []byte
	hub           *Hub

	mu       sync.Mutex
	sessions map[int]bool // sessions this client belongs to or observes
}

// Config holds configuration for relay websocket connections.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
}

type broadcast struct {
	SessionID int
	Frame     events.Frame
}

// DefaultConfig returns default relay configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// NewHub creates a relay hub.
func NewHub(config Config) *Hub {
	return &Hub{
		sessionClients: make(map[int]map[*client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				// Development relay; restrict origins in a real deployment.
				return true
			},
		},
		config:      config,
		broadcastCh: make(chan broadcast, 1000),
	}
}

// Start begins processing broadcast messages until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) {
	log.Info().Msg("relay hub started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay hub shutting down")
			return
		case message := <-h.broadcastCh:
			h.handleBroadcast(message)
		}
	}
}

// Upgrade upgrades an HTTP request to a websocket connection for a
// participant and starts its pumps.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, participantID int) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return err
	}

	c := &client{
		ID:            uuid.New().String(),
		ParticipantID: participantID,
		Conn:          conn,
		Send:          make(chan []byte, 256),
		hub:           h,
		sessions:      make(map[int]bool),
	}

	go c.writePump()
	go c.readPump()

	log.Info().
		Str("client_id", c.ID).
		Int("participant_id", participantID).
		Msg("websocket connection established")
	return nil
}

// Broadcast queues a frame for every client in a session.
func (h *Hub) Broadcast(sessionID int, frame events.Frame) {
	select {
	case h.broadcastCh <- broadcast{SessionID: sessionID, Frame: frame}:
	default:
		log.Warn().Int("session_id", sessionID).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastEvent marshals a payload and queues it for a session.
func (h *Hub) BroadcastEvent(sessionID int, event events.Name, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", string(event)).Msg("failed to marshal broadcast payload")
		return
	}
	h.Broadcast(sessionID, events.Frame{Event: event, Data: data})
}

// addToSession registers a client in a session group.
func (h *Hub) addToSession(c *client, sessionID int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sessionClients[sessionID] == nil {
		h.sessionClients[sessionID] = make(map[*client]bool)
	}
	h.sessionClients[sessionID][c] = true

	c.mu.Lock()
	c.sessions[sessionID] = true
	c.mu.Unlock()
}

// removeFromSession removes a client from a session group.
func (h *Hub) removeFromSession(c *client, sessionID int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, exists := h.sessionClients[sessionID]; exists {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.sessionClients, sessionID)
		}
	}

	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
}

// dropClient removes a client from every session and closes its send channel.
func (h *Hub) dropClient(c *client) {
	c.mu.Lock()
	sessionIDs := make([]int, 0, len(c.sessions))
	for id := range c.sessions {
		sessionIDs = append(sessionIDs, id)
	}
	c.sessions = make(map[int]bool)
	c.mu.Unlock()

	h.mu.Lock()
	for _, sessionID := range sessionIDs {
		if clients, exists := h.sessionClients[sessionID]; exists {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.sessionClients, sessionID)
			}
		}
	}
	h.mu.Unlock()

	log.Info().
		Str("client_id", c.ID).
		Int("participant_id", c.ParticipantID).
		Msg("client dropped")
}

// handleBroadcast fans a frame out to every client in the session.
func (h *Hub) handleBroadcast(message broadcast) {
	h.mu.RLock()
	clients, exists := h.sessionClients[message.SessionID]
	if !exists {
		h.mu.RUnlock()
		return
	}
	targets := make([]*client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	data, err := json.Marshal(message.Frame)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal frame for broadcast")
		return
	}

	for _, c := range targets {
		select {
		case c.Send <- data:
		default:
			log.Warn().
				Str("client_id", c.ID).
				Msg("client send buffer full, closing connection")
			h.dropClient(c)
			c.Conn.Close()
		}
	}

	log.Debug().
		Str("event", string(message.Frame.Event)).
		Int("session_id", message.SessionID).
		Int("clients", len(targets)).
		Msg("frame broadcasted")
}

// Stats returns the number of connected clients per session.
func (h *Hub) Stats() map[int]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	counts := make(map[int]int, len(h.sessionClients))
	for sessionID, clients := range h.sessionClients {
		counts[sessionID] = len(clients)
	}
	return counts
}

// writePump sends queued frames and pings to the client connection.
func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("client_id", c.ID).Msg("failed to write message")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the client connection and routes them.
func (c *client) readPump() {
	defer func() {
		c.hub.dropClient(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.hub.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("client_id", c.ID).Msg("unexpected websocket close")
			}
			break
		}
		c.handleFrame(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}
