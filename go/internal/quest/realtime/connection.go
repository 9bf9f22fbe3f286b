package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/questline/questline/go/internal/quest/auth"
	"github.com/questline/questline/go/internal/quest/events"
)

// Status is the lifecycle state of a sub-channel connection.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config holds configuration for a sub-channel connection.
type Config struct {
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	PingInterval      time.Duration
	MinReconnectDelay time.Duration
	MaxReconnectDelay time.Duration
	SendBufferSize    int
	MaxMessageSize    int64
}

// DefaultConfig returns default connection configuration.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       60 * time.Second,
		PingInterval:      30 * time.Second,
		MinReconnectDelay: 500 * time.Millisecond,
		MaxReconnectDelay: 30 * time.Second,
		SendBufferSize:    256,
		MaxMessageSize:    4096,
	}
}

// Conn owns a single duplex transport to one sub-channel endpoint. It
// performs the authenticated handshake, decodes inbound frames into the
// router, and redials automatically with bounded exponential backoff until
// Disconnect is called.
type Conn struct {
	id       string
	endpoint string
	tokens   auth.TokenProvider
	router   *Router
	config   Config

	mu      sync.Mutex
	status  Status
	ws      *websocket.Conn
	sendCh  chan events.Frame
	waitCh  chan struct{} // closed when an in-flight connect attempt resolves
	lastErr error
	ctx     context.Context // lifetime of the connected period
	cancel  context.CancelFunc
	attempt int

	// Outbound subscription frames replayed after every reconnect, keyed by
	// event name + payload so re-registration stays idempotent.
	resub map[string]events.Frame
}

// NewConn creates a connection manager for one sub-channel endpoint.
// The router is owned by this connection for its lifetime.
func NewConn(endpoint string, tokens auth.TokenProvider, router *Router, config Config) *Conn {
	return &Conn{
		id:       uuid.New().String()[:8],
		endpoint: endpoint,
		tokens:   tokens,
		router:   router,
		config:   config,
		resub:    make(map[string]events.Frame),
	}
}

// Router returns the event router bound to this connection.
func (c *Conn) Router() *Router {
	return c.router
}

// Status returns the current connection status.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect establishes the transport if not already connected. A call while
// Connected is a no-op; a call while Connecting suspends until the in-flight
// attempt resolves or ctx is cancelled.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case StatusConnected:
		c.mu.Unlock()
		return nil
	case StatusConnecting:
		waitCh := c.waitCh
		c.mu.Unlock()
		select {
		case <-waitCh:
			c.mu.Lock()
			err := c.lastErr
			c.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.status = StatusConnecting
	c.waitCh = make(chan struct{})
	lifetime, cancel := context.WithCancel(context.Background())
	c.ctx = lifetime
	c.cancel = cancel
	c.sendCh = make(chan events.Frame, c.config.SendBufferSize)
	c.mu.Unlock()

	err := c.establish(ctx)

	c.mu.Lock()
	c.lastErr = err
	if err != nil {
		c.status = StatusDisconnected
		c.cancel()
	}
	close(c.waitCh)
	c.mu.Unlock()

	return err
}

// establish dials the endpoint, starts the pumps, and replays registered
// subscription frames. Transitions to Connected on success.
func (c *Conn) establish(ctx context.Context) error {
	token, err := c.tokens.Token()
	if err != nil {
		return ErrAuthUnavailable
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.HandshakeTimeout,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, _, err := dialer.DialContext(ctx, c.endpoint, header)
	if err != nil {
		return &ConnectionFailedError{Endpoint: c.endpoint, Err: err}
	}

	c.mu.Lock()
	c.ws = ws
	c.status = StatusConnected
	c.attempt = 0
	c.mu.Unlock()

	stop := make(chan struct{})
	go c.writePump(ws, stop)
	go c.readPump(ws, stop)

	c.replaySubscriptions()

	log.Info().
		Str("conn_id", c.id).
		Str("endpoint", c.endpoint).
		Msg("sub-channel connected")
	return nil
}

// Disconnect tears down the transport, cancels any in-flight connect attempt
// and the reconnect loop, and clears all registered listeners and pending
// subscription frames. Idempotent.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.status == StatusDisconnected && c.cancel == nil {
		c.mu.Unlock()
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	ws := c.ws
	c.ws = nil
	c.status = StatusDisconnected
	c.resub = make(map[string]events.Frame)
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	c.router.Reset()

	log.Info().
		Str("conn_id", c.id).
		Str("endpoint", c.endpoint).
		Msg("sub-channel disconnected")
}

// Emit sends an outbound frame on the live transport.
func (c *Conn) Emit(event events.Name, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.emitFrame(events.Frame{Event: event, Data: data})
}

func (c *Conn) emitFrame(frame events.Frame) error {
	c.mu.Lock()
	if c.status != StatusConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	sendCh := c.sendCh
	c.mu.Unlock()

	select {
	case sendCh <- frame:
		return nil
	default:
		log.Warn().
			Str("conn_id", c.id).
			Str("event", string(frame.Event)).
			Msg("send buffer full, dropping outbound frame")
		return ErrNotConnected
	}
}

// EmitSubscription sends a subscription frame and records it for replay after
// reconnects. Recording is idempotent per (event, payload).
func (c *Conn) EmitSubscription(event events.Name, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame := events.Frame{Event: event, Data: data}

	c.mu.Lock()
	c.resub[string(event)+":"+string(data)] = frame
	c.mu.Unlock()

	return c.emitFrame(frame)
}

// DropSubscription forgets a previously recorded subscription frame and sends
// the matching unsubscribe frame.
func (c *Conn) DropSubscription(subscribed events.Name, unsubscribe events.Name, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.resub, string(subscribed)+":"+string(data))
	c.mu.Unlock()

	return c.emitFrame(events.Frame{Event: unsubscribe, Data: data})
}

// replaySubscriptions re-sends every recorded subscription frame on the
// fresh transport.
func (c *Conn) replaySubscriptions() {
	c.mu.Lock()
	frames := make([]events.Frame, 0, len(c.resub))
	for _, frame := range c.resub {
		frames = append(frames, frame)
	}
	c.mu.Unlock()

	for _, frame := range frames {
		if err := c.emitFrame(frame); err != nil {
			log.Warn().
				Str("conn_id", c.id).
				Str("event", string(frame.Event)).
				Err(err).
				Msg("failed to replay subscription frame")
		}
	}
}

// writePump serializes outbound frames and pings onto the transport.
func (c *Conn) writePump(ws *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	c.mu.Lock()
	sendCh := c.sendCh
	lifetime := c.ctx
	c.mu.Unlock()

	for {
		select {
		case frame := <-sendCh:
			data, err := json.Marshal(frame)
			if err != nil {
				log.Error().Err(err).Str("conn_id", c.id).Msg("failed to marshal outbound frame")
				continue
			}
			ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("conn_id", c.id).Msg("failed to write frame")
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("conn_id", c.id).Msg("failed to send ping")
				return
			}
		case <-stop:
			return
		case <-lifetime.Done():
			return
		}
	}
}

// readPump decodes inbound frames and dispatches them to the router. A
// decode failure for one frame is logged and dropped; it never terminates
// the connection. On transport loss the reconnect loop takes over.
func (c *Conn) readPump(ws *websocket.Conn, stop chan struct{}) {
	defer close(stop)

	ws.SetReadLimit(c.config.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			c.handleTransportLoss(ws, err)
			return
		}
		ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		var frame events.Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			log.Warn().
				Err(err).
				Str("conn_id", c.id).
				Msg("dropping malformed frame")
			continue
		}
		c.router.Dispatch(frame)
	}
}

// handleTransportLoss decides between a clean shutdown and an automatic
// reconnect after an unexpected transport error.
func (c *Conn) handleTransportLoss(ws *websocket.Conn, err error) {
	c.mu.Lock()
	// A newer transport may already have replaced this one.
	if c.ws != ws {
		c.mu.Unlock()
		return
	}
	lifetime := c.ctx
	c.ws = nil
	c.status = StatusConnecting
	c.waitCh = make(chan struct{})
	c.mu.Unlock()

	ws.Close()

	select {
	case <-lifetime.Done():
		// Explicit disconnect; no redial.
		return
	default:
	}

	log.Warn().
		Err(err).
		Str("conn_id", c.id).
		Str("endpoint", c.endpoint).
		Msg("transport lost, reconnecting")

	go c.reconnectLoop(lifetime)
}

// reconnectLoop redials with bounded exponential backoff until it succeeds
// or the connection is explicitly disconnected. Per-attempt failures are
// logged, never surfaced.
func (c *Conn) reconnectLoop(lifetime context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.MinReconnectDelay
	policy.MaxInterval = c.config.MaxReconnectDelay
	policy.MaxElapsedTime = 0 // retry until disconnected

	operation := func() error {
		c.mu.Lock()
		c.attempt++
		attempt := c.attempt
		c.mu.Unlock()

		err := c.establish(lifetime)
		if err != nil {
			log.Debug().
				Err(err).
				Int("attempt", attempt).
				Str("conn_id", c.id).
				Msg("reconnect attempt failed")
		}
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(policy, lifetime))

	c.mu.Lock()
	c.lastErr = err
	if err != nil {
		c.status = StatusDisconnected
	}
	if c.waitCh != nil {
		select {
		case <-c.waitCh:
		default:
			close(c.waitCh)
		}
	}
	c.mu.Unlock()
}
