package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questline/questline/go/internal/quest/events"
)

func startRelay(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Start(ctx)

	mux := http.NewServeMux()
	NewHandler(hub).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return hub, srv
}

func dialRelay(t *testing.T, srv *httptest.Server, participantID int) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") +
		fmt.Sprintf("/ws/session?participant_id=%d&token=test-token", participantID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, event events.Name, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(events.Frame{Event: event, Data: data})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readFrame(t *testing.T, conn *websocket.Conn) events.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame events.Frame
	require.NoError(t, json.Unmarshal(message, &frame))
	return frame
}

func TestHandler_RejectsMissingToken(t *testing.T) {
	_, srv := startRelay(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session?participant_id=1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_RejectsMissingParticipantID(t *testing.T) {
	_, srv := startRelay(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session?token=test-token"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHub_JoinBroadcastsToSessionMembers(t *testing.T) {
	hub, srv := startRelay(t)

	observer := dialRelay(t, srv, 1)
	sendFrame(t, observer, events.SubscribeToSession, events.SubscribePayload{SessionID: 42})

	require.Eventually(t, func() bool {
		return hub.Stats()[42] == 1
	}, 2*time.Second, 10*time.Millisecond)

	joiner := dialRelay(t, srv, 2)
	sendFrame(t, joiner, events.JoinSession, events.JoinSessionPayload{SessionID: 42})

	frame := readFrame(t, observer)
	require.Equal(t, events.ParticipantJoined, frame.Event)

	var payload events.ParticipantJoinedPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, 42, payload.SessionID)
	assert.Equal(t, 2, payload.ParticipantID)
}

func TestHub_LeaveBroadcastsAndRemoves(t *testing.T) {
	hub, srv := startRelay(t)

	observer := dialRelay(t, srv, 1)
	sendFrame(t, observer, events.SubscribeToSession, events.SubscribePayload{SessionID: 7})

	member := dialRelay(t, srv, 2)
	sendFrame(t, member, events.JoinSession, events.JoinSessionPayload{SessionID: 7})
	require.Equal(t, events.ParticipantJoined, readFrame(t, observer).Event)

	sendFrame(t, member, events.LeaveSession, events.LeaveSessionPayload{SessionID: 7})
	frame := readFrame(t, observer)
	require.Equal(t, events.ParticipantLeft, frame.Event)

	var payload events.ParticipantLeftPayload
	require.NoError(t, json.Unmarshal(frame.Data, &payload))
	assert.Equal(t, 2, payload.ParticipantID)

	require.Eventually(t, func() bool {
		return hub.Stats()[7] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_MalformedFrameGetsErrorEvent(t *testing.T) {
	_, srv := startRelay(t)

	conn := dialRelay(t, srv, 3)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	frame := readFrame(t, conn)
	assert.Equal(t, events.ErrorEvent, frame.Event)

	// The connection survives and still handles valid frames.
	sendFrame(t, conn, events.JoinSession, events.JoinSessionPayload{SessionID: 9})
	assert.Equal(t, events.ParticipantJoined, readFrame(t, conn).Event)
}

func TestHub_BroadcastSkipsOtherSessions(t *testing.T) {
	hub, srv := startRelay(t)

	inSession := dialRelay(t, srv, 1)
	sendFrame(t, inSession, events.SubscribeToSession, events.SubscribePayload{SessionID: 1})

	elsewhere := dialRelay(t, srv, 2)
	sendFrame(t, elsewhere, events.SubscribeToSession, events.SubscribePayload{SessionID: 2})

	require.Eventually(t, func() bool {
		stats := hub.Stats()
		return stats[1] == 1 && stats[2] == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.BroadcastEvent(1, events.SessionEnded, events.SessionEndedPayload{SessionID: 1})

	assert.Equal(t, events.SessionEnded, readFrame(t, inSession).Event)

	elsewhere.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := elsewhere.ReadMessage()
	assert.Error(t, err, "client outside the session must not receive the frame")
}

func TestHub_StatsCountsPerSession(t *testing.T) {
	hub, srv := startRelay(t)

	a := dialRelay(t, srv, 1)
	b := dialRelay(t, srv, 2)
	sendFrame(t, a, events.SubscribeToSession, events.SubscribePayload{SessionID: 5})
	sendFrame(t, b, events.SubscribeToSession, events.SubscribePayload{SessionID: 5})

	require.Eventually(t, func() bool {
		return hub.Stats()[5] == 2
	}, 2*time.Second, 10*time.Millisecond)
}
