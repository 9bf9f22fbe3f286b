package questapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questline/questline/go/internal/quest/auth"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, auth.StaticToken("test-token"))
}

func TestClient_StartTask(t *testing.T) {
	expiry := time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tasks/7/start", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(StartTaskResponse{TaskID: 7, ExpiresAt: expiry, DurationSec: 300})
	})

	resp, err := client.StartTask(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, resp.TaskID)
	assert.True(t, resp.ExpiresAt.Equal(expiry))
}

func TestClient_StartTaskExpiredCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"code": "task_expired", "error": "task already expired"})
	})

	_, err := client.StartTask(context.Background(), 7)
	assert.ErrorIs(t, err, ErrTaskInvalid)
}

func TestClient_StatusGoneMapsToInvalid(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})

	_, err := client.StartTask(context.Background(), 7)
	assert.ErrorIs(t, err, ErrTaskInvalid)
}

func TestClient_ServerErrorIsNotInvalid(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.StartTask(context.Background(), 7)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTaskInvalid)
}

func TestClient_SubmitCodeWord(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tasks/3/code", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sesame", body["code"])
		json.NewEncoder(w).Encode(SubmitResponse{Correct: true, Final: true})
	})

	resp, err := client.SubmitCodeWord(context.Background(), 3, "sesame")
	require.NoError(t, err)
	assert.True(t, resp.Correct)
}

func TestClient_SubmitQuizAnswer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tasks/3/quiz", r.URL.Path)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(2), body["question_index"])
		assert.Equal(t, "b", body["answer"])
		json.NewEncoder(w).Encode(SubmitResponse{Correct: false})
	})

	resp, err := client.SubmitQuizAnswer(context.Background(), 3, 2, "b")
	require.NoError(t, err)
	assert.False(t, resp.Correct)
}

func TestClient_SubmitPhotoEncodesBase64(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "aGVsbG8=", body["photo"])
		json.NewEncoder(w).Encode(SubmitResponse{Correct: true})
	})

	_, err := client.SubmitPhoto(context.Background(), 3, []byte("hello"))
	require.NoError(t, err)
}

func TestClient_GetSession(t *testing.T) {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/sessions/12", r.URL.Path)
		json.NewEncoder(w).Encode(SessionDetails{
			SessionID:          12,
			Name:               "harbor hunt",
			StartAt:            start,
			MaxDurationMinutes: 90,
			IsActive:           true,
		})
	})

	details, err := client.GetSession(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, 12, details.SessionID)
	assert.Equal(t, 90, details.MaxDurationMinutes)
	assert.True(t, details.StartAt.Equal(start))
}

func TestClient_ServerTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/time", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]time.Time{"now": now})
	})

	got, err := client.ServerTime(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Equal(now))
}

func TestClient_NoTokenFailsBeforeRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, auth.StaticToken(""))
	_, err := client.StartTask(context.Background(), 1)
	require.Error(t, err)
	assert.False(t, called, "request must not be sent without a credential")
}
