package questapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/questline/questline/go/internal/quest/auth"
)

// ErrTaskInvalid is the server's explicit "already expired or invalid"
// signal on a start or submit operation. It is distinguishable from
// transport and validation failures, which are returned wrapped.
var ErrTaskInvalid = errors.New("task is expired or invalid")

// Client is the REST client for quest task and session operations.
type Client struct {
	baseURL string
	client  *http.Client
	tokens  auth.TokenProvider
}

// NewClient creates a quest API client.
func NewClient(baseURL string, tokens auth.TokenProvider) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		tokens: tokens,
	}
}

// SetTimeout overrides the default request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

type apiError struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func (c *Client) makeRequest(ctx context.Context, method, endpoint string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("failed to get auth token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(responseBody, &apiErr) == nil {
			switch apiErr.Code {
			case "task_expired", "task_invalid":
				return ErrTaskInvalid
			}
		}
		if resp.StatusCode == http.StatusGone {
			return ErrTaskInvalid
		}
		return fmt.Errorf("API returned status code: %d, response: %s", resp.StatusCode, string(responseBody))
	}

	if out != nil {
		if err := json.Unmarshal(responseBody, out); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

// StartTask begins a task attempt and returns its absolute expiry instant.
func (c *Client) StartTask(ctx context.Context, taskID int) (*StartTaskResponse, error) {
	var out StartTaskResponse
	err := c.makeRequest(ctx, http.MethodPost, fmt.Sprintf("/tasks/%d/start", taskID), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitCodeWord submits a code-word answer for a task.
func (c *Client) SubmitCodeWord(ctx context.Context, taskID int, code string) (*SubmitResponse, error) {
	var out SubmitResponse
	body := map[string]string{"code": code}
	err := c.makeRequest(ctx, http.MethodPost, fmt.Sprintf("/tasks/%d/code", taskID), body, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitQuizAnswer submits the answer for one quiz question.
func (c *Client) SubmitQuizAnswer(ctx context.Context, taskID, questionIndex int, answer string) (*SubmitResponse, error) {
	var out SubmitResponse
	body := map[string]interface{}{
		"question_index": questionIndex,
		"answer":         answer,
	}
	err := c.makeRequest(ctx, http.MethodPost, fmt.Sprintf("/tasks/%d/quiz", taskID), body, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitPhoto submits a photo for moderation.
func (c *Client) SubmitPhoto(ctx context.Context, taskID int, photo []byte) (*SubmitResponse, error) {
	var out SubmitResponse
	body := map[string]string{"photo": base64.StdEncoding.EncodeToString(photo)}
	err := c.makeRequest(ctx, http.MethodPost, fmt.Sprintf("/tasks/%d/photo", taskID), body, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession fetches a session's details.
func (c *Client) GetSession(ctx context.Context, sessionID int) (*SessionDetails, error) {
	var out SessionDetails
	err := c.makeRequest(ctx, http.MethodGet, fmt.Sprintf("/sessions/%d", sessionID), nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ServerTime fetches an authoritative server timestamp sample for clock
// offset learning.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var out struct {
		Now time.Time `json:"now"`
	}
	if err := c.makeRequest(ctx, http.MethodGet, "/time", nil, &out); err != nil {
		return time.Time{}, err
	}
	return out.Now, nil
}
