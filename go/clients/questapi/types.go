package questapi

import "time"

// StartTaskResponse is the result of starting a task attempt.
type StartTaskResponse struct {
	TaskID      int       `json:"task_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	DurationSec int       `json:"duration_sec"`
}

// SubmitResponse is the result of a code-word, quiz, or photo submission.
type SubmitResponse struct {
	Correct bool `json:"correct"`
	Final   bool `json:"final"`
}

// SessionDetails describes a quest session.
type SessionDetails struct {
	SessionID          int       `json:"session_id"`
	Name               string    `json:"name"`
	StartAt            time.Time `json:"start_at"`
	MaxDurationMinutes int       `json:"max_duration_minutes"`
	IsActive           bool      `json:"is_active"`
}
