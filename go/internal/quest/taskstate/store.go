package taskstate

import "time"

// Store is the durable key/value record that survives process restarts.
// There is at most one active task per device, so the record is flat.
//
// Writes must be atomic at record granularity: a reader never observes a
// partially written deadline update.
type Store interface {
	// Active task deadline.
	SaveDeadline(taskID int, expiry time.Time) error
	// Deadline returns the persisted task ID and expiry instant, if any.
	Deadline() (taskID int, expiry time.Time, ok bool)
	ClearDeadline() error
	// IsExpired compares the persisted expiry against the given instant.
	// Returns false when no deadline is persisted.
	IsExpired(now time.Time) bool

	// Quiz progress (multi-question tasks only). The index is the last
	// answered question, zero-based.
	SaveQuizProgress(taskID int, questionIndex int) error
	QuizProgress(taskID int) (questionIndex int, ok bool)
	ClearQuizProgress() error

	// Learned server clock offset in milliseconds.
	SaveTimeOffset(offsetMillis int64) error
	TimeOffset() (offsetMillis int64, ok bool)

	// Active session marker.
	SetActiveSession(sessionID int) error
	ActiveSession() (sessionID int, ok bool)
	ClearActiveSession() error
}
