package taskstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// record is the on-disk layout. Pointer fields distinguish "unset" from zero.
type record struct {
	TimeOffsetMillis *int64     `json:"time_offset,omitempty"`
	ActiveTaskID     *int       `json:"active_task_id,omitempty"`
	ActiveTaskExpiry *time.Time `json:"active_task_expiry,omitempty"`
	QuizProgress     *int       `json:"active_task_quiz_progress,omitempty"`
	QuizTaskID       *int       `json:"active_task_quiz_task_id,omitempty"`
	ActiveSessionID  *int       `json:"active_session_id,omitempty"`
}

// FileStore persists the task state record as a single JSON file.
// Every mutation rewrites the whole record via a temp file and rename, so
// a crash mid-write leaves either the old or the new record, never a mix.
type FileStore struct {
	path string
	mu   sync.Mutex
	rec  record
}

// NewFileStore opens (or creates) the record at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if err := json.Unmarshal(data, &s.rec); err != nil {
		// A corrupt record is unrecoverable; start fresh rather than fail startup.
		log.Warn().Err(err).Str("path", path).Msg("discarding corrupt state file")
		s.rec = record{}
	}
	return s, nil
}

// flush writes the record atomically. Caller holds s.mu.
func (s *FileStore) flush() error {
	data, err := json.Marshal(s.rec)
	if err != nil {
		return fmt.Errorf("failed to marshal state record: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".queststate-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// SaveDeadline persists the active task and its absolute expiry instant.
func (s *FileStore) SaveDeadline(taskID int, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec.ActiveTaskID = &taskID
	s.rec.ActiveTaskExpiry = &expiry
	return s.flush()
}

// Deadline returns the persisted task ID and expiry, if present.
func (s *FileStore) Deadline() (int, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.ActiveTaskID == nil || s.rec.ActiveTaskExpiry == nil {
		return 0, time.Time{}, false
	}
	return *s.rec.ActiveTaskID, *s.rec.ActiveTaskExpiry, true
}

// ClearDeadline removes the active task record.
func (s *FileStore) ClearDeadline() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec.ActiveTaskID = nil
	s.rec.ActiveTaskExpiry = nil
	return s.flush()
}

// IsExpired reports whether the persisted expiry is at or before now.
func (s *FileStore) IsExpired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.ActiveTaskExpiry == nil {
		return false
	}
	return !now.Before(*s.rec.ActiveTaskExpiry)
}

// SaveQuizProgress persists the last answered question index for a task.
func (s *FileStore) SaveQuizProgress(taskID int, questionIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec.QuizTaskID = &taskID
	s.rec.QuizProgress = &questionIndex
	return s.flush()
}

// QuizProgress returns the persisted question index for a task, if any.
// Progress saved for a different task does not apply.
func (s *FileStore) QuizProgress(taskID int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.QuizProgress == nil || s.rec.QuizTaskID == nil || *s.rec.QuizTaskID != taskID {
		return 0, false
	}
	return *s.rec.QuizProgress, true
}

// ClearQuizProgress removes any persisted quiz position.
func (s *FileStore) ClearQuizProgress() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec.QuizProgress = nil
	s.rec.QuizTaskID = nil
	return s.flush()
}

// SaveTimeOffset persists the learned server clock offset.
func (s *FileStore) SaveTimeOffset(offsetMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec.TimeOffsetMillis = &offsetMillis
	return s.flush()
}

// TimeOffset returns the persisted clock offset, if learned.
func (s *FileStore) TimeOffset() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.TimeOffsetMillis == nil {
		return 0, false
	}
	return *s.rec.TimeOffsetMillis, true
}

// SetActiveSession persists the active session marker.
func (s *FileStore) SetActiveSession(sessionID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec.ActiveSessionID = &sessionID
	return s.flush()
}

// ActiveSession returns the active session marker, if set.
func (s *FileStore) ActiveSession() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.ActiveSessionID == nil {
		return 0, false
	}
	return *s.rec.ActiveSessionID, true
}

// ClearActiveSession removes the active session marker.
func (s *FileStore) ClearActiveSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec.ActiveSessionID = nil
	return s.flush()
}
