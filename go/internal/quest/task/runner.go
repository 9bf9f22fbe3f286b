package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/questline/questline/go/clients/questapi"
	"github.com/questline/questline/go/internal/quest/taskstate"
)

// State is the lifecycle state of a task attempt.
type State int

const (
	StateNotStarted State = iota
	StateStarted
	StateSubmitted
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateSubmitted:
		return "submitted"
	case StateExpired:
		return "expired"
	default:
		return "not_started"
	}
}

// API is what the runner needs from the quest REST client.
type API interface {
	StartTask(ctx context.Context, taskID int) (*questapi.StartTaskResponse, error)
	SubmitCodeWord(ctx context.Context, taskID int, code string) (*questapi.SubmitResponse, error)
	SubmitQuizAnswer(ctx context.Context, taskID, questionIndex int, answer string) (*questapi.SubmitResponse, error)
	SubmitPhoto(ctx context.Context, taskID int, photo []byte) (*questapi.SubmitResponse, error)
}

// ServerClock supplies the authoritative current time. It must be the same
// source the session monitor reads.
type ServerClock interface {
	Now() time.Time
}

// Snapshot is the state exposed to the presentation layer.
type Snapshot struct {
	State         State
	TaskID        int
	Remaining     time.Duration
	QuestionIndex int
}

// Runner drives one task attempt: it resumes a durable in-progress attempt
// or starts a new one, runs the countdown against the server clock, and
// transitions to Expired exactly once.
type Runner struct {
	clock  clockwork.Clock
	server ServerClock
	store  taskstate.Store
	api    API

	mu            sync.Mutex
	state         State
	taskID        int
	expiry        time.Time
	questionIndex int // next question to answer, zero-based
	ticker        clockwork.Ticker
	countdownDone chan struct{}

	snapshots chan Snapshot
}

// NewRunner creates a task runner.
func NewRunner(clock clockwork.Clock, server ServerClock, store taskstate.Store, api API) *Runner {
	return &Runner{
		clock:     clock,
		server:    server,
		store:     store,
		api:       api,
		snapshots: make(chan Snapshot, 32),
	}
}

// Snapshots returns the stream of state snapshots.
func (r *Runner) Snapshots() <-chan Snapshot {
	return r.snapshots
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Remaining returns the countdown remaining, floored at zero.
func (r *Runner) Remaining() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remainingLocked()
}

func (r *Runner) remainingLocked() time.Duration {
	if r.state != StateStarted {
		return 0
	}
	remaining := r.expiry.Sub(r.server.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// QuestionIndex returns the next quiz question to answer, zero-based.
func (r *Runner) QuestionIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.questionIndex
}

// Begin resumes a durable in-progress attempt for taskID, or starts a new
// one. A persisted deadline already in the past expires immediately without
// contacting the server.
func (r *Runner) Begin(ctx context.Context, taskID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateNotStarted {
		return fmt.Errorf("task runner already started (state %s)", r.state)
	}
	r.taskID = taskID

	if storedID, expiry, ok := r.store.Deadline(); ok {
		if storedID != taskID {
			// A participant has at most one outstanding task; a record for
			// another task is stale.
			log.Warn().
				Int("stored_task_id", storedID).
				Int("task_id", taskID).
				Msg("clearing stale task record")
			r.clearPersisted()
		} else if r.store.IsExpired(r.server.Now()) {
			log.Info().Int("task_id", taskID).Msg("persisted deadline already passed")
			r.clearPersisted()
			r.transitionLocked(StateExpired)
			return nil
		} else {
			// Resume: restore countdown and quiz position.
			r.expiry = expiry
			if idx, ok := r.store.QuizProgress(taskID); ok {
				r.questionIndex = idx + 1
			}
			r.transitionLocked(StateStarted)
			r.startCountdownLocked()
			log.Info().
				Int("task_id", taskID).
				Dur("remaining", r.remainingLocked()).
				Int("question_index", r.questionIndex).
				Msg("resumed task from durable state")
			return nil
		}
	}

	resp, err := r.api.StartTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, questapi.ErrTaskInvalid) {
			r.transitionLocked(StateExpired)
			return nil
		}
		return fmt.Errorf("failed to start task: %w", err)
	}

	if err := r.store.SaveDeadline(taskID, resp.ExpiresAt); err != nil {
		return fmt.Errorf("failed to persist task deadline: %w", err)
	}
	r.expiry = resp.ExpiresAt
	r.transitionLocked(StateStarted)
	r.startCountdownLocked()

	log.Info().
		Int("task_id", taskID).
		Time("expires_at", resp.ExpiresAt).
		Msg("started new task")
	return nil
}

// SubmitCodeWord submits a code-word answer. On success the attempt is
// Submitted and all persisted state is cleared; on a retryable failure the
// attempt stays Started.
func (r *Runner) SubmitCodeWord(ctx context.Context, code string) (*questapi.SubmitResponse, error) {
	taskID, err := r.requireStarted()
	if err != nil {
		return nil, err
	}

	resp, err := r.api.SubmitCodeWord(ctx, taskID, code)
	if err != nil {
		return nil, r.submissionError(err)
	}
	if resp.Correct {
		r.finish()
	}
	return resp, nil
}

// SubmitQuizAnswer submits the answer for the current quiz question. A
// correct non-final answer advances and persists the question index; the
// final correct answer completes the attempt.
func (r *Runner) SubmitQuizAnswer(ctx context.Context, answer string) (*questapi.SubmitResponse, error) {
	taskID, err := r.requireStarted()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	index := r.questionIndex
	r.mu.Unlock()

	resp, err := r.api.SubmitQuizAnswer(ctx, taskID, index, answer)
	if err != nil {
		return nil, r.submissionError(err)
	}

	if resp.Correct {
		if resp.Final {
			r.finish()
		} else {
			r.mu.Lock()
			if r.state == StateStarted {
				if err := r.store.SaveQuizProgress(taskID, index); err != nil {
					log.Error().Err(err).Msg("failed to persist quiz progress")
				}
				r.questionIndex = index + 1
				r.emitLocked()
			}
			r.mu.Unlock()
		}
	}
	return resp, nil
}

// SubmitPhoto submits a photo answer.
func (r *Runner) SubmitPhoto(ctx context.Context, photo []byte) (*questapi.SubmitResponse, error) {
	taskID, err := r.requireStarted()
	if err != nil {
		return nil, err
	}

	resp, err := r.api.SubmitPhoto(ctx, taskID, photo)
	if err != nil {
		return nil, r.submissionError(err)
	}
	if resp.Correct {
		r.finish()
	}
	return resp, nil
}

// Stop cancels the countdown without touching the durable record, so the
// attempt can be resumed after navigation or process death.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopCountdownLocked()
}

func (r *Runner) requireStarted() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateStarted {
		return 0, fmt.Errorf("task is not in progress (state %s)", r.state)
	}
	return r.taskID, nil
}

// submissionError maps an explicit invalid/expired signal to the Expired
// transition; anything else is surfaced to the caller as retryable.
func (r *Runner) submissionError(err error) error {
	if errors.Is(err, questapi.ErrTaskInvalid) {
		r.expire()
		return questapi.ErrTaskInvalid
	}
	return fmt.Errorf("submission failed: %w", err)
}

// finish transitions to Submitted and clears all persisted task state.
func (r *Runner) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateStarted {
		return
	}
	r.stopCountdownLocked()
	r.clearPersisted()
	r.transitionLocked(StateSubmitted)
	log.Info().Int("task_id", r.taskID).Msg("task submitted")
}

// expire transitions to Expired exactly once and clears persisted state.
func (r *Runner) expire() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateStarted {
		return
	}
	r.stopCountdownLocked()
	r.clearPersisted()
	r.transitionLocked(StateExpired)
	log.Info().Int("task_id", r.taskID).Msg("task expired")
}

func (r *Runner) clearPersisted() {
	if err := r.store.ClearDeadline(); err != nil {
		log.Error().Err(err).Msg("failed to clear task deadline")
	}
	if err := r.store.ClearQuizProgress(); err != nil {
		log.Error().Err(err).Msg("failed to clear quiz progress")
	}
}

// startCountdownLocked launches the per-second countdown. Caller holds r.mu.
func (r *Runner) startCountdownLocked() {
	ticker := r.clock.NewTicker(time.Second)
	done := make(chan struct{})
	r.ticker = ticker
	r.countdownDone = done

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				r.mu.Lock()
				if r.state != StateStarted {
					r.mu.Unlock()
					return
				}
				remaining := r.remainingLocked()
				r.emitLocked()
				r.mu.Unlock()

				if remaining <= 0 {
					r.expire()
					return
				}
			case <-done:
				return
			}
		}
	}()
}

// stopCountdownLocked cancels the countdown goroutine. Caller holds r.mu.
func (r *Runner) stopCountdownLocked() {
	if r.countdownDone != nil {
		close(r.countdownDone)
		r.countdownDone = nil
	}
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}
}

// transitionLocked applies a state change and emits a snapshot. Caller
// holds r.mu.
func (r *Runner) transitionLocked(next State) {
	r.state = next
	r.emitLocked()
}

// emitLocked sends a snapshot without blocking. Caller holds r.mu.
func (r *Runner) emitLocked() {
	snap := Snapshot{
		State:         r.state,
		TaskID:        r.taskID,
		Remaining:     r.remainingLocked(),
		QuestionIndex: r.questionIndex,
	}
	select {
	case r.snapshots <- snap:
	default:
	}
}
