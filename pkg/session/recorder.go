package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SchemaVersion is the version of the persisted session document.
const SchemaVersion = 1

var (
	// ErrOutOfOrder is returned when a frame breaks frame_id or elapsed_ms ordering.
	ErrOutOfOrder = errors.New("session: frame out of order")

	// ErrFinalized is returned when mutating a finalized session.
	ErrFinalized = errors.New("session: already finalized")
)

// Recorder accumulates the frames of one run. It is safe for concurrent
// use, though an executor appends from a single goroutine.
type Recorder struct {
	mu        sync.Mutex
	sess      *Session
	finalized bool
	now       func() time.Time
}

// NewRecorder starts a session for workflowID.
func NewRecorder(workflowID string) *Recorder {
	return newRecorder(workflowID, NewID(), time.Now)
}

func newRecorder(workflowID, id string, now func() time.Time) *Recorder {
	return &Recorder{
		now: now,
		sess: &Session{
			SchemaVersion: SchemaVersion,
			ID:            id,
			WorkflowID:    workflowID,
			StartedAt:     now().UTC(),
			Outcome:       OutcomeRunning,
		},
	}
}

// ID returns the session identifier.
func (r *Recorder) ID() string {
	return r.sess.ID
}

// Len returns the number of recorded frames.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sess.Frames)
}

// Last returns a copy of the most recent frame, or nil.
func (r *Recorder) Last() *Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sess.Frames) == 0 {
		return nil
	}
	f := r.sess.Frames[len(r.sess.Frames)-1]
	return &f
}

// Append adds f to the session. frame_id must be strictly greater and
// elapsed_ms no smaller than the previous frame's.
func (r *Recorder) Append(f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return ErrFinalized
	}
	if n := len(r.sess.Frames); n > 0 {
		prev := r.sess.Frames[n-1]
		if f.ID <= prev.ID {
			return fmt.Errorf("%w: frame_id %d after %d", ErrOutOfOrder, f.ID, prev.ID)
		}
		if f.ElapsedMs < prev.ElapsedMs {
			return fmt.Errorf("%w: elapsed_ms %d after %d", ErrOutOfOrder, f.ElapsedMs, prev.ElapsedMs)
		}
	}

	r.sess.Frames = append(r.sess.Frames, f)
	return nil
}

// Finalize closes the session with its outcome and the recovery actions
// taken. The returned session must be treated as read-only.
func (r *Recorder) Finalize(outcome Outcome, recoveries []RecoveryRecord, cause error) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return nil, ErrFinalized
	}
	switch outcome {
	case OutcomeSuccess, OutcomeFailure, OutcomeCancelled:
	default:
		return nil, fmt.Errorf("session: invalid final outcome %q", outcome)
	}

	r.finalized = true
	r.sess.Outcome = outcome
	r.sess.Recoveries = append([]RecoveryRecord(nil), recoveries...)
	r.sess.EndedAt = r.now().UTC()
	r.sess.DurationMs = r.sess.EndedAt.Sub(r.sess.StartedAt).Milliseconds()
	if cause != nil {
		r.sess.Error = cause.Error()
	}
	return r.sess, nil
}

// Marshal serializes a session document.
func Marshal(s *Session) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("session: marshal: %w", err)
	}
	return data, nil
}

// Unmarshal parses a session document and checks its ordering invariants.
func Unmarshal(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session: unmarshal: %w", err)
	}
	if s.SchemaVersion == 0 || s.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("session: unsupported schema version %d", s.SchemaVersion)
	}
	if err := Validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that frame_id is strictly increasing and elapsed_ms
// is non-decreasing.
func Validate(s *Session) error {
	for i := 1; i < len(s.Frames); i++ {
		prev, cur := s.Frames[i-1], s.Frames[i]
		if cur.ID <= prev.ID || cur.ElapsedMs < prev.ElapsedMs {
			return fmt.Errorf("%w: frame %d", ErrOutOfOrder, cur.ID)
		}
	}
	return nil
}
