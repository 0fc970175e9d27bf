package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/entrhq/wayfinder/pkg/session"
)

const (
	sessionFile   = "session.json"
	compressedExt = ".zst"
	artifactsDir  = "artifacts"
)

// SessionStore keeps one append-only document per session under
// <dir>/<session id>/, next to that session's artifacts.
type SessionStore struct {
	dir      string
	compress bool

	mu      sync.Mutex
	encoder *zstd.Encoder
}

// NewSessionStore creates a store rooted at dir. When compress is set,
// documents are written zstd-compressed.
func NewSessionStore(dir string, compress bool) *SessionStore {
	return &SessionStore{dir: dir, compress: compress}
}

// ArtifactDir returns the directory frame artifacts of a session are written to.
func (s *SessionStore) ArtifactDir(sessionID string) string {
	return filepath.Join(s.dir, sessionID, artifactsDir)
}

func (s *SessionStore) paths(sessionID string) (plain, compressed string) {
	plain = filepath.Join(s.dir, sessionID, sessionFile)
	return plain, plain + compressedExt
}

// Append persists a finalized session. It never overwrites: storing the same
// session id twice fails with ErrAlreadyExists.
func (s *SessionStore) Append(sess *session.Session) error {
	if err := checkID("session", sess.ID); err != nil {
		return err
	}
	if sess.Outcome == session.OutcomeRunning {
		return fmt.Errorf("store: session %s is not finalized", sess.ID)
	}

	data, err := session.Marshal(sess)
	if err != nil {
		return err
	}

	plain, compressed := s.paths(sess.ID)
	path, other := plain, compressed
	if s.compress {
		path, other = compressed, plain
		if data, err = s.encode(data); err != nil {
			return err
		}
	}
	if _, err := os.Stat(other); err == nil {
		return fmt.Errorf("%w: session %s", ErrAlreadyExists, sess.ID)
	}
	if err := writeOnce(path, data); err != nil {
		return fmt.Errorf("store: append session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SessionStore) encode(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.encoder == nil {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("store: zstd encoder: %w", err)
		}
		s.encoder = enc
	}
	return s.encoder.EncodeAll(data, nil), nil
}

// Load reads a stored session document.
func (s *SessionStore) Load(sessionID string) (*session.Session, error) {
	if err := checkID("session", sessionID); err != nil {
		return nil, err
	}
	plain, compressed := s.paths(sessionID)

	data, err := os.ReadFile(plain)
	if errors.Is(err, os.ErrNotExist) {
		data, err = readCompressed(compressed)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("store: read session %s: %w", sessionID, err)
	}
	return session.Unmarshal(data)
}

func readCompressed(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(raw, nil)
}

// List returns the ids of stored sessions in start order. A non-empty
// workflowID restricts the result to that workflow.
func (s *SessionStore) List(workflowID string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sess, err := s.Load(e.Name())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if workflowID == "" || sess.WorkflowID == workflowID {
			ids = append(ids, sess.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
