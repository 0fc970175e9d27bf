package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/entrhq/wayfinder/pkg/graph"
	"github.com/entrhq/wayfinder/pkg/logging"
)

// DefaultConflictRetries bounds the optimistic loop of Update when no retry
// count is configured.
const DefaultConflictRetries = 5

// graphEnvelope is the on-disk graph document. Revision increases by one on
// every write and is what Update compares before committing.
type graphEnvelope struct {
	Revision int64           `json:"revision"`
	Graph    json.RawMessage `json:"graph"`
}

// GraphStore keeps one graph document per workflow under dir.
type GraphStore struct {
	dir        string
	cycleBound int
	retries    int
	logger     *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// GraphStoreOption configures a GraphStore.
type GraphStoreOption func(*GraphStore)

// WithCycleBound sets the iteration bound given to cycle edges of loaded and
// newly created graphs.
func WithCycleBound(n int) GraphStoreOption {
	return func(s *GraphStore) { s.cycleBound = n }
}

// WithConflictRetries sets how many optimistic attempts Update makes before
// committing under the workflow lock.
func WithConflictRetries(n int) GraphStoreOption {
	return func(s *GraphStore) { s.retries = n }
}

// WithGraphLogger sets the store logger.
func WithGraphLogger(l *logging.Logger) GraphStoreOption {
	return func(s *GraphStore) { s.logger = l }
}

// NewGraphStore creates a store rooted at dir.
func NewGraphStore(dir string, opts ...GraphStoreOption) *GraphStore {
	s := &GraphStore{
		dir:     dir,
		retries: DefaultConflictRetries,
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retries < 1 {
		s.retries = 1
	}
	s.logger = logging.OrDiscard(s.logger, "store")
	return s
}

func (s *GraphStore) path(workflowID string) string {
	return filepath.Join(s.dir, workflowID+".json")
}

func (s *GraphStore) lock(workflowID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[workflowID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[workflowID] = l
	}
	return l
}

func (s *GraphStore) graphOptions() []graph.Option {
	if s.cycleBound > 0 {
		return []graph.Option{graph.WithCycleBound(s.cycleBound)}
	}
	return nil
}

// read returns the stored graph and its revision.
func (s *GraphStore) read(workflowID string) (*graph.Graph, int64, error) {
	data, err := os.ReadFile(s.path(workflowID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: graph %q", ErrNotFound, workflowID)
		}
		return nil, 0, fmt.Errorf("store: read graph %q: %w", workflowID, err)
	}

	var env graphEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, 0, fmt.Errorf("store: decode graph %q: %w", workflowID, err)
	}
	g, err := graph.Unmarshal(env.Graph, s.graphOptions()...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: graph %q: %w", workflowID, err)
	}
	if g.WorkflowID() != workflowID {
		return nil, 0, fmt.Errorf("store: graph file %q holds workflow %q", workflowID, g.WorkflowID())
	}
	return g, env.Revision, nil
}

func (s *GraphStore) revision(workflowID string) (int64, error) {
	_, rev, err := s.read(workflowID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	return rev, err
}

func (s *GraphStore) write(g *graph.Graph, revision int64) error {
	body, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("store: encode graph %q: %w", g.WorkflowID(), err)
	}
	data, err := json.MarshalIndent(graphEnvelope{Revision: revision, Graph: body}, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode graph %q: %w", g.WorkflowID(), err)
	}
	if err := writeAtomic(s.path(g.WorkflowID()), data); err != nil {
		return fmt.Errorf("store: write graph %q: %w", g.WorkflowID(), err)
	}
	return nil
}

// Load returns the stored graph for workflowID or ErrNotFound.
func (s *GraphStore) Load(workflowID string) (*graph.Graph, error) {
	if err := checkID("workflow", workflowID); err != nil {
		return nil, err
	}
	g, _, err := s.read(workflowID)
	return g, err
}

// LoadOrNew returns the stored graph, or an empty graph when none exists.
func (s *GraphStore) LoadOrNew(workflowID string) (*graph.Graph, error) {
	g, err := s.Load(workflowID)
	if errors.Is(err, ErrNotFound) {
		return graph.New(workflowID, s.graphOptions()...), nil
	}
	return g, err
}

// Save replaces the stored graph unconditionally.
func (s *GraphStore) Save(g *graph.Graph) error {
	if err := checkID("workflow", g.WorkflowID()); err != nil {
		return err
	}
	l := s.lock(g.WorkflowID())
	l.Lock()
	defer l.Unlock()

	rev, err := s.revision(g.WorkflowID())
	if err != nil {
		return err
	}
	return s.write(g, rev+1)
}

// Update applies fn to the current graph of workflowID and stores the result.
// fn runs without holding any lock and may be called more than once: when
// another writer commits in between, the change is recomputed from the newer
// graph. After the configured number of conflicts fn is applied once more
// under the workflow lock, so conflicts never reach the caller.
func (s *GraphStore) Update(ctx context.Context, workflowID string, fn func(*graph.Graph) (*graph.Graph, error)) (*graph.Graph, error) {
	if err := checkID("workflow", workflowID); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= s.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := s.tryUpdate(workflowID, fn)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		s.logger.Debugf("graph %s: conflict on attempt %d, retrying", workflowID, attempt)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.logger.Warnf("graph %s: %d conflicts, committing under lock", workflowID, s.retries)
	l := s.lock(workflowID)
	l.Lock()
	defer l.Unlock()
	cur, rev, err := s.current(workflowID)
	if err != nil {
		return nil, err
	}
	return s.commit(workflowID, cur, rev, fn)
}

func (s *GraphStore) tryUpdate(workflowID string, fn func(*graph.Graph) (*graph.Graph, error)) (*graph.Graph, error) {
	cur, rev, err := s.current(workflowID)
	if err != nil {
		return nil, err
	}
	out, err := fn(cur)
	if err != nil {
		return nil, err
	}

	l := s.lock(workflowID)
	l.Lock()
	defer l.Unlock()
	now, err := s.revision(workflowID)
	if err != nil {
		return nil, err
	}
	if now != rev {
		return nil, fmt.Errorf("%w: graph %q revision %d, expected %d", ErrConflict, workflowID, now, rev)
	}
	return out, s.store(workflowID, out, rev)
}

// commit applies fn and writes the result. The caller holds the workflow lock.
func (s *GraphStore) commit(workflowID string, cur *graph.Graph, rev int64, fn func(*graph.Graph) (*graph.Graph, error)) (*graph.Graph, error) {
	out, err := fn(cur)
	if err != nil {
		return nil, err
	}
	return out, s.store(workflowID, out, rev)
}

func (s *GraphStore) store(workflowID string, g *graph.Graph, rev int64) error {
	if g == nil {
		return fmt.Errorf("store: update of %q returned no graph", workflowID)
	}
	if g.WorkflowID() != workflowID {
		return fmt.Errorf("store: update of %q returned graph for %q", workflowID, g.WorkflowID())
	}
	return s.write(g, rev+1)
}

func (s *GraphStore) current(workflowID string) (*graph.Graph, int64, error) {
	g, rev, err := s.read(workflowID)
	if errors.Is(err, ErrNotFound) {
		return graph.New(workflowID, s.graphOptions()...), 0, nil
	}
	return g, rev, err
}
