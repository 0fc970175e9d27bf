// Package graph holds the persistent navigation map of a workflow: states
// (nodes) and actions (edges) with empirically learned selector confidence.
//
// Nodes and edges live in id-indexed arenas and refer to each other only by
// opaque integer ids, so retry cycles need no cyclic ownership. Structural
// changes take the graph's write lock; counter updates take the graph's read
// lock plus a per-edge mutex, so concurrent executors recording attempts on
// the same edge never lose an update while reads stay concurrent.
package graph

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrUnknownNode     = errors.New("graph: unknown node")
	ErrUnknownEdge     = errors.New("graph: unknown edge")
	ErrUnknownSelector = errors.New("graph: unknown selector")
	ErrUnboundedCycle  = errors.New("graph: cycle edge without iteration bound")
	ErrNoPath          = errors.New("graph: no path")
)

// NodeID addresses a node in the graph arena. Zero is never a valid id.
type NodeID int

// EdgeID addresses an edge in the graph arena. Zero is never a valid id.
type EdgeID int

// Signal is the observable evidence that a state has materialized.
// An empty signal is satisfied by any successful action.
type Signal struct {
	URLPattern    string `json:"url_pattern,omitempty" yaml:"url_pattern"`
	ReadySelector string `json:"ready_selector,omitempty" yaml:"ready_selector"`
}

// IsZero reports whether the signal carries no expectation.
func (s Signal) IsZero() bool {
	return s.URLPattern == "" && s.ReadySelector == ""
}

// Node is a semantic page state.
type Node struct {
	ID     NodeID
	Label  string
	Signal Signal
}

type edgeKey struct {
	from, to NodeID
	action   string
}

// Option configures a Graph.
type Option func(*Graph)

// WithCycleBound sets the iteration bound given to edges that close a cycle.
// Without it, adding a cycle-closing edge fails with ErrUnboundedCycle.
func WithCycleBound(n int) Option {
	return func(g *Graph) { g.cycleBound = n }
}

// WithClock overrides the clock used to stamp successes.
func WithClock(now func() time.Time) Option {
	return func(g *Graph) { g.now = now }
}

// Graph is a versioned workflow map. All methods are safe for concurrent use.
type Graph struct {
	mu         sync.RWMutex
	workflowID string
	version    Version
	cycleBound int
	nodes      []*Node // index = id-1; nil when removed
	labels     map[string]NodeID
	edges      []*Edge // index = id-1; nil when removed
	edgeIndex  map[edgeKey]EdgeID
	now        func() time.Time

	pending atomic.Int32
	tested  atomic.Int64
}

// New creates an empty graph at version 0.0.0.
func New(workflowID string, opts ...Option) *Graph {
	g := &Graph{
		workflowID: workflowID,
		labels:     make(map[string]NodeID),
		edgeIndex:  make(map[edgeKey]EdgeID),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WorkflowID returns the workflow this graph maps.
func (g *Graph) WorkflowID() string {
	return g.workflowID
}

// Version returns the last committed version.
func (g *Graph) Version() Version {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// CycleBound returns the bound assigned to new cycle edges.
func (g *Graph) CycleBound() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cycleBound
}

// SetCycleBound changes the bound assigned to new cycle edges.
func (g *Graph) SetCycleBound(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cycleBound = n
}

// TestedSessions returns how many sessions have been learned into the graph.
func (g *Graph) TestedSessions() int64 {
	return g.tested.Load()
}

// AddTestedSessions increments the tested-sessions counter.
func (g *Graph) AddTestedSessions(n int64) {
	g.tested.Add(n)
}

// Pending returns the most significant uncommitted change.
func (g *Graph) Pending() ChangeLevel {
	return ChangeLevel(g.pending.Load())
}

func (g *Graph) mark(level ChangeLevel) {
	for {
		cur := g.pending.Load()
		if int32(level) <= cur || g.pending.CompareAndSwap(cur, int32(level)) {
			return
		}
	}
}

// Commit bumps the version by the most significant pending change and
// clears it. It returns the resulting version.
func (g *Graph) Commit() Version {
	g.mu.Lock()
	defer g.mu.Unlock()
	level := ChangeLevel(g.pending.Swap(int32(ChangeNone)))
	g.version = g.version.Bump(level)
	return g.version
}

// AddNode returns the id of the node labelled label, creating it if needed.
func (g *Graph) AddNode(label string) (NodeID, error) {
	if label == "" {
		return 0, fmt.Errorf("graph: empty node label")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addNodeLocked(label), nil
}

func (g *Graph) addNodeLocked(label string) NodeID {
	if id, ok := g.labels[label]; ok {
		return id
	}
	id := NodeID(len(g.nodes) + 1)
	g.nodes = append(g.nodes, &Node{ID: id, Label: label})
	g.labels[label] = id
	g.mark(ChangeMinor)
	return id
}

// SetSignal attaches the expected-state signal to a node.
func (g *Graph) SetSignal(label string, s Signal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.labels[label]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, label)
	}
	n := g.nodes[id-1]
	if n.Signal != s {
		n.Signal = s
		g.mark(ChangeMinor)
	}
	return nil
}

// Node returns a copy of the node labelled label.
func (g *Graph) Node(label string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.labels[label]
	if !ok {
		return Node{}, false
	}
	return *g.nodes[id-1], true
}

// HasNode reports whether label is a known state.
func (g *Graph) HasNode(label string) bool {
	_, ok := g.Node(label)
	return ok
}

// Nodes returns copies of all nodes in id order.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, 0, len(g.labels))
	for _, n := range g.nodes {
		if n != nil {
			out = append(out, *n)
		}
	}
	return out
}

// RemoveNode deletes a node and every edge touching it.
func (g *Graph) RemoveNode(label string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.labels[label]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, label)
	}
	for _, e := range g.edges {
		if e != nil && (e.from == id || e.to == id) {
			g.removeEdgeLocked(e)
		}
	}
	g.nodes[id-1] = nil
	delete(g.labels, label)
	g.mark(ChangeMajor)
	return nil
}

// AddEdge connects two existing states by actionType. If an edge with the
// same endpoints and action already exists, selector is added to it as an
// alternative instead of creating a duplicate edge.
func (g *Graph) AddEdge(from, to, selector, actionType string) (EdgeID, error) {
	return g.AddEdgeWithBound(from, to, selector, actionType, 0)
}

// AddEdgeWithBound is AddEdge with an explicit iteration bound for an edge
// that closes a cycle. A non-positive bound falls back to the graph's cycle
// bound.
func (g *Graph) AddEdgeWithBound(from, to, selector, actionType string, bound int) (EdgeID, error) {
	if selector == "" {
		return 0, fmt.Errorf("graph: empty selector")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	fromID, ok := g.labels[from]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownNode, from)
	}
	toID, ok := g.labels[to]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownNode, to)
	}

	key := edgeKey{from: fromID, to: toID, action: actionType}
	if id, ok := g.edgeIndex[key]; ok {
		e := g.edges[id-1]
		if e.addSelector(selector) {
			g.mark(ChangeMinor)
		}
		return id, nil
	}

	if bound <= 0 {
		bound = g.cycleBound
	}
	if fromID == toID || g.reachableLocked(toID, fromID) {
		if bound <= 0 {
			return 0, fmt.Errorf("%w: %s -> %s", ErrUnboundedCycle, from, to)
		}
	} else {
		bound = 0
	}

	id := EdgeID(len(g.edges) + 1)
	e := &Edge{id: id, from: fromID, to: toID, action: actionType, maxIterations: bound}
	e.addSelector(selector)
	g.edges = append(g.edges, e)
	g.edgeIndex[key] = id
	g.mark(ChangeMinor)
	return id, nil
}

// reachableLocked reports whether dst can be reached from src.
func (g *Graph) reachableLocked(src, dst NodeID) bool {
	seen := map[NodeID]bool{src: true}
	queue := []NodeID{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == dst {
			return true
		}
		for _, e := range g.edges {
			if e != nil && e.from == cur && !seen[e.to] {
				seen[e.to] = true
				queue = append(queue, e.to)
			}
		}
	}
	return false
}

// unboundedPathLocked reports whether dst can be reached from src through
// edges without an iteration bound.
func (g *Graph) unboundedPathLocked(src, dst NodeID) bool {
	seen := map[NodeID]bool{src: true}
	queue := []NodeID{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == dst {
			return true
		}
		for _, e := range g.edges {
			if e != nil && e.maxIterations <= 0 && e.from == cur && !seen[e.to] {
				seen[e.to] = true
				queue = append(queue, e.to)
			}
		}
	}
	return false
}

// RemoveEdge deletes an edge.
func (g *Graph) RemoveEdge(id EdgeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, err := g.edgeLocked(id)
	if err != nil {
		return err
	}
	g.removeEdgeLocked(e)
	return nil
}

func (g *Graph) removeEdgeLocked(e *Edge) {
	g.edges[e.id-1] = nil
	delete(g.edgeIndex, edgeKey{from: e.from, to: e.to, action: e.action})
	g.mark(ChangeMajor)
}

func (g *Graph) edgeLocked(id EdgeID) (*Edge, error) {
	if id <= 0 || int(id) > len(g.edges) || g.edges[id-1] == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEdge, id)
	}
	return g.edges[id-1], nil
}

func (g *Graph) edge(id EdgeID) (*Edge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edgeLocked(id)
}

// FindEdge returns the edge joining from and to by actionType.
func (g *Graph) FindEdge(from, to, actionType string) (EdgeID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fromID, ok1 := g.labels[from]
	toID, ok2 := g.labels[to]
	if !ok1 || !ok2 {
		return 0, false
	}
	id, ok := g.edgeIndex[edgeKey{from: fromID, to: toID, action: actionType}]
	return id, ok
}

// RecordAttempt counts one traversal of edgeID using selector.
func (g *Graph) RecordAttempt(edgeID EdgeID, selector string, success bool) error {
	return g.RecordAttemptAt(edgeID, selector, success, g.now())
}

// RecordAttemptAt is RecordAttempt with an explicit evidence time.
func (g *Graph) RecordAttemptAt(edgeID EdgeID, selector string, success bool, at time.Time) error {
	e, err := g.edge(edgeID)
	if err != nil {
		return err
	}
	if err := e.recordAttempt(selector, success, at); err != nil {
		return err
	}
	g.mark(ChangePatch)
	return nil
}

// BestSelector returns the selector most likely to succeed on edgeID.
func (g *Graph) BestSelector(edgeID EdgeID) (string, error) {
	e, err := g.edge(edgeID)
	if err != nil {
		return "", err
	}
	ranked := e.Selectors()
	return ranked[0].Selector, nil
}

// RecordRecovery counts one use of the remediation steps for errorKind on
// edgeID, creating the strategy the first time it is seen.
func (g *Graph) RecordRecovery(edgeID EdgeID, errorKind string, steps []Step, success bool) error {
	e, err := g.edge(edgeID)
	if err != nil {
		return err
	}
	if e.recordRecovery(errorKind, steps, success) {
		g.mark(ChangeMinor)
	} else {
		g.mark(ChangePatch)
	}
	return nil
}

// Edge returns a snapshot of edgeID.
func (g *Graph) Edge(id EdgeID) (EdgeView, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, err := g.edgeLocked(id)
	if err != nil {
		return EdgeView{}, err
	}
	return g.viewLocked(e), nil
}

// Edges returns snapshots of all edges in id order.
func (g *Graph) Edges() []EdgeView {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]EdgeView, 0, len(g.edgeIndex))
	for _, e := range g.edges {
		if e != nil {
			out = append(out, g.viewLocked(e))
		}
	}
	return out
}

func (g *Graph) viewLocked(e *Edge) EdgeView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EdgeView{
		ID:            e.id,
		From:          g.nodes[e.from-1].Label,
		To:            g.nodes[e.to-1].Label,
		Action:        e.action,
		InputKey:      e.inputKey,
		MaxIterations: e.maxIterations,
		Selectors:     e.rankedLocked(),
		Recoveries:    e.strategiesLocked(""),
	}
}

// SetInputKey names the request input a fill edge types.
func (g *Graph) SetInputKey(id EdgeID, key string) error {
	e, err := g.edge(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	changed := e.inputKey != key
	e.inputKey = key
	e.mu.Unlock()
	if changed {
		g.mark(ChangeMinor)
	}
	return nil
}

// SetMaxIterations sets the traversal bound of an edge.
func (g *Graph) SetMaxIterations(id EdgeID, n int) error {
	e, err := g.edge(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.maxIterations = n
	e.mu.Unlock()
	g.mark(ChangePatch)
	return nil
}

// Strategies returns the recovery strategies for errorKind on edgeID in
// descending order of success.
func (g *Graph) Strategies(id EdgeID, errorKind string) ([]Strategy, error) {
	e, err := g.edge(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strategiesLocked(errorKind), nil
}

// Path returns the fewest-edge route from one state to another.
func (g *Graph) Path(from, to string) ([]EdgeID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	src, ok := g.labels[from]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, from)
	}
	dst, ok := g.labels[to]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, to)
	}
	if src == dst {
		return nil, nil
	}

	via := map[NodeID]*Edge{src: nil}
	queue := []NodeID{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == dst {
			break
		}
		for _, e := range g.edges {
			if e == nil || e.from != cur {
				continue
			}
			if _, seen := via[e.to]; !seen {
				via[e.to] = e
				queue = append(queue, e.to)
			}
		}
	}
	if _, ok := via[dst]; !ok {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNoPath, from, to)
	}

	var path []EdgeID
	for cur := dst; cur != src; {
		e := via[cur]
		path = append([]EdgeID{e.id}, path...)
		cur = e.from
	}
	return path, nil
}

// Validate checks that no edge dangles and every cycle carries at least one
// bounded edge.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, e := range g.edges {
		if e == nil {
			continue
		}
		if !g.liveNodeLocked(e.from) || !g.liveNodeLocked(e.to) {
			return fmt.Errorf("%w: edge %d dangles", ErrUnknownNode, e.id)
		}
		if e.maxIterations <= 0 && g.unboundedPathLocked(e.to, e.from) {
			return fmt.Errorf("%w: edge %d", ErrUnboundedCycle, e.id)
		}
	}
	return nil
}

func (g *Graph) liveNodeLocked(id NodeID) bool {
	return id > 0 && int(id) <= len(g.nodes) && g.nodes[id-1] != nil
}
