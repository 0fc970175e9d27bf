package graph

import (
	"encoding/json"
	"fmt"

	"github.com/entrhq/wayfinder/pkg/session"
)

// Document is the serialized form of a graph.
type Document struct {
	WorkflowID     string    `json:"workflow_id"`
	Version        Version   `json:"version"`
	CycleBound     int       `json:"cycle_bound,omitempty"`
	TestedSessions int64     `json:"tested_sessions"`
	Nodes          []NodeDoc `json:"nodes"`
	Edges          []EdgeDoc `json:"edges"`
}

// NodeDoc is the serialized form of a node.
type NodeDoc struct {
	ID     NodeID `json:"id"`
	Label  string `json:"label"`
	Signal Signal `json:"signal,omitempty"`
}

// EdgeDoc is the serialized form of an edge.
type EdgeDoc struct {
	ID                 EdgeID          `json:"id"`
	From               NodeID          `json:"from"`
	To                 NodeID          `json:"to"`
	ActionType         string          `json:"action_type"`
	InputKey           string          `json:"input_key,omitempty"`
	MaxIterations      int             `json:"max_iterations,omitempty"`
	Selectors          []SelectorStats `json:"selectors"`
	RecoveryStrategies []Strategy      `json:"recovery_strategies,omitempty"`
}

// Snapshot returns a consistent serialized copy of the graph. Selectors keep
// insertion order so that re-loading preserves tie-breaking.
func (g *Graph) Snapshot() Document {
	g.mu.RLock()
	defer g.mu.RUnlock()

	doc := Document{
		WorkflowID:     g.workflowID,
		Version:        g.version,
		CycleBound:     g.cycleBound,
		TestedSessions: g.tested.Load(),
		Nodes:          make([]NodeDoc, 0, len(g.labels)),
		Edges:          make([]EdgeDoc, 0, len(g.edgeIndex)),
	}
	for _, n := range g.nodes {
		if n != nil {
			doc.Nodes = append(doc.Nodes, NodeDoc{ID: n.ID, Label: n.Label, Signal: n.Signal})
		}
	}
	for _, e := range g.edges {
		if e == nil {
			continue
		}
		e.mu.Lock()
		ed := EdgeDoc{
			ID:            e.id,
			From:          e.from,
			To:            e.to,
			ActionType:    e.action,
			InputKey:      e.inputKey,
			MaxIterations: e.maxIterations,
			Selectors:     make([]SelectorStats, len(e.selectors)),
		}
		for i, s := range e.selectors {
			ed.Selectors[i] = *s
		}
		for _, s := range e.strategies {
			c := *s
			c.Steps = append([]Step(nil), s.Steps...)
			ed.RecoveryStrategies = append(ed.RecoveryStrategies, c)
		}
		e.mu.Unlock()
		doc.Edges = append(doc.Edges, ed)
	}
	return doc
}

// FromDocument rebuilds a graph, keeping node and edge ids stable.
func FromDocument(doc Document, opts ...Option) (*Graph, error) {
	g := New(doc.WorkflowID, append([]Option{WithCycleBound(doc.CycleBound)}, opts...)...)
	g.version = doc.Version
	g.tested.Store(doc.TestedSessions)

	for _, n := range doc.Nodes {
		if n.ID <= 0 || n.Label == "" {
			return nil, fmt.Errorf("graph: invalid node %d %q", n.ID, n.Label)
		}
		if _, dup := g.labels[n.Label]; dup {
			return nil, fmt.Errorf("graph: duplicate node label %q", n.Label)
		}
		for len(g.nodes) < int(n.ID) {
			g.nodes = append(g.nodes, nil)
		}
		if g.nodes[n.ID-1] != nil {
			return nil, fmt.Errorf("graph: duplicate node id %d", n.ID)
		}
		g.nodes[n.ID-1] = &Node{ID: n.ID, Label: n.Label, Signal: n.Signal}
		g.labels[n.Label] = n.ID
	}

	for _, ed := range doc.Edges {
		if ed.ID <= 0 {
			return nil, fmt.Errorf("graph: invalid edge id %d", ed.ID)
		}
		if !g.liveNodeLocked(ed.From) || !g.liveNodeLocked(ed.To) {
			return nil, fmt.Errorf("%w: edge %d dangles", ErrUnknownNode, ed.ID)
		}
		if len(ed.Selectors) == 0 {
			return nil, fmt.Errorf("graph: edge %d has no selectors", ed.ID)
		}
		for len(g.edges) < int(ed.ID) {
			g.edges = append(g.edges, nil)
		}
		if g.edges[ed.ID-1] != nil {
			return nil, fmt.Errorf("graph: duplicate edge id %d", ed.ID)
		}
		key := edgeKey{from: ed.From, to: ed.To, action: ed.ActionType}
		if _, dup := g.edgeIndex[key]; dup {
			return nil, fmt.Errorf("graph: duplicate edge %d", ed.ID)
		}
		e := &Edge{
			id:            ed.ID,
			from:          ed.From,
			to:            ed.To,
			action:        ed.ActionType,
			inputKey:      ed.InputKey,
			maxIterations: ed.MaxIterations,
		}
		for _, s := range ed.Selectors {
			c := s
			e.selectors = append(e.selectors, &c)
		}
		for _, s := range ed.RecoveryStrategies {
			c := s
			c.Steps = append([]Step(nil), s.Steps...)
			e.strategies = append(e.strategies, &c)
		}
		g.edges[ed.ID-1] = e
		g.edgeIndex[key] = ed.ID
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// MarshalJSON implements json.Marshaler.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.Snapshot())
}

// Unmarshal parses a serialized graph.
func Unmarshal(data []byte, opts ...Option) (*Graph, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("graph: unmarshal: %w", err)
	}
	return FromDocument(doc, opts...)
}

// Clone returns an independent deep copy with the same pending change.
func (g *Graph) Clone() (*Graph, error) {
	c, err := FromDocument(g.Snapshot(), WithClock(g.now))
	if err != nil {
		return nil, fmt.Errorf("graph: clone: %w", err)
	}
	c.pending.Store(g.pending.Load())
	return c, nil
}

// SetVersion overrides the committed version. Used when merging graphs.
func (g *Graph) SetVersion(v Version) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.version = v
}

// AddSelectorCounts adds evidence gathered elsewhere to a selector of an
// edge, creating the selector as an alternative when missing.
func (g *Graph) AddSelectorCounts(id EdgeID, s SelectorStats) error {
	e, err := g.edge(id)
	if err != nil {
		return err
	}
	if e.addSelector(s.Selector) {
		g.mark(ChangeMinor)
	}
	if s.Attempts == 0 {
		return nil
	}
	e.mu.Lock()
	for _, cur := range e.selectors {
		if cur.Selector == s.Selector {
			cur.Attempts += s.Attempts
			cur.Successes += s.Successes
			if s.LastSuccess.After(cur.LastSuccess) {
				cur.LastSuccess = s.LastSuccess
			}
		}
	}
	e.mu.Unlock()
	g.mark(ChangePatch)
	return nil
}

// AddStrategyCounts adds evidence gathered elsewhere to a recovery strategy,
// creating it when missing.
func (g *Graph) AddStrategyCounts(id EdgeID, s Strategy) error {
	e, err := g.edge(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	var st *Strategy
	for _, cur := range e.strategies {
		if cur.ErrorKind == s.ErrorKind && session.StepsEqual(cur.Steps, s.Steps) {
			st = cur
			break
		}
	}
	created := st == nil
	if created {
		st = &Strategy{ErrorKind: s.ErrorKind, Steps: append([]Step(nil), s.Steps...)}
		e.strategies = append(e.strategies, st)
	}
	st.Attempts += s.Attempts
	st.Successes += s.Successes
	e.mu.Unlock()

	if created {
		g.mark(ChangeMinor)
	} else if s.Attempts > 0 {
		g.mark(ChangePatch)
	}
	return nil
}
