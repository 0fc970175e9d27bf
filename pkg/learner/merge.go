package learner

import (
	"fmt"

	"github.com/entrhq/wayfinder/pkg/graph"
)

// Merge combines two graphs of the same workflow. Selector and strategy
// counters of matching edges are summed, so the better-evidenced graph
// dominates; alternative selectors, strategies, nodes and edges are unioned.
// The result starts from the larger source version and is bumped by the
// most significant change the other graph contributes.
func Merge(a, b *graph.Graph) (*graph.Graph, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("learner: merge: nil graph")
	}
	if a.WorkflowID() != b.WorkflowID() {
		return nil, fmt.Errorf("learner: merge: workflows %q and %q differ", a.WorkflowID(), b.WorkflowID())
	}

	base, other := a, b
	if b.Version().Compare(a.Version()) > 0 {
		base, other = b, a
	}
	out, err := base.Clone()
	if err != nil {
		return nil, fmt.Errorf("learner: merge: %w", err)
	}

	for _, n := range other.Nodes() {
		if _, err := out.AddNode(n.Label); err != nil {
			return nil, fmt.Errorf("learner: merge: %w", err)
		}
		if cur, _ := out.Node(n.Label); cur.Signal.IsZero() && !n.Signal.IsZero() {
			if err := out.SetSignal(n.Label, n.Signal); err != nil {
				return nil, fmt.Errorf("learner: merge: %w", err)
			}
		}
	}

	for _, e := range other.Edges() {
		id, err := mergeEdge(out, e)
		if err != nil {
			return nil, fmt.Errorf("learner: merge: edge %s -> %s: %w", e.From, e.To, err)
		}
		if e.InputKey != "" {
			if cur, _ := out.Edge(id); cur.InputKey == "" {
				if err := out.SetInputKey(id, e.InputKey); err != nil {
					return nil, fmt.Errorf("learner: merge: %w", err)
				}
			}
		}
	}

	out.AddTestedSessions(other.TestedSessions())
	out.Commit()
	return out, nil
}

func mergeEdge(g *graph.Graph, e graph.EdgeView) (graph.EdgeID, error) {
	id, ok := g.FindEdge(e.From, e.To, e.Action)
	if !ok {
		var err error
		id, err = g.AddEdgeWithBound(e.From, e.To, e.Selectors[0].Selector, e.Action, e.MaxIterations)
		if err != nil {
			return 0, err
		}
	}
	for _, s := range e.Selectors {
		if err := g.AddSelectorCounts(id, s); err != nil {
			return 0, err
		}
	}
	for _, st := range e.Recoveries {
		if err := g.AddStrategyCounts(id, st); err != nil {
			return 0, err
		}
	}
	return id, nil
}
