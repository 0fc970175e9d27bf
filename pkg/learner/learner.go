// Package learner folds finished sessions into workflow graphs and merges
// graphs learned independently for the same workflow.
package learner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/entrhq/wayfinder/pkg/graph"
	"github.com/entrhq/wayfinder/pkg/logging"
	"github.com/entrhq/wayfinder/pkg/session"
)

// ErrReconcile is returned when a session names states the graph does not
// know and that cannot be added safely.
var ErrReconcile = errors.New("learner: session cannot be reconciled with graph")

// LearnError reports a session that could not be learned. The session itself
// is left untouched for inspection.
type LearnError struct {
	SessionID string
	Labels    []string
	Err       error
}

func (e *LearnError) Error() string {
	if len(e.Labels) == 0 {
		return fmt.Sprintf("learner: session %s: %v", e.SessionID, e.Err)
	}
	return fmt.Sprintf("learner: session %s: labels [%s]: %v", e.SessionID, strings.Join(e.Labels, ", "), e.Err)
}

func (e *LearnError) Unwrap() error {
	return e.Err
}

// Learner updates graphs from session evidence.
type Learner struct {
	logger *logging.Logger
}

// New creates a Learner. A nil logger discards output.
func New(logger *logging.Logger) *Learner {
	return &Learner{logger: logging.OrDiscard(logger, "learner")}
}

// Learn returns a copy of g updated with the evidence in s and committed to
// its next version. g itself is not modified.
//
// Every action frame is one attempt on the edge between the action's source
// and target states, judged by the frame's own verification flag. Frames
// flagged duplicate that repeat the previous frame's action are skipped.
// Recorded recoveries update the recovery strategies of their edge.
func (l *Learner) Learn(s *session.Session, g *graph.Graph) (*graph.Graph, error) {
	if s == nil || g == nil {
		return nil, fmt.Errorf("learner: nil session or graph")
	}
	if s.WorkflowID != g.WorkflowID() {
		return nil, &LearnError{SessionID: s.ID, Err: fmt.Errorf("%w: workflow %q does not match graph %q", ErrReconcile, s.WorkflowID, g.WorkflowID())}
	}
	if err := session.Validate(s); err != nil {
		return nil, &LearnError{SessionID: s.ID, Err: err}
	}
	if unknown := unreconciled(s, g); len(unknown) > 0 {
		return nil, &LearnError{SessionID: s.ID, Labels: unknown, Err: ErrReconcile}
	}

	out, err := g.Clone()
	if err != nil {
		return nil, &LearnError{SessionID: s.ID, Err: err}
	}
	edgeOfFrame := make(map[int]graph.EdgeID)
	var prev *session.Frame
	skipped := 0

	for i := range s.Frames {
		f := &s.Frames[i]
		if f.Verified && f.State != "" {
			if _, err := out.AddNode(f.State); err != nil {
				return nil, &LearnError{SessionID: s.ID, Err: err}
			}
		}
		if !countable(f.Action) {
			prev = f
			continue
		}
		if f.Duplicate && prev != nil && sameAction(prev.Action, f.Action) {
			skipped++
			prev = f
			continue
		}

		id, err := l.resolveEdge(out, f.Action)
		if err != nil {
			return nil, &LearnError{SessionID: s.ID, Labels: []string{f.Action.From, f.Action.To}, Err: err}
		}
		if err := out.RecordAttemptAt(id, f.Action.Selector, f.Verified, f.Timestamp); err != nil {
			return nil, &LearnError{SessionID: s.ID, Err: err}
		}
		edgeOfFrame[f.ID] = id
		prev = f
	}

	for _, rec := range s.Recoveries {
		id, ok := edgeOfFrame[rec.FrameID]
		if !ok {
			l.logger.Warnf("session %s: recovery on frame %d has no learned edge, skipping", s.ID, rec.FrameID)
			continue
		}
		if err := out.RecordRecovery(id, string(rec.ErrorKind), rec.Steps, rec.Succeeded); err != nil {
			return nil, &LearnError{SessionID: s.ID, Err: err}
		}
	}

	out.AddTestedSessions(1)
	level := out.Pending()
	v := out.Commit()
	l.logger.Infof("learned session %s (%s, %d frames, %d duplicates skipped): %s change, graph %s now %s",
		s.ID, s.Outcome, len(s.Frames), skipped, level, out.WorkflowID(), v)
	return out, nil
}

// resolveEdge finds the edge an action traversed, adding it (or the action's
// selector as an alternative) when the transition is new.
func (l *Learner) resolveEdge(g *graph.Graph, a *session.ActionInfo) (graph.EdgeID, error) {
	if a.EdgeID > 0 {
		if view, err := g.Edge(graph.EdgeID(a.EdgeID)); err == nil &&
			view.From == a.From && view.To == a.To && view.Action == a.Type {
			if _, ok := view.Selector(a.Selector); ok {
				return view.ID, nil
			}
		}
	}
	if _, err := g.AddNode(a.From); err != nil {
		return 0, err
	}
	if _, err := g.AddNode(a.To); err != nil {
		return 0, err
	}
	id, err := g.AddEdge(a.From, a.To, a.Selector, a.Type)
	if err != nil {
		if errors.Is(err, graph.ErrUnboundedCycle) {
			return 0, fmt.Errorf("%w: %w", ErrReconcile, err)
		}
		return 0, err
	}
	return id, nil
}

// unreconciled returns the labels the session uses that are unknown to g
// and never materialized in a verified frame of the session. A verified
// observation is the evidence that makes adding a state a safe minor change.
func unreconciled(s *session.Session, g *graph.Graph) []string {
	observed := make(map[string]bool)
	for i := range s.Frames {
		if f := &s.Frames[i]; f.Verified && f.State != "" {
			observed[f.State] = true
		}
	}

	seen := make(map[string]bool)
	var out []string
	for i := range s.Frames {
		a := s.Frames[i].Action
		if !countable(a) {
			continue
		}
		for _, label := range []string{a.From, a.To} {
			if !seen[label] && !observed[label] && !g.HasNode(label) {
				seen[label] = true
				out = append(out, label)
			}
		}
	}
	return out
}

// countable reports whether an action names a graph transition.
func countable(a *session.ActionInfo) bool {
	return a != nil && a.From != "" && a.To != "" && a.Selector != "" && a.Type != ""
}

func sameAction(a, b *session.ActionInfo) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Type != b.Type || a.Selector != b.Selector || a.From != b.From || a.To != b.To || a.EdgeID != b.EdgeID {
		return false
	}
	if (a.Recovery == nil) != (b.Recovery == nil) {
		return false
	}
	return a.Recovery == nil ||
		(a.Recovery.ErrorKind == b.Recovery.ErrorKind && session.StepsEqual(a.Recovery.Steps, b.Recovery.Steps))
}
