package learner

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/wayfinder/pkg/graph"
	"github.com/entrhq/wayfinder/pkg/session"
)

type step struct {
	from, to, selector string
	ok                 bool
	recovery           []session.RecoveryStep
	duplicate          bool
}

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

// buildSession lays out a session the way the executor records one: a
// verified frame of the start state followed by one frame per action.
func buildSession(id string, outcome session.Outcome, start string, steps ...step) *session.Session {
	s := &session.Session{
		SchemaVersion: session.SchemaVersion,
		ID:            id,
		WorkflowID:    "checkout",
		StartedAt:     t0,
		Outcome:       outcome,
		Frames:        []session.Frame{{ID: 0, Timestamp: t0, State: start, Verified: true}},
	}
	for i, st := range steps {
		f := session.Frame{
			ID:        i + 1,
			Timestamp: t0.Add(time.Duration(i+1) * time.Second),
			ElapsedMs: int64(i+1) * 1000,
			Duplicate: st.duplicate,
			Verified:  st.ok,
			Action: &session.ActionInfo{
				Type:     "click",
				Selector: st.selector,
				From:     st.from,
				To:       st.to,
			},
		}
		if st.ok {
			f.State = st.to
		} else {
			f.Action.ErrorKind = session.ErrorKindActionFailed
		}
		if st.recovery != nil {
			f.Action.Recovery = &session.RecoveryInfo{ErrorKind: session.ErrorKindActionFailed, Steps: st.recovery}
			s.Recoveries = append(s.Recoveries, session.RecoveryRecord{
				FrameID:   f.ID,
				ErrorKind: session.ErrorKindActionFailed,
				Steps:     st.recovery,
				Succeeded: st.ok,
			})
		}
		s.Frames = append(s.Frames, f)
	}
	return s
}

func happyPath(id string) *session.Session {
	return buildSession(id, session.OutcomeSuccess, "start",
		step{from: "start", to: "cart", selector: "#cart", ok: true},
		step{from: "cart", to: "shipping", selector: "#ship", ok: true},
		step{from: "shipping", to: "done", selector: "#pay", ok: true},
	)
}

func edgeBetween(t *testing.T, g *graph.Graph, from, to string) graph.EdgeView {
	t.Helper()
	id, ok := g.FindEdge(from, to, "click")
	require.True(t, ok, "%s -> %s", from, to)
	view, err := g.Edge(id)
	require.NoError(t, err)
	return view
}

func TestLearnFirstSession(t *testing.T) {
	g := graph.New("checkout")

	out, err := New(nil).Learn(happyPath("s1"), g)
	require.NoError(t, err)

	assert.Equal(t, "0.1.0", out.Version().String())
	assert.Len(t, out.Nodes(), 4)
	require.Len(t, out.Edges(), 3)
	for _, e := range out.Edges() {
		require.Len(t, e.Selectors, 1)
		assert.Equal(t, 1.0, e.Selectors[0].Confidence())
		assert.Equal(t, 1, e.Selectors[0].Attempts)
	}
	assert.Equal(t, int64(1), out.TestedSessions())

	// the input graph is untouched
	assert.Empty(t, g.Nodes())
	assert.Equal(t, "0.0.0", g.Version().String())
}

func TestLearnSelectorFallbackOverTenRuns(t *testing.T) {
	l := New(nil)
	g := graph.New("checkout")
	fallback := []session.RecoveryStep{{Kind: "switch_selector", Selector: "button.pay"}}

	var best []string
	for run := 0; run < 10; run++ {
		var s *session.Session
		if run == 2 || run == 6 {
			s = buildSession("s", session.OutcomeSuccess, "start",
				step{from: "start", to: "cart", selector: "#cart", ok: true},
				step{from: "cart", to: "shipping", selector: "#ship", ok: true},
				step{from: "shipping", to: "done", selector: "#pay"},
				step{from: "shipping", to: "done", selector: "button.pay", ok: true, recovery: fallback},
			)
		} else {
			s = happyPath("s")
		}
		var err error
		g, err = l.Learn(s, g)
		require.NoError(t, err)

		id, _ := g.FindEdge("shipping", "done", "click")
		sel, err := g.BestSelector(id)
		require.NoError(t, err)
		best = append(best, sel)
	}

	pay := edgeBetween(t, g, "shipping", "done")
	primary, ok := pay.Selector("#pay")
	require.True(t, ok)
	alt, ok := pay.Selector("button.pay")
	require.True(t, ok)
	assert.Equal(t, 10, primary.Attempts)
	assert.Equal(t, 8, primary.Successes)
	assert.Equal(t, 2, alt.Attempts)
	assert.Equal(t, 2, alt.Successes)

	// the alternative takes over as soon as its confidence exceeds the primary's
	assert.Equal(t, []string{"#pay", "#pay"}, best[:2])
	for _, sel := range best[2:] {
		assert.Equal(t, "button.pay", sel)
	}

	strategies, err := g.Strategies(pay.ID, string(session.ErrorKindActionFailed))
	require.NoError(t, err)
	require.Len(t, strategies, 1)
	assert.Equal(t, 2, strategies[0].Attempts)
	assert.Equal(t, 2, strategies[0].Successes)
	assert.Equal(t, int64(10), g.TestedSessions())
}

func TestLearnCancelledSessionKeepsCompletedTransitions(t *testing.T) {
	g, err := New(nil).Learn(happyPath("seed"), graph.New("checkout"))
	require.NoError(t, err)

	cancelled := buildSession("s2", session.OutcomeCancelled, "start",
		step{from: "start", to: "cart", selector: "#cart", ok: true},
		step{from: "cart", to: "shipping", selector: "#ship", ok: true},
	)
	require.Len(t, cancelled.Frames, 3)

	out, err := New(nil).Learn(cancelled, g)
	require.NoError(t, err)

	assert.Equal(t, 2, edgeBetween(t, out, "start", "cart").Selectors[0].Attempts)
	assert.Equal(t, 2, edgeBetween(t, out, "cart", "shipping").Selectors[0].Attempts)
	assert.Equal(t, 1, edgeBetween(t, out, "shipping", "done").Selectors[0].Attempts)
	assert.Equal(t, "0.1.1", out.Version().String())
}

func TestLearnWithoutRecoveriesAddsNoStrategies(t *testing.T) {
	s := buildSession("s", session.OutcomeFailure, "start",
		step{from: "start", to: "cart", selector: "#cart", ok: true},
		step{from: "cart", to: "shipping", selector: "#ship"},
	)
	g, err := New(nil).Learn(happyPath("seed"), graph.New("checkout"))
	require.NoError(t, err)

	out, err := New(nil).Learn(s, g)
	require.NoError(t, err)
	for _, e := range out.Edges() {
		assert.Empty(t, e.Recoveries)
	}
	ship := edgeBetween(t, out, "cart", "shipping")
	assert.Equal(t, 0.5, ship.Selectors[0].Confidence())
}

func TestLearnSkipsDuplicateFrames(t *testing.T) {
	s := buildSession("s", session.OutcomeSuccess, "start",
		step{from: "start", to: "cart", selector: "#cart", ok: true},
		step{from: "start", to: "cart", selector: "#cart", ok: true, duplicate: true},
	)
	out, err := New(nil).Learn(s, graph.New("checkout"))
	require.NoError(t, err)
	assert.Equal(t, 1, edgeBetween(t, out, "start", "cart").Selectors[0].Attempts)
}

func TestLearnRejectsUnknownLabels(t *testing.T) {
	g := graph.New("checkout")
	_, err := g.AddNode("start")
	require.NoError(t, err)
	g.Commit()

	s := buildSession("s-ghost", session.OutcomeFailure, "start",
		step{from: "start", to: "ghost", selector: "#boo"},
	)
	out, err := New(nil).Learn(s, g)
	assert.Nil(t, out)
	require.ErrorIs(t, err, ErrReconcile)

	var le *LearnError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "s-ghost", le.SessionID)
	assert.Equal(t, []string{"ghost"}, le.Labels)
	assert.Len(t, g.Nodes(), 1)
	assert.Equal(t, "0.1.0", g.Version().String())
}

func TestLearnRejectsOtherWorkflow(t *testing.T) {
	_, err := New(nil).Learn(happyPath("s"), graph.New("login"))
	assert.ErrorIs(t, err, ErrReconcile)
}

func TestLearnCycleNeedsBound(t *testing.T) {
	retry := buildSession("s", session.OutcomeSuccess, "form",
		step{from: "form", to: "error", selector: "#submit", ok: true},
		step{from: "error", to: "form", selector: "#back", ok: true},
	)

	_, err := New(nil).Learn(retry, graph.New("checkout"))
	assert.ErrorIs(t, err, ErrReconcile)
	assert.ErrorIs(t, err, graph.ErrUnboundedCycle)

	out, err := New(nil).Learn(retry, graph.New("checkout", graph.WithCycleBound(3)))
	require.NoError(t, err)
	assert.Equal(t, 3, edgeBetween(t, out, "error", "form").MaxIterations)
	assert.NoError(t, out.Validate())

	again := buildSession("s2", session.OutcomeSuccess, "form",
		step{from: "form", to: "error", selector: "#submit", ok: true},
		step{from: "error", to: "form", selector: "#back", ok: true},
	)
	out, err = New(nil).Learn(again, out)
	require.NoError(t, err)
	assert.NoError(t, out.Validate())
	assert.Equal(t, 2, edgeBetween(t, out, "form", "error").Selectors[0].Attempts)
	assert.Equal(t, 2, edgeBetween(t, out, "error", "form").Selectors[0].Attempts)
	assert.EqualValues(t, 2, out.TestedSessions())
}
