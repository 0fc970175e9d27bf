package graph

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loginGraph(t *testing.T) (*Graph, EdgeID) {
	t.Helper()
	g := New("login")
	_, err := g.AddNode("start")
	require.NoError(t, err)
	_, err = g.AddNode("dashboard")
	require.NoError(t, err)
	id, err := g.AddEdge("start", "dashboard", "#login", "click")
	require.NoError(t, err)
	return g, id
}

func TestAddNodeIdempotent(t *testing.T) {
	g := New("wf")
	a, err := g.AddNode("home")
	require.NoError(t, err)
	b, err := g.AddNode("home")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, g.Nodes(), 1)

	_, err = g.AddNode("")
	assert.Error(t, err)
}

func TestAddEdgeAddsAlternativeSelector(t *testing.T) {
	g, id := loginGraph(t)

	again, err := g.AddEdge("start", "dashboard", "button[type=submit]", "click")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	dup, err := g.AddEdge("start", "dashboard", "#login", "click")
	require.NoError(t, err)
	assert.Equal(t, id, dup)

	view, err := g.Edge(id)
	require.NoError(t, err)
	assert.Len(t, view.Selectors, 2)
	assert.Len(t, g.Edges(), 1)
}

func TestAddEdgeRejectsDanglingNodes(t *testing.T) {
	g := New("wf")
	_, err := g.AddNode("a")
	require.NoError(t, err)
	_, err = g.AddEdge("a", "missing", "#x", "click")
	assert.ErrorIs(t, err, ErrUnknownNode)
	_, err = g.AddEdge("missing", "a", "#x", "click")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestCycleEdgesRequireBound(t *testing.T) {
	g := New("wf")
	for _, l := range []string{"a", "b"} {
		_, err := g.AddNode(l)
		require.NoError(t, err)
	}
	_, err := g.AddEdge("a", "b", "#next", "click")
	require.NoError(t, err)

	_, err = g.AddEdge("b", "a", "#back", "click")
	assert.ErrorIs(t, err, ErrUnboundedCycle)
	_, err = g.AddEdge("a", "a", "#retry", "click")
	assert.ErrorIs(t, err, ErrUnboundedCycle)

	g.SetCycleBound(4)
	back, err := g.AddEdge("b", "a", "#back", "click")
	require.NoError(t, err)
	view, err := g.Edge(back)
	require.NoError(t, err)
	assert.Equal(t, 4, view.MaxIterations)
	assert.NoError(t, g.Validate())

	require.NoError(t, g.SetMaxIterations(back, 0))
	assert.ErrorIs(t, g.Validate(), ErrUnboundedCycle)
}

func TestRecordAttemptConfidence(t *testing.T) {
	g, id := loginGraph(t)

	view, err := g.Edge(id)
	require.NoError(t, err)
	assert.Equal(t, UnprovenConfidence, view.Selectors[0].Confidence())

	require.NoError(t, g.RecordAttempt(id, "#login", true))
	require.NoError(t, g.RecordAttempt(id, "#login", false))
	view, err = g.Edge(id)
	require.NoError(t, err)
	assert.Equal(t, 0.5, view.Selectors[0].Confidence())
	assert.Equal(t, 2, view.Selectors[0].Attempts)

	assert.ErrorIs(t, g.RecordAttempt(id, "#nope", true), ErrUnknownSelector)
	assert.ErrorIs(t, g.RecordAttempt(99, "#login", true), ErrUnknownEdge)
}

func TestRecordAttemptConcurrent(t *testing.T) {
	g, id := loginGraph(t)

	const writers = 64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			assert.NoError(t, g.RecordAttempt(id, "#login", true))
		}()
	}
	close(start)
	wg.Wait()

	view, err := g.Edge(id)
	require.NoError(t, err)
	assert.Equal(t, writers, view.Selectors[0].Attempts)
	assert.Equal(t, writers, view.Selectors[0].Successes)
}

func TestRecordAttemptTwoConcurrentSuccesses(t *testing.T) {
	g, id := loginGraph(t)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.RecordAttempt(id, "#login", true)
		}()
	}
	wg.Wait()

	s, ok := mustEdge(t, g, id).Selector("#login")
	require.True(t, ok)
	assert.Equal(t, 2, s.Attempts)
	assert.Equal(t, 2, s.Successes)
}

func mustEdge(t *testing.T, g *Graph, id EdgeID) EdgeView {
	t.Helper()
	v, err := g.Edge(id)
	require.NoError(t, err)
	return v
}

func TestBestSelector(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		attempts map[string][]bool
		times    map[string]time.Time
		want     string
	}{
		{
			name:     "unproven loses to proven even with low confidence",
			attempts: map[string][]bool{"#login": {false, false, false, true}},
			want:     "#login",
		},
		{
			name:     "higher confidence wins",
			attempts: map[string][]bool{"#login": {true, false}, "#alt": {true}},
			want:     "#alt",
		},
		{
			name:     "tie broken by attempts",
			attempts: map[string][]bool{"#login": {true}, "#alt": {true, true}},
			want:     "#alt",
		},
		{
			name:     "tie broken by most recent success",
			attempts: map[string][]bool{"#login": {true}, "#alt": {true}},
			times:    map[string]time.Time{"#login": t0, "#alt": t0.Add(time.Hour)},
			want:     "#alt",
		},
		{
			name: "all unproven keeps insertion order",
			want: "#login",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, id := loginGraph(t)
			_, err := g.AddEdge("start", "dashboard", "#alt", "click")
			require.NoError(t, err)
			for sel, outcomes := range tt.attempts {
				at := t0
				if ts, ok := tt.times[sel]; ok {
					at = ts
				}
				for _, ok := range outcomes {
					require.NoError(t, g.RecordAttemptAt(id, sel, ok, at))
				}
			}
			best, err := g.BestSelector(id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, best)
		})
	}
}

func TestRecordRecoveryOrdering(t *testing.T) {
	g, id := loginGraph(t)
	wait := []Step{{Kind: "wait", Wait: time.Second}}
	reload := []Step{{Kind: "reload"}}

	require.NoError(t, g.RecordRecovery(id, "settle_timeout", wait, false))
	require.NoError(t, g.RecordRecovery(id, "settle_timeout", reload, true))
	require.NoError(t, g.RecordRecovery(id, "settle_timeout", wait, true))
	require.NoError(t, g.RecordRecovery(id, "action_failed", wait, true))

	got, err := g.Strategies(id, "settle_timeout")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, reload, got[0].Steps)
	assert.Equal(t, 1, got[1].Successes)
	assert.Equal(t, 2, got[1].Attempts)
}

func TestVersioning(t *testing.T) {
	g, id := loginGraph(t)
	assert.Equal(t, "0.1.0", g.Commit().String())

	require.NoError(t, g.RecordAttempt(id, "#login", true))
	assert.Equal(t, ChangePatch, g.Pending())
	assert.Equal(t, "0.1.1", g.Commit().String())

	_, err := g.AddEdge("start", "dashboard", "#alt", "click")
	require.NoError(t, err)
	assert.Equal(t, "0.2.0", g.Commit().String())

	assert.Equal(t, "0.2.0", g.Commit().String(), "no pending change keeps version")

	require.NoError(t, g.RemoveEdge(id))
	assert.Equal(t, "1.0.0", g.Commit().String())
}

func TestRemoveNodeRemovesIncidentEdges(t *testing.T) {
	g, id := loginGraph(t)
	require.NoError(t, g.RemoveNode("dashboard"))
	_, err := g.Edge(id)
	assert.ErrorIs(t, err, ErrUnknownEdge)
	assert.False(t, g.HasNode("dashboard"))
	assert.Equal(t, ChangeMajor, g.Pending())
}

func TestPath(t *testing.T) {
	g := New("wf", WithCycleBound(3))
	for _, l := range []string{"a", "b", "c", "d"} {
		_, err := g.AddNode(l)
		require.NoError(t, err)
	}
	ab, _ := g.AddEdge("a", "b", "#b", "click")
	bc, _ := g.AddEdge("b", "c", "#c", "click")
	_, _ = g.AddEdge("c", "a", "#a", "click")
	ad, _ := g.AddEdge("a", "d", "#d", "click")
	cd, _ := g.AddEdge("c", "d", "#d2", "click")

	path, err := g.Path("a", "c")
	require.NoError(t, err)
	assert.Equal(t, []EdgeID{ab, bc}, path)

	path, err = g.Path("b", "d")
	require.NoError(t, err)
	assert.Equal(t, []EdgeID{bc, cd}, path)

	path, err = g.Path("a", "d")
	require.NoError(t, err)
	assert.Equal(t, []EdgeID{ad}, path)

	_, err = g.Path("d", "a")
	assert.ErrorIs(t, err, ErrNoPath)
}

func TestSerializationRoundTrip(t *testing.T) {
	g, id := loginGraph(t)
	require.NoError(t, g.SetSignal("dashboard", Signal{URLPattern: "*/dashboard*"}))
	require.NoError(t, g.RecordAttempt(id, "#login", true))
	require.NoError(t, g.RecordRecovery(id, "settle_timeout", []Step{{Kind: "wait", Wait: time.Second}}, true))
	g.AddTestedSessions(3)
	g.Commit()

	data, err := json.Marshal(g)
	require.NoError(t, err)

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, g.Snapshot(), back.Snapshot())
	assert.Equal(t, int64(3), back.TestedSessions())

	n, ok := back.Node("dashboard")
	require.True(t, ok)
	assert.Equal(t, "*/dashboard*", n.Signal.URLPattern)
}

func TestUnmarshalRejectsDanglingEdges(t *testing.T) {
	doc := `{"workflow_id":"wf","version":"0.1.0","nodes":[{"id":1,"label":"a"}],
	"edges":[{"id":1,"from":1,"to":2,"action_type":"click","selectors":[{"selector":"#x","attempts":0,"successes":0}]}]}`
	_, err := Unmarshal([]byte(doc))
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestInspect(t *testing.T) {
	g, id := loginGraph(t)
	require.NoError(t, g.RecordAttempt(id, "#login", true))
	r := g.Inspect()
	require.Len(t, r.Edges, 1)
	assert.Equal(t, "start", r.Edges[0].From)
	assert.Equal(t, 1.0, r.Edges[0].Selectors[0].Confidence)
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("1.4.2")
	require.NoError(t, err)
	assert.Equal(t, Version{1, 4, 2}, v)

	v, err = ParseVersion("v0.3.0")
	require.NoError(t, err)
	assert.Equal(t, Version{0, 3, 0}, v)

	for _, bad := range []string{"1.2", "one", "1.2.3-beta"} {
		_, err := ParseVersion(bad)
		assert.Error(t, err, bad)
	}

	assert.Equal(t, 1, Version{1, 0, 0}.Compare(Version{0, 9, 9}))
	assert.Equal(t, -1, Version{0, 1, 0}.Compare(Version{0, 1, 1}))
}

func TestAddEdgeWithBound(t *testing.T) {
	g := New("wf")
	for _, l := range []string{"a", "b"} {
		_, err := g.AddNode(l)
		require.NoError(t, err)
	}
	fwd, err := g.AddEdgeWithBound("a", "b", "#next", "click", 7)
	require.NoError(t, err)
	back, err := g.AddEdgeWithBound("b", "a", "#back", "click", 2)
	require.NoError(t, err)

	fv, _ := g.Edge(fwd)
	bv, _ := g.Edge(back)
	assert.Equal(t, 0, fv.MaxIterations, "acyclic edges carry no bound")
	assert.Equal(t, 2, bv.MaxIterations)
	assert.NoError(t, g.Validate())
}

func TestRetryLoopSurvivesRoundTrip(t *testing.T) {
	g := New("wf", WithCycleBound(3))
	for _, l := range []string{"form", "error", "done"} {
		_, err := g.AddNode(l)
		require.NoError(t, err)
	}
	_, err := g.AddEdge("form", "error", "#submit", "click")
	require.NoError(t, err)
	_, err = g.AddEdge("error", "form", "#back", "click")
	require.NoError(t, err)
	_, err = g.AddEdge("form", "done", "#submit", "fill")
	require.NoError(t, err)
	require.NoError(t, g.Validate())

	data, err := json.Marshal(g)
	require.NoError(t, err)
	loaded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Len(t, loaded.Edges(), 3)

	c, err := loaded.Clone()
	require.NoError(t, err)
	assert.NoError(t, c.Validate())
}
