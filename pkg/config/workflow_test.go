package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/wayfinder/pkg/graph"
)

const checkoutYAML = `
id: checkout
start_url: https://shop.test/
start: home
goal: receipt
inputs:
  email: buyer@shop.test
states:
  - label: cart
    signal:
      url_pattern: "*/cart"
  - label: details
    signal:
      ready_selector: "#details"
edges:
  - from: home
    to: cart
    action: click
    selectors: ["#cart", "a.cart"]
  - from: cart
    to: details
    action: fill
    selectors: ["#email"]
    input: email
  - from: details
    to: receipt
    action: click
    selectors: ["#pay"]
  - from: details
    to: cart
    action: click
    selectors: ["#back"]
    max_iterations: 2
`

func TestLoadWorkflow(t *testing.T) {
	w, err := LoadWorkflow(writeFile(t, "checkout.yaml", checkoutYAML))
	require.NoError(t, err)

	assert.Equal(t, "checkout", w.ID)
	assert.Equal(t, "buyer@shop.test", w.Inputs["email"])
	require.Len(t, w.States, 2)
	assert.Equal(t, "*/cart", w.States[0].Signal.URLPattern)
	require.Len(t, w.Edges, 4)
	assert.Equal(t, []string{"#cart", "a.cart"}, w.Edges[0].Selectors)
	assert.Equal(t, 2, w.Edges[3].MaxIterations)
}

func TestWorkflowValidate(t *testing.T) {
	valid := func() *Workflow {
		return &Workflow{
			ID: "w", StartURL: "https://x.test", Start: "a", Goal: "b",
			Edges: []EdgeDef{{From: "a", To: "b", Action: "click", Selectors: []string{"#go"}}},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Workflow)
	}{
		{"no id", func(w *Workflow) { w.ID = "" }},
		{"no start url", func(w *Workflow) { w.StartURL = "" }},
		{"no goal", func(w *Workflow) { w.Goal = "" }},
		{"unnamed state", func(w *Workflow) { w.States = []StateDef{{}} }},
		{"unknown state", func(w *Workflow) { w.Edges[0].To = "z" }},
		{"unknown action", func(w *Workflow) { w.Edges[0].Action = "hover" }},
		{"no selectors", func(w *Workflow) { w.Edges[0].Selectors = nil }},
		{"fill without input", func(w *Workflow) { w.Edges[0].Action = "fill" }},
		{"negative bound", func(w *Workflow) { w.Edges[0].MaxIterations = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := valid()
			tt.mutate(w)
			assert.Error(t, w.Validate())
		})
	}
}

func TestWorkflowSeed(t *testing.T) {
	w, err := LoadWorkflow(writeFile(t, "checkout.yaml", checkoutYAML))
	require.NoError(t, err)

	g := graph.New("checkout")
	require.NoError(t, w.Seed(g))
	assert.Equal(t, "0.1.0", g.Commit().String())

	assert.Len(t, g.Nodes(), 4)
	cart, ok := g.Node("cart")
	require.True(t, ok)
	assert.Equal(t, "*/cart", cart.Signal.URLPattern)

	id, ok := g.FindEdge("home", "cart", "click")
	require.True(t, ok)
	view, err := g.Edge(id)
	require.NoError(t, err)
	assert.Len(t, view.Selectors, 2)
	best, err := g.BestSelector(id)
	require.NoError(t, err)
	assert.Equal(t, "#cart", best)

	fill, ok := g.FindEdge("cart", "details", "fill")
	require.True(t, ok)
	fv, _ := g.Edge(fill)
	assert.Equal(t, "email", fv.InputKey)

	back, ok := g.FindEdge("details", "cart", "click")
	require.True(t, ok)
	bv, _ := g.Edge(back)
	assert.Equal(t, 2, bv.MaxIterations)
	assert.NoError(t, g.Validate())

	// seeding again changes nothing
	require.NoError(t, w.Seed(g))
	assert.Equal(t, graph.ChangeNone, g.Pending())
}

func TestWorkflowSeedRejectsOtherGraph(t *testing.T) {
	w := &Workflow{ID: "checkout"}
	assert.Error(t, w.Seed(graph.New("login")))
}
