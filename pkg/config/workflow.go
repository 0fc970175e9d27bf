package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/wayfinder/pkg/browser"
	"github.com/entrhq/wayfinder/pkg/graph"
)

// Workflow is a hand-written workflow definition used to seed a graph before
// any session has been learned.
type Workflow struct {
	ID       string            `yaml:"id" json:"id"`
	StartURL string            `yaml:"start_url" json:"start_url"`
	Start    string            `yaml:"start" json:"start"`
	Goal     string            `yaml:"goal" json:"goal"`
	Inputs   map[string]string `yaml:"inputs" json:"inputs"`
	States   []StateDef        `yaml:"states" json:"states"`
	Edges    []EdgeDef         `yaml:"edges" json:"edges"`
}

// StateDef declares a state and the signal that shows it has materialized.
type StateDef struct {
	Label  string       `yaml:"label" json:"label"`
	Signal graph.Signal `yaml:"signal" json:"signal"`
}

// EdgeDef declares an action between two states. Selectors are listed in
// order of preference.
type EdgeDef struct {
	From          string   `yaml:"from" json:"from"`
	To            string   `yaml:"to" json:"to"`
	Action        string   `yaml:"action" json:"action"`
	Selectors     []string `yaml:"selectors" json:"selectors"`
	Input         string   `yaml:"input" json:"input"`
	MaxIterations int      `yaml:"max_iterations" json:"max_iterations"`
}

// LoadWorkflow reads and validates a workflow definition.
func LoadWorkflow(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	var w Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse workflow file: %w", err)
	}
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow %s: %w", path, err)
	}
	return &w, nil
}

// Validate checks that the definition is self-consistent.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("workflow id is required")
	}
	if w.StartURL == "" {
		return fmt.Errorf("start_url is required")
	}
	if w.Start == "" || w.Goal == "" {
		return fmt.Errorf("start and goal states are required")
	}

	known := map[string]bool{w.Start: true, w.Goal: true}
	for _, s := range w.States {
		if s.Label == "" {
			return fmt.Errorf("state label is required")
		}
		known[s.Label] = true
	}
	for i, e := range w.Edges {
		if !known[e.From] || !known[e.To] {
			return fmt.Errorf("edge %d: unknown state %q -> %q", i, e.From, e.To)
		}
		switch e.Action {
		case browser.ActionClick, browser.ActionFill, browser.ActionScroll, browser.ActionWait, browser.ActionNavigate:
		default:
			return fmt.Errorf("edge %d: unknown action %q", i, e.Action)
		}
		if len(e.Selectors) == 0 {
			return fmt.Errorf("edge %d: at least one selector is required", i)
		}
		if e.Action == browser.ActionFill {
			if e.Input == "" {
				return fmt.Errorf("edge %d: fill requires an input", i)
			}
		}
		if e.MaxIterations < 0 {
			return fmt.Errorf("edge %d: max_iterations cannot be negative", i)
		}
	}
	return nil
}

// Seed adds the declared states and edges to g. Existing states and edges
// are kept; new selectors become alternatives.
func (w *Workflow) Seed(g *graph.Graph) error {
	if g.WorkflowID() != w.ID {
		return fmt.Errorf("workflow %q cannot seed graph %q", w.ID, g.WorkflowID())
	}

	labels := []string{w.Start}
	signals := map[string]graph.Signal{}
	for _, s := range w.States {
		labels = append(labels, s.Label)
		signals[s.Label] = s.Signal
	}
	labels = append(labels, w.Goal)

	for _, l := range labels {
		if _, err := g.AddNode(l); err != nil {
			return err
		}
		if s, ok := signals[l]; ok && !s.IsZero() {
			if err := g.SetSignal(l, s); err != nil {
				return err
			}
		}
	}

	for _, e := range w.Edges {
		var id graph.EdgeID
		for _, sel := range e.Selectors {
			var err error
			id, err = g.AddEdgeWithBound(e.From, e.To, sel, e.Action, e.MaxIterations)
			if err != nil {
				return fmt.Errorf("edge %s -> %s: %w", e.From, e.To, err)
			}
		}
		if e.Input != "" {
			if err := g.SetInputKey(id, e.Input); err != nil {
				return err
			}
		}
	}
	return nil
}
