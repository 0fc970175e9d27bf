package graph

// SelectorReport is the inspection view of one selector.
type SelectorReport struct {
	Selector   string  `json:"selector"`
	Attempts   int     `json:"attempts"`
	Successes  int     `json:"successes"`
	Confidence float64 `json:"confidence"`
}

// EdgeReport is the inspection view of one edge.
type EdgeReport struct {
	ID         EdgeID           `json:"id"`
	From       string           `json:"from"`
	To         string           `json:"to"`
	Action     string           `json:"action_type"`
	Selectors  []SelectorReport `json:"selectors"`
	Recoveries int              `json:"recovery_strategies"`
}

// Report is the confidence inspection interface of a graph. Execution
// results never carry confidence numbers; callers that want them ask here.
type Report struct {
	WorkflowID     string       `json:"workflow_id"`
	Version        string       `json:"version"`
	TestedSessions int64        `json:"tested_sessions"`
	Edges          []EdgeReport `json:"edges"`
}

// Inspect returns the per-edge selector confidences, best selector first.
func (g *Graph) Inspect() Report {
	r := Report{
		WorkflowID:     g.workflowID,
		Version:        g.Version().String(),
		TestedSessions: g.TestedSessions(),
	}
	for _, e := range g.Edges() {
		er := EdgeReport{
			ID:         e.ID,
			From:       e.From,
			To:         e.To,
			Action:     e.Action,
			Recoveries: len(e.Recoveries),
		}
		for _, s := range e.Selectors {
			er.Selectors = append(er.Selectors, SelectorReport{
				Selector:   s.Selector,
				Attempts:   s.Attempts,
				Successes:  s.Successes,
				Confidence: s.Confidence(),
			})
		}
		r.Edges = append(r.Edges, er)
	}
	return r
}
