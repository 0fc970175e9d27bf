package graph

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/entrhq/wayfinder/pkg/session"
)

// UnprovenConfidence is the prior assigned to a selector with no attempts.
const UnprovenConfidence = 0.5

// Step is one remediation action of a recovery strategy.
type Step = session.RecoveryStep

// SelectorStats holds the evidence for one alternative selector of an edge.
type SelectorStats struct {
	Selector    string    `json:"selector"`
	Attempts    int       `json:"attempts"`
	Successes   int       `json:"successes"`
	LastSuccess time.Time `json:"last_success,omitempty"`
}

// Confidence is successes/attempts, or the 0.5 prior when unproven.
func (s SelectorStats) Confidence() float64 {
	if s.Attempts == 0 {
		return UnprovenConfidence
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// Strategy is a success-tracked remediation sequence for one error kind.
type Strategy struct {
	ErrorKind string `json:"error_kind"`
	Steps     []Step `json:"steps"`
	Attempts  int    `json:"attempts"`
	Successes int    `json:"successes"`
}

// Confidence is successes/attempts, or the 0.5 prior when unproven.
func (s Strategy) Confidence() float64 {
	if s.Attempts == 0 {
		return UnprovenConfidence
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// Edge is an action leading from one state to another. Its counters are
// guarded by its own mutex.
type Edge struct {
	mu            sync.Mutex
	id            EdgeID
	from, to      NodeID
	action        string
	inputKey      string
	maxIterations int
	selectors     []*SelectorStats
	strategies    []*Strategy
}

// EdgeView is an immutable snapshot of an edge. Selectors are ranked best
// first; recoveries are in descending success order.
type EdgeView struct {
	ID            EdgeID
	From          string
	To            string
	Action        string
	InputKey      string
	MaxIterations int
	Selectors     []SelectorStats
	Recoveries    []Strategy
}

// Selector returns the stats for sel, if present.
func (v EdgeView) Selector(sel string) (SelectorStats, bool) {
	for _, s := range v.Selectors {
		if s.Selector == sel {
			return s, true
		}
	}
	return SelectorStats{}, false
}

// addSelector appends sel as an alternative. It reports whether sel was new.
func (e *Edge) addSelector(sel string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.selectors {
		if s.Selector == sel {
			return false
		}
	}
	e.selectors = append(e.selectors, &SelectorStats{Selector: sel})
	return true
}

func (e *Edge) recordAttempt(sel string, success bool, at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.selectors {
		if s.Selector != sel {
			continue
		}
		s.Attempts++
		if success {
			s.Successes++
			at = at.UTC().Round(0)
			if at.After(s.LastSuccess) {
				s.LastSuccess = at
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %q on edge %d", ErrUnknownSelector, sel, e.id)
}

// Selectors returns ranked copies of the edge's selectors.
func (e *Edge) Selectors() []SelectorStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rankedLocked()
}

// rankedLocked orders selectors so that proven ones always precede unproven
// ones, then by confidence, attempts, and most recent success. Unproven
// selectors keep insertion order.
func (e *Edge) rankedLocked() []SelectorStats {
	out := make([]SelectorStats, len(e.selectors))
	for i, s := range e.selectors {
		out[i] = *s
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.Attempts > 0) != (b.Attempts > 0) {
			return a.Attempts > 0
		}
		if ca, cb := a.Confidence(), b.Confidence(); ca != cb {
			return ca > cb
		}
		if a.Attempts != b.Attempts {
			return a.Attempts > b.Attempts
		}
		return a.LastSuccess.After(b.LastSuccess)
	})
	return out
}

// recordRecovery updates or creates the strategy. It reports whether the
// strategy was created.
func (e *Edge) recordRecovery(kind string, steps []Step, success bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	var st *Strategy
	for _, s := range e.strategies {
		if s.ErrorKind == kind && session.StepsEqual(s.Steps, steps) {
			st = s
			break
		}
	}
	created := st == nil
	if created {
		st = &Strategy{ErrorKind: kind, Steps: append([]Step(nil), steps...)}
		e.strategies = append(e.strategies, st)
	}
	st.Attempts++
	if success {
		st.Successes++
	}
	return created
}

// strategiesLocked returns copies of the strategies for kind (all kinds when
// empty), best first.
func (e *Edge) strategiesLocked(kind string) []Strategy {
	var out []Strategy
	for _, s := range e.strategies {
		if kind == "" || s.ErrorKind == kind {
			c := *s
			c.Steps = append([]Step(nil), s.Steps...)
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ci, cj := out[i].Confidence(), out[j].Confidence(); ci != cj {
			return ci > cj
		}
		return out[i].Successes > out[j].Successes
	})
	return out
}
