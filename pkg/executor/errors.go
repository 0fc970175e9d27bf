package executor

import (
	"errors"
	"fmt"

	"github.com/entrhq/wayfinder/pkg/graph"
	"github.com/entrhq/wayfinder/pkg/session"
)

var (
	// ErrStepFailure marks an action whose expected next state did not materialize.
	ErrStepFailure = errors.New("executor: step failure")

	// ErrRecoveryExhausted marks a step for which every strategy and
	// alternative selector failed.
	ErrRecoveryExhausted = errors.New("executor: recovery exhausted")

	// ErrMissingInput is returned by planning when a fill edge needs an input
	// the request does not supply.
	ErrMissingInput = errors.New("executor: missing input")
)

// StepError describes the step a run failed on.
type StepError struct {
	Index  int
	EdgeID graph.EdgeID
	From   string
	To     string
	Kind   session.ErrorKind
	Err    error
}

func (e *StepError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("executor: start %s: %s: %v", e.To, e.Kind, e.Err)
	}
	return fmt.Sprintf("executor: step %d (%s -> %s): %s: %v", e.Index, e.From, e.To, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
