package executor

// State is the position of a run in the executor state machine.
type State int32

const (
	StateIdle State = iota
	StatePlanning
	StateExecuting
	StateRecovering
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlanning:
		return "planning"
	case StateExecuting:
		return "executing"
	case StateRecovering:
		return "recovering"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}
