package types

import (
	"context"
	"time"
)

// EventType defines the type of progress event emitted during execution.
type EventType string

const (
	EventTypeRunStarted        EventType = "run_started"        // EventTypeRunStarted indicates a workflow run has planned its path and is starting.
	EventTypeStepStarted       EventType = "step_started"       // EventTypeStepStarted indicates an action is about to be issued.
	EventTypeStepCompleted     EventType = "step_completed"     // EventTypeStepCompleted indicates a step reached its expected state.
	EventTypeStepFailed        EventType = "step_failed"        // EventTypeStepFailed indicates a step did not reach its expected state.
	EventTypeRecoveryAttempted EventType = "recovery_attempted" // EventTypeRecoveryAttempted indicates a recovery strategy or alternative selector was tried.
	EventTypeSessionFinalized  EventType = "session_finalized"  // EventTypeSessionFinalized indicates the run's session record was closed.
	EventTypeLearnFailed       EventType = "learn_failed"       // EventTypeLearnFailed indicates the finished session could not be learned.
)

// Event is a structured progress notification for a presentation layer.
// The executor performs no human-facing formatting itself.
type Event struct {
	// Type indicates the kind of event.
	Type EventType

	// Time is when the event was emitted.
	Time time.Time

	// WorkflowID identifies the workflow being executed.
	WorkflowID string

	// SessionID identifies the run.
	SessionID string

	// Step describes the step for step and recovery events.
	Step *StepInfo

	// Recovery describes the remediation tried (recovery events).
	Recovery *RecoveryInfo

	// Outcome is the final session outcome (session finalized events).
	Outcome string

	// Error contains error information for failure events.
	Error error
}

// StepInfo identifies one step of a run.
type StepInfo struct {
	// Index is the zero-based position of the step in the planned path.
	Index int

	// EdgeID is the graph edge being traversed.
	EdgeID int

	// From and To are the state labels the step moves between.
	From string
	To   string

	// Action is the action type (click, fill, ...).
	Action string

	// Selector is the selector used for this attempt.
	Selector string

	// Duration is how long the step took (completed and failed events).
	Duration time.Duration

	// ErrorKind classifies a failure (failed events).
	ErrorKind string
}

// RecoveryInfo describes one recovery attempt.
type RecoveryInfo struct {
	// ErrorKind is the failure being recovered from.
	ErrorKind string

	// Steps names the remediation steps, e.g. "wait", "switch_selector".
	Steps []string

	// Succeeded reports whether the step reached its expected state.
	Succeeded bool
}

// NewRunStartedEvent creates a run started event.
func NewRunStartedEvent(workflowID, sessionID string) *Event {
	return &Event{
		Type:       EventTypeRunStarted,
		Time:       time.Now(),
		WorkflowID: workflowID,
		SessionID:  sessionID,
	}
}

// NewStepStartedEvent creates a step started event.
func NewStepStartedEvent(workflowID, sessionID string, step StepInfo) *Event {
	return &Event{
		Type:       EventTypeStepStarted,
		Time:       time.Now(),
		WorkflowID: workflowID,
		SessionID:  sessionID,
		Step:       &step,
	}
}

// NewStepCompletedEvent creates a step completed event.
func NewStepCompletedEvent(workflowID, sessionID string, step StepInfo, duration time.Duration) *Event {
	step.Duration = duration
	return &Event{
		Type:       EventTypeStepCompleted,
		Time:       time.Now(),
		WorkflowID: workflowID,
		SessionID:  sessionID,
		Step:       &step,
	}
}

// NewStepFailedEvent creates a step failed event.
func NewStepFailedEvent(workflowID, sessionID string, step StepInfo, duration time.Duration, errorKind string, err error) *Event {
	step.Duration = duration
	step.ErrorKind = errorKind
	return &Event{
		Type:       EventTypeStepFailed,
		Time:       time.Now(),
		WorkflowID: workflowID,
		SessionID:  sessionID,
		Step:       &step,
		Error:      err,
	}
}

// NewRecoveryAttemptedEvent creates a recovery attempted event.
func NewRecoveryAttemptedEvent(workflowID, sessionID string, step StepInfo, recovery RecoveryInfo) *Event {
	return &Event{
		Type:       EventTypeRecoveryAttempted,
		Time:       time.Now(),
		WorkflowID: workflowID,
		SessionID:  sessionID,
		Step:       &step,
		Recovery:   &recovery,
	}
}

// NewSessionFinalizedEvent creates a session finalized event.
func NewSessionFinalizedEvent(workflowID, sessionID, outcome string, err error) *Event {
	return &Event{
		Type:       EventTypeSessionFinalized,
		Time:       time.Now(),
		WorkflowID: workflowID,
		SessionID:  sessionID,
		Outcome:    outcome,
		Error:      err,
	}
}

// NewLearnFailedEvent creates a learn failed event.
func NewLearnFailedEvent(workflowID, sessionID string, err error) *Event {
	return &Event{
		Type:       EventTypeLearnFailed,
		Time:       time.Now(),
		WorkflowID: workflowID,
		SessionID:  sessionID,
		Error:      err,
	}
}

// IsError returns true if this event reports a failure.
func (e *Event) IsError() bool {
	return e.Type == EventTypeStepFailed || e.Type == EventTypeLearnFailed
}

// Reporter receives progress events. Implementations must be safe for
// concurrent use; parallel runs share one reporter.
type Reporter interface {
	Report(event *Event)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(event *Event)

// Report calls f(event).
func (f ReporterFunc) Report(event *Event) {
	f(event)
}

// NopReporter discards every event.
type NopReporter struct{}

// Report implements Reporter.
func (NopReporter) Report(*Event) {}

// ChannelReporter forwards events to a channel. Sends block until the event
// is received or ctx is done, so a slow consumer applies backpressure.
type ChannelReporter struct {
	ctx    context.Context
	events chan<- *Event
}

// NewChannelReporter creates a reporter that sends to events.
func NewChannelReporter(ctx context.Context, events chan<- *Event) *ChannelReporter {
	return &ChannelReporter{ctx: ctx, events: events}
}

// Report implements Reporter.
func (r *ChannelReporter) Report(event *Event) {
	select {
	case r.events <- event:
	case <-r.ctx.Done():
	}
}
