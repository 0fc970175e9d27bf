package types

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEventType(t *testing.T) {
	tests := []struct {
		eventType EventType
		name      string
		expected  string
	}{
		{name: "run_started", eventType: EventTypeRunStarted, expected: "run_started"},
		{name: "step_started", eventType: EventTypeStepStarted, expected: "step_started"},
		{name: "step_completed", eventType: EventTypeStepCompleted, expected: "step_completed"},
		{name: "step_failed", eventType: EventTypeStepFailed, expected: "step_failed"},
		{name: "recovery_attempted", eventType: EventTypeRecoveryAttempted, expected: "recovery_attempted"},
		{name: "session_finalized", eventType: EventTypeSessionFinalized, expected: "session_finalized"},
		{name: "learn_failed", eventType: EventTypeLearnFailed, expected: "learn_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.eventType) != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, string(tt.eventType))
			}
		})
	}
}

func TestNewStepCompletedEvent(t *testing.T) {
	step := StepInfo{Index: 1, EdgeID: 4, From: "cart", To: "shipping", Action: "click", Selector: "#ship"}
	event := NewStepCompletedEvent("checkout", "sess_1", step, 250*time.Millisecond)

	if event.Type != EventTypeStepCompleted {
		t.Errorf("expected type %s, got %s", EventTypeStepCompleted, event.Type)
	}
	if event.Step == nil || event.Step.Duration != 250*time.Millisecond {
		t.Errorf("expected step duration 250ms, got %+v", event.Step)
	}
	if event.Step.To != "shipping" {
		t.Errorf("expected step to shipping, got %s", event.Step.To)
	}
	if event.IsError() {
		t.Error("expected completed event not to be an error")
	}
	if event.Time.IsZero() {
		t.Error("expected event time to be set")
	}
}

func TestNewStepFailedEvent(t *testing.T) {
	err := errors.New("selector not found")
	event := NewStepFailedEvent("checkout", "sess_1", StepInfo{Index: 2}, time.Second, "action_failed", err)

	if event.Type != EventTypeStepFailed {
		t.Errorf("expected type %s, got %s", EventTypeStepFailed, event.Type)
	}
	if event.Step.ErrorKind != "action_failed" {
		t.Errorf("expected error kind action_failed, got %s", event.Step.ErrorKind)
	}
	if !errors.Is(event.Error, err) {
		t.Errorf("expected error %v, got %v", err, event.Error)
	}
	if !event.IsError() {
		t.Error("expected failed event to be an error")
	}
}

func TestNewRecoveryAttemptedEvent(t *testing.T) {
	event := NewRecoveryAttemptedEvent("checkout", "sess_1", StepInfo{Index: 0}, RecoveryInfo{
		ErrorKind: "settle_timeout",
		Steps:     []string{"reload"},
		Succeeded: true,
	})
	if event.Recovery == nil || !event.Recovery.Succeeded {
		t.Fatalf("expected successful recovery info, got %+v", event.Recovery)
	}
	if event.Recovery.Steps[0] != "reload" {
		t.Errorf("expected reload step, got %v", event.Recovery.Steps)
	}
}

func TestNewSessionFinalizedEvent(t *testing.T) {
	event := NewSessionFinalizedEvent("checkout", "sess_1", "cancelled", context.Canceled)
	if event.Outcome != "cancelled" {
		t.Errorf("expected outcome cancelled, got %s", event.Outcome)
	}
	if event.IsError() {
		t.Error("expected finalized event not to be an error")
	}
}

func TestReporterFunc(t *testing.T) {
	var mu sync.Mutex
	var got []EventType
	r := ReporterFunc(func(e *Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Type)
	})

	r.Report(NewRunStartedEvent("checkout", "sess_1"))
	r.Report(NewLearnFailedEvent("checkout", "sess_1", errors.New("boom")))

	if len(got) != 2 || got[1] != EventTypeLearnFailed {
		t.Errorf("unexpected events %v", got)
	}
	NopReporter{}.Report(NewRunStartedEvent("checkout", "sess_1"))
}

func TestChannelReporter(t *testing.T) {
	events := make(chan *Event, 1)
	r := NewChannelReporter(context.Background(), events)
	r.Report(NewRunStartedEvent("checkout", "sess_1"))

	select {
	case e := <-events:
		if e.Type != EventTypeRunStarted {
			t.Errorf("expected run_started, got %s", e.Type)
		}
	default:
		t.Fatal("expected an event on the channel")
	}
}

func TestChannelReporterStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// unbuffered and never read: Report must return once ctx is done
	r := NewChannelReporter(ctx, make(chan *Event))
	done := make(chan struct{})
	go func() {
		r.Report(NewRunStartedEvent("checkout", "sess_1"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Report blocked after cancellation")
	}
}
