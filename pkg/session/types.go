package session

import "time"

// Outcome is the final state of an execution record.
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// ErrorKind classifies why a step did not reach its expected state.
// Recovery strategies are keyed by it.
type ErrorKind string

const (
	ErrorKindActionFailed    ErrorKind = "action_failed"
	ErrorKindSettleTimeout   ErrorKind = "settle_timeout"
	ErrorKindStateMismatch   ErrorKind = "state_mismatch"
	ErrorKindConnection      ErrorKind = "connection"
	ErrorKindWorkflowTimeout ErrorKind = "workflow_timeout"
)

// ScreenshotFormat is a raster encoding supported by the capture engine.
type ScreenshotFormat string

const (
	FormatPNG  ScreenshotFormat = "png"
	FormatJPEG ScreenshotFormat = "jpeg"
)

// Frame is one captured snapshot of the page. Frames are immutable once
// appended to a Recorder.
type Frame struct {
	ID          int            `json:"frame_id"`
	Timestamp   time.Time      `json:"timestamp"`
	ElapsedMs   int64          `json:"elapsed_ms"`
	Screenshot  ScreenshotInfo `json:"screenshot"`
	DOM         DOMInfo        `json:"dom"`
	Layout      *LayoutInfo    `json:"layout,omitempty"`
	Elements    []Element      `json:"elements,omitempty"`
	Action      *ActionInfo    `json:"action,omitempty"`
	Instruction string         `json:"instruction,omitempty"`
	Transcript  string         `json:"transcript,omitempty"`
	State       string         `json:"state,omitempty"`
	Verified    bool           `json:"verified"`
	Duplicate   bool           `json:"duplicate,omitempty"`
	Degraded    []string       `json:"degraded,omitempty"`
}

// ScreenshotInfo describes the raster artifact of a frame.
type ScreenshotInfo struct {
	Format ScreenshotFormat `json:"format"`
	MIME   string           `json:"mime,omitempty"`
	Width  int              `json:"width"`
	Height int              `json:"height"`
	Size   int              `json:"size"`
	Hash   string           `json:"hash,omitempty"`
	Path   string           `json:"path,omitempty"`
}

// DOMInfo describes the document at capture time. URL and Title are always set.
type DOMInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	HTML  string `json:"html,omitempty"`
	Hash  string `json:"hash,omitempty"`
	Size  int    `json:"size,omitempty"`
	Text  string `json:"text,omitempty"`
	Path  string `json:"path,omitempty"`
}

// LayoutInfo summarises a structured layout snapshot.
type LayoutInfo struct {
	Preset    string `json:"preset"`
	NodeCount int    `json:"node_count"`
	Size      int    `json:"size"`
	Hash      string `json:"hash,omitempty"`
	Path      string `json:"path,omitempty"`
}

// Element is an interactive element found on the page.
type Element struct {
	Tag      string `json:"tag"`
	Text     string `json:"text,omitempty"`
	Selector string `json:"selector"`
	Kind     string `json:"kind"` // "clickable" or "fillable"
}

// ActionInfo records the action whose result a frame captures.
type ActionInfo struct {
	Type      string        `json:"type"`
	Intent    string        `json:"intent,omitempty"`
	Selector  string        `json:"selector,omitempty"`
	EdgeID    int           `json:"edge_id,omitempty"`
	From      string        `json:"from,omitempty"`
	To        string        `json:"to,omitempty"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Recovery  *RecoveryInfo `json:"recovery,omitempty"`
}

// RecoveryStep is one remediation action. Kind is one of "wait",
// "scroll", "reload" or "switch_selector".
type RecoveryStep struct {
	Kind     string        `json:"kind"`
	Selector string        `json:"selector,omitempty"`
	Wait     time.Duration `json:"wait,omitempty"`
}

// RecoveryInfo marks an action frame as a recovery attempt.
type RecoveryInfo struct {
	ErrorKind ErrorKind      `json:"error_kind"`
	Steps     []RecoveryStep `json:"steps"`
}

// RecoveryRecord summarises one recovery attempt taken during a run.
type RecoveryRecord struct {
	FrameID   int            `json:"frame_id"`
	EdgeID    int            `json:"edge_id"`
	ErrorKind ErrorKind      `json:"error_kind"`
	Steps     []RecoveryStep `json:"steps"`
	Succeeded bool           `json:"succeeded"`
}

// Session is the ordered record of one execution attempt.
type Session struct {
	SchemaVersion int              `json:"schema_version"`
	ID            string           `json:"id"`
	WorkflowID    string           `json:"workflow_id"`
	StartedAt     time.Time        `json:"started_at"`
	EndedAt       time.Time        `json:"ended_at,omitempty"`
	DurationMs    int64            `json:"duration_ms"`
	Outcome       Outcome          `json:"outcome"`
	Frames        []Frame          `json:"frames"`
	Recoveries    []RecoveryRecord `json:"recoveries,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// StepsEqual reports whether two remediation sequences are identical.
func StepsEqual(a, b []RecoveryStep) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
