package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/wayfinder/pkg/session"
)

// RunReport summarises a finished run for humans and CI systems.
type RunReport struct {
	Result     *Result                  `json:"result"`
	Error      string                   `json:"error,omitempty"`
	StartedAt  time.Time                `json:"started_at"`
	EndedAt    time.Time                `json:"ended_at"`
	Frames     int                      `json:"frames"`
	Duplicates int                      `json:"duplicate_frames"`
	Degraded   int                      `json:"degraded_frames"`
	Recoveries []session.RecoveryRecord `json:"recoveries,omitempty"`
}

// NewRunReport builds the report of res. sess may be nil when the session
// was not stored.
func NewRunReport(res *Result, sess *session.Session) *RunReport {
	r := &RunReport{Result: res}
	if sess == nil {
		return r
	}
	r.Error = sess.Error
	r.StartedAt = sess.StartedAt
	r.EndedAt = sess.EndedAt
	r.Frames = len(sess.Frames)
	r.Recoveries = sess.Recoveries
	for i := range sess.Frames {
		if sess.Frames[i].Duplicate {
			r.Duplicates++
		}
		if len(sess.Frames[i].Degraded) > 0 {
			r.Degraded++
		}
	}
	return r
}

// ReportWriter writes run reports into a directory.
type ReportWriter struct {
	outputDir string
}

// NewReportWriter creates a report writer
func NewReportWriter(outputDir string) *ReportWriter {
	return &ReportWriter{outputDir: outputDir}
}

// WriteAll writes report.json and summary.md.
func (w *ReportWriter) WriteAll(r *RunReport) error {
	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := w.WriteJSON(r); err != nil {
		return err
	}
	return w.WriteSummaryMarkdown(r)
}

// WriteJSON writes the full report as JSON
func (w *ReportWriter) WriteJSON(r *RunReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.outputDir, "report.json"), data, 0600); err != nil {
		return fmt.Errorf("failed to write run report: %w", err)
	}
	return nil
}

// WriteSummaryMarkdown writes a human-readable markdown summary
func (w *ReportWriter) WriteSummaryMarkdown(r *RunReport) error {
	res := r.Result
	var md strings.Builder

	md.WriteString("# Wayfinder Run Summary\n\n")
	fmt.Fprintf(&md, "**Workflow:** %s\n\n", res.WorkflowID)
	fmt.Fprintf(&md, "**Session:** %s\n\n", res.SessionID)
	fmt.Fprintf(&md, "**Outcome:** %s\n\n", res.Outcome)
	if !r.StartedAt.IsZero() {
		fmt.Fprintf(&md, "**Started:** %s\n\n", r.StartedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&md, "**Duration:** %s\n\n", res.Duration.Round(time.Millisecond))

	md.WriteString("## Result\n\n")
	switch res.Outcome {
	case session.OutcomeSuccess:
		md.WriteString("✅ **Success**\n\n")
	case session.OutcomeCancelled:
		md.WriteString("⏹ **Cancelled**\n\n")
	default:
		fmt.Fprintf(&md, "❌ **Failed** at step %d (%s)", res.FailingStep, res.ErrorKind)
		if res.LastNode != "" {
			fmt.Fprintf(&md, ", last reached state `%s`", res.LastNode)
		}
		md.WriteString("\n\n")
		if r.Error != "" {
			fmt.Fprintf(&md, "Error: %s\n\n", r.Error)
		}
	}

	if len(r.Recoveries) > 0 {
		md.WriteString("## Recoveries\n\n")
		for _, rec := range r.Recoveries {
			status := "✅"
			if !rec.Succeeded {
				status = "❌"
			}
			kinds := make([]string, len(rec.Steps))
			for i, s := range rec.Steps {
				kinds[i] = s.Kind
				if s.Selector != "" {
					kinds[i] += " " + s.Selector
				}
			}
			fmt.Fprintf(&md, "- %s edge %d, %s: %s (frame %d)\n", status, rec.EdgeID, rec.ErrorKind, strings.Join(kinds, ", "), rec.FrameID)
		}
		md.WriteString("\n")
	}

	md.WriteString("## Metrics\n\n")
	fmt.Fprintf(&md, "- **Steps Completed:** %d\n", res.Steps)
	fmt.Fprintf(&md, "- **Recovery Attempts:** %d\n", res.Recoveries)
	fmt.Fprintf(&md, "- **Frames:** %d (%d duplicate, %d degraded)\n", r.Frames, r.Duplicates, r.Degraded)
	if res.GraphVersion != "" {
		fmt.Fprintf(&md, "- **Graph Version:** %s\n", res.GraphVersion)
	}

	if err := os.WriteFile(filepath.Join(w.outputDir, "summary.md"), []byte(md.String()), 0600); err != nil {
		return fmt.Errorf("failed to write summary markdown: %w", err)
	}
	return nil
}
