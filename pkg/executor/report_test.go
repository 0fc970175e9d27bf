package executor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/wayfinder/pkg/session"
	"github.com/entrhq/wayfinder/pkg/store"
)

func TestReportWriterFailedRun(t *testing.T) {
	dir := t.TempDir()
	graphs := store.NewGraphStore(dir)
	sessions := store.NewSessionStore(dir, false)
	seedCheckout(t, graphs)
	page := checkoutPage()
	page.FailNext("#pay", 5)

	res, err := New(page, graphs, WithSessionStore(sessions), WithDefaultStrategies(nil), fastTimeouts()).
		Run(context.Background(), checkoutRequest("done"))
	require.Error(t, err)
	sess, err := sessions.Load(res.SessionID)
	require.NoError(t, err)

	report := NewRunReport(res, sess)
	assert.Equal(t, 3, report.Frames)
	assert.NotEmpty(t, report.Error)

	out := filepath.Join(t.TempDir(), "report")
	require.NoError(t, NewReportWriter(out).WriteAll(report))

	data, err := os.ReadFile(filepath.Join(out, "report.json"))
	require.NoError(t, err)
	var decoded RunReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, session.OutcomeFailure, decoded.Result.Outcome)
	assert.Equal(t, 1, decoded.Result.FailingStep)

	md, err := os.ReadFile(filepath.Join(out, "summary.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "**Outcome:** failure")
	assert.Contains(t, string(md), "at step 1 (action_failed)")
	assert.Contains(t, string(md), "last reached state `cart`")
}

func TestReportWriterWithoutSession(t *testing.T) {
	res := &Result{WorkflowID: workflowID, SessionID: "sess_x", Outcome: session.OutcomeSuccess, Steps: 2, FailingStep: -1}
	out := t.TempDir()
	require.NoError(t, NewReportWriter(out).WriteAll(NewRunReport(res, nil)))

	md, err := os.ReadFile(filepath.Join(out, "summary.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "**Success**")
	assert.Contains(t, string(md), "**Steps Completed:** 2")
}
