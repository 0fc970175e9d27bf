package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gobwas/glob"

	"github.com/entrhq/wayfinder/pkg/browser"
	"github.com/entrhq/wayfinder/pkg/capture"
	"github.com/entrhq/wayfinder/pkg/dedup"
	"github.com/entrhq/wayfinder/pkg/graph"
	"github.com/entrhq/wayfinder/pkg/session"
	"github.com/entrhq/wayfinder/pkg/types"
)

// Remediation step kinds.
const (
	RecoveryWait           = "wait"
	RecoveryScroll         = "scroll"
	RecoveryReload         = "reload"
	RecoverySwitchSelector = "switch_selector"
)

const defaultRecoveryWait = time.Second

// DefaultStrategies returns the remediation tried for an error kind that has
// no recorded strategy on the failing edge. Once tried, they are learned like
// any other recovery.
func DefaultStrategies() map[session.ErrorKind][][]session.RecoveryStep {
	return map[session.ErrorKind][][]session.RecoveryStep{
		session.ErrorKindActionFailed:  {{{Kind: RecoveryScroll}}},
		session.ErrorKindSettleTimeout: {{{Kind: RecoveryWait, Wait: 2 * time.Second}}},
		session.ErrorKindStateMismatch: {{{Kind: RecoveryWait, Wait: time.Second}}},
	}
}

// run is the mutable state of one execution. It is owned by a single
// goroutine.
type run struct {
	e      *Executor
	req    Request
	plan   *plan
	rec    *session.Recorder
	engine *capture.Engine
	dedup  *dedup.Deduplicator

	started    time.Time
	nextFrame  int
	recoveries []session.RecoveryRecord
	attempts   map[graph.EdgeID]int
	lastNode   string
	completed  int
}

type attemptResult struct {
	ok    bool
	kind  session.ErrorKind
	err   error
	fatal bool
}

func (r *run) id() string {
	return r.rec.ID()
}

// execute walks the plan. It returns the session outcome and, for anything
// but success, the step the run stopped on.
func (r *run) execute(ctx context.Context) (session.Outcome, *StepError) {
	if fail := r.start(ctx); fail != nil {
		return r.stopped(ctx, fail)
	}
	r.e.reporter.Report(types.NewRunStartedEvent(r.req.WorkflowID, r.id()))

	for _, st := range r.plan.steps {
		if ctx.Err() != nil {
			return r.stopped(ctx, r.stepError(st, "", ctx.Err()))
		}
		if fail := r.step(ctx, st); fail != nil {
			return r.stopped(ctx, fail)
		}
		r.lastNode = st.edge.To
		r.completed++
	}
	return session.OutcomeSuccess, nil
}

// stopped classifies why a run ended early. An interrupted context takes
// precedence over the step's own failure: cancellation yields Cancelled, a
// deadline yields a workflow timeout.
func (r *run) stopped(ctx context.Context, fail *StepError) (session.Outcome, *StepError) {
	switch err := ctx.Err(); {
	case errors.Is(err, context.Canceled):
		fail.Kind, fail.Err = "", err
		return session.OutcomeCancelled, fail
	case errors.Is(err, context.DeadlineExceeded):
		fail.Kind, fail.Err = session.ErrorKindWorkflowTimeout, err
	}
	return session.OutcomeFailure, fail
}

func (r *run) stepError(st step, kind session.ErrorKind, err error) *StepError {
	return &StepError{Index: st.index, EdgeID: st.edge.ID, From: st.edge.From, To: st.edge.To, Kind: kind, Err: err}
}

// start opens the start URL and records the verified start frame.
func (r *run) start(ctx context.Context) *StepError {
	fail := func(kind session.ErrorKind, err error) *StepError {
		return &StepError{Index: -1, To: r.req.Start, Kind: kind, Err: err}
	}

	sctx, cancel := context.WithTimeout(ctx, r.e.stepTimeout)
	err := r.e.page.Navigate(sctx, r.req.StartURL)
	cancel()
	kind := session.ErrorKindActionFailed
	if err != nil {
		err = fmt.Errorf("%w: navigate: %w", ErrStepFailure, err)
	} else {
		kind, err = r.settleAndVerify(ctx, r.plan.startSignal)
	}
	if ctx.Err() != nil {
		return fail(kind, ctx.Err())
	}

	action := &session.ActionInfo{Type: browser.ActionNavigate, Selector: r.req.StartURL, To: r.req.Start}
	if err != nil {
		action.ErrorKind = kind
		action.Error = err.Error()
	}
	f, cerr := r.capture(ctx, "open "+r.req.StartURL, action)
	if cerr != nil {
		return fail(captureKind(cerr), cerr)
	}
	f.Verified = err == nil
	if f.Verified {
		f.State = r.req.Start
	}
	if aerr := r.append(f); aerr != nil {
		return fail(session.ErrorKindActionFailed, aerr)
	}
	if err != nil {
		return fail(kind, err)
	}
	r.lastNode = r.req.Start
	return nil
}

// step executes one planned edge, recovering on failure.
func (r *run) step(ctx context.Context, st step) *StepError {
	res := r.attempt(ctx, st, st.selector, nil)
	if res.ok {
		return nil
	}
	if res.fatal {
		return r.stepError(st, res.kind, res.err)
	}

	r.e.setState(StateRecovering)
	defer r.e.setState(StateExecuting)

	kind := res.kind
	tried := map[string]bool{st.selector: true}
	n := 1

	for _, steps := range r.strategies(st.edge.ID, kind) {
		if r.exhausted(st) {
			break
		}
		sel := st.selector
		for _, s := range steps {
			if s.Kind == RecoverySwitchSelector && s.Selector != "" {
				sel = s.Selector
			}
		}
		tried[sel] = true
		n++
		res = r.attempt(ctx, st, sel, &session.RecoveryInfo{ErrorKind: kind, Steps: steps})
		if res.ok {
			return nil
		}
		if res.fatal {
			return r.stepError(st, res.kind, res.err)
		}
	}

	for _, alt := range st.edge.Selectors {
		if tried[alt.Selector] {
			continue
		}
		if r.exhausted(st) {
			break
		}
		tried[alt.Selector] = true
		n++
		steps := []session.RecoveryStep{{Kind: RecoverySwitchSelector, Selector: alt.Selector}}
		res = r.attempt(ctx, st, alt.Selector, &session.RecoveryInfo{ErrorKind: kind, Steps: steps})
		if res.ok {
			return nil
		}
		if res.fatal {
			return r.stepError(st, res.kind, res.err)
		}
	}

	return r.stepError(st, res.kind, fmt.Errorf("%w after %d attempts: %w", ErrRecoveryExhausted, n, res.err))
}

// exhausted reports whether a bounded edge has used up its iterations.
func (r *run) exhausted(st step) bool {
	limit := st.edge.MaxIterations
	return limit > 0 && r.attempts[st.edge.ID] >= limit
}

// strategies returns the recorded remediation for kind in descending success
// order, or the defaults when none is recorded.
func (r *run) strategies(id graph.EdgeID, kind session.ErrorKind) [][]session.RecoveryStep {
	recorded, err := r.plan.graph.Strategies(id, string(kind))
	if err == nil && len(recorded) > 0 {
		out := make([][]session.RecoveryStep, 0, len(recorded))
		for _, s := range recorded {
			out = append(out, s.Steps)
		}
		return out
	}
	return r.e.strategies[kind]
}

// attempt issues the step's action with sel, captures the resulting frame
// and records it. rec marks a recovery attempt.
func (r *run) attempt(ctx context.Context, st step, sel string, rec *session.RecoveryInfo) attemptResult {
	r.attempts[st.edge.ID]++
	info := types.StepInfo{
		Index:    st.index,
		EdgeID:   int(st.edge.ID),
		From:     st.edge.From,
		To:       st.edge.To,
		Action:   st.edge.Action,
		Selector: sel,
	}
	r.e.reporter.Report(types.NewStepStartedEvent(r.req.WorkflowID, r.id(), info))

	begin := time.Now()
	kind, err := r.act(ctx, st, sel, rec)
	if ctx.Err() != nil {
		return attemptResult{kind: kind, err: ctx.Err(), fatal: true}
	}

	action := &session.ActionInfo{
		Type:     st.edge.Action,
		Intent:   st.edge.To,
		Selector: sel,
		EdgeID:   int(st.edge.ID),
		From:     st.edge.From,
		To:       st.edge.To,
		Recovery: rec,
	}
	if err != nil {
		action.ErrorKind = kind
		action.Error = err.Error()
	}

	f, cerr := r.capture(ctx, fmt.Sprintf("%s %s", st.edge.Action, sel), action)
	if cerr != nil {
		res := attemptResult{kind: captureKind(cerr), err: cerr, fatal: true}
		r.reportFailure(info, time.Since(begin), res)
		return res
	}
	f.Verified = err == nil
	if f.Verified {
		f.State = st.edge.To
	}
	if aerr := r.append(f); aerr != nil {
		return attemptResult{kind: session.ErrorKindActionFailed, err: aerr, fatal: true}
	}

	res := attemptResult{ok: err == nil, kind: kind, err: err}
	d := time.Since(begin)
	if rec != nil {
		r.recoveries = append(r.recoveries, session.RecoveryRecord{
			FrameID:   f.ID,
			EdgeID:    int(st.edge.ID),
			ErrorKind: rec.ErrorKind,
			Steps:     rec.Steps,
			Succeeded: res.ok,
		})
		names := make([]string, len(rec.Steps))
		for i, s := range rec.Steps {
			names[i] = s.Kind
		}
		r.e.reporter.Report(types.NewRecoveryAttemptedEvent(r.req.WorkflowID, r.id(), info, types.RecoveryInfo{
			ErrorKind: string(rec.ErrorKind),
			Steps:     names,
			Succeeded: res.ok,
		}))
		r.e.metrics.recovery(r.req.WorkflowID, string(rec.ErrorKind), res.ok)
	}

	if res.ok {
		r.e.metrics.step(r.req.WorkflowID, true, d)
		r.e.reporter.Report(types.NewStepCompletedEvent(r.req.WorkflowID, r.id(), info, d))
		return res
	}
	r.reportFailure(info, d, res)
	return res
}

func (r *run) reportFailure(info types.StepInfo, d time.Duration, res attemptResult) {
	r.e.logger.Warnf("run %s: step %d (%s -> %s) with %s: %s: %v", r.id(), info.Index, info.From, info.To, info.Selector, res.kind, res.err)
	r.e.metrics.step(r.req.WorkflowID, false, d)
	r.e.reporter.Report(types.NewStepFailedEvent(r.req.WorkflowID, r.id(), info, d, string(res.kind), res.err))
}

// act performs remediation, the action itself and verification. After a
// wait-style remediation for a settle or state failure the target state is
// checked first, since the original action may already have taken effect.
func (r *run) act(ctx context.Context, st step, sel string, rec *session.RecoveryInfo) (session.ErrorKind, error) {
	if rec != nil {
		if err := r.remediate(ctx, rec.Steps); err != nil {
			return session.ErrorKindActionFailed, fmt.Errorf("%w: remediation: %w", ErrStepFailure, err)
		}
		if (rec.ErrorKind == session.ErrorKindSettleTimeout || rec.ErrorKind == session.ErrorKindStateMismatch) && sel == st.selector {
			if _, err := r.settleAndVerify(ctx, st.signal); err == nil {
				return "", nil
			}
		}
	}

	sctx, cancel := context.WithTimeout(ctx, r.e.stepTimeout)
	err := browser.Perform(sctx, r.e.page, browser.Action{Type: st.edge.Action, Selector: sel, Value: st.value})
	cancel()
	if err != nil {
		return session.ErrorKindActionFailed, fmt.Errorf("%w: %w", ErrStepFailure, err)
	}
	return r.settleAndVerify(ctx, st.signal)
}

// settleAndVerify waits for the page to settle and checks the expected
// state's signal. An empty signal is satisfied by a settled page.
func (r *run) settleAndVerify(ctx context.Context, sig graph.Signal) (session.ErrorKind, error) {
	sctx, cancel := context.WithTimeout(ctx, r.e.settleTimeout)
	defer cancel()

	if err := r.e.page.WaitForSettle(sctx); err != nil {
		return session.ErrorKindSettleTimeout, fmt.Errorf("%w: settle: %w", ErrStepFailure, err)
	}
	if sig.URLPattern != "" {
		g, err := glob.Compile(sig.URLPattern)
		if err != nil {
			return session.ErrorKindStateMismatch, fmt.Errorf("invalid url pattern %q: %w", sig.URLPattern, err)
		}
		if url := r.e.page.URL(); !g.Match(url) {
			return session.ErrorKindStateMismatch, fmt.Errorf("%w: url %s does not match %s", ErrStepFailure, url, sig.URLPattern)
		}
	}
	if sig.ReadySelector != "" {
		if err := r.e.page.WaitForSelector(sctx, sig.ReadySelector); err != nil {
			return session.ErrorKindStateMismatch, fmt.Errorf("%w: ready selector %s: %w", ErrStepFailure, sig.ReadySelector, err)
		}
	}
	return "", nil
}

func (r *run) remediate(ctx context.Context, steps []session.RecoveryStep) error {
	for _, s := range steps {
		sctx, cancel := context.WithTimeout(ctx, r.e.stepTimeout)
		var err error
		switch s.Kind {
		case RecoveryWait:
			d := s.Wait
			if d <= 0 {
				d = defaultRecoveryWait
			}
			err = sleep(sctx, d)
		case RecoveryScroll:
			err = r.e.page.Scroll(sctx, 0, browser.DefaultScrollDelta)
		case RecoveryReload:
			err = r.e.page.Reload(sctx)
		case RecoverySwitchSelector:
		default:
			err = fmt.Errorf("unknown recovery step %q", s.Kind)
		}
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// capture snapshots the page under the step timeout.
func (r *run) capture(ctx context.Context, instruction string, action *session.ActionInfo) (*session.Frame, error) {
	cctx, cancel := context.WithTimeout(ctx, r.e.stepTimeout)
	defer cancel()
	f, err := r.engine.CaptureFrame(cctx, r.e.page, r.nextFrame, time.Since(r.started).Milliseconds(), r.e.captureOpts, instruction, action)
	if err != nil {
		return nil, err
	}
	r.nextFrame++
	return f, nil
}

// append flags duplicates against the previous frame and records f.
func (r *run) append(f *session.Frame) error {
	v := r.dedup.Check(r.rec.Last(), f, r.e.forceRetain)
	f.Duplicate = v.Duplicate
	if err := r.rec.Append(*f); err != nil {
		return err
	}
	return nil
}

func captureKind(err error) session.ErrorKind {
	if errors.Is(err, capture.ErrConnection) {
		return session.ErrorKindConnection
	}
	return session.ErrorKindActionFailed
}
