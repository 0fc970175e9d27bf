package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/entrhq/wayfinder/pkg/browser"
	"github.com/entrhq/wayfinder/pkg/capture"
	"github.com/entrhq/wayfinder/pkg/config"
	"github.com/entrhq/wayfinder/pkg/dedup"
	"github.com/entrhq/wayfinder/pkg/graph"
	"github.com/entrhq/wayfinder/pkg/learner"
	"github.com/entrhq/wayfinder/pkg/logging"
	"github.com/entrhq/wayfinder/pkg/session"
	"github.com/entrhq/wayfinder/pkg/store"
	"github.com/entrhq/wayfinder/pkg/types"
)

// ErrBusy is returned when Run is called on an executor that is already running.
var ErrBusy = errors.New("executor: run already in progress")

// Default timeouts used when none are configured.
const (
	DefaultStepTimeout   = 30 * time.Second
	DefaultSettleTimeout = 10 * time.Second
)

// Request describes one run of a workflow.
type Request struct {
	WorkflowID string
	StartURL   string
	Start      string
	Goal       string

	// Inputs holds the values typed by fill edges, keyed by the edge's input key
	Inputs map[string]string
}

// Result is the outcome of a run. Failed runs report where they stopped and
// why; selector confidences are only available through graph inspection.
type Result struct {
	WorkflowID string            `json:"workflow_id"`
	SessionID  string            `json:"session_id"`
	Outcome    session.Outcome   `json:"outcome"`
	LastNode   string            `json:"last_node,omitempty"`
	Steps      int               `json:"steps"`
	Recoveries int               `json:"recoveries"`
	Duration   time.Duration     `json:"duration"`
	ErrorKind  session.ErrorKind `json:"error_kind,omitempty"`

	// FailingStep is the index of the step the run failed on, or -1
	FailingStep int `json:"failing_step"`

	// GraphVersion is the graph version after learning, empty if learning failed
	GraphVersion string `json:"graph_version,omitempty"`
}

// Executor runs workflows on one browser page. Runs on the same executor are
// serialized; use one executor per page for parallel runs.
type Executor struct {
	page       browser.Page
	graphs     *store.GraphStore
	sessions   *store.SessionStore
	learner    *learner.Learner
	reporter   types.Reporter
	metrics    *Metrics
	logger     *logging.Logger
	strategies map[session.ErrorKind][][]session.RecoveryStep

	captureOpts     capture.Options
	forceRetain     bool
	compress        bool
	stepTimeout     time.Duration
	settleTimeout   time.Duration
	workflowTimeout time.Duration

	state   atomic.Int32
	running atomic.Bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithSessionStore persists finished sessions and their frame artifacts.
// Without it sessions are learned but not stored.
func WithSessionStore(s *store.SessionStore) Option {
	return func(e *Executor) { e.sessions = s }
}

// WithLearner sets the learner finished sessions are folded in with.
func WithLearner(l *learner.Learner) Option {
	return func(e *Executor) { e.learner = l }
}

// WithReporter sets the progress event receiver.
func WithReporter(r types.Reporter) Option {
	return func(e *Executor) { e.reporter = r }
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger sets the executor logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithCaptureOptions sets what each frame contains.
func WithCaptureOptions(opts capture.Options) Option {
	return func(e *Executor) { e.captureOpts = opts }
}

// WithForceRetain keeps frames the deduplicator would flag.
func WithForceRetain(v bool) Option {
	return func(e *Executor) { e.forceRetain = v }
}

// WithArtifactCompression zstd-compresses text artifacts.
func WithArtifactCompression(v bool) Option {
	return func(e *Executor) { e.compress = v }
}

// WithTimeouts sets the per-step action timeout, the page-settle timeout and
// the whole-workflow timeout. A zero workflow timeout means no limit.
func WithTimeouts(step, settle, workflow time.Duration) Option {
	return func(e *Executor) {
		e.stepTimeout = step
		e.settleTimeout = settle
		e.workflowTimeout = workflow
	}
}

// WithDefaultStrategies sets the remediation sequences tried for an error
// kind when the failing edge has no recorded strategy for it. nil disables
// them.
func WithDefaultStrategies(s map[session.ErrorKind][][]session.RecoveryStep) Option {
	return func(e *Executor) { e.strategies = s }
}

// ConfigOptions translates the capture and execution sections of cfg.
func ConfigOptions(cfg *config.Config) []Option {
	return []Option{
		WithCaptureOptions(cfg.CaptureOptions()),
		WithForceRetain(cfg.Capture.ForceRetain),
		WithArtifactCompression(cfg.Capture.Compress),
		WithTimeouts(cfg.Execution.StepTimeout, cfg.Execution.SettleTimeout, cfg.Execution.WorkflowTimeout),
	}
}

// New creates an executor driving page and learning into graphs.
func New(page browser.Page, graphs *store.GraphStore, opts ...Option) *Executor {
	e := &Executor{
		page:          page,
		graphs:        graphs,
		captureOpts:   capture.DefaultOptions(),
		strategies:    DefaultStrategies(),
		stepTimeout:   DefaultStepTimeout,
		settleTimeout: DefaultSettleTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrDiscard(e.logger, "executor")
	if e.learner == nil {
		e.learner = learner.New(e.logger.With("learner"))
	}
	if e.reporter == nil {
		e.reporter = types.NopReporter{}
	}
	if e.stepTimeout <= 0 {
		e.stepTimeout = DefaultStepTimeout
	}
	if e.settleTimeout <= 0 {
		e.settleTimeout = DefaultSettleTimeout
	}
	return e
}

// State returns the current state of the executor.
func (e *Executor) State() State {
	return State(e.state.Load())
}

func (e *Executor) setState(s State) {
	if old := State(e.state.Swap(int32(s))); old != s {
		e.logger.Debugf("state %s -> %s", old, s)
	}
}

// Run executes req. The finished session is always learned, whatever the
// outcome. A failed run returns a *StepError; a cancelled run returns the
// context error. Planning errors are returned before any session starts.
func (e *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer e.running.Store(false)

	e.setState(StatePlanning)
	p, err := e.plan(req)
	if err != nil {
		e.setState(StateFailed)
		return nil, err
	}

	if e.workflowTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.workflowTimeout)
		defer cancel()
	}

	r := e.newRun(req, p)
	e.metrics.runStarted()
	e.logger.Infof("run %s: %s %s -> %s in %d steps", r.id(), req.WorkflowID, req.Start, req.Goal, len(p.steps))

	e.setState(StateExecuting)
	outcome, failure := r.execute(ctx)
	return e.finish(ctx, r, outcome, failure)
}

// plan is the graph view a run executes against.
type plan struct {
	graph       *graph.Graph
	startSignal graph.Signal
	steps       []step
}

type step struct {
	index    int
	edge     graph.EdgeView
	selector string
	value    string
	signal   graph.Signal
}

func (e *Executor) plan(req Request) (*plan, error) {
	if req.WorkflowID == "" || req.StartURL == "" || req.Start == "" || req.Goal == "" {
		return nil, fmt.Errorf("executor: request needs workflow id, start url, start and goal")
	}

	g, err := e.graphs.Load(req.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("executor: plan %s: %w", req.WorkflowID, err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("executor: plan %s: %w", req.WorkflowID, err)
	}
	start, ok := g.Node(req.Start)
	if !ok {
		return nil, fmt.Errorf("executor: plan %s: %w: %q", req.WorkflowID, graph.ErrUnknownNode, req.Start)
	}
	path, err := g.Path(req.Start, req.Goal)
	if err != nil {
		return nil, fmt.Errorf("executor: plan %s: %w", req.WorkflowID, err)
	}

	p := &plan{graph: g, startSignal: start.Signal}
	for i, id := range path {
		view, err := g.Edge(id)
		if err != nil {
			return nil, err
		}
		sel, err := g.BestSelector(id)
		if err != nil {
			return nil, err
		}
		to, _ := g.Node(view.To)

		var value string
		if view.InputKey != "" {
			v, ok := req.Inputs[view.InputKey]
			if !ok {
				return nil, fmt.Errorf("%w: %q for step %d (%s -> %s)", ErrMissingInput, view.InputKey, i, view.From, view.To)
			}
			value = v
		}
		p.steps = append(p.steps, step{index: i, edge: view, selector: sel, value: value, signal: to.Signal})
	}
	return p, nil
}

func (e *Executor) newRun(req Request, p *plan) *run {
	rec := session.NewRecorder(req.WorkflowID)
	var artifacts *capture.ArtifactWriter
	if e.sessions != nil {
		artifacts = capture.NewArtifactWriter(e.sessions.ArtifactDir(rec.ID()), e.compress)
	}
	return &run{
		e:        e,
		req:      req,
		plan:     p,
		rec:      rec,
		engine:   capture.NewEngine(artifacts, capture.WithLogger(e.logger.With("capture"))),
		dedup:    dedup.New(),
		started:  time.Now(),
		attempts: make(map[graph.EdgeID]int),
	}
}

// finish finalizes, persists and learns the session, then builds the result.
func (e *Executor) finish(ctx context.Context, r *run, outcome session.Outcome, failure *StepError) (*Result, error) {
	var runErr error
	switch {
	case outcome == session.OutcomeCancelled:
		runErr = fmt.Errorf("executor: %s cancelled: %w", r.req.WorkflowID, context.Canceled)
		e.setState(StateCancelled)
	case failure != nil:
		runErr = failure
		e.setState(StateFailed)
	default:
		e.setState(StateSucceeded)
	}

	res := &Result{
		WorkflowID:  r.req.WorkflowID,
		SessionID:   r.id(),
		Outcome:     outcome,
		LastNode:    r.lastNode,
		Steps:       r.completed,
		Recoveries:  len(r.recoveries),
		Duration:    time.Since(r.started),
		FailingStep: -1,
	}
	if failure != nil && outcome == session.OutcomeFailure {
		res.FailingStep = failure.Index
		res.ErrorKind = failure.Kind
	}

	sess, err := r.rec.Finalize(outcome, r.recoveries, runErr)
	if err != nil {
		e.metrics.runFinished(r.req.WorkflowID, string(outcome))
		return res, fmt.Errorf("executor: finalize session: %w", err)
	}
	e.reporter.Report(types.NewSessionFinalizedEvent(r.req.WorkflowID, sess.ID, string(outcome), runErr))

	if e.sessions != nil {
		if err := e.sessions.Append(sess); err != nil {
			e.logger.Errorf("run %s: store session: %v", sess.ID, err)
		}
	}

	// learning outlives cancellation of the run itself
	learnCtx := context.WithoutCancel(ctx)
	g, err := e.graphs.Update(learnCtx, r.req.WorkflowID, func(g *graph.Graph) (*graph.Graph, error) {
		return e.learner.Learn(sess, g)
	})
	if err != nil {
		e.logger.Errorf("run %s: learn: %v", sess.ID, err)
		e.metrics.learnFailed(r.req.WorkflowID)
		e.reporter.Report(types.NewLearnFailedEvent(r.req.WorkflowID, sess.ID, err))
	} else {
		res.GraphVersion = g.Version().String()
	}

	e.metrics.runFinished(r.req.WorkflowID, string(outcome))
	e.logger.Infof("run %s: %s after %d steps (%s)", sess.ID, outcome, res.Steps, res.Duration.Round(time.Millisecond))
	return res, runErr
}
