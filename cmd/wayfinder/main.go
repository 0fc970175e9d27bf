// Package main provides the wayfinder command line: it runs workflows in a
// real browser, learning from every run, and inspects what has been learned.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/entrhq/wayfinder/pkg/browser"
	"github.com/entrhq/wayfinder/pkg/config"
	"github.com/entrhq/wayfinder/pkg/executor"
	"github.com/entrhq/wayfinder/pkg/graph"
	"github.com/entrhq/wayfinder/pkg/logging"
	"github.com/entrhq/wayfinder/pkg/store"
	"github.com/entrhq/wayfinder/pkg/types"
)

const version = "0.1.0"

// inputFlags collects repeated -input key=value flags.
type inputFlags map[string]string

func (f inputFlags) String() string {
	pairs := make([]string, 0, len(f))
	for k, v := range f {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (f inputFlags) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("input must be key=value, got %q", s)
	}
	f[k] = v
	return nil
}

// RunConfig holds the flags of the run subcommand
type RunConfig struct {
	ConfigFile  string
	Workflows   []string
	Goal        string
	Inputs      inputFlags
	ReportDir   string
	MetricsAddr string
}

// InspectConfig holds the flags of the inspect subcommand
type InspectConfig struct {
	ConfigFile string
	WorkflowID string
	Sessions   bool
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(ctx, parseRunFlags(os.Args[2:]))
	case "inspect":
		err = inspectCommand(parseInspectFlags(os.Args[2:]))
	case "version", "-version", "--version":
		fmt.Printf("wayfinder v%s\n", version)
	case "help", "-h", "--help":
		usage()
	default:
		usage()
		cancel()
		os.Exit(2)
	}
	cancel()
	if err != nil {
		log.Printf("wayfinder: %v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Wayfinder - learning web workflow executor\n\n")
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  wayfinder run [options] -workflow checkout.yaml [-workflow ...]\n")
	fmt.Fprintf(os.Stderr, "  wayfinder inspect [options] -workflow-id checkout\n")
	fmt.Fprintf(os.Stderr, "  wayfinder version\n\n")
	fmt.Fprintf(os.Stderr, "Examples:\n")
	fmt.Fprintf(os.Stderr, "  # Run a workflow with an input value\n")
	fmt.Fprintf(os.Stderr, "  wayfinder run -workflow checkout.yaml -input card=4242\n\n")
	fmt.Fprintf(os.Stderr, "  # Show learned selector confidences\n")
	fmt.Fprintf(os.Stderr, "  wayfinder inspect -workflow-id checkout\n\n")
}

// parseRunFlags parses the run subcommand flags
func parseRunFlags(args []string) *RunConfig {
	cfg := &RunConfig{Inputs: inputFlags{}}
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.StringVar(&cfg.ConfigFile, "config", "", "Path to configuration file (YAML)")
	fs.Func("workflow", "Workflow definition file (YAML), repeatable", func(s string) error {
		cfg.Workflows = append(cfg.Workflows, s)
		return nil
	})
	fs.StringVar(&cfg.Goal, "goal", "", "Override the goal state of every workflow")
	fs.Var(cfg.Inputs, "input", "Input value as key=value, repeatable; overrides workflow inputs")
	fs.StringVar(&cfg.ReportDir, "report", "", "Directory for per-run report.json and summary.md")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	_ = fs.Parse(args)
	return cfg
}

// parseInspectFlags parses the inspect subcommand flags
func parseInspectFlags(args []string) *InspectConfig {
	cfg := &InspectConfig{}
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	fs.StringVar(&cfg.ConfigFile, "config", "", "Path to configuration file (YAML)")
	fs.StringVar(&cfg.WorkflowID, "workflow-id", "", "Workflow to inspect")
	fs.BoolVar(&cfg.Sessions, "sessions", false, "List stored session ids instead of confidences")
	_ = fs.Parse(args)
	return cfg
}

// loadConfig loads and validates the configuration file
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	var l *logging.Logger
	switch cfg.Logging.Verbosity {
	case "verbose", "debug":
		l = logging.NewWriterLogger("wayfinder", os.Stderr)
	default:
		// NewLogger falls back to stderr on error
		l, _ = logging.NewLogger("wayfinder")
	}
	if level, err := logging.ParseLevel(cfg.Logging.Verbosity); err == nil {
		l.SetLevel(level)
	}
	return l
}

func openStores(cfg *config.Config, logger *logging.Logger) (*store.GraphStore, *store.SessionStore) {
	graphs := store.NewGraphStore(
		filepath.Join(cfg.Storage.Root, "graphs"),
		store.WithCycleBound(cfg.Execution.CycleBound),
		store.WithConflictRetries(cfg.Execution.ConflictRetries),
		store.WithGraphLogger(logger.With("store")),
	)
	sessions := store.NewSessionStore(filepath.Join(cfg.Storage.Root, "sessions"), cfg.Storage.CompressSessions)
	return graphs, sessions
}

// runCommand seeds the graphs of the given workflows, runs them in parallel
// and writes the reports.
//
//nolint:gocyclo
func runCommand(ctx context.Context, rc *RunConfig) error {
	if len(rc.Workflows) == 0 {
		return fmt.Errorf("at least one -workflow is required")
	}
	cfg, err := loadConfig(rc.ConfigFile)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer func() { _ = logger.Close() }()
	graphs, sessions := openStores(cfg, logger)

	reqs := make([]executor.Request, 0, len(rc.Workflows))
	for _, path := range rc.Workflows {
		wf, err := config.LoadWorkflow(path)
		if err != nil {
			return err
		}
		g, err := graphs.Update(ctx, wf.ID, func(g *graph.Graph) (*graph.Graph, error) {
			out, err := g.Clone()
			if err != nil {
				return nil, err
			}
			if err := wf.Seed(out); err != nil {
				return nil, err
			}
			if out.Pending() != graph.ChangeNone {
				out.Commit()
			}
			return out, nil
		})
		if err != nil {
			return fmt.Errorf("failed to seed workflow %s: %w", wf.ID, err)
		}
		logger.Infof("workflow %s at graph version %s", wf.ID, g.Version())

		req := executor.Request{
			WorkflowID: wf.ID,
			StartURL:   wf.StartURL,
			Start:      wf.Start,
			Goal:       wf.Goal,
			Inputs:     map[string]string{},
		}
		if rc.Goal != "" {
			req.Goal = rc.Goal
		}
		for k, v := range wf.Inputs {
			req.Inputs[k] = v
		}
		for k, v := range rc.Inputs {
			req.Inputs[k] = v
		}
		reqs = append(reqs, req)
	}

	registry := prometheus.NewRegistry()
	metrics := executor.NewMetrics(registry)
	if rc.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              rc.MetricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("metrics server: %v", err)
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	manager := browser.NewManager()
	manager.SetMaxPages(cfg.Execution.MaxParallel)
	if err := manager.Initialize(); err != nil {
		return err
	}
	defer func() {
		if err := manager.Shutdown(); err != nil {
			logger.Warnf("browser shutdown: %v", err)
		}
	}()

	viewport := cfg.Browser.Viewport
	pages := func(ctx context.Context, name string) (browser.Page, func(), error) {
		p, err := manager.NewPage(name, browser.PageOptions{
			Headless: cfg.Browser.Headless,
			Viewport: &viewport,
			Timeout:  cfg.Execution.StepTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, func() {
			if err := manager.ClosePage(name); err != nil {
				logger.Warnf("close page %s: %v", name, err)
			}
		}, nil
	}

	events := make(chan *types.Event, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if cfg.Logging.Verbosity != "quiet" {
				printEvent(ev)
			}
		}
	}()

	opts := append(executor.ConfigOptions(cfg),
		executor.WithSessionStore(sessions),
		executor.WithReporter(types.NewChannelReporter(ctx, events)),
		executor.WithMetrics(metrics),
		executor.WithLogger(logger.With("executor")),
	)
	log.Printf("Running %d workflow(s), %d at a time", len(reqs), cfg.Execution.MaxParallel)
	outcomes, err := executor.NewRunner(pages, graphs, cfg.Execution.MaxParallel, opts...).RunAll(ctx, reqs)
	close(events)
	<-done
	if err != nil {
		return err
	}

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
		if o.Result == nil {
			log.Printf("%s: %v", o.Request.WorkflowID, o.Err)
			continue
		}
		log.Printf("%s: %s after %d steps (session %s, graph %s)",
			o.Result.WorkflowID, o.Result.Outcome, o.Result.Steps, o.Result.SessionID, o.Result.GraphVersion)
		if rc.ReportDir != "" {
			sess, lerr := sessions.Load(o.Result.SessionID)
			if lerr != nil {
				logger.Warnf("load session %s: %v", o.Result.SessionID, lerr)
			}
			w := executor.NewReportWriter(filepath.Join(rc.ReportDir, o.Result.SessionID))
			if werr := w.WriteAll(executor.NewRunReport(o.Result, sess)); werr != nil {
				return werr
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d runs did not succeed", failed, len(outcomes))
	}
	return nil
}

func printEvent(ev *types.Event) {
	switch ev.Type {
	case types.EventTypeRunStarted:
		fmt.Printf("[%s] started %s\n", ev.WorkflowID, ev.SessionID)
	case types.EventTypeStepCompleted:
		fmt.Printf("[%s] step %d %s -> %s via %s (%s)\n", ev.WorkflowID, ev.Step.Index, ev.Step.From, ev.Step.To,
			ev.Step.Selector, ev.Step.Duration.Round(time.Millisecond))
	case types.EventTypeStepFailed:
		fmt.Printf("[%s] step %d %s -> %s via %s failed: %s\n", ev.WorkflowID, ev.Step.Index, ev.Step.From, ev.Step.To,
			ev.Step.Selector, ev.Step.ErrorKind)
	case types.EventTypeRecoveryAttempted:
		fmt.Printf("[%s] recovery %s for %s: succeeded=%t\n", ev.WorkflowID, strings.Join(ev.Recovery.Steps, "+"),
			ev.Recovery.ErrorKind, ev.Recovery.Succeeded)
	case types.EventTypeSessionFinalized:
		fmt.Printf("[%s] %s %s\n", ev.WorkflowID, ev.SessionID, ev.Outcome)
	case types.EventTypeLearnFailed:
		fmt.Printf("[%s] learning from %s failed: %v\n", ev.WorkflowID, ev.SessionID, ev.Error)
	}
}

// inspectCommand prints the learned confidences of one workflow graph
func inspectCommand(ic *InspectConfig) error {
	if ic.WorkflowID == "" {
		return fmt.Errorf("-workflow-id is required")
	}
	cfg, err := loadConfig(ic.ConfigFile)
	if err != nil {
		return err
	}
	graphs, sessions := openStores(cfg, logging.Discard("wayfinder"))

	var out interface{}
	if ic.Sessions {
		ids, err := sessions.List(ic.WorkflowID)
		if err != nil {
			return err
		}
		out = ids
	} else {
		g, err := graphs.Load(ic.WorkflowID)
		if err != nil {
			return err
		}
		out = g.Inspect()
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode inspection: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
