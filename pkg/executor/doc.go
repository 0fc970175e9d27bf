// Package executor drives live workflow runs against a browser page using a
// learned workflow graph.
//
// A run is a sequential state machine. Each step issues one action, captures
// a frame, and verifies that the expected next state materialized before the
// next step starts, because every step depends on the page left behind by
// the previous one:
//
//	Idle ──▶ Planning ──▶ Executing(step) ──▶ Succeeded
//	                          │   ▲
//	                          ▼   │
//	                     Recovering(step) ──▶ Failed
//	                          │
//	                          ▼
//	                      Cancelled
//
// Planning loads the graph, checks that every fill input is supplied, and
// picks the shortest path from the start state to the goal, using each
// edge's best selector. When a step fails, Recovering tries the edge's
// recorded recovery strategies in descending success order and then the
// remaining alternative selectors. Only full exhaustion fails the run.
//
// Whatever the outcome, the finished session is persisted and learned into
// the stored graph. Learning is best-effort: its errors are reported as
// events and logged, never returned from Run.
//
// Example usage:
//
//	graphs := store.NewGraphStore(filepath.Join(root, "graphs"), store.WithCycleBound(3))
//	exec := executor.New(page, graphs,
//	    executor.WithSessionStore(store.NewSessionStore(filepath.Join(root, "sessions"), false)),
//	    executor.WithTimeouts(30*time.Second, 10*time.Second, 5*time.Minute),
//	)
//
//	result, err := exec.Run(ctx, executor.Request{
//	    WorkflowID: "checkout",
//	    StartURL:   "https://shop.example/",
//	    Start:      "home",
//	    Goal:       "receipt",
//	})
//
// Progress is delivered to a types.Reporter as structured events; the
// executor performs no human-facing formatting. Runner executes independent
// requests in parallel, each on its own page, sharing only the graph store.
package executor
