package executor

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/entrhq/wayfinder/pkg/browser"
	"github.com/entrhq/wayfinder/pkg/store"
)

// PageFactory opens a fresh page for one run. release is called once the
// run is finished with the page.
type PageFactory func(ctx context.Context, name string) (page browser.Page, release func(), err error)

// RunOutcome pairs a request with what its run produced.
type RunOutcome struct {
	Request Request
	Result  *Result
	Err     error
}

// Runner executes independent requests in parallel, each on its own page.
// Learning goes through the shared graph store, so concurrent runs of the
// same workflow serialize only at commit time.
type Runner struct {
	pages       PageFactory
	graphs      *store.GraphStore
	maxParallel int
	opts        []Option
}

// NewRunner creates a runner. maxParallel < 1 runs one request at a time.
// opts are applied to every executor the runner creates.
func NewRunner(pages PageFactory, graphs *store.GraphStore, maxParallel int, opts ...Option) *Runner {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Runner{pages: pages, graphs: graphs, maxParallel: maxParallel, opts: opts}
}

// RunAll runs every request and returns their outcomes in request order. A
// failed run is reported in its outcome and does not stop the others; only
// a page that cannot be opened aborts the batch, cancelling runs in flight.
func (r *Runner) RunAll(ctx context.Context, reqs []Request) ([]RunOutcome, error) {
	out := make([]RunOutcome, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxParallel)

	for i, req := range reqs {
		i, req := i, req
		out[i].Request = req
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			page, release, err := r.pages(gctx, fmt.Sprintf("%s-%d", req.WorkflowID, i))
			if err != nil {
				out[i].Err = err
				return fmt.Errorf("executor: open page for request %d (%s): %w", i, req.WorkflowID, err)
			}
			defer release()

			out[i].Result, out[i].Err = New(page, r.graphs, r.opts...).Run(gctx, req)
			return nil
		})
	}

	err := g.Wait()
	return out, err
}
