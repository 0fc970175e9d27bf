package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/wayfinder/pkg/browser"
	"github.com/entrhq/wayfinder/pkg/session"
	"github.com/entrhq/wayfinder/pkg/store"
)

func TestRunAll(t *testing.T) {
	graphs := store.NewGraphStore(t.TempDir())
	seedCheckout(t, graphs)

	var opened, released atomic.Int32
	pages := func(ctx context.Context, name string) (browser.Page, func(), error) {
		opened.Add(1)
		return checkoutPage(), func() { released.Add(1) }, nil
	}

	reqs := []Request{checkoutRequest("done"), checkoutRequest("cart"), checkoutRequest("pay")}
	out, err := NewRunner(pages, graphs, 2, fastTimeouts()).RunAll(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, out, 3)

	for i, o := range out {
		require.NoError(t, o.Err)
		assert.Equal(t, reqs[i].Goal, o.Request.Goal)
		assert.Equal(t, session.OutcomeSuccess, o.Result.Outcome)
		assert.Equal(t, reqs[i].Goal, o.Result.LastNode)
	}
	assert.Equal(t, int32(3), opened.Load())
	assert.Equal(t, int32(3), released.Load())

	g, err := graphs.Load(workflowID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), g.TestedSessions())
}

func TestRunAllReportsRunFailures(t *testing.T) {
	graphs := store.NewGraphStore(t.TempDir())
	seedCheckout(t, graphs)

	pages := func(ctx context.Context, name string) (browser.Page, func(), error) {
		return checkoutPage(), func() {}, nil
	}
	bad := checkoutRequest("done")
	bad.Inputs = nil

	out, err := NewRunner(pages, graphs, 0, fastTimeouts()).RunAll(context.Background(), []Request{bad, checkoutRequest("cart")})
	require.NoError(t, err)
	assert.ErrorIs(t, out[0].Err, ErrMissingInput)
	assert.Nil(t, out[0].Result)
	require.NoError(t, out[1].Err)
	assert.Equal(t, session.OutcomeSuccess, out[1].Result.Outcome)
}

func TestRunAllPageFailureAborts(t *testing.T) {
	graphs := store.NewGraphStore(t.TempDir())
	seedCheckout(t, graphs)

	errLaunch := errors.New("browser did not start")
	pages := func(ctx context.Context, name string) (browser.Page, func(), error) {
		return nil, nil, errLaunch
	}

	out, err := NewRunner(pages, graphs, 1, fastTimeouts()).RunAll(context.Background(), []Request{checkoutRequest("cart"), checkoutRequest("pay")})
	require.Error(t, err)
	assert.ErrorIs(t, err, errLaunch)
	require.Len(t, out, 2)
	assert.ErrorIs(t, out[0].Err, errLaunch)
	assert.Error(t, out[1].Err)
	assert.Nil(t, out[1].Result)
}
