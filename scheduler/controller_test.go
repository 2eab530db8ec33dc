package scheduler

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taskmesh-go/taskmesh/broker"
	"github.com/taskmesh-go/taskmesh/future"
	"github.com/taskmesh-go/taskmesh/registry"
)

func startTestBroker(t *testing.T) (taskAddr, metaAddr string) {
	t.Helper()
	b := broker.New()
	ts := httptest.NewServer(b.Mux())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Run(ctx)

	addr := strings.TrimPrefix(ts.URL, "http://")
	return addr, addr
}

func newStartedController(t *testing.T, identity string, origin bool, reg *registry.Registry) *Controller {
	t.Helper()
	taskAddr, metaAddr := startTestBroker(t)

	ctrl := New(WithRegistry(reg))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		ctrl.Shutdown()
		cancel()
	})

	_, err := ctrl.Startup(ctx, taskAddr, metaAddr, identity, origin)
	require.NoError(t, err)
	return ctrl
}

// TestMapSumOfSquares is scenario S1 from spec.md §8: submit square(i) for
// i in 1..10 and confirm the sum of results is 385.
func TestMapSumOfSquares(t *testing.T) {
	reg := registry.New()
	reg.Register("square", func(_ context.Context, args []any, _ map[string]any) (any, error) {
		n := args[0].(float64)
		return n * n, nil
	})

	ctrl := newStartedController(t, "origin", true, reg)
	ctx := context.Background()

	argsList := make([][]any, 10)
	for i := 0; i < 10; i++ {
		argsList[i] = []any{float64(i + 1)}
	}

	futures, err := ctrl.Map(ctx, "square", argsList)
	require.NoError(t, err)

	results, err := ctrl.Wait(ctx, futures, AllCompleted)
	require.NoError(t, err)
	require.Len(t, results, 10)

	var sum float64
	for _, f := range futures {
		res, exc := f.Result()
		require.Nil(t, exc)
		sum += res.(float64)
	}
	require.Equal(t, float64(385), sum)
}

// TestNestedSubmitWithException: a task submits two child tasks, waits on
// each, and returns their combined result; when one child fails, the parent
// task fails too, and the value it returned alongside its error is not kept.
func TestNestedSubmitWithException(t *testing.T) {
	reg := registry.New()
	reg.Register("double", func(_ context.Context, args []any, _ map[string]any) (any, error) {
		return args[0].(float64) * 2, nil
	})
	reg.Register("flaky", func(_ context.Context, args []any, _ map[string]any) (any, error) {
		if args[0].(float64) < 0 {
			return nil, errors.New("negative input")
		}
		return args[0].(float64), nil
	})

	var ctrl *Controller
	reg.Register("nested_sum", func(ctx context.Context, args []any, _ map[string]any) (any, error) {
		a := args[0].(float64)
		b := args[1].(float64)

		doubled, err := ctrl.Submit(ctx, "double", []any{a}, nil)
		if err != nil {
			return nil, err
		}
		flaky, err := ctrl.Submit(ctx, "flaky", []any{b}, nil)
		if err != nil {
			return nil, err
		}

		doubledResult, doubledExc := ctrl.WaitOne(ctx, doubled)
		if doubledExc != nil {
			return nil, doubledExc
		}

		flakyResult, flakyExc := ctrl.WaitOne(ctx, flaky)
		if flakyExc != nil {
			return doubledResult, errors.New(flakyExc.Error())
		}
		return doubledResult.(float64) + flakyResult.(float64), nil
	})

	ctrl = newStartedController(t, "origin", true, reg)
	ctx := context.Background()

	ok, err := ctrl.Submit(ctx, "nested_sum", []any{float64(3), float64(4)}, nil)
	require.NoError(t, err)
	ctrl.WaitOne(ctx, ok)
	result, exc := ok.Result()
	require.Nil(t, exc)
	require.Equal(t, float64(10), result) // 2*3 + 4

	failing, err := ctrl.Submit(ctx, "nested_sum", []any{float64(5), float64(-1)}, nil)
	require.NoError(t, err)
	ctrl.WaitOne(ctx, failing)
	_, exc = failing.Result()
	require.NotNil(t, exc, "a failing child should fail the parent task")
}

// TestAsCompletedDeliversEveryFuture confirms every submitted Future
// eventually appears on the AsCompleted channel, regardless of completion
// order (spec.md §6 AsCompleted).
func TestAsCompletedDeliversEveryFuture(t *testing.T) {
	reg := registry.New()
	reg.Register("identity_fn", func(_ context.Context, args []any, _ map[string]any) (any, error) {
		return args[0], nil
	})

	ctrl := newStartedController(t, "origin", true, reg)
	ctx := context.Background()

	argsList := [][]any{{float64(1)}, {float64(2)}, {float64(3)}}
	futures, err := ctrl.Map(ctx, "identity_fn", argsList)
	require.NoError(t, err)

	seen := make(map[future.ID]bool)
	ch := ctrl.AsCompleted(ctx, futures)
	timeout := time.After(2 * time.Second)
	for i := 0; i < len(futures); i++ {
		select {
		case f := <-ch:
			seen[f.ID] = true
		case <-timeout:
			t.Fatal("timed out waiting for AsCompleted delivery")
		}
	}
	require.Len(t, seen, 3)
}

// TestNestedWaitOnMultipleFuturesHoldsTurnOnce is a regression test for a
// scheduler bug where Wait/AsCompleted, when awaiting several futures from
// inside a running task body, yielded and reacquired this worker's turn
// token once per awaited future instead of once for the whole call. That let
// more than one runTask goroutine hold the turn at the same time, violating
// the single-active-task-body invariant (spec.md §5). It tracks the number
// of callable bodies executing concurrently and asserts it never exceeds 1.
func TestNestedWaitOnMultipleFuturesHoldsTurnOnce(t *testing.T) {
	var active, maxActive int32

	reg := registry.New()
	reg.Register("leaf", func(_ context.Context, _ []any, _ map[string]any) (any, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			m := atomic.LoadInt32(&maxActive)
			if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return "done", nil
	})

	var ctrl *Controller
	reg.Register("fan_out_wait", func(ctx context.Context, _ []any, _ map[string]any) (any, error) {
		children := make([]*future.Future, 4)
		for i := range children {
			f, err := ctrl.Submit(ctx, "leaf", nil, nil)
			if err != nil {
				return nil, err
			}
			children[i] = f
		}
		if _, err := ctrl.Wait(ctx, children, AllCompleted); err != nil {
			return nil, err
		}
		return "done", nil
	})

	ctrl = newStartedController(t, "origin", true, reg)
	ctx := context.Background()

	top, err := ctrl.Submit(ctx, "fan_out_wait", nil, nil)
	require.NoError(t, err)
	ctrl.WaitOne(ctx, top)

	_, exc := top.Result()
	require.Nil(t, exc)
	require.LessOrEqual(t, atomic.LoadInt32(&maxActive), int32(1),
		"at most one task body should run at a time, even when a parent Waits on several children at once")
}

// TestAsCompletedDeliversInCompletionOrder mirrors scenario S3: task i
// finishes in reverse submission order. AsCompleted must surface them in
// that actual completion order rather than submission order (spec.md §6).
// Futures are resolved directly (bypassing Submit/runTask, which would
// serialize them under the single turn token and mask the ordering this
// test checks) to deterministically control completion order.
func TestAsCompletedDeliversInCompletionOrder(t *testing.T) {
	ctrl := New()
	ctx := context.Background()

	const n = 5
	futures := make([]*future.Future, n)
	for i := 0; i < n; i++ {
		id := future.ID{Worker: "origin", Seq: int64(i)}
		f := future.New(id, future.RootParent("origin"), "external", nil, nil)
		f.MarkEnqueued()
		f.MarkRunning(nil)
		futures[i] = f
	}

	ch := ctrl.AsCompleted(ctx, futures)

	// Resolve in reverse submission order, staggered so delivery order can't
	// be an accident of channel scheduling.
	for i := n - 1; i >= 0; i-- {
		i := i
		go func() {
			time.Sleep(time.Duration(n-1-i) * 15 * time.Millisecond)
			_ = futures[i].MarkDone(float64(i))
			ctrl.resolve(futures[i])
		}()
	}

	var order []float64
	timeout := time.After(3 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case f := <-ch:
			res, exc := f.Result()
			require.Nil(t, exc)
			order = append(order, res.(float64))
		case <-timeout:
			t.Fatal("timed out waiting for AsCompleted delivery")
		}
	}

	require.Len(t, order, n)
	for i := 1; i < len(order); i++ {
		require.Less(t, order[i], order[i-1], "AsCompleted must deliver in completion order, not submission order")
	}
}

// TestWaitFirstCompletedReturnsEarly checks Wait with FirstCompleted returns
// as soon as one Future is terminal, without requiring every Future to be.
func TestWaitFirstCompletedReturnsEarly(t *testing.T) {
	reg := registry.New()
	reg.Register("trivial", func(_ context.Context, _ []any, _ map[string]any) (any, error) {
		return "done", nil
	})

	ctrl := newStartedController(t, "origin", true, reg)
	ctx := context.Background()

	a, err := ctrl.Submit(ctx, "trivial", nil, nil)
	require.NoError(t, err)
	b, err := ctrl.Submit(ctx, "trivial", nil, nil)
	require.NoError(t, err)

	results, err := ctrl.Wait(ctx, []*future.Future{a, b}, FirstCompleted)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].ID == a.ID || results[0].ID == b.ID)
}
