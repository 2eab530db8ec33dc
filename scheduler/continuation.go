package scheduler

import (
	"context"
	"sync"

	"github.com/taskmesh-go/taskmesh/future"
)

// taskContinuation is the worker-local handle future.Future.MarkRunning
// expects while a task body is executing on this worker. Task bodies here
// are plain Go goroutines, not coroutines, so "resuming" a parked body means
// delivering the finished child on the channel its WaitOne call registered —
// pending tracks one such channel per child currently being awaited.
type taskContinuation struct {
	c      *Controller
	parent *future.Future

	mu      sync.Mutex
	pending map[future.ID]chan *future.Future
}

func (c *Controller) newContinuation(f *future.Future) *taskContinuation {
	return &taskContinuation{c: c, parent: f}
}

// Resume implements future.Continuation: it hands the completed child back
// to whichever WaitOne call on this task body is parked reading for it.
func (tc *taskContinuation) Resume(child *future.Future) {
	tc.resume(child)
}

// resume reports whether a pending WaitOne for child was actually found and
// signaled, so Controller.resolve knows whether to fall back to a top-level
// waiter instead.
func (tc *taskContinuation) resume(child *future.Future) bool {
	tc.mu.Lock()
	ch, ok := tc.pending[child.ID]
	if ok {
		delete(tc.pending, child.ID)
	}
	tc.mu.Unlock()
	if ok {
		ch <- child
	}
	return ok
}

type continuationCtxKey struct{}

func withContinuation(ctx context.Context, tc *taskContinuation) context.Context {
	return context.WithValue(ctx, continuationCtxKey{}, tc)
}

func continuationFromContext(ctx context.Context) (*taskContinuation, bool) {
	tc, ok := ctx.Value(continuationCtxKey{}).(*taskContinuation)
	return tc, ok
}
