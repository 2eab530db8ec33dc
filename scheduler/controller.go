// Package scheduler implements the Worker Controller from spec.md §4.1: the
// cooperative scheduler that runs one task body at a time on a worker,
// switching to another queued task whenever the current one blocks waiting
// on a child Future, and the user-facing Submit/Map/Wait/AsCompleted API
// surface from spec.md §6.
//
// The original runs task bodies as greenlets cooperatively scheduled inside
// one OS thread. Go has no greenlets, so this module keeps the single
// "exactly one task body executing Go code at a time" invariant with a
// goroutine per task body plus a capacity-1 "turn" token: a body holds the
// token while it runs, and gives it up for the duration of any blocking
// WaitOne call (Design Notes "channel-based task-state-machine").
package scheduler

import (
	"context"
	"sync"

	"github.com/taskmesh-go/taskmesh/future"
	"github.com/taskmesh-go/taskmesh/logging"
	"github.com/taskmesh-go/taskmesh/metrics"
	"github.com/taskmesh-go/taskmesh/queue"
	"github.com/taskmesh-go/taskmesh/registry"
	"github.com/taskmesh-go/taskmesh/transport"
)

// Controller is the worker-local scheduler: one FutureQueue, one callable
// registry, one turn token, and the bookkeeping needed to wake a task body
// parked in WaitOne once the child it is waiting on completes.
type Controller struct {
	cfg      Config
	registry *registry.Registry
	metrics  metrics.Provider
	log      *logging.Logger

	identity string
	seq      *future.Sequencer
	client   *queue.Client
	q        *queue.FutureQueue

	turn chan struct{}

	mu                   sync.Mutex
	runningContinuations map[future.ID]*taskContinuation
	topWaiters           map[future.ID]chan *future.Future
	sharedVars           map[string]any   // key -> last VARIABLE value observed on the info socket
	groupPartials        map[string][]any // groupID -> partials buffered since last TASKEND

	inflight sync.WaitGroup
	done     chan struct{}
	lc       *lifecycleCoordinator
}

// New constructs a Controller. Call Startup to connect it to a broker and
// begin running.
func New(opts ...Option) *Controller {
	c := &Controller{
		cfg:                  defaultConfig(),
		registry:             registry.Default,
		metrics:              metrics.NewNoopProvider(),
		log:                  logging.Default().Named("scheduler"),
		runningContinuations: make(map[future.ID]*taskContinuation),
		topWaiters:           make(map[future.ID]chan *future.Future),
		sharedVars:           make(map[string]any),
		groupPartials:        make(map[string][]any),
		done:                 make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Startup connects to the broker at taskAddr/metaAddr under identity,
// performs the INIT handshake, and launches the controller's three
// goroutines: the dispatch loop, the remote-reply drain, and the info/PUB
// event drain.
func (c *Controller) Startup(ctx context.Context, taskAddr, metaAddr, identity string, origin bool) (queue.InitReply, error) {
	if c.client != nil {
		return queue.InitReply{}, ErrAlreadyStarted
	}

	client, init, err := queue.Connect(taskAddr, metaAddr, identity, origin)
	if err != nil {
		return queue.InitReply{}, err
	}

	c.identity = identity
	c.seq = future.NewSequencer(identity)
	c.client = client
	c.q = queue.New(client, c.cfg.HighWaterMark)
	c.turn = make(chan struct{}, 1)
	c.turn <- struct{}{}
	c.lc = newLifecycleCoordinator(
		func() { close(c.done) },
		&c.inflight,
		c.q.Shutdown,
	)

	go c.replyLoop()
	go c.eventLoop()
	go c.runLoop(ctx)

	return init, nil
}

// Submit enqueues callable(args, kwargs) as a new Future and returns it
// immediately in the Enqueued state (spec.md §6 Submit). ctx, when it
// carries a running task's continuation, attributes the new Future as a
// child of that task (spec.md §3 ParentID), making it eligible for WaitOne.
func (c *Controller) Submit(ctx context.Context, callable string, args []any, kwargs map[string]any) (*future.Future, error) {
	if c.seq == nil {
		return nil, ErrNotStarted
	}
	select {
	case <-c.done:
		return nil, ErrShutdown
	default:
	}
	parentID := future.RootParent(c.identity)
	if tc, ok := continuationFromContext(ctx); ok {
		parentID = tc.parent.ID
	}

	f := future.New(c.seq.Next(), parentID, callable, args, kwargs)
	if err := c.q.Append(f); err != nil {
		return nil, err
	}
	return f, nil
}

// WaitOne blocks until f reaches a terminal state and returns its outcome.
// Called from inside a running task body (ctx carries its continuation), it
// releases this worker's turn token for the duration of the wait so another
// queued task can run — the cooperative context switch at the heart of
// spec.md §4.1.
func (c *Controller) WaitOne(ctx context.Context, f *future.Future) (any, *future.Failure) {
	tc, hasTc := continuationFromContext(ctx)
	ch, pending := c.registerWaiter(tc, hasTc, f)
	if !pending {
		return f.Result()
	}

	if hasTc {
		c.turn <- struct{}{} // yield: let another queued task run while we wait
	}
	// The delivered Future carries the outcome; for a remotely executed f it
	// is a copy rebuilt from the REPLY, and f itself is never marked terminal.
	resolved := <-ch
	if hasTc {
		<-c.turn // reacquire before resuming this task body
	}
	return resolved.Result()
}

// registerWaiter records interest in f's completion, either on the running
// task body's continuation (tc.pending, woken directly by resume) or, for a
// top-level caller with no continuation in ctx, on c.topWaiters. It reports
// pending=false if f was already terminal, in which case no channel is
// registered and the caller should read f.Result() directly.
func (c *Controller) registerWaiter(tc *taskContinuation, hasTc bool, f *future.Future) (ch chan *future.Future, pending bool) {
	ch = make(chan *future.Future, 1)

	if hasTc {
		tc.mu.Lock()
		defer tc.mu.Unlock()
		if f.IsTerminal() {
			return nil, false
		}
		if tc.pending == nil {
			tc.pending = make(map[future.ID]chan *future.Future)
		}
		tc.pending[f.ID] = ch
		return ch, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if f.IsTerminal() {
		return nil, false
	}
	c.topWaiters[f.ID] = ch
	return ch, true
}

// awaitSet registers interest in every future in futures at once and yields
// this worker's turn token exactly once for the whole call, instead of once
// per awaited future — spawning one WaitOne goroutine per future would
// otherwise let as many of them independently yield/reacquire the shared
// turn token, letting more than one runTask goroutine hold it concurrently
// and breaking the single-active-task-body invariant (spec.md §5). It
// returns a channel delivering each future in actual completion order,
// buffered so every result can be sent without blocking, and a release func
// the caller must call exactly once when done consuming — whether or not
// every future has arrived yet — to reacquire the turn.
func (c *Controller) awaitSet(ctx context.Context, futures []*future.Future) (<-chan *future.Future, func()) {
	results := make(chan *future.Future, len(futures))
	tc, hasTc := continuationFromContext(ctx)

	anyPending := false
	for _, f := range futures {
		f := f
		ch, pending := c.registerWaiter(tc, hasTc, f)
		if !pending {
			results <- f
			continue
		}
		anyPending = true
		go func() { results <- <-ch }()
	}

	yielded := hasTc && anyPending
	if yielded {
		c.turn <- struct{}{} // yield once for the whole wait
	}

	release := func() {
		if yielded {
			<-c.turn // reacquire once, whether or not every future arrived
		}
	}
	return results, release
}

// Shutdown stops accepting new local work, waits for in-flight task bodies
// to finish, and tears down the broker connection. Safe to call more than
// once; the sequence runs exactly once.
func (c *Controller) Shutdown() error {
	if c.lc == nil {
		return ErrNotStarted
	}
	return c.lc.Close()
}

func (c *Controller) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		f, err := c.q.Pop()
		if err != nil {
			c.log.Warnw("stopping dispatch loop: pop failed", "err", err)
			return
		}

		c.inflight.Add(1)
		go c.runTask(ctx, f)
	}
}

// runTask executes one Future's callable body under the turn token,
// resolving it and waking whatever is waiting on it when it finishes.
func (c *Controller) runTask(ctx context.Context, f *future.Future) {
	defer c.inflight.Done()

	<-c.turn

	fn, resolveErr := c.registry.Resolve(f.Callable)
	if resolveErr != nil {
		f.MarkRunning(c.newContinuation(f))
		_ = f.MarkFailed(future.NewFailure(f.Callable, resolveErr))
		c.turn <- struct{}{}
		c.finish(f)
		return
	}

	tc := c.newContinuation(f)
	f.MarkRunning(tc)
	c.mu.Lock()
	c.runningContinuations[f.ID] = tc
	c.mu.Unlock()

	taskCtx := withContinuation(ctx, tc)
	result, execErr := fn(taskCtx, f.Args, f.Kwargs)

	c.mu.Lock()
	delete(c.runningContinuations, f.ID)
	c.mu.Unlock()

	if execErr != nil {
		_ = f.MarkFailed(future.NewFailure(f.Callable, execErr))
	} else {
		_ = f.MarkDone(result)
	}

	c.turn <- struct{}{}
	c.finish(f)
}

// finish wakes whatever is waiting on f (a parent task body's WaitOne, or a
// top-level caller's Wait/AsCompleted), and ships the result back to f's
// originating worker over the wire when that worker isn't this one.
func (c *Controller) finish(f *future.Future) {
	c.resolve(f)
	if f.ID.Worker != c.identity {
		if err := c.q.SendResult(f); err != nil {
			c.log.Warnw("failed to send result upstream", "future", f.ID.String(), "err", err)
		}
	}
}

// resolve implements the handoff future.Continuation documents: if f's
// parent task body is currently running on this worker and parked in
// WaitOne for f, hand it back directly; otherwise fall back to a top-level
// waiter (a Wait/AsCompleted call not nested inside any running task).
func (c *Controller) resolve(f *future.Future) {
	c.mu.Lock()
	parentCont, ok := c.runningContinuations[f.ParentID]
	c.mu.Unlock()

	if ok && parentCont.resume(f) {
		return
	}

	c.mu.Lock()
	ch, ok := c.topWaiters[f.ID]
	if ok {
		delete(c.topWaiters, f.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- f
	}
}

// replyLoop drains REPLY envelopes for futures this worker dispatched
// remotely and resolves them locally once they come back.
func (c *Controller) replyLoop() {
	for env := range c.client.Replies {
		var w future.Wire
		if err := env.Decode(0, &w); err != nil {
			c.log.Warnw("malformed REPLY payload", "err", err)
			continue
		}
		c.resolve(future.FromWire(w))
	}
}

// eventLoop drains the info/PUB channel (VARIABLE/TASKEND/SHUTDOWN
// broadcasts), keeping this worker's view of shared_variables and buffered
// group partials (spec.md §4.2/§4.4) up to date so Variable/GroupPartials
// can serve it back to user code.
func (c *Controller) eventLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}
		env, err := c.client.Events()
		if err != nil {
			return
		}
		switch env.Type {
		case transport.TypeVariable:
			c.observeVariable(env)
		case transport.TypeTaskEnd:
			c.observeTaskEnd(env)
		}
	}
}

// variablePayload mirrors the wire shape broker/sharedvar.go fans VARIABLE
// broadcasts out as (queue.Client carries the identical shape on the send
// side; duplicated here rather than imported since broker, queue, and
// scheduler are independent layers).
type variablePayload struct {
	Key     string `json:"key"`
	Value   any    `json:"value"`
	Owner   string `json:"owner"`
	GroupID string `json:"group_id,omitempty"`
}

// taskEndPayload mirrors the wire shape broker/sharedvar.go fans TASKEND
// broadcasts out as.
type taskEndPayload struct {
	GroupID     string `json:"group_id"`
	FinalResult any    `json:"final_result"`
}

func (c *Controller) observeVariable(env transport.Envelope) {
	var p variablePayload
	if err := env.Decode(0, &p); err != nil {
		c.log.Warnw("malformed VARIABLE broadcast", "err", err)
		return
	}
	c.mu.Lock()
	c.sharedVars[p.Key] = p.Value
	if p.GroupID != "" {
		c.groupPartials[p.GroupID] = append(c.groupPartials[p.GroupID], p.Value)
	}
	c.mu.Unlock()
}

func (c *Controller) observeTaskEnd(env transport.Envelope) {
	var p taskEndPayload
	if err := env.Decode(0, &p); err != nil {
		c.log.Warnw("malformed TASKEND broadcast", "err", err)
		return
	}
	c.mu.Lock()
	delete(c.groupPartials, p.GroupID)
	c.mu.Unlock()
}

// Variable returns the most recently observed value published under key via
// PublishVariable/PublishGroupVariable on any worker, and whether one has
// been observed yet (spec.md §3 shared_variables, scenario S6).
func (c *Controller) Variable(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.sharedVars[key]
	return v, ok
}

// GroupPartials returns a snapshot of the partial values buffered so far for
// groupID (spec.md §4.4): every VARIABLE broadcast tagged with that group
// since it was last fenced by a TASKEND. The buffer is cleared automatically
// once this worker observes TASKEND for groupID.
func (c *Controller) GroupPartials(groupID string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	partials := c.groupPartials[groupID]
	out := make([]any, len(partials))
	copy(out, partials)
	return out
}
