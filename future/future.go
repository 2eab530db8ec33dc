// Package future implements the Future object model shared by the worker
// controller and the broker: identity, parent/child linkage, state,
// callbacks, result/exception storage and timing metadata. See spec.md §3.
package future

import (
	"sync"
	"time"
)

// State is one point in a Future's monotonic lifecycle. Once a Future
// reaches Done or Failed it never mutates again.
type State int

const (
	Created State = iota
	Enqueued
	Running
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Enqueued:
		return "enqueued"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Failure reifies a user callable's error so it can travel across workers
// and be re-raised with type+message fidelity (spec.md §7, §8 property 5).
type Failure struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	return f.Type + ": " + f.Message
}

// NewFailure captures err into a Failure. typeName should identify the
// origin of the error (e.g. the registered callable name) for diagnostics;
// it is not used for equality.
func NewFailure(typeName string, err error) *Failure {
	if err == nil {
		return nil
	}
	return &Failure{Type: typeName, Message: err.Error()}
}

// Callback is run synchronously, exactly once, on the worker owning
// Future.ID.Worker after the result (or exception) is assigned. A panicking
// or error-returning callback is swallowed — callbacks are non-essential
// observers (spec.md §4.1).
type Callback func(*Future)

// Continuation is the opaque, worker-local handle to a suspended execution
// context. It is never transmitted across workers and is non-nil only while
// the owning Future is Running on its executing worker.
type Continuation interface {
	// Resume hands the completed child back to the parked task body and lets
	// it continue running until it either returns or suspends again.
	Resume(child *Future)
}

// Future represents one task: its payload, its place in the parent/child
// tree, and its terminal outcome once available.
type Future struct {
	mu sync.Mutex

	ID       ID
	ParentID ID

	Callable string // name resolved through the registry package
	Args     []any
	Kwargs   map[string]any

	state State

	result    any
	exception *Failure

	continuation Continuation

	// Index is this Future's position in its parent's pending-children
	// list, or nil when the parent is not currently waiting on it.
	Index *int

	callbacks []Callback

	CreationTime  time.Time
	WaitStart     time.Time
	WaitTime      time.Duration
	ExecStart     time.Time
	ExecutionTime time.Duration
}

// New creates a Future in the Created state. The caller (Controller.Submit,
// normally) is responsible for assigning ID via a Sequencer bound to the
// local worker.
func New(id, parentID ID, callable string, args []any, kwargs map[string]any) *Future {
	return &Future{
		ID:           id,
		ParentID:     parentID,
		Callable:     callable,
		Args:         args,
		Kwargs:       kwargs,
		state:        Created,
		CreationTime: time.Now(),
	}
}

// State returns the current lifecycle state.
func (f *Future) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// MarkEnqueued transitions Created -> Enqueued.
func (f *Future) MarkEnqueued() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Created {
		f.state = Enqueued
		f.WaitStart = time.Now()
	}
}

// MarkRunning transitions (Created|Enqueued) -> Running and records the
// continuation handle for the duration of execution on this worker. It does
// nothing on a Future that is already Done or Failed.
func (f *Future) MarkRunning(c Continuation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.IsTerminalLocked() {
		return
	}
	if !f.WaitStart.IsZero() {
		f.WaitTime += time.Since(f.WaitStart)
	}
	f.state = Running
	f.continuation = c
	f.ExecStart = time.Now()
}

// Continuation returns the worker-local suspended handle, or nil if this
// Future is not currently Running on this worker.
func (f *Future) Continuation() Continuation {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Running {
		return nil
	}
	return f.continuation
}

// MarkDone transitions Running -> Done, stores result, clears the
// continuation, and runs callbacks. Returns ErrAlreadyTerminal if f is
// already Done or Failed, and ErrNotRunning if called from Created or
// Enqueued.
func (f *Future) MarkDone(result any) error {
	if err := f.finish(func() {
		f.state = Done
		f.result = result
	}); err != nil {
		return err
	}
	f.runCallbacks()
	return nil
}

// MarkFailed transitions Running -> Failed, stores the exception, clears the
// continuation, and runs callbacks.
func (f *Future) MarkFailed(exc *Failure) error {
	if err := f.finish(func() {
		f.state = Failed
		f.exception = exc
	}); err != nil {
		return err
	}
	f.runCallbacks()
	return nil
}

func (f *Future) finish(apply func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.IsTerminalLocked() {
		return ErrAlreadyTerminal
	}
	if f.state != Running {
		return ErrNotRunning
	}
	f.ExecutionTime = time.Since(f.ExecStart)
	f.continuation = nil
	apply()
	return nil
}

// IsTerminal reports whether the Future is Done or Failed.
func (f *Future) IsTerminal() bool {
	s := f.State()
	return s == Done || s == Failed
}

// Result returns the stored result and exception. Exactly one of the two is
// non-nil/non-empty once IsTerminal() is true.
func (f *Future) Result() (any, *Failure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.exception
}

// AddCallback registers a side-effecting function to run once this Future
// reaches a terminal state on its owning worker. If the Future is already
// terminal, the callback runs immediately (still exactly once).
func (f *Future) AddCallback(cb Callback) {
	f.mu.Lock()
	terminal := f.IsTerminalLocked()
	if !terminal {
		f.callbacks = append(f.callbacks, cb)
	}
	f.mu.Unlock()
	if terminal {
		f.safeRun(cb)
	}
}

// IsTerminalLocked is IsTerminal without acquiring the mutex; callers must
// already hold f.mu.
func (f *Future) IsTerminalLocked() bool {
	return f.state == Done || f.state == Failed
}

func (f *Future) runCallbacks() {
	f.mu.Lock()
	cbs := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()
	for _, cb := range cbs {
		f.safeRun(cb)
	}
}

func (f *Future) safeRun(cb Callback) {
	defer func() {
		// Callback exceptions are swallowed by design (spec.md §4.1, §7):
		// callbacks are non-essential observers.
		_ = recover()
	}()
	cb(f)
}

// SetIndex records this Future's position in its parent's pending-children
// list. Pass nil to mark that the parent is not currently waiting on it.
func (f *Future) SetIndex(idx *int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Index = idx
}

// WaitIndex returns the current parent wait-index, and whether one is set.
func (f *Future) WaitIndex() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Index == nil {
		return 0, false
	}
	return *f.Index, true
}

// Stats returns the timing metadata accumulated so far (creation, wait,
// execution). It is safe to call at any point in the lifecycle.
type Stats struct {
	CreationTime  time.Time
	WaitTime      time.Duration
	ExecutionTime time.Duration
}

func (f *Future) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		CreationTime:  f.CreationTime,
		WaitTime:      f.WaitTime,
		ExecutionTime: f.ExecutionTime,
	}
}
