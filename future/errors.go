package future

import "errors"

// Namespace prefixes every sentinel error raised by this package, matching
// the convention the rest of the module uses for error identification.
const Namespace = "future"

var (
	// ErrAlreadyTerminal is returned when a transition is attempted on a
	// Future that already reached a terminal state (done or failed).
	ErrAlreadyTerminal = errors.New(Namespace + ": future already in a terminal state")

	// ErrNotRunning is returned when a transition that requires the running
	// state (e.g. MarkDone) is attempted from Created or Enqueued.
	ErrNotRunning = errors.New(Namespace + ": future is not running")

	// ErrUnknownCallable names the case of a Future whose callable name is
	// not registered on the executing worker. No function in this module
	// returns it: the scheduler fails such a Future with a Failure built
	// from the registry's own lookup error.
	ErrUnknownCallable = errors.New(Namespace + ": callable not registered on this worker")
)
