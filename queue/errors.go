package queue

import "errors"

// Namespace prefixes every sentinel error raised by this package.
const Namespace = "queue"

var (
	// ErrUnreachable is returned by pop/send_result when the broker
	// connection is gone. Per spec.md §7, the worker treats this as
	// shutdown.
	ErrUnreachable = errors.New(Namespace + ": broker unreachable")

	// ErrShutdown names a SHUTDOWN notification observed on the info
	// channel. No function in this package returns it: Pop does not watch
	// the info channel, and a lost broker connection surfaces from Pop as
	// ErrUnreachable.
	ErrShutdown = errors.New(Namespace + ": shutdown received")
)
