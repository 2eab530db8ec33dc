package transport

import "errors"

// Namespace prefixes every sentinel error raised by this package.
const Namespace = "transport"

var (
	// ErrMissingFrame is returned when a payload frame is requested at an
	// index the Envelope does not carry. Per spec.md §7 "Transport framing
	// error": logged and discarded by the caller, the loop continues.
	ErrMissingFrame = errors.New(Namespace + ": missing payload frame")

	// ErrClosed is returned by Send/Recv once the connection has been closed.
	ErrClosed = errors.New(Namespace + ": connection closed")

	// ErrUnreachable is returned when a dial to a broker/peer address fails
	// or an established connection drops. Per spec.md §7 "Broker
	// unreachable", the worker treats this as shutdown.
	ErrUnreachable = errors.New(Namespace + ": broker unreachable")
)
