package broker

import "errors"

// Namespace prefixes every sentinel error raised by this package.
const Namespace = "broker"

var (
	// ErrUnknownMessage is logged and discarded for a message type the
	// broker does not recognize (spec.md §7 "Transport framing error").
	ErrUnknownMessage = errors.New(Namespace + ": unrecognized message type")

	// ErrMalformed is logged and discarded for a message whose payload
	// frames do not decode as expected.
	ErrMalformed = errors.New(Namespace + ": malformed message")
)
