package scheduler

import "errors"

// Namespace prefixes every sentinel error raised by this package.
const Namespace = "scheduler"

var (
	// ErrNotStarted is returned by Submit/Shutdown when called before
	// Startup.
	ErrNotStarted = errors.New(Namespace + ": controller not started")

	// ErrAlreadyStarted is returned by Startup when called more than once.
	ErrAlreadyStarted = errors.New(Namespace + ": controller already started")

	// ErrShutdown is returned by Submit once the controller has begun
	// shutting down; no new work is accepted past that point.
	ErrShutdown = errors.New(Namespace + ": controller is shutting down")
)
