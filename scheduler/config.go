package scheduler

// Config holds Controller configuration, in the same documented-struct shape
// the teacher uses for its own Config (ygrebnov-workers/workers.go).
type Config struct {
	// HighWaterMark bounds the local FutureQueue before it starts
	// overflowing its oldest queued tasks to the broker (spec.md §4.2).
	// Default: 64
	HighWaterMark int

	// ResultsBufferSize is stored on the Controller but not read by it: no
	// channel is sized from it, and AsCompleted buffers its channel to the
	// number of Futures passed in.
	// Default: 1024
	ResultsBufferSize int
}

// defaultConfig centralizes default values for Config, mirroring
// ygrebnov-workers/defaults.go.
func defaultConfig() Config {
	return Config{
		HighWaterMark:     64,
		ResultsBufferSize: 1024,
	}
}
