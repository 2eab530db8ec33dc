package future

import (
	"fmt"
	"sync/atomic"
)

// ID is a (worker_identity, sequence_number) pair, unique across the whole
// run. It is assigned once at creation and never mutates afterwards.
type ID struct {
	Worker string `json:"worker"`
	Seq    int64  `json:"seq"`
}

// String renders the ID in "worker#seq" form, used in logs and error text.
func (id ID) String() string {
	return fmt.Sprintf("%s#%d", id.Worker, id.Seq)
}

// IsSentinelRoot reports whether id is the sentinel parent of a root Future,
// i.e. (origin, -1).
func (id ID) IsSentinelRoot() bool {
	return id.Seq == -1
}

// RootParent returns the sentinel parent ID used by the root Future created
// on the given origin worker.
func RootParent(origin string) ID {
	return ID{Worker: origin, Seq: -1}
}

// Sequencer hands out monotonically increasing sequence numbers for a single
// worker identity. One Sequencer exists per worker process; it is the only
// place new IDs are minted, which is what keeps property 1 (unique identity)
// true without coordination across workers.
type Sequencer struct {
	worker string
	next   atomic.Int64
}

// NewSequencer constructs a Sequencer for the given worker identity.
func NewSequencer(worker string) *Sequencer {
	return &Sequencer{worker: worker}
}

// Next mints the next ID owned by this worker.
func (s *Sequencer) Next() ID {
	return ID{Worker: s.worker, Seq: s.next.Add(1) - 1}
}

// Worker returns the worker identity this sequencer mints IDs for.
func (s *Sequencer) Worker() string { return s.worker }
