// Package queue implements the FutureQueue from spec.md §3/§4.2: a hybrid
// queue with a local in-memory double-ended deque of not-yet-executed
// Futures and a remote portion reached through the broker once the local end
// is empty.
package queue

import (
	"container/list"
	"sync"

	"github.com/taskmesh-go/taskmesh/future"
)

// DefaultHighWaterMark is the local-queue depth above which append() starts
// shedding the oldest surplus Futures to the broker (spec.md §4.2).
const DefaultHighWaterMark = 64

// FutureQueue is the per-worker queue binding local execution to the broker.
// Insertion happens at one end (submit); pop tries either end, preferring
// the local deque to remote work (spec.md §4.1 "Tie-breaks").
type FutureQueue struct {
	mu  sync.Mutex
	buf *list.List // back = most recently appended

	highWaterMark int
	client        *Client
}

// New constructs a FutureQueue bound to client, with the given high-water
// mark (0 selects DefaultHighWaterMark).
func New(client *Client, highWaterMark int) *FutureQueue {
	if highWaterMark <= 0 {
		highWaterMark = DefaultHighWaterMark
	}
	return &FutureQueue{
		buf:           list.New(),
		highWaterMark: highWaterMark,
		client:        client,
	}
}

// Append enqueues f locally. If the local count then exceeds the
// high-water mark, the oldest surplus Futures are serialized and sent to
// the broker as TASK messages (overflow policy, spec.md §4.2).
func (q *FutureQueue) Append(f *future.Future) error {
	f.MarkEnqueued()

	q.mu.Lock()
	q.buf.PushBack(f)
	var overflow []*future.Future
	for q.buf.Len() > q.highWaterMark {
		front := q.buf.Front()
		q.buf.Remove(front)
		overflow = append(overflow, front.Value.(*future.Future))
	}
	q.mu.Unlock()

	for _, of := range overflow {
		if err := q.client.SendTask(of); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of Futures currently buffered locally.
func (q *FutureQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.Len()
}

// Pop returns a local Future if any are buffered (LIFO — depth-first,
// minimizing latency to the nearest waiter); otherwise it blocks the calling
// worker on a REQUEST to the broker.
func (q *FutureQueue) Pop() (*future.Future, error) {
	q.mu.Lock()
	if back := q.buf.Back(); back != nil {
		q.buf.Remove(back)
		q.mu.Unlock()
		return back.Value.(*future.Future), nil
	}
	q.mu.Unlock()

	return q.client.Request()
}

// SendResult serializes f and sends it as a REPLY addressed to its
// originating worker.
func (q *FutureQueue) SendResult(f *future.Future) error {
	return q.client.SendResult(f)
}

// Shutdown sends SHUTDOWN to the broker (origin only) and closes the
// underlying sockets.
func (q *FutureQueue) Shutdown() error {
	if q.client.Origin {
		if err := q.client.Shutdown(); err != nil {
			return err
		}
	}
	return q.client.Close()
}
