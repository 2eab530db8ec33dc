package scheduler

import "sync"

// lifecycleCoordinator encapsulates the Controller shutdown sequence,
// adapted from ygrebnov-workers/lifecycle.go: a wiring helper that doesn't
// own state itself, just orchestrates stopping the dispatch loop, draining
// in-flight task bodies, and tearing down the broker connection in a
// deterministic order. Close is safe for concurrent calls; the sequence
// executes exactly once.
type lifecycleCoordinator struct {
	stop     func()
	inflight *sync.WaitGroup
	teardown func() error

	once sync.Once
	err  error
}

func newLifecycleCoordinator(stop func(), inflight *sync.WaitGroup, teardown func() error) *lifecycleCoordinator {
	return &lifecycleCoordinator{stop: stop, inflight: inflight, teardown: teardown}
}

// Close executes the shutdown sequence exactly once:
// 1) stop the dispatch loop from popping new work
// 2) wait for every in-flight task body to finish
// 3) tear down the broker connection
func (lc *lifecycleCoordinator) Close() error {
	lc.once.Do(func() {
		if lc.stop != nil {
			lc.stop()
		}
		if lc.inflight != nil {
			lc.inflight.Wait()
		}
		if lc.teardown != nil {
			lc.err = lc.teardown()
		}
	})
	return lc.err
}
