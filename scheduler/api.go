package scheduler

import (
	"context"

	"github.com/taskmesh-go/taskmesh/future"
)

// WaitMode selects when Wait returns, mirroring spec.md §6 Wait modes.
type WaitMode int

const (
	// FirstCompleted returns as soon as any one Future reaches a terminal
	// state, successful or not.
	FirstCompleted WaitMode = iota
	// FirstException returns as soon as any one Future fails, or once every
	// Future has completed successfully.
	FirstException
	// AllCompleted returns only once every Future has reached a terminal
	// state.
	AllCompleted
)

// Map submits callable(args[i]) for every element of argsList and returns
// their Futures in submission order (spec.md §6 Map — ordering is
// preserved in the returned slice even though completion order is not).
func (c *Controller) Map(ctx context.Context, callable string, argsList [][]any) ([]*future.Future, error) {
	futures := make([]*future.Future, len(argsList))
	for i, args := range argsList {
		f, err := c.Submit(ctx, callable, args, nil)
		if err != nil {
			return nil, err
		}
		futures[i] = f
	}
	return futures, nil
}

// AsCompleted streams futures on the returned channel as each one reaches a
// terminal state, in actual completion order rather than submission order
// (spec.md §6 AsCompleted). The channel is closed once every Future has been
// delivered.
func (c *Controller) AsCompleted(ctx context.Context, futures []*future.Future) <-chan *future.Future {
	out := make(chan *future.Future, len(futures))
	if len(futures) == 0 {
		close(out)
		return out
	}

	results, release := c.awaitSet(ctx, futures)
	go func() {
		defer close(out)
		defer release()
		for i := 0; i < len(futures); i++ {
			out <- <-results
		}
	}()
	return out
}

// Wait blocks according to mode over futures and returns the subset that
// satisfied it (spec.md §6 Wait). For FirstCompleted and FirstException it
// returns as soon as one Future qualifies, leaving the rest still pending;
// for AllCompleted it returns only once every Future is terminal.
func (c *Controller) Wait(ctx context.Context, futures []*future.Future, mode WaitMode) ([]*future.Future, error) {
	if len(futures) == 0 {
		return nil, nil
	}

	results, release := c.awaitSet(ctx, futures)
	defer release()

	var satisfied []*future.Future
	for i := 0; i < len(futures); i++ {
		f := <-results
		satisfied = append(satisfied, f)

		switch mode {
		case FirstCompleted:
			return satisfied, nil
		case FirstException:
			if _, exc := f.Result(); exc != nil {
				return satisfied, nil
			}
		case AllCompleted:
			// keep accumulating until every Future has reported in
		}
	}
	return satisfied, nil
}
