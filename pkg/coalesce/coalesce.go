// Package coalesce provides the two concurrency primitives the fetch path
// needs: request coalescing (at-most-one in-flight fetch per key) and a
// bounded, order-preserving, fail-fast fan-out.
package coalesce

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Coalescer de-duplicates concurrent fetches sharing a key. All callers
// observe the identical outcome of the single underlying call; a caller
// whose own context is cancelled does not cancel the shared fetch for other
// waiters — singleflight.Group already detaches the call from any one
// caller's context, which is exactly §5's "coalesced futures detach from
// individual callers".
type Coalescer struct {
	group singleflight.Group
}

// New constructs a Coalescer.
func New() *Coalescer {
	return &Coalescer{}
}

// Do runs fn for the first caller under key and returns its result to every
// concurrent caller sharing that key. fn itself receives no context — the
// fetch function closes over whatever context it needs, typically its own
// background context, since it must outlive any individual caller.
func (c *Coalescer) Do(key string, fn func() (interface{}, error)) (interface{}, error) {
	v, err, _ := c.group.Do(key, fn)
	return v, err
}

// Task is one unit of work submitted to ExecuteConcurrent.
type Task func(ctx context.Context) (interface{}, error)

// ExecuteConcurrent runs tasks with at most maxConcurrency in flight at
// once, preserving tasks' order in the returned slice. The first task error
// cancels ctx for the remaining tasks: in-flight tasks are left to finish
// (their results are discarded), and not-yet-started tasks never start —
// open question 5's fail-fast resolution, implemented directly by
// errgroup.WithContext's cancellation propagation.
func ExecuteConcurrent(ctx context.Context, tasks []Task, maxConcurrency int) ([]interface{}, error) {
	results := make([]interface{}, len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if maxConcurrency > 0 {
		g.SetLimit(maxConcurrency)
	}

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			result, err := task(gctx)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
