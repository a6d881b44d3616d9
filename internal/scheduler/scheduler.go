package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of work run by the pool.
type Task func(ctx context.Context) error

// Run executes tasks with at most numWorkers in flight. The first error cancels the
// context handed to the remaining tasks and no further tasks are started after that.
// Run returns only once every started task has returned.
func Run(ctx context.Context, tasks []Task, numWorkers int) error {
	if numWorkers < 1 {
		numWorkers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)
	for _, task := range tasks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return task(gctx)
		})
	}
	return g.Wait()
}
