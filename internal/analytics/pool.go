package analytics

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// task is one independent read of a stats request. Each task writes only
// to its own result slot, so the merge order never depends on scheduling.
type task struct {
	step string
	run  func(ctx context.Context) error
}

// runTasks executes tasks with at most s.workers in flight. The first
// error cancels the rest and is returned.
func (s *Service) runTasks(ctx context.Context, tasks []task) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, t := range tasks {
		g.Go(func() error {
			start := time.Now()
			err := t.run(ctx)
			s.timer.Observe(t.step, time.Since(start))
			return err
		})
	}
	return g.Wait()
}
