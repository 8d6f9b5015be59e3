package crawler

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// runWorkers starts n workers and waits for all of them. A worker error or
// panic cancels the shared context; onCancel fires once that context is done
// so workers parked on the session wake up and exit.
func runWorkers(ctx context.Context, n int, onCancel func(), work func(ctx context.Context, id int) error) error {
	if n <= 0 {
		n = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	if onCancel != nil {
		stop := context.AfterFunc(gctx, onCancel)
		defer stop()
	}
	for i := 0; i < n; i++ {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("worker %d panicked: %v", i, r)
				}
			}()
			return work(gctx, i)
		})
	}
	return g.Wait()
}
