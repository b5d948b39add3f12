package bgtask

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

type task = func() error

// WorkerPool fans work out over a bounded set of goroutines. The artifact
// store uses it to delete chunk objects concurrently, uploads may carry up
// to thousands of chunks and deleting them serially is too slow.
type WorkerPool struct {
	Ctx      context.Context
	errGroup *errgroup.Group
}

// NewWorkerPool returns a pool running at most limit tasks at once.
// A limit <= 0 defaults to 4x the CPU count, the work is I/O bound.
func NewWorkerPool(ctx context.Context, limit int) *WorkerPool {
	g, ctx := errgroup.WithContext(ctx)
	if limit <= 0 {
		limit = 4 * runtime.NumCPU()
	}
	g.SetLimit(limit)
	return &WorkerPool{
		Ctx:      ctx,
		errGroup: g,
	}
}

func (wp *WorkerPool) Spawn(t task) {
	wp.errGroup.Go(t)
}

func (wp *WorkerPool) Wait() error {
	return wp.errGroup.Wait()
}
