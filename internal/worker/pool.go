package worker

import (
	"context"
	"errors"
	"sync"
)

// Pool runs several workers of one region in a single process.
type Pool struct {
	workers []*Worker
}

// NewPool creates a Pool.
func NewPool(workers []*Worker) *Pool {
	return &Pool{workers: workers}
}

// Run starts all workers and blocks until every one has returned.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(wk *Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	return len(p.workers)
}

// PollOnce runs a single pass of every worker in turn and returns the total
// number of entries handled.
func (p *Pool) PollOnce(ctx context.Context) (int, error) {
	var (
		total int
		errs  []error
	)
	for _, w := range p.workers {
		n, err := w.PollOnce(ctx)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}
