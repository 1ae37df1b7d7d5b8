package pipeline

import (
	"context"
	"runtime"
	"sync"
)

// Task is one metric-level unit of stage work.
type Task func(ctx context.Context) error

// Pool runs stage tasks across a bounded set of workers. Run is a join
// barrier: it returns only after every dispatched task finished, so stages
// never overlap.
type Pool struct {
	workers int
}

// NewPool creates a pool. A non-positive worker count falls back to the
// CPU count.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{workers: workers}
}

// Run executes tasks and returns their errors positionally. Tasks observe
// the context themselves; once it is done, queued tasks are not started and
// report the context error instead.
func (p *Pool) Run(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))
	if len(tasks) == 0 {
		return errs
	}

	workers := p.workers
	if workers > len(tasks) {
		workers = len(tasks)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range indexes {
				if err := ctx.Err(); err != nil {
					errs[i] = err
					continue
				}
				errs[i] = tasks[i](ctx)
			}
		}()
	}

	for i := range tasks {
		indexes <- i
	}
	close(indexes)
	wg.Wait()
	return errs
}
