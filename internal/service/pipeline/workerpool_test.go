package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsEveryTask(t *testing.T) {
	p := NewPool(4)
	var done atomic.Int32

	tasks := make([]Task, 20)
	for i := range tasks {
		tasks[i] = func(context.Context) error {
			done.Add(1)
			return nil
		}
	}
	errs := p.Run(context.Background(), tasks)

	assert.Equal(t, int32(20), done.Load())
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(3)
	var current, peak atomic.Int32

	tasks := make([]Task, 12)
	for i := range tasks {
		tasks[i] = func(context.Context) error {
			n := current.Add(1)
			for {
				observed := peak.Load()
				if n <= observed || peak.CompareAndSwap(observed, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			return nil
		}
	}
	p.Run(context.Background(), tasks)

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Greater(t, peak.Load(), int32(0))
}

func TestPoolReportsErrorsPositionally(t *testing.T) {
	p := NewPool(2)
	boom := fmt.Errorf("boom")

	tasks := []Task{
		func(context.Context) error { return nil },
		func(context.Context) error { return boom },
		func(context.Context) error { return nil },
	}
	errs := p.Run(context.Background(), tasks)

	require.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], boom)
	assert.NoError(t, errs[2])
}

func TestPoolSkipsTasksAfterCancellation(t *testing.T) {
	p := NewPool(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ran atomic.Int32
	var once sync.Once
	tasks := make([]Task, 10)
	for i := range tasks {
		tasks[i] = func(context.Context) error {
			ran.Add(1)
			once.Do(cancel)
			return nil
		}
	}
	errs := p.Run(ctx, tasks)

	// The first task cancels the context; with one worker every later task
	// is skipped with the context error.
	assert.Equal(t, int32(1), ran.Load())
	cancelledCount := 0
	for _, err := range errs {
		if err == context.Canceled {
			cancelledCount++
		}
	}
	assert.Equal(t, 9, cancelledCount)
}

func TestPoolEmptyTaskList(t *testing.T) {
	p := NewPool(4)
	assert.Empty(t, p.Run(context.Background(), nil))
}
