package serial

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_RunsInSubmissionOrder(t *testing.T) {
	var exec Executor
	ctx := context.Background()

	const n = 50
	var mu sync.Mutex
	var order []int

	// Submission order must be deterministic, so submit sequentially
	// from one goroutine but let tasks complete asynchronously.
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		i := i
		// Reserve the slot synchronously: Serie acquires its ticket
		// before blocking, so spawning in submission order suffices
		// when we hold each goroutine until the previous one is queued.
		started := make(chan struct{})
		go func() {
			defer wg.Done()
			close(started)
			_ = exec.Serie(ctx, func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		<-started
		// Give the goroutine a moment to take its ticket before the
		// next submission. The executor itself provides the ordering;
		// the sleep only serializes ticket acquisition in this test.
		time.Sleep(time.Millisecond)
	}
	wg.Wait()

	require.Len(t, order, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, i, order[i])
	}
}

func TestExecutor_MutualExclusion(t *testing.T) {
	var exec Executor
	ctx := context.Background()

	var running int32
	var overlapped atomic.Bool

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = exec.Serie(ctx, func(context.Context) error {
				if atomic.AddInt32(&running, 1) > 1 {
					overlapped.Store(true)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.False(t, overlapped.Load(), "tasks must never overlap")
}

func TestExecutor_CancelledContextSkipsTask(t *testing.T) {
	var exec Executor

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := exec.Serie(ctx, func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)

	// The chain must survive a cancelled submission.
	err = exec.Serie(context.Background(), func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestExecutor_PropagatesTaskError(t *testing.T) {
	var exec Executor
	sentinel := errors.New("boom")

	err := exec.Serie(context.Background(), func(context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestRun_ReturnsResult(t *testing.T) {
	var exec Executor

	got, err := Run(&exec, context.Background(), func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}
