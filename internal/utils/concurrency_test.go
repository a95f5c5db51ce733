package utils

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWorkerPoolRunsEveryJob(t *testing.T) {
	wp := NewWorkerPool(context.Background(), 4, 8)
	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		require.NoError(t, wp.Submit(context.Background(), func() {
			defer wg.Done()
			ran.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int64(100), ran.Load())

	wp.Shutdown()
	require.NoError(t, wp.Wait(context.Background()))
	assert.ErrorIs(t, wp.Submit(context.Background(), func() {}), ErrPoolClosed)
}

func TestWorkerPoolBackpressureBlocksWithoutDropping(t *testing.T) {
	wp := NewWorkerPool(context.Background(), 1, 2)
	defer wp.ShutdownNow()

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, wp.Submit(context.Background(), func() { close(started); <-release }))
	<-started
	// Fill the queue.
	var ran atomic.Int64
	for i := 0; i < wp.Capacity(); i++ {
		require.NoError(t, wp.Submit(context.Background(), func() { ran.Add(1) }))
	}
	assert.Equal(t, 2, wp.Queued())

	submitted := make(chan error, 1)
	go func() {
		submitted <- wp.Submit(context.Background(), func() { ran.Add(1) })
	}()
	select {
	case <-submitted:
		t.Fatal("submit did not block on a saturated queue")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-submitted:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("submit still blocked after a worker freed a slot")
	}
	require.Eventually(t, func() bool { return ran.Load() == 3 }, 2*time.Second, time.Millisecond)
}

func TestWorkerPoolRunsInlineWhenCallerCancelled(t *testing.T) {
	wp := NewWorkerPool(context.Background(), 1, 1)
	defer wp.ShutdownNow()

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	require.NoError(t, wp.Submit(context.Background(), func() { close(started); <-release }))
	<-started
	require.NoError(t, wp.Submit(context.Background(), func() {}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var inline atomic.Bool
	require.NoError(t, wp.Submit(ctx, func() { inline.Store(true) }))
	assert.True(t, inline.Load(), "job must run on the caller instead of being lost")
}

func TestWorkerPoolPauseResume(t *testing.T) {
	wp := NewWorkerPool(context.Background(), 2, 4)
	defer wp.ShutdownNow()

	wp.Pause()
	assert.True(t, wp.Paused())
	var ran atomic.Int64
	for i := 0; i < 3; i++ {
		require.NoError(t, wp.Submit(context.Background(), func() { ran.Add(1) }))
	}
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(0), ran.Load())

	wp.Resume()
	assert.False(t, wp.Paused())
	require.Eventually(t, func() bool { return ran.Load() == 3 }, 2*time.Second, time.Millisecond)
}

func TestWorkerPoolShutdownNowDiscardsQueue(t *testing.T) {
	wp := NewWorkerPool(context.Background(), 1, 4)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, wp.Submit(context.Background(), func() { close(started); <-release }))
	<-started
	for i := 0; i < 3; i++ {
		require.NoError(t, wp.Submit(context.Background(), func() { t.Error("discarded job ran") }))
	}

	assert.Equal(t, 3, wp.ShutdownNow())
	assert.Equal(t, 0, wp.ShutdownNow(), "second call is a no-op")
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wp.Wait(ctx))
}

func TestWorkerPoolShutdownNowWhilePaused(t *testing.T) {
	wp := NewWorkerPool(context.Background(), 2, 2)
	wp.Pause()
	wp.ShutdownNow()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wp.Wait(ctx))
}

func TestWorkerPoolShutdownNowCountsHeldJob(t *testing.T) {
	wp := NewWorkerPool(context.Background(), 1, 2)
	// Let the worker park on the queue before pausing.
	time.Sleep(20 * time.Millisecond)
	wp.Pause()

	var ran atomic.Bool
	require.NoError(t, wp.Submit(context.Background(), func() { ran.Store(true) }))
	require.Eventually(t, func() bool {
		wp.mu.Lock()
		defer wp.mu.Unlock()
		return wp.held == 1
	}, 2*time.Second, time.Millisecond, "worker should hold the dequeued job while paused")

	assert.Equal(t, 1, wp.ShutdownNow())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wp.Wait(ctx))
	assert.False(t, ran.Load(), "held job must not run after ShutdownNow")
}
