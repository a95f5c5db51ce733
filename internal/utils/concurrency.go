package utils

import (
	"context"
	"errors"
	"sync"
	"time"
)

const drainPollInterval = 10 * time.Millisecond

// ErrPoolClosed is returned by Submit once the pool has been shut down.
var ErrPoolClosed = errors.New("worker pool is closed, cannot submit new jobs")

// Job represents a function to be executed by a worker.
type Job func()

// WorkerPool manages a fixed number of goroutines draining a bounded job queue.
// Submit blocks while the queue is full, so producers are throttled to the
// throughput of the workers and no job is ever dropped on the submit path.
type WorkerPool struct {
	numWorkers int
	jobQueue   chan Job
	ctx        context.Context
	cancel     context.CancelFunc // Signals workers to stop
	shutdownWg sync.WaitGroup     // Waits for all workers to exit

	mu       sync.Mutex // Protects paused, resumed, held and isClosed
	paused   bool
	resumed  chan struct{} // Closed when the pool leaves the paused state
	held     int           // Dequeued jobs parked by a pause
	isClosed bool
}

// NewWorkerPool creates and starts a new WorkerPool. A queueSize below 1 is raised to 1.
func NewWorkerPool(parentCtx context.Context, numWorkers int, queueSize int) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(parentCtx)
	resumed := make(chan struct{})
	close(resumed)
	wp := &WorkerPool{
		numWorkers: numWorkers,
		jobQueue:   make(chan Job, queueSize),
		ctx:        ctx,
		cancel:     cancel,
		resumed:    resumed,
	}

	wp.start()
	return wp
}

func (wp *WorkerPool) start() {
	wp.shutdownWg.Add(wp.numWorkers)
	for i := 0; i < wp.numWorkers; i++ {
		go wp.worker()
	}
}

func (wp *WorkerPool) worker() {
	defer wp.shutdownWg.Done()
	for {
		if !wp.waitWhilePaused() {
			return
		}
		select {
		case job := <-wp.jobQueue:
			if !wp.admit() {
				return
			}
			job()
		case <-wp.ctx.Done():
			return
		}
	}
}

// waitWhilePaused blocks while the pool is paused. It reports false when the
// pool was shut down in the meantime.
func (wp *WorkerPool) waitWhilePaused() bool {
	wp.mu.Lock()
	ch := wp.resumed
	wp.mu.Unlock()
	select {
	case <-ch:
		return wp.ctx.Err() == nil
	case <-wp.ctx.Done():
		return false
	}
}

// admit decides whether a dequeued job may run. The pause may have started
// while this worker was parked on the queue, so the job is held until
// resumed. A held job is dropped, and counted by ShutdownNow, when the pool
// shuts down during the pause.
func (wp *WorkerPool) admit() bool {
	wp.mu.Lock()
	if !wp.paused {
		wp.mu.Unlock()
		return true
	}
	wp.held++
	ch := wp.resumed
	wp.mu.Unlock()

	select {
	case <-ch:
	case <-wp.ctx.Done():
	}

	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.held--
	return !wp.isClosed
}

// Submit adds a job to the queue, blocking while the queue is full.
// If ctx is cancelled while waiting for a free slot, the job runs on the
// calling goroutine instead so it is never lost. Returns ErrPoolClosed
// when the pool is shut down.
func (wp *WorkerPool) Submit(ctx context.Context, job Job) error {
	if job == nil {
		return errors.New("nil job")
	}
	wp.mu.Lock()
	closed := wp.isClosed
	wp.mu.Unlock()
	if closed || wp.ctx.Err() != nil {
		return ErrPoolClosed
	}

	select {
	case wp.jobQueue <- job:
		return nil
	default:
	}

	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return ErrPoolClosed
	case <-ctx.Done():
		job()
		return nil
	}
}

// Pause stops workers from starting new jobs. Running jobs finish normally.
func (wp *WorkerPool) Pause() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.paused || wp.isClosed {
		return
	}
	wp.paused = true
	wp.resumed = make(chan struct{})
}

// Resume lets workers dequeue again and wakes every worker waiting on the pause.
func (wp *WorkerPool) Resume() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if !wp.paused {
		return
	}
	wp.paused = false
	close(wp.resumed)
}

// Paused reports whether the pool is currently paused.
func (wp *WorkerPool) Paused() bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.paused
}

// Queued returns the number of jobs waiting in the queue.
func (wp *WorkerPool) Queued() int { return len(wp.jobQueue) }

// Capacity returns the size of the bounded queue.
func (wp *WorkerPool) Capacity() int { return cap(wp.jobQueue) }

// Workers returns the fixed number of workers.
func (wp *WorkerPool) Workers() int { return wp.numWorkers }

// ShutdownNow stops the pool without draining the queue. Workers exit after
// their current job. It returns the number of jobs that were discarded,
// counting the queue and any job a worker was holding across a pause.
func (wp *WorkerPool) ShutdownNow() int {
	wp.mu.Lock()
	if wp.isClosed {
		wp.mu.Unlock()
		return 0
	}
	wp.isClosed = true
	dropped := wp.held
	if wp.paused {
		wp.paused = false
		close(wp.resumed)
	}
	wp.mu.Unlock()

	wp.cancel()

	for {
		select {
		case <-wp.jobQueue:
			dropped++
		default:
			return dropped
		}
	}
}

// Shutdown drains the queue gracefully: already queued jobs still run, then the workers exit.
// Submit is refused from the moment Shutdown is called.
func (wp *WorkerPool) Shutdown() {
	wp.mu.Lock()
	if wp.isClosed {
		wp.mu.Unlock()
		return
	}
	wp.isClosed = true
	if wp.paused {
		wp.paused = false
		close(wp.resumed)
	}
	wp.mu.Unlock()

	go func() {
		ticker := time.NewTicker(drainPollInterval)
		defer ticker.Stop()
		for len(wp.jobQueue) > 0 {
			select {
			case <-ticker.C:
			case <-wp.ctx.Done():
				return
			}
		}
		wp.cancel()
	}()
}

// Wait blocks until every worker has exited or ctx is done.
func (wp *WorkerPool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		wp.shutdownWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
