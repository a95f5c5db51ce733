package core

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/rafabd1/Wildfuzz/internal/config"
	"github.com/rafabd1/Wildfuzz/internal/networking"
	"github.com/rafabd1/Wildfuzz/internal/template"
	"github.com/rafabd1/Wildfuzz/internal/utils"
	"github.com/rafabd1/Wildfuzz/internal/wildcard"
)

const (
	defaultMonitorInterval = 500 * time.Millisecond
	defaultShutdownTimeout = time.Second
	idlePollInterval       = 10 * time.Millisecond
	tracerName             = "github.com/rafabd1/Wildfuzz/internal/core"
)

var (
	ErrNotRunning  = errors.New("engine is not running")
	ErrNoClient    = errors.New("no network client configured")
	ErrNoProducer  = errors.New("no producer configured")
	ErrShutdown    = errors.New("engine has been shut down")
	ErrNoTemplate  = errors.New("no base request template configured")
	ErrInvalidStep = errors.New("invalid state transition")
	ErrPrepare     = errors.New("failed to prepare request")
)

// NetworkClient is the collaborator that actually transmits requests.
// A returned error is treated as transient and may be retried.
type NetworkClient interface {
	Send(ctx context.Context, target networking.Target, req *networking.Request) (*networking.Exchange, error)
	Close() error
}

// Producer enumerates the work of a run by calling the engine's Queue and
// Send methods. It must call MarkQueueComplete once it has queued everything.
type Producer interface {
	Produce(ctx context.Context, e *Engine) error
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc func(ctx context.Context, e *Engine) error

func (f ProducerFunc) Produce(ctx context.Context, e *Engine) error { return f(ctx, e) }

// Options carries the collaborators of an Engine. Client and Producer may be
// left nil at construction but StartScan refuses to run without them.
type Options struct {
	Client    NetworkClient
	Producer  Producer
	Filter    *wildcard.Filter // shared across runs; a new one is created when nil
	Processor *Processor
	Template  *template.Template // base request for QueuePayloads/SendPayloads
	BaseURL   *url.URL
	Tracer    trace.Tracer
	Logger    utils.Logger
}

// Counters is a snapshot of the engine counters.
type Counters struct {
	Total      int64
	Completed  int64
	Errors     int64
	Quarantine int64
	Active     int64
}

var engineSeq atomic.Int64

// counters belong to one run. Tasks only ever touch the counters of the run
// they were queued in, so a task outliving StopScan cannot skew the next run.
type counters struct {
	total      atomic.Int64
	progress   atomic.Int64
	errors     atomic.Int64
	quarantine atomic.Int64
	active     atomic.Int64

	queueCompleted atomic.Bool
}

func (c *counters) snapshot() Counters {
	return Counters{
		Total:      c.total.Load(),
		Completed:  c.progress.Load(),
		Errors:     c.errors.Load(),
		Quarantine: c.quarantine.Load(),
		Active:     c.active.Load(),
	}
}

// run holds the resources of one StartScan. It is replaced on every start.
type run struct {
	pool         *utils.WorkerPool
	stats        *counters
	ctx          context.Context
	cancel       context.CancelFunc
	monitorDone  chan struct{}
	producerDone chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	dropped   int
}

// close stops the run: queued tasks are discarded and the producer, the
// monitor and in-flight sends see their context cancelled.
func (r *run) close() int {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.cancel()
		r.dropped = r.pool.ShutdownNow()
	})
	return r.dropped
}

// wait blocks until the monitor, the producer and every worker of r have
// exited, or ctx is done.
func (r *run) wait(ctx context.Context) error {
	for _, done := range []chan struct{}{r.monitorDone, r.producerDone} {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.pool.Wait(ctx)
}

// Engine schedules request tasks on a bounded worker pool and drives the
// lifecycle state machine of a fuzzing session.
type Engine struct {
	id        int64
	cfg       *config.Config
	logger    utils.Logger
	client    NetworkClient
	producer  Producer
	filter    *wildcard.Filter
	processor *Processor
	tracer    trace.Tracer
	baseTpl   *template.Template
	baseURL   *url.URL

	stateMu sync.Mutex
	state   atomic.Int32
	gate    chan struct{} // closed unless paused, guarded by stateMu
	changed chan struct{} // closed and replaced on every state change, guarded by stateMu

	stats  atomic.Pointer[counters] // counters of the current or last run
	nextID atomic.Int64

	runMu sync.Mutex // serialises StartScan, StopScan and Shutdown
	run   atomic.Pointer[run]

	listeners  atomic.Pointer[listenerList]
	callbackMu sync.RWMutex
	callback   Callback
	session    *session

	shutdownOnce sync.Once
	disposed     atomic.Bool
}

// NewEngine creates an engine in NOT_STARTED.
func NewEngine(cfg *config.Config, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = &utils.NoOpLogger{}
	}
	processor := opts.Processor
	if processor == nil {
		p, err := NewProcessor(cfg, logger)
		if err != nil {
			return nil, err
		}
		processor = p
	}
	filter := opts.Filter
	if filter == nil {
		filter = wildcard.NewFilter()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	gate := make(chan struct{})
	close(gate)
	e := &Engine{
		id:        engineSeq.Add(1),
		cfg:       cfg,
		logger:    logger,
		client:    opts.Client,
		producer:  opts.Producer,
		filter:    filter,
		processor: processor,
		tracer:    tracer,
		baseTpl:   opts.Template,
		baseURL:   opts.BaseURL,
		gate:      gate,
		changed:   make(chan struct{}),
		session:   newSession(),
	}
	e.listeners.Store(&listenerList{})
	e.stats.Store(&counters{})
	return e, nil
}

// ID returns the process-unique engine id.
func (e *Engine) ID() int64 { return e.id }

// State returns the current lifecycle state.
func (e *Engine) State() FuzzerState { return FuzzerState(e.state.Load()) }

// Filter returns the wildcard filter shared by every run of this engine.
func (e *Engine) Filter() *wildcard.Filter { return e.filter }

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// Counters returns a snapshot of the counters.
func (e *Engine) Counters() Counters { return e.stats.Load().snapshot() }

func (e *Engine) monitorInterval() time.Duration {
	if e.cfg.MonitorInterval > 0 {
		return e.cfg.MonitorInterval
	}
	return defaultMonitorInterval
}

func (e *Engine) shutdownTimeout() time.Duration {
	if e.cfg.ShutdownTimeout > 0 {
		return e.cfg.ShutdownTimeout
	}
	return defaultShutdownTimeout
}

// --- state machine ---

// setStateLocked must be called with stateMu held and a validated target.
func (e *Engine) setStateLocked(from, to FuzzerState) {
	e.state.Store(int32(to))

	paused := func(s FuzzerState) bool { return s == StatePaused || s == StatePausedQuarantine }
	switch {
	case paused(to) && !paused(from):
		e.gate = make(chan struct{})
	case !paused(to) && paused(from):
		close(e.gate)
	}
	close(e.changed)
	e.changed = make(chan struct{})

	e.logger.Debugf("[Engine %d] State %s -> %s", e.id, from, to)
	for _, l := range *e.listeners.Load() {
		l.OnStateChanged(e.id, to)
	}
}

// transitionFrom moves to `to` when the current state is one of from and the
// table allows it. It returns the previous state and whether it moved.
func (e *Engine) transitionFrom(from []FuzzerState, to FuzzerState) (FuzzerState, bool) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.transitionLocked(from, to)
}

// transitionInRun is transitionFrom for events raised by r. It does nothing
// once r has been closed or replaced by a later StartScan.
func (e *Engine) transitionInRun(r *run, from []FuzzerState, to FuzzerState) bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if e.run.Load() != r || r.closed.Load() {
		return false
	}
	_, ok := e.transitionLocked(from, to)
	return ok
}

func (e *Engine) transitionLocked(from []FuzzerState, to FuzzerState) (FuzzerState, bool) {
	cur := e.State()
	matched := len(from) == 0
	for _, s := range from {
		if s == cur {
			matched = true
			break
		}
	}
	if !matched {
		return cur, false
	}
	if !CanTransition(cur, to) {
		e.logger.Debugf("[Engine %d] Ignoring invalid transition %s -> %s", e.id, cur, to)
		return cur, false
	}
	e.setStateLocked(cur, to)
	return cur, true
}

// Transition moves to `to` from whatever the current state is, when the
// table allows it. Invalid transitions are logged and ignored.
func (e *Engine) Transition(to FuzzerState) bool {
	_, ok := e.transitionFrom(nil, to)
	return ok
}

// forceState sets the state without consulting the table. Used only when the
// shutdown deadline expires.
func (e *Engine) forceState(to FuzzerState) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	cur := e.State()
	if cur == to {
		return
	}
	e.logger.Warnf("[Engine %d] Forcing state %s -> %s", e.id, cur, to)
	e.setStateLocked(cur, to)
}

// --- lifecycle ---

// StartScan resets the counters, creates a fresh worker pool, starts the
// completion monitor and the producer, and moves to RUNNING. It fails without
// side effects when a collaborator is missing or the current state cannot start.
func (e *Engine) StartScan() error {
	if e.disposed.Load() {
		return ErrShutdown
	}
	if e.client == nil {
		return ErrNoClient
	}
	if e.producer == nil {
		return ErrNoProducer
	}

	e.runMu.Lock()
	defer e.runMu.Unlock()

	e.stateMu.Lock()
	cur := e.State()
	if cur == StatePaused || cur == StatePausedQuarantine || !CanTransition(cur, StateRunning) {
		e.stateMu.Unlock()
		return fmt.Errorf("%w: cannot start scan from %s", ErrInvalidStep, cur)
	}

	threads := e.cfg.Threads
	if threads < 1 {
		threads = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		pool:         utils.NewWorkerPool(ctx, threads, 2*threads),
		stats:        &counters{},
		ctx:          ctx,
		cancel:       cancel,
		monitorDone:  make(chan struct{}),
		producerDone: make(chan struct{}),
	}
	e.run.Store(r)
	e.stats.Store(r.stats)
	e.setStateLocked(cur, StateRunning)
	e.stateMu.Unlock()

	e.logger.Infof("[Engine %d] Scan started with %d threads (queue capacity %d)", e.id, threads, r.pool.Capacity())
	go e.monitor(r)
	go e.runProducer(r)
	return nil
}

// PauseScan stops the pool from dequeuing and blocks producer submissions.
// In-flight tasks finish normally.
func (e *Engine) PauseScan() bool {
	e.stateMu.Lock()
	_, ok := e.transitionLocked([]FuzzerState{StateRunning, StatePausedQuarantine}, StatePaused)
	if ok {
		if r := e.run.Load(); r != nil {
			r.pool.Pause()
		}
	}
	e.stateMu.Unlock()
	if !ok {
		return false
	}
	e.logger.Infof("[Engine %d] Scan paused", e.id)
	return true
}

// Resume returns to RUNNING from a user pause or a quarantine and wakes every
// blocked producer call. Resuming out of quarantine clears the failure run.
func (e *Engine) Resume() bool {
	e.stateMu.Lock()
	_, ok := e.transitionLocked([]FuzzerState{StatePaused, StatePausedQuarantine}, StateRunning)
	if ok {
		e.stats.Load().quarantine.Store(0)
		if r := e.run.Load(); r != nil {
			r.pool.Resume()
		}
	}
	e.stateMu.Unlock()
	if !ok {
		return false
	}
	e.logger.Infof("[Engine %d] Scan resumed", e.id)
	return true
}

// StopScan ends the current run without disposing the engine. Queued tasks
// are discarded. The engine can be started again and keeps its filter.
func (e *Engine) StopScan() error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	prev, ok := e.transitionFrom([]FuzzerState{StateRunning, StatePaused, StatePausedQuarantine}, StateStopping)
	if !ok {
		return fmt.Errorf("%w: cannot stop from %s", ErrNotRunning, prev)
	}
	e.stopRun(e.shutdownTimeout())
	e.transitionFrom([]FuzzerState{StateStopping}, StateStopped)
	e.publishCounters(e.stats.Load())
	return nil
}

// stopRun closes the current run and waits up to timeout for its producer
// and monitor goroutines.
func (e *Engine) stopRun(timeout time.Duration) {
	r := e.run.Load()
	if r == nil {
		return
	}
	if dropped := r.close(); dropped > 0 {
		e.logger.Infof("[Engine %d] Discarded %d queued tasks", e.id, dropped)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for _, done := range []chan struct{}{r.monitorDone, r.producerDone} {
		select {
		case <-done:
		case <-timer.C:
			e.logger.Warnf("[Engine %d] Timed out waiting for run goroutines to exit", e.id)
			return
		}
	}
}

// Shutdown disposes the engine. It is idempotent and bounded by the
// configured shutdown timeout: when the cleanup phases take longer, they are
// abandoned and the engine is forced into STOPPED.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.disposed.Store(true)
		e.logger.Debugf("[Engine %d] Shutting down", e.id)

		deadline := time.Now().Add(e.shutdownTimeout())
		done := make(chan struct{})
		go func() {
			defer close(done)
			e.shutdownPhases(deadline)
		}()

		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			e.logger.Warnf("[Engine %d] Shutdown exceeded %s, abandoning remaining cleanup", e.id, e.shutdownTimeout())
			e.forceState(StateStopped)
		}

		for _, l := range *e.listeners.Load() {
			l.OnFuzzerDisposed(e.id)
		}
		e.listeners.Store(&listenerList{})
	})
}

// shutdownPhases never waits on in-flight work before the network client is
// closed, since closing it is what unblocks a hung send.
func (e *Engine) shutdownPhases(deadline time.Time) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	// 1. producer and monitor
	e.transitionFrom([]FuzzerState{StateRunning, StatePaused, StatePausedQuarantine}, StateStopping)
	r := e.run.Load()
	if r != nil {
		r.closed.Store(true)
		r.cancel()
	}
	// 2. pool, without draining
	if r != nil {
		if dropped := r.close(); dropped > 0 {
			e.logger.Infof("[Engine %d] Discarded %d queued tasks", e.id, dropped)
		}
	}
	// 3. network client
	if e.client != nil {
		if err := e.client.Close(); err != nil {
			e.logger.Warnf("[Engine %d] Error closing network client: %v", e.id, err)
		}
	}
	if r != nil {
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		if err := r.wait(ctx); err != nil {
			e.logger.Warnf("[Engine %d] Run goroutines still busy at the shutdown deadline", e.id)
		}
		cancel()
	}
	// 4. auxiliary state
	e.session.clear()
	e.SetOutputHandler(nil)
	e.run.Store(nil)

	e.transitionFrom([]FuzzerState{StateStopping, StateNotStarted, StateError}, StateStopped)
}

// Wait blocks until the engine reaches FINISHED, STOPPED or ERROR.
func (e *Engine) Wait(ctx context.Context) (FuzzerState, error) {
	for {
		e.stateMu.Lock()
		st := e.State()
		ch := e.changed
		e.stateMu.Unlock()
		if st.IsTerminal() {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// WaitIdle blocks until every task submitted so far has completed.
func (e *Engine) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		r := e.run.Load()
		c := e.stats.Load()
		if r != nil {
			c = r.stats
		}
		if c.progress.Load() >= c.total.Load() {
			return nil
		}
		if r == nil || r.closed.Load() {
			return ErrNotRunning
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// --- run goroutines ---

func (e *Engine) monitor(r *run) {
	defer close(r.monitorDone)
	ticker := time.NewTicker(e.monitorInterval())
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}
		e.publishCounters(r.stats)
		if !r.stats.queueCompleted.Load() {
			continue
		}
		total := r.stats.total.Load()
		if r.stats.progress.Load() != total {
			continue
		}
		if e.transitionInRun(r, []FuzzerState{StateRunning}, StateFinished) {
			e.logger.Infof("[Engine %d] Scan finished: %d requests, %d errors", e.id, total, r.stats.errors.Load())
			r.close()
			return
		}
	}
}

func (e *Engine) runProducer(r *run) {
	defer close(r.producerDone)
	err := e.producer.Produce(r.ctx, e)
	if err == nil || r.ctx.Err() != nil || r.closed.Load() {
		return
	}
	e.logger.Errorf("[Engine %d] Producer failed: %v", e.id, err)
	if _, ok := e.transitionFrom([]FuzzerState{StateRunning}, StateError); !ok {
		if _, ok := e.transitionFrom([]FuzzerState{StatePaused, StatePausedQuarantine}, StateStopping); ok {
			e.transitionFrom([]FuzzerState{StateStopping}, StateError)
		}
	}
	r.close()
}

func (e *Engine) publishCounters(c *counters) {
	completed, total, errs := c.progress.Load(), c.total.Load(), c.errors.Load()
	for _, l := range *e.listeners.Load() {
		l.OnCountersUpdated(e.id, completed, total, errs)
	}
}

// MarkQueueComplete tells the monitor that the producer has queued everything.
func (e *Engine) MarkQueueComplete() {
	c := e.stats.Load()
	c.queueCompleted.Store(true)
	e.logger.Debugf("[Engine %d] Producer marked the queue complete (%d tasks)", e.id, c.total.Load())
}

// QueueCompleted reports whether MarkQueueComplete was called during the current run.
func (e *Engine) QueueCompleted() bool { return e.stats.Load().queueCompleted.Load() }

// --- observers ---

// AddListener registers l. Safe to call concurrently with notifications.
func (e *Engine) AddListener(l Listener) {
	for {
		old := e.listeners.Load()
		next := old.with(l)
		if e.listeners.CompareAndSwap(old, &next) {
			return
		}
	}
}

// RemoveListener unregisters l.
func (e *Engine) RemoveListener(l Listener) {
	for {
		old := e.listeners.Load()
		next := old.without(l)
		if e.listeners.CompareAndSwap(old, &next) {
			return
		}
	}
}

// SetOutputHandler registers the callback invoked for every completed
// non-learning task. A nil callback removes it.
func (e *Engine) SetOutputHandler(cb Callback) {
	e.callbackMu.Lock()
	e.callback = cb
	e.callbackMu.Unlock()
}

func (e *Engine) outputHandler() Callback {
	e.callbackMu.RLock()
	defer e.callbackMu.RUnlock()
	return e.callback
}

// --- session store ---

func (e *Engine) SessionSet(key string, value interface{}) { e.session.set(key, value) }

func (e *Engine) SessionGet(key string) (interface{}, bool) { return e.session.get(key) }

// SessionIncrement adds delta to the integer stored at key and returns the new value.
func (e *Engine) SessionIncrement(key string, delta int64) int64 {
	return e.session.increment(key, delta)
}

func (e *Engine) SessionContains(key string) bool { return e.session.contains(key) }

func (e *Engine) SessionClear() { e.session.clear() }
