package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rafabd1/Wildfuzz/internal/networking"
)

var errEmptyExchange = errors.New("network client returned no response")

// outcome is how a task ended, for counter and quarantine bookkeeping.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeAborted // cancelled by a stop, reported to nobody
)

// Task sends one prepared request. The engine and run references are
// released once the task has reported its completion.
type Task struct {
	id         int64
	engine     *Engine
	run        *run
	target     networking.Target
	request    *networking.Request
	learnGroup int
}

func newTask(id int64, e *Engine, r *run, req *networking.Request, learnGroup int) *Task {
	return &Task{
		id:         id,
		engine:     e,
		run:        r,
		target:     networking.TargetFor(req.URL),
		request:    req,
		learnGroup: learnGroup,
	}
}

// ID returns the task id, which is also the id of its Result.
func (t *Task) ID() int64 { return t.id }

// execute is the job submitted to the worker pool.
func (t *Task) execute() {
	e, r := t.engine, t.run
	if e == nil || r == nil {
		return
	}
	if r.closed.Load() {
		// Queued before a stop and dequeued or run inline after it.
		t.release()
		return
	}

	result := outcomeFailure
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Errorf("[Task %d] Recovered from panic: %v", t.id, rec)
			result = outcomeFailure
		}
		e.postTaskExecution(t, r, result)
		t.release()
	}()

	e.preTaskExecution(t, r)
	result = e.runTask(r.ctx, r, t)
}

func (t *Task) release() {
	t.engine = nil
	t.run = nil
}

func (e *Engine) preTaskExecution(t *Task, r *run) {
	r.stats.active.Add(1)
	e.logger.Debugf("[Task %d] Executing %s", t.id, t.request)
}

// postTaskExecution does the counter and quarantine bookkeeping of a
// finished task against the run it was queued in. It runs for every task
// that started, including panics.
func (e *Engine) postTaskExecution(t *Task, r *run, o outcome) {
	c := r.stats
	c.active.Add(-1)
	switch o {
	case outcomeFailure:
		c.errors.Add(1)
		q := c.quarantine.Add(1)
		threshold := int64(e.cfg.QuarantineThreshold)
		if threshold > 0 && q > threshold && e.transitionInRun(r, []FuzzerState{StateRunning}, StatePausedQuarantine) {
			e.logger.Warnf("[Engine %d] %d consecutive failures, entering quarantine", e.id, q)
		}
	case outcomeSuccess:
		c.quarantine.Store(0)
		if e.State().IsPausedForQuarantine() && e.transitionInRun(r, []FuzzerState{StatePausedQuarantine}, StateRunning) {
			e.logger.Infof("[Engine %d] Request succeeded, leaving quarantine", e.id)
		}
	}
	c.progress.Add(1)
}

// runTask sends the request with retries and routes the result. Nothing is
// learned or delivered once r has been closed.
func (e *Engine) runTask(ctx context.Context, r *run, t *Task) outcome {
	ctx, span := e.tracer.Start(ctx, "wildfuzz.task", trace.WithAttributes(
		attribute.Int64("wildfuzz.task.id", t.id),
		attribute.Int("wildfuzz.learn_group", t.learnGroup),
		attribute.String("http.request.method", t.request.Method),
		attribute.String("url.full", t.request.URL.String()),
	))
	defer span.End()

	res := newResult(t.id, e.id, t.target, t.request, t.learnGroup)
	start := time.Now()
	ex, attempts, err := e.sendWithRetry(ctx, t)
	span.SetAttributes(attribute.Int("wildfuzz.attempts", attempts))

	if err != nil {
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "cancelled")
			return outcomeAborted
		}
		res.fail(err, attempts, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Debugf("[Task %d] Failed after %d attempt(s): %v", t.id, attempts, err)
	} else {
		res.succeed(ex, attempts)
		span.SetAttributes(attribute.Int("http.response.status_code", ex.Response.StatusCode))
	}

	switch {
	case r.closed.Load():
		e.logger.Debugf("[Task %d] Run closed while in flight, dropping result", t.id)
	case res.IsLearning():
		if !res.Failed() {
			e.filter.Learn(e.cfg.FilterGroup, t.learnGroup, res.Signature())
		}
	default:
		res.interesting = !res.Failed() &&
			e.processor.IsInteresting(res) &&
			!e.filter.IsSimilar(e.cfg.FilterGroup, res.Signature())
		span.SetAttributes(attribute.Bool("wildfuzz.interesting", res.interesting))
		e.deliver(res)
	}

	if res.Failed() {
		return outcomeFailure
	}
	return outcomeSuccess
}

// sendWithRetry performs up to RetriesOnIOError+1 attempts with linear backoff.
func (e *Engine) sendWithRetry(ctx context.Context, t *Task) (*networking.Exchange, int, error) {
	policy := newLinearBackOff(e.cfg.RetryDelayBase, e.cfg.RetryDelayMax, e.cfg.RetriesOnIOError)
	attempts := 0
	for {
		attempts++
		ex, err := e.client.Send(ctx, t.target, t.request)
		if err == nil && (ex == nil || ex.Response == nil) {
			err = errEmptyExchange
		}
		if err == nil {
			return ex, attempts, nil
		}
		if ctx.Err() != nil {
			return nil, attempts, err
		}
		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			return nil, attempts, fmt.Errorf("giving up after %d attempt(s): %w", attempts, err)
		}
		e.logger.Debugf("[Task %d] Attempt %d failed: %v. Retrying in %s", t.id, attempts, err, delay)
		if sleepContext(ctx, delay) != nil {
			return nil, attempts, err
		}
	}
}

func (e *Engine) deliver(res *Result) {
	if cb := e.outputHandler(); cb != nil {
		cb.HandleResult(res)
	}
	for _, l := range *e.listeners.Load() {
		l.OnResultAdded(e.id, res, res.interesting)
	}
}
