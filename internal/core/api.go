package core

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rafabd1/Wildfuzz/internal/networking"
	"github.com/rafabd1/Wildfuzz/internal/template"
	"github.com/rafabd1/Wildfuzz/internal/utils"
)

// QueueRequest submits req as a task. It blocks while the engine is paused or
// quarantined and while the pool queue is full. learnGroup > 0 feeds the
// response to the wildcard learner instead of the result callback.
func (e *Engine) QueueRequest(ctx context.Context, req *networking.Request, learnGroup int) error {
	if req == nil || req.URL == nil {
		return e.prepareFailed(errors.New("nil request"))
	}
	return e.enqueue(ctx, req.Clone(), learnGroup)
}

// QueueURL queues a GET for rawURL.
func (e *Engine) QueueURL(ctx context.Context, rawURL string, learnGroup int) error {
	req, err := networking.NewRequest("GET", rawURL, nil)
	if err != nil {
		return e.prepareFailed(err)
	}
	return e.enqueue(ctx, req, learnGroup)
}

// QueuePayloads renders the base template with payloads and queues it.
func (e *Engine) QueuePayloads(ctx context.Context, payloads []string, learnGroup int) error {
	req, err := e.buildFromBase(payloads)
	if err != nil {
		return e.prepareFailed(err)
	}
	return e.enqueue(ctx, req, learnGroup)
}

// QueueRawTemplate renders a raw request template addressed to rawURL and queues it.
func (e *Engine) QueueRawTemplate(ctx context.Context, rawURL, rawTemplate string, payloads []string, learnGroup int) error {
	req, err := e.buildFromRaw(rawURL, rawTemplate, payloads)
	if err != nil {
		return e.prepareFailed(err)
	}
	return e.enqueue(ctx, req, learnGroup)
}

// SendRequest sends req on the calling goroutine and returns its result.
// It bypasses the pool, the retries, the filter and the callback, but
// still counts towards the shared counters. The error is non-nil only when
// nothing was sent.
func (e *Engine) SendRequest(ctx context.Context, req *networking.Request) (*Result, error) {
	if req == nil || req.URL == nil {
		return nil, e.prepareFailed(errors.New("nil request"))
	}
	return e.sendSync(ctx, req.Clone())
}

// SendURL sends a GET for rawURL synchronously.
func (e *Engine) SendURL(ctx context.Context, rawURL string) (*Result, error) {
	req, err := networking.NewRequest("GET", rawURL, nil)
	if err != nil {
		return nil, e.prepareFailed(err)
	}
	return e.sendSync(ctx, req)
}

// SendPayloads renders the base template with payloads and sends it synchronously.
func (e *Engine) SendPayloads(ctx context.Context, payloads []string) (*Result, error) {
	req, err := e.buildFromBase(payloads)
	if err != nil {
		return nil, e.prepareFailed(err)
	}
	return e.sendSync(ctx, req)
}

// SendRawTemplate renders a raw template addressed to rawURL and sends it synchronously.
func (e *Engine) SendRawTemplate(ctx context.Context, rawURL, rawTemplate string, payloads []string) (*Result, error) {
	req, err := e.buildFromRaw(rawURL, rawTemplate, payloads)
	if err != nil {
		return nil, e.prepareFailed(err)
	}
	return e.sendSync(ctx, req)
}

func (e *Engine) prepareFailed(err error) error {
	e.logger.Warnf("[Engine %d] Failed to prepare request: %v", e.id, err)
	return fmt.Errorf("%w: %w", ErrPrepare, err)
}

func (e *Engine) buildFromBase(payloads []string) (*networking.Request, error) {
	if e.baseTpl == nil || e.baseURL == nil {
		return nil, ErrNoTemplate
	}
	return e.baseTpl.Build(e.baseURL, payloads...)
}

func (e *Engine) buildFromRaw(rawURL, rawTemplate string, payloads []string) (*networking.Request, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", rawURL, err)
	}
	tpl, err := template.Parse([]byte(rawTemplate), e.cfg.PayloadMarker)
	if err != nil {
		return nil, err
	}
	return tpl.Build(base, payloads...)
}

// awaitSubmission blocks while the engine is paused or quarantined.
func (e *Engine) awaitSubmission(ctx context.Context) error {
	for {
		e.stateMu.Lock()
		st := e.State()
		gate := e.gate
		e.stateMu.Unlock()

		switch {
		case st.IsShuttingDown(), st.IsTerminal(), st == StateNotStarted:
			return fmt.Errorf("%w (state %s)", ErrNotRunning, st)
		case st.IsCircuitOpen(), st == StatePaused:
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			return nil
		}
	}
}

func (e *Engine) enqueue(ctx context.Context, req *networking.Request, learnGroup int) error {
	if err := e.awaitSubmission(ctx); err != nil {
		return err
	}
	r := e.run.Load()
	if r == nil || r.closed.Load() {
		return ErrNotRunning
	}

	t := newTask(e.nextID.Add(1), e, r, req, learnGroup)
	r.stats.total.Add(1)
	if err := r.pool.Submit(ctx, t.execute); err != nil {
		r.stats.total.Add(-1)
		if errors.Is(err, utils.ErrPoolClosed) {
			return fmt.Errorf("%w: %v", ErrNotRunning, err)
		}
		return err
	}
	return nil
}

func (e *Engine) sendSync(ctx context.Context, req *networking.Request) (*Result, error) {
	if e.disposed.Load() {
		return nil, ErrShutdown
	}
	if e.client == nil {
		return nil, ErrNoClient
	}

	c := e.stats.Load()
	res := newResult(e.nextID.Add(1), e.id, networking.TargetFor(req.URL), req, 0)
	c.total.Add(1)
	start := time.Now()
	ex, err := e.client.Send(ctx, res.Target, req)
	if err == nil && (ex == nil || ex.Response == nil) {
		err = errEmptyExchange
	}
	if err != nil {
		res.fail(err, 1, time.Since(start))
		c.errors.Add(1)
	} else {
		res.succeed(ex, 1)
	}
	c.progress.Add(1)
	return res, nil
}
