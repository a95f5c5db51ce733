package core

import (
	"sync"
	"time"
)

// QuarantineCooldown resumes an engine that stayed in quarantine for a
// cooldown period. Without it a quarantine only ends on a successful request
// or an explicit Resume, and a run whose remaining requests all fail would
// block its producer forever. Every further quarantine of the same run waits
// one more initial period, up to maxWait.
type QuarantineCooldown struct {
	NopListener

	engine  *Engine
	initial time.Duration
	maxWait time.Duration

	mu      sync.Mutex
	current time.Duration
	timer   *time.Timer
}

// NewQuarantineCooldown registers a cooldown on e. A maxWait below initial is raised to initial.
func NewQuarantineCooldown(e *Engine, initial, maxWait time.Duration) *QuarantineCooldown {
	if maxWait < initial {
		maxWait = initial
	}
	c := &QuarantineCooldown{engine: e, initial: initial, maxWait: maxWait, current: initial}
	e.AddListener(c)
	return c
}

func (c *QuarantineCooldown) OnStateChanged(_ int64, state FuzzerState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case state.IsPausedForQuarantine():
		c.stopLocked()
		wait := c.current
		c.current += c.initial
		if c.current > c.maxWait {
			c.current = c.maxWait
		}
		c.engine.logger.Warnf("[Engine %d] Quarantine cooldown of %s started", c.engine.id, wait)
		// Resume runs on the timer goroutine, never under the state lock.
		c.timer = time.AfterFunc(wait, c.expire)
	case state == StateRunning:
		c.stopLocked()
	case state.IsTerminal(), state.IsShuttingDown():
		c.stopLocked()
		c.current = c.initial
	}
}

func (c *QuarantineCooldown) OnFuzzerDisposed(int64) { c.Stop() }

// Stop cancels a pending resume.
func (c *QuarantineCooldown) Stop() {
	c.mu.Lock()
	c.stopLocked()
	c.mu.Unlock()
}

func (c *QuarantineCooldown) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *QuarantineCooldown) expire() {
	if !c.engine.State().IsPausedForQuarantine() {
		return
	}
	if c.engine.Resume() {
		c.engine.logger.Infof("[Engine %d] Quarantine cooldown expired, scan resumed", c.engine.id)
	}
}
