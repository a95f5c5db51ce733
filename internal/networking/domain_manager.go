package networking

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rafabd1/Wildfuzz/internal/config"
	"github.com/rafabd1/Wildfuzz/internal/utils"
)

const (
	DefaultInitialStandbyDuration   = 10 * time.Second
	DefaultMaxStandbyDuration       = time.Minute
	DefaultStandbyDurationIncrement = 10 * time.Second // How much to increase standby on repeated 429s
)

// domainState stores the state of a specific domain.
type domainState struct {
	limiter                *rate.Limiter // nil when rate limiting is disabled
	consecutiveFailures    int
	standbyUntil           time.Time     // Forced pause after a 429
	currentStandbyDuration time.Duration // Duration for the next standby period
}

// DomainManager applies per-domain pacing: a token bucket limiter per host
// and, when pacing is enabled, a standby period after the host answers 429.
type DomainManager struct {
	rps          float64
	burst        int
	logger       utils.Logger
	domainStatus map[string]*domainState
	mu           sync.Mutex
}

// NewDomainManager creates a new instance of DomainManager. A RequestsPerSecond
// of zero disables pacing entirely.
func NewDomainManager(cfg *config.Config, logger utils.Logger) *DomainManager {
	burst := 1
	if cfg.RequestsPerSecond >= 2 {
		burst = int(cfg.RequestsPerSecond)
	}
	return &DomainManager{
		rps:          cfg.RequestsPerSecond,
		burst:        burst,
		logger:       logger,
		domainStatus: make(map[string]*domainState),
	}
}

// getOrCreateDomainState must be called with dm.mu held.
func (dm *DomainManager) getOrCreateDomainState(domain string) *domainState {
	ds, exists := dm.domainStatus[domain]
	if !exists {
		ds = &domainState{currentStandbyDuration: DefaultInitialStandbyDuration}
		if dm.rps > 0 {
			ds.limiter = rate.NewLimiter(rate.Limit(dm.rps), dm.burst)
		}
		dm.domainStatus[domain] = ds
		dm.logger.Debugf("[DomainManager] Initialized state for domain '%s' (rps: %.2f)", domain, dm.rps)
	}
	return ds
}

// Wait blocks until a request to domain is allowed or ctx is done.
func (dm *DomainManager) Wait(ctx context.Context, domain string) error {
	if dm.rps <= 0 {
		return nil
	}
	dm.mu.Lock()
	ds := dm.getOrCreateDomainState(domain)
	standby := time.Until(ds.standbyUntil)
	limiter := ds.limiter
	dm.mu.Unlock()

	if standby > 0 {
		dm.logger.Debugf("[DomainManager] Domain '%s' is in STANDBY. Wait: %s", domain, standby)
		timer := time.NewTimer(standby)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return limiter.Wait(ctx)
}

// RecordRequestResult updates the domain state from the outcome of one request.
func (dm *DomainManager) RecordRequestResult(domain string, statusCode int, header http.Header, err error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	ds := dm.getOrCreateDomainState(domain)

	if err != nil {
		ds.consecutiveFailures++
		dm.logger.Debugf("[DomainManager] Error for domain %s: %v. Consecutive failures: %d.", domain, err, ds.consecutiveFailures)
		return
	}
	ds.consecutiveFailures = 0

	if statusCode != http.StatusTooManyRequests || dm.rps <= 0 {
		return
	}

	standby := ds.currentStandbyDuration
	if secs, convErr := strconv.Atoi(header.Get("Retry-After")); convErr == nil && secs > 0 {
		standby = time.Duration(secs) * time.Second
	}
	ds.standbyUntil = time.Now().Add(standby)
	dm.logger.Warnf("[DomainManager] Domain '%s' received status 429 (Too Many Requests). Standby for %s.", domain, standby)

	ds.currentStandbyDuration += DefaultStandbyDurationIncrement
	if ds.currentStandbyDuration > DefaultMaxStandbyDuration {
		ds.currentStandbyDuration = DefaultMaxStandbyDuration
	}
}

// IsStandby reports whether domain is currently paused after a 429, and until when.
func (dm *DomainManager) IsStandby(domain string) (bool, time.Time) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	ds, exists := dm.domainStatus[domain]
	if !exists || ds.standbyUntil.IsZero() || time.Now().After(ds.standbyUntil) {
		return false, time.Time{}
	}
	return true, ds.standbyUntil
}

// ConsecutiveFailures returns the current run of transport errors for domain.
func (dm *DomainManager) ConsecutiveFailures(domain string) int {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if ds, ok := dm.domainStatus[domain]; ok {
		return ds.consecutiveFailures
	}
	return 0
}
