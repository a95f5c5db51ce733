package networking

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafabd1/Wildfuzz/internal/config"
	"github.com/rafabd1/Wildfuzz/internal/utils"
)

func managerWithRPS(rps float64) *DomainManager {
	cfg := config.GetDefaultConfig()
	cfg.RequestsPerSecond = rps
	return NewDomainManager(cfg, &utils.NoOpLogger{})
}

func TestDomainManagerUnlimited(t *testing.T) {
	dm := managerWithRPS(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, dm.Wait(ctx, "a.test"), "no pacing means no waiting")

	dm.RecordRequestResult("a.test", http.StatusTooManyRequests, http.Header{}, nil)
	standby, _ := dm.IsStandby("a.test")
	assert.False(t, standby)
}

func TestDomainManagerStandbyAfter429(t *testing.T) {
	dm := managerWithRPS(100)
	dm.RecordRequestResult("a.test", http.StatusTooManyRequests, http.Header{"Retry-After": {"2"}}, nil)

	standby, until := dm.IsStandby("a.test")
	require.True(t, standby)
	assert.WithinDuration(t, time.Now().Add(2*time.Second), until, 500*time.Millisecond)

	other, _ := dm.IsStandby("b.test")
	assert.False(t, other, "standby is per domain")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, dm.Wait(ctx, "a.test"), context.DeadlineExceeded)
	assert.NoError(t, dm.Wait(context.Background(), "b.test"))
}

func TestDomainManagerStandbyGrows(t *testing.T) {
	dm := managerWithRPS(100)
	dm.RecordRequestResult("a.test", http.StatusTooManyRequests, http.Header{}, nil)
	_, first := dm.IsStandby("a.test")
	dm.RecordRequestResult("a.test", http.StatusTooManyRequests, http.Header{}, nil)
	_, second := dm.IsStandby("a.test")

	assert.WithinDuration(t, time.Now().Add(DefaultInitialStandbyDuration), first, time.Second)
	assert.WithinDuration(t, time.Now().Add(DefaultInitialStandbyDuration+DefaultStandbyDurationIncrement), second, time.Second)
}

func TestDomainManagerFailureStreak(t *testing.T) {
	dm := managerWithRPS(0)
	dm.RecordRequestResult("a.test", 0, nil, errors.New("reset"))
	dm.RecordRequestResult("a.test", 0, nil, errors.New("reset"))
	assert.Equal(t, 2, dm.ConsecutiveFailures("a.test"))

	dm.RecordRequestResult("a.test", http.StatusOK, http.Header{}, nil)
	assert.Zero(t, dm.ConsecutiveFailures("a.test"))
	assert.Zero(t, dm.ConsecutiveFailures("unknown.test"))
}

func TestDomainManagerRateLimits(t *testing.T) {
	dm := managerWithRPS(1) // burst 1
	ctx := context.Background()
	require.NoError(t, dm.Wait(ctx, "a.test"))

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.Error(t, dm.Wait(short, "a.test"), "second token is a second away")
}
