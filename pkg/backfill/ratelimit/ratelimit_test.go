package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() types.RateLimitConfig {
	return types.RateLimitConfig{
		MaxRequestsPerMinute: 1000,
		MaxConcurrent:        2,
		MinDelayMS:           1,
		MaxDelayMS:           50,
		BackoffMultiplier:    2,
	}
}

func TestLimiter_AcquireRelease(t *testing.T) {
	l := New(testConfig())

	ctx := context.Background()
	token, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, token)

	l.Release(token, OutcomeOK)
}

func TestLimiter_BoundsConcurrency(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	l := New(cfg)

	ctx := context.Background()
	token, err := l.Acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		_, _ = l.Acquire(ctx)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should not complete while first token is held")
	case <-time.After(50 * time.Millisecond):
	}

	l.Release(token, OutcomeOK)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire should complete after release")
	}
}

func TestLimiter_AcquireRespectsCancellation(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	l := New(cfg)

	token, err := l.Acquire(context.Background())
	require.NoError(t, err)
	defer l.Release(token, OutcomeOK)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiter_BackoffGrowsOnRateLimitedOutcome(t *testing.T) {
	l := New(testConfig())

	token, err := l.Acquire(context.Background())
	require.NoError(t, err)

	before := l.currentWait
	l.Release(token, OutcomeRateLimitedByUpstream)
	assert.Greater(t, l.currentWait, before)
}

func TestLimiter_DelayDecaysTowardMinimum(t *testing.T) {
	cfg := testConfig()
	l := New(cfg)
	l.currentWait = time.Duration(cfg.MaxDelayMS) * time.Millisecond

	token, err := l.Acquire(context.Background())
	require.NoError(t, err)
	l.Release(token, OutcomeOK)

	assert.Less(t, l.currentWait, time.Duration(cfg.MaxDelayMS)*time.Millisecond)
}

func TestLimiter_UpdateConfig(t *testing.T) {
	l := New(testConfig())
	newCfg := testConfig()
	newCfg.MaxConcurrent = 5
	l.UpdateConfig(newCfg)

	assert.Equal(t, 5, l.Config().MaxConcurrent)
}
