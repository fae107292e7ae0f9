// Package ratelimit implements the token-bucket-plus-concurrency-gate
// limiter the job executor acquires a token from before every upstream
// call, with exponential backoff applied when upstream signals it is
// overloaded.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/types"
	"github.com/cuemby/toaststats-backfill/pkg/log"
	"github.com/cuemby/toaststats-backfill/pkg/metrics"
	"github.com/rs/zerolog"
)

// Outcome classifies how an acquired token was used, driving the backoff
// delay applied before the next acquire is granted.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRateLimitedByUpstream
)

// Token is the opaque handle returned by Acquire and consumed by Release.
// It is never inspected by callers beyond passing it back.
type Token struct {
	acquiredAt time.Time
}

// Limiter bounds concurrent and per-minute upstream call rate, decaying or
// growing its inter-acquire delay based on observed outcomes. Config is
// read-mostly and copy-on-update so acquires in flight never observe a
// torn update.
type Limiter struct {
	mu          sync.Mutex
	cfg         types.RateLimitConfig
	inFlight    int
	grantTimes  []time.Time // sliding 1-minute window of grants
	currentWait time.Duration

	// sem bounds MaxConcurrent outstanding tokens independent of the
	// sliding window check.
	sem chan struct{}

	logger zerolog.Logger
}

// New creates a Limiter with the given starting configuration.
func New(cfg types.RateLimitConfig) *Limiter {
	return &Limiter{
		cfg:         cfg,
		sem:         make(chan struct{}, cfg.MaxConcurrent),
		currentWait: time.Duration(cfg.MinDelayMS) * time.Millisecond,
		logger:      log.WithComponent("ratelimit"),
	}
}

// UpdateConfig swaps in a new configuration. Acquires already in flight
// keep their existing semaphore slot; the new MaxConcurrent takes effect
// for subsequently acquired tokens once the old semaphore drains, matching
// the "changes take effect for the next acquired token" contract.
func (l *Limiter) UpdateConfig(cfg types.RateLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cfg.MaxConcurrent != l.cfg.MaxConcurrent {
		l.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	l.cfg = cfg
	if l.currentWait < time.Duration(cfg.MinDelayMS)*time.Millisecond {
		l.currentWait = time.Duration(cfg.MinDelayMS) * time.Millisecond
	}
}

// Config returns a copy of the current configuration.
func (l *Limiter) Config() types.RateLimitConfig {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// Acquire blocks until a token is available: fewer than MaxConcurrent
// tokens outstanding, the 1-minute sliding grant window has room, and the
// current backoff delay has elapsed. It returns ctx.Err() without leaking
// a semaphore slot if ctx is cancelled first.
func (l *Limiter) Acquire(ctx context.Context) (*Token, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	for {
		wait, ready := l.nextWait()
		if ready {
			break
		}
		if err := sleepCtx(ctx, wait); err != nil {
			<-l.sem
			return nil, err
		}
	}

	l.mu.Lock()
	l.inFlight++
	l.grantTimes = append(l.grantTimes, time.Now())
	l.mu.Unlock()

	metrics.RateLimiterTokensInFlight.Inc()

	return &Token{acquiredAt: time.Now()}, nil
}

// nextWait reports how long to sleep before the next acquire attempt, and
// whether the limiter is ready to grant immediately: the sliding window
// has room and the backoff delay has elapsed since the last grant.
func (l *Limiter) nextWait() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-time.Minute)
	kept := l.grantTimes[:0]
	for _, t := range l.grantTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.grantTimes = kept

	if len(l.grantTimes) >= l.cfg.MaxRequestsPerMinute {
		oldest := l.grantTimes[0]
		return time.Until(oldest.Add(time.Minute)), false
	}

	if l.currentWait > 0 && len(l.grantTimes) > 0 {
		elapsed := time.Since(l.grantTimes[len(l.grantTimes)-1])
		if elapsed < l.currentWait {
			return l.currentWait - elapsed, false
		}
	}

	return 0, true
}

// Release returns token's slot to the limiter and adjusts the backoff
// delay: growing it on OutcomeRateLimitedByUpstream, decaying it toward
// MinDelayMS otherwise.
func (l *Limiter) Release(token *Token, outcome Outcome) {
	if token == nil {
		return
	}

	l.mu.Lock()
	l.inFlight--

	switch outcome {
	case OutcomeRateLimitedByUpstream:
		maxDelay := time.Duration(l.cfg.MaxDelayMS) * time.Millisecond
		next := time.Duration(float64(l.currentWait) * l.cfg.BackoffMultiplier)
		if next <= 0 {
			next = time.Duration(l.cfg.MinDelayMS) * time.Millisecond
		}
		if next > maxDelay {
			next = maxDelay
		}
		l.currentWait = next
		l.logger.Warn().Dur("delay", next).Msg("upstream rate limited, backing off")
	default:
		minDelay := time.Duration(l.cfg.MinDelayMS) * time.Millisecond
		next := l.currentWait - (l.currentWait-minDelay)/4
		if next < minDelay {
			next = minDelay
		}
		l.currentWait = next
	}
	l.mu.Unlock()

	metrics.RateLimiterTokensInFlight.Dec()
	metrics.RateLimiterDelayMS.Set(float64(l.currentWait.Milliseconds()))

	<-l.sem
}

// sleepCtx sleeps for d or returns ctx.Err() if ctx is cancelled first,
// without leaving a dangling timer goroutine.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
