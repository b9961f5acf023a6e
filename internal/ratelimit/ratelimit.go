// Package ratelimit enforces a requests-per-minute ceiling for external
// generation services and wraps calls with classified exponential-backoff
// retries.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/yheihei/pdf-to-podcast/internal/core"
)

// Default limiter settings, matching the provider free tier.
const (
	DefaultRPMLimit   = 15
	DefaultMaxRetries = 5
	DefaultBaseDelay  = 2 * time.Second
	DefaultMaxDelay   = 60 * time.Second

	// transientMaxDelay caps backoff for 5xx-class failures, which are
	// expected to resolve faster than quota violations.
	transientMaxDelay = 10 * time.Second

	slidingWindow = 60 * time.Second
	minDelay      = 100 * time.Millisecond
	jitterFrac    = 0.1
)

// Config holds the limiter settings.
type Config struct {
	RPMLimit   int
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool
}

// DefaultConfig returns the free-tier limiter settings with jitter enabled.
func DefaultConfig() Config {
	return Config{
		RPMLimit:   DefaultRPMLimit,
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Jitter:     true,
	}
}

// Stats reports the limiter's view of the trailing window.
type Stats struct {
	RPMLimit           int
	RequestsLastMinute int
	RemainingCapacity  int
}

// Limiter tracks request instants over a sliding 60-second window and blocks
// callers that would exceed the configured budget. The timestamp window is
// process-local and guarded by a single mutex.
type Limiter struct {
	cfg          Config
	log          *logger.Logger
	mu           sync.Mutex
	requestTimes []time.Time
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

// Option customizes a Limiter, primarily for tests.
type Option func(*Limiter)

// WithClock overrides the limiter's time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithSleep overrides the limiter's suspension primitive.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) {
		l.sleep = sleep
	}
}

// New creates a Limiter with the given configuration.
func New(cfg Config, log *logger.Logger, opts ...Option) *Limiter {
	if cfg.RPMLimit <= 0 {
		cfg.RPMLimit = DefaultRPMLimit
	}

	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}

	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}

	limiter := &Limiter{
		cfg:          cfg,
		log:          log,
		mu:           sync.Mutex{},
		requestTimes: nil,
		now:          time.Now,
		sleep:        sleepContext,
	}

	for _, opt := range opts {
		opt(limiter)
	}

	return limiter
}

// sleepContext suspends for d or until the context is canceled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Acquire blocks until issuing one more request would not exceed the RPM
// budget over the trailing 60-second window, then records the request
// instant.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for {
		now := l.now()
		l.dropStale(now)

		if len(l.requestTimes) < l.cfg.RPMLimit {
			l.requestTimes = append(l.requestTimes, l.now())

			return nil
		}

		oldest := l.requestTimes[0]
		wait := slidingWindow - now.Sub(oldest)

		if wait <= 0 {
			continue
		}

		l.log.Info("Rate limit reached, waiting %.1fs", wait.Seconds())

		sleepErr := l.sleep(ctx, wait)
		if sleepErr != nil {
			return sleepErr
		}
	}
}

// dropStale removes request instants older than the sliding window. The
// remaining slice stays ordered oldest-first.
func (l *Limiter) dropStale(now time.Time) {
	cutoff := now.Add(-slidingWindow)

	kept := l.requestTimes[:0]
	for _, t := range l.requestTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	l.requestTimes = kept
}

// Do acquires window capacity and invokes op, retrying rate-limit, timeout
// and transient-server failures with exponential backoff. The retry budget
// is per call. Fatal-classified errors propagate immediately.
func (l *Limiter) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		acquireErr := l.Acquire(ctx)
		if acquireErr != nil {
			return acquireErr
		}

		opErr := op(ctx)
		if opErr == nil {
			return nil
		}

		lastErr = opErr

		switch core.ClassOf(opErr) {
		case core.ClassRateLimit, core.ClassTimeout:
			if attempt == l.cfg.MaxRetries {
				l.log.Error(
					"Rate limit retries exhausted after %d attempts",
					attempt+1,
				)

				return fmt.Errorf("%w: %w", core.ErrRateLimitExceeded, opErr)
			}

			delay := l.backoffDelay(attempt, l.cfg.MaxDelay)
			l.log.Warn(
				"Rate limit error (attempt %d/%d), waiting %.1fs: %v",
				attempt+1, l.cfg.MaxRetries+1, delay.Seconds(), opErr,
			)

			sleepErr := l.sleep(ctx, delay)
			if sleepErr != nil {
				return sleepErr
			}
		case core.ClassTransient:
			if attempt == l.cfg.MaxRetries {
				l.log.Error(
					"Server error retries exhausted after %d attempts",
					attempt+1,
				)

				return opErr
			}

			delay := l.backoffDelay(attempt, transientMaxDelay)
			l.log.Warn(
				"Server error (attempt %d/%d), waiting %.1fs: %v",
				attempt+1, l.cfg.MaxRetries+1, delay.Seconds(), opErr,
			)

			sleepErr := l.sleep(ctx, delay)
			if sleepErr != nil {
				return sleepErr
			}
		case core.ClassFatal:
			l.log.Error("Non-retryable error: %v", opErr)

			return opErr
		}
	}

	return lastErr
}

// backoffDelay computes min(base * 2^attempt, ceiling) with optional ±10%
// jitter and a fixed floor.
func (l *Limiter) backoffDelay(attempt int, ceiling time.Duration) time.Duration {
	delay := l.cfg.BaseDelay << uint(attempt)
	if delay > ceiling || delay <= 0 {
		delay = ceiling
	}

	if l.cfg.Jitter {
		jitter := time.Duration(float64(delay) * jitterFrac)
		delay += time.Duration(rand.Int63n(int64(2*jitter)+1)) - jitter
	}

	if delay < minDelay {
		delay = minDelay
	}

	return delay
}

// Stats reports the current trailing-window usage.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.dropStale(l.now())

	remaining := l.cfg.RPMLimit - len(l.requestTimes)
	if remaining < 0 {
		remaining = 0
	}

	return Stats{
		RPMLimit:           l.cfg.RPMLimit,
		RequestsLastMinute: len(l.requestTimes),
		RemainingCapacity:  remaining,
	}
}
