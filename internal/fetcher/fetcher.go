// Package fetcher composes crawler.Fetcher decorators: retries, per-site rate
// limiting and an in-memory response cache.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/metrics"
	"github.com/JakeFAU/gather-vision/internal/policy/ratelimit"
)

// Func adapts a function to crawler.Fetcher.
type Func func(ctx context.Context, target crawler.Target) (crawler.Envelope, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, target crawler.Target) (crawler.Envelope, error) {
	return f(ctx, target)
}

// Retrying retries failed fetches according to a crawler.RetryPolicy.
type Retrying struct {
	next   crawler.Fetcher
	policy crawler.RetryPolicy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps next with policy.
func NewRetrying(next crawler.Fetcher, policy crawler.RetryPolicy, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{next: next, policy: policy, logger: logger, sleep: sleepContext}
}

// Fetch implements crawler.Fetcher.
func (r *Retrying) Fetch(ctx context.Context, target crawler.Target) (crawler.Envelope, error) {
	for attempt := 1; ; attempt++ {
		env, err := r.next.Fetch(ctx, target)
		if err == nil {
			return env, nil
		}
		if !r.policy.ShouldRetry(err, attempt) {
			return crawler.Envelope{}, err
		}
		delay := r.policy.Backoff(attempt)
		metrics.ObserveFetchRetry(metrics.SanitizeSite(target.URL))
		r.logger.Debug("retrying fetch",
			zap.String("url", target.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return crawler.Envelope{}, &crawler.FetchError{URL: target.URL, Err: fmt.Errorf("%w (retry aborted: %w)", err, sleepErr)}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RateLimited waits on a per-site limiter before each fetch.
type RateLimited struct {
	next    crawler.Fetcher
	limiter *ratelimit.Limiter
}

// NewRateLimited wraps next with limiter.
func NewRateLimited(next crawler.Fetcher, limiter *ratelimit.Limiter) *RateLimited {
	return &RateLimited{next: next, limiter: limiter}
}

// Fetch implements crawler.Fetcher.
func (r *RateLimited) Fetch(ctx context.Context, target crawler.Target) (crawler.Envelope, error) {
	if err := r.limiter.Wait(ctx, target.URL); err != nil {
		return crawler.Envelope{}, &crawler.FetchError{URL: target.URL, Err: err}
	}
	return r.next.Fetch(ctx, target)
}

// StackConfig selects the decorators applied by Stack.
type StackConfig struct {
	Retry     crawler.RetryPolicy
	Limiter   *ratelimit.Limiter
	CacheSize int
	CacheTTL  time.Duration
}

// Stack wraps base so that the cache is consulted first, then each attempt of
// the retry loop waits on the rate limiter.
func Stack(base crawler.Fetcher, cfg StackConfig, logger *zap.Logger) (crawler.Fetcher, error) {
	f := base
	if cfg.Limiter != nil {
		f = NewRateLimited(f, cfg.Limiter)
	}
	if cfg.Retry != nil {
		f = NewRetrying(f, cfg.Retry, logger)
	}
	if cfg.CacheSize > 0 {
		cached, err := NewCached(f, cfg.CacheSize, cfg.CacheTTL)
		if err != nil {
			return nil, err
		}
		f = cached
	}
	return f, nil
}
