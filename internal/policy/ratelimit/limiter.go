// Package ratelimit spaces out requests to the same site with per-host token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/gather-vision/internal/metrics"
)

// Config holds rate limiter configuration. A non-positive RPS disables limiting.
type Config struct {
	DefaultRPS   float64 `mapstructure:"rps"`
	DefaultBurst int     `mapstructure:"burst"`
	// Sites overrides the rate per host. It is a list rather than a map
	// because host names contain the config key delimiter.
	Sites []SiteLimit `mapstructure:"sites"`
}

// SiteLimit is the request rate for one host.
type SiteLimit struct {
	Host string  `mapstructure:"host"`
	RPS  float64 `mapstructure:"rps"`
}

// Limiter manages one token bucket per host.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perSite  map[string]float64
	cfg      Config
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	if cfg.DefaultBurst <= 0 {
		cfg.DefaultBurst = 1
	}
	perSite := make(map[string]float64, len(cfg.Sites))
	for _, site := range cfg.Sites {
		perSite[strings.ToLower(strings.TrimSpace(site.Host))] = site.RPS
	}
	return &Limiter{limiters: make(map[string]*rate.Limiter), perSite: perSite, cfg: cfg}
}

// Wait blocks until a token is available for the host of rawURL.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	site := metrics.SanitizeSite(rawURL)
	limiter := l.limiterFor(site)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", site, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(site, waited)
	}
	return nil
}

func (l *Limiter) limiterFor(site string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[site]; ok {
		return limiter
	}
	rps, ok := l.perSite[site]
	if !ok {
		rps = l.cfg.DefaultRPS
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	limiter := rate.NewLimiter(limit, l.cfg.DefaultBurst)
	l.limiters[site] = limiter
	return limiter
}
