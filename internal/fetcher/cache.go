package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/metrics"
)

type cachedResponse struct {
	resp     crawler.Response
	storedAt time.Time
}

// Cached keeps successful GET responses in an LRU so repeated runs inside one
// process do not refetch unchanged pages. Entries older than ttl are refetched.
type Cached struct {
	next  crawler.Fetcher
	cache *lru.Cache[string, cachedResponse]
	ttl   time.Duration
	now   func() time.Time
}

// NewCached wraps next with an LRU of the given size. A zero ttl never expires entries.
func NewCached(next crawler.Fetcher, size int, ttl time.Duration) (*Cached, error) {
	cache, err := lru.New[string, cachedResponse](size)
	if err != nil {
		return nil, fmt.Errorf("create response cache: %w", err)
	}
	return &Cached{next: next, cache: cache, ttl: ttl, now: time.Now}, nil
}

// Fetch implements crawler.Fetcher. Each hit rebuilds the envelope so callers
// never share a parsed document.
func (c *Cached) Fetch(ctx context.Context, target crawler.Target) (crawler.Envelope, error) {
	if target.RequestMethod() != http.MethodGet {
		return c.next.Fetch(ctx, target)
	}
	key, err := target.Key()
	if err != nil {
		return c.next.Fetch(ctx, target)
	}
	if entry, ok := c.cache.Get(key); ok {
		if c.ttl <= 0 || c.now().Sub(entry.storedAt) < c.ttl {
			metrics.ObserveCacheLookup(true)
			return crawler.BuildEnvelope(target, entry.resp), nil
		}
		c.cache.Remove(key)
	}
	metrics.ObserveCacheLookup(false)

	env, err := c.next.Fetch(ctx, target)
	if err != nil {
		return env, err
	}
	c.cache.Add(key, cachedResponse{
		resp: crawler.Response{
			URL:       env.ResponseURL,
			Status:    env.Status,
			Headers:   env.Headers.Clone(),
			Body:      env.Body,
			FetchedAt: env.FetchedAt,
			Duration:  env.Duration,
		},
		storedAt: c.now(),
	})
	return env, nil
}

// Len reports the number of cached responses.
func (c *Cached) Len() int {
	return c.cache.Len()
}
