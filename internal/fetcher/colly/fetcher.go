// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/gather-vision/internal/crawler"
)

// DefaultUserAgent identifies the collector to the sites it visits.
const DefaultUserAgent = "gather-vision (+https://github.com/anotherbyte-net/gather-vision)"

// Config controls collector behavior.
type Config struct {
	UserAgent     string        `mapstructure:"user_agent"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	Timeout       time.Duration `mapstructure:"timeout"`
	// MaxBodySize caps the response body in bytes; 0 keeps colly's default.
	MaxBodySize int `mapstructure:"max_body_size"`
}

// Fetcher implements crawler.Fetcher with one cloned collector per request.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher using a pooled transport.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	return NewWithTransport(cfg, newHTTPTransport(), logger)
}

// NewWithTransport builds a Fetcher on top of transport. robots.txt requests are
// retried on TLS handshake timeouts before falling back to allow-all.
func NewWithTransport(cfg Config, transport http.RoundTripper, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	rt := &robotsAwareTransport{base: transport, logger: logger}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(rt)
	return &Fetcher{
		cfg:           cfg,
		transport:     rt,
		baseCollector: c,
		logger:        logger,
	}
}

// Fetch performs the target's request and returns the decoded envelope.
// Non-2xx responses are reported as *crawler.FetchError carrying the status.
func (f *Fetcher) Fetch(ctx context.Context, target crawler.Target) (crawler.Envelope, error) {
	var (
		resp     crawler.Response
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, target, start, &resp, &fetchErr)
	if err := f.runCollector(ctx, collector, target, &fetchErr); err != nil {
		return crawler.Envelope{}, err
	}
	return crawler.BuildEnvelope(target, resp), nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	target crawler.Target,
	start time.Time,
	resp *crawler.Response,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	collector.UserAgent = f.cfg.UserAgent
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	// The engine owns dedup; clones share the base visit store.
	collector.AllowURLRevisit = true
	if f.cfg.MaxBodySize > 0 {
		collector.MaxBodySize = f.cfg.MaxBodySize
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(f.transport)
	f.configureCollectorHooks(collector, target, start, resp, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	target crawler.Target,
	start time.Time,
	resp *crawler.Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range target.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*resp = crawler.Response{
			URL:       r.Request.URL.String(),
			Status:    r.StatusCode,
			Headers:   r.Headers.Clone(),
			Body:      append([]byte(nil), r.Body...),
			FetchedAt: start.UTC(),
			Duration:  time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		*fetchErr = &crawler.FetchError{URL: target.URL, Status: status, Err: err}
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target crawler.Target, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Request(target.RequestMethod(), target.URL, nil, nil, nil)
	}()

	select {
	case <-ctx.Done():
		return &crawler.FetchError{URL: target.URL, Err: fmt.Errorf("colly fetch canceled: %w", ctx.Err())}
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			if errors.Is(err, colly.ErrRobotsTxtBlocked) {
				f.logger.Debug("robots.txt disallows target", zap.String("url", target.URL))
			}
			return &crawler.FetchError{URL: target.URL, Err: fmt.Errorf("colly request: %w", err)}
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
