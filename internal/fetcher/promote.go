package fetcher

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/metrics"
)

// Detector decides whether a response must be rendered in a browser.
type Detector interface {
	NeedsRendering(env crawler.Envelope) bool
}

// Promoting fetches with a plain fetcher and re-fetches GET targets through a
// renderer when the detector flags the response. A failed render falls back
// to the plain response.
type Promoting struct {
	plain    crawler.Fetcher
	renderer crawler.Fetcher
	detector Detector
	logger   *zap.Logger
}

// NewPromoting wraps plain and renderer.
func NewPromoting(plain, renderer crawler.Fetcher, detector Detector, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{plain: plain, renderer: renderer, detector: detector, logger: logger}
}

// Fetch implements crawler.Fetcher.
func (p *Promoting) Fetch(ctx context.Context, target crawler.Target) (crawler.Envelope, error) {
	env, err := p.plain.Fetch(ctx, target)
	if err != nil || target.RequestMethod() != http.MethodGet || !p.detector.NeedsRendering(env) {
		return env, err
	}

	rendered, rerr := p.renderer.Fetch(ctx, target)
	metrics.ObserveHeadlessPromotion(metrics.SanitizeSite(target.URL), rerr)
	if rerr != nil {
		p.logger.Warn("headless render failed; keeping plain response",
			zap.String("url", target.URL), zap.Error(rerr))
		return env, nil
	}
	p.logger.Debug("response rendered headless", zap.String("url", target.URL))
	return rendered, nil
}
