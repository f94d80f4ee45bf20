package app

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/JakeFAU/gather-vision/internal/config"
	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/fetcher"
	collyfetcher "github.com/JakeFAU/gather-vision/internal/fetcher/colly"
	"github.com/JakeFAU/gather-vision/internal/fetcher/headless"
	"github.com/JakeFAU/gather-vision/internal/hash/sha256"
	"github.com/JakeFAU/gather-vision/internal/headless/detector"
	"github.com/JakeFAU/gather-vision/internal/policy/ratelimit"
	"github.com/JakeFAU/gather-vision/internal/sink"
	"github.com/JakeFAU/gather-vision/internal/sink/blob"
	"github.com/JakeFAU/gather-vision/internal/sink/blob/gcs"
	"github.com/JakeFAU/gather-vision/internal/sink/blob/local"
	blobmemory "github.com/JakeFAU/gather-vision/internal/sink/blob/memory"
	"github.com/JakeFAU/gather-vision/internal/sink/blob/s3"
	"github.com/JakeFAU/gather-vision/internal/sink/memory"
	"github.com/JakeFAU/gather-vision/internal/sink/postgres"
	"github.com/JakeFAU/gather-vision/internal/sink/pubsub"
	"github.com/JakeFAU/gather-vision/internal/sink/sqlite"
)

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *App) buildFetcher() (crawler.Fetcher, error) {
	cfg := a.cfg.Fetcher
	logger := a.logger.Named("fetcher")

	var base crawler.Fetcher
	switch cfg.Mode {
	case config.FetchHeadless:
		f, err := a.startHeadless()
		if err != nil {
			return nil, err
		}
		base = f
	case config.FetchAuto:
		f, err := a.startHeadless()
		if err != nil {
			return nil, err
		}
		base = fetcher.NewPromoting(collyfetcher.New(cfg.HTTP, logger), f,
			detector.NewHeuristic(cfg.Promote.MinTextBytes), logger)
	case config.FetchHTTP, "":
		base = collyfetcher.New(cfg.HTTP, logger)
	default:
		return nil, eris.Errorf("app: unknown fetcher mode %q", cfg.Mode)
	}

	stack := fetcher.StackConfig{
		Limiter:   ratelimit.New(cfg.RateLimit),
		CacheSize: cfg.Cache.Size,
		CacheTTL:  cfg.Cache.TTL,
	}
	if cfg.Retry.MaxAttempts > 1 {
		stack.Retry = crawler.NewExponentialRetryPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay)
	}
	f, err := fetcher.Stack(base, stack, logger)
	if err != nil {
		return nil, eris.Wrap(err, "app: build fetch stack")
	}
	return f, nil
}

func (a *App) startHeadless() (*headless.Fetcher, error) {
	f, err := headless.NewChromedp(a.cfg.Fetcher.Headless)
	if err != nil {
		return nil, eris.Wrap(err, "app: start headless fetcher")
	}
	a.onClose(func(context.Context) error { return f.Close() })
	return f, nil
}

func (a *App) buildSink(ctx context.Context, clock crawler.Clock) (crawler.Sink, error) {
	encoder := sink.NewEncoder(sha256.New(), clock)
	cfg := a.cfg.Sink

	var sinks sink.Multi
	for _, kind := range cfg.Types {
		s, err := a.openSink(ctx, kind, encoder, clock)
		if err != nil {
			return nil, eris.Wrapf(err, "app: open %s sink", kind)
		}
		if rec, ok := s.(sink.RunRecorder); ok {
			a.recorders = append(a.recorders, rec)
		}
		sinks = append(sinks, s)
	}

	switch len(sinks) {
	case 0:
		return sink.Discard{}, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

func (a *App) openSink(ctx context.Context, kind string, encoder *sink.Encoder, clock crawler.Clock) (crawler.Sink, error) {
	cfg := a.cfg.Sink
	switch kind {
	case config.SinkDiscard:
		return sink.Discard{}, nil
	case config.SinkMemory:
		return memory.New(encoder), nil
	case config.SinkSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLite, encoder)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return s.Close() })
		return s, nil
	case config.SinkPostgres:
		s, err := postgres.Open(ctx, cfg.Postgres, encoder)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { s.Close(); return nil })
		return s, nil
	case config.SinkBlob:
		store, err := a.openObjectStore(ctx)
		if err != nil {
			return nil, err
		}
		return blob.New(store, cfg.Blob.Batch, encoder, clock, a.logger.Named("blob"))
	case config.SinkPubSub:
		pub, err := pubsub.Dial(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return pub.Close() })
		return pubsub.New(pub, encoder)
	default:
		return nil, fmt.Errorf("unknown sink type %q", kind)
	}
}

func (a *App) openObjectStore(ctx context.Context) (blob.ObjectStore, error) {
	cfg := a.cfg.Sink.Blob
	switch cfg.Backend {
	case config.BlobLocal, "":
		return local.New(cfg.Local)
	case config.BlobMemory:
		return blobmemory.New(), nil
	case config.BlobGCS:
		store, err := gcs.Dial(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return store.Close() })
		return store, nil
	case config.BlobS3:
		return s3.New(cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}
