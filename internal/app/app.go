// Package app wires configuration into long-lived services and exposes the
// update and list operations shared by the CLI and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/gather-vision/internal/clock/system"
	"github.com/JakeFAU/gather-vision/internal/config"
	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/id/uuid"
	"github.com/JakeFAU/gather-vision/internal/progress"
	progresssinks "github.com/JakeFAU/gather-vision/internal/progress/sinks"
	"github.com/JakeFAU/gather-vision/internal/registry"
	"github.com/JakeFAU/gather-vision/internal/sink"
)

// UpdateArgs selects what Update runs. An empty Source runs every registered
// source; SubSource narrows a named plugin to one of its sub-sources.
type UpdateArgs struct {
	Source    string
	SubSource string
}

// SourceResult reports one source run.
type SourceResult struct {
	Source    string           `json:"source"`
	SubSource string           `json:"sub_source,omitempty"`
	RunID     string           `json:"run_id,omitempty"`
	State     crawler.RunState `json:"state"`
	Stats     crawler.Stats    `json:"stats"`
	Error     string           `json:"error,omitempty"`
	Success   bool             `json:"success"`
	Err       error            `json:"-"`
}

// Name is "plugin" or "plugin/sub-source".
func (r SourceResult) Name() string {
	return registry.Unit{Plugin: r.Source, SubSource: r.SubSource}.Name()
}

// UpdateResult aggregates the runs of one Update call in registry order.
type UpdateResult struct {
	Results []SourceResult `json:"results"`
	Success bool           `json:"success"`
}

// ListArgs optionally restricts List to one plugin.
type ListArgs struct {
	Source string
}

// ListResult describes the registered plugins.
type ListResult struct {
	Sources []registry.Listing `json:"sources" yaml:"sources"`
}

// App holds the shared services for the application.
type App struct {
	cfg       config.Config
	reg       *registry.Registry
	logger    *zap.Logger
	engine    *crawler.Engine
	hub       *progress.Hub
	recorders []sink.RunRecorder
	closers   []func(context.Context) error
}

// Option overrides a service New would otherwise build from configuration.
type Option func(*options)

type options struct {
	fetcher    crawler.Fetcher
	sink       crawler.Sink
	clock      crawler.Clock
	ids        crawler.IDGenerator
	registerer prometheus.Registerer
	progress   []progress.Sink
}

// WithFetcher replaces the configured fetch stack.
func WithFetcher(f crawler.Fetcher) Option { return func(o *options) { o.fetcher = f } }

// WithSink replaces the configured sinks.
func WithSink(s crawler.Sink) Option { return func(o *options) { o.sink = s } }

// WithClock sets the clock used for run and record timestamps.
func WithClock(c crawler.Clock) Option { return func(o *options) { o.clock = c } }

// WithIDGenerator sets the run ID generator.
func WithIDGenerator(ids crawler.IDGenerator) Option { return func(o *options) { o.ids = ids } }

// WithRegisterer sets where progress collectors are registered.
func WithRegisterer(r prometheus.Registerer) Option { return func(o *options) { o.registerer = r } }

// WithProgressSinks adds progress sinks next to the configured ones.
func WithProgressSinks(s ...progress.Sink) Option {
	return func(o *options) { o.progress = append(o.progress, s...) }
}

// New builds the App. It fails fast when a configured service cannot start,
// releasing whatever was already opened.
func New(ctx context.Context, cfg config.Config, reg *registry.Registry, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if reg == nil {
		return nil, eris.New("app: registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{clock: system.New(), ids: uuid.New()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, reg: reg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	fetcher := o.fetcher
	if fetcher == nil {
		if fetcher, err = a.buildFetcher(); err != nil {
			return nil, err
		}
	}

	out := o.sink
	if out == nil {
		if out, err = a.buildSink(ctx, o.clock); err != nil {
			return nil, err
		}
	} else if rec, ok := out.(sink.RunRecorder); ok {
		a.recorders = append(a.recorders, rec)
	}

	progressSinks := append([]progress.Sink(nil), o.progress...)
	if cfg.Progress.Log {
		progressSinks = append(progressSinks, progresssinks.NewLogSink(logger.Named("progress")))
	}
	if cfg.Progress.Prometheus {
		promSink, perr := progresssinks.NewPrometheusSink(o.registerer)
		if perr != nil {
			return nil, perr
		}
		progressSinks = append(progressSinks, promSink)
	}
	hubCfg := cfg.Progress.Hub
	hubCfg.Logger = logger.Named("progress")
	a.hub = progress.NewHub(hubCfg, progressSinks...)

	a.engine, err = crawler.NewEngine(cfg.Engine, fetcher, out,
		crawler.WithLogger(logger.Named("engine")),
		crawler.WithEmitter(a.hub),
		crawler.WithClock(o.clock),
		crawler.WithIDGenerator(o.ids),
	)
	if err != nil {
		return nil, eris.Wrap(err, "app: build engine")
	}
	logger.Info("application services initialized",
		zap.String("fetcher", cfg.Fetcher.Mode),
		zap.Strings("sinks", cfg.Sink.Types))
	return a, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Registry returns the source registry.
func (a *App) Registry() *registry.Registry { return a.reg }

// Update runs the selected sources. An unknown source or sub-source fails
// before anything runs; a failing source never stops the others.
func (a *App) Update(ctx context.Context, args UpdateArgs) (UpdateResult, error) {
	units, err := a.reg.Resolve(args.Source, args.SubSource)
	if err != nil {
		return UpdateResult{}, err
	}

	results := make([]SourceResult, len(units))
	var g errgroup.Group
	g.SetLimit(max(a.cfg.Orchestrator.Parallelism, 1))
	for i, unit := range units {
		g.Go(func() error {
			results[i] = a.runUnit(ctx, unit)
			return nil
		})
	}
	_ = g.Wait()

	out := UpdateResult{Results: results, Success: true}
	for _, r := range results {
		out.Success = out.Success && r.Success
	}
	return out, nil
}

func (a *App) runUnit(ctx context.Context, unit registry.Unit) SourceResult {
	name := unit.Name()
	res := SourceResult{Source: unit.Plugin, SubSource: unit.SubSource}

	src, err := a.buildSource(unit)
	if err != nil {
		res.State = crawler.StateAborted
		res.Err = &crawler.FatalSourceError{Source: name, Err: eris.Wrap(err, "build source")}
		res.Error = res.Err.Error()
		a.logger.Error("source could not be built", zap.String("source", name), zap.Error(err))
		return res
	}

	run := a.engine.Run(ctx, name, src)
	res.RunID = run.RunID
	res.State = run.State
	res.Stats = run.Stats
	res.Err = run.Err
	if run.Err != nil {
		res.Error = run.Err.Error()
	}
	res.Success = run.State == crawler.StateCompleted && run.Err == nil

	for _, rec := range a.recorders {
		if err := rec.RecordRun(context.WithoutCancel(ctx), run); err != nil {
			a.logger.Warn("record run failed", zap.String("source", name), zap.Error(err))
		}
	}
	a.logger.Info("source run finished",
		zap.String("source", name),
		zap.String("run_id", run.RunID),
		zap.String("state", string(run.State)),
		zap.Int("visited", run.Stats.Visited),
		zap.Int("items", run.Stats.Items),
		zap.Bool("success", res.Success))
	return res
}

// buildSource calls the unit's factory, turning a panic into an error.
func (a *App) buildSource(unit registry.Unit) (src crawler.Source, err error) {
	defer func() {
		if p := recover(); p != nil {
			src, err = nil, fmt.Errorf("factory panicked: %v", p)
		}
	}()
	opts := registry.Options(a.cfg.Sources[unit.Plugin]).For(unit.SubSource)
	src, err = unit.Factory(opts)
	if err == nil && src == nil {
		err = errors.New("factory returned no source")
	}
	return src, err
}

// List describes the registered sources. It has no side effects.
func (a *App) List(args ListArgs) (ListResult, error) {
	listings, err := a.reg.List(args.Source)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Sources: listings}, nil
}

// Close flushes progress events and releases every opened service.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
		a.hub = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
