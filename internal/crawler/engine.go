package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/gather-vision/internal/progress"
)

// Bound labels recorded in Stats.Bound.
const (
	BoundMaxTargets = "max_targets"
	BoundBudget     = "budget"
)

// Engine drives one source from seeds to a drained frontier. An Engine holds
// no per-run state and may run several sources concurrently.
type Engine struct {
	cfg     Config
	fetcher Fetcher
	sink    Sink
	deny    *hostDenylist
	logger  *zap.Logger
	emitter progress.Emitter
	clock   Clock
	ids     IDGenerator
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEmitter sends run and fetch milestones to emitter.
func WithEmitter(emitter progress.Emitter) Option {
	return func(e *Engine) {
		e.emitter = emitter
	}
}

// WithClock overrides the clock used for run timestamps.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithIDGenerator overrides the run ID source.
func WithIDGenerator(ids IDGenerator) Option {
	return func(e *Engine) {
		if ids != nil {
			e.ids = ids
		}
	}
}

// NewEngine validates cfg and wires the fetch and sink capabilities.
func NewEngine(cfg Config, fetcher Fetcher, sink Sink, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, errors.New("engine: fetcher is required")
	}
	if sink == nil {
		return nil, errors.New("engine: sink is required")
	}
	e := &Engine{
		cfg:     cfg,
		fetcher: fetcher,
		sink:    sink,
		deny:    newHostDenylist(cfg.DenyDomains),
		logger:  zap.NewNop(),
		clock:   wallClock{},
		ids:     randomIDs{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

type fetchResult struct {
	env Envelope
	err error
}

type slot struct {
	target Target
	done   chan fetchResult
}

// run is the per-invocation state owned by a single Run call.
type run struct {
	engine   *Engine
	name     string
	id       uuid.UUID
	source   Source
	frontier *Frontier
	result   RunResult
	logger   *zap.Logger
}

// Run executes the crawl/extract loop for source and reports what happened.
// Results are committed in the order targets were popped, so for deterministic
// fetch and extract behavior the visit order and item order do not depend on
// Concurrency.
func (e *Engine) Run(ctx context.Context, name string, source Source) RunResult {
	id, err := e.ids.NewRawID()
	if err != nil {
		id = uuid.New()
	}
	r := &run{
		engine:   e,
		name:     name,
		id:       id,
		source:   source,
		frontier: NewFrontier(),
		logger:   e.logger.With(zap.String("source", name), zap.Stringer("run_id", id)),
		result: RunResult{
			Source:    name,
			RunID:     id.String(),
			State:     StateIdle,
			StartedAt: e.clock.Now(),
		},
	}
	r.emit(progress.Event{Stage: progress.StageRunStart})
	r.logger.Debug("source run started")

	if err := r.seed(); err != nil {
		return r.finish(err)
	}
	return r.finish(r.drain(ctx))
}

func (r *run) seed() (err error) {
	r.result.State = StateSeeding
	defer func() {
		if p := recover(); p != nil {
			err = &FatalSourceError{Source: r.name, Err: fmt.Errorf("seed panicked: %v", p)}
		}
	}()
	if v, ok := r.source.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate source: %w", err)
		}
	}
	for t := range r.source.Seed() {
		if r.enqueue(t, "seed") {
			r.result.Stats.Seeded++
		}
	}
	return nil
}

// enqueue applies the deny list and the frontier dedup. It reports whether t was added.
func (r *run) enqueue(t Target, stage string) bool {
	if r.engine.deny.Denies(Host(t.URL)) {
		r.result.Stats.Denied++
		return false
	}
	added, err := r.frontier.Push(t)
	if err != nil {
		r.result.Stats.ParseErrors++
		r.fail(t.URL, stage, err)
		return false
	}
	if !added {
		r.result.Stats.Duplicates++
	}
	return added
}

func (r *run) drain(ctx context.Context) error {
	r.result.State = StateDraining
	cfg := r.engine.cfg

	// Fetches outlive ctx so a canceled run can finish in-flight work within DrainTimeout.
	fetchCtx, abandon := context.WithCancel(context.WithoutCancel(ctx))
	defer abandon()

	var deadline time.Time
	if cfg.Budget > 0 {
		deadline = r.result.StartedAt.Add(cfg.Budget)
	}

	window := make([]slot, 0, cfg.Concurrency)
	issued := 0
	stopIssuing := false
	for {
		for !stopIssuing && len(window) < cfg.Concurrency {
			if ctx.Err() != nil {
				break
			}
			if r.frontier.Len() == 0 {
				break
			}
			if cfg.MaxTargets > 0 && issued >= cfg.MaxTargets {
				r.result.Stats.Bound = BoundMaxTargets
				stopIssuing = true
				break
			}
			if !deadline.IsZero() && !r.engine.clock.Now().Before(deadline) {
				r.result.Stats.Bound = BoundBudget
				stopIssuing = true
				break
			}
			t, ok := r.frontier.Pop()
			if !ok {
				break
			}
			issued++
			window = append(window, r.issue(fetchCtx, t))
		}
		if ctx.Err() != nil {
			return r.cancel(ctx, window)
		}
		if len(window) == 0 {
			return nil
		}
		select {
		case res := <-window[0].done:
			head := window[0]
			window = window[1:]
			if err := r.commit(ctx, head.target, res); err != nil {
				return err
			}
		case <-ctx.Done():
			return r.cancel(ctx, window)
		}
	}
}

func (r *run) issue(ctx context.Context, t Target) slot {
	s := slot{target: t, done: make(chan fetchResult, 1)}
	timeout := r.engine.cfg.FetchTimeout
	go func() {
		fctx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		env, err := r.engine.fetcher.Fetch(fctx, t)
		s.done <- fetchResult{env: env, err: err}
	}()
	return s
}

// cancel waits up to DrainTimeout for in-flight fetches, committing those that
// finish in order, then abandons the rest.
func (r *run) cancel(ctx context.Context, window []slot) error {
	reason := fmt.Errorf("%w: %w", ErrCanceled, context.Cause(ctx))
	commitCtx := context.WithoutCancel(ctx)
	timer := time.NewTimer(r.engine.cfg.DrainTimeout)
	defer timer.Stop()
	for i, s := range window {
		select {
		case res := <-s.done:
			if err := r.commit(commitCtx, s.target, res); err != nil {
				return err
			}
		case <-timer.C:
			for _, rest := range window[i:] {
				r.fail(rest.target.URL, "abandon", reason)
			}
			r.logger.Warn("abandoned in-flight fetches", zap.Int("count", len(window)-i))
			return reason
		}
	}
	return reason
}

// commit processes one fetch result: extract, enqueue discovered targets, forward items.
// It returns an error only when the run must abort.
func (r *run) commit(ctx context.Context, t Target, res fetchResult) error {
	stats := &r.result.Stats
	stats.Visited++
	r.result.Visited = append(r.result.Visited, t.URL)
	if res.err != nil {
		var fetchErr *FetchError
		if !errors.As(res.err, &fetchErr) {
			res.err = &FetchError{URL: t.URL, Err: res.err}
		}
		stats.FetchErrors++
		r.fail(t.URL, "fetch", res.err)
		r.emit(progress.Event{
			Stage: progress.StageFetchError,
			Site:  Host(t.URL),
			URL:   t.URL,
			Note:  res.err.Error(),
		})
		return nil
	}
	env := res.env
	r.emit(progress.Event{
		Stage:       progress.StageFetchDone,
		Site:        Host(env.ResponseURL),
		URL:         env.ResponseURL,
		Bytes:       int64(len(env.Body)),
		StatusClass: progress.ClassifyStatus(env.Status),
		Dur:         env.Duration,
	})
	return r.extract(ctx, t, env)
}

func (r *run) extract(ctx context.Context, parent Target, env Envelope) (err error) {
	stats := &r.result.Stats
	defer func() {
		if p := recover(); p != nil {
			stats.ParseErrors++
			r.fail(env.ResponseURL, "extract", NewParseFailure(env, "extract panicked", fmt.Errorf("%v", p)))
			err = nil
		}
	}()
	for out, yieldErr := range r.source.Extract(env) {
		if yieldErr != nil {
			if IsFatal(yieldErr) {
				return yieldErr
			}
			stats.ParseErrors++
			r.fail(env.ResponseURL, "extract", yieldErr)
			return nil
		}
		switch {
		case out.Target != nil:
			r.discover(parent, env, *out.Target)
		case out.Item != nil:
			if err := r.forward(ctx, env.ResponseURL, out.Item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) discover(parent Target, env Envelope, t Target) {
	if resolved, err := ResolveURL(env.ResponseURL, t.URL); err == nil {
		t.URL = resolved
	}
	depth := parent.Depth() + 1
	if limit := r.engine.cfg.MaxDepth; limit > 0 && depth > limit {
		r.result.Stats.DepthSkipped++
		return
	}
	t = t.WithMeta(MetaDepth, depth).WithMeta(MetaParent, parent.URL)
	if r.enqueue(t, "enqueue") {
		r.result.Stats.Discovered++
	}
}

func (r *run) forward(ctx context.Context, url string, item Item) error {
	r.result.Stats.Items++
	if err := r.engine.sink.Accept(ctx, r.name, item); err != nil {
		if errors.Is(err, ErrSinkFatal) {
			return &SinkError{Source: r.name, Err: err}
		}
		r.result.Stats.SinkErrors += LostRecords(err)
		r.fail(url, "sink", &SinkError{Source: r.name, Err: err})
	}
	return nil
}

func (r *run) finish(err error) RunResult {
	if flusher, ok := r.engine.sink.(SourceFlusher); ok {
		if ferr := flusher.FlushSource(context.Background(), r.name); ferr != nil {
			if errors.Is(ferr, ErrSinkFatal) && err == nil {
				err = &SinkError{Source: r.name, Err: ferr}
			} else {
				r.result.Stats.SinkErrors += LostRecords(ferr)
				r.fail("", "flush", ferr)
			}
		}
	}

	r.result.FinishedAt = r.engine.clock.Now()
	elapsed := r.result.FinishedAt.Sub(r.result.StartedAt)
	stats := r.result.Stats
	fields := []zap.Field{
		zap.Int("visited", stats.Visited),
		zap.Int("items", stats.Items),
		zap.Int("fetch_errors", stats.FetchErrors),
		zap.Int("parse_errors", stats.ParseErrors),
		zap.Int("sink_errors", stats.SinkErrors),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		r.result.State = StateAborted
		var fatal *FatalSourceError
		if errors.As(err, &fatal) {
			if fatal.Source == "" {
				fatal.Source = r.name
			}
			r.result.Err = err
		} else {
			r.result.Err = &FatalSourceError{Source: r.name, Err: err}
		}
		r.emit(progress.Event{Stage: progress.StageRunAbort, Dur: elapsed, Items: int64(stats.Items), Note: err.Error()})
		r.logger.Error("source run aborted", append(fields, zap.Error(err))...)
		return r.result
	}
	r.result.State = StateCompleted
	r.emit(progress.Event{Stage: progress.StageRunDone, Dur: elapsed, Items: int64(stats.Items), Note: stats.Bound})
	r.logger.Info("source run completed", append(fields, zap.String("bound", stats.Bound))...)
	return r.result
}

func (r *run) fail(url, stage string, err error) {
	r.result.Stats.Failures = append(r.result.Stats.Failures, Failure{URL: url, Stage: stage, Error: err.Error()})
	r.logger.Debug("target failed", zap.String("url", url), zap.String("stage", stage), zap.Error(err))
}

func (r *run) emit(evt progress.Event) {
	if r.engine.emitter == nil {
		return
	}
	evt.RunID = r.id
	evt.Source = r.name
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	r.engine.emitter.Emit(evt)
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

type randomIDs struct{}

func (randomIDs) NewRawID() (uuid.UUID, error) { return uuid.NewV7() }
