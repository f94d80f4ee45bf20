package crawler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/gather-vision/internal/clock/system"
)

// scriptedSource seeds fixed URLs and replays a per-URL list of outputs.
type scriptedSource struct {
	seeds   []string
	outputs map[string][]Output
	errs    map[string]error
}

func (s *scriptedSource) Seed() iter.Seq[Target] {
	return func(yield func(Target) bool) {
		for _, u := range s.seeds {
			if !yield(NewTarget(u)) {
				return
			}
		}
	}
}

func (s *scriptedSource) Extract(env Envelope) iter.Seq2[Output, error] {
	return func(yield func(Output, error) bool) {
		for _, out := range s.outputs[env.RequestURL] {
			if !yield(out, nil) {
				return
			}
		}
		if err := s.errs[env.RequestURL]; err != nil {
			yield(Output{}, err)
		}
	}
}

// stubFetcher serves text bodies, failing for URLs in fail and sleeping per delay.
type stubFetcher struct {
	delay map[string]time.Duration
	fail  map[string]error
	calls atomic.Int64

	mu      sync.Mutex
	fetched []string
}

func (f *stubFetcher) Fetch(ctx context.Context, t Target) (Envelope, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.fetched = append(f.fetched, t.URL)
	f.mu.Unlock()
	if d := f.delay[t.URL]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		}
	}
	if err := f.fail[t.URL]; err != nil {
		return Envelope{}, err
	}
	return BuildEnvelope(t, Response{Status: 200, Body: []byte("ok " + t.URL)}), nil
}

type memorySink struct {
	mu    sync.Mutex
	items []Item
	err   func(Item) error
}

func (s *memorySink) Accept(_ context.Context, _ string, item Item) error {
	if s.err != nil {
		if err := s.err(item); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return nil
}

func (s *memorySink) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Item(nil), s.items...)
}

const (
	urlA = "https://example.test/a"
	urlB = "https://example.test/b"
	urlC = "https://example.test/c"
)

func abcSource() *scriptedSource {
	return &scriptedSource{
		seeds: []string{urlA},
		outputs: map[string][]Output{
			urlA: {Follow(NewTarget(urlB)), Emit("i1"), Follow(NewTarget(urlC))},
			urlB: {Emit("i2"), Follow(NewTarget(urlA))},
			urlC: {Emit("i3")},
		},
	}
}

func newTestEngine(t *testing.T, cfg Config, fetcher Fetcher, sink Sink) *Engine {
	t.Helper()
	engine, err := NewEngine(cfg, fetcher, sink, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	return engine
}

func TestEngineRunsABCExample(t *testing.T) {
	t.Parallel()

	sink := &memorySink{}
	fetcher := &stubFetcher{}
	engine := newTestEngine(t, DefaultConfig(), fetcher, sink)

	res := engine.Run(context.Background(), "abc", abcSource())

	require.Equal(t, StateCompleted, res.State)
	require.NoError(t, res.Err)
	require.Equal(t, []string{urlA, urlB, urlC}, res.Visited)
	require.Equal(t, []Item{"i1", "i2", "i3"}, sink.Items())
	require.Equal(t, 3, res.Stats.Visited)
	require.Equal(t, 3, res.Stats.Items)
	require.Equal(t, 1, res.Stats.Seeded)
	require.Equal(t, 2, res.Stats.Discovered)
	require.Equal(t, 1, res.Stats.Duplicates)
	require.EqualValues(t, 3, fetcher.calls.Load())
	require.NotEmpty(t, res.RunID)
}

func TestEngineDeduplicatesEquivalentURLs(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{
		seeds: []string{"https://Example.test:443/a?y=2&x=1", "https://example.test/a?x=1&y=2#frag"},
		outputs: map[string][]Output{
			"https://Example.test:443/a?y=2&x=1": {
				Follow(NewTarget("https://example.test/a?x=1&y=2")),
				Follow(NewTarget("https://example.test/a?x=1&y=2").WithMethod("POST")),
			},
		},
	}
	fetcher := &stubFetcher{}
	res := newTestEngine(t, DefaultConfig(), fetcher, &memorySink{}).Run(context.Background(), "dedup", src)

	require.Equal(t, StateCompleted, res.State)
	require.Equal(t, 2, res.Stats.Visited, "GET once plus the distinct POST")
	require.Equal(t, 2, res.Stats.Duplicates)
	require.EqualValues(t, 2, fetcher.calls.Load())
}

func TestEngineDeterministicAcrossConcurrency(t *testing.T) {
	t.Parallel()

	// Later URLs answer faster so unordered commit would reorder them.
	src := &scriptedSource{
		seeds:   []string{"https://example.test/0"},
		outputs: map[string][]Output{},
	}
	delays := map[string]time.Duration{}
	for i := 0; i < 8; i++ {
		u := fmt.Sprintf("https://example.test/%d", i)
		delays[u] = time.Duration(8-i) * 3 * time.Millisecond
		var outs []Output
		for j := 1; j <= 2; j++ {
			child := 2*i + j
			if child < 8 {
				outs = append(outs, Follow(NewTarget(fmt.Sprintf("https://example.test/%d", child))))
			}
		}
		outs = append(outs, Emit(fmt.Sprintf("item-%d", i)))
		src.outputs[u] = outs
	}

	var baselineVisits []string
	var baselineItems []Item
	for _, concurrency := range []int{1, 2, 3, 8} {
		cfg := DefaultConfig()
		cfg.Concurrency = concurrency
		sink := &memorySink{}
		res := newTestEngine(t, cfg, &stubFetcher{delay: delays}, sink).Run(context.Background(), "tree", src)
		require.Equal(t, StateCompleted, res.State)
		if baselineVisits == nil {
			baselineVisits, baselineItems = res.Visited, sink.Items()
			require.Len(t, baselineVisits, 8)
			continue
		}
		if diff := cmp.Diff(baselineVisits, res.Visited); diff != "" {
			t.Fatalf("visit order differs at concurrency %d (-want +got):\n%s", concurrency, diff)
		}
		if diff := cmp.Diff(baselineItems, sink.Items()); diff != "" {
			t.Fatalf("item order differs at concurrency %d (-want +got):\n%s", concurrency, diff)
		}
	}
}

func TestEngineIsolatesFetchErrors(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{fail: map[string]error{urlB: &FetchError{URL: urlB, Status: 503, Err: errors.New("unavailable")}}}
	sink := &memorySink{}
	res := newTestEngine(t, DefaultConfig(), fetcher, sink).Run(context.Background(), "abc", abcSource())

	require.Equal(t, StateCompleted, res.State)
	require.Equal(t, []Item{"i1", "i3"}, sink.Items())
	require.Equal(t, 1, res.Stats.FetchErrors)
	require.Len(t, res.Stats.Failures, 1)
	require.Equal(t, "fetch", res.Stats.Failures[0].Stage)
	require.Equal(t, urlB, res.Stats.Failures[0].URL)
}

func TestEngineKeepsOutputsBeforeParseFailure(t *testing.T) {
	t.Parallel()

	src := abcSource()
	src.errs = map[string]error{urlA: NewParseFailure(Envelope{ResponseURL: urlA}, "missing table", nil)}
	sink := &memorySink{}
	res := newTestEngine(t, DefaultConfig(), &stubFetcher{}, sink).Run(context.Background(), "abc", src)

	require.Equal(t, StateCompleted, res.State)
	require.Equal(t, []Item{"i1", "i2", "i3"}, sink.Items())
	require.Equal(t, 1, res.Stats.ParseErrors)
	require.Equal(t, "extract", res.Stats.Failures[0].Stage)
}

func TestEngineRecoversExtractPanic(t *testing.T) {
	t.Parallel()

	src := &panickySource{scriptedSource: abcSource(), panicAt: urlB}
	sink := &memorySink{}
	res := newTestEngine(t, DefaultConfig(), &stubFetcher{}, sink).Run(context.Background(), "abc", src)

	require.Equal(t, StateCompleted, res.State)
	require.Equal(t, []Item{"i1", "i3"}, sink.Items())
	require.Equal(t, 1, res.Stats.ParseErrors)
}

type panickySource struct {
	*scriptedSource
	panicAt string
}

func (s *panickySource) Extract(env Envelope) iter.Seq2[Output, error] {
	if env.RequestURL == s.panicAt {
		return func(func(Output, error) bool) { panic("selector exploded") }
	}
	return s.scriptedSource.Extract(env)
}

func TestEngineAbortsOnFatalExtractError(t *testing.T) {
	t.Parallel()

	src := abcSource()
	src.errs = map[string]error{urlA: Fatal(errors.New("layout changed"))}
	sink := &memorySink{}
	res := newTestEngine(t, DefaultConfig(), &stubFetcher{}, sink).Run(context.Background(), "abc", src)

	require.Equal(t, StateAborted, res.State)
	var fatal *FatalSourceError
	require.ErrorAs(t, res.Err, &fatal)
	require.Equal(t, "abc", fatal.Source)
	require.Equal(t, []Item{"i1"}, sink.Items())
}

func TestEngineSinkErrors(t *testing.T) {
	t.Parallel()

	t.Run("non-fatal sink error is recorded", func(t *testing.T) {
		t.Parallel()
		sink := &memorySink{err: func(item Item) error {
			if item == "i2" {
				return errors.New("disk full")
			}
			return nil
		}}
		res := newTestEngine(t, DefaultConfig(), &stubFetcher{}, sink).Run(context.Background(), "abc", abcSource())
		require.Equal(t, StateCompleted, res.State)
		require.Equal(t, 1, res.Stats.SinkErrors)
		require.Equal(t, []Item{"i1", "i3"}, sink.Items())
	})

	t.Run("fatal sink error aborts", func(t *testing.T) {
		t.Parallel()
		sink := &memorySink{err: func(Item) error { return fmt.Errorf("connection lost: %w", ErrSinkFatal) }}
		res := newTestEngine(t, DefaultConfig(), &stubFetcher{}, sink).Run(context.Background(), "abc", abcSource())
		require.Equal(t, StateAborted, res.State)
		require.ErrorIs(t, res.Err, ErrSinkFatal)
		require.Equal(t, []string{urlA}, res.Visited)
	})
}

func TestEngineRespectsMaxTargets(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.MaxTargets = 2
	fetcher := &stubFetcher{}
	res := newTestEngine(t, cfg, fetcher, &memorySink{}).Run(context.Background(), "abc", abcSource())

	require.Equal(t, StateCompleted, res.State)
	require.Equal(t, []string{urlA, urlB}, res.Visited)
	require.Equal(t, BoundMaxTargets, res.Stats.Bound)
	require.EqualValues(t, 2, fetcher.calls.Load())
}

func TestEngineRespectsMaxDepth(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{
		seeds: []string{"https://example.test/d0"},
		outputs: map[string][]Output{
			"https://example.test/d0": {Follow(NewTarget("/d1"))},
			"https://example.test/d1": {Follow(NewTarget("/d2"))},
			"https://example.test/d2": {Follow(NewTarget("/d3"))},
		},
	}
	cfg := DefaultConfig()
	cfg.MaxDepth = 2
	res := newTestEngine(t, cfg, &stubFetcher{}, &memorySink{}).Run(context.Background(), "depth", src)

	require.Equal(t, []string{"https://example.test/d0", "https://example.test/d1", "https://example.test/d2"}, res.Visited)
	require.Equal(t, 1, res.Stats.DepthSkipped)
}

func TestEngineBudgetStopsIssuing(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Budget = 90 * time.Second
	clock := system.NewStepped(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Minute)
	engine, err := NewEngine(cfg, &stubFetcher{}, &memorySink{}, WithClock(clock))
	require.NoError(t, err)
	res := engine.Run(context.Background(), "abc", abcSource())

	require.Equal(t, StateCompleted, res.State)
	require.Equal(t, []string{urlA}, res.Visited)
	require.Equal(t, BoundBudget, res.Stats.Bound)
}

func TestEngineDeniesDomains(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{
		seeds: []string{urlA},
		outputs: map[string][]Output{
			urlA: {Follow(NewTarget("https://ads.tracker.test/x")), Follow(NewTarget(urlB))},
		},
	}
	cfg := DefaultConfig()
	cfg.DenyDomains = []string{"*.tracker.test"}
	res := newTestEngine(t, cfg, &stubFetcher{}, &memorySink{}).Run(context.Background(), "deny", src)

	require.Equal(t, []string{urlA, urlB}, res.Visited)
	require.Equal(t, 1, res.Stats.Denied)
}

func TestEngineCancellationAborts(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.DrainTimeout = 10 * time.Millisecond
	fetcher := &stubFetcher{delay: map[string]time.Duration{urlA: time.Second}}
	engine := newTestEngine(t, cfg, fetcher, &memorySink{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	start := time.Now()
	res := engine.Run(ctx, "abc", abcSource())

	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.Equal(t, StateAborted, res.State)
	require.ErrorIs(t, res.Err, ErrCanceled)
	require.ErrorIs(t, res.Err, context.Canceled)
	require.Equal(t, "abandon", res.Stats.Failures[0].Stage)
}

func TestEngineCancellationCommitsDrainedFetches(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.DrainTimeout = time.Second
	fetcher := &stubFetcher{delay: map[string]time.Duration{urlA: 50 * time.Millisecond}}
	sink := &memorySink{}
	engine := newTestEngine(t, cfg, fetcher, sink)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	res := engine.Run(ctx, "abc", abcSource())

	require.Equal(t, StateAborted, res.State)
	require.Equal(t, []string{urlA}, res.Visited)
	require.Equal(t, []Item{"i1"}, sink.Items())
}

type validatingSource struct {
	*scriptedSource
	err error
}

func (s *validatingSource) Validate() error { return s.err }

func TestEngineValidatesSourceBeforeSeeding(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{}
	src := &validatingSource{scriptedSource: abcSource(), err: errors.New("missing base url")}
	res := newTestEngine(t, DefaultConfig(), fetcher, &memorySink{}).Run(context.Background(), "bad", src)

	require.Equal(t, StateAborted, res.State)
	require.ErrorContains(t, res.Err, "missing base url")
	require.Zero(t, fetcher.calls.Load())
}

type panickingSource struct {
	*scriptedSource
	inSeed bool
}

func (s *panickingSource) Validate() error {
	if !s.inSeed {
		panic("nil config")
	}
	return nil
}

func (s *panickingSource) Seed() iter.Seq[Target] {
	return func(yield func(Target) bool) {
		if !yield(NewTarget(urlA)) {
			return
		}
		panic("index out of range")
	}
}

func TestEngineRecoversSeedAndValidatePanics(t *testing.T) {
	t.Parallel()

	for name, src := range map[string]*panickingSource{
		"validate": {scriptedSource: abcSource()},
		"seed":     {scriptedSource: abcSource(), inSeed: true},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fetcher := &stubFetcher{}
			res := newTestEngine(t, DefaultConfig(), fetcher, &memorySink{}).Run(context.Background(), "boom", src)

			require.Equal(t, StateAborted, res.State)
			var fatal *FatalSourceError
			require.ErrorAs(t, res.Err, &fatal)
			require.Equal(t, "boom", fatal.Source)
			require.ErrorContains(t, res.Err, "panicked")
			require.Zero(t, fetcher.calls.Load())
		})
	}
}

func TestEngineKeepsNamedFatalError(t *testing.T) {
	t.Parallel()

	named := &FatalSourceError{Source: "upstream", Err: errors.New("feed retired")}
	src := abcSource()
	src.errs = map[string]error{urlA: named}
	res := newTestEngine(t, DefaultConfig(), &stubFetcher{}, &memorySink{}).Run(context.Background(), "abc", src)

	require.Equal(t, StateAborted, res.State)
	require.Same(t, named, res.Err)
	require.Equal(t, "source upstream: fatal: feed retired", res.Err.Error())
}

type mockFlushSink struct {
	mock.Mock
}

func (m *mockFlushSink) Accept(ctx context.Context, source string, item Item) error {
	return m.Called(ctx, source, item).Error(0)
}

func (m *mockFlushSink) FlushSource(ctx context.Context, source string) error {
	return m.Called(ctx, source).Error(0)
}

func TestEngineFlushesSinkAtRunEnd(t *testing.T) {
	t.Parallel()

	sink := &mockFlushSink{}
	sink.On("Accept", mock.Anything, "abc", mock.Anything).Return(nil).Times(3)
	sink.On("FlushSource", mock.Anything, "abc").Return(nil).Once()

	res := newTestEngine(t, DefaultConfig(), &stubFetcher{}, sink).Run(context.Background(), "abc", abcSource())

	require.Equal(t, StateCompleted, res.State)
	sink.AssertExpectations(t)
}

func TestNewEngineValidation(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(Config{}, &stubFetcher{}, &memorySink{})
	require.Error(t, err)
	_, err = NewEngine(DefaultConfig(), nil, &memorySink{})
	require.Error(t, err)
	_, err = NewEngine(DefaultConfig(), &stubFetcher{}, nil)
	require.Error(t, err)
}
