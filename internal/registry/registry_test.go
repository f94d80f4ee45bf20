package registry

import (
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gather-vision/internal/crawler"
)

type nopSource struct{}

func (nopSource) Seed() iter.Seq[crawler.Target] { return func(func(crawler.Target) bool) {} }

func (nopSource) Extract(crawler.Envelope) iter.Seq2[crawler.Output, error] {
	return func(func(crawler.Output, error) bool) {}
}

func nopFactory(Options) (crawler.Source, error) { return nopSource{}, nil }

func exampleRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New()
	require.NoError(t, r.RegisterGroup("example-plugin", "Example plugin",
		SubSource{Name: "example-data-source-1", Factory: nopFactory},
		SubSource{Name: "example-data-source-2", Factory: nopFactory},
	))
	require.NoError(t, r.Register("solo", "Single source", nopFactory))
	return r
}

func TestRegistryList(t *testing.T) {
	t.Parallel()

	r := exampleRegistry(t)
	listings, err := r.List("")
	require.NoError(t, err)
	require.Equal(t, []Listing{
		{Name: "example-plugin", Description: "Example plugin", SubSources: []string{"example-data-source-1", "example-data-source-2"}},
		{Name: "solo", Description: "Single source", SubSources: []string{}},
	}, listings)

	one, err := r.List("solo")
	require.NoError(t, err)
	require.Len(t, one, 1)

	_, err = r.List("nope")
	require.ErrorIs(t, err, crawler.ErrUnknownSource)
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	r := exampleRegistry(t)

	all, err := r.Resolve("", "")
	require.NoError(t, err)
	names := make([]string, 0, len(all))
	for _, u := range all {
		names = append(names, u.Name())
	}
	require.Equal(t, []string{"example-plugin/example-data-source-1", "example-plugin/example-data-source-2", "solo"}, names)

	subs, err := r.Resolve("example-plugin", "example-data-source-2")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, "example-data-source-2", subs[0].SubSource)

	_, err = r.Resolve("missing", "")
	require.ErrorIs(t, err, crawler.ErrUnknownSource)
	_, err = r.Resolve("example-plugin", "missing")
	require.ErrorIs(t, err, crawler.ErrUnknownSource)
	_, err = r.Resolve("", "example-data-source-1")
	require.Error(t, err)
}

func TestRegistryRejectsBadRegistrations(t *testing.T) {
	t.Parallel()

	r := New()
	require.NoError(t, r.Register("a", "", nopFactory))
	require.Error(t, r.Register("a", "", nopFactory), "duplicate")
	require.Error(t, r.Register("b", "", nil), "nil factory")
	require.Error(t, r.Register("with/slash", "", nopFactory))
	require.Error(t, r.RegisterGroup("c", ""))
	require.Error(t, r.RegisterGroup("d", "", SubSource{Name: "x", Factory: nopFactory}, SubSource{Name: "x", Factory: nopFactory}))
	require.Equal(t, []string{"a"}, r.Names())
}

func TestFromMapSortsNames(t *testing.T) {
	t.Parallel()

	r, err := FromMap(map[string]Factory{"zeta": nopFactory, "alpha": nopFactory})
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "zeta"}, r.Names())
	p, err := r.Get("alpha")
	require.NoError(t, err)
	require.Empty(t, p.SubSourceNames())
}

func TestOptions(t *testing.T) {
	t.Parallel()

	opts := Options{
		"User_Agent": "ua",
		"limit":      "7",
		"timeout":    "2s",
		"au-qld": map[string]any{
			"base_url": "http://127.0.0.1:9999",
			"limit":    3,
		},
	}
	require.Equal(t, "ua", opts.String("user_agent", ""))
	require.Equal(t, 7, opts.Int("limit", 0))
	require.Equal(t, 2*time.Second, opts.Duration("timeout", 0))
	require.Equal(t, "fallback", opts.String("missing", "fallback"))

	sub := opts.For("au-qld")
	require.Equal(t, "http://127.0.0.1:9999", sub.String("base_url", ""))
	require.Equal(t, 3, sub.Int("limit", 0))
	require.Equal(t, "ua", sub.String("user_agent", ""))
	_, nested := sub["au-qld"]
	require.False(t, nested)
}
