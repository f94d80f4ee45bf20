package electricity

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/registry"
)

func extractAll(src crawler.Source, env crawler.Envelope) ([]Demand, error) {
	var out []Demand
	for o, err := range src.Extract(env) {
		if err != nil {
			return out, err
		}
		out = append(out, o.Item.(Demand))
	}
	return out, nil
}

func TestEnergexRating(t *testing.T) {
	t.Parallel()

	cases := map[float64]int{0: 1, 200: 1, 458.4: 1, 1000: 2, 2800: 6, 5499: 11, 5600: 12, 9000: 12}
	for mw, want := range cases {
		require.Equal(t, want, EnergexRating(mw), "demand %v", mw)
	}
}

func TestErgonCategory(t *testing.T) {
	t.Parallel()

	require.Equal(t, "low", ErgonCategory(0))
	require.Equal(t, "low", ErgonCategory(1499))
	require.Equal(t, "moderate", ErgonCategory(1499.5))
	require.Equal(t, "moderate", ErgonCategory(1999))
	require.Equal(t, "high", ErgonCategory(2000))
	require.Equal(t, "high", ErgonCategory(5000))
	require.Equal(t, "moderate", ErgonCategory(5001))
}

func TestEnergexExtract(t *testing.T) {
	t.Parallel()

	src, err := NewEnergex(registry.Options{})
	require.NoError(t, err)
	var seed crawler.Target
	for s := range src.Seed() {
		seed = s
	}
	require.Equal(t, EnergexBaseURL+"/static/Energex/Network%20Demand/networkdemand.txt", seed.URL)

	fetched := time.Date(2024, 7, 1, 4, 30, 42, 0, time.UTC)
	env := crawler.BuildEnvelope(seed, crawler.Response{
		Status:    http.StatusOK,
		Headers:   http.Header{"Content-Type": {"text/plain"}},
		Body:      []byte("2761\n"),
		FetchedAt: fetched,
	})
	got, err := extractAll(src, env)
	require.NoError(t, err)
	require.Equal(t, []Demand{{
		Network:    "energex",
		DemandMW:   2761,
		Rating:     6,
		ObservedAt: fetched.Truncate(time.Minute).In(brisbane),
	}}, got)

	env.Body = []byte("offline")
	_, err = extractAll(src, env)
	var pf *crawler.ParseFailure
	require.ErrorAs(t, err, &pf)
}

func TestErgonExtract(t *testing.T) {
	t.Parallel()

	src, err := NewErgon(registry.Options{"base_url": "http://127.0.0.1:8080"})
	require.NoError(t, err)

	env := crawler.BuildEnvelope(crawler.NewTarget("http://127.0.0.1:8080/static/Ergon/Network%20Demand/currentdemand.json"), crawler.Response{
		Status:  http.StatusOK,
		Headers: http.Header{"Content-Type": {"application/json"}},
		Body:    []byte(`{"db_connection":"ok","db_query":"ok","data":[{"currentdemand":{"data":"1090.739","time":"2022-09-24 14:12:32.000"}}]}`),
	})
	got, err := extractAll(src, env)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "ergon", got[0].Network)
	require.InDelta(t, 1090.739, got[0].DemandMW, 0.0001)
	require.Equal(t, "low", got[0].Category)
	require.True(t, got[0].ObservedAt.Equal(time.Date(2022, 9, 24, 4, 12, 32, 0, time.UTC)))

	for _, body := range []string{`{"data":[]}`, `not json`, `{"data":[{"currentdemand":{"data":"x","time":"2022-09-24 14:12:32.000"}}]}`, `{"data":[{"currentdemand":{"data":"1","time":"yesterday"}}]}`} {
		env.Body = []byte(body)
		_, err = extractAll(src, env)
		var pf *crawler.ParseFailure
		require.ErrorAs(t, err, &pf, body)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	require.NoError(t, Register(reg))
	listing, err := reg.List("electricity")
	require.NoError(t, err)
	require.Equal(t, []string{"au-qld-energex", "au-qld-ergon"}, listing[0].SubSources)
}
