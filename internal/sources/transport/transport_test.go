package transport

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/registry"
)

func feedEnvelope(t *testing.T, target crawler.Target, contentType string, body []byte) crawler.Envelope {
	t.Helper()
	return crawler.BuildEnvelope(target, crawler.Response{
		Status:  http.StatusOK,
		Headers: http.Header{"Content-Type": {contentType}},
		Body:    body,
	})
}

func collect(t *testing.T, src crawler.Source, env crawler.Envelope) ([]Notice, error) {
	t.Helper()
	var out []Notice
	for o, err := range src.Extract(env) {
		if err != nil {
			return out, err
		}
		out = append(out, o.Item.(Notice))
	}
	return out, nil
}

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, brisbane)
	return &t
}

func TestTranslinkExtractsNotices(t *testing.T) {
	t.Parallel()

	src, err := NewTranslink(registry.Options{})
	require.NoError(t, err)
	var seed crawler.Target
	for s := range src.Seed() {
		seed = s
	}
	require.Equal(t, TranslinkBaseURL+"/service-updates/rss", seed.URL)

	body, err := os.ReadFile(filepath.Join("testdata", "service_updates.rss"))
	require.NoError(t, err)
	notices, err := collect(t, src, feedEnvelope(t, seed, "application/rss+xml; charset=utf-8", body))
	require.NoError(t, err)
	require.Len(t, notices, 3)

	closure := notices[0]
	require.Equal(t, "12345", closure.ID)
	require.Equal(t, "Translink service updates", closure.Feed)
	require.Equal(t, "Temporary stop closure - Adelaide Street stop 45", closure.Title)
	require.Equal(t, "Adelaide Street 45", closure.Summary)
	require.Equal(t, "Bus stop", closure.NoticeType)
	require.Equal(t, "Stop 45 on Adelaide Street is closed due to works", closure.Description)
	require.Equal(t, day(2024, time.January, 15), closure.StartsAt)
	require.Equal(t, day(2024, time.January, 19), closure.EndsAt)
	require.True(t, closure.IssuedAt.Equal(time.Date(2024, 1, 13, 22, 30, 0, 0, time.UTC)))
	require.Equal(t, []string{"Minor"}, closure.Labels)
	require.Equal(t, []string{"temporary"}, closure.Durations)
	require.Equal(t, []string{"stop"}, closure.Affected)
	require.Equal(t, []string{"closure"}, closure.Changes)
	require.Equal(t, CategoryBusStop, closure.Category)
	require.Equal(t, SeverityMinor, closure.Severity)

	weekend := notices[1]
	require.Equal(t, "66", weekend.Summary)
	require.Equal(t, []string{"29", "66", "P88"}, weekend.Services)
	require.True(t, weekend.MoreServices)
	require.Equal(t, []Group{{Name: "29", Mode: ModeBus}, {Name: "66", Mode: ModeBus}, {Name: "P88", Mode: ModeBus}}, weekend.Groups)
	require.Equal(t, day(2024, time.January, 20), weekend.StartsAt)
	require.Equal(t, day(2024, time.January, 21), weekend.EndsAt)
	require.Equal(t, SeverityMinor, weekend.Severity)
	require.True(t, weekend.IssuedAt.Equal(time.Date(2024, 1, 14, 23, 0, 0, 0, time.UTC)), "falls back to the channel date")

	carpark := notices[2]
	require.Equal(t, []string{"park 'n' ride", "station"}, carpark.Affected)
	require.Equal(t, CategoryTrainCarpark, carpark.Category)
	require.Equal(t, SeverityMajor, carpark.Severity)
	require.Equal(t, day(2024, time.January, 22), carpark.StartsAt)
	require.Nil(t, carpark.EndsAt)
}

func TestTranslinkRejectsNonFeeds(t *testing.T) {
	t.Parallel()

	src, err := NewTranslink(registry.Options{"base_url": "http://127.0.0.1:9000/"})
	require.NoError(t, err)
	target := crawler.NewTarget("http://127.0.0.1:9000/service-updates/rss")

	for name, env := range map[string]crawler.Envelope{
		"html":       feedEnvelope(t, target, "text/html", []byte("<html><body>maintenance</body></html>")),
		"no channel": feedEnvelope(t, target, "application/xml", []byte("<feed><entry/></feed>")),
	} {
		_, err := collect(t, src, env)
		var pf *crawler.ParseFailure
		require.ErrorAs(t, err, &pf, name)
	}
}

func TestSplitTitle(t *testing.T) {
	t.Parallel()

	summary, durations, affected, changes := splitTitle("Late night track closures in Cleveland line - extended")
	require.Equal(t, "Cleveland", summary)
	require.Equal(t, []string{"extended", "late night"}, durations)
	require.Equal(t, []string{"line", "track"}, affected)
	require.Equal(t, []string{"closures"}, changes)
}

func TestGuessMode(t *testing.T) {
	t.Parallel()

	require.Equal(t, ModeFerry, guessMode("CityCat"))
	require.Equal(t, ModeTram, guessMode("G:link"))
	require.Equal(t, ModeTrain, guessMode("Cleveland line"))
	require.Equal(t, ModeBus, guessMode("P137"))
}

func TestRegister(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	require.NoError(t, Register(reg))
	units, err := reg.Resolve("transport", "")
	require.NoError(t, err)
	require.Len(t, units, 1)
	require.Equal(t, "transport/au-qld-translink", units[0].Name())
}
