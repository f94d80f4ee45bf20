package elections

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

func envelope(t *testing.T, target crawler.Target, contentType, fixture string) crawler.Envelope {
	t.Helper()
	body, err := os.ReadFile(filepath.Join("testdata", fixture))
	require.NoError(t, err)
	return crawler.BuildEnvelope(target, crawler.Response{
		Status:  http.StatusOK,
		Headers: http.Header{"Content-Type": {contentType}},
		Body:    body,
	})
}

func collect(t *testing.T, src crawler.Source, env crawler.Envelope) ([]crawler.Target, []crawler.Item, error) {
	t.Helper()
	var (
		targets []crawler.Target
		items   []crawler.Item
	)
	for out, err := range src.Extract(env) {
		if err != nil {
			return targets, items, err
		}
		if out.Target != nil {
			targets = append(targets, *out.Target)
		}
		if out.Item != nil {
			items = append(items, out.Item)
		}
	}
	return targets, items, nil
}

func newCommission(t *testing.T, opts registry.Options) crawler.Source {
	t.Helper()
	src, err := NewCommission(opts)
	require.NoError(t, err)
	return src
}

func TestCommissionSeeds(t *testing.T) {
	t.Parallel()

	var urls []string
	for target := range newCommission(t, registry.Options{}).Seed() {
		urls = append(urls, target.URL)
	}
	require.Equal(t, []string{
		ResultsBaseURL + "/elections/index.html",
		ResultsDataURL + "/elections.json",
	}, urls)

	_, err := NewCommission(registry.Options{DataURLOption: "resultsdata"})
	require.Error(t, err)
}

func TestCommissionIndexFollowsSummaries(t *testing.T) {
	t.Parallel()

	src := newCommission(t, registry.Options{"base_url": "http://127.0.0.1:9000"})
	index := crawler.NewTarget("http://127.0.0.1:9000/elections/index.html")
	targets, items, err := collect(t, src, envelope(t, index, "text/html", "results_index.html"))
	require.NoError(t, err)

	require.Equal(t, []crawler.Item{
		Election{
			Name:       "2020 State General Election",
			Section:    "State General Elections",
			SummaryURL: "http://127.0.0.1:9000/elections/state/State2020/results/summary.html",
			IndexURL:   "http://127.0.0.1:9000/elections/state/State2020/index.html",
		},
		Election{
			Name:     "2017 State General Election",
			Section:  "State General Elections",
			IndexURL: "http://127.0.0.1:9000/elections/state/State2017/index.html",
		},
		Election{
			Name:       "2016 Referendum",
			Section:    "Referendums",
			SummaryURL: "http://127.0.0.1:9000/elections/state/REF2016/results/summary.html",
		},
	}, items)

	require.Len(t, targets, 2)
	require.Equal(t, "http://127.0.0.1:9000/elections/state/State2020/results/summary.html", targets[0].URL)
	require.Equal(t, "Referendums", targets[1].Meta[metaSection])
	require.Equal(t, "2016 Referendum", targets[1].Meta[metaElection])
}

func TestCommissionSummaryRows(t *testing.T) {
	t.Parallel()

	src := newCommission(t, registry.Options{})
	target := crawler.NewTarget(ResultsBaseURL + "/elections/state/REF2016/results/summary.html").
		WithMeta(metaSection, "Referendums").
		WithMeta(metaElection, "2016 Referendum")
	targets, items, err := collect(t, src, envelope(t, target, "text/html; charset=utf-8", "referendum_summary.html"))
	require.NoError(t, err)
	require.Empty(t, targets)
	require.Len(t, items, 3)

	yes := items[0].(Result)
	require.Equal(t, "2016 Referendum", yes.Election)
	require.Equal(t, "Referendums", yes.Section)
	require.Equal(t, "Statewide results", yes.Table)
	require.Equal(t, map[string]string{"Response": "Yes", "Votes": "1,445,231", "%": "53.07"}, yes.Values)
	require.Equal(t, target.URL, yes.URL)

	enrolled := items[2].(Result)
	require.Equal(t, "Enrolment and turnout", enrolled.Table)
	require.Equal(t, map[string]string{"Measure": "Enrolled", "Count": "3,150,000"}, enrolled.Values)
}

func TestCommissionSummaryNamesElectionFromHeading(t *testing.T) {
	t.Parallel()

	src := newCommission(t, registry.Options{})
	target := crawler.NewTarget(ResultsBaseURL + "/elections/state/REF2016/results/summary.html")
	_, items, err := collect(t, src, envelope(t, target, "text/html", "referendum_summary.html"))
	require.NoError(t, err)
	require.Equal(t, "2016 Referendum", items[0].(Result).Election)
	require.Empty(t, items[0].(Result).Section)
}

func TestCommissionListing(t *testing.T) {
	t.Parallel()

	src := newCommission(t, registry.Options{"data_url": "http://127.0.0.1:9001/"})
	target := crawler.NewTarget("http://127.0.0.1:9001/elections.json")
	targets, items, err := collect(t, src, envelope(t, target, "application/json", "elections.json"))
	require.NoError(t, err)
	require.Empty(t, targets)
	require.Len(t, items, 2)

	state := items[0].(Election)
	require.Equal(t, "101", state.ID)
	require.Equal(t, "state2020", state.Stub)
	require.Equal(t, "state", state.Type)
	require.Equal(t, time.Date(2020, time.October, 31, 0, 0, 0, 0, brisbane), *state.HeldOn)
	require.Equal(t, 3524677, *state.Enrolment)
	require.False(t, state.Current)

	by := items[1].(Election)
	require.Equal(t, "bundamba2020", by.ID)
	require.Equal(t, "Bundamba By-election", by.Name)
	require.Equal(t, "28 March 2020", by.Day)
	require.Nil(t, by.HeldOn)
	require.Nil(t, by.Enrolment)
	require.True(t, by.Current)
}

func TestCommissionRejectsUnexpectedPages(t *testing.T) {
	t.Parallel()

	src := newCommission(t, registry.Options{})
	for name, env := range map[string]crawler.Envelope{
		"other host":       envelope(t, crawler.NewTarget("https://www.ecq.qld.gov.au/elections"), "text/html", "referendum_summary.html"),
		"listing not json": envelope(t, crawler.NewTarget(ResultsDataURL+"/elections.json"), "text/html", "referendum_summary.html"),
		"summary not html": envelope(t, crawler.NewTarget(ResultsBaseURL+"/elections/a/summary.html"), "application/json", "elections.json"),
	} {
		_, _, err := collect(t, src, env)
		var pf *crawler.ParseFailure
		require.ErrorAs(t, err, &pf, name)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	require.NoError(t, Register(reg))
	units, err := reg.Resolve("elections", "au-qld-ecq")
	require.NoError(t, err)
	require.Equal(t, "elections/au-qld-ecq", units[0].Name())
}
