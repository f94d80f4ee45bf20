package elections

import (
	"iter"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/registry"
	"github.com/JakeFAU/gather-vision/internal/sources/scrape"
)

// Default hosts for the commission results pages and the results data service.
const (
	ResultsBaseURL = "https://results.ecq.qld.gov.au"
	ResultsDataURL = "https://resultsdata.elections.qld.gov.au"
)

// DataURLOption overrides the results data host.
const DataURLOption = "data_url"

// Commission walks the ECQ results index to each election summary and reads
// the results data election listing.
type Commission struct {
	baseURL string
	dataURL string
}

// NewCommission is the registry factory for elections/au-qld-ecq.
func NewCommission(opts registry.Options) (crawler.Source, error) {
	base, err := scrape.BaseURL(opts, ResultsBaseURL)
	if err != nil {
		return nil, err
	}
	data, err := scrape.URLOption(opts, DataURLOption, ResultsDataURL)
	if err != nil {
		return nil, err
	}
	return &Commission{baseURL: base, dataURL: data}, nil
}

func (c *Commission) indexURL() string   { return c.baseURL + "/elections/index.html" }
func (c *Commission) listingURL() string { return c.dataURL + "/elections.json" }

// Seed implements crawler.Source.
func (c *Commission) Seed() iter.Seq[crawler.Target] {
	return scrape.Targets(crawler.NewTarget(c.indexURL()), crawler.NewTarget(c.listingURL()))
}

// Extract implements crawler.Source.
func (c *Commission) Extract(env crawler.Envelope) iter.Seq2[crawler.Output, error] {
	return func(yield func(crawler.Output, error) bool) {
		page := env.ResponseURL
		switch {
		case page == c.listingURL():
			c.listing(env, yield)
		case page == c.indexURL():
			doc, err := scrape.Document(env)
			if err != nil {
				yield(crawler.Output{}, err)
				return
			}
			c.index(env, doc, yield)
		case strings.HasPrefix(page, c.baseURL+"/") && strings.HasSuffix(page, ".html"):
			doc, err := scrape.Document(env)
			if err != nil {
				yield(crawler.Output{}, err)
				return
			}
			summary(env, doc, yield)
		default:
			yield(crawler.Output{}, crawler.NewParseFailure(env, "unexpected page", nil))
		}
	}
}

// index reads the results index table. A row spanning four columns opens a
// section; rows spanning three are column headings.
func (c *Commission) index(env crawler.Envelope, doc *goquery.Document, yield func(crawler.Output, error) bool) {
	var section string
	doc.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		cells := tr.ChildrenFiltered("td")
		if cells.Length() == 0 {
			return true
		}
		switch span, _ := cells.First().Attr("colspan"); span {
		case "4":
			section = scrape.Clean(cells.First().Text())
			return true
		case "3":
			return true
		}
		if section == "" || cells.Length() < 4 {
			return true
		}
		e := Election{
			Name:    scrape.Clean(cells.Eq(1).Text()),
			Section: section,
		}
		if e.Name == "" {
			return true
		}
		var err error
		if href, ok := cells.Eq(2).Find("a").Attr("href"); ok && strings.TrimSpace(href) != "" {
			if e.SummaryURL, err = scrape.Resolve(env.ResponseURL, href); err != nil {
				yield(crawler.Output{}, crawler.NewParseFailure(env, "summary link", err))
				return false
			}
		}
		if href, ok := cells.Eq(3).Find("a").Attr("href"); ok && strings.TrimSpace(href) != "" {
			if e.IndexURL, err = scrape.Resolve(env.ResponseURL, href); err != nil {
				yield(crawler.Output{}, crawler.NewParseFailure(env, "index link", err))
				return false
			}
		}
		if !yield(crawler.Emit(e), nil) {
			return false
		}
		if e.SummaryURL == "" {
			return true
		}
		return yield(crawler.Follow(crawler.NewTarget(e.SummaryURL).
			WithMeta(metaSection, e.Section).
			WithMeta(metaElection, e.Name)), nil)
	})
}

func (c *Commission) listing(env crawler.Envelope, yield func(crawler.Output, error) bool) {
	root, ok := env.Data.(map[string]any)
	if !ok {
		yield(crawler.Output{}, crawler.NewParseFailure(env, "expected a JSON object", nil))
		return
	}
	entries, ok := root["elections"].([]any)
	if !ok {
		yield(crawler.Output{}, crawler.NewParseFailure(env, "listing has no elections", nil))
		return
	}
	for _, entry := range entries {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		e := Election{
			ID:        field(m, "id"),
			Stub:      field(m, "stub"),
			Name:      strings.TrimSpace(field(m, "electionName")),
			Type:      field(m, "electionType"),
			Day:       field(m, "electionDay"),
			Enrolment: intField(m, "enrolment"),
			Current:   m["current"] == true,
		}
		if e.Name == "" {
			continue
		}
		if held, err := time.ParseInLocation(time.DateOnly, e.Day, brisbane); err == nil {
			e.HeldOn = &held
		}
		if !yield(crawler.Emit(e), nil) {
			return
		}
	}
}

// summary emits one Result per body row of each results table. A table is
// named by its caption, or else the nearest heading before it.
func summary(env crawler.Envelope, doc *goquery.Document, yield func(crawler.Output, error) bool) {
	election := metaString(env.Meta, metaElection)
	if election == "" {
		election = scrape.Text(doc.Selection, "h1")
	}
	tables := doc.Find("table")
	if tables.Length() == 0 {
		yield(crawler.Output{}, crawler.NewParseFailure(env, "summary has no results tables", nil))
		return
	}
	tables.EachWithBreak(func(_ int, table *goquery.Selection) bool {
		name := scrape.Text(table, "caption")
		if name == "" {
			name = scrape.Clean(table.PrevAllFiltered("h2, h3").First().Text())
		}
		var headers []string
		table.Find("th").Each(func(_ int, th *goquery.Selection) {
			headers = append(headers, scrape.Clean(th.Text()))
		})
		keep := true
		table.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
			cells := tr.ChildrenFiltered("td")
			if cells.Length() == 0 || cells.Length() != len(headers) {
				return true
			}
			values := make(map[string]string, len(headers))
			cells.Each(func(i int, td *goquery.Selection) {
				values[headers[i]] = scrape.Clean(td.Text())
			})
			keep = yield(crawler.Emit(Result{
				Election: election,
				Section:  metaString(env.Meta, metaSection),
				Table:    name,
				Values:   values,
				URL:      env.ResponseURL,
			}), nil)
			return keep
		})
		return keep
	})
}
