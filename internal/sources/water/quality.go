// Package water collects Brisbane City Council creek and river water quality samples.
package water

import (
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tealeg/xlsx/v2"

	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/registry"
	"github.com/JakeFAU/gather-vision/internal/sources/scrape"
)

// BrisbaneBaseURL is the Brisbane City Council site.
const BrisbaneBaseURL = "https://www.brisbane.qld.gov.au"

const monitoringPath = "/clean-and-green/natural-environment-and-water/water/water-quality-monitoring"

// Sample status values.
const (
	StatusValid     = "valid"
	StatusNotTested = "not_tested"
	StatusInvalid   = "invalid"
)

// Sample is one site measurement on one sampling day.
type Sample struct {
	Sheet       string    `json:"sheet"`
	SiteNumber  string    `json:"site_number"`
	SiteName    string    `json:"site_name,omitempty"`
	Description string    `json:"location_description,omitempty"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	SampledOn   time.Time `json:"sampled_on"`
	Value       *int      `json:"value,omitempty"`
	// Qualifier is "<" or ">" when the value is a detection limit.
	Qualifier string `json:"qualifier,omitempty"`
	Status    string `json:"status"`
	Raw       string `json:"raw,omitempty"`
	Workbook  string `json:"workbook"`
	LinkText  string `json:"link_text,omitempty"`
}

// Kind implements crawler.Kinded.
func (Sample) Kind() string { return "water_quality_sample" }

// Register adds the water plugin and its sub-sources to reg.
func Register(reg *registry.Registry) error {
	return reg.RegisterGroup("water", "Water quality monitoring",
		registry.SubSource{
			Name:        "au-qld-bcc",
			Description: "Brisbane City Council creek and river water quality",
			Factory:     NewBrisbane,
		},
	)
}

var brisbane = time.FixedZone("AEST", 10*60*60)

const metaLinkText = "water_link_text"

// Brisbane finds the monitoring workbook on the council page and reads every
// sheet of it.
type Brisbane struct {
	pageURL string
}

// NewBrisbane is the registry factory for water/au-qld-bcc.
func NewBrisbane(opts registry.Options) (crawler.Source, error) {
	base, err := scrape.BaseURL(opts, BrisbaneBaseURL)
	if err != nil {
		return nil, err
	}
	return &Brisbane{pageURL: base + monitoringPath}, nil
}

// Seed implements crawler.Source.
func (b *Brisbane) Seed() iter.Seq[crawler.Target] {
	return scrape.Targets(crawler.NewTarget(b.pageURL))
}

// Extract implements crawler.Source.
func (b *Brisbane) Extract(env crawler.Envelope) iter.Seq2[crawler.Output, error] {
	return func(yield func(crawler.Output, error) bool) {
		switch page := env.ResponseURL; {
		case strings.HasPrefix(page, b.pageURL):
			target, err := workbookLink(env)
			if err != nil {
				yield(crawler.Output{}, err)
				return
			}
			yield(crawler.Follow(target), nil)
		case strings.Contains(strings.ToLower(page), ".xls"):
			f, err := xlsx.OpenBinary(env.Body)
			if err != nil {
				yield(crawler.Output{}, crawler.NewParseFailure(env, "open workbook", err))
				return
			}
			for s := range samples(f) {
				s.Workbook = page
				s.LinkText, _ = env.Meta[metaLinkText].(string)
				if !yield(crawler.Emit(s), nil) {
					return
				}
			}
		default:
			yield(crawler.Output{}, crawler.NewParseFailure(env, "unexpected page", nil))
		}
	}
}

// workbookLink expects exactly one spreadsheet link on the monitoring page.
func workbookLink(env crawler.Envelope) (crawler.Target, error) {
	doc, err := scrape.Document(env)
	if err != nil {
		return crawler.Target{}, err
	}
	links := doc.Find(`a[href*="xlsx"]`)
	if links.Length() != 1 {
		return crawler.Target{}, crawler.NewParseFailure(env,
			fmt.Sprintf("found %d workbook links, want 1", links.Length()), nil)
	}
	href, _ := links.Attr("href")
	link, err := scrape.Resolve(env.ResponseURL, href)
	if err != nil {
		return crawler.Target{}, crawler.NewParseFailure(env, "workbook link", err)
	}
	return crawler.NewTarget(link).WithMeta(metaLinkText, scrape.Clean(links.Text())), nil
}

// Known site columns.
const (
	headerSiteNumber  = "Site no."
	headerSiteName    = "Site name"
	headerLongitude   = "Long"
	headerLatitude    = "Lat"
	headerDescription = "Location description"
)

func knownHeader(s string) bool {
	switch s {
	case headerSiteNumber, headerSiteName, headerLongitude, headerLatitude, headerDescription:
		return true
	}
	return false
}

// column is what a header row says about one sheet column: a site field
// name or a sampling day.
type column struct {
	name string
	day  *time.Time
}

var sampleDayLayouts = []string{"2/01/2006", "2/1/2006", "2/01/06", "2 January 2006", "2 Jan 2006", time.DateOnly}

// headerCell reads a header cell. Numeric cells in a header row are Excel
// serial dates.
func headerCell(cell *xlsx.Cell, date1904 bool) column {
	value := strings.TrimSpace(cell.Value)
	if cell.Type() == xlsx.CellTypeNumeric {
		if serial, err := cell.Float(); err == nil {
			return column{day: dayOf(xlsx.TimeFromExcelTime(serial, date1904))}
		}
	}
	if knownHeader(value) {
		return column{name: value}
	}
	if day := parseDay(value); day != nil {
		return column{day: day}
	}
	return column{name: value}
}

func parseDay(value string) *time.Time {
	for _, layout := range sampleDayLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return dayOf(t)
		}
	}
	return nil
}

// dayOf keeps the calendar date of t and places it in Brisbane.
func dayOf(t time.Time) *time.Time {
	t = t.Round(time.Second)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, brisbane)
	return &day
}

// rowCells returns the non-empty cells of row keyed by column position.
func rowCells(row *xlsx.Row) (cols []int, cells []*xlsx.Cell) {
	for i, cell := range row.Cells {
		if strings.TrimSpace(cell.Value) != "" {
			cols = append(cols, i)
			cells = append(cells, cell)
		}
	}
	return cols, cells
}

// minRowCells is the width below which a row is dropped unless it is a
// header row naming a known column or a sampling day.
const minRowCells = 6

func namesColumns(cells []*xlsx.Cell, date1904 bool) bool {
	for _, cell := range cells {
		if c := headerCell(cell, date1904); c.day != nil || knownHeader(c.name) {
			return true
		}
	}
	return false
}

func startsWithDigit(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

// samples walks every sheet. Header rows name the columns; each body row is
// one site, with a sample for every column headed by a day. Columns with an
// unrecognized heading are ignored.
func samples(f *xlsx.File) iter.Seq[Sample] {
	return func(yield func(Sample) bool) {
		for _, sheet := range f.Sheets {
			headers := make(map[int]column)
			var body [][]int
			var bodyCells [][]*xlsx.Cell
			for _, row := range sheet.Rows {
				cols, cells := rowCells(row)
				if len(cells) == 0 {
					continue
				}
				if startsWithDigit(cells[0].Value) {
					if len(cells) >= minRowCells {
						body = append(body, cols)
						bodyCells = append(bodyCells, cells)
					}
					continue
				}
				if len(cells) < minRowCells && !namesColumns(cells, f.Date1904) {
					continue
				}
				for i, cell := range cells {
					headers[cols[i]] = headerCell(cell, f.Date1904)
				}
			}
			for r, cols := range body {
				site := Sample{Sheet: sheet.Name}
				var measured []int
				for i, col := range cols {
					value := strings.TrimSpace(bodyCells[r][i].Value)
					switch h := headers[col]; {
					case h.day != nil:
						measured = append(measured, i)
					case h.name == headerSiteNumber:
						site.SiteNumber = value
					case h.name == headerSiteName:
						site.SiteName = value
					case h.name == headerDescription:
						site.Description = value
					case h.name == headerLatitude:
						site.Latitude = parseFloat(value)
					case h.name == headerLongitude:
						site.Longitude = parseFloat(value)
					}
				}
				for _, i := range measured {
					s := site
					s.SampledOn = *headers[cols[i]].day
					s.Value, s.Qualifier, s.Status = measure(bodyCells[r][i])
					s.Raw = strings.TrimSpace(bodyCells[r][i].Value)
					if !yield(s) {
						return
					}
				}
			}
		}
	}
}

// measure classifies a sample cell. Numbers are valid, "NT" was not tested,
// and "<n" or ">n" are valid detection limits.
func measure(cell *xlsx.Cell) (value *int, qualifier, status string) {
	raw := strings.TrimSpace(cell.Value)
	if cell.Type() == xlsx.CellTypeNumeric {
		if f, err := cell.Float(); err == nil {
			n := int(math.Round(f))
			return &n, "", StatusValid
		}
	}
	switch {
	case strings.EqualFold(raw, "NT"):
		return nil, "", StatusNotTested
	case strings.HasPrefix(raw, ">"), strings.HasPrefix(raw, "<"):
		n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(raw[1:]), ",", ""))
		if err != nil {
			return nil, "", StatusInvalid
		}
		return &n, raw[:1], StatusValid
	}
	if n, err := strconv.Atoi(strings.ReplaceAll(raw, ",", "")); err == nil {
		return &n, "", StatusValid
	}
	return nil, "", StatusInvalid
}

func parseFloat(s string) *float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}
