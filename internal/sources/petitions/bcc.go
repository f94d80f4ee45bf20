package petitions

import (
	"fmt"
	"iter"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/registry"
	"github.com/JakeFAU/gather-vision/internal/sources/scrape"
)

// BrisbaneBaseURL is the Brisbane City Council e-petitions site.
const BrisbaneBaseURL = "https://www.epetitions.brisbane.qld.gov.au"

var brisbaneDateLayouts = []string{"Mon, 02 Jan 2006", "Mon, 2 Jan 2006"}

// Brisbane collects petitions from the Brisbane City Council listing and
// follows each row to its detail page.
type Brisbane struct {
	baseURL string
}

// NewBrisbane is the registry factory for petitions/au-qld-bcc.
func NewBrisbane(opts registry.Options) (crawler.Source, error) {
	base, err := scrape.BaseURL(opts, BrisbaneBaseURL)
	if err != nil {
		return nil, err
	}
	return &Brisbane{baseURL: base}, nil
}

func (b *Brisbane) listURL() string    { return b.baseURL + "/" }
func (b *Brisbane) archiveURL() string { return b.baseURL + "/petition/archives" }
func (b *Brisbane) viewURL() string    { return b.baseURL + "/petition/view/pid" }
func (b *Brisbane) signURL() string    { return b.baseURL + "/petition/sign/pid" }

// Seed implements crawler.Source.
func (b *Brisbane) Seed() iter.Seq[crawler.Target] {
	return scrape.Targets(crawler.NewTarget(b.listURL()))
}

// Extract implements crawler.Source.
func (b *Brisbane) Extract(env crawler.Envelope) iter.Seq2[crawler.Output, error] {
	return func(yield func(crawler.Output, error) bool) {
		doc, err := scrape.Document(env)
		if err != nil {
			yield(crawler.Output{}, err)
			return
		}
		page := strings.TrimRight(env.ResponseURL, "/")
		switch {
		case page == strings.TrimRight(b.listURL(), "/") || page == b.archiveURL():
			for row := range b.listing(doc) {
				target := crawler.NewTarget(b.viewURL() + "/" + row.ReferenceID).
					WithMeta(metaTitle, row.Title).
					WithMeta(metaID, row.ReferenceID).
					WithMeta(metaPrincipal, row.Principal)
				if row.ClosesAt != nil {
					target = target.WithMeta(metaClosesAt, *row.ClosesAt)
				}
				if !yield(crawler.Follow(target), nil) {
					return
				}
			}
		case strings.HasPrefix(page, b.viewURL()):
			p, err := b.detail(env, doc)
			if err != nil {
				yield(crawler.Output{}, err)
				return
			}
			yield(crawler.Emit(p), nil)
		default:
			yield(crawler.Output{}, crawler.NewParseFailure(env, "unexpected page", nil))
		}
	}
}

func (b *Brisbane) listing(doc *goquery.Document) iter.Seq[Petition] {
	return func(yield func(Petition) bool) {
		doc.Find("table.petitions tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
			cells := tr.Find("td")
			if cells.Length() < 3 {
				return true
			}
			href, ok := cells.Eq(0).Find("a").Attr("href")
			if !ok {
				return true
			}
			p := Petition{
				Site:        "au-qld-bcc",
				ReferenceID: path.Base(strings.TrimRight(href, "/")),
				Title:       scrape.Clean(cells.Eq(0).Text()),
				Principal:   scrape.Clean(cells.Eq(1).Text()),
			}
			if closes, ok := parseDate(brisbaneDateLayouts, scrape.Clean(cells.Eq(2).Text())); ok {
				p.ClosesAt = &closes
			}
			return yield(p)
		})
	}
}

func (b *Brisbane) detail(env crawler.Envelope, doc *goquery.Document) (Petition, error) {
	id := metaString(env.Meta, metaID)
	if id == "" {
		id = path.Base(strings.TrimRight(env.ResponseURL, "/"))
	}
	p := Petition{
		Site:        "au-qld-bcc",
		ReferenceID: id,
		Title:       longer(scrape.Text(doc.Selection, ".page-title h1"), metaString(env.Meta, metaTitle)),
		ViewURL:     strings.TrimRight(env.ResponseURL, "/"),
		SignURL:     b.signURL() + "/" + id,
		Principal:   metaString(env.Meta, metaPrincipal),
		Body:        scrape.CleanLines(doc.Find("#petition-details").Text()),
		ClosesAt:    metaTime(env.Meta, metaClosesAt),
	}

	var rowErr error
	doc.Find(".petition-details tr").EachWithBreak(func(i int, tr *goquery.Selection) bool {
		cells := tr.Find("td")
		key := strings.ToLower(scrape.Clean(cells.Eq(0).Text()))
		value := scrape.Clean(cells.Eq(1).Text())
		switch {
		case i == 0 && strings.Contains(key, "principal"):
			p.Principal = longer(value, p.Principal)
		case i == 1 && strings.Contains(key, "date"):
			closes, ok := parseDate(brisbaneDateLayouts, value)
			if !ok {
				rowErr = fmt.Errorf("closing date %q", value)
				return false
			}
			if p.ClosesAt == nil || closes.After(*p.ClosesAt) {
				p.ClosesAt = &closes
			}
		case i == 2 && strings.Contains(key, "signature"):
			n, ok := scrape.LeadingInt(value)
			if !ok {
				rowErr = fmt.Errorf("signature count %q", value)
				return false
			}
			p.Signatures = &n
		default:
			rowErr = fmt.Errorf("unexpected details row %q: %q", key, value)
			return false
		}
		return true
	})
	if rowErr != nil {
		return Petition{}, crawler.NewParseFailure(env, "petition details", rowErr)
	}
	if p.Title == "" {
		return Petition{}, crawler.NewParseFailure(env, "petition has no title", nil)
	}
	return p, nil
}
