package petitions

import (
	"iter"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/registry"
	"github.com/JakeFAU/gather-vision/internal/sources/scrape"
)

// ParliamentBaseURL is the Queensland Parliament petitions section.
const ParliamentBaseURL = "https://www.parliament.qld.gov.au/Work-of-the-Assembly/Petitions"

var parliamentDateLayouts = []string{"02/01/2006", "2/1/2006", "2 January 2006", "02 January 2006"}

// Parliament collects current e-petitions tabled with the Queensland Parliament.
type Parliament struct {
	baseURL string
}

// NewParliament is the registry factory for petitions/au-qld.
func NewParliament(opts registry.Options) (crawler.Source, error) {
	base, err := scrape.BaseURL(opts, ParliamentBaseURL)
	if err != nil {
		return nil, err
	}
	return &Parliament{baseURL: base}, nil
}

func (q *Parliament) currentURL() string { return q.baseURL + "/Current-EPetitions" }

// Seed implements crawler.Source.
func (q *Parliament) Seed() iter.Seq[crawler.Target] {
	return scrape.Targets(crawler.NewTarget(q.currentURL()))
}

// Extract implements crawler.Source.
func (q *Parliament) Extract(env crawler.Envelope) iter.Seq2[crawler.Output, error] {
	return func(yield func(crawler.Output, error) bool) {
		doc, err := scrape.Document(env)
		if err != nil {
			yield(crawler.Output{}, err)
			return
		}
		switch {
		case strings.Contains(env.ResponseURL, "/Petition-Details"):
			p, err := q.detail(env, doc)
			if err != nil {
				yield(crawler.Output{}, err)
				return
			}
			yield(crawler.Emit(p), nil)
		case strings.HasPrefix(env.ResponseURL, q.currentURL()):
			for target := range q.listing(doc) {
				if !yield(crawler.Follow(target), nil) {
					return
				}
			}
		default:
			yield(crawler.Output{}, crawler.NewParseFailure(env, "unexpected page", nil))
		}
	}
}

func (q *Parliament) listing(doc *goquery.Document) iter.Seq[crawler.Target] {
	return func(yield func(crawler.Target) bool) {
		doc.Find(".petitions-listing__details-wrapper").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			link := s.Find(".petitions-listing__details-row a").First()
			href, ok := link.Attr("href")
			if !ok || strings.TrimSpace(href) == "" {
				return true
			}
			target := crawler.NewTarget(strings.TrimSpace(href)).
				WithMeta(metaTitle, scrape.Clean(link.Text())).
				WithMeta(metaID, scrape.Text(s, ".petitions-listing__details-row span strong"))
			if closes, ok := parseDate(parliamentDateLayouts, closingDate(scrape.Text(s, ".petitions-listing__subtext"))); ok {
				target = target.WithMeta(metaClosesAt, closes)
			}
			if n, ok := scrape.LeadingInt(scrape.Text(s, ".petitions-listing__signatures-highlight")); ok {
				target = target.WithMeta(metaSignatures, n)
			}
			return yield(target)
		})
	}
}

func (q *Parliament) detail(env crawler.Envelope, doc *goquery.Document) (Petition, error) {
	id := metaString(env.Meta, metaID)
	if u, err := url.Parse(env.ResponseURL); err == nil && u.Query().Get("id") != "" {
		id = u.Query().Get("id")
	}
	p := Petition{
		Site:        "au-qld",
		ReferenceID: id,
		Title:       longer(scrape.Text(doc.Selection, "h1"), metaString(env.Meta, metaTitle)),
		ViewURL:     env.ResponseURL,
		Principal:   scrape.Text(doc.Selection, ".petition-details__petitioner-details-wrapper"),
		AddressedTo: scrape.Text(doc.Selection, ".petition-details__content--heading"),
		Body:        scrape.CleanLines(doc.Find(".petition-details__content--body").Text()),
		Signatures:  metaInt(env.Meta, metaSignatures),
		ClosesAt:    metaTime(env.Meta, metaClosesAt),
	}
	if n, ok := scrape.LeadingInt(scrape.Text(doc.Selection, ".petition-details__signatures-highlight")); ok {
		p.Signatures = &n
	}
	doc.Find(".petition-details__prop").Each(func(_ int, s *goquery.Selection) {
		label := strings.ToLower(scrape.Text(s, ".petition-details__prop-label"))
		value := scrape.Text(s, ".petition-details__prop-value")
		switch {
		case strings.Contains(label, "sponsoring member"):
			p.Sponsor = value
		case strings.Contains(label, "tabled"):
			if t, ok := parseDate(parliamentDateLayouts, value); ok {
				p.TabledAt = &t
			}
		case strings.Contains(label, "posting date"):
			if t, ok := parseDate(parliamentDateLayouts, value); ok {
				p.PostedAt = &t
			}
		case strings.Contains(label, "closing date"):
			if t, ok := parseDate(parliamentDateLayouts, value); ok {
				p.ClosesAt = &t
			}
		}
	})
	if href, ok := doc.Find("a.petition-details__sign-button").Attr("href"); ok {
		if resolved, err := crawler.ResolveURL(env.ResponseURL, href); err == nil {
			p.SignURL = resolved
		}
	}
	if p.Title == "" || p.ReferenceID == "" {
		return Petition{}, crawler.NewParseFailure(env, "petition has no title or id", nil)
	}
	return p, nil
}

// closingDate strips the "Closing date:" label from a listing subtext.
func closingDate(subtext string) string {
	if _, after, ok := strings.Cut(subtext, ":"); ok {
		return strings.TrimSpace(after)
	}
	return subtext
}
