package transport

import (
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/registry"
	"github.com/JakeFAU/gather-vision/internal/sources/scrape"
)

// TranslinkBaseURL is the Translink public site.
const TranslinkBaseURL = "https://translink.com.au"

// Translink reads the service updates RSS feed.
type Translink struct {
	feedURL string
}

// NewTranslink is the registry factory for transport/au-qld-translink.
func NewTranslink(opts registry.Options) (crawler.Source, error) {
	base, err := scrape.BaseURL(opts, TranslinkBaseURL)
	if err != nil {
		return nil, err
	}
	return &Translink{feedURL: base + "/service-updates/rss"}, nil
}

// Seed implements crawler.Source.
func (s *Translink) Seed() iter.Seq[crawler.Target] {
	return scrape.Targets(crawler.NewTarget(s.feedURL))
}

// Extract implements crawler.Source, yielding one Notice per feed item.
func (s *Translink) Extract(env crawler.Envelope) iter.Seq2[crawler.Output, error] {
	return func(yield func(crawler.Output, error) bool) {
		doc, ok := env.Data.(*xmlquery.Node)
		if !ok {
			yield(crawler.Output{}, crawler.NewParseFailure(env, "expected an RSS document", nil))
			return
		}
		channel := xmlquery.FindOne(doc, "//channel")
		if channel == nil {
			yield(crawler.Output{}, crawler.NewParseFailure(env, "feed has no channel", nil))
			return
		}
		feed := childText(channel, "title")
		issued := parsePubDate(childText(channel, "pubDate"))
		for _, item := range channel.SelectElements("item") {
			n := buildNotice(item)
			n.Feed = feed
			if n.IssuedAt == nil {
				n.IssuedAt = issued
			}
			if n.ID == "" && n.Title == "" {
				continue
			}
			if !yield(crawler.Emit(n), nil) {
				return
			}
		}
	}
}

func buildNotice(item *xmlquery.Node) Notice {
	n := Notice{
		Title: strings.TrimSpace(strings.Trim(childText(item, "title"), "⚠ⓘ☒ ")),
		URL:   childText(item, "link"),
	}
	if guid := childText(item, "guid"); guid != "" {
		n.ID = strings.TrimSpace(guid[strings.LastIndex(guid, "/")+1:])
	}
	if n.ID == "" {
		n.ID = n.URL
	}
	n.IssuedAt = parsePubDate(childText(item, "pubDate"))
	labels := make(map[string]struct{})
	for _, c := range item.SelectElements("category") {
		if label := scrape.Clean(c.InnerText()); label != "" {
			labels[label] = struct{}{}
		}
	}
	n.Labels = slices.Sorted(maps.Keys(labels))

	fields := matchFields(descriptionPatterns, scrape.Clean(childText(item, "description")))
	n.NoticeType = fields["type"]
	n.Description = fields["description"]
	n.StartsAt = parseNoticeDate(fields["start"])
	n.EndsAt = parseNoticeDate(fields["stop"])
	n.Services, n.MoreServices = splitServices(fields["services"])

	n.Summary, n.Durations, n.Affected, n.Changes = splitTitle(n.Title)
	n.Category = guessCategory(n.Affected, n.Services)
	n.Severity = guessSeverity(n.Labels, n.Changes)
	for _, service := range n.Services {
		n.Groups = append(n.Groups, Group{Name: service, Mode: guessMode(service)})
	}
	return n
}

func childText(n *xmlquery.Node, name string) string {
	if child := n.SelectElement(name); child != nil {
		return strings.TrimSpace(child.InnerText())
	}
	return ""
}
