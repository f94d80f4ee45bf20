// Package detector decides when a plain HTTP response needs a headless re-render.
package detector

import (
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/gather-vision/internal/crawler"
)

const defaultMinTextBytes = 2048

// mountPoints are the root elements client-side frameworks render into.
const mountPoints = "#__next, #__nuxt, #root, #app, [data-reactroot], [ng-version]"

// Heuristic flags HTML pages that are script shells: an empty framework mount
// point, or little visible text next to a large share of script markup.
type Heuristic struct {
	MinTextBytes int
}

// NewHeuristic creates a detector; minTextBytes <= 0 uses 2048.
func NewHeuristic(minTextBytes int) *Heuristic {
	if minTextBytes <= 0 {
		minTextBytes = defaultMinTextBytes
	}
	return &Heuristic{MinTextBytes: minTextBytes}
}

// NeedsRendering reports whether env should be fetched again in a browser.
func (h *Heuristic) NeedsRendering(env crawler.Envelope) bool {
	if env.Status != http.StatusOK {
		return false
	}
	if len(env.Body) == 0 {
		return strings.Contains(strings.ToLower(env.Headers.Get("Content-Type")), "html")
	}
	doc := env.Selector
	if doc == nil {
		return false
	}

	empty := doc.Find(mountPoints).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return strings.TrimSpace(s.Text()) == ""
	})
	if empty.Length() > 0 {
		return true
	}

	scriptBytes := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if html, err := goquery.OuterHtml(s); err == nil {
			scriptBytes += len(html)
		}
	})
	if scriptBytes == 0 {
		return false
	}
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	text := strings.Join(strings.Fields(body.Text()), " ")
	return len(text) < h.MinTextBytes && scriptBytes*100/len(env.Body) >= 25
}
