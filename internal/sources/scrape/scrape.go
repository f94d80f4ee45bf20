// Package scrape holds helpers shared by the built-in sources.
package scrape

import (
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"

	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/registry"
)

// BaseURLOption is the option key every built-in source reads its base URL from.
const BaseURLOption = "base_url"

// Clean normalizes text scraped from a page: NFKC folds non-breaking spaces
// and compatibility characters, then runs of whitespace collapse to one space.
func Clean(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// CleanLines is Clean applied per line, dropping blank lines.
func CleanLines(s string) string {
	var lines []string
	for line := range strings.Lines(norm.NFKC.String(s)) {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// Text returns the cleaned text of the first match of selector below s.
func Text(s *goquery.Selection, selector string) string {
	return Clean(s.Find(selector).First().Text())
}

// Document returns the parsed HTML of env or a parse failure when the body was not HTML.
func Document(env crawler.Envelope) (*goquery.Document, error) {
	if env.Selector == nil {
		return nil, crawler.NewParseFailure(env, "expected an HTML document", nil)
	}
	return env.Selector, nil
}

// BaseURL reads the base URL option, falling back to def, and checks it is absolute.
func BaseURL(opts registry.Options, def string) (string, error) {
	return URLOption(opts, BaseURLOption, def)
}

// URLOption reads an absolute URL option, without its trailing slash.
func URLOption(opts registry.Options, key, def string) (string, error) {
	raw := strings.TrimRight(opts.String(key, def), "/")
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%s %q must be an absolute URL", key, raw)
	}
	return raw, nil
}

// Resolve turns href, found on the page at pageURL, into an absolute URL.
func Resolve(pageURL, href string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("page url %q: %w", pageURL, err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("link %q: %w", href, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// Targets yields the given targets in order.
func Targets(targets ...crawler.Target) iter.Seq[crawler.Target] {
	return func(yield func(crawler.Target) bool) {
		for _, t := range targets {
			if !yield(t) {
				return
			}
		}
	}
}

// LeadingInt parses the first run of digits in s, ignoring thousands separators.
func LeadingInt(s string) (int, bool) {
	var digits strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == ',' && digits.Len() > 0:
		case digits.Len() > 0:
			n, err := strconv.Atoi(digits.String())
			return n, err == nil
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(digits.String())
	return n, err == nil
}
