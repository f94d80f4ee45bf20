package crawler

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"
)

// Response is what a Fetcher observed on the wire, before decoding.
type Response struct {
	// URL is the final URL after redirects; empty means no redirect.
	URL       string
	Status    int
	Headers   http.Header
	Body      []byte
	FetchedAt time.Time
	Duration  time.Duration
}

// BodyKind classifies a response body for structured decoding.
type BodyKind string

// Supported body kinds.
const (
	BodyHTML  BodyKind = "html"
	BodyJSON  BodyKind = "json"
	BodyXML   BodyKind = "xml"
	BodyOther BodyKind = "other"
)

// ClassifyBody picks a decoder from the Content-Type header, sniffing the body when absent.
func ClassifyBody(header http.Header, body []byte) BodyKind {
	contentType := header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch {
	case strings.Contains(mediaType, "html"):
		return BodyHTML
	case strings.HasSuffix(mediaType, "json"):
		return BodyJSON
	case strings.HasSuffix(mediaType, "xml"):
		return BodyXML
	default:
		return BodyOther
	}
}

// BuildEnvelope turns a raw response for target into the Envelope handed to Extract.
// The raw body is always kept; Data and Selector stay nil when decoding fails.
func BuildEnvelope(target Target, resp Response) Envelope {
	env := Envelope{
		RequestURL:    target.URL,
		RequestMethod: target.RequestMethod(),
		ResponseURL:   resp.URL,
		Status:        resp.Status,
		Headers:       resp.Headers,
		Body:          resp.Body,
		Meta:          target.Meta,
		FetchedAt:     resp.FetchedAt,
		Duration:      resp.Duration,
	}
	if env.ResponseURL == "" {
		env.ResponseURL = target.URL
	}
	if env.Headers == nil {
		env.Headers = http.Header{}
	}
	if len(resp.Body) == 0 {
		return env
	}
	switch ClassifyBody(env.Headers, resp.Body) {
	case BodyHTML:
		if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body)); err == nil {
			env.Selector = doc
		}
	case BodyJSON:
		var data any
		if err := json.Unmarshal(resp.Body, &data); err == nil {
			env.Data = data
		}
	case BodyXML:
		if doc, err := xmlquery.Parse(bytes.NewReader(resp.Body)); err == nil {
			env.Data = doc
		}
	}
	return env
}
