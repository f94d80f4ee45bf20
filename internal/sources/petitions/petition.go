// Package petitions collects e-petitions from Queensland government websites.
package petitions

import (
	"time"
)

// Petition is one e-petition as published by its parliament or council.
type Petition struct {
	Site        string     `json:"site"`
	ReferenceID string     `json:"reference_id"`
	Title       string     `json:"title"`
	ViewURL     string     `json:"view_url"`
	SignURL     string     `json:"sign_url,omitempty"`
	Principal   string     `json:"principal,omitempty"`
	AddressedTo string     `json:"addressed_to,omitempty"`
	Sponsor     string     `json:"sponsor,omitempty"`
	Body        string     `json:"body,omitempty"`
	Signatures  *int       `json:"signatures,omitempty"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
	ClosesAt    *time.Time `json:"closes_at,omitempty"`
	TabledAt    *time.Time `json:"tabled_at,omitempty"`
}

// Kind implements crawler.Kinded.
func (Petition) Kind() string { return "petition" }

// Queensland does not observe daylight saving.
var brisbane = time.FixedZone("AEST", 10*60*60)

// Meta keys carried from a listing row to its detail page.
const (
	metaTitle      = "petition.title"
	metaID         = "petition.id"
	metaPrincipal  = "petition.principal"
	metaClosesAt   = "petition.closes_at"
	metaSignatures = "petition.signatures"
)

func metaString(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

func metaTime(meta map[string]any, key string) *time.Time {
	if t, ok := meta[key].(time.Time); ok {
		return &t
	}
	return nil
}

func metaInt(meta map[string]any, key string) *int {
	if n, ok := meta[key].(int); ok {
		return &n
	}
	return nil
}

// longer keeps the detail-page value unless the listing had more text.
func longer(a, b string) string {
	if len(b) > len(a) {
		return b
	}
	return a
}

func parseDate(layouts []string, value string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, brisbane); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
