// Package elections collects Queensland election listings and result summaries
// from the Electoral Commission of Queensland.
package elections

import (
	"fmt"
	"strconv"
	"time"

	"github.com/JakeFAU/gather-vision/internal/registry"
)

// Election is one election event, from the results index or the results data listing.
type Election struct {
	ID         string     `json:"id,omitempty"`
	Stub       string     `json:"stub,omitempty"`
	Name       string     `json:"name"`
	Section    string     `json:"section,omitempty"`
	Type       string     `json:"type,omitempty"`
	Day        string     `json:"day,omitempty"`
	HeldOn     *time.Time `json:"held_on,omitempty"`
	Enrolment  *int       `json:"enrolment,omitempty"`
	Current    bool       `json:"current,omitempty"`
	SummaryURL string     `json:"summary_url,omitempty"`
	IndexURL   string     `json:"index_url,omitempty"`
}

// Kind implements crawler.Kinded.
func (Election) Kind() string { return "election" }

// Result is one row of a published results table.
type Result struct {
	Election string            `json:"election"`
	Section  string            `json:"section,omitempty"`
	Table    string            `json:"table,omitempty"`
	Values   map[string]string `json:"values"`
	URL      string            `json:"url"`
}

// Kind implements crawler.Kinded.
func (Result) Kind() string { return "election_result" }

// Register adds the elections plugin and its sub-sources to reg.
func Register(reg *registry.Registry) error {
	return reg.RegisterGroup("elections", "Election listings and results",
		registry.SubSource{
			Name:        "au-qld-ecq",
			Description: "Electoral Commission of Queensland results",
			Factory:     NewCommission,
		},
	)
}

var brisbane = time.FixedZone("AEST", 10*60*60)

const (
	metaSection  = "election_section"
	metaElection = "election_name"
)

func metaString(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

// field renders a decoded JSON scalar as text; ids arrive as numbers or strings.
func field(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func intField(m map[string]any, key string) *int {
	switch v := m[key].(type) {
	case float64:
		n := int(v)
		return &n
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return &n
		}
	}
	return nil
}
