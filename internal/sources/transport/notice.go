// Package transport collects public transport service notices for Brisbane.
package transport

import (
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/JakeFAU/gather-vision/internal/registry"
)

// Notice is one service update published by Translink.
type Notice struct {
	ID          string     `json:"id"`
	Feed        string     `json:"feed,omitempty"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary"`
	NoticeType  string     `json:"notice_type,omitempty"`
	Description string     `json:"description,omitempty"`
	URL         string     `json:"url"`
	IssuedAt    *time.Time `json:"issued_at,omitempty"`
	StartsAt    *time.Time `json:"starts_at,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
	Durations   []string   `json:"durations,omitempty"`
	Affected    []string   `json:"affected,omitempty"`
	Changes     []string   `json:"changes,omitempty"`
	Services    []string   `json:"services,omitempty"`
	// MoreServices is set when the feed truncated the service list.
	MoreServices bool    `json:"more_services,omitempty"`
	Category     string  `json:"category,omitempty"`
	Severity     string  `json:"severity"`
	Groups       []Group `json:"groups,omitempty"`
}

// Kind implements crawler.Kinded.
func (Notice) Kind() string { return "transport_notice" }

// Group is a service or line touched by a notice.
type Group struct {
	Name string `json:"name"`
	Mode string `json:"mode"`
}

// Infrastructure categories.
const (
	CategoryTrainTrack         = "train_track"
	CategoryTrainStation       = "train_station"
	CategoryTrainCarpark       = "train_carpark"
	CategoryTrainAccessibility = "train_accessibility"
	CategoryBusStop            = "bus_stop"
)

// Severities.
const (
	SeverityInfo  = "info"
	SeverityMinor = "minor"
	SeverityMajor = "major"
)

// Transport modes.
const (
	ModeBus   = "bus"
	ModeFerry = "ferry"
	ModeTrain = "train"
	ModeTram  = "tram"
)

// Queensland does not observe daylight saving.
var brisbane = time.FixedZone("AEST", 10*60*60)

// Register adds the transport plugin and its sub-sources to reg.
func Register(reg *registry.Registry) error {
	return reg.RegisterGroup("transport", "Public transport service notices",
		registry.SubSource{
			Name:        "au-qld-translink",
			Description: "Translink service updates for south-east Queensland",
			Factory:     NewTranslink,
		},
	)
}

// descriptionPatterns are tried in order against a cleaned item description.
var descriptionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\((?P<type>[^)]+)\)\s*(?P<description>.+)\.\s*Starts\s*affecting:\s*(?P<start>.+?)\s*Finishes affecting:\s*(?P<stop>.+)$`),
	regexp.MustCompile(`^Start\s*date:\s*(?P<start>[^a-z]+),\s*End\s*date:\s*(?P<stop>[^a-z]+),\s*Services:\s*(?P<services>.+)$`),
	regexp.MustCompile(`^\((?P<type>[^)]+)\)\s*(?P<description>.+)\.\s*Starts\s*affecting:\s*(?P<start>.+)$`),
	regexp.MustCompile(`^Start\s*date:\s*(?P<start>[^a-z]+),\s*Services:\s*(?P<services>.+)$`),
	regexp.MustCompile(`^Affects\s*services:\s*(?P<start>[^a-z]+?)\s*Services:\s*(?P<services>.+)$`),
}

func termPattern(terms ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(?P<found>` + strings.Join(terms, "|") + `)\b`)
}

var (
	durationTerms = termPattern("temporary", "extended", "permanent", "weekend", "weekday", "evening", `late\s*night`)
	affectedTerms = termPattern(
		`bus\s*stops?`, `stops?`, `bus\s*stations?`, `stations?`, `park\s*(?:'?n'?|and)\s*rides?`,
		`tracks?`, `entrances?`, `bus\s*services?`, `services?`, `timetables?`, `platforms?`,
		`bus\s*routes?`, `routes?`, `bus\s*lines?`, `lines?`,
	)
	changeTerms = termPattern(
		`closures?`, `changes?`, `disruptions?`, `diversions?`, `relocations?`, `reduced`, `missed`,
		`re-?opened`, `more`, `delays?`, `additional`, `free\s*travel`,
	)
)

// matchFields returns the named groups of the first pattern matching value.
func matchFields(patterns []*regexp.Regexp, value string) map[string]string {
	for _, re := range patterns {
		m := re.FindStringSubmatch(value)
		if m == nil {
			continue
		}
		out := make(map[string]string, len(m))
		for i, name := range re.SubexpNames() {
			if name != "" {
				out[name] = strings.TrimSpace(m[i])
			}
		}
		return out
	}
	return nil
}

// extractTerms removes every match of pattern from s and returns what is
// left with the distinct lower-cased matches.
func extractTerms(s string, pattern *regexp.Regexp) (string, []string) {
	found := make(map[string]struct{})
	group := pattern.SubexpIndex("found")
	for {
		loc := pattern.FindStringSubmatchIndex(s)
		if loc == nil {
			break
		}
		start, end := loc[2*group], loc[2*group+1]
		found[strings.Join(strings.Fields(strings.ToLower(s[start:end])), " ")] = struct{}{}
		s = strings.TrimSpace(s[:start]) + " " + strings.TrimSpace(s[end:])
	}
	return strings.TrimSpace(s), slices.Sorted(maps.Keys(found))
}

var titleJoiners = strings.NewReplacer(" - ", " ", " for ", " ", " in ", " ")

// splitTitle separates the duration, affected-infrastructure and change
// keywords from a notice title, leaving a short summary of what is affected.
func splitTitle(title string) (summary string, durations, affected, changes []string) {
	rest, durations := extractTerms(title, durationTerms)
	rest, affected = extractTerms(rest, affectedTerms)
	rest, changes = extractTerms(rest, changeTerms)
	rest = titleJoiners.Replace(" " + rest + " ")
	return strings.Join(strings.Fields(rest), " "), durations, affected, changes
}

// splitServices parses a comma separated service list. A trailing "..."
// means the feed listed only some of the services.
func splitServices(s string) (services []string, more bool) {
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		switch part {
		case "":
		case "...", "…":
			more = true
		default:
			services = append(services, part)
		}
	}
	slices.Sort(services)
	return slices.Compact(services), more
}

func guessCategory(affected, services []string) string {
	text := strings.ToLower(strings.Join(append(slices.Clone(affected), services...), "; "))
	switch {
	case strings.Contains(text, "park") && strings.Contains(text, "ride"):
		return CategoryTrainCarpark
	case strings.Contains(text, "lift"), strings.Contains(text, "escalator"), strings.Contains(text, "accessib"):
		return CategoryTrainAccessibility
	case strings.Contains(text, "bus stop"), strings.Contains(text, "bus station"):
		return CategoryBusStop
	case strings.Contains(text, "track"), strings.Contains(text, " line"):
		return CategoryTrainTrack
	case strings.Contains(text, "station"), strings.Contains(text, "platform"), strings.Contains(text, "entrance"):
		return CategoryTrainStation
	case strings.Contains(text, "stop"):
		return CategoryBusStop
	}
	return ""
}

func guessSeverity(labels, changes []string) string {
	for _, label := range labels {
		switch l := strings.ToLower(label); {
		case strings.Contains(l, "major"):
			return SeverityMajor
		case strings.Contains(l, "minor"):
			return SeverityMinor
		}
	}
	severity := SeverityInfo
	for _, change := range changes {
		switch change {
		case "closure", "closures", "missed", "free travel":
			return SeverityMajor
		case "changes", "change", "disruption", "disruptions", "diversion", "diversions",
			"relocation", "relocations", "reduced", "delay", "delays":
			severity = SeverityMinor
		}
	}
	return severity
}

func guessMode(service string) string {
	s := strings.ToLower(service)
	switch {
	case strings.Contains(s, "ferry"), strings.Contains(s, "citycat"), strings.Contains(s, "kittycat"), strings.Contains(s, "cross river"):
		return ModeFerry
	case strings.Contains(s, "g:link"), strings.Contains(s, "glink"), strings.Contains(s, "tram"):
		return ModeTram
	case strings.Contains(s, " line"), strings.Contains(s, "train"), strings.Contains(s, "airtrain"):
		return ModeTrain
	}
	return ModeBus
}

var noticeDateLayouts = []string{
	"Monday 2 January 2006 3:04 PM",
	"Monday 2 January 2006 3:04pm",
	"Monday 2 January 2006",
	"Monday, 2 January 2006",
	"2 January 2006",
	"02/01/2006 3:04 PM",
	"2/01/2006",
	"02/01/2006",
	"2/1/2006",
}

func parseNoticeDate(value string) *time.Time {
	value = strings.Join(strings.Fields(value), " ")
	if value == "" {
		return nil
	}
	for _, layout := range noticeDateLayouts {
		if t, err := time.ParseInLocation(layout, value, brisbane); err == nil {
			return &t
		}
	}
	return nil
}

func parsePubDate(value string) *time.Time {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, "Mon, 2 Jan 2006 15:04:05 -0700"} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.In(brisbane)
			return &t
		}
	}
	return nil
}
