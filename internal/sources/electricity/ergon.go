package electricity

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/gather-vision/internal/crawler"
	"github.com/JakeFAU/gather-vision/internal/registry"
	"github.com/JakeFAU/gather-vision/internal/sources/scrape"
)

// ErgonBaseURL hosts the Ergon Energy demand feed.
const ErgonBaseURL = "https://www.ergon.com.au"

// Ergon demand categories in MW.
const (
	ergonHighMin = 2000
	ergonHighMax = 5000
	ergonLowMax  = 1499
)

const ergonTimeLayout = "2006-01-02 15:04:05.000"

// Ergon reads the JSON current demand published by Ergon Energy.
type Ergon struct {
	demandURL string
}

type ergonFeed struct {
	Data []struct {
		CurrentDemand struct {
			Data string `json:"data"`
			Time string `json:"time"`
		} `json:"currentdemand"`
	} `json:"data"`
}

// NewErgon is the registry factory for electricity/au-qld-ergon.
func NewErgon(opts registry.Options) (crawler.Source, error) {
	base, err := scrape.BaseURL(opts, ErgonBaseURL)
	if err != nil {
		return nil, err
	}
	return &Ergon{demandURL: base + "/static/Ergon/Network%20Demand/currentdemand.json"}, nil
}

// Seed implements crawler.Source.
func (e *Ergon) Seed() iter.Seq[crawler.Target] {
	return scrape.Targets(crawler.NewTarget(e.demandURL))
}

// Extract implements crawler.Source, yielding one Demand per reading in the feed.
func (e *Ergon) Extract(env crawler.Envelope) iter.Seq2[crawler.Output, error] {
	return func(yield func(crawler.Output, error) bool) {
		var feed ergonFeed
		if err := env.DecodeJSON(&feed); err != nil {
			yield(crawler.Output{}, crawler.NewParseFailure(env, "ergon feed", err))
			return
		}
		if len(feed.Data) == 0 {
			yield(crawler.Output{}, crawler.NewParseFailure(env, "ergon feed has no readings", nil))
			return
		}
		for _, entry := range feed.Data {
			reading := entry.CurrentDemand
			mw, err := strconv.ParseFloat(strings.TrimSpace(reading.Data), 64)
			if err != nil {
				yield(crawler.Output{}, crawler.NewParseFailure(env, fmt.Sprintf("demand %q", reading.Data), err))
				return
			}
			observed, err := time.ParseInLocation(ergonTimeLayout, strings.TrimSpace(reading.Time), brisbane)
			if err != nil {
				yield(crawler.Output{}, crawler.NewParseFailure(env, fmt.Sprintf("time %q", reading.Time), err))
				return
			}
			if !yield(crawler.Emit(Demand{
				Network:    "ergon",
				DemandMW:   mw,
				Category:   ErgonCategory(mw),
				ObservedAt: observed,
			}), nil) {
				return
			}
		}
	}
}

// ErgonCategory buckets demand into low, moderate or high.
func ErgonCategory(mw float64) string {
	switch {
	case mw >= ergonHighMin && mw <= ergonHighMax:
		return "high"
	case mw >= 0 && mw <= ergonLowMax:
		return "low"
	default:
		return "moderate"
	}
}
