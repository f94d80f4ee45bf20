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

// EnergexBaseURL hosts the Energex demand feed.
const EnergexBaseURL = "https://www.energex.com.au"

// Energex demand spans 0 to 5500 MW, split into twelve rating bands.
const (
	energexDemandMax = 5500
	energexRatingMin = 1
	energexRatingMax = 12
)

// Energex reads the plain-text current demand published by Energex.
type Energex struct {
	demandURL string
}

// NewEnergex is the registry factory for electricity/au-qld-energex.
func NewEnergex(opts registry.Options) (crawler.Source, error) {
	base, err := scrape.BaseURL(opts, EnergexBaseURL)
	if err != nil {
		return nil, err
	}
	return &Energex{demandURL: base + "/static/Energex/Network%20Demand/networkdemand.txt"}, nil
}

// Seed implements crawler.Source.
func (e *Energex) Seed() iter.Seq[crawler.Target] {
	return scrape.Targets(crawler.NewTarget(e.demandURL))
}

// Extract implements crawler.Source. The feed carries no timestamp, so the
// reading is stamped with the fetch time truncated to the minute.
func (e *Energex) Extract(env crawler.Envelope) iter.Seq2[crawler.Output, error] {
	return func(yield func(crawler.Output, error) bool) {
		raw := strings.TrimSpace(env.Text())
		mw, err := strconv.ParseFloat(raw, 64)
		if err != nil || mw < 0 {
			yield(crawler.Output{}, crawler.NewParseFailure(env, fmt.Sprintf("demand %q", raw), err))
			return
		}
		yield(crawler.Emit(Demand{
			Network:    "energex",
			DemandMW:   mw,
			Rating:     EnergexRating(mw),
			ObservedAt: env.FetchedAt.In(brisbane).Truncate(time.Minute),
		}), nil)
	}
}

// EnergexRating maps demand onto a 1 to 12 scale.
func EnergexRating(mw float64) int {
	band := float64(energexDemandMax) / 4 / 3
	return min(max(int(mw/band), energexRatingMin), energexRatingMax)
}
