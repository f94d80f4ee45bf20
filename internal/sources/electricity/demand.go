// Package electricity collects network demand readings from Queensland distributors.
package electricity

import (
	"time"

	"github.com/JakeFAU/gather-vision/internal/registry"
)

// Demand is one network demand reading in megawatts.
type Demand struct {
	Network    string    `json:"network"`
	DemandMW   float64   `json:"demand_mw"`
	Rating     int       `json:"rating,omitempty"`
	Category   string    `json:"category,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// Kind implements crawler.Kinded.
func (Demand) Kind() string { return "demand" }

// Queensland does not observe daylight saving.
var brisbane = time.FixedZone("AEST", 10*60*60)

// Register adds the electricity plugin and its sub-sources to reg.
func Register(reg *registry.Registry) error {
	return reg.RegisterGroup("electricity", "Electricity network demand in Queensland",
		registry.SubSource{
			Name:        "au-qld-energex",
			Description: "Energex south-east Queensland network demand",
			Factory:     NewEnergex,
		},
		registry.SubSource{
			Name:        "au-qld-ergon",
			Description: "Ergon Energy regional Queensland network demand",
			Factory:     NewErgon,
		},
	)
}
