package petitions

import (
	"github.com/JakeFAU/gather-vision/internal/registry"
)

// Register adds the petitions plugin and its sub-sources to reg.
func Register(reg *registry.Registry) error {
	return reg.RegisterGroup("petitions", "Petitions from Queensland parliament and councils",
		registry.SubSource{
			Name:        "au-qld",
			Description: "Queensland Parliament e-petitions",
			Factory:     NewParliament,
		},
		registry.SubSource{
			Name:        "au-qld-bcc",
			Description: "Brisbane City Council e-petitions",
			Factory:     NewBrisbane,
		},
	)
}
