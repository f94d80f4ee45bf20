// Package sources registers the built-in data sources.
package sources

import (
	"fmt"

	"github.com/JakeFAU/gather-vision/internal/registry"
	"github.com/JakeFAU/gather-vision/internal/sources/elections"
	"github.com/JakeFAU/gather-vision/internal/sources/electricity"
	"github.com/JakeFAU/gather-vision/internal/sources/petitions"
	"github.com/JakeFAU/gather-vision/internal/sources/transport"
	"github.com/JakeFAU/gather-vision/internal/sources/water"
)

// Register adds every built-in plugin to reg.
func Register(reg *registry.Registry) error {
	for _, register := range []func(*registry.Registry) error{
		elections.Register,
		electricity.Register,
		petitions.Register,
		transport.Register,
		water.Register,
	} {
		if err := register(reg); err != nil {
			return fmt.Errorf("register built-in sources: %w", err)
		}
	}
	return nil
}

// Builtin returns a registry holding only the built-in plugins.
func Builtin() (*registry.Registry, error) {
	reg := registry.New()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
