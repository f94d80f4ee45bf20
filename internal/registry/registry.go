// Package registry maps source names to the factories that build them.
package registry

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/JakeFAU/gather-vision/internal/crawler"
)

// Factory builds a source from its configuration options.
type Factory func(opts Options) (crawler.Source, error)

// SubSource is one independently runnable data source inside a plugin.
type SubSource struct {
	Name        string
	Description string
	Factory     Factory
}

// Plugin groups one or more sub-sources under a name. A plugin registered with
// Register has no sub-sources and runs as a single unit.
type Plugin struct {
	Name        string
	Description string
	factory     Factory
	subs        []SubSource
}

// SubSourceNames returns the sub-source names in registration order.
func (p *Plugin) SubSourceNames() []string {
	names := make([]string, 0, len(p.subs))
	for _, s := range p.subs {
		names = append(names, s.Name)
	}
	return names
}

// Unit is one runnable source: a plain plugin or one sub-source of a group.
type Unit struct {
	Plugin    string
	SubSource string
	Factory   Factory
}

// Name is the run name: "plugin" or "plugin/sub-source".
func (u Unit) Name() string {
	if u.SubSource == "" {
		return u.Plugin
	}
	return u.Plugin + "/" + u.SubSource
}

// Listing describes a registered plugin for the list operation.
type Listing struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	SubSources  []string `json:"sub_sources,omitempty" yaml:"sub_sources,omitempty"`
}

// Registry maps plugin names to plugins, preserving registration order.
type Registry struct {
	plugins map[string]*Plugin
	order   []string // insertion order for deterministic iteration
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{plugins: make(map[string]*Plugin)}
}

// FromMap builds a registry from an injected name-to-factory mapping, in sorted name order.
func FromMap(factories map[string]Factory) (*Registry, error) {
	r := New()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := r.Register(name, "", factories[name]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a single-unit plugin.
func (r *Registry) Register(name, description string, factory Factory) error {
	if factory == nil {
		return eris.Errorf("registry: plugin %q has no factory", name)
	}
	return r.add(&Plugin{Name: name, Description: description, factory: factory})
}

// RegisterGroup adds a plugin made of named sub-sources.
func (r *Registry) RegisterGroup(name, description string, subs ...SubSource) error {
	if len(subs) == 0 {
		return eris.Errorf("registry: plugin %q has no sub-sources", name)
	}
	seen := make(map[string]struct{}, len(subs))
	for _, s := range subs {
		if err := validName(s.Name); err != nil {
			return eris.Wrapf(err, "registry: plugin %q", name)
		}
		if s.Factory == nil {
			return eris.Errorf("registry: sub-source %s/%s has no factory", name, s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return eris.Errorf("registry: duplicate sub-source %s/%s", name, s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return r.add(&Plugin{Name: name, Description: description, subs: append([]SubSource(nil), subs...)})
}

func (r *Registry) add(p *Plugin) error {
	if err := validName(p.Name); err != nil {
		return eris.Wrap(err, "registry")
	}
	if _, exists := r.plugins[p.Name]; exists {
		return eris.Errorf("registry: plugin %q already registered", p.Name)
	}
	r.plugins[p.Name] = p
	r.order = append(r.order, p.Name)
	return nil
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, "/ \t") {
		return eris.Errorf("invalid name %q", name)
	}
	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) (*Plugin, error) {
	p, ok := r.plugins[name]
	if !ok {
		return nil, eris.Wrapf(crawler.ErrUnknownSource, "registry: unknown source %q", name)
	}
	return p, nil
}

// Names returns all plugin names in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Resolve returns the units selected by name and sub. An empty name selects
// every unit of every plugin; an empty sub selects every unit of the plugin.
func (r *Registry) Resolve(name, sub string) ([]Unit, error) {
	if name == "" {
		if sub != "" {
			return nil, eris.Errorf("registry: sub-source %q requires a source name", sub)
		}
		var units []Unit
		for _, n := range r.order {
			units = append(units, r.plugins[n].units()...)
		}
		return units, nil
	}
	p, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if sub == "" {
		return p.units(), nil
	}
	for _, u := range p.units() {
		if u.SubSource == sub {
			return []Unit{u}, nil
		}
	}
	return nil, eris.Wrapf(crawler.ErrUnknownSource, "registry: unknown sub-source %q of %q", sub, name)
}

func (p *Plugin) units() []Unit {
	if p.factory != nil {
		return []Unit{{Plugin: p.Name, Factory: p.factory}}
	}
	units := make([]Unit, 0, len(p.subs))
	for _, s := range p.subs {
		units = append(units, Unit{Plugin: p.Name, SubSource: s.Name, Factory: s.Factory})
	}
	return units
}

// List describes the registered plugins; a non-empty name restricts it to one plugin.
func (r *Registry) List(name string) ([]Listing, error) {
	names := r.order
	if name != "" {
		if _, err := r.Get(name); err != nil {
			return nil, err
		}
		names = []string{name}
	}
	out := make([]Listing, 0, len(names))
	for _, n := range names {
		p := r.plugins[n]
		out = append(out, Listing{Name: p.Name, Description: p.Description, SubSources: p.SubSourceNames()})
	}
	return out, nil
}
