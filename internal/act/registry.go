package act

import (
	"fmt"
	"sort"

	"github.com/danielpatrickdp/cognitive-control/go-controller/internal/critic"
)

// #region spec
// Spec describes one registered action type.
type Spec struct {
	Category critic.Category `yaml:"category"`
	BaseCost float64         `yaml:"base_cost"`
}

// #endregion spec

// #region registry
// Registry is the fixed set of action types. It is built once at startup
// and never mutated.
type Registry struct {
	specs map[string]Spec
}

// NewRegistry validates specs and copies them into a Registry.
func NewRegistry(specs map[string]Spec) (*Registry, error) {
	r := &Registry{specs: make(map[string]Spec, len(specs))}
	for name, s := range specs {
		if name == "" {
			return nil, fmt.Errorf("registry: empty action name")
		}
		if s.Category != critic.Safe && s.Category != critic.Consequential {
			return nil, fmt.Errorf("registry: %s: unknown category %q", name, s.Category)
		}
		if s.BaseCost < 0 {
			return nil, fmt.Errorf("registry: %s: negative base cost", name)
		}
		r.specs[name] = s
	}
	return r, nil
}

// DefaultRegistry returns the built-in action set.
func DefaultRegistry() *Registry {
	r, _ := NewRegistry(DefaultSpecs())
	return r
}

// DefaultSpecs returns the built-in action specs.
func DefaultSpecs() map[string]Spec {
	return map[string]Spec{
		"search":        {Category: critic.Safe, BaseCost: 0.3},
		"web_search":    {Category: critic.Safe, BaseCost: 0.4},
		"fetch_url":     {Category: critic.Safe, BaseCost: 0.3},
		"read_file":     {Category: critic.Safe, BaseCost: 0.2},
		"list_files":    {Category: critic.Safe, BaseCost: 0.1},
		"recall_memory": {Category: critic.Safe, BaseCost: 0.2},
		"calculate":     {Category: critic.Safe, BaseCost: 0.1},
		"write_file":    {Category: critic.Consequential, BaseCost: 0.6},
		"delete_file":   {Category: critic.Consequential, BaseCost: 0.7},
		"send_message":  {Category: critic.Consequential, BaseCost: 0.8},
		"schedule":      {Category: critic.Consequential, BaseCost: 0.5},
	}
}

// Lookup returns the spec of an action type.
func (r *Registry) Lookup(actionType string) (Spec, error) {
	s, ok := r.specs[actionType]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrUnknownAction, actionType)
	}
	return s, nil
}

// Names lists registered action types in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.specs))
	for n := range r.specs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// #endregion registry
