package unit

import (
	"fmt"

	"github.com/valpere/aclarador/internal/completion"
	"github.com/valpere/aclarador/internal/quality"
)

// Registry maps capabilities to units. It is built once at startup and only
// read afterwards.
type Registry struct {
	units map[Capability]Unit
}

// NewRegistry indexes units by capability. Two units with the same
// capability are an error.
func NewRegistry(units ...Unit) (*Registry, error) {
	r := &Registry{units: make(map[Capability]Unit, len(units))}
	for _, u := range units {
		if _, dup := r.units[u.Capability()]; dup {
			return nil, fmt.Errorf("duplicate unit for capability %q", u.Capability())
		}
		r.units[u.Capability()] = u
	}
	return r, nil
}

// Get returns the unit registered for c.
func (r *Registry) Get(c Capability) (Unit, bool) {
	u, ok := r.units[c]
	return u, ok
}

// IDs lists the registered unit ids in pipeline order.
func (r *Registry) IDs() []string {
	var ids []string
	for _, c := range append(append([]Capability{CapAnalyze}, Priority...), CapValidate) {
		if u, ok := r.units[c]; ok {
			ids = append(ids, u.ID())
		}
	}
	return ids
}

// Deps are the collaborators of the standard units. Completion and Detector
// may be nil.
type Deps struct {
	Completion completion.Service
	Detector   LanguageDetector
	Scorer     *quality.Scorer
}

// Standard returns the registry of the five built-in units.
func Standard(deps Deps) (*Registry, error) {
	return NewRegistry(
		NewAnalyzer(deps.Detector),
		NewGrammar(),
		NewStyle(deps.Completion),
		NewSEO(deps.Completion),
		NewValidator(deps.Scorer, deps.Detector),
	)
}
