package normalisation

import (
	"sync"

	"github.com/pkg/errors"

	"dynrecon/pkg/projdata"
)

// EfficiencyParams configures Efficiencies.
type EfficiencyParams struct {
	// Global scales every bin.
	Global float64 `yaml:"global"`
	// Tangential is an optional per-tangential-position profile, ordered
	// from the smallest tangential position. Empty means flat.
	Tangential []float64 `yaml:"tangential"`
}

// Efficiencies models bin efficiency as a global factor times a
// tangential profile shared by all views and segments.
type Efficiencies struct {
	params EfficiencyParams

	mu      sync.RWMutex
	minT    int
	profile []float64
}

// NewEfficiencies validates p.
func NewEfficiencies(p EfficiencyParams) (*Efficiencies, error) {
	if p.Global <= 0 {
		return nil, errors.Errorf("normalisation: global efficiency must be positive, got %g", p.Global)
	}
	for i, e := range p.Tangential {
		if e <= 0 {
			return nil, errors.Errorf("normalisation: tangential efficiency %d must be positive, got %g", i, e)
		}
	}
	return &Efficiencies{params: p}, nil
}

// SetUp binds the profile to geom's tangential range.
func (e *Efficiencies) SetUp(geom *projdata.Geometry) error {
	n := geom.NumTangential
	if len(e.params.Tangential) != 0 && len(e.params.Tangential) != n {
		return errors.Errorf("normalisation: %d tangential efficiencies for %d tangential positions",
			len(e.params.Tangential), n)
	}
	profile := make([]float64, n)
	for i := range profile {
		profile[i] = e.params.Global
		if len(e.params.Tangential) != 0 {
			profile[i] *= e.params.Tangential[i]
		}
	}
	minT, _ := geom.TangentialRange()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.minT = minT
	e.profile = profile
	return nil
}

func (e *Efficiencies) each(viewgrams *projdata.RelatedViewgrams, fn func(x, eff float64) float64) error {
	e.mu.RLock()
	profile, minT := e.profile, e.minT
	e.mu.RUnlock()
	if profile == nil {
		return ErrNotSetUp
	}
	for _, v := range viewgrams.Viewgrams {
		for a := v.MinAxial; a <= v.MaxAxial; a++ {
			for t := v.MinTangential; t <= v.MaxTangential; t++ {
				i := t - minT
				if i < 0 || i >= len(profile) {
					return errors.Errorf("normalisation: tangential position %d outside set-up range", t)
				}
				v.Set(a, t, fn(v.At(a, t), profile[i]))
			}
		}
	}
	return nil
}

// Apply divides by the efficiencies.
func (e *Efficiencies) Apply(viewgrams *projdata.RelatedViewgrams) error {
	return e.each(viewgrams, func(x, eff float64) float64 { return x / eff })
}

// Undo multiplies by the efficiencies.
func (e *Efficiencies) Undo(viewgrams *projdata.RelatedViewgrams) error {
	return e.each(viewgrams, func(x, eff float64) float64 { return x * eff })
}
