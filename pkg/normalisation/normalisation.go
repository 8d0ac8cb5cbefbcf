// Package normalisation corrects projection data for detector efficiencies.
// Apply divides measured-like data by the efficiencies, Undo multiplies
// model data by them, so a forward projection followed by Undo predicts the
// counts a detector would record.
package normalisation

import (
	"github.com/pkg/errors"

	"dynrecon/pkg/config"
	"dynrecon/pkg/projdata"
	"dynrecon/pkg/registry"
)

// ErrNotSetUp is returned when Apply or Undo run before SetUp.
var ErrNotSetUp = errors.New("normalisation: not set up")

// Normalisation is a per-bin multiplicative correction.
type Normalisation interface {
	SetUp(geom *projdata.Geometry) error
	Apply(viewgrams *projdata.RelatedViewgrams) error
	Undo(viewgrams *projdata.RelatedViewgrams) error
}

// Registry holds the normalisation factories.
var Registry = registry.New[Normalisation]("normalisation")

func init() {
	Registry.Register("None", func(config.Block) (Normalisation, error) {
		return Trivial{}, nil
	})
	Registry.Register("Efficiencies", func(b config.Block) (Normalisation, error) {
		p := EfficiencyParams{Global: 1}
		if err := b.Decode(&p); err != nil {
			return nil, err
		}
		return NewEfficiencies(p)
	})
}

// Trivial leaves data unchanged.
type Trivial struct{}

// SetUp implements Normalisation.
func (Trivial) SetUp(*projdata.Geometry) error { return nil }

// Apply implements Normalisation.
func (Trivial) Apply(*projdata.RelatedViewgrams) error { return nil }

// Undo implements Normalisation.
func (Trivial) Undo(*projdata.RelatedViewgrams) error { return nil }
