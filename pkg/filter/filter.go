// Package filter implements image filters applied to densities, such as the
// smoothing used by the post-smoothing back projector.
package filter

import (
	"github.com/pkg/errors"

	"dynrecon/pkg/config"
	"dynrecon/pkg/registry"
	"dynrecon/pkg/volume"
)

// ErrInvalidParameter is returned for non-physical filter settings.
var ErrInvalidParameter = errors.New("filter: invalid parameter")

// Filter modifies a density in place.
//
// SetUp prepares the filter for a grid. Apply sets the filter up for the
// density's grid on first use and whenever the grid changes, so callers that
// do not yet know the final image shape may skip SetUp. Implementations are
// safe for concurrent Apply calls.
type Filter interface {
	SetUp(tmpl *volume.Density) error
	Apply(d *volume.Density) error
}

// Registry holds the filter factories keyed by configuration tag.
var Registry = registry.New[Filter]("filter")

func init() {
	Registry.Register("Gaussian", func(b config.Block) (Filter, error) {
		p := GaussianParams{FWHMXY: 4, FWHMZ: 4}
		if err := b.Decode(&p); err != nil {
			return nil, err
		}
		return NewGaussian(p)
	})
	Registry.Register("Fourier Low Pass", func(b config.Block) (Filter, error) {
		p := LowPassParams{Cutoff: 0.5, Order: 2}
		if err := b.Decode(&p); err != nil {
			return nil, err
		}
		return NewFourierLowPass(p)
	})
}
