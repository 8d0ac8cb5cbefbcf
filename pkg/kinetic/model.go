// Package kinetic implements linear kinetic models that couple a
// parametric image (a few parameters per voxel) to a dynamic image (one
// density per time frame). Only frames from the model's starting frame on
// take part in the fit.
package kinetic

import (
	"github.com/pkg/errors"

	"dynrecon/pkg/config"
	"dynrecon/pkg/frames"
	"dynrecon/pkg/registry"
	"dynrecon/pkg/volume"
)

// ErrNotSetUp is returned when a model is used before SetUp.
var ErrNotSetUp = errors.New("kinetic: model not set up")

// ErrShape is returned when images do not match the model.
var ErrShape = errors.New("kinetic: image does not match model")

// Model is a linear kinetic model.
type Model interface {
	// SetUp binds the model to the time frames of the data. Frames given in
	// the model configuration, if any, must agree with defs.
	SetUp(defs *frames.Definitions) error
	StartingFrame() int
	TimeFrames() *frames.Definitions
	NumParams() int
	Matrix() *ModelMatrix
	// Expand writes the frames [StartingFrame, NumFrames] of dyn from par.
	Expand(dyn *volume.Dynamic, par *volume.Parametric) error
	// Contract overwrites par with the adjoint of Expand applied to dyn.
	Contract(par *volume.Parametric, dyn *volume.Dynamic) error
	// NormaliseWithModelSum writes in divided, per parameter, by the sum of
	// that parameter's coefficients over the fitted frames.
	NormaliseWithModelSum(out, in *volume.Parametric) error
}

// Registry holds the kinetic model factories.
var Registry = registry.New[Model]("kinetic model")

func init() {
	Registry.Register("Patlak Plot", func(b config.Block) (Model, error) {
		p := PatlakParams{StartingFrame: 1}
		if err := b.Decode(&p); err != nil {
			return nil, err
		}
		return NewPatlak(p), nil
	})
}
