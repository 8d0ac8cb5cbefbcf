package projector

import (
	"github.com/pkg/errors"

	"dynrecon/pkg/projdata"
	"dynrecon/pkg/volume"
)

// SeparatePair combines independently configured forward and back
// projectors.
type SeparatePair struct {
	forward ForwardProjector
	back    BackProjector
}

// NewSeparatePair pairs fp with bp. Both must be non-nil.
func NewSeparatePair(fp ForwardProjector, bp BackProjector) (*SeparatePair, error) {
	if fp == nil || bp == nil {
		return nil, errors.New("projector: separate pair needs both a forward and a back projector")
	}
	return &SeparatePair{forward: fp, back: bp}, nil
}

// SetUp sets up both projectors, forward first.
func (p *SeparatePair) SetUp(geom *projdata.Geometry, tmpl *volume.Density) error {
	if err := p.forward.SetUp(geom, tmpl); err != nil {
		return errors.Wrap(err, "setting up forward projector")
	}
	if err := p.back.SetUp(geom, tmpl); err != nil {
		return errors.Wrap(err, "setting up back projector")
	}
	return nil
}

// Forward returns the forward projector.
func (p *SeparatePair) Forward() ForwardProjector { return p.forward }

// Back returns the back projector.
func (p *SeparatePair) Back() BackProjector { return p.back }

// Symmetries returns the symmetries of the forward projector.
func (p *SeparatePair) Symmetries() projdata.Symmetries { return p.forward.Symmetries() }

// MatrixPair uses one Matrix for both directions, set up once.
type MatrixPair struct {
	m *Matrix
}

// NewMatrixPair returns a pair over a fresh Matrix.
func NewMatrixPair() *MatrixPair { return &MatrixPair{m: NewMatrix()} }

// SetUp sets up the shared matrix.
func (p *MatrixPair) SetUp(geom *projdata.Geometry, tmpl *volume.Density) error {
	return p.m.SetUp(geom, tmpl)
}

// Forward returns the forward view of the matrix.
func (p *MatrixPair) Forward() ForwardProjector { return MatrixForward{M: p.m} }

// Back returns the back view of the matrix.
func (p *MatrixPair) Back() BackProjector { return MatrixBack{M: p.m} }

// Symmetries returns the symmetries of the matrix.
func (p *MatrixPair) Symmetries() projdata.Symmetries { return p.m.Symmetries() }
