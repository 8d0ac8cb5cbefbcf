package volume

import (
	"github.com/pkg/errors"
)

// Parametric holds a small fixed-size vector of kinetic parameters per voxel.
// Parameter images are numbered from 1, following the convention of the
// kinetic model (1 = slope, 2 = intercept for a Patlak plot).
type Parametric struct {
	Grid   Grid
	params []*Density
}

// NewParametric allocates a zero-filled parametric image with n parameters.
func NewParametric(g Grid, n int) *Parametric {
	p := &Parametric{Grid: g, params: make([]*Density, n)}
	for i := range p.params {
		p.params[i] = NewDensity(g)
	}
	return p
}

// NumParams returns the number of parameters per voxel.
func (p *Parametric) NumParams() int { return len(p.params) }

// Param returns the density of parameter i (1-based). The returned density
// shares storage with p.
func (p *Parametric) Param(i int) *Density {
	if i < 1 || i > len(p.params) {
		panic(errors.Errorf("volume: parameter %d outside [1, %d]", i, len(p.params)))
	}
	return p.params[i-1]
}

// Clone returns a deep copy.
func (p *Parametric) Clone() *Parametric {
	out := &Parametric{Grid: p.Grid, params: make([]*Density, len(p.params))}
	for i, d := range p.params {
		out.params[i] = d.Clone()
	}
	return out
}

// EmptyCopy returns a zero-filled image with the same grid and parameter count.
func (p *Parametric) EmptyCopy() *Parametric { return NewParametric(p.Grid, len(p.params)) }

// Fill sets every parameter of every voxel to v.
func (p *Parametric) Fill(v float64) {
	for _, d := range p.params {
		d.Fill(v)
	}
}

// Add accumulates o into p.
func (p *Parametric) Add(o *Parametric) error {
	if err := p.sameShape(o); err != nil {
		return err
	}
	for i, d := range p.params {
		if err := d.Add(o.params[i]); err != nil {
			return err
		}
	}
	return nil
}

// CopyFrom overwrites p with the values of o.
func (p *Parametric) CopyFrom(o *Parametric) error {
	if err := p.sameShape(o); err != nil {
		return err
	}
	for i, d := range p.params {
		copy(d.Data, o.params[i].Data)
	}
	return nil
}

// Apply calls fn on every parameter density.
func (p *Parametric) Apply(fn func(param int, d *Density)) {
	for i, d := range p.params {
		fn(i+1, d)
	}
}

// HasSameCharacteristics reports whether p and o share a grid and parameter count.
func (p *Parametric) HasSameCharacteristics(o *Parametric) (bool, string) {
	if len(p.params) != len(o.params) {
		return false, "number of parameters differs"
	}
	return p.Grid.SameAs(o.Grid)
}

func (p *Parametric) sameShape(o *Parametric) error {
	if ok, why := p.HasSameCharacteristics(o); !ok {
		return errors.Wrap(ErrShapeMismatch, why)
	}
	return nil
}
