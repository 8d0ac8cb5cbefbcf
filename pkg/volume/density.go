package volume

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Density is a 3D image on a Grid.
type Density struct {
	Grid Grid
	Data []float64
}

// NewDensity allocates a zero-filled density.
func NewDensity(g Grid) *Density {
	return &Density{Grid: g, Data: make([]float64, g.Range.Size())}
}

// Clone returns a deep copy.
func (d *Density) Clone() *Density {
	out := &Density{Grid: d.Grid, Data: make([]float64, len(d.Data))}
	copy(out.Data, d.Data)
	return out
}

// EmptyCopy returns a zero-filled density with the same grid.
func (d *Density) EmptyCopy() *Density { return NewDensity(d.Grid) }

// At returns the value of voxel (z, y, x).
func (d *Density) At(z, y, x int) float64 { return d.Data[d.Grid.Index(z, y, x)] }

// Set stores v at voxel (z, y, x).
func (d *Density) Set(z, y, x int, v float64) { d.Data[d.Grid.Index(z, y, x)] = v }

// Fill sets every voxel to v.
func (d *Density) Fill(v float64) {
	for i := range d.Data {
		d.Data[i] = v
	}
}

// CopyFrom overwrites d with the voxels of o.
func (d *Density) CopyFrom(o *Density) error {
	if err := d.sameShape(o); err != nil {
		return err
	}
	copy(d.Data, o.Data)
	return nil
}

// Add accumulates o into d voxel by voxel.
func (d *Density) Add(o *Density) error {
	if err := d.sameShape(o); err != nil {
		return err
	}
	floats.Add(d.Data, o.Data)
	return nil
}

// AddScaled accumulates alpha*o into d.
func (d *Density) AddScaled(alpha float64, o *Density) error {
	if err := d.sameShape(o); err != nil {
		return err
	}
	floats.AddScaled(d.Data, alpha, o.Data)
	return nil
}

// Scale multiplies every voxel by c.
func (d *Density) Scale(c float64) { floats.Scale(c, d.Data) }

// Max returns the largest voxel value.
func (d *Density) Max() float64 { return floats.Max(d.Data) }

// Min returns the smallest voxel value.
func (d *Density) Min() float64 { return floats.Min(d.Data) }

// Sum returns the total of all voxels.
func (d *Density) Sum() float64 { return floats.Sum(d.Data) }

// HasSameCharacteristics reports whether d and o share a grid.
func (d *Density) HasSameCharacteristics(o *Density) (bool, string) {
	return d.Grid.SameAs(o.Grid)
}

// ZeroOutsideCylinder clears voxels whose transaxial position lies outside
// the largest cylinder inscribed in the grid.
func (d *Density) ZeroOutsideCylinder() {
	r := d.Grid.Range
	rx := float64(r.MaxX-r.MinX+1) / 2 * d.Grid.VoxelSize.X
	ry := float64(r.MaxY-r.MinY+1) / 2 * d.Grid.VoxelSize.Y
	radius2 := rx * rx
	if ry < rx {
		radius2 = ry * ry
	}
	for y := r.MinY; y <= r.MaxY; y++ {
		for x := r.MinX; x <= r.MaxX; x++ {
			px := float64(x) * d.Grid.VoxelSize.X
			py := float64(y) * d.Grid.VoxelSize.Y
			if px*px+py*py <= radius2 {
				continue
			}
			for z := r.MinZ; z <= r.MaxZ; z++ {
				d.Set(z, y, x, 0)
			}
		}
	}
}

func (d *Density) sameShape(o *Density) error {
	if d.Grid.Range != o.Grid.Range || len(d.Data) != len(o.Data) {
		return errors.Wrapf(ErrShapeMismatch, "%v vs %v", d.Grid.Range, o.Grid.Range)
	}
	return nil
}
