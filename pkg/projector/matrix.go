package projector

import (
	"math"
	"sync"

	"github.com/pkg/errors"

	"dynrecon/pkg/projdata"
	"dynrecon/pkg/volume"
)

// binWeight spreads one transaxial pixel over two neighbouring tangential bins.
type binWeight struct {
	t0     int
	w0, w1 float64
}

// Matrix is a pixel-driven system model: every transaxial pixel is
// projected onto the tangential axis of each view and shared linearly
// between the two nearest bins; an LOR of segment s at axial position a
// averages planes a and a+|s|. Forward and back projection use the same
// weights, so the pair is exactly adjoint.
//
// The weight tables are rebuilt by SetUp and read concurrently afterwards.
type Matrix struct {
	mu     sync.RWMutex
	geom   *projdata.Geometry
	grid   volume.Grid
	sym    projdata.Symmetries
	zShift int
	tables [][]binWeight // [view][pixel]
}

// NewMatrix returns a matrix that must be set up before use.
func NewMatrix() *Matrix { return &Matrix{} }

// SetUp validates that geom and tmpl are compatible and precomputes the
// per-view weights.
func (m *Matrix) SetUp(geom *projdata.Geometry, tmpl *volume.Density) error {
	if geom == nil || tmpl == nil {
		return errors.Wrap(ErrIncompatible, "nil geometry or image")
	}
	if err := geom.Validate(); err != nil {
		return errors.Wrap(ErrIncompatible, err.Error())
	}
	g := tmpl.Grid
	if err := g.Validate(); err != nil {
		return errors.Wrap(ErrIncompatible, err.Error())
	}
	if math.Abs(g.VoxelSize.Z-geom.PlaneSpacing) > 1e-6*geom.PlaneSpacing {
		return errors.Wrapf(ErrIncompatible, "voxel size z %g differs from plane spacing %g",
			g.VoxelSize.Z, geom.PlaneSpacing)
	}

	// plane p sits at (p - (N-1)/2) * spacing
	firstPlane := -0.5 * float64(geom.NumAxialSeg0-1) * geom.PlaneSpacing
	zShift := int(math.Round((firstPlane - g.Origin.Z) / g.VoxelSize.Z))

	r := g.Range
	_, ny, nx := r.Dims()
	tables := make([][]binWeight, geom.NumViews)
	for v := range tables {
		theta := geom.ViewAngle(v)
		cos, sin := math.Cos(theta), math.Sin(theta)
		scale := g.VoxelSize.X * g.VoxelSize.Y / geom.BinSize
		tab := make([]binWeight, ny*nx)
		for y := r.MinY; y <= r.MaxY; y++ {
			for x := r.MinX; x <= r.MaxX; x++ {
				pos := g.Position(r.MinZ, y, x)
				tf := (pos.X*cos + pos.Y*sin) / geom.BinSize
				t0 := math.Floor(tf)
				frac := tf - t0
				tab[(y-r.MinY)*nx+(x-r.MinX)] = binWeight{
					t0: int(t0),
					w0: (1 - frac) * scale,
					w1: frac * scale,
				}
			}
		}
		tables[v] = tab
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.geom = geom.Clone()
	m.grid = g
	m.sym = projdata.NewSegmentPairSymmetries(geom)
	m.zShift = zShift
	m.tables = tables
	return nil
}

// Symmetries returns the symmetries honoured by the matrix: segments +s and
// -s share plane pairs.
func (m *Matrix) Symmetries() projdata.Symmetries {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sym == nil {
		return projdata.TrivialSymmetries{}
	}
	return m.sym
}

func (m *Matrix) state(d *volume.Density) (volume.Grid, [][]binWeight, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.tables == nil {
		return volume.Grid{}, nil, 0, ErrNotSetUp
	}
	if d.Grid.Range != m.grid.Range {
		return volume.Grid{}, nil, 0, errors.Wrapf(ErrIncompatible, "image range %v, set up for %v", d.Grid.Range, m.grid.Range)
	}
	return m.grid, m.tables, m.zShift, nil
}

// planes returns the image planes an LOR at axial position a of segment s
// passes through, each with weight 1/2.
func planes(a, s, zShift int) (int, int) {
	if s < 0 {
		s = -s
	}
	return a + zShift, a + s + zShift
}

func (m *Matrix) forward(viewgrams *projdata.RelatedViewgrams, d *volume.Density, minA, maxA, minT, maxT int) error {
	grid, tables, zShift, err := m.state(d)
	if err != nil {
		return err
	}
	if err := checkRanges(viewgrams, minA, maxA, minT, maxT); err != nil {
		return err
	}
	r := grid.Range
	nz, ny, nx := r.Dims()
	planeSize := ny * nx

	for _, vg := range viewgrams.Viewgrams {
		tab := tables[vg.View]
		for a := minA; a <= maxA; a++ {
			for t := minT; t <= maxT; t++ {
				vg.Set(a, t, 0)
			}
			za, zb := planes(a, vg.Segment, zShift)
			for _, z := range [2]int{za, zb} {
				zi := z - r.MinZ
				if zi < 0 || zi >= nz {
					continue
				}
				img := d.Data[zi*planeSize : (zi+1)*planeSize]
				for p, w := range tab {
					val := img[p]
					if val == 0 {
						continue
					}
					if w.t0 >= minT && w.t0 <= maxT {
						vg.AddAt(a, w.t0, 0.5*w.w0*val)
					}
					if w.t0+1 >= minT && w.t0+1 <= maxT {
						vg.AddAt(a, w.t0+1, 0.5*w.w1*val)
					}
				}
			}
		}
	}
	return nil
}

func (m *Matrix) back(d *volume.Density, viewgrams *projdata.RelatedViewgrams, minA, maxA, minT, maxT int) error {
	grid, tables, zShift, err := m.state(d)
	if err != nil {
		return err
	}
	if err := checkRanges(viewgrams, minA, maxA, minT, maxT); err != nil {
		return err
	}
	r := grid.Range
	nz, ny, nx := r.Dims()
	planeSize := ny * nx

	for _, vg := range viewgrams.Viewgrams {
		tab := tables[vg.View]
		for a := minA; a <= maxA; a++ {
			za, zb := planes(a, vg.Segment, zShift)
			for _, z := range [2]int{za, zb} {
				zi := z - r.MinZ
				if zi < 0 || zi >= nz {
					continue
				}
				img := d.Data[zi*planeSize : (zi+1)*planeSize]
				for p, w := range tab {
					var val float64
					if w.t0 >= minT && w.t0 <= maxT {
						val += w.w0 * vg.At(a, w.t0)
					}
					if w.t0+1 >= minT && w.t0+1 <= maxT {
						val += w.w1 * vg.At(a, w.t0+1)
					}
					img[p] += 0.5 * val
				}
			}
		}
	}
	return nil
}

// MatrixForward is the forward projector of a Matrix.
type MatrixForward struct{ M *Matrix }

// SetUp implements ForwardProjector.
func (f MatrixForward) SetUp(geom *projdata.Geometry, tmpl *volume.Density) error {
	return f.M.SetUp(geom, tmpl)
}

// Symmetries implements ForwardProjector.
func (f MatrixForward) Symmetries() projdata.Symmetries { return f.M.Symmetries() }

// ForwardProject implements ForwardProjector.
func (f MatrixForward) ForwardProject(viewgrams *projdata.RelatedViewgrams, density *volume.Density,
	minAxial, maxAxial, minTangential, maxTangential int) error {
	return f.M.forward(viewgrams, density, minAxial, maxAxial, minTangential, maxTangential)
}

// MatrixBack is the back projector of a Matrix.
type MatrixBack struct{ M *Matrix }

// SetUp implements BackProjector.
func (b MatrixBack) SetUp(geom *projdata.Geometry, tmpl *volume.Density) error {
	return b.M.SetUp(geom, tmpl)
}

// Symmetries implements BackProjector.
func (b MatrixBack) Symmetries() projdata.Symmetries { return b.M.Symmetries() }

// BackProject implements BackProjector.
func (b MatrixBack) BackProject(density *volume.Density, viewgrams *projdata.RelatedViewgrams,
	minAxial, maxAxial, minTangential, maxTangential int) error {
	return b.M.back(density, viewgrams, minAxial, maxAxial, minTangential, maxTangential)
}
