// Package volume provides the voxel containers used throughout the
// reconstruction: a single 3D density, a parametric image holding a small
// vector of kinetic parameters per voxel, and a dynamic image holding one
// density per time frame.
//
// Voxel data is stored as a flat []float64 in row-major (z, y, x) order.
package volume

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// ErrShapeMismatch is returned when two images do not share the same grid.
var ErrShapeMismatch = errors.New("volume: images do not have the same characteristics")

// ErrBadRange is returned for empty or inverted index ranges.
var ErrBadRange = errors.New("volume: invalid index range")

// Range is a rectangular 3D index range. Bounds are inclusive.
type Range struct {
	MinZ, MaxZ int
	MinY, MaxY int
	MinX, MaxX int
}

// CenteredRange returns the conventional emission-tomography range: planes
// [0, nz-1] and transaxial indices centred on zero.
func CenteredRange(nz, ny, nx int) Range {
	return Range{
		MinZ: 0, MaxZ: nz - 1,
		MinY: -(ny / 2), MaxY: ny - 1 - ny/2,
		MinX: -(nx / 2), MaxX: nx - 1 - nx/2,
	}
}

// Dims returns the extent along z, y and x.
func (r Range) Dims() (nz, ny, nx int) {
	return r.MaxZ - r.MinZ + 1, r.MaxY - r.MinY + 1, r.MaxX - r.MinX + 1
}

// Size returns the number of voxels covered by the range.
func (r Range) Size() int {
	nz, ny, nx := r.Dims()
	return nz * ny * nx
}

// Contains reports whether (z, y, x) lies inside the range.
func (r Range) Contains(z, y, x int) bool {
	return z >= r.MinZ && z <= r.MaxZ && y >= r.MinY && y <= r.MaxY && x >= r.MinX && x <= r.MaxX
}

// Validate checks that every axis is non-empty.
func (r Range) Validate() error {
	if r.MaxZ < r.MinZ || r.MaxY < r.MinY || r.MaxX < r.MinX {
		return errors.Wrapf(ErrBadRange, "%v", r)
	}
	return nil
}

// Vec3 is a physical (z, y, x) coordinate in mm.
type Vec3 struct {
	Z, Y, X float64
}

// Grid couples an index range with the physical sampling of the voxels.
// The centre of voxel (z, y, x) sits at Origin + (z, y, x) * VoxelSize.
type Grid struct {
	Range     Range
	VoxelSize Vec3
	Origin    Vec3
}

// Validate checks the range and that voxel sizes are positive.
func (g Grid) Validate() error {
	if err := g.Range.Validate(); err != nil {
		return err
	}
	if g.VoxelSize.X <= 0 || g.VoxelSize.Y <= 0 || g.VoxelSize.Z <= 0 {
		return errors.Errorf("volume: voxel size must be positive, got %+v", g.VoxelSize)
	}
	return nil
}

// Index returns the offset of (z, y, x) in the flat data slice.
func (g Grid) Index(z, y, x int) int {
	_, ny, nx := g.Range.Dims()
	return ((z-g.Range.MinZ)*ny+(y-g.Range.MinY))*nx + (x - g.Range.MinX)
}

// Position returns the physical centre of voxel (z, y, x).
func (g Grid) Position(z, y, x int) Vec3 {
	return Vec3{
		Z: g.Origin.Z + float64(z)*g.VoxelSize.Z,
		Y: g.Origin.Y + float64(y)*g.VoxelSize.Y,
		X: g.Origin.X + float64(x)*g.VoxelSize.X,
	}
}

// SameAs compares two grids. The explanation is empty when they match.
func (g Grid) SameAs(o Grid) (bool, string) {
	if g.Range != o.Range {
		return false, fmt.Sprintf("index ranges differ: %v vs %v", g.Range, o.Range)
	}
	if !closeVec(g.VoxelSize, o.VoxelSize) {
		return false, fmt.Sprintf("voxel sizes differ: %+v vs %+v", g.VoxelSize, o.VoxelSize)
	}
	if !closeVec(g.Origin, o.Origin) {
		return false, fmt.Sprintf("origins differ: %+v vs %+v", g.Origin, o.Origin)
	}
	return true, ""
}

func closeVec(a, b Vec3) bool {
	const tol = 1e-6
	return math.Abs(a.X-b.X) <= tol && math.Abs(a.Y-b.Y) <= tol && math.Abs(a.Z-b.Z) <= tol
}
