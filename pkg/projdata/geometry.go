// Package projdata describes projection (sinogram) data: the acquisition
// geometry, per-frame projection data organised by segment and view, the
// symmetries relating view/segment pairs, and dynamic (multi-frame) studies.
package projdata

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// ErrInvalidGeometry is returned when a geometry description is inconsistent.
var ErrInvalidGeometry = errors.New("projdata: invalid geometry")

// ErrSegmentRange is returned when a requested segment range is not available.
var ErrSegmentRange = errors.New("projdata: segment out of range")

// Geometry is the scanner and sinogram shape of a projection data set.
//
// Views sample [0, pi). Tangential positions are centred on zero. Segment s
// holds NumAxialSeg0-|s| axial positions; an LOR at axial position a of
// segment s connects planes a and a+|s|.
type Geometry struct {
	Scanner       string  `yaml:"scanner"`
	NumViews      int     `yaml:"numViews"`
	NumTangential int     `yaml:"numTangential"`
	NumAxialSeg0  int     `yaml:"numAxialSeg0"`
	MinSegment    int     `yaml:"minSegment"`
	MaxSegment    int     `yaml:"maxSegment"`
	BinSize       float64 `yaml:"binSize"`
	PlaneSpacing  float64 `yaml:"planeSpacing"`
}

// Validate checks the internal consistency of g.
func (g *Geometry) Validate() error {
	switch {
	case g.NumViews <= 0:
		return errors.Wrap(ErrInvalidGeometry, "number of views must be positive")
	case g.NumTangential <= 0:
		return errors.Wrap(ErrInvalidGeometry, "number of tangential positions must be positive")
	case g.NumAxialSeg0 <= 0:
		return errors.Wrap(ErrInvalidGeometry, "number of axial positions must be positive")
	case g.MinSegment > g.MaxSegment:
		return errors.Wrapf(ErrInvalidGeometry, "segment range [%d, %d] is empty", g.MinSegment, g.MaxSegment)
	case abs(g.MinSegment) >= g.NumAxialSeg0 || abs(g.MaxSegment) >= g.NumAxialSeg0:
		return errors.Wrapf(ErrInvalidGeometry, "segments [%d, %d] need more than %d axial positions",
			g.MinSegment, g.MaxSegment, g.NumAxialSeg0)
	case g.BinSize <= 0 || g.PlaneSpacing <= 0:
		return errors.Wrap(ErrInvalidGeometry, "bin size and plane spacing must be positive")
	}
	return nil
}

// Clone returns an independent copy.
func (g *Geometry) Clone() *Geometry {
	c := *g
	return &c
}

// ReduceSegmentRange restricts the geometry to segments [min, max].
func (g *Geometry) ReduceSegmentRange(min, max int) error {
	if min < g.MinSegment || max > g.MaxSegment || min > max {
		return errors.Wrapf(ErrSegmentRange, "cannot reduce [%d, %d] to [%d, %d]",
			g.MinSegment, g.MaxSegment, min, max)
	}
	g.MinSegment, g.MaxSegment = min, max
	return nil
}

// HasSegment reports whether segment s is part of the geometry.
func (g *Geometry) HasSegment(s int) bool { return s >= g.MinSegment && s <= g.MaxSegment }

// NumAxial returns the number of axial positions in segment s.
func (g *Geometry) NumAxial(s int) int { return g.NumAxialSeg0 - abs(s) }

// AxialRange returns the inclusive axial position range of segment s.
func (g *Geometry) AxialRange(s int) (min, max int) { return 0, g.NumAxial(s) - 1 }

// TangentialRange returns the inclusive tangential position range.
func (g *Geometry) TangentialRange() (min, max int) {
	min = -(g.NumTangential / 2)
	return min, min + g.NumTangential - 1
}

// ViewAngle returns the azimuthal angle of view v in radians.
func (g *Geometry) ViewAngle(v int) float64 {
	return math.Pi * float64(v) / float64(g.NumViews)
}

// ViewgramSize is the number of bins in one viewgram of segment s.
func (g *Geometry) ViewgramSize(s int) int { return g.NumAxial(s) * g.NumTangential }

// SameAs reports whether two geometries describe the same sinogram shape.
func (g *Geometry) SameAs(o *Geometry) (bool, string) {
	if *g != *o {
		return false, fmt.Sprintf("geometry %+v differs from %+v", *g, *o)
	}
	return true, ""
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
