package volume

import (
	"dynrecon/pkg/frames"
)

// Dynamic is a sequence of densities indexed by frame number. Only frames in
// [First(), Last()] are present; for kinetic modelling First() is the
// model's starting frame.
type Dynamic struct {
	Grid   Grid
	Frames *frames.Definitions
	images *frames.Vector[*Density]
}

// NewDynamic allocates zero-filled densities for frames [first, last].
func NewDynamic(defs *frames.Definitions, first, last int, g Grid) *Dynamic {
	images := frames.NewVector[*Density](first, last)
	for _, f := range images.Indices() {
		images.Set(f, NewDensity(g))
	}
	return &Dynamic{Grid: g, Frames: defs, images: images}
}

// First returns the first frame held.
func (d *Dynamic) First() int { return d.images.Min() }

// Last returns the last frame held.
func (d *Dynamic) Last() int { return d.images.Max() }

// FrameNumbers lists the frames held in increasing order.
func (d *Dynamic) FrameNumbers() []int { return d.images.Indices() }

// Frame returns the density of frame f. It shares storage with d.
func (d *Dynamic) Frame(f int) *Density { return d.images.At(f) }

// SetFrame replaces the density of frame f.
func (d *Dynamic) SetFrame(f int, img *Density) { d.images.Set(f, img) }

// Clone returns a deep copy.
func (d *Dynamic) Clone() *Dynamic {
	out := &Dynamic{Grid: d.Grid, Frames: d.Frames, images: frames.NewVector[*Density](d.First(), d.Last())}
	d.images.Each(func(f int, img *Density) {
		out.images.Set(f, img.Clone())
	})
	return out
}

// Fill sets every voxel of every frame to v.
func (d *Dynamic) Fill(v float64) {
	d.images.Each(func(_ int, img *Density) { img.Fill(v) })
}
