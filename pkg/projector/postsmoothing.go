package projector

import (
	"github.com/pkg/errors"

	"dynrecon/pkg/filter"
	"dynrecon/pkg/projdata"
	"dynrecon/pkg/volume"
)

// PostSmoothing decorates a back projector with an image filter applied to
// each back projection before it is accumulated. Without a filter it is a
// pass-through to the inner projector.
type PostSmoothing struct {
	inner  BackProjector
	filter filter.Filter
}

// NewPostSmoothing wraps inner. f may be nil.
func NewPostSmoothing(inner BackProjector, f filter.Filter) (*PostSmoothing, error) {
	if inner == nil {
		return nil, errors.New("projector: post smoothing needs an original back projector")
	}
	return &PostSmoothing{inner: inner, filter: f}, nil
}

// SetUp sets up the inner projector only; the filter configures itself on
// first use.
func (p *PostSmoothing) SetUp(geom *projdata.Geometry, tmpl *volume.Density) error {
	return p.inner.SetUp(geom, tmpl)
}

// Symmetries returns the inner projector's symmetries.
func (p *PostSmoothing) Symmetries() projdata.Symmetries { return p.inner.Symmetries() }

// Inner returns the decorated projector.
func (p *PostSmoothing) Inner() BackProjector { return p.inner }

// BackProject implements BackProjector. With a filter the viewgrams are back
// projected into a zero image of the same shape, filtered, then added to
// density.
func (p *PostSmoothing) BackProject(density *volume.Density, viewgrams *projdata.RelatedViewgrams,
	minAxial, maxAxial, minTangential, maxTangential int) error {
	if p.filter == nil {
		return p.inner.BackProject(density, viewgrams, minAxial, maxAxial, minTangential, maxTangential)
	}
	scratch := density.EmptyCopy()
	if err := p.inner.BackProject(scratch, viewgrams, minAxial, maxAxial, minTangential, maxTangential); err != nil {
		return err
	}
	if err := p.filter.Apply(scratch); err != nil {
		return errors.Wrap(err, "post smoothing")
	}
	return density.Add(scratch)
}
