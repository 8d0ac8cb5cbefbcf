// Package projector models the forward and back projection operators and
// their composition into matched pairs. Projectors work on related
// viewgrams so that symmetry bookkeeping stays inside the projector, and on
// explicit axial/tangential sub-ranges so projections can be streamed.
package projector

import (
	"github.com/pkg/errors"

	"dynrecon/pkg/projdata"
	"dynrecon/pkg/volume"
)

// ErrNotSetUp is returned when a projector is used before SetUp succeeded.
var ErrNotSetUp = errors.New("projector: not set up")

// ErrIncompatible is returned when geometry and image cannot be combined.
var ErrIncompatible = errors.New("projector: incompatible geometry and image")

// ErrRange is returned for axial or tangential ranges outside the viewgrams.
var ErrRange = errors.New("projector: position range outside viewgram")

// ForwardProjector maps an image to projection data.
type ForwardProjector interface {
	SetUp(geom *projdata.Geometry, tmpl *volume.Density) error
	Symmetries() projdata.Symmetries
	// ForwardProject overwrites the bins of viewgrams within the given
	// axial and tangential ranges; bins outside them are left untouched.
	ForwardProject(viewgrams *projdata.RelatedViewgrams, density *volume.Density,
		minAxial, maxAxial, minTangential, maxTangential int) error
}

// BackProjector maps projection data to image space.
type BackProjector interface {
	SetUp(geom *projdata.Geometry, tmpl *volume.Density) error
	Symmetries() projdata.Symmetries
	// BackProject adds the back projection of the bins of viewgrams within
	// the given ranges into density.
	BackProject(density *volume.Density, viewgrams *projdata.RelatedViewgrams,
		minAxial, maxAxial, minTangential, maxTangential int) error
}

// Pair is a matched forward and back projector sharing one set-up.
type Pair interface {
	SetUp(geom *projdata.Geometry, tmpl *volume.Density) error
	Forward() ForwardProjector
	Back() BackProjector
	Symmetries() projdata.Symmetries
}

// ForwardProjectAll forward projects over the full extent of viewgrams.
func ForwardProjectAll(fp ForwardProjector, viewgrams *projdata.RelatedViewgrams, density *volume.Density) error {
	v := viewgrams.Viewgrams[0]
	return fp.ForwardProject(viewgrams, density, v.MinAxial, v.MaxAxial, v.MinTangential, v.MaxTangential)
}

// BackProjectAll back projects the full extent of viewgrams.
func BackProjectAll(bp BackProjector, density *volume.Density, viewgrams *projdata.RelatedViewgrams) error {
	v := viewgrams.Viewgrams[0]
	return bp.BackProject(density, viewgrams, v.MinAxial, v.MaxAxial, v.MinTangential, v.MaxTangential)
}

func checkRanges(viewgrams *projdata.RelatedViewgrams, minA, maxA, minT, maxT int) error {
	if len(viewgrams.Viewgrams) == 0 {
		return errors.Wrap(ErrRange, "no viewgrams")
	}
	for _, v := range viewgrams.Viewgrams {
		if minA < v.MinAxial || maxA > v.MaxAxial || minT < v.MinTangential || maxT > v.MaxTangential {
			return errors.Wrapf(ErrRange, "axial [%d, %d] tangential [%d, %d] for viewgram %+v",
				minA, maxA, minT, maxT, v.ViewSegment)
		}
	}
	return nil
}
