// Package phantom simulates dynamic emission studies: a parametric
// phantom is expanded through a kinetic model, forward projected frame by
// frame, offset by a constant background and optionally Poisson sampled.
package phantom

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"dynrecon/pkg/config"
	"dynrecon/pkg/frames"
	"dynrecon/pkg/kinetic"
	"dynrecon/pkg/projdata"
	"dynrecon/pkg/projector"
	"dynrecon/pkg/volume"
)

// AdditiveSuffix names the additive data stored next to a study.
const AdditiveSuffix = "_additive"

// Study is a simulated acquisition and the truth it was generated from.
type Study struct {
	Truth    *volume.Parametric
	Frames   *frames.Definitions
	Data     *projdata.Dynamic
	Additive *projdata.Dynamic // nil without background
}

// DefaultGrid returns the image grid the objective builds by default for
// geom: one voxel per bin transaxially and one plane per axial position.
func DefaultGrid(geom *projdata.Geometry) volume.Grid {
	return volume.Grid{
		Range:     volume.CenteredRange(geom.NumAxialSeg0, geom.NumTangential, geom.NumTangential),
		VoxelSize: volume.Vec3{Z: geom.PlaneSpacing, Y: geom.BinSize, X: geom.BinSize},
		Origin:    volume.Vec3{Z: -0.5 * float64(geom.NumAxialSeg0-1) * geom.PlaneSpacing},
	}
}

// Cylinders fills a two-parameter image with a background cylinder and a
// hot insert centred half a radius off axis.
func Cylinders(g volume.Grid, p config.Phantom) *volume.Parametric {
	out := volume.NewParametric(g, 2)
	ki, v := out.Param(1), out.Param(2)
	r := g.Range
	hotX := p.Radius / 2
	for z := r.MinZ; z <= r.MaxZ; z++ {
		for y := r.MinY; y <= r.MaxY; y++ {
			for x := r.MinX; x <= r.MaxX; x++ {
				pos := g.Position(z, y, x)
				switch {
				case math.Hypot(pos.X-hotX, pos.Y) <= p.HotRadius:
					ki.Set(z, y, x, p.HotKi)
					v.Set(z, y, x, p.HotV)
				case math.Hypot(pos.X, pos.Y) <= p.Radius:
					ki.Set(z, y, x, p.Ki)
					v.Set(z, y, x, p.V)
				}
			}
		}
	}
	return out
}

// Simulate generates the study described by sim for truth. The model is
// set up against the simulated frames and applied to every frame,
// including those before its starting frame.
func Simulate(sim config.Simulation, truth *volume.Parametric, model kinetic.Model, pair projector.Pair) (*Study, error) {
	geom := sim.Geometry
	if err := geom.Validate(); err != nil {
		return nil, err
	}
	defs, err := frames.NewDefinitions(sim.Frames)
	if err != nil {
		return nil, err
	}
	if err := model.SetUp(defs); err != nil {
		return nil, errors.Wrap(err, "phantom: setting up kinetic model")
	}
	all, err := model.Matrix().FromFrame(1)
	if err != nil {
		return nil, err
	}
	dyn := volume.NewDynamic(defs, 1, defs.NumFrames(), truth.Grid)
	if err := all.Expand(dyn, truth); err != nil {
		return nil, err
	}

	tmpl := volume.NewDensity(truth.Grid)
	if err := pair.SetUp(&geom, tmpl); err != nil {
		return nil, errors.Wrap(err, "phantom: setting up projectors")
	}
	sym := pair.Symmetries()
	basics := projdata.BasicViewSegments(&geom, sym)

	var rng *rand.Rand
	if sim.Noise {
		rng = rand.New(rand.NewSource(sim.Seed))
	}

	data := make([]*projdata.ProjData, defs.NumFrames())
	var additive []*projdata.ProjData
	for f := 1; f <= defs.NumFrames(); f++ {
		pd := projdata.NewProjData(&geom)
		for _, vs := range basics {
			rv := projdata.NewRelatedViewgrams(&geom, sym, vs)
			if err := projector.ForwardProjectAll(pair.Forward(), rv, dyn.Frame(f)); err != nil {
				return nil, err
			}
			rv.Each(func(v *projdata.Viewgram) {
				for i, mean := range v.Data {
					mean += sim.Background
					if rng != nil {
						mean = sample(mean, rng)
					}
					v.Data[i] = mean
				}
			})
			if err := pd.SetRelatedViewgrams(rv); err != nil {
				return nil, err
			}
		}
		data[f-1] = pd

		if sim.Background > 0 {
			bg := projdata.NewProjData(&geom)
			bg.Fill(sim.Background)
			additive = append(additive, bg)
		}
	}

	study := &Study{Truth: truth, Frames: defs}
	if study.Data, err = projdata.NewDynamic(defs, data); err != nil {
		return nil, err
	}
	if additive != nil {
		if study.Additive, err = projdata.NewDynamic(defs, additive); err != nil {
			return nil, err
		}
	}
	return study, nil
}

func sample(mean float64, rng *rand.Rand) float64 {
	if mean <= 0 {
		return 0
	}
	return distuv.Poisson{Lambda: mean, Src: rng}.Rand()
}

// Store registers the study's data under name, and its additive data under
// name + AdditiveSuffix when present. It returns the additive name, or "0".
func (s *Study) Store(store *projdata.MemoryStore, name string) string {
	store.Put(name, s.Data)
	if s.Additive == nil {
		return "0"
	}
	store.Put(name+AdditiveSuffix, s.Additive)
	return name + AdditiveSuffix
}
