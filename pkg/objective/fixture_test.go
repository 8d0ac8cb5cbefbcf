package objective

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"dynrecon/internal/phantom"
	"dynrecon/pkg/config"
	"dynrecon/pkg/frames"
	"dynrecon/pkg/kinetic"
	"dynrecon/pkg/projdata"
	"dynrecon/pkg/projector"
	"dynrecon/pkg/volume"
)

func testGeometry(views int) projdata.Geometry {
	return projdata.Geometry{
		Scanner:       "test",
		NumViews:      views,
		NumTangential: 9,
		NumAxialSeg0:  3,
		MinSegment:    -1,
		MaxSegment:    1,
		BinSize:       4,
		PlaneSpacing:  4,
	}
}

type fixture struct {
	store    *projdata.MemoryStore
	study    *phantom.Study
	additive string
	grid     volume.Grid
	rows     [][]float64
}

// newFixture simulates a noiseless three-frame study with a constant
// background for the given model coefficients.
func newFixture(t *testing.T, views int, rows [][]float64) *fixture {
	t.Helper()
	g := testGeometry(views)
	sim := config.Simulation{
		Name:       "study",
		Geometry:   g,
		Frames:     []frames.Frame{{Start: 0, End: 60}, {Start: 60, End: 120}, {Start: 120, End: 180}},
		Background: 0.1,
	}
	grid := phantom.DefaultGrid(&g)
	truth := phantom.Cylinders(grid, config.Phantom{Radius: 12, HotRadius: 4, Ki: 2, V: 1, HotKi: 4, HotV: 2})
	model := kinetic.NewPatlak(kinetic.PatlakParams{StartingFrame: 1, ModelMatrix: rows})
	study, err := phantom.Simulate(sim, truth, model, projector.NewMatrixPair())
	require.NoError(t, err)

	store := projdata.NewMemoryStore()
	add := study.Store(store, "study")
	return &fixture{store: store, study: study, additive: add, grid: grid, rows: rows}
}

func (fx *fixture) objective(start int, mutate func(p *config.Objective)) *DynamicKinetic {
	p := config.DefaultObjective()
	p.InputFile = "study"
	p.AdditiveFile = fx.additive
	p.MaxSegmentNumToProcess = -1
	p.NumSubsets = 2
	p.NumWorkers = 2
	if mutate != nil {
		mutate(&p)
	}
	o := NewDynamicKinetic()
	o.SetParams(p)
	o.SetLoader(fx.store)
	o.SetKineticModel(kinetic.NewPatlak(kinetic.PatlakParams{StartingFrame: start, ModelMatrix: fx.rows}))
	return o
}

func (fx *fixture) target() *volume.Parametric { return volume.NewParametric(fx.grid, 2) }

var patlakRows = [][]float64{{1, 2, 3}, {1, 1, 1}}

// fakeBehaviour controls the behaviour of fake frame objectives by frame number.
type fakeBehaviour struct {
	unbalanced map[int]bool
	failSetUp  map[int]bool
	refuse     bool
}

func (s *fakeBehaviour) factory() func() SingleFrame {
	return func() SingleFrame { return &fakeFrame{behaviour: s} }
}

// fakeFrame is a linear stand-in: objective frame*sum(img), gradient
// frame*img, sensitivity frame, identity Hessian.
type fakeFrame struct {
	behaviour *fakeBehaviour
	cfg       FrameConfig
	tmpl      *volume.Density
}

func (f *fakeFrame) Configure(cfg FrameConfig) { f.cfg = cfg }

func (f *fakeFrame) SetNumSubsets(n int) int {
	if f.behaviour.refuse {
		return n - 1
	}
	f.cfg.NumSubsets = n
	return n
}

func (f *fakeFrame) SetUp(tmpl *volume.Density) error {
	if f.behaviour.failSetUp[f.cfg.FrameNum] {
		return errors.New("fake set-up failure")
	}
	f.tmpl = tmpl.EmptyCopy()
	return nil
}

func (f *fakeFrame) ObjectiveValue(img *volume.Density, subset int) (float64, error) {
	return float64(f.cfg.FrameNum) * img.Sum(), nil
}

func (f *fakeFrame) Gradient(out, img *volume.Density, subset int) error {
	if err := out.CopyFrom(img); err != nil {
		return err
	}
	out.Scale(float64(f.cfg.FrameNum))
	return nil
}

func (f *fakeFrame) Sensitivity(subset int) (*volume.Density, error) {
	s := f.tmpl.EmptyCopy()
	s.Fill(float64(f.cfg.FrameNum))
	return s, nil
}

func (f *fakeFrame) AddHessianTimesInput(out, in *volume.Density, subset int) error {
	return out.Add(in)
}

func (f *fakeFrame) SubsetsAreApproximatelyBalanced() (bool, string) {
	if f.behaviour.unbalanced[f.cfg.FrameNum] {
		return false, fmt.Sprintf("frame %d unbalanced", f.cfg.FrameNum)
	}
	return true, ""
}

func (f *fakeFrame) ComputeSensitivities() error { return nil }
