package objective

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynrecon/internal/phantom"
	"dynrecon/pkg/config"
	"dynrecon/pkg/frames"
	"dynrecon/pkg/imageio"
	"dynrecon/pkg/kinetic"
	"dynrecon/pkg/metrics"
	"dynrecon/pkg/projdata"
	"dynrecon/pkg/projector"
	"dynrecon/pkg/volume"
)

func TestConstructTargetMatchesProjectionData(t *testing.T) {
	fx := newFixture(t, 4, patlakRows)
	o := fx.objective(1, nil)

	target, err := o.ConstructTarget()
	require.NoError(t, err)
	assert.Equal(t, 2, target.NumParams())
	ok, why := fx.grid.SameAs(target.Grid)
	assert.True(t, ok, why)

	o = fx.objective(1, func(p *config.Objective) {
		p.Zoom = 2
		p.OutputImageSizeZ = 1
		p.ZOffset = 3
	})
	target, err = o.ConstructTarget()
	require.NoError(t, err)
	nz, ny, nx := target.Grid.Range.Dims()
	assert.Equal(t, []int{1, 18, 18}, []int{nz, ny, nx})
	assert.InDelta(t, 2.0, target.Grid.VoxelSize.X, 1e-12)
	assert.InDelta(t, 3.0, target.Grid.Origin.Z, 1e-12)
}

func TestSetUpRejectsBadConfiguration(t *testing.T) {
	fx := newFixture(t, 4, patlakRows)
	narrow := testGeometry(4)
	narrow.NumTangential = 7
	defs, err := frames.Uniform(3, 0, 60)
	require.NoError(t, err)
	narrowAdd, err := projdata.NewDynamic(defs, []*projdata.ProjData{
		projdata.NewProjData(&narrow), projdata.NewProjData(&narrow), projdata.NewProjData(&narrow),
	})
	require.NoError(t, err)
	fx.store.Put("narrow additive", narrowAdd)

	tests := []struct {
		name   string
		start  int
		mutate func(p *config.Objective)
		setup  func(o *DynamicKinetic)
	}{
		{name: "empty input file", start: 1, mutate: func(p *config.Objective) { p.InputFile = "" }},
		{name: "missing input file", start: 1, mutate: func(p *config.Objective) { p.InputFile = "nope" }},
		{name: "missing additive file", start: 1, mutate: func(p *config.Objective) { p.AdditiveFile = "nope" }},
		{name: "mismatched additive geometry", start: 1, mutate: func(p *config.Objective) { p.AdditiveFile = "narrow additive" }},
		{name: "zero zoom", start: 1, mutate: func(p *config.Objective) { p.Zoom = 0 }},
		{name: "negative zoom", start: 1, mutate: func(p *config.Objective) { p.Zoom = -1 }},
		{name: "zero xy size", start: 1, mutate: func(p *config.Objective) { p.OutputImageSizeXY = 0 }},
		{name: "bad z size", start: 1, mutate: func(p *config.Objective) { p.OutputImageSizeZ = -2 }},
		{name: "segment beyond data", start: 1, mutate: func(p *config.Objective) { p.MaxSegmentNumToProcess = 2 }},
		{name: "negative segment", start: 1, mutate: func(p *config.Objective) { p.MaxSegmentNumToProcess = -3 }},
		{name: "zero subsets", start: 1, mutate: func(p *config.Objective) { p.NumSubsets = 0 }},
		{name: "negative subsets", start: 1, mutate: func(p *config.Objective) { p.NumSubsets = -1 }},
		{name: "more subsets than views", start: 1, mutate: func(p *config.Objective) { p.NumSubsets = 5 }},
		{name: "unbalanced subsets", start: 1, mutate: func(p *config.Objective) { p.NumSubsets = 3 }},
		{name: "starting frame zero", start: 0},
		{name: "starting frame beyond last", start: 4},
		{name: "no projector pair", start: 1, setup: func(o *DynamicKinetic) { o.SetProjectorPair(nil) }},
		{name: "no normalisation", start: 1, setup: func(o *DynamicKinetic) { o.SetNormalisation(nil) }},
		{name: "no kinetic model", start: 1, setup: func(o *DynamicKinetic) { o.SetKineticModel(nil) }},
		{name: "no loader", start: 1, setup: func(o *DynamicKinetic) { o.SetLoader(nil) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()
			o := fx.objective(tt.start, tt.mutate)
			o.SetMetrics(m)
			if tt.setup != nil {
				tt.setup(o)
			}
			err := o.SetUp(fx.target())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfig), "got %v", err)
			assert.False(t, IsFatal(err))
			assert.Equal(t, Failed, o.State())
			assert.EqualValues(t, 1, m.ConfigErrors.Load())
		})
	}
}

func TestSetUpRejectsMismatchedTarget(t *testing.T) {
	fx := newFixture(t, 4, patlakRows)
	o := fx.objective(1, nil)

	err := o.SetUp(volume.NewParametric(fx.grid, 3))
	assert.True(t, errors.Is(err, ErrConfig))
	assert.Equal(t, Failed, o.State())
}

func TestSetUpAndAccessors(t *testing.T) {
	fx := newFixture(t, 4, patlakRows)
	o := fx.objective(2, func(p *config.Objective) { p.MaxSegmentNumToProcess = 0 })
	assert.Equal(t, Unconfigured, o.State())

	require.NoError(t, o.SetUp(fx.target()))
	assert.Equal(t, Ready, o.State())
	assert.Equal(t, 2, o.StartingFrame())
	assert.Equal(t, 0, o.MaxSegmentNumToProcess())
	assert.Equal(t, 0, o.Geometry().MaxSegment)
	assert.Equal(t, 2, o.NumSubsets())
	assert.Equal(t, 3, o.DynProjData().NumFrames())
	assert.NotNil(t, o.AdditiveDynProjData())
	assert.Nil(t, o.Frame(1))
	assert.NotNil(t, o.Frame(2))
	assert.NotNil(t, o.Frame(3))

	ok, why := o.SubsetsAreApproximatelyBalanced()
	assert.True(t, ok, why)

	o.SetParams(o.Params())
	assert.Equal(t, Unconfigured, o.State())
	_, err := o.ObjectiveValue(fx.target(), 0)
	assert.True(t, errors.Is(err, ErrNotReady))
}

func TestFrameSetUpFailureIsFatal(t *testing.T) {
	fx := newFixture(t, 4, patlakRows)
	m := metrics.New()
	o := fx.objective(1, nil)
	o.SetMetrics(m)
	o.SetFrameFactory((&fakeBehaviour{failSetUp: map[int]bool{2: true}}).factory())

	err := o.SetUp(fx.target())
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Contains(t, err.Error(), "frame 2")
	assert.Equal(t, Failed, o.State())
	assert.EqualValues(t, 1, m.FatalErrors.Load())
}

func TestSubsetBalanceIsConjunctionOverFrames(t *testing.T) {
	fx := newFixture(t, 4, patlakRows)

	o := fx.objective(1, nil)
	o.SetFrameFactory((&fakeBehaviour{}).factory())
	require.NoError(t, o.SetUp(fx.target()))
	ok, _ := o.SubsetsAreApproximatelyBalanced()
	assert.True(t, ok)

	o = fx.objective(1, nil)
	o.SetFrameFactory((&fakeBehaviour{unbalanced: map[int]bool{3: true}}).factory())
	err := o.SetUp(fx.target())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
	assert.Contains(t, err.Error(), "frame 3 unbalanced")
	assert.NotContains(t, err.Error(), "frame 2")
}

func TestSubsetBalanceWithoutFramesPanics(t *testing.T) {
	o := NewDynamicKinetic()
	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(*FatalError)
		require.True(t, ok, "panic value %T", r)
		assert.True(t, IsFatal(err))
	}()
	o.SubsetsAreApproximatelyBalanced()
}

func TestSetNumSubsets(t *testing.T) {
	fx := newFixture(t, 4, patlakRows)
	o := fx.objective(1, nil)
	require.NoError(t, o.SetUp(fx.target()))

	n, err := o.SetNumSubsets(4)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	_, err = o.Sensitivity(3)
	assert.NoError(t, err)

	_, err = o.SetNumSubsets(0)
	assert.True(t, errors.Is(err, ErrConfig))
	assert.Equal(t, 4, o.NumSubsets())

	// frames cap the count at the number of views
	n, err = o.SetNumSubsets(5)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 4, n)
	assert.Equal(t, Failed, o.State())
}

func TestSetNumSubsetsRejectsUnbalancedSubsets(t *testing.T) {
	fx := newFixture(t, 4, patlakRows)
	m := metrics.New()
	o := fx.objective(1, nil)
	o.SetMetrics(m)
	require.NoError(t, o.SetUp(fx.target()))

	// 4 views do not split evenly into 3 subsets
	n, err := o.SetNumSubsets(3)
	assert.Equal(t, 3, n)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig), "got %v", err)
	assert.False(t, IsFatal(err))
	assert.Equal(t, Failed, o.State())
	assert.EqualValues(t, 1, m.ConfigErrors.Load())
	assert.EqualValues(t, 0, m.FatalErrors.Load())

	_, err = o.ObjectiveValue(fx.target(), 2)
	assert.True(t, errors.Is(err, ErrNotReady))
}

func TestSetNumSubsetsRefusedByFrame(t *testing.T) {
	fx := newFixture(t, 4, patlakRows)
	b := &fakeBehaviour{}
	o := fx.objective(1, nil)
	o.SetFrameFactory(b.factory())
	require.NoError(t, o.SetUp(fx.target()))

	b.refuse = true
	_, err := o.SetNumSubsets(4)
	assert.True(t, IsFatal(err))
}

// expandTruth returns theta = scale*truth + offset.
func expandTruth(fx *fixture, scale, offset float64) *volume.Parametric {
	theta := fx.study.Truth.Clone()
	theta.Apply(func(_ int, d *volume.Density) {
		d.Scale(scale)
		for i := range d.Data {
			d.Data[i] += offset
		}
	})
	return theta
}

func TestObjectiveIsSumOfFrameObjectives(t *testing.T) {
	fx := newFixture(t, 4, patlakRows)
	o := fx.objective(2, nil)
	require.NoError(t, o.SetUp(fx.target()))

	theta := expandTruth(fx, 0.7, 0.2)
	model := o.KineticModel()
	dyn := volume.NewDynamic(model.TimeFrames(), 2, 3, fx.grid)
	require.NoError(t, model.Expand(dyn, theta))

	for s := 0; s < 2; s++ {
		total, err := o.ObjectiveValue(theta, s)
		require.NoError(t, err)
		var want float64
		for f := 2; f <= 3; f++ {
			v, err := o.Frame(f).ObjectiveValue(dyn.Frame(f), s)
			require.NoError(t, err)
			want += v
		}
		assert.InDelta(t, want, total, 1e-9*math.Abs(want))
	}
}

func TestGradientMatchesFiniteDifferences(t *testing.T) {
	fx := newFixture(t, 4, patlakRows)
	o := fx.objective(1, nil)
	require.NoError(t, o.SetUp(fx.target()))

	theta := expandTruth(fx, 0.5, 0.1)
	grad := fx.target()
	require.NoError(t, o.Gradient(grad, theta, 0))
	sens, err := o.Sensitivity(0)
	require.NoError(t, err)

	const h = 1e-3
	for p := 1; p <= 2; p++ {
		deriv := grad.Param(p).At(1, 0, 0) - sens.Param(p).At(1, 0, 0)
		v := theta.Param(p).At(1, 0, 0)

		plus := theta.Clone()
		plus.Param(p).Set(1, 0, 0, v+h)
		fp, err := o.ObjectiveValue(plus, 0)
		require.NoError(t, err)
		minus := theta.Clone()
		minus.Param(p).Set(1, 0, 0, v-h)
		fm, err := o.ObjectiveValue(minus, 0)
		require.NoError(t, err)

		fd := (fp - fm) / (2 * h)
		assert.Greater(t, math.Abs(deriv), 1.0)
		assert.InDelta(t, fd, deriv, 1e-3*math.Abs(deriv), "param %d", p)
	}
}

func TestGradientIsAdjointOfFrameGradients(t *testing.T) {
	fx := newFixture(t, 4, patlakRows)
	o := fx.objective(1, nil)
	o.SetFrameFactory((&fakeBehaviour{}).factory())
	require.NoError(t, o.SetUp(fx.target()))

	theta := fx.target()
	theta.Param(1).Fill(1)
	theta.Param(2).Fill(2)
	out := fx.target()
	out.Fill(99)
	require.NoError(t, o.Gradient(out, theta, 1))

	// frame f holds f*(k_f + 2); contracting gives sum_f M[p][f]*f*(k_f+2)
	k := patlakRows[0]
	var want1, want2 float64
	for f := 1; f <= 3; f++ {
		g := float64(f) * (k[f-1] + 2)
		want1 += k[f-1] * g
		want2 += g
	}
	assert.InDelta(t, want1, out.Param(1).At(0, 0, 0), 1e-12)
	assert.InDelta(t, want2, out.Param(2).At(0, 0, 0), 1e-12)

	sens, err := o.Sensitivity(0)
	require.NoError(t, err)
	assert.InDelta(t, 1.0+4+9, sens.Param(1).At(0, 0, 0), 1e-12)
	assert.InDelta(t, 6.0, sens.Param(2).At(0, 0, 0), 1e-12)
}

func TestHessianIsNormalisedByModelRowSums(t *testing.T) {
	fx := newFixture(t, 4, patlakRows)
	o := fx.objective(2, nil)
	o.SetFrameFactory((&fakeBehaviour{}).factory())
	require.NoError(t, o.SetUp(fx.target()))

	in := fx.target()
	in.Param(1).Fill(1)
	in.Param(2).Fill(2)
	out := fx.target()
	out.Fill(1)
	require.NoError(t, o.AddHessianTimesInput(out, in, 0))

	// frames 2 and 3 expand to 4 and 5
	assert.InDelta(t, 1+(2*4.0+3*5.0)/5, out.Param(1).At(2, 3, -1), 1e-12)
	assert.InDelta(t, 1+(4.0+5.0)/2, out.Param(2).At(0, -4, 4), 1e-12)
}

func TestHessianRejectsNonUniformInput(t *testing.T) {
	fx := newFixture(t, 4, patlakRows)
	m := metrics.New()
	o := fx.objective(1, nil)
	o.SetMetrics(m)
	require.NoError(t, o.SetUp(fx.target()))

	in := fx.target()
	in.Fill(1)
	in.Param(1).Set(1, 0, 0, 2)
	out := fx.target()
	err := o.AddHessianTimesInput(out, in, 0)
	assert.True(t, IsFatal(err))
	assert.Zero(t, out.Param(1).Max())

	zero := fx.target()
	err = o.AddHessianTimesInput(out, zero, 0)
	assert.True(t, IsFatal(err))
	assert.EqualValues(t, 2, m.FatalErrors.Load())

	in.Fill(1)
	require.NoError(t, o.AddHessianTimesInput(out, in, 0))
	assert.Greater(t, out.Param(1).At(1, 0, 0), 0.0)
	assert.Greater(t, out.Param(2).At(1, 0, 0), 0.0)
}

func TestObjectiveFromZeroIsNonDecreasing(t *testing.T) {
	rows := [][]float64{{0, 1, 0}, {0, 0, 1}}
	fx := newFixture(t, 8, rows)
	o := fx.objective(2, func(p *config.Objective) { p.NumSubsets = 4 })
	require.NoError(t, o.SetUp(fx.target()))

	zero := fx.target()
	img := volume.NewDensity(fx.grid)
	for s := 0; s < 4; s++ {
		f0, err := o.ObjectiveValue(zero, s)
		require.NoError(t, err)

		var want float64
		for f := 2; f <= 3; f++ {
			v, err := o.Frame(f).ObjectiveValue(img, s)
			require.NoError(t, err)
			want += v
		}
		assert.InDelta(t, want, f0, 1e-9*math.Abs(want))

		for p := 1; p <= 2; p++ {
			step := zero.Clone()
			step.Param(p).Set(1, 0, 0, 1e-3)
			f1, err := o.ObjectiveValue(step, s)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, f1, f0, "subset %d param %d", s, p)
		}
	}
}

func TestObjectiveRejectsBadArguments(t *testing.T) {
	fx := newFixture(t, 4, patlakRows)
	o := fx.objective(1, nil)
	require.NoError(t, o.SetUp(fx.target()))

	_, err := o.ObjectiveValue(fx.target(), 2)
	assert.True(t, errors.Is(err, ErrSubset))
	_, err = o.ObjectiveValue(volume.NewParametric(fx.grid, 1), 0)
	assert.True(t, errors.Is(err, volume.ErrShapeMismatch))
}

func TestSensitivityIsWritten(t *testing.T) {
	fx := newFixture(t, 4, patlakRows)
	dir := t.TempDir()
	o := fx.objective(1, func(p *config.Objective) {
		p.SensitivityFile = "sens"
		p.WriteAllSubsetSensitivities = true
	})
	o.SetWriter(imageio.NewPNGWriter(dir))
	require.NoError(t, o.SetUp(fx.target()))

	for _, name := range []string{"sens_subset0_param1", "sens_subset1_param2"} {
		_, err := os.Stat(filepath.Join(dir, name+".yaml"))
		assert.NoError(t, err, name)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Simulation.Geometry.NumViews = 8
	cfg.Simulation.Geometry.NumTangential = 9
	cfg.Objective.NumSubsets = 2
	cfg.Objective.RecomputeSensitivity = false

	model, err := kinetic.Registry.Build(cfg.KineticModel)
	require.NoError(t, err)
	g := cfg.Simulation.Geometry
	truth := phantom.Cylinders(phantom.DefaultGrid(&g), cfg.Simulation.Phantom)
	pair, err := projector.Pairs.Build(cfg.ProjectorPair)
	require.NoError(t, err)
	study, err := phantom.Simulate(cfg.Simulation, truth, model, pair)
	require.NoError(t, err)
	store := projdata.NewMemoryStore()
	cfg.Objective.InputFile = cfg.Simulation.Name
	cfg.Objective.AdditiveFile = study.Store(store, cfg.Simulation.Name)

	o, err := FromConfig(cfg, store, zerolog.Nop(), metrics.New())
	require.NoError(t, err)
	target, err := o.ConstructTarget()
	require.NoError(t, err)
	require.NoError(t, o.SetUp(target))
	assert.Equal(t, 3, o.StartingFrame())

	v, err := o.ObjectiveValue(target, 1)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(v))

	cfg.KineticModel.Type = "Spectral"
	_, err = FromConfig(cfg, store, zerolog.Nop(), nil)
	assert.True(t, errors.Is(err, ErrConfig))
}
