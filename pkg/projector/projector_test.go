package projector

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"dynrecon/pkg/config"
	"dynrecon/pkg/filter"
	"dynrecon/pkg/projdata"
	"dynrecon/pkg/volume"
)

func testGeometry() *projdata.Geometry {
	return &projdata.Geometry{
		Scanner:       "test",
		NumViews:      8,
		NumTangential: 15,
		NumAxialSeg0:  4,
		MinSegment:    -1,
		MaxSegment:    1,
		BinSize:       2,
		PlaneSpacing:  2,
	}
}

func testImage() *volume.Density {
	return volume.NewDensity(volume.Grid{
		Range:     volume.CenteredRange(4, 12, 12),
		VoxelSize: volume.Vec3{Z: 2, Y: 2, X: 2},
		Origin:    volume.Vec3{Z: -3},
	})
}

func randomImage(seed uint64) *volume.Density {
	rng := rand.New(rand.NewSource(seed))
	d := testImage()
	for i := range d.Data {
		d.Data[i] = rng.Float64()
	}
	return d
}

func randomViewgrams(g *projdata.Geometry, sym projdata.Symmetries, vs projdata.ViewSegment, seed uint64) *projdata.RelatedViewgrams {
	rng := rand.New(rand.NewSource(seed))
	rv := projdata.NewRelatedViewgrams(g, sym, vs)
	rv.Each(func(v *projdata.Viewgram) {
		for i := range v.Data {
			v.Data[i] = rng.Float64()
		}
	})
	return rv
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func TestMatrixIsAdjoint(t *testing.T) {
	g := testGeometry()
	pair := NewMatrixPair()
	require.NoError(t, pair.SetUp(g, testImage()))

	x := randomImage(1)
	for _, vs := range projdata.BasicViewSegments(g, pair.Symmetries()) {
		y := randomViewgrams(g, pair.Symmetries(), vs, uint64(10+vs.View))

		ax := projdata.NewRelatedViewgrams(g, pair.Symmetries(), vs)
		require.NoError(t, ForwardProjectAll(pair.Forward(), ax, x))
		aty := testImage()
		require.NoError(t, BackProjectAll(pair.Back(), aty, y))

		var lhs float64
		for i := range ax.Viewgrams {
			lhs += dot(ax.Viewgrams[i].Data, y.Viewgrams[i].Data)
		}
		assert.InDelta(t, lhs, dot(x.Data, aty.Data), 1e-9*math.Abs(lhs), "view %d segment %d", vs.View, vs.Segment)
	}
}

func TestMatrixSegmentPairs(t *testing.T) {
	g := testGeometry()
	pair := NewMatrixPair()
	require.NoError(t, pair.SetUp(g, testImage()))

	related := pair.Symmetries().Related(projdata.ViewSegment{Segment: -1, View: 3})
	assert.Equal(t, []projdata.ViewSegment{{Segment: 1, View: 3}, {Segment: -1, View: 3}}, related)

	rv := projdata.NewRelatedViewgrams(g, pair.Symmetries(), related[0])
	require.NoError(t, ForwardProjectAll(pair.Forward(), rv, randomImage(2)))
	assert.Equal(t, rv.Viewgrams[0].Data, rv.Viewgrams[1].Data)
}

func TestForwardProjectOverwritesOnlyRange(t *testing.T) {
	g := testGeometry()
	pair := NewMatrixPair()
	require.NoError(t, pair.SetUp(g, testImage()))

	vs := projdata.ViewSegment{Segment: 0, View: 0}
	rv := projdata.NewRelatedViewgrams(g, pair.Symmetries(), vs)
	rv.Fill(-1)
	img := testImage()
	img.Fill(1)
	require.NoError(t, pair.Forward().ForwardProject(rv, img, 1, 2, -7, 7))

	v := rv.Viewgrams[0]
	assert.Equal(t, -1.0, v.At(0, 0))
	assert.Equal(t, -1.0, v.At(3, 0))
	assert.Greater(t, v.At(1, 0), 0.0)
	assert.Equal(t, 0.0, v.At(1, 7), "bins no pixel reaches are zeroed")
}

func TestMatrixRejectsBadInput(t *testing.T) {
	g := testGeometry()
	m := NewMatrix()

	rv := projdata.NewRelatedViewgrams(g, projdata.TrivialSymmetries{}, projdata.ViewSegment{})
	err := MatrixForward{M: m}.ForwardProject(rv, testImage(), 0, 3, -7, 7)
	assert.True(t, errors.Is(err, ErrNotSetUp))

	img := testImage()
	img.Grid.VoxelSize.Z = 3
	assert.True(t, errors.Is(m.SetUp(g, img), ErrIncompatible))

	require.NoError(t, m.SetUp(g, testImage()))
	err = MatrixForward{M: m}.ForwardProject(rv, testImage(), 0, 4, -7, 7)
	assert.True(t, errors.Is(err, ErrRange))
}

func TestPostSmoothingWithoutFilterIsTransparent(t *testing.T) {
	g := testGeometry()
	plain := MatrixBack{M: NewMatrix()}
	decorated, err := NewPostSmoothing(MatrixBack{M: NewMatrix()}, nil)
	require.NoError(t, err)
	require.NoError(t, plain.SetUp(g, testImage()))
	require.NoError(t, decorated.SetUp(g, testImage()))
	assert.Equal(t, plain.Symmetries(), decorated.Symmetries())

	want, got := randomImage(3), randomImage(3)
	for _, vs := range projdata.BasicViewSegments(g, plain.Symmetries()) {
		y := randomViewgrams(g, plain.Symmetries(), vs, uint64(vs.View))
		require.NoError(t, BackProjectAll(plain, want, y))
		require.NoError(t, BackProjectAll(decorated, got, y))
	}
	assert.Equal(t, want.Data, got.Data)
}

func TestPostSmoothingFiltersThenAccumulates(t *testing.T) {
	g := testGeometry()
	f, err := filter.NewGaussian(filter.GaussianParams{FWHMXY: 6, FWHMZ: 6})
	require.NoError(t, err)
	decorated, err := NewPostSmoothing(MatrixBack{M: NewMatrix()}, f)
	require.NoError(t, err)
	require.NoError(t, decorated.SetUp(g, testImage()))

	vs := projdata.ViewSegment{Segment: 0, View: 2}
	y := randomViewgrams(g, decorated.Symmetries(), vs, 5)

	want := testImage()
	require.NoError(t, BackProjectAll(decorated.Inner(), want, y))
	require.NoError(t, f.Apply(want))

	got := testImage()
	got.Fill(2)
	require.NoError(t, BackProjectAll(decorated, got, y))
	for i := range got.Data {
		assert.InDelta(t, want.Data[i]+2, got.Data[i], 1e-12)
	}
}

func TestPostSmoothingSetUpFailurePropagates(t *testing.T) {
	decorated, err := NewPostSmoothing(MatrixBack{M: NewMatrix()}, nil)
	require.NoError(t, err)
	img := testImage()
	img.Grid.VoxelSize.Z = 5
	assert.True(t, errors.Is(decorated.SetUp(testGeometry(), img), ErrIncompatible))

	_, err = NewPostSmoothing(nil, nil)
	assert.Error(t, err)
}

func TestRegistries(t *testing.T) {
	pair, err := Pairs.Build(config.DefaultProjectorPair())
	require.NoError(t, err)
	assert.IsType(t, &SeparatePair{}, pair)
	require.NoError(t, pair.SetUp(testGeometry(), testImage()))

	pair, err = Pairs.Build(config.Block{Type: "Matrix"})
	require.NoError(t, err)
	assert.IsType(t, &MatrixPair{}, pair)

	bp, err := Backs.Build(config.MustBlock("Post Smoothing", map[string]interface{}{
		"originalBackProjector": map[string]interface{}{"type": "Matrix"},
		"filter":                map[string]interface{}{"type": "Gaussian", "fwhmXY": 3},
	}))
	require.NoError(t, err)
	ps, ok := bp.(*PostSmoothing)
	require.True(t, ok)
	assert.NotNil(t, ps.filter)

	_, err = Backs.Build(config.Block{Type: "Post Smoothing"})
	assert.Error(t, err)

	_, err = Pairs.Build(config.MustBlock("Separate Projectors", map[string]interface{}{
		"forward": map[string]interface{}{"type": "Matrix"},
	}))
	assert.Error(t, err)
}
