package projdata

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynrecon/pkg/frames"
)

func testGeometry() *Geometry {
	return &Geometry{
		Scanner:       "test",
		NumViews:      6,
		NumTangential: 5,
		NumAxialSeg0:  4,
		MinSegment:    -2,
		MaxSegment:    2,
		BinSize:       2,
		PlaneSpacing:  2,
	}
}

func TestGeometryValidate(t *testing.T) {
	require.NoError(t, testGeometry().Validate())

	tests := []struct {
		name   string
		mutate func(g *Geometry)
	}{
		{"no views", func(g *Geometry) { g.NumViews = 0 }},
		{"no tangential", func(g *Geometry) { g.NumTangential = 0 }},
		{"segments too oblique", func(g *Geometry) { g.MaxSegment = 4 }},
		{"inverted segments", func(g *Geometry) { g.MinSegment, g.MaxSegment = 1, 0 }},
		{"bin size", func(g *Geometry) { g.BinSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGeometry()
			tt.mutate(g)
			assert.True(t, errors.Is(g.Validate(), ErrInvalidGeometry))
		})
	}
}

func TestReduceSegmentRange(t *testing.T) {
	g := testGeometry()
	c := g.Clone()
	require.NoError(t, c.ReduceSegmentRange(-1, 1))
	assert.Equal(t, 1, c.MaxSegment)
	assert.Equal(t, 2, g.MaxSegment, "clone must be independent")

	assert.True(t, errors.Is(c.ReduceSegmentRange(-2, 2), ErrSegmentRange))
}

func TestRanges(t *testing.T) {
	g := testGeometry()
	minT, maxT := g.TangentialRange()
	assert.Equal(t, -2, minT)
	assert.Equal(t, 2, maxT)

	minA, maxA := g.AxialRange(-2)
	assert.Equal(t, 0, minA)
	assert.Equal(t, 1, maxA)
	assert.Equal(t, 10, g.ViewgramSize(2))
}

func TestProjDataViewgrams(t *testing.T) {
	g := testGeometry()
	p := NewProjData(g)

	v := NewViewgram(g, ViewSegment{Segment: 1, View: 3})
	v.Set(2, -2, 4)
	v.AddAt(2, -2, 1)
	require.NoError(t, p.SetViewgram(v))

	got, err := p.Viewgram(ViewSegment{Segment: 1, View: 3})
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.At(2, -2))
	assert.Equal(t, 5.0, p.Sum())

	got.Fill(0)
	assert.Equal(t, 5.0, p.Sum(), "viewgrams are copies")

	_, err = p.Viewgram(ViewSegment{Segment: 3, View: 0})
	assert.True(t, errors.Is(err, ErrSegmentRange))
	_, err = p.Viewgram(ViewSegment{Segment: 0, View: 6})
	assert.Error(t, err)

	c := p.Clone()
	c.Fill(1)
	assert.Equal(t, 5.0, p.Sum())
}

func TestSegmentPairSymmetries(t *testing.T) {
	g := testGeometry()
	sym := NewSegmentPairSymmetries(g)

	assert.Equal(t, ViewSegment{Segment: 2, View: 1}, sym.Basic(ViewSegment{Segment: -2, View: 1}))
	assert.Equal(t, []ViewSegment{{Segment: 1, View: 0}, {Segment: -1, View: 0}}, sym.Related(ViewSegment{Segment: -1, View: 0}))
	assert.Len(t, sym.Related(ViewSegment{Segment: 0, View: 0}), 1)

	basics := BasicViewSegments(g, sym)
	assert.Len(t, basics, 3*g.NumViews)

	trivial := BasicViewSegments(g, TrivialSymmetries{})
	assert.Len(t, trivial, 5*g.NumViews)
}

func TestRelatedViewgramsRoundTrip(t *testing.T) {
	g := testGeometry()
	sym := NewSegmentPairSymmetries(g)
	p := NewProjData(g)

	rv := NewRelatedViewgrams(g, sym, ViewSegment{Segment: 1, View: 2})
	require.Len(t, rv.Viewgrams, 2)
	rv.Fill(2)
	require.NoError(t, p.SetRelatedViewgrams(rv))

	back, err := p.RelatedViewgrams(ViewSegment{Segment: 1, View: 2}, sym)
	require.NoError(t, err)
	assert.Equal(t, rv.Sum(), back.Sum())
	assert.Equal(t, ViewSegment{Segment: 1, View: 2}, back.Basic())

	back.Zip(rv, func(dst *float64, src float64) { *dst *= src })
	assert.Equal(t, 2*rv.Sum(), back.Sum())
}

func TestDynamicAndStore(t *testing.T) {
	g := testGeometry()
	defs, err := frames.Uniform(2, 0, 60)
	require.NoError(t, err)

	d, err := NewDynamic(defs, []*ProjData{NewProjData(g), NewProjData(g)})
	require.NoError(t, err)
	assert.Equal(t, 2, d.NumFrames())

	_, err = d.Frame(3)
	assert.True(t, errors.Is(err, frames.ErrFrameOutOfRange))

	_, err = NewDynamic(defs, []*ProjData{NewProjData(g)})
	assert.Error(t, err)

	other := g.Clone()
	other.NumViews = 4
	_, err = NewDynamic(defs, []*ProjData{NewProjData(g), NewProjData(other)})
	assert.Error(t, err)

	store := NewMemoryStore()
	store.Put("study", d)
	got, err := store.Load("study")
	require.NoError(t, err)
	assert.Same(t, d, got)

	_, err = store.Load("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}
