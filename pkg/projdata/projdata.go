package projdata

import (
	"github.com/pkg/errors"
)

// ProjData holds the bins of one frame, one flat slice per segment ordered
// (view, axial, tangential).
type ProjData struct {
	geom     *Geometry
	segments map[int][]float64
}

// NewProjData allocates zero-filled projection data for g.
func NewProjData(g *Geometry) *ProjData {
	p := &ProjData{geom: g, segments: make(map[int][]float64)}
	for s := g.MinSegment; s <= g.MaxSegment; s++ {
		p.segments[s] = make([]float64, g.NumViews*g.ViewgramSize(s))
	}
	return p
}

// Geometry returns the geometry the data was acquired with. Callers must
// treat it as read-only; use Clone to derive restricted geometries.
func (p *ProjData) Geometry() *Geometry { return p.geom }

// MaxSegmentNum returns the largest segment number available.
func (p *ProjData) MaxSegmentNum() int { return p.geom.MaxSegment }

func (p *ProjData) viewgramSlice(vs ViewSegment) ([]float64, error) {
	seg, ok := p.segments[vs.Segment]
	if !ok {
		return nil, errors.Wrapf(ErrSegmentRange, "segment %d", vs.Segment)
	}
	if vs.View < 0 || vs.View >= p.geom.NumViews {
		return nil, errors.Errorf("projdata: view %d outside [0, %d)", vs.View, p.geom.NumViews)
	}
	n := p.geom.ViewgramSize(vs.Segment)
	return seg[vs.View*n : (vs.View+1)*n], nil
}

// Viewgram returns a copy of the viewgram at vs.
func (p *ProjData) Viewgram(vs ViewSegment) (*Viewgram, error) {
	src, err := p.viewgramSlice(vs)
	if err != nil {
		return nil, err
	}
	v := NewViewgram(p.geom, vs)
	copy(v.Data, src)
	return v, nil
}

// SetViewgram overwrites the stored viewgram with v.
func (p *ProjData) SetViewgram(v *Viewgram) error {
	dst, err := p.viewgramSlice(v.ViewSegment)
	if err != nil {
		return err
	}
	if len(dst) != len(v.Data) {
		return errors.Errorf("projdata: viewgram %+v has %d bins, want %d", v.ViewSegment, len(v.Data), len(dst))
	}
	copy(dst, v.Data)
	return nil
}

// RelatedViewgrams copies every viewgram related to basic under sym.
func (p *ProjData) RelatedViewgrams(basic ViewSegment, sym Symmetries) (*RelatedViewgrams, error) {
	related := sym.Related(basic)
	rv := &RelatedViewgrams{Symmetries: sym, Viewgrams: make([]*Viewgram, len(related))}
	for i, vs := range related {
		v, err := p.Viewgram(vs)
		if err != nil {
			return nil, err
		}
		rv.Viewgrams[i] = v
	}
	return rv, nil
}

// SetRelatedViewgrams stores every viewgram of rv.
func (p *ProjData) SetRelatedViewgrams(rv *RelatedViewgrams) error {
	for _, v := range rv.Viewgrams {
		if err := p.SetViewgram(v); err != nil {
			return err
		}
	}
	return nil
}

// Fill sets every bin to x.
func (p *ProjData) Fill(x float64) {
	for _, seg := range p.segments {
		for i := range seg {
			seg[i] = x
		}
	}
}

// Sum returns the total over all bins.
func (p *ProjData) Sum() float64 {
	var s float64
	for _, seg := range p.segments {
		for _, x := range seg {
			s += x
		}
	}
	return s
}

// Clone returns a deep copy sharing the geometry.
func (p *ProjData) Clone() *ProjData {
	c := &ProjData{geom: p.geom, segments: make(map[int][]float64, len(p.segments))}
	for s, seg := range p.segments {
		cp := make([]float64, len(seg))
		copy(cp, seg)
		c.segments[s] = cp
	}
	return c
}
