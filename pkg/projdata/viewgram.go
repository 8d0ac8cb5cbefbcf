package projdata

// ViewSegment identifies one viewgram.
type ViewSegment struct {
	Segment int
	View    int
}

// Viewgram holds the bins of one view of one segment, axial-major.
type Viewgram struct {
	ViewSegment
	MinAxial, MaxAxial           int
	MinTangential, MaxTangential int
	Data                         []float64
}

// NewViewgram allocates a zero-filled viewgram shaped by g.
func NewViewgram(g *Geometry, vs ViewSegment) *Viewgram {
	minA, maxA := g.AxialRange(vs.Segment)
	minT, maxT := g.TangentialRange()
	return &Viewgram{
		ViewSegment:   vs,
		MinAxial:      minA,
		MaxAxial:      maxA,
		MinTangential: minT,
		MaxTangential: maxT,
		Data:          make([]float64, (maxA-minA+1)*(maxT-minT+1)),
	}
}

func (v *Viewgram) index(a, t int) int {
	return (a-v.MinAxial)*(v.MaxTangential-v.MinTangential+1) + (t - v.MinTangential)
}

// At returns the bin at axial position a and tangential position t.
func (v *Viewgram) At(a, t int) float64 { return v.Data[v.index(a, t)] }

// Set stores x at (a, t).
func (v *Viewgram) Set(a, t int, x float64) { v.Data[v.index(a, t)] = x }

// AddAt accumulates x into (a, t).
func (v *Viewgram) AddAt(a, t int, x float64) { v.Data[v.index(a, t)] += x }

// Clone returns a deep copy.
func (v *Viewgram) Clone() *Viewgram {
	c := *v
	c.Data = make([]float64, len(v.Data))
	copy(c.Data, v.Data)
	return &c
}

// Fill sets every bin to x.
func (v *Viewgram) Fill(x float64) {
	for i := range v.Data {
		v.Data[i] = x
	}
}

// RelatedViewgrams groups the viewgrams that are related by a symmetry of
// the projector. The first viewgram is the basic one.
type RelatedViewgrams struct {
	Symmetries Symmetries
	Viewgrams  []*Viewgram
}

// NewRelatedViewgrams allocates zero-filled viewgrams for every view/segment
// related to basic.
func NewRelatedViewgrams(g *Geometry, sym Symmetries, basic ViewSegment) *RelatedViewgrams {
	related := sym.Related(basic)
	rv := &RelatedViewgrams{Symmetries: sym, Viewgrams: make([]*Viewgram, len(related))}
	for i, vs := range related {
		rv.Viewgrams[i] = NewViewgram(g, vs)
	}
	return rv
}

// Basic returns the view/segment of the basic viewgram.
func (r *RelatedViewgrams) Basic() ViewSegment { return r.Viewgrams[0].ViewSegment }

// Clone returns a deep copy.
func (r *RelatedViewgrams) Clone() *RelatedViewgrams {
	c := &RelatedViewgrams{Symmetries: r.Symmetries, Viewgrams: make([]*Viewgram, len(r.Viewgrams))}
	for i, v := range r.Viewgrams {
		c.Viewgrams[i] = v.Clone()
	}
	return c
}

// Fill sets every bin of every viewgram to x.
func (r *RelatedViewgrams) Fill(x float64) {
	for _, v := range r.Viewgrams {
		v.Fill(x)
	}
}

// Each calls fn on every viewgram in order.
func (r *RelatedViewgrams) Each(fn func(v *Viewgram)) {
	for _, v := range r.Viewgrams {
		fn(v)
	}
}

// Zip calls fn with corresponding bins of r and o. Both must come from the
// same basic view/segment and geometry.
func (r *RelatedViewgrams) Zip(o *RelatedViewgrams, fn func(dst *float64, src float64)) {
	for i, v := range r.Viewgrams {
		src := o.Viewgrams[i].Data
		for k := range v.Data {
			fn(&v.Data[k], src[k])
		}
	}
}

// Sum returns the total of all bins.
func (r *RelatedViewgrams) Sum() float64 {
	var s float64
	for _, v := range r.Viewgrams {
		for _, x := range v.Data {
			s += x
		}
	}
	return s
}
