package projdata

// Symmetries groups view/segment pairs whose projections can be computed
// together. A projector reports the symmetries it honours; subset and
// sensitivity bookkeeping only iterates over basic view/segments.
type Symmetries interface {
	// Related returns every view/segment related to vs, basic one first.
	Related(vs ViewSegment) []ViewSegment
	// Basic maps vs onto the representative of its group.
	Basic(vs ViewSegment) ViewSegment
}

// IsBasic reports whether vs is the representative of its group.
func IsBasic(sym Symmetries, vs ViewSegment) bool { return sym.Basic(vs) == vs }

// BasicViewSegments lists the basic view/segments of g in segment, then view order.
func BasicViewSegments(g *Geometry, sym Symmetries) []ViewSegment {
	var out []ViewSegment
	for s := g.MinSegment; s <= g.MaxSegment; s++ {
		for v := 0; v < g.NumViews; v++ {
			vs := ViewSegment{Segment: s, View: v}
			if IsBasic(sym, vs) {
				out = append(out, vs)
			}
		}
	}
	return out
}

// TrivialSymmetries relates every view/segment only to itself.
type TrivialSymmetries struct{}

// Related implements Symmetries.
func (TrivialSymmetries) Related(vs ViewSegment) []ViewSegment { return []ViewSegment{vs} }

// Basic implements Symmetries.
func (TrivialSymmetries) Basic(vs ViewSegment) ViewSegment { return vs }

// SegmentPairSymmetries relates segment s to segment -s for the same view.
// LORs of +s and -s cover the same pair of planes, so a projector that only
// depends on the plane pair computes both at once.
type SegmentPairSymmetries struct {
	MinSegment, MaxSegment int
}

// NewSegmentPairSymmetries builds the symmetry for the segment range of g.
func NewSegmentPairSymmetries(g *Geometry) SegmentPairSymmetries {
	return SegmentPairSymmetries{MinSegment: g.MinSegment, MaxSegment: g.MaxSegment}
}

func (s SegmentPairSymmetries) has(seg int) bool { return seg >= s.MinSegment && seg <= s.MaxSegment }

// Basic implements Symmetries. Positive segments are basic when present.
func (s SegmentPairSymmetries) Basic(vs ViewSegment) ViewSegment {
	if vs.Segment < 0 && s.has(-vs.Segment) {
		return ViewSegment{Segment: -vs.Segment, View: vs.View}
	}
	return vs
}

// Related implements Symmetries.
func (s SegmentPairSymmetries) Related(vs ViewSegment) []ViewSegment {
	b := s.Basic(vs)
	if b.Segment != 0 && s.has(-b.Segment) {
		return []ViewSegment{b, {Segment: -b.Segment, View: b.View}}
	}
	return []ViewSegment{b}
}
