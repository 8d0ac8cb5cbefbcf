package kinetic

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/interp"

	"dynrecon/pkg/frames"
	"dynrecon/pkg/volume"
)

// PlasmaCurve is a sampled arterial input function.
type PlasmaCurve struct {
	Times    []float64 `yaml:"times"`
	Activity []float64 `yaml:"activity"`
}

// PatlakParams configures a Patlak plot. Either ModelMatrix or Plasma must
// be given; an explicit matrix wins.
type PatlakParams struct {
	StartingFrame int `yaml:"startingFrame"`
	// ModelMatrix rows are the Ki and V coefficients per frame.
	ModelMatrix [][]float64  `yaml:"modelMatrix,omitempty"`
	Plasma      *PlasmaCurve `yaml:"plasma,omitempty"`
	// InCounts multiplies the coefficients by the frame duration so that
	// the dynamic image is in counts rather than count rate.
	InCounts   bool           `yaml:"inCounts"`
	TimeFrames []frames.Frame `yaml:"timeFrames,omitempty"`
}

// Patlak is the two-parameter Patlak plot:
//
//	C(t) = Ki * integral_0^t Cp + V * Cp(t)
//
// Parameter 1 is Ki, parameter 2 is V.
type Patlak struct {
	params PatlakParams
	defs   *frames.Definitions
	matrix *ModelMatrix
}

// NewPatlak returns a model that must be set up before use.
func NewPatlak(p PatlakParams) *Patlak { return &Patlak{params: p} }

// SetUp builds the model matrix for defs.
func (pk *Patlak) SetUp(defs *frames.Definitions) error {
	if defs == nil || defs.NumFrames() == 0 {
		return errors.Wrap(frames.ErrNoFrames, "patlak")
	}
	if len(pk.params.TimeFrames) != 0 {
		own, err := frames.NewDefinitions(pk.params.TimeFrames)
		if err != nil {
			return errors.Wrap(err, "patlak time frames")
		}
		if !sameFrames(own, defs) {
			return errors.New("kinetic: patlak time frames differ from the data's")
		}
	}

	var rows [][]float64
	switch {
	case len(pk.params.ModelMatrix) != 0:
		rows = pk.params.ModelMatrix
	case pk.params.Plasma != nil:
		var err error
		if rows, err = plasmaCoefficients(*pk.params.Plasma, defs, pk.params.InCounts); err != nil {
			return err
		}
	default:
		return errors.New("kinetic: patlak needs a model matrix or a plasma curve")
	}
	if len(rows) != 2 {
		return errors.Errorf("kinetic: patlak model matrix has %d rows, want 2", len(rows))
	}
	if len(rows[0]) != defs.NumFrames() {
		return errors.Errorf("kinetic: patlak model matrix has %d frames, data has %d", len(rows[0]), defs.NumFrames())
	}
	// the starting frame is validated by the caller against the data
	start := pk.params.StartingFrame
	if start < 1 || start > defs.NumFrames() {
		start = 1
	}
	mm, err := NewModelMatrix(rows, start)
	if err != nil {
		return err
	}
	pk.defs = defs
	pk.matrix = mm
	return nil
}

// StartingFrame returns the configured starting frame.
func (pk *Patlak) StartingFrame() int { return pk.params.StartingFrame }

// TimeFrames returns the frames the model was set up with.
func (pk *Patlak) TimeFrames() *frames.Definitions { return pk.defs }

// NumParams returns 2.
func (pk *Patlak) NumParams() int { return 2 }

// Matrix returns the model matrix, or nil before SetUp.
func (pk *Patlak) Matrix() *ModelMatrix { return pk.matrix }

// Expand implements Model.
func (pk *Patlak) Expand(dyn *volume.Dynamic, par *volume.Parametric) error {
	if pk.matrix == nil {
		return ErrNotSetUp
	}
	return pk.matrix.Expand(dyn, par)
}

// Contract implements Model.
func (pk *Patlak) Contract(par *volume.Parametric, dyn *volume.Dynamic) error {
	if pk.matrix == nil {
		return ErrNotSetUp
	}
	return pk.matrix.Contract(par, dyn)
}

// NormaliseWithModelSum implements Model.
func (pk *Patlak) NormaliseWithModelSum(out, in *volume.Parametric) error {
	if pk.matrix == nil {
		return ErrNotSetUp
	}
	return pk.matrix.NormaliseWithModelSum(out, in)
}

func sameFrames(a, b *frames.Definitions) bool {
	if a.NumFrames() != b.NumFrames() {
		return false
	}
	for f := 1; f <= a.NumFrames(); f++ {
		if a.Start(f) != b.Start(f) || a.End(f) != b.End(f) {
			return false
		}
	}
	return true
}

// plasmaCoefficients returns the Ki row (cumulative plasma integral up to
// the frame end) and the V row (mean plasma activity over the frame).
func plasmaCoefficients(pc PlasmaCurve, defs *frames.Definitions, inCounts bool) ([][]float64, error) {
	if len(pc.Times) != len(pc.Activity) {
		return nil, errors.Errorf("kinetic: plasma has %d times and %d activities", len(pc.Times), len(pc.Activity))
	}
	var curve interp.PiecewiseLinear
	if err := curve.Fit(pc.Times, pc.Activity); err != nil {
		return nil, errors.Wrap(err, "kinetic: fitting plasma curve")
	}
	n := defs.NumFrames()
	ki := make([]float64, n)
	v := make([]float64, n)
	for f := 1; f <= n; f++ {
		start, end := defs.Start(f), defs.End(f)
		ki[f-1] = integral(curve, pc.Times, 0, end)
		v[f-1] = integral(curve, pc.Times, start, end) / (end - start)
		if inCounts {
			ki[f-1] *= end - start
			v[f-1] *= end - start
		}
	}
	return [][]float64{ki, v}, nil
}

// integral integrates the piecewise linear curve exactly over [a, b] by
// sampling it at a, b and every knot in between.
func integral(curve interp.PiecewiseLinear, knots []float64, a, b float64) float64 {
	if b <= a {
		return 0
	}
	xs := []float64{a}
	i := sort.SearchFloat64s(knots, a)
	for ; i < len(knots) && knots[i] < b; i++ {
		if knots[i] > a {
			xs = append(xs, knots[i])
		}
	}
	xs = append(xs, b)
	ys := make([]float64, len(xs))
	for j, x := range xs {
		ys[j] = curve.Predict(x)
	}
	return integrate.Trapezoidal(xs, ys)
}
