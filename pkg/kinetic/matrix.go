package kinetic

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"dynrecon/pkg/volume"
)

// ModelMatrix holds the coefficients of a linear model: row p, column f-1
// is the weight of parameter p (1-based) in frame f (1-based).
type ModelMatrix struct {
	m     *mat.Dense
	start int
}

// NewModelMatrix builds a matrix from rows of per-frame coefficients, one
// row per parameter. Frames before start are ignored by every operation.
func NewModelMatrix(rows [][]float64, start int) (*ModelMatrix, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.New("kinetic: empty model matrix")
	}
	nf := len(rows[0])
	data := make([]float64, 0, len(rows)*nf)
	for i, r := range rows {
		if len(r) != nf {
			return nil, errors.Errorf("kinetic: model matrix row %d has %d frames, want %d", i+1, len(r), nf)
		}
		data = append(data, r...)
	}
	if start < 1 || start > nf {
		return nil, errors.Errorf("kinetic: starting frame %d outside [1, %d]", start, nf)
	}
	return &ModelMatrix{m: mat.NewDense(len(rows), nf, data), start: start}, nil
}

// NumParams returns the number of parameters.
func (mm *ModelMatrix) NumParams() int { r, _ := mm.m.Dims(); return r }

// NumFrames returns the number of frames covered, including those before
// the starting frame.
func (mm *ModelMatrix) NumFrames() int { _, c := mm.m.Dims(); return c }

// StartingFrame returns the first fitted frame.
func (mm *ModelMatrix) StartingFrame() int { return mm.start }

// At returns the coefficient of parameter p in frame f.
func (mm *ModelMatrix) At(p, f int) float64 { return mm.m.At(p-1, f-1) }

// RowSum returns the sum of parameter p's coefficients over the fitted frames.
func (mm *ModelMatrix) RowSum(p int) float64 {
	row := mm.m.RawRowView(p - 1)
	return floats.Sum(row[mm.start-1:])
}

func (mm *ModelMatrix) check(dyn *volume.Dynamic, par *volume.Parametric) error {
	if par.NumParams() != mm.NumParams() {
		return errors.Wrapf(ErrShape, "%d parameters, model has %d", par.NumParams(), mm.NumParams())
	}
	if dyn.First() > mm.start || dyn.Last() < mm.NumFrames() {
		return errors.Wrapf(ErrShape, "dynamic image frames [%d, %d] do not cover [%d, %d]",
			dyn.First(), dyn.Last(), mm.start, mm.NumFrames())
	}
	if ok, why := par.Grid.SameAs(dyn.Grid); !ok {
		return errors.Wrap(ErrShape, why)
	}
	return nil
}

// Expand writes dyn[f] = sum_p M[p][f] par[p] for every fitted frame.
func (mm *ModelMatrix) Expand(dyn *volume.Dynamic, par *volume.Parametric) error {
	if err := mm.check(dyn, par); err != nil {
		return err
	}
	for f := mm.start; f <= mm.NumFrames(); f++ {
		out := dyn.Frame(f).Data
		for i := range out {
			out[i] = 0
		}
		for p := 1; p <= mm.NumParams(); p++ {
			floats.AddScaled(out, mm.At(p, f), par.Param(p).Data)
		}
	}
	return nil
}

// Contract writes par[p] = sum_f M[p][f] dyn[f] over the fitted frames.
func (mm *ModelMatrix) Contract(par *volume.Parametric, dyn *volume.Dynamic) error {
	if err := mm.check(dyn, par); err != nil {
		return err
	}
	for p := 1; p <= mm.NumParams(); p++ {
		out := par.Param(p).Data
		for i := range out {
			out[i] = 0
		}
		for f := mm.start; f <= mm.NumFrames(); f++ {
			floats.AddScaled(out, mm.At(p, f), dyn.Frame(f).Data)
		}
	}
	return nil
}

// NormaliseWithModelSum writes out[p] = in[p] / RowSum(p).
func (mm *ModelMatrix) NormaliseWithModelSum(out, in *volume.Parametric) error {
	if in.NumParams() != mm.NumParams() || out.NumParams() != mm.NumParams() {
		return errors.Wrapf(ErrShape, "%d and %d parameters, model has %d", out.NumParams(), in.NumParams(), mm.NumParams())
	}
	for p := 1; p <= mm.NumParams(); p++ {
		sum := mm.RowSum(p)
		if sum == 0 {
			return errors.Errorf("kinetic: parameter %d has zero model sum", p)
		}
		if err := out.Param(p).CopyFrom(in.Param(p)); err != nil {
			return errors.Wrap(ErrShape, err.Error())
		}
		out.Param(p).Scale(1 / sum)
	}
	return nil
}

// FromFrame returns a copy of the matrix fitted from frame start on.
func (mm *ModelMatrix) FromFrame(start int) (*ModelMatrix, error) {
	if start < 1 || start > mm.NumFrames() {
		return nil, errors.Errorf("kinetic: starting frame %d outside [1, %d]", start, mm.NumFrames())
	}
	return &ModelMatrix{m: mat.DenseCopyOf(mm.m), start: start}, nil
}
