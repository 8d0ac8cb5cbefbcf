package objective

import (
	"time"

	"github.com/pkg/errors"

	"dynrecon/pkg/frames"
	"dynrecon/pkg/metrics"
	"dynrecon/pkg/volume"
)

// frameResult carries one frame's evaluation back to the reducer.
type frameResult struct {
	frame int
	value float64
	err   error
}

// forEachFrame runs fn for every fitted frame, at most workers at a time,
// and returns the values indexed by frame. When several frames fail, the
// error of the lowest frame is returned.
func (o *DynamicKinetic) forEachFrame(kind string, fn func(f int, sf SingleFrame) (float64, error)) (*frames.Vector[float64], error) {
	resultChan := make(chan frameResult)
	sem := make(chan struct{}, o.workers())

	o.frames.Each(func(f int, sf SingleFrame) {
		go func(f int, sf SingleFrame) {
			sem <- struct{}{}
			v, err := fn(f, sf)
			<-sem
			o.metrics.FrameEvaluated(kind)
			resultChan <- frameResult{frame: f, value: v, err: err}
		}(f, sf)
	})

	values := frames.NewVector[float64](o.frames.Min(), o.frames.Max())
	var firstErr error
	errFrame := 0
	for i := 0; i < o.frames.Len(); i++ {
		r := <-resultChan
		values.Set(r.frame, r.value)
		if r.err != nil && (firstErr == nil || r.frame < errFrame) {
			firstErr, errFrame = r.err, r.frame
		}
	}
	if firstErr != nil {
		if IsFatal(firstErr) {
			o.metrics.Fatal()
			return nil, firstErr
		}
		return nil, errors.Wrapf(firstErr, "frame %d", errFrame)
	}
	return values, nil
}

func (o *DynamicKinetic) check(subset int, imgs ...*volume.Parametric) error {
	if o.state != Ready {
		return errors.Wrapf(ErrNotReady, "state %s", o.state)
	}
	if subset < 0 || subset >= o.params.NumSubsets {
		return errors.Wrapf(ErrSubset, "subset %d of %d", subset, o.params.NumSubsets)
	}
	for _, img := range imgs {
		if img.NumParams() != o.numParams {
			return errors.Wrapf(volume.ErrShapeMismatch, "%d parameters, want %d", img.NumParams(), o.numParams)
		}
		if ok, why := o.grid.SameAs(img.Grid); !ok {
			return errors.Wrap(volume.ErrShapeMismatch, why)
		}
	}
	return nil
}

// expand returns a fresh dynamic image holding the expansion of theta.
func (o *DynamicKinetic) expand(theta *volume.Parametric) (*volume.Dynamic, error) {
	dyn := o.dynTemplate.Clone()
	dyn.Fill(1)
	if err := o.model.Expand(dyn, theta); err != nil {
		return nil, err
	}
	return dyn, nil
}

// ObjectiveValue returns the sum over fitted frames of the frame objectives
// at the expansion of theta.
func (o *DynamicKinetic) ObjectiveValue(theta *volume.Parametric, subset int) (float64, error) {
	defer o.metrics.ObserveEvaluation(metrics.KindObjective, time.Now())
	if err := o.check(subset, theta); err != nil {
		return 0, err
	}
	dyn, err := o.expand(theta)
	if err != nil {
		return 0, err
	}
	values, err := o.forEachFrame(metrics.KindObjective, func(f int, sf SingleFrame) (float64, error) {
		return sf.ObjectiveValue(dyn.Frame(f), subset)
	})
	if err != nil {
		return 0, err
	}
	var total float64
	values.Each(func(_ int, v float64) { total += v })
	return total, nil
}

// Gradient overwrites out with the adjoint of the per-frame gradients plus
// sensitivities at the expansion of theta. Subtract Sensitivity(subset) to
// obtain the plain gradient.
func (o *DynamicKinetic) Gradient(out, theta *volume.Parametric, subset int) error {
	defer o.metrics.ObserveEvaluation(metrics.KindGradient, time.Now())
	if err := o.check(subset, out, theta); err != nil {
		return err
	}
	dyn, err := o.expand(theta)
	if err != nil {
		return err
	}
	grad := o.dynTemplate.Clone()
	_, err = o.forEachFrame(metrics.KindGradient, func(f int, sf SingleFrame) (float64, error) {
		return 0, sf.Gradient(grad.Frame(f), dyn.Frame(f), subset)
	})
	if err != nil {
		return err
	}
	return o.model.Contract(out, grad)
}

// Sensitivity returns the adjoint of the per-frame subset sensitivities.
// The result is cached and must be treated as read-only.
func (o *DynamicKinetic) Sensitivity(subset int) (*volume.Parametric, error) {
	if err := o.check(subset); err != nil {
		return nil, err
	}
	return o.sensitivity(subset)
}

func (o *DynamicKinetic) sensitivity(subset int) (*volume.Parametric, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s := o.sens[subset]; s != nil {
		return s, nil
	}
	defer o.metrics.ObserveEvaluation(metrics.KindSensitivity, time.Now())
	dyn := o.dynTemplate.Clone()
	_, err := o.forEachFrame(metrics.KindSensitivity, func(f int, sf SingleFrame) (float64, error) {
		s, err := sf.Sensitivity(subset)
		if err != nil {
			return 0, err
		}
		return 0, dyn.Frame(f).CopyFrom(s)
	})
	if err != nil {
		return nil, err
	}
	out := volume.NewParametric(o.grid, o.numParams)
	if err := o.model.Contract(out, dyn); err != nil {
		return nil, err
	}
	o.sens[subset] = out
	return out, nil
}

// AddHessianTimesInput adds the approximate Hessian of the parametric
// objective applied to in into out.
//
// The frame Hessians are only valid for uniform inputs, so every frame of
// the expansion of in must be uniform and positive; otherwise a
// *FatalError is returned. Each frame is evaluated at the unit image and
// rescaled, the results are carried back by the model's adjoint and each
// parameter is divided by its model row sum.
func (o *DynamicKinetic) AddHessianTimesInput(out, in *volume.Parametric, subset int) error {
	defer o.metrics.ObserveEvaluation(metrics.KindHessian, time.Now())
	if err := o.check(subset, out, in); err != nil {
		return err
	}
	dynIn := o.dynTemplate.Clone()
	if err := o.model.Expand(dynIn, in); err != nil {
		return err
	}

	scale := frames.NewVector[float64](dynIn.First(), dynIn.Last())
	for _, f := range dynIn.FrameNumbers() {
		img := dynIn.Frame(f)
		hi, lo := img.Max(), img.Min()
		if hi != lo || lo <= 0 {
			o.metrics.Fatal()
			return &FatalError{
				Op:  "approximate Hessian",
				Err: errors.Errorf("frame %d input must be uniform and positive after kinetic expansion, got [%g, %g]", f, lo, hi),
			}
		}
		scale.Set(f, hi)
		img.Scale(1 / hi)
		o.log.Debug().Int("frame", f).Float64("scale", hi).Msg("hessian input scale factor")
	}

	dynOut := o.dynTemplate.Clone()
	_, err := o.forEachFrame(metrics.KindHessian, func(f int, sf SingleFrame) (float64, error) {
		if err := sf.AddHessianTimesInput(dynOut.Frame(f), dynIn.Frame(f), subset); err != nil {
			return 0, err
		}
		dynOut.Frame(f).Scale(scale.At(f))
		return 0, nil
	})
	if err != nil {
		return err
	}

	unnormalised := out.EmptyCopy()
	if err := o.model.Contract(unnormalised, dynOut); err != nil {
		return err
	}
	normalised := out.EmptyCopy()
	if err := o.model.NormaliseWithModelSum(normalised, unnormalised); err != nil {
		return err
	}
	return out.Add(normalised)
}
