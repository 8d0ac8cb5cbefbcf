package reconstruction

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"dynrecon/pkg/config"
	"dynrecon/pkg/imageio"
	"dynrecon/pkg/kinetic"
	"dynrecon/pkg/metrics"
	"dynrecon/pkg/objective"
	"dynrecon/pkg/volume"
)

// ErrInvalidParams reports unusable reconstruction parameters.
var ErrInvalidParams = errors.New("reconstruction: invalid parameters")

// Params holds the reconstruction parameters.
type Params struct {
	// NumIterations is the number of full passes over all subsets.
	NumIterations int

	// Relaxation scales every update step. Values below 1 trade speed for
	// stability.
	Relaxation float64

	// SaveIntermediaryResults writes the estimate after every iteration.
	SaveIntermediaryResults bool

	// OutputDir is the parent of the per-run output directory.
	OutputDir string
}

// ParamsFromConfig converts the reconstruction section of a configuration.
func ParamsFromConfig(c config.Reconstruction) *Params {
	return &Params{
		NumIterations:           c.NumIterations,
		Relaxation:              c.Relaxation,
		SaveIntermediaryResults: c.SaveIntermediaryResults,
		OutputDir:               c.OutputDir,
	}
}

// Objective is the parametric objective function being maximised.
// *objective.DynamicKinetic satisfies it.
type Objective interface {
	NumSubsets() int
	KineticModel() kinetic.Model
	ObjectiveValue(theta *volume.Parametric, subset int) (float64, error)
	Gradient(out, theta *volume.Parametric, subset int) error
	Sensitivity(subset int) (*volume.Parametric, error)
	AddHessianTimesInput(out, in *volume.Parametric, subset int) error
}

// Reconstructor runs ordered-subsets separable-paraboloidal-surrogate
// iterations on a parametric image:
//
//	theta <- max(0, theta + relax * numSubsets * (G_s - S_s) / D)
//
// where G_s is the subset gradient-plus-sensitivity, S_s the subset
// sensitivity and D the curvature of the whole objective at the unit image,
// computed once before the first iteration.
//
// The reconstruction process consists of:
// 1. Computing the preconditioner D
// 2. Running the subset updates for every iteration
// 3. Recording the objective value after each iteration
// 4. Calculating validation metrics when a truth image is known
type Reconstructor struct {
	params *Params
	obj    Objective

	writer  imageio.Writer
	metrics *metrics.Metrics
	log     zerolog.Logger
	runID   string

	truth      *volume.Parametric
	result     *volume.Parametric
	history    []float64
	validation *ValidationMetrics
}

// NewReconstructor creates a reconstructor for obj. Each reconstructor gets
// a fresh run id used in its logs and output directory.
func NewReconstructor(params *Params, obj Objective) *Reconstructor {
	return &Reconstructor{
		params: params,
		obj:    obj,
		log:    zerolog.Nop(),
		runID:  uuid.NewString(),
	}
}

// SetLogger sets the logger; the run id is attached to every event.
func (r *Reconstructor) SetLogger(l zerolog.Logger) {
	r.log = l.With().Str("component", "reconstruction").Str("run", r.runID).Logger()
}

// SetMetrics sets the metrics sink. nil disables metrics.
func (r *Reconstructor) SetMetrics(m *metrics.Metrics) { r.metrics = m }

// SetWriter overrides where images are written.
func (r *Reconstructor) SetWriter(w imageio.Writer) { r.writer = w }

// SetTruth sets the image the result is validated against.
func (r *Reconstructor) SetTruth(truth *volume.Parametric) { r.truth = truth }

// RunID returns the identifier of this run.
func (r *Reconstructor) RunID() string { return r.runID }

// RunDir returns the directory this run writes into.
func (r *Reconstructor) RunDir() string { return filepath.Join(r.params.OutputDir, r.runID) }

func (r *Reconstructor) imageWriter() imageio.Writer {
	if r.writer == nil {
		r.writer = imageio.NewPNGWriter(r.RunDir())
	}
	return r.writer
}

// Process reconstructs from initial, which is left untouched. Any fatal
// objective error aborts immediately.
func (r *Reconstructor) Process(initial *volume.Parametric) (*volume.Parametric, error) {
	p := r.params
	switch {
	case r.obj == nil:
		return nil, errors.Wrap(ErrInvalidParams, "no objective function")
	case initial == nil:
		return nil, errors.Wrap(ErrInvalidParams, "no initial image")
	case p.NumIterations < 1:
		return nil, errors.Wrapf(ErrInvalidParams, "number of iterations must be positive, got %d", p.NumIterations)
	case p.Relaxation <= 0:
		return nil, errors.Wrapf(ErrInvalidParams, "relaxation must be positive, got %g", p.Relaxation)
	}
	numSubsets := r.obj.NumSubsets()
	if numSubsets < 1 {
		return nil, errors.Wrapf(ErrInvalidParams, "objective has %d subsets", numSubsets)
	}

	theta := initial.Clone()
	r.history = r.history[:0]
	r.validation = nil

	r.log.Info().Msg("Step 1: computing preconditioner")
	denom, err := r.denominator(theta)
	if err != nil {
		return nil, r.abort("preconditioner", err)
	}

	r.log.Info().
		Int("iterations", p.NumIterations).
		Int("subsets", numSubsets).
		Float64("relaxation", p.Relaxation).
		Msg("Step 2: running subset iterations")
	for it := 1; it <= p.NumIterations; it++ {
		r.metrics.StartIteration(it)
		for s := 0; s < numSubsets; s++ {
			if err := r.update(theta, denom, s, numSubsets); err != nil {
				return nil, r.abort(fmt.Sprintf("iteration %d subset %d", it, s), err)
			}
			r.metrics.SubsetDone()
		}

		value, err := r.objectiveValue(theta, numSubsets)
		if err != nil {
			return nil, r.abort(fmt.Sprintf("iteration %d objective", it), err)
		}
		r.history = append(r.history, value)
		r.log.Info().Int("iteration", it).Float64("objective", value).Msg("iteration done")

		if err := r.saveIntermediaryResult(theta, it); err != nil {
			r.log.Warn().Err(err).Int("iteration", it).Msg("failed to save intermediary result")
		}
	}
	r.result = theta

	if r.truth != nil {
		r.log.Info().Msg("Step 3: calculating validation metrics")
		v, err := Validate(r.truth, theta)
		if err != nil {
			return nil, errors.Wrap(err, "validation")
		}
		r.validation = v
		for i := range v.RMSE {
			r.log.Info().
				Int("param", i+1).
				Float64("rmse", v.RMSE[i]).
				Float64("bias", v.Bias[i]).
				Float64("correlation", v.Correlation[i]).
				Msg("validation")
		}
	}
	return theta, nil
}

func (r *Reconstructor) abort(stage string, err error) error {
	if objective.IsFatal(err) {
		r.log.Error().Err(err).Str("stage", stage).Msg("reconstruction aborted")
	} else {
		r.log.Warn().Err(err).Str("stage", stage).Msg("reconstruction failed")
	}
	return errors.Wrap(err, stage)
}

// denominator returns the summed subset curvatures at the unit image. The
// objective divides its Hessian by the model row sums, which are multiplied
// back to obtain a separable surrogate of the joint parameters.
func (r *Reconstructor) denominator(theta *volume.Parametric) (*volume.Parametric, error) {
	ones := theta.EmptyCopy()
	ones.Fill(1)
	denom := theta.EmptyCopy()
	for s := 0; s < r.obj.NumSubsets(); s++ {
		if err := r.obj.AddHessianTimesInput(denom, ones, s); err != nil {
			return nil, err
		}
	}
	model := r.obj.KineticModel()
	if model == nil || model.Matrix() == nil {
		return nil, errors.Wrap(ErrInvalidParams, "objective has no kinetic model matrix")
	}
	mm := model.Matrix()
	for p := 1; p <= denom.NumParams(); p++ {
		denom.Param(p).Scale(mm.RowSum(p))
	}
	return denom, nil
}

func (r *Reconstructor) update(theta, denom *volume.Parametric, subset, numSubsets int) error {
	grad := theta.EmptyCopy()
	if err := r.obj.Gradient(grad, theta, subset); err != nil {
		return err
	}
	sens, err := r.obj.Sensitivity(subset)
	if err != nil {
		return err
	}
	step := r.params.Relaxation * float64(numSubsets)
	for p := 1; p <= theta.NumParams(); p++ {
		x := theta.Param(p).Data
		g, s, d := grad.Param(p).Data, sens.Param(p).Data, denom.Param(p).Data
		for i := range x {
			if d[i] <= 0 {
				continue
			}
			x[i] = math.Max(0, x[i]+step*(g[i]-s[i])/d[i])
		}
	}
	return nil
}

func (r *Reconstructor) objectiveValue(theta *volume.Parametric, numSubsets int) (float64, error) {
	var total float64
	for s := 0; s < numSubsets; s++ {
		v, err := r.obj.ObjectiveValue(theta, s)
		if err != nil {
			return 0, err
		}
		total += v
	}
	return total, nil
}

// saveIntermediaryResult writes the estimate after iteration it.
func (r *Reconstructor) saveIntermediaryResult(theta *volume.Parametric, it int) error {
	if !r.params.SaveIntermediaryResults {
		return nil
	}
	return r.imageWriter().WriteParametric(fmt.Sprintf("iteration_%03d", it), theta)
}

// WriteResult writes the final estimate under name.
func (r *Reconstructor) WriteResult(name string) error {
	if r.result == nil {
		return errors.New("reconstruction: no result to write")
	}
	return r.imageWriter().WriteParametric(name, r.result)
}

// GetHistory returns the full objective value after each iteration.
func (r *Reconstructor) GetHistory() []float64 { return r.history }

// GetMetrics returns the validation metrics, or nil without a truth image.
func (r *Reconstructor) GetMetrics() *ValidationMetrics { return r.validation }

// GetResult returns the last reconstructed image.
func (r *Reconstructor) GetResult() *volume.Parametric { return r.result }
