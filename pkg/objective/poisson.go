package objective

import (
	"fmt"
	"math"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"

	"dynrecon/pkg/projdata"
	"dynrecon/pkg/projector"
	"dynrecon/pkg/volume"
)

// maxQuotient bounds measured/estimated ratios where the estimate vanishes.
const maxQuotient = 10000.0

// PoissonFrame is the Poisson log-likelihood of one frame with a linear
// model for the mean, ybar = n*A*x + b, where n are the normalisation
// efficiencies and b the additive data:
//
//	L(x) = sum_bins y*log(ybar) - ybar
//
// View v belongs to subset v mod NumSubsets. Only basic view/segments of
// the projector's symmetries are iterated.
type PoissonFrame struct {
	cfg FrameConfig
	log zerolog.Logger

	ready  bool
	geom   *projdata.Geometry
	sym    projdata.Symmetries
	basics []projdata.ViewSegment
	tmpl   *volume.Density

	mu   sync.Mutex
	sens []*volume.Density
}

// NewPoissonFrame returns an unconfigured frame objective.
func NewPoissonFrame() *PoissonFrame {
	return &PoissonFrame{log: zerolog.Nop()}
}

// Configure implements SingleFrame. It invalidates any previous SetUp.
func (pf *PoissonFrame) Configure(cfg FrameConfig) {
	pf.cfg = cfg
	pf.log = cfg.Logger.With().Int("frame", cfg.FrameNum).Logger()
	pf.ready = false
	pf.sens = nil
}

// SetNumSubsets implements SingleFrame. The count is capped at the number
// of views once the geometry is known. Cached sensitivities are dropped.
func (pf *PoissonFrame) SetNumSubsets(n int) int {
	if g := pf.geometry(); g != nil && n > g.NumViews {
		n = g.NumViews
	}
	pf.cfg.NumSubsets = n
	pf.mu.Lock()
	if pf.ready {
		pf.sens = make([]*volume.Density, n)
	}
	pf.mu.Unlock()
	return n
}

func (pf *PoissonFrame) geometry() *projdata.Geometry {
	if pf.cfg.Geometry != nil {
		return pf.cfg.Geometry
	}
	if pf.cfg.ProjData != nil {
		return pf.cfg.ProjData.Geometry()
	}
	return nil
}

// SetUp implements SingleFrame.
func (pf *PoissonFrame) SetUp(tmpl *volume.Density) error {
	pf.ready = false
	c := pf.cfg
	switch {
	case c.ProjData == nil:
		return configf("frame %d: no projection data", c.FrameNum)
	case c.ProjectorPair == nil:
		return configf("frame %d: no projector pair", c.FrameNum)
	case c.Normalisation == nil:
		return configf("frame %d: no normalisation", c.FrameNum)
	case c.NumSubsets < 1:
		return configf("frame %d: number of subsets %d must be positive", c.FrameNum, c.NumSubsets)
	case tmpl == nil:
		return configf("frame %d: no image template", c.FrameNum)
	}

	geom := pf.geometry()
	native := c.ProjData.Geometry()
	if !native.HasSegment(geom.MinSegment) || !native.HasSegment(geom.MaxSegment) {
		return configf("frame %d: segments [%d, %d] not in data [%d, %d]", c.FrameNum,
			geom.MinSegment, geom.MaxSegment, native.MinSegment, native.MaxSegment)
	}
	if c.NumSubsets > geom.NumViews {
		return configf("frame %d: %d subsets for %d views", c.FrameNum, c.NumSubsets, geom.NumViews)
	}
	if c.AdditiveData != nil {
		if ok, why := c.AdditiveData.Geometry().SameAs(native); !ok {
			return configf("frame %d: additive data does not match projection data: %s", c.FrameNum, why)
		}
	}
	if err := c.ProjectorPair.SetUp(geom, tmpl); err != nil {
		return errors.Wrapf(err, "frame %d: setting up projector pair", c.FrameNum)
	}
	if err := c.Normalisation.SetUp(geom); err != nil {
		return errors.Wrapf(err, "frame %d: setting up normalisation", c.FrameNum)
	}

	pf.geom = geom
	pf.sym = c.ProjectorPair.Symmetries()
	pf.basics = projdata.BasicViewSegments(geom, pf.sym)
	pf.tmpl = tmpl.EmptyCopy()
	pf.mu.Lock()
	pf.sens = make([]*volume.Density, c.NumSubsets)
	pf.mu.Unlock()
	pf.ready = true

	pf.log.Debug().
		Int("basicViewSegments", len(pf.basics)).
		Int("subsets", c.NumSubsets).
		Msg("frame objective set up")

	if c.RecomputeSensitivity {
		if err := pf.ComputeSensitivities(); err != nil {
			pf.ready = false
			return err
		}
	}
	return nil
}

func (pf *PoissonFrame) check(subset int, imgs ...*volume.Density) error {
	if !pf.ready {
		return errors.Wrapf(ErrNotReady, "frame %d", pf.cfg.FrameNum)
	}
	if subset < 0 || subset >= pf.cfg.NumSubsets {
		return errors.Wrapf(ErrSubset, "subset %d of %d", subset, pf.cfg.NumSubsets)
	}
	for _, img := range imgs {
		if ok, why := pf.tmpl.HasSameCharacteristics(img); !ok {
			return errors.Wrapf(volume.ErrShapeMismatch, "frame %d: %s", pf.cfg.FrameNum, why)
		}
	}
	return nil
}

func (pf *PoissonFrame) subsetViews(subset int) []projdata.ViewSegment {
	var out []projdata.ViewSegment
	for _, vs := range pf.basics {
		if vs.View%pf.cfg.NumSubsets == subset {
			out = append(out, vs)
		}
	}
	return out
}

func (pf *PoissonFrame) numWorkers(jobs int) int {
	w := pf.cfg.Workers
	if w < 1 {
		w = 1
	}
	if w > jobs {
		w = jobs
	}
	return w
}

// distribute runs fn over views with a static round-robin assignment to
// workers, so results reduced in worker order are deterministic.
func distribute(views []projdata.ViewSegment, workers int, fn func(worker int, vs projdata.ViewSegment) error) error {
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < len(views); i += workers {
				if err := fn(w, views[i]); err != nil {
					errs[w] = err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// backProjectSubset sums, over the subset, the back projections of the
// viewgrams produced by bins, into a fresh image.
func (pf *PoissonFrame) backProjectSubset(subset int, bins func(vs projdata.ViewSegment) (*projdata.RelatedViewgrams, error)) (*volume.Density, error) {
	views := pf.subsetViews(subset)
	out := pf.tmpl.EmptyCopy()
	if len(views) == 0 {
		return out, nil
	}
	workers := pf.numWorkers(len(views))
	scratch := make([]*volume.Density, workers)
	for w := range scratch {
		scratch[w] = pf.tmpl.EmptyCopy()
	}
	err := distribute(views, workers, func(w int, vs projdata.ViewSegment) error {
		rv, err := bins(vs)
		if err != nil {
			return err
		}
		return pf.backProject(scratch[w], rv)
	})
	if err != nil {
		return nil, err
	}
	for _, s := range scratch {
		floats.Add(out.Data, s.Data)
	}
	return out, nil
}

func (pf *PoissonFrame) measured(vs projdata.ViewSegment) (*projdata.RelatedViewgrams, error) {
	return pf.cfg.ProjData.RelatedViewgrams(vs, pf.sym)
}

// model returns n*A*img and the additive viewgrams (nil when disabled).
func (pf *PoissonFrame) model(vs projdata.ViewSegment, img *volume.Density) (fwd, add *projdata.RelatedViewgrams, err error) {
	fwd = projdata.NewRelatedViewgrams(pf.geom, pf.sym, vs)
	if err := projector.ForwardProjectAll(pf.cfg.ProjectorPair.Forward(), fwd, img); err != nil {
		return nil, nil, err
	}
	if err := pf.cfg.Normalisation.Undo(fwd); err != nil {
		return nil, nil, err
	}
	if pf.cfg.AdditiveData != nil {
		if add, err = pf.cfg.AdditiveData.RelatedViewgrams(vs, pf.sym); err != nil {
			return nil, nil, err
		}
	}
	return fwd, add, nil
}

// estimate returns ybar = n*A*img + b.
func (pf *PoissonFrame) estimate(vs projdata.ViewSegment, img *volume.Density) (*projdata.RelatedViewgrams, error) {
	fwd, add, err := pf.model(vs, img)
	if err != nil {
		return nil, err
	}
	if add != nil {
		fwd.Zip(add, func(dst *float64, src float64) { *dst += src })
	}
	return fwd, nil
}

// backProject adds A^T n rv into out, after clearing the segment 0 end
// planes when configured.
func (pf *PoissonFrame) backProject(out *volume.Density, rv *projdata.RelatedViewgrams) error {
	if pf.cfg.ZeroSeg0EndPlanes {
		zeroSeg0EndPlanes(rv)
	}
	if err := pf.cfg.Normalisation.Undo(rv); err != nil {
		return err
	}
	return projector.BackProjectAll(pf.cfg.ProjectorPair.Back(), out, rv)
}

func zeroSeg0EndPlanes(rv *projdata.RelatedViewgrams) {
	rv.Each(func(v *projdata.Viewgram) {
		if v.Segment != 0 {
			return
		}
		for t := v.MinTangential; t <= v.MaxTangential; t++ {
			v.Set(v.MinAxial, t, 0)
			v.Set(v.MaxAxial, t, 0)
		}
	})
}

func logLikelihood(y, ybar float64) float64 {
	if y <= 0 {
		return -ybar
	}
	return y*math.Log(math.Max(ybar, y/maxQuotient)) - ybar
}

func quotient(y, ybar float64) float64 {
	if y <= 0 {
		return 0
	}
	if ybar <= y/maxQuotient {
		return maxQuotient
	}
	return y / ybar
}

// ObjectiveValue implements SingleFrame.
func (pf *PoissonFrame) ObjectiveValue(img *volume.Density, subset int) (float64, error) {
	if err := pf.check(subset, img); err != nil {
		return 0, err
	}
	views := pf.subsetViews(subset)
	if len(views) == 0 {
		return 0, nil
	}
	workers := pf.numWorkers(len(views))
	partial := make([]float64, workers)
	err := distribute(views, workers, func(w int, vs projdata.ViewSegment) error {
		y, err := pf.measured(vs)
		if err != nil {
			return err
		}
		ybar, err := pf.estimate(vs, img)
		if err != nil {
			return err
		}
		for i, v := range y.Viewgrams {
			for j, yj := range v.Data {
				partial[w] += logLikelihood(yj, ybar.Viewgrams[i].Data[j])
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return floats.Sum(partial), nil
}

// Gradient implements SingleFrame: out = A^T n (y / ybar).
func (pf *PoissonFrame) Gradient(out, img *volume.Density, subset int) error {
	if err := pf.check(subset, out, img); err != nil {
		return err
	}
	g, err := pf.backProjectSubset(subset, func(vs projdata.ViewSegment) (*projdata.RelatedViewgrams, error) {
		y, err := pf.measured(vs)
		if err != nil {
			return nil, err
		}
		ybar, err := pf.estimate(vs, img)
		if err != nil {
			return nil, err
		}
		y.Zip(ybar, func(dst *float64, src float64) { *dst = quotient(*dst, src) })
		return y, nil
	})
	if err != nil {
		return err
	}
	return out.CopyFrom(g)
}

// Sensitivity implements SingleFrame: A^T n 1 restricted to the subset.
// The result is cached and must be treated as read-only.
func (pf *PoissonFrame) Sensitivity(subset int) (*volume.Density, error) {
	if err := pf.check(subset); err != nil {
		return nil, err
	}
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if s := pf.sens[subset]; s != nil {
		return s, nil
	}
	s, err := pf.backProjectSubset(subset, func(vs projdata.ViewSegment) (*projdata.RelatedViewgrams, error) {
		rv := projdata.NewRelatedViewgrams(pf.geom, pf.sym, vs)
		rv.Fill(1)
		return rv, nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "frame %d: sensitivity of subset %d", pf.cfg.FrameNum, subset)
	}
	pf.sens[subset] = s
	return s, nil
}

// ComputeSensitivities implements SingleFrame.
func (pf *PoissonFrame) ComputeSensitivities() error {
	for s := 0; s < pf.cfg.NumSubsets; s++ {
		if _, err := pf.Sensitivity(s); err != nil {
			return err
		}
	}
	return nil
}

// AddHessianTimesInput implements SingleFrame:
//
//	out += A^T n [ y * (n A in) / (n A in + b)^2 ]
func (pf *PoissonFrame) AddHessianTimesInput(out, in *volume.Density, subset int) error {
	if err := pf.check(subset, out, in); err != nil {
		return err
	}
	h, err := pf.backProjectSubset(subset, func(vs projdata.ViewSegment) (*projdata.RelatedViewgrams, error) {
		y, err := pf.measured(vs)
		if err != nil {
			return nil, err
		}
		fwd, add, err := pf.model(vs, in)
		if err != nil {
			return nil, err
		}
		for i, v := range y.Viewgrams {
			f := fwd.Viewgrams[i].Data
			for j, yj := range v.Data {
				denom := f[j]
				if add != nil {
					denom += add.Viewgrams[i].Data[j]
				}
				if denom <= 0 {
					v.Data[j] = 0
					continue
				}
				v.Data[j] = yj * f[j] / (denom * denom)
			}
		}
		return y, nil
	})
	if err != nil {
		return err
	}
	return out.Add(h)
}

// SubsetsAreApproximatelyBalanced implements SingleFrame: every subset
// must cover the same number of view/segments once symmetries are
// expanded.
func (pf *PoissonFrame) SubsetsAreApproximatelyBalanced() (bool, string) {
	if !pf.ready {
		return false, fmt.Sprintf("frame %d: not set up", pf.cfg.FrameNum)
	}
	n := pf.cfg.NumSubsets
	counts := make([]int, n)
	for _, vs := range pf.basics {
		counts[vs.View%n] += len(pf.sym.Related(vs))
	}
	for s := 1; s < n; s++ {
		if counts[s] != counts[0] {
			return false, fmt.Sprintf("frame %d: subset %d covers %d view/segments, subset 0 covers %d",
				pf.cfg.FrameNum, s, counts[s], counts[0])
		}
	}
	return true, ""
}
