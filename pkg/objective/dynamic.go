package objective

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"dynrecon/pkg/config"
	"dynrecon/pkg/frames"
	"dynrecon/pkg/imageio"
	"dynrecon/pkg/kinetic"
	"dynrecon/pkg/metrics"
	"dynrecon/pkg/normalisation"
	"dynrecon/pkg/projdata"
	"dynrecon/pkg/projector"
	"dynrecon/pkg/volume"
)

// State is the configuration state of a DynamicKinetic objective.
type State int

const (
	// Unconfigured objectives have not been set up since their last change.
	Unconfigured State = iota
	// Ready objectives can be evaluated.
	Ready
	// Failed objectives can only be reconfigured.
	Failed
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// DynamicKinetic is the objective function of a parametric image: the sum
// over the fitted frames of the single-frame objectives evaluated at the
// kinetic model's expansion of the parameters. Gradients and Hessian
// products are carried back to parameter space by the model's adjoint.
//
// The projector pair, normalisation and projection data are shared with
// the caller and with every frame objective; they must not be modified
// while the objective is in use.
type DynamicKinetic struct {
	params   config.Objective
	loader   projdata.Loader
	pair     projector.Pair
	norm     normalisation.Normalisation
	model    kinetic.Model
	newFrame func() SingleFrame
	writer   imageio.Writer
	metrics  *metrics.Metrics
	log      zerolog.Logger

	state       State
	dynProjData *projdata.Dynamic
	additive    *projdata.Dynamic
	maxSegment  int
	geom        *projdata.Geometry
	grid        volume.Grid
	numParams   int
	frames      *frames.Vector[SingleFrame]
	dynTemplate *volume.Dynamic

	mu   sync.Mutex
	sens []*volume.Parametric
}

// NewDynamicKinetic returns an objective with default settings.
func NewDynamicKinetic() *DynamicKinetic {
	o := &DynamicKinetic{}
	o.SetDefaults()
	return o
}

// SetDefaults restores the default parameters, a matrix projector pair and
// trivial normalisation. The kinetic model and loader are cleared.
func (o *DynamicKinetic) SetDefaults() {
	o.params = config.DefaultObjective()
	o.loader = nil
	o.pair = projector.NewMatrixPair()
	o.norm = normalisation.Trivial{}
	o.model = nil
	o.newFrame = func() SingleFrame { return NewPoissonFrame() }
	o.writer = nil
	o.log = zerolog.Nop()
	o.reset()
}

func (o *DynamicKinetic) reset() {
	o.state = Unconfigured
	o.dynProjData = nil
	o.additive = nil
	o.frames = nil
	o.dynTemplate = nil
	o.mu.Lock()
	o.sens = nil
	o.mu.Unlock()
}

// SetParams replaces the objective parameters and invalidates any set-up.
func (o *DynamicKinetic) SetParams(p config.Objective) { o.params = p; o.reset() }

// Params returns the objective parameters.
func (o *DynamicKinetic) Params() config.Objective { return o.params }

// SetLoader sets where the input and additive data are read from.
func (o *DynamicKinetic) SetLoader(l projdata.Loader) { o.loader = l; o.reset() }

// SetProjectorPair sets the shared projector pair.
func (o *DynamicKinetic) SetProjectorPair(p projector.Pair) { o.pair = p; o.reset() }

// SetNormalisation sets the shared normalisation.
func (o *DynamicKinetic) SetNormalisation(n normalisation.Normalisation) { o.norm = n; o.reset() }

// SetKineticModel sets the kinetic model.
func (o *DynamicKinetic) SetKineticModel(m kinetic.Model) { o.model = m; o.reset() }

// SetFrameFactory replaces the constructor of the per-frame objectives.
func (o *DynamicKinetic) SetFrameFactory(f func() SingleFrame) { o.newFrame = f; o.reset() }

// SetWriter sets the image writer used for sensitivity output.
func (o *DynamicKinetic) SetWriter(w imageio.Writer) { o.writer = w }

// SetMetrics attaches metrics; nil disables them.
func (o *DynamicKinetic) SetMetrics(m *metrics.Metrics) { o.metrics = m }

// SetLogger sets the logger.
func (o *DynamicKinetic) SetLogger(l zerolog.Logger) {
	o.log = l.With().Str("component", "objective").Logger()
}

// State returns the configuration state.
func (o *DynamicKinetic) State() State { return o.state }

// DynProjData returns the loaded projection data, or nil before set-up.
func (o *DynamicKinetic) DynProjData() *projdata.Dynamic { return o.dynProjData }

// AdditiveDynProjData returns the additive data, or nil when disabled.
func (o *DynamicKinetic) AdditiveDynProjData() *projdata.Dynamic { return o.additive }

// ProjectorPair returns the shared projector pair.
func (o *DynamicKinetic) ProjectorPair() projector.Pair { return o.pair }

// Normalisation returns the shared normalisation.
func (o *DynamicKinetic) Normalisation() normalisation.Normalisation { return o.norm }

// KineticModel returns the kinetic model.
func (o *DynamicKinetic) KineticModel() kinetic.Model { return o.model }

// MaxSegmentNumToProcess returns the resolved maximum segment after set-up
// and the configured value before.
func (o *DynamicKinetic) MaxSegmentNumToProcess() int {
	if o.state == Ready {
		return o.maxSegment
	}
	return o.params.MaxSegmentNumToProcess
}

// ZeroSeg0EndPlanes reports whether segment 0 end planes are discarded.
func (o *DynamicKinetic) ZeroSeg0EndPlanes() bool { return o.params.ZeroSeg0EndPlanes }

// NumSubsets returns the number of subsets.
func (o *DynamicKinetic) NumSubsets() int { return o.params.NumSubsets }

// StartingFrame returns the first fitted frame, or 0 without a model.
func (o *DynamicKinetic) StartingFrame() int {
	if o.model == nil {
		return 0
	}
	return o.model.StartingFrame()
}

// Geometry returns the segment-restricted geometry after set-up.
func (o *DynamicKinetic) Geometry() *projdata.Geometry { return o.geom }

// Initialise validates the scalar parameters and reads the projection data.
func (o *DynamicKinetic) Initialise() error {
	p := o.params
	switch {
	case p.InputFile == "":
		return configf("you need to specify an input file")
	case p.Zoom <= 0:
		return configf("zoom should be positive, got %g", p.Zoom)
	case p.OutputImageSizeXY == 0 || p.OutputImageSizeXY < -1:
		return configf("output image size xy must be positive (or -1 as default), got %d", p.OutputImageSizeXY)
	case p.OutputImageSizeZ == 0 || p.OutputImageSizeZ < -1:
		return configf("output image size z must be positive (or -1 as default), got %d", p.OutputImageSizeZ)
	case o.loader == nil:
		return configf("no projection data loader")
	}

	dyn, err := o.loader.Load(p.InputFile)
	if err != nil {
		return errors.Wrapf(ErrConfig, "reading %q: %v", p.InputFile, err)
	}
	var add *projdata.Dynamic
	if p.AdditiveFile != "" && p.AdditiveFile != "0" {
		if add, err = o.loader.Load(p.AdditiveFile); err != nil {
			return errors.Wrapf(ErrConfig, "reading additive data %q: %v", p.AdditiveFile, err)
		}
		if add.NumFrames() != dyn.NumFrames() {
			return configf("additive data has %d frames, input has %d", add.NumFrames(), dyn.NumFrames())
		}
		if ok, why := add.Geometry().SameAs(dyn.Geometry()); !ok {
			return configf("additive data does not match the input: %s", why)
		}
	}
	o.dynProjData = dyn
	o.additive = add
	return nil
}

// ConstructTarget builds an all-zero parametric image matching the
// projection data, zoom, offsets and output sizes.
func (o *DynamicKinetic) ConstructTarget() (*volume.Parametric, error) {
	if o.dynProjData == nil {
		if err := o.Initialise(); err != nil {
			return nil, err
		}
	}
	if o.model == nil {
		return nil, configf("no kinetic model")
	}
	p := o.params
	g := o.dynProjData.Geometry()
	nxy := p.OutputImageSizeXY
	if nxy == -1 {
		nxy = int(math.Ceil(float64(g.NumTangential) * p.Zoom))
	}
	nz := p.OutputImageSizeZ
	if nz == -1 {
		nz = g.NumAxialSeg0
	}
	grid := volume.Grid{
		Range:     volume.CenteredRange(nz, nxy, nxy),
		VoxelSize: volume.Vec3{Z: g.PlaneSpacing, Y: g.BinSize / p.Zoom, X: g.BinSize / p.Zoom},
		Origin: volume.Vec3{
			Z: -0.5*float64(nz-1)*g.PlaneSpacing + p.ZOffset,
			Y: p.YOffset,
			X: p.XOffset,
		},
	}
	return volume.NewParametric(grid, o.model.NumParams()), nil
}

// SetUp configures the objective for target. On success the state is
// Ready; on any failure it is Failed and the error says why. Fatal errors
// (see IsFatal) indicate a broken precondition.
func (o *DynamicKinetic) SetUp(target *volume.Parametric) error {
	o.reset()
	err := o.setUp(target)
	switch {
	case err == nil:
		o.state = Ready
		o.log.Info().
			Int("startingFrame", o.model.StartingFrame()).
			Int("frames", o.frames.Len()).
			Int("subsets", o.params.NumSubsets).
			Int("maxSegment", o.maxSegment).
			Msg("objective set up")
	case IsFatal(err):
		o.state = Failed
		o.metrics.Fatal()
		o.log.Error().Err(err).Msg("objective set-up failed fatally")
	default:
		o.state = Failed
		o.metrics.ConfigFailure()
		o.log.Warn().Err(err).Msg("objective set-up failed")
	}
	return err
}

func (o *DynamicKinetic) setUp(target *volume.Parametric) error {
	p := o.params

	// base configuration
	if err := o.Initialise(); err != nil {
		return err
	}
	if target == nil {
		return configf("no target image")
	}
	if err := target.Grid.Validate(); err != nil {
		return errors.Wrap(ErrConfig, err.Error())
	}

	// segment range
	native := o.dynProjData.Geometry()
	maxSeg := p.MaxSegmentNumToProcess
	if maxSeg == -1 {
		maxSeg = native.MaxSegment
	}
	if maxSeg > native.MaxSegment {
		return configf("max segment number to process %d exceeds the data's maximum %d", maxSeg, native.MaxSegment)
	}
	if maxSeg < 0 {
		return configf("max segment number to process must be -1 or non-negative, got %d", maxSeg)
	}
	geom := native.Clone()
	if err := geom.ReduceSegmentRange(-maxSeg, maxSeg); err != nil {
		return errors.Wrap(ErrConfig, err.Error())
	}

	// shared collaborators
	if o.pair == nil {
		return configf("projector pair not set")
	}
	if o.norm == nil {
		return configf("normalisation not set")
	}
	if err := o.norm.SetUp(geom); err != nil {
		return errors.Wrapf(ErrConfig, "setting up normalisation: %v", err)
	}
	if p.NumSubsets <= 0 {
		return configf("number of subsets should be positive, got %d", p.NumSubsets)
	}
	if p.NumSubsets > geom.NumViews {
		return configf("number of subsets %d exceeds the number of views %d", p.NumSubsets, geom.NumViews)
	}

	// kinetic model
	if o.model == nil {
		return configf("kinetic model not set")
	}
	defs := o.dynProjData.TimeFrames()
	if err := o.model.SetUp(defs); err != nil {
		return errors.Wrapf(ErrConfig, "setting up kinetic model: %v", err)
	}
	start, last := o.model.StartingFrame(), defs.NumFrames()
	if start < 1 || start > last {
		return configf("starting frame %d outside [1, %d]", start, last)
	}
	if target.NumParams() != o.model.NumParams() {
		return configf("target has %d parameters, kinetic model has %d", target.NumParams(), o.model.NumParams())
	}

	// frame objectives
	tmpl := volume.NewDensity(target.Grid)
	fitted := last - start + 1
	inner := o.workers() / fitted
	if inner < 1 {
		inner = 1
	}
	sfs := frames.NewVector[SingleFrame](start, last)
	for f := start; f <= last; f++ {
		data, err := o.dynProjData.Frame(f)
		if err != nil {
			return &FatalError{Op: fmt.Sprintf("frame %d", f), Err: err}
		}
		var add *projdata.ProjData
		if o.additive != nil {
			if add, err = o.additive.Frame(f); err != nil {
				return &FatalError{Op: fmt.Sprintf("frame %d additive data", f), Err: err}
			}
		}
		sf := o.newFrame()
		sf.Configure(FrameConfig{
			ProjectorPair:        o.pair,
			ProjData:             data,
			Geometry:             geom,
			MaxSegmentNum:        maxSeg,
			ZeroSeg0EndPlanes:    p.ZeroSeg0EndPlanes,
			AdditiveData:         add,
			NumSubsets:           p.NumSubsets,
			FrameNum:             f,
			TimeFrames:           defs,
			Normalisation:        o.norm,
			RecomputeSensitivity: p.RecomputeSensitivity,
			Workers:              inner,
			Logger:               o.log,
		})
		if err := sf.SetUp(tmpl); err != nil {
			return &FatalError{Op: fmt.Sprintf("setting up frame %d", f), Err: err}
		}
		sfs.Set(f, sf)
	}
	o.frames = sfs
	o.maxSegment = maxSeg
	o.geom = geom
	o.grid = target.Grid
	o.numParams = target.NumParams()
	o.dynTemplate = volume.NewDynamic(defs, start, last, target.Grid)
	o.mu.Lock()
	o.sens = make([]*volume.Parametric, p.NumSubsets)
	o.mu.Unlock()

	// subset balance
	if ok, why := o.SubsetsAreApproximatelyBalanced(); !ok {
		return configf("subsets are not balanced: %s", why)
	}

	// sensitivities
	if p.RecomputeSensitivity {
		for s := 0; s < p.NumSubsets; s++ {
			if _, err := o.sensitivity(s); err != nil {
				return err
			}
		}
		if p.SensitivityFile != "" {
			if err := o.writeSensitivities(); err != nil {
				return errors.Wrapf(ErrConfig, "writing sensitivity: %v", err)
			}
		}
	}
	return nil
}

func (o *DynamicKinetic) workers() int {
	if o.params.NumWorkers < 1 {
		return 1
	}
	return o.params.NumWorkers
}

func (o *DynamicKinetic) writeSensitivities() error {
	w := o.writer
	if w == nil {
		w = imageio.NewPNGWriter("")
	}
	subsets := []int{0}
	if o.params.WriteAllSubsetSensitivities {
		subsets = subsets[:0]
		for s := 0; s < o.params.NumSubsets; s++ {
			subsets = append(subsets, s)
		}
	}
	for _, s := range subsets {
		sens, err := o.sensitivity(s)
		if err != nil {
			return err
		}
		name := o.params.SensitivityFile
		if o.params.WriteAllSubsetSensitivities {
			name = fmt.Sprintf("%s_subset%d", name, s)
		}
		if err := w.WriteParametric(name, sens); err != nil {
			return err
		}
		o.log.Info().Str("file", name).Int("subset", s).Msg("sensitivity written")
	}
	return nil
}

// SetNumSubsets changes the number of subsets of every frame objective.
// A frame that does not accept n is fatal; subsets that end up unbalanced
// leave the objective Failed with a configuration error.
func (o *DynamicKinetic) SetNumSubsets(n int) (int, error) {
	if n <= 0 {
		return o.params.NumSubsets, configf("number of subsets should be positive, got %d", n)
	}
	o.params.NumSubsets = n
	if o.frames == nil {
		return n, nil
	}
	for _, f := range o.frames.Indices() {
		if got := o.frames.At(f).SetNumSubsets(n); got != n {
			o.state = Failed
			o.metrics.Fatal()
			return got, fatalf("set number of subsets", "frame %d uses %d subsets instead of %d", f, got, n)
		}
	}
	if ok, why := o.SubsetsAreApproximatelyBalanced(); !ok {
		o.state = Failed
		o.metrics.ConfigFailure()
		return n, configf("subsets are not balanced: %s", why)
	}
	o.mu.Lock()
	o.sens = make([]*volume.Parametric, n)
	o.mu.Unlock()
	return n, nil
}

// SubsetsAreApproximatelyBalanced combines the balance checks of every
// frame objective with a logical AND. It panics with a *FatalError when no
// frame objectives exist yet.
func (o *DynamicKinetic) SubsetsAreApproximatelyBalanced() (bool, string) {
	if o.frames == nil || o.frames.Len() == 0 {
		o.metrics.Fatal()
		panic(fatalf("subset balance", "no frame objective functions exist; set up first"))
	}
	ok := true
	var msgs []string
	o.frames.Each(func(f int, sf SingleFrame) {
		if fine, why := sf.SubsetsAreApproximatelyBalanced(); !fine {
			ok = false
			msgs = append(msgs, why)
		}
	})
	return ok, strings.Join(msgs, "; ")
}

// Frame returns the objective of frame f, or nil outside the fitted range.
func (o *DynamicKinetic) Frame(f int) SingleFrame {
	if o.frames == nil || !o.frames.Has(f) {
		return nil
	}
	return o.frames.At(f)
}
