package objective

import (
	"github.com/rs/zerolog"

	"dynrecon/pkg/frames"
	"dynrecon/pkg/normalisation"
	"dynrecon/pkg/projdata"
	"dynrecon/pkg/projector"
	"dynrecon/pkg/volume"
)

// FrameConfig carries everything a single-frame objective shares with its
// siblings plus the data of its own frame.
type FrameConfig struct {
	ProjectorPair projector.Pair
	ProjData      *projdata.ProjData
	// Geometry is the segment-restricted geometry shared by every frame.
	Geometry             *projdata.Geometry
	MaxSegmentNum        int
	ZeroSeg0EndPlanes    bool
	AdditiveData         *projdata.ProjData // nil when disabled
	NumSubsets           int
	FrameNum             int
	TimeFrames           *frames.Definitions
	Normalisation        normalisation.Normalisation
	RecomputeSensitivity bool
	Workers              int
	Logger               zerolog.Logger
}

// SingleFrame is the objective function of one time frame. Subsets are
// numbered [0, NumSubsets).
type SingleFrame interface {
	Configure(cfg FrameConfig)
	// SetNumSubsets requests n subsets and returns the number actually used.
	SetNumSubsets(n int) int
	SetUp(tmpl *volume.Density) error

	ObjectiveValue(img *volume.Density, subset int) (float64, error)
	// Gradient overwrites out with the subset gradient plus the subset
	// sensitivity, the quantity multiplicative algorithms need.
	Gradient(out, img *volume.Density, subset int) error
	Sensitivity(subset int) (*volume.Density, error)
	// AddHessianTimesInput adds the approximate subset Hessian applied to
	// in into out. The approximation assumes in is uniform.
	AddHessianTimesInput(out, in *volume.Density, subset int) error

	SubsetsAreApproximatelyBalanced() (bool, string)
	ComputeSensitivities() error
}
