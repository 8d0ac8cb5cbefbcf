package reconstruction

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"dynrecon/pkg/volume"
)

// ValidationMetrics compares a reconstruction with a known truth, one entry
// per kinetic parameter.
type ValidationMetrics struct {
	// RMSE is the root mean square voxel difference.
	RMSE []float64

	// Bias is the mean of the estimate minus the mean of the truth.
	Bias []float64

	// Correlation is the Pearson correlation between truth and estimate.
	// It is 0 when either image is constant.
	Correlation []float64
}

// Validate computes the metrics of estimate against truth.
func Validate(truth, estimate *volume.Parametric) (*ValidationMetrics, error) {
	if truth.NumParams() != estimate.NumParams() {
		return nil, errors.Wrapf(volume.ErrShapeMismatch, "%d and %d parameters", truth.NumParams(), estimate.NumParams())
	}
	if ok, why := truth.Grid.SameAs(estimate.Grid); !ok {
		return nil, errors.Wrap(volume.ErrShapeMismatch, why)
	}
	n := truth.NumParams()
	v := &ValidationMetrics{
		RMSE:        make([]float64, n),
		Bias:        make([]float64, n),
		Correlation: make([]float64, n),
	}
	for p := 1; p <= n; p++ {
		t, e := truth.Param(p).Data, estimate.Param(p).Data
		v.RMSE[p-1] = floats.Distance(t, e, 2) / math.Sqrt(float64(len(t)))
		v.Bias[p-1] = stat.Mean(e, nil) - stat.Mean(t, nil)
		v.Correlation[p-1] = correlation(t, e)
	}
	return v, nil
}

func correlation(a, b []float64) float64 {
	if stat.StdDev(a, nil) == 0 || stat.StdDev(b, nil) == 0 {
		return 0
	}
	return stat.Correlation(a, b, nil)
}
