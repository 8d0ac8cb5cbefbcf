package filter

import (
	"math"
	"sync"

	"github.com/pkg/errors"

	"dynrecon/pkg/volume"
)

// fwhmToSigma converts a full width at half maximum to a standard deviation.
const fwhmToSigma = 1 / 2.3548200450309493

// GaussianParams configures a separable Gaussian filter. Widths are in mm;
// a zero width disables smoothing along that direction.
type GaussianParams struct {
	FWHMXY float64 `yaml:"fwhmXY"`
	FWHMZ  float64 `yaml:"fwhmZ"`
}

// Gaussian is a separable 3D Gaussian smoothing filter with zero padding.
type Gaussian struct {
	params GaussianParams

	mu      sync.Mutex
	grid    volume.Grid
	ready   bool
	kernels [3][]float64 // z, y, x
}

// NewGaussian validates p and returns the filter.
func NewGaussian(p GaussianParams) (*Gaussian, error) {
	if p.FWHMXY < 0 || p.FWHMZ < 0 {
		return nil, errors.Wrapf(ErrInvalidParameter, "FWHM must be non-negative, got %+v", p)
	}
	return &Gaussian{params: p}, nil
}

// SetUp builds the kernels for the grid of tmpl.
func (g *Gaussian) SetUp(tmpl *volume.Density) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.setUpLocked(tmpl.Grid)
}

func (g *Gaussian) setUpLocked(grid volume.Grid) error {
	if err := grid.Validate(); err != nil {
		return err
	}
	g.kernels[0] = gaussianKernel(g.params.FWHMZ / grid.VoxelSize.Z)
	g.kernels[1] = gaussianKernel(g.params.FWHMXY / grid.VoxelSize.Y)
	g.kernels[2] = gaussianKernel(g.params.FWHMXY / grid.VoxelSize.X)
	g.grid = grid
	g.ready = true
	return nil
}

func (g *Gaussian) kernelsFor(grid volume.Grid) ([3][]float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.ready || g.grid != grid {
		if err := g.setUpLocked(grid); err != nil {
			return [3][]float64{}, err
		}
	}
	return g.kernels, nil
}

// Apply smooths d in place.
func (g *Gaussian) Apply(d *volume.Density) error {
	k, err := g.kernelsFor(d.Grid)
	if err != nil {
		return err
	}
	nz, ny, nx := d.Grid.Range.Dims()
	plane := nx * ny

	var xs, ys, zs []int
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			xs = append(xs, z*plane+y*nx)
		}
		for x := 0; x < nx; x++ {
			ys = append(ys, z*plane+x)
		}
	}
	for i := 0; i < plane; i++ {
		zs = append(zs, i)
	}

	convolveLines(d.Data, k[2], nx, 1, xs)
	convolveLines(d.Data, k[1], ny, nx, ys)
	convolveLines(d.Data, k[0], nz, plane, zs)
	return nil
}

// convolveLines convolves, in place, every line of n elements spaced stride
// apart that begins at one of starts.
func convolveLines(data, kernel []float64, n, stride int, starts []int) {
	if len(kernel) == 1 {
		return
	}
	half := len(kernel) / 2
	line := make([]float64, n)
	for _, start := range starts {
		for i := 0; i < n; i++ {
			var s float64
			for k, w := range kernel {
				src := i + k - half
				if src < 0 || src >= n {
					continue
				}
				s += w * data[start+src*stride]
			}
			line[i] = s
		}
		for i := 0; i < n; i++ {
			data[start+i*stride] = line[i]
		}
	}
}

// gaussianKernel returns a normalised kernel for a FWHM given in voxels.
func gaussianKernel(fwhmVoxels float64) []float64 {
	sigma := fwhmVoxels * fwhmToSigma
	if sigma < 1e-3 {
		return []float64{1}
	}
	half := int(math.Ceil(3 * sigma))
	k := make([]float64, 2*half+1)
	var sum float64
	for i := range k {
		x := float64(i - half)
		k[i] = math.Exp(-0.5 * x * x / (sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}
