package filter

import (
	"math"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/dsp/fourier"

	"dynrecon/pkg/volume"
)

// LowPassParams configures an in-plane Butterworth low-pass filter.
// Cutoff is in cycles per voxel, in (0, 0.5].
type LowPassParams struct {
	Cutoff float64 `yaml:"cutoff"`
	Order  int     `yaml:"order"`
}

// FourierLowPass filters every transaxial plane in the frequency domain.
type FourierLowPass struct {
	params LowPassParams

	mu       sync.Mutex
	ny, nx   int
	response []float64 // ny*nx, row-major
}

// NewFourierLowPass validates p and returns the filter.
func NewFourierLowPass(p LowPassParams) (*FourierLowPass, error) {
	if p.Cutoff <= 0 || p.Cutoff > 0.5 {
		return nil, errors.Wrapf(ErrInvalidParameter, "cutoff %g outside (0, 0.5]", p.Cutoff)
	}
	if p.Order < 1 {
		return nil, errors.Wrapf(ErrInvalidParameter, "order %d must be at least 1", p.Order)
	}
	return &FourierLowPass{params: p}, nil
}

// SetUp precomputes the frequency response for the plane size of tmpl.
func (f *FourierLowPass) SetUp(tmpl *volume.Density) error {
	_, ny, nx := tmpl.Grid.Range.Dims()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setUpLocked(ny, nx)
	return nil
}

func (f *FourierLowPass) setUpLocked(ny, nx int) {
	f.ny, f.nx = ny, nx
	f.response = make([]float64, ny*nx)
	for i := 0; i < ny; i++ {
		fy := foldedFrequency(i, ny)
		for j := 0; j < nx; j++ {
			fx := foldedFrequency(j, nx)
			r := math.Sqrt(fx*fx+fy*fy) / f.params.Cutoff
			f.response[i*nx+j] = 1 / (1 + math.Pow(r, float64(2*f.params.Order)))
		}
	}
}

func (f *FourierLowPass) responseFor(ny, nx int) []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.response == nil || f.ny != ny || f.nx != nx {
		f.setUpLocked(ny, nx)
	}
	return f.response
}

// Apply filters d in place, plane by plane.
func (f *FourierLowPass) Apply(d *volume.Density) error {
	nz, ny, nx := d.Grid.Range.Dims()
	h := f.responseFor(ny, nx)

	rowFFT := fourier.NewCmplxFFT(nx)
	colFFT := fourier.NewCmplxFFT(ny)
	plane := make([]complex128, ny*nx)
	row := make([]complex128, nx)
	col := make([]complex128, ny)

	for z := 0; z < nz; z++ {
		data := d.Data[z*ny*nx : (z+1)*ny*nx]
		for i, v := range data {
			plane[i] = complex(v, 0)
		}

		fft2D(plane, ny, nx, row, col, rowFFT.Coefficients, colFFT.Coefficients)
		for i := range plane {
			plane[i] *= complex(h[i], 0)
		}
		fft2D(plane, ny, nx, row, col, rowFFT.Sequence, colFFT.Sequence)

		// Sequence is unnormalised
		scale := 1 / float64(ny*nx)
		for i := range data {
			data[i] = real(plane[i]) * scale
		}
	}
	return nil
}

// fft2D transforms a row-major ny*nx plane in place: rows first, then columns.
func fft2D(plane []complex128, ny, nx int, row, col []complex128, rowT, colT func(dst, src []complex128) []complex128) {
	for i := 0; i < ny; i++ {
		copy(row, plane[i*nx:(i+1)*nx])
		rowT(plane[i*nx:(i+1)*nx], row)
	}
	for j := 0; j < nx; j++ {
		for i := 0; i < ny; i++ {
			col[i] = plane[i*nx+j]
		}
		out := colT(nil, col)
		for i := 0; i < ny; i++ {
			plane[i*nx+j] = out[i]
		}
	}
}

// foldedFrequency maps DFT index k of an n-point transform to cycles per sample.
func foldedFrequency(k, n int) float64 {
	if k > n/2 {
		k -= n
	}
	return float64(k) / float64(n)
}
