package imageio

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"dynrecon/pkg/volume"
)

// Viewer extracts 16-bit slices from a density. Values are mapped linearly
// from [0, scale] onto [0, 65535]; negative values clip to 0.
type Viewer struct {
	density *volume.Density
	scale   float64
}

// NewViewer creates a viewer scaled to the maximum of d. An all-zero or
// all-negative density gets scale 1.
func NewViewer(d *volume.Density) *Viewer {
	scale := d.Max()
	if scale <= 0 {
		scale = 1
	}
	return &Viewer{density: d, scale: scale}
}

// Scale returns the value mapped to full intensity.
func (v *Viewer) Scale() float64 { return v.scale }

func (v *Viewer) gray(z, y, x int) color.Gray16 {
	value := v.density.At(z, y, x) / v.scale
	return color.Gray16{Y: uint16(math.Round(math.Max(0, math.Min(1, value)) * 65535))}
}

// ExtractSlice extracts a 2D slice at index position (in the density's own
// index range) perpendicular to axis.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	r := v.density.Grid.Range
	nz, ny, nx := r.Dims()

	var img *image.Gray16
	switch axis {
	case "x", "X":
		if position < r.MinX || position > r.MaxX {
			return nil, fmt.Errorf("position %d outside x range [%d, %d]", position, r.MinX, r.MaxX)
		}
		img = image.NewGray16(image.Rect(0, 0, nz, ny))
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				img.SetGray16(z, y, v.gray(r.MinZ+z, r.MinY+y, position))
			}
		}

	case "y", "Y":
		if position < r.MinY || position > r.MaxY {
			return nil, fmt.Errorf("position %d outside y range [%d, %d]", position, r.MinY, r.MaxY)
		}
		img = image.NewGray16(image.Rect(0, 0, nx, nz))
		for z := 0; z < nz; z++ {
			for x := 0; x < nx; x++ {
				img.SetGray16(x, z, v.gray(r.MinZ+z, position, r.MinX+x))
			}
		}

	case "z", "Z":
		if position < r.MinZ || position > r.MaxZ {
			return nil, fmt.Errorf("position %d outside z range [%d, %d]", position, r.MinZ, r.MaxZ)
		}
		img = image.NewGray16(image.Rect(0, 0, nx, ny))
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				img.SetGray16(x, y, v.gray(position, r.MinY+y, r.MinX+x))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	r := v.density.Grid.Range
	var minPos, maxPos int
	switch axis {
	case "x", "X":
		minPos, maxPos = r.MinX, r.MaxX
	case "y", "Y":
		minPos, maxPos = r.MinY, r.MaxY
	case "z", "Z":
		minPos, maxPos = r.MinZ, r.MaxZ
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := minPos; pos <= maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos-minPos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
