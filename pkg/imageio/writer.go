// Package imageio persists densities and parametric images as 16-bit PNG
// slice sequences with a YAML header recording the grid and intensity scale.
package imageio

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"dynrecon/pkg/volume"
)

// Writer persists images under a name.
type Writer interface {
	WriteDensity(name string, d *volume.Density) error
	WriteParametric(name string, p *volume.Parametric) error
}

// Header describes a written density.
type Header struct {
	Name      string       `yaml:"name"`
	Range     volume.Range `yaml:"range"`
	VoxelSize volume.Vec3  `yaml:"voxelSize"`
	Origin    volume.Vec3  `yaml:"origin"`
	// Scale is the value stored as 65535.
	Scale  float64 `yaml:"scale"`
	Slices int     `yaml:"slices"`
}

// PNGWriter writes each density as a directory of axial PNG slices next to
// a header file. Relative names are resolved against Dir.
type PNGWriter struct {
	Dir string
}

// NewPNGWriter returns a writer rooted at dir.
func NewPNGWriter(dir string) *PNGWriter { return &PNGWriter{Dir: dir} }

func (w *PNGWriter) path(name string) string {
	if filepath.IsAbs(name) || w.Dir == "" {
		return name
	}
	return filepath.Join(w.Dir, name)
}

// WriteDensity writes d to <name>/slice_z_NNN.png and <name>.yaml.
func (w *PNGWriter) WriteDensity(name string, d *volume.Density) error {
	base := w.path(name)
	if err := os.MkdirAll(filepath.Dir(base), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	v := NewViewer(d)
	if err := v.SaveSliceSequence("z", base); err != nil {
		return fmt.Errorf("error writing slices of %s: %w", name, err)
	}
	nz, _, _ := d.Grid.Range.Dims()
	h := Header{
		Name:      filepath.Base(name),
		Range:     d.Grid.Range,
		VoxelSize: d.Grid.VoxelSize,
		Origin:    d.Grid.Origin,
		Scale:     v.Scale(),
		Slices:    nz,
	}
	data, err := yaml.Marshal(h)
	if err != nil {
		return fmt.Errorf("error marshaling header: %w", err)
	}
	if err := os.WriteFile(base+".yaml", data, 0644); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	return nil
}

// WriteParametric writes each parameter image as <name>_param<i>.
func (w *PNGWriter) WriteParametric(name string, p *volume.Parametric) error {
	for i := 1; i <= p.NumParams(); i++ {
		if err := w.WriteDensity(fmt.Sprintf("%s_param%d", name, i), p.Param(i)); err != nil {
			return err
		}
	}
	return nil
}

// ReadHeader loads the header written for name.
func (w *PNGWriter) ReadHeader(name string) (*Header, error) {
	data, err := os.ReadFile(w.path(name) + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("error reading header: %w", err)
	}
	var h Header
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("error parsing header: %w", err)
	}
	return &h, nil
}
