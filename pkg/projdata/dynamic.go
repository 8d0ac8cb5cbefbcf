package projdata

import (
	"sync"

	"github.com/pkg/errors"

	"dynrecon/pkg/frames"
)

// ErrNotFound is returned by a Loader for unknown names.
var ErrNotFound = errors.New("projdata: data set not found")

// Dynamic is a time series of projection data, one per frame of its
// time-frame definitions. Frame numbers are 1-based.
type Dynamic struct {
	defs *frames.Definitions
	data *frames.Vector[*ProjData]
}

// NewDynamic builds a dynamic data set; perFrame[i] holds frame i+1. All
// frames must share the same sinogram shape.
func NewDynamic(defs *frames.Definitions, perFrame []*ProjData) (*Dynamic, error) {
	if defs == nil {
		return nil, frames.ErrNoFrames
	}
	if len(perFrame) != defs.NumFrames() {
		return nil, errors.Errorf("projdata: %d frames of data for %d time frames", len(perFrame), defs.NumFrames())
	}
	d := &Dynamic{defs: defs, data: frames.NewVector[*ProjData](1, len(perFrame))}
	for i, p := range perFrame {
		if p == nil {
			return nil, errors.Errorf("projdata: frame %d has no data", i+1)
		}
		if ok, why := p.Geometry().SameAs(perFrame[0].Geometry()); !ok {
			return nil, errors.Errorf("projdata: frame %d: %s", i+1, why)
		}
		d.data.Set(i+1, p)
	}
	return d, nil
}

// TimeFrames returns the time-frame definitions.
func (d *Dynamic) TimeFrames() *frames.Definitions { return d.defs }

// NumFrames returns the number of frames.
func (d *Dynamic) NumFrames() int { return d.data.Len() }

// Frame returns the projection data of frame f (1-based).
func (d *Dynamic) Frame(f int) (*ProjData, error) {
	if !d.data.Has(f) {
		return nil, errors.Wrapf(frames.ErrFrameOutOfRange, "frame %d of %d", f, d.data.Len())
	}
	return d.data.At(f), nil
}

// Geometry returns the geometry of the first frame.
func (d *Dynamic) Geometry() *Geometry { return d.data.At(1).Geometry() }

// Loader resolves a configured data set name to dynamic projection data.
type Loader interface {
	Load(name string) (*Dynamic, error)
}

// MemoryStore is a Loader backed by an in-memory map. It is safe for
// concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	sets map[string]*Dynamic
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sets: make(map[string]*Dynamic)}
}

// Put registers d under name, replacing any previous entry.
func (m *MemoryStore) Put(name string, d *Dynamic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[name] = d
}

// Load implements Loader.
func (m *MemoryStore) Load(name string) (*Dynamic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.sets[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%q", name)
	}
	return d, nil
}
