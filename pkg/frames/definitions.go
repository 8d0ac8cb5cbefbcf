// Package frames describes the time frames of a dynamic acquisition and
// provides a vector type indexed by frame number.
package frames

import (
	"github.com/pkg/errors"
)

// ErrNoFrames is returned when a definition has no frames at all.
var ErrNoFrames = errors.New("frames: no time frames defined")

// ErrFrameOutOfRange is returned when a frame number lies outside [1, NumFrames].
var ErrFrameOutOfRange = errors.New("frames: frame number out of range")

// Frame is a single acquisition interval in seconds.
type Frame struct {
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
}

// Definitions holds the start and end times of every frame of a dynamic
// acquisition. Frame numbers are 1-based.
type Definitions struct {
	frames []Frame
}

// NewDefinitions validates the given frames and returns the definitions.
// Frames must have positive duration and must not overlap.
func NewDefinitions(fs []Frame) (*Definitions, error) {
	if len(fs) == 0 {
		return nil, ErrNoFrames
	}
	for i, f := range fs {
		if f.End <= f.Start {
			return nil, errors.Errorf("frames: frame %d has non-positive duration (%g..%g)", i+1, f.Start, f.End)
		}
		if i > 0 && f.Start < fs[i-1].End {
			return nil, errors.Errorf("frames: frame %d starts before frame %d ends", i+1, i)
		}
	}
	cp := make([]Frame, len(fs))
	copy(cp, fs)
	return &Definitions{frames: cp}, nil
}

// Uniform builds n consecutive frames of equal duration starting at start.
func Uniform(n int, start, duration float64) (*Definitions, error) {
	fs := make([]Frame, n)
	for i := range fs {
		fs[i] = Frame{Start: start + float64(i)*duration, End: start + float64(i+1)*duration}
	}
	return NewDefinitions(fs)
}

// NumFrames returns the number of frames.
func (d *Definitions) NumFrames() int { return len(d.frames) }

// Contains reports whether frame lies in [1, NumFrames].
func (d *Definitions) Contains(frame int) bool {
	return frame >= 1 && frame <= len(d.frames)
}

// Frame returns the interval of the given 1-based frame number.
func (d *Definitions) Frame(frame int) (Frame, error) {
	if !d.Contains(frame) {
		return Frame{}, errors.Wrapf(ErrFrameOutOfRange, "frame %d of %d", frame, len(d.frames))
	}
	return d.frames[frame-1], nil
}

// Start returns the start time of frame. It panics on an invalid frame number.
func (d *Definitions) Start(frame int) float64 { return d.mustFrame(frame).Start }

// End returns the end time of frame. It panics on an invalid frame number.
func (d *Definitions) End(frame int) float64 { return d.mustFrame(frame).End }

// Duration returns End-Start of frame.
func (d *Definitions) Duration(frame int) float64 {
	f := d.mustFrame(frame)
	return f.End - f.Start
}

// Midpoint returns the centre of frame.
func (d *Definitions) Midpoint(frame int) float64 {
	f := d.mustFrame(frame)
	return 0.5 * (f.Start + f.End)
}

// Frames returns a copy of all intervals in frame order.
func (d *Definitions) Frames() []Frame {
	cp := make([]Frame, len(d.frames))
	copy(cp, d.frames)
	return cp
}

func (d *Definitions) mustFrame(frame int) Frame {
	f, err := d.Frame(frame)
	if err != nil {
		panic(err)
	}
	return f
}
