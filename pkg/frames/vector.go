package frames

import "fmt"

// Vector is a dense vector whose valid indices are [Min(), Max()].
// It is used for per-frame state that starts at an arbitrary frame number
// (usually the kinetic model's starting frame) so callers never shift indices
// by hand.
type Vector[T any] struct {
	min   int
	items []T
}

// NewVector returns a vector covering [min, max] filled with zero values.
// An empty vector is returned when max < min.
func NewVector[T any](min, max int) *Vector[T] {
	n := max - min + 1
	if n < 0 {
		n = 0
	}
	return &Vector[T]{min: min, items: make([]T, n)}
}

// Min returns the first valid index.
func (v *Vector[T]) Min() int { return v.min }

// Max returns the last valid index.
func (v *Vector[T]) Max() int { return v.min + len(v.items) - 1 }

// Len returns the number of elements.
func (v *Vector[T]) Len() int { return len(v.items) }

// Has reports whether i is a valid index.
func (v *Vector[T]) Has(i int) bool { return i >= v.min && i <= v.Max() }

// At returns the element at index i.
func (v *Vector[T]) At(i int) T {
	v.check(i)
	return v.items[i-v.min]
}

// Set stores x at index i.
func (v *Vector[T]) Set(i int, x T) {
	v.check(i)
	v.items[i-v.min] = x
}

// Indices returns every valid index in increasing order.
func (v *Vector[T]) Indices() []int {
	out := make([]int, len(v.items))
	for k := range out {
		out[k] = v.min + k
	}
	return out
}

// Each calls fn for every index in increasing order.
func (v *Vector[T]) Each(fn func(i int, x T)) {
	for k, x := range v.items {
		fn(v.min+k, x)
	}
}

func (v *Vector[T]) check(i int) {
	if !v.Has(i) {
		panic(fmt.Sprintf("frames: index %d outside [%d, %d]", i, v.min, v.Max()))
	}
}
