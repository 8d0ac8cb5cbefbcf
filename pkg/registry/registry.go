// Package registry maps configuration type tags to factories, so plug-in
// implementations (projectors, filters, normalisations, kinetic models) are
// selected by name at configuration time.
package registry

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"dynrecon/pkg/config"
)

// ErrUnknownType is returned when no factory is registered for a tag.
var ErrUnknownType = errors.New("registry: unknown type")

// ErrNoType is returned when a block has no type tag.
var ErrNoType = errors.New("registry: no type given")

// Factory builds an implementation from its configuration block.
type Factory[T any] func(b config.Block) (T, error)

// Registry holds the factories of one capability.
type Registry[T any] struct {
	kind      string
	mu        sync.RWMutex
	factories map[string]Factory[T]
}

// New returns an empty registry; kind names the capability in errors.
func New[T any](kind string) *Registry[T] {
	return &Registry[T]{kind: kind, factories: make(map[string]Factory[T])}
}

// Register adds a factory. Registering the same tag twice panics.
func (r *Registry[T]) Register(tag string, f Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[tag]; dup {
		panic("registry: duplicate " + r.kind + " type " + tag)
	}
	r.factories[tag] = f
}

// Build constructs the implementation selected by b.Type.
func (r *Registry[T]) Build(b config.Block) (T, error) {
	var zero T
	if b.IsZero() {
		return zero, errors.Wrap(ErrNoType, r.kind)
	}
	r.mu.RLock()
	f, ok := r.factories[b.Type]
	r.mu.RUnlock()
	if !ok {
		return zero, errors.Wrapf(ErrUnknownType, "%s %q (known: %v)", r.kind, b.Type, r.Tags())
	}
	v, err := f(b)
	if err != nil {
		return zero, errors.Wrapf(err, "building %s %q", r.kind, b.Type)
	}
	return v, nil
}

// Tags lists the registered tags in sorted order.
func (r *Registry[T]) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.factories))
	for t := range r.factories {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
