package registry

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynrecon/pkg/config"
)

type shape interface{ Area() float64 }

type square struct {
	Side float64 `yaml:"side"`
}

func (s square) Area() float64 { return s.Side * s.Side }

func newTestRegistry() *Registry[shape] {
	r := New[shape]("shape")
	r.Register("square", func(b config.Block) (shape, error) {
		s := square{Side: 1}
		if err := b.Decode(&s); err != nil {
			return nil, err
		}
		if s.Side <= 0 {
			return nil, errors.New("side must be positive")
		}
		return s, nil
	})
	return r
}

func TestBuild(t *testing.T) {
	r := newTestRegistry()

	s, err := r.Build(config.MustBlock("square", map[string]interface{}{"side": 3}))
	require.NoError(t, err)
	assert.Equal(t, 9.0, s.Area())

	s, err = r.Build(config.Block{Type: "square"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.Area())
}

func TestBuildErrors(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Build(config.Block{})
	assert.True(t, errors.Is(err, ErrNoType))

	_, err = r.Build(config.Block{Type: "circle"})
	assert.True(t, errors.Is(err, ErrUnknownType))

	_, err = r.Build(config.MustBlock("square", map[string]interface{}{"side": -1}))
	assert.Error(t, err)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	r := newTestRegistry()
	assert.Equal(t, []string{"square"}, r.Tags())
	assert.Panics(t, func() {
		r.Register("square", func(config.Block) (shape, error) { return square{}, nil })
	})
}
