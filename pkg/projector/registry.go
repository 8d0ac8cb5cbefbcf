package projector

import (
	"github.com/pkg/errors"

	"dynrecon/pkg/config"
	"dynrecon/pkg/filter"
	"dynrecon/pkg/registry"
)

var (
	// Pairs holds the projector pair factories.
	Pairs = registry.New[Pair]("projector pair")
	// Forwards holds the forward projector factories.
	Forwards = registry.New[ForwardProjector]("forward projector")
	// Backs holds the back projector factories.
	Backs = registry.New[BackProjector]("back projector")
)

// SeparateParams configures a "Separate Projectors" pair.
type SeparateParams struct {
	Forward config.Block `yaml:"forward"`
	Back    config.Block `yaml:"back"`
}

// PostSmoothingParams configures a "Post Smoothing" back projector.
type PostSmoothingParams struct {
	Original config.Block `yaml:"originalBackProjector"`
	Filter   config.Block `yaml:"filter"`
}

func init() {
	Forwards.Register("Matrix", func(config.Block) (ForwardProjector, error) {
		return MatrixForward{M: NewMatrix()}, nil
	})
	Backs.Register("Matrix", func(config.Block) (BackProjector, error) {
		return MatrixBack{M: NewMatrix()}, nil
	})
	Backs.Register("Post Smoothing", func(b config.Block) (BackProjector, error) {
		var p PostSmoothingParams
		if err := b.Decode(&p); err != nil {
			return nil, err
		}
		if p.Original.IsZero() {
			return nil, errors.New("original back projector needs to be set")
		}
		inner, err := Backs.Build(p.Original)
		if err != nil {
			return nil, err
		}
		var f filter.Filter
		if !p.Filter.IsZero() {
			if f, err = filter.Registry.Build(p.Filter); err != nil {
				return nil, err
			}
		}
		return NewPostSmoothing(inner, f)
	})

	Pairs.Register("Matrix", func(config.Block) (Pair, error) {
		return NewMatrixPair(), nil
	})
	Pairs.Register("Separate Projectors", func(b config.Block) (Pair, error) {
		var p SeparateParams
		if err := b.Decode(&p); err != nil {
			return nil, err
		}
		if p.Forward.IsZero() || p.Back.IsZero() {
			return nil, errors.New("both forward and back projectors need to be set")
		}
		fp, err := Forwards.Build(p.Forward)
		if err != nil {
			return nil, err
		}
		bp, err := Backs.Build(p.Back)
		if err != nil {
			return nil, err
		}
		return NewSeparatePair(fp, bp)
	})
}
