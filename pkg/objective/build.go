package objective

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"dynrecon/pkg/config"
	"dynrecon/pkg/imageio"
	"dynrecon/pkg/kinetic"
	"dynrecon/pkg/metrics"
	"dynrecon/pkg/normalisation"
	"dynrecon/pkg/projdata"
	"dynrecon/pkg/projector"
)

// FromConfig builds an objective from cfg, selecting the projector pair,
// normalisation and kinetic model by their type tags. m may be nil.
func FromConfig(cfg *config.Config, loader projdata.Loader, log zerolog.Logger, m *metrics.Metrics) (*DynamicKinetic, error) {
	pair, err := projector.Pairs.Build(cfg.ProjectorPair)
	if err != nil {
		return nil, errors.Wrap(ErrConfig, err.Error())
	}
	norm, err := normalisation.Registry.Build(cfg.Normalisation)
	if err != nil {
		return nil, errors.Wrap(ErrConfig, err.Error())
	}
	model, err := kinetic.Registry.Build(cfg.KineticModel)
	if err != nil {
		return nil, errors.Wrap(ErrConfig, err.Error())
	}

	o := NewDynamicKinetic()
	o.SetParams(cfg.Objective)
	o.SetLoader(loader)
	o.SetProjectorPair(pair)
	o.SetNormalisation(norm)
	o.SetKineticModel(model)
	o.SetWriter(imageio.NewPNGWriter(cfg.Reconstruction.OutputDir))
	o.SetMetrics(m)
	o.SetLogger(log)
	return o, nil
}
