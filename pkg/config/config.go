// Package config provides configuration loading and management for dynrecon.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"dynrecon/pkg/frames"
	"dynrecon/pkg/projdata"
)

// Objective holds the parameters of the dynamic kinetic objective function.
type Objective struct {
	// InputFile names the dynamic projection data set.
	InputFile string `yaml:"inputFile"`

	// AdditiveFile names the additive (scatter + randoms) data set; "0" disables it.
	AdditiveFile string `yaml:"additiveSinograms"`

	// MaxSegmentNumToProcess bounds the oblique segments used; -1 uses every segment.
	MaxSegmentNumToProcess int `yaml:"maxSegmentNumToProcess"`

	// ZeroSeg0EndPlanes discards the first and last plane of segment 0.
	ZeroSeg0EndPlanes bool `yaml:"zeroEndPlanesOfSegment0"`

	// Output image size in voxels; -1 derives it from the projection data.
	OutputImageSizeXY int `yaml:"outputImageSizeXY"`
	OutputImageSizeZ  int `yaml:"outputImageSizeZ"`

	Zoom    float64 `yaml:"zoom"`
	XOffset float64 `yaml:"xOffset"`
	YOffset float64 `yaml:"yOffset"`
	ZOffset float64 `yaml:"zOffset"`

	NumSubsets int `yaml:"numSubsets"`

	// RecomputeSensitivity computes every frame's sensitivity during set-up.
	RecomputeSensitivity bool `yaml:"recomputeSensitivity"`

	// SensitivityFile, if set, receives the sensitivity image after set-up.
	SensitivityFile string `yaml:"sensitivityFile"`

	// WriteAllSubsetSensitivities writes one sensitivity file per subset
	// instead of only the first.
	WriteAllSubsetSensitivities bool `yaml:"writeAllSubsetSensitivities"`

	// NumWorkers bounds the number of frames evaluated concurrently.
	NumWorkers int `yaml:"numWorkers"`
}

// Reconstruction holds the parameters of the iterative algorithm.
type Reconstruction struct {
	NumIterations int     `yaml:"numIterations"`
	Relaxation    float64 `yaml:"relaxation"`

	// SaveIntermediaryResults writes the estimate after every iteration.
	SaveIntermediaryResults bool   `yaml:"saveIntermediaryResults"`
	OutputDir               string `yaml:"outputDir"`
}

// Phantom describes the synthetic parametric object used by the simulator.
type Phantom struct {
	Radius    float64 `yaml:"radius"`
	HotRadius float64 `yaml:"hotRadius"`
	Ki        float64 `yaml:"ki"`
	V         float64 `yaml:"v"`
	HotKi     float64 `yaml:"hotKi"`
	HotV      float64 `yaml:"hotV"`
}

// Simulation configures the synthetic study generated by the CLI.
type Simulation struct {
	Name       string            `yaml:"name"`
	Geometry   projdata.Geometry `yaml:"geometry"`
	Frames     []frames.Frame    `yaml:"frames"`
	Phantom    Phantom           `yaml:"phantom"`
	Background float64           `yaml:"background"`
	Noise      bool              `yaml:"noise"`
	Seed       uint64            `yaml:"seed"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	Objective      Objective      `yaml:"objective"`
	ProjectorPair  Block          `yaml:"projectorPair"`
	Normalisation  Block          `yaml:"normalisation"`
	KineticModel   Block          `yaml:"kineticModel"`
	Reconstruction Reconstruction `yaml:"reconstruction"`
	Simulation     Simulation     `yaml:"simulation"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// LogLevel is a zerolog level name; it overrides Verbose when set.
		LogLevel string `yaml:"logLevel"`

		// MetricsAddr, if set, serves Prometheus metrics on this address.
		MetricsAddr string `yaml:"metricsAddr"`
	} `yaml:"output"`
}

// DefaultObjective returns the objective defaults.
func DefaultObjective() Objective {
	return Objective{
		InputFile:              "",
		AdditiveFile:           "0",
		MaxSegmentNumToProcess: 0,
		OutputImageSizeXY:      -1,
		OutputImageSizeZ:       -1,
		Zoom:                   1,
		NumSubsets:             1,
		RecomputeSensitivity:   true,
		NumWorkers:             runtime.NumCPU(),
	}
}

// DefaultProjectorPair is a pair of separately configured ray-driven
// matrix projectors.
func DefaultProjectorPair() Block {
	return MustBlock("Separate Projectors", map[string]interface{}{
		"forward": map[string]interface{}{"type": "Matrix"},
		"back":    map[string]interface{}{"type": "Matrix"},
	})
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Objective = DefaultObjective()
	cfg.Objective.InputFile = "simulated"
	cfg.ProjectorPair = DefaultProjectorPair()
	cfg.Normalisation = Block{Type: "None"}
	cfg.KineticModel = MustBlock("Patlak Plot", map[string]interface{}{
		"startingFrame": 3,
		"plasma": map[string]interface{}{
			"times":    []float64{0, 30, 60, 120, 300, 600, 1200, 2400, 3600},
			"activity": []float64{0, 80, 40, 20, 10, 6, 4, 3, 2.5},
		},
	})

	cfg.Reconstruction.NumIterations = 5
	cfg.Reconstruction.Relaxation = 1
	cfg.Reconstruction.OutputDir = "output"

	cfg.Simulation.Name = "simulated"
	cfg.Simulation.Geometry = projdata.Geometry{
		Scanner:       "synthetic",
		NumViews:      24,
		NumTangential: 33,
		NumAxialSeg0:  5,
		MinSegment:    -1,
		MaxSegment:    1,
		BinSize:       4,
		PlaneSpacing:  4,
	}
	cfg.Simulation.Frames = []frames.Frame{
		{Start: 0, End: 300}, {Start: 300, End: 600}, {Start: 600, End: 1200},
		{Start: 1200, End: 2400}, {Start: 2400, End: 3600},
	}
	cfg.Simulation.Phantom = Phantom{Radius: 48, HotRadius: 16, Ki: 0.01, V: 0.3, HotKi: 0.04, HotV: 0.5}
	cfg.Simulation.Background = 0.1
	cfg.Simulation.Seed = 1

	cfg.Output.Verbose = true
	cfg.Output.LogLevel = "info"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
