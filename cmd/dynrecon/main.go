package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"dynrecon/internal/phantom"
	"dynrecon/pkg/config"
	"dynrecon/pkg/imageio"
	"dynrecon/pkg/kinetic"
	"dynrecon/pkg/logging"
	"dynrecon/pkg/metrics"
	"dynrecon/pkg/objective"
	"dynrecon/pkg/projdata"
	"dynrecon/pkg/projector"
	"dynrecon/pkg/reconstruction"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "", "YAML configuration file (defaults when empty)")
	initConfig := flag.String("init-config", "", "Write the default configuration to this file and exit")
	numCores := flag.Int("cores", 0, "Number of workers to use (0 keeps the configured value)")
	outputDir := flag.String("output", "", "Output directory (overrides reconstruction.outputDir)")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	extractSlices := flag.Bool("extract-slices", false, "Save the result as slices along all axes")
	flag.Parse()

	if *initConfig != "" {
		if err := config.CreateDefaultConfigFile(*initConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write default config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Default configuration written to %s\n", *initConfig)
		return
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *numCores > 0 {
		cfg.Objective.NumWorkers = *numCores
	}
	if *outputDir != "" {
		cfg.Reconstruction.OutputDir = *outputDir
	}
	if *metricsAddr != "" {
		cfg.Output.MetricsAddr = *metricsAddr
	}

	level, err := logging.ParseLevel(cfg.Output.LogLevel, cfg.Output.Verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	log := logging.Console(level)

	m := metrics.New()
	if cfg.Output.MetricsAddr != "" {
		go func() {
			if err := m.StartServer(cfg.Output.MetricsAddr); err != nil {
				log.Error().Err(err).Str("addr", cfg.Output.MetricsAddr).Msg("metrics server stopped")
			}
		}()
		log.Info().Str("addr", cfg.Output.MetricsAddr).Msg("serving metrics")
	}

	if err := run(cfg, log, m, *extractSlices); err != nil {
		log.Fatal().Err(err).Bool("fatal", objective.IsFatal(err)).Msg("reconstruction failed")
	}
}

func run(cfg *config.Config, log zerolog.Logger, m *metrics.Metrics, extractSlices bool) error {
	fmt.Println("================================")
	fmt.Println("DYNAMIC PARAMETRIC RECONSTRUCTION (PATLAK)")
	fmt.Println("================================")

	// Simulate the study described by the configuration
	simLog := logging.Component(log, "phantom")
	sim := cfg.Simulation
	model, err := kinetic.Registry.Build(cfg.KineticModel)
	if err != nil {
		return err
	}
	truth := phantom.Cylinders(phantom.DefaultGrid(&sim.Geometry), sim.Phantom)
	study, err := phantom.Simulate(sim, truth, model, projector.NewMatrixPair())
	if err != nil {
		return err
	}
	store := projdata.NewMemoryStore()
	cfg.Objective.InputFile = sim.Name
	cfg.Objective.AdditiveFile = study.Store(store, sim.Name)
	simLog.Info().
		Str("study", sim.Name).
		Int("frames", study.Frames.NumFrames()).
		Bool("noise", sim.Noise).
		Msg("study simulated")

	// Set up the parametric objective
	o, err := objective.FromConfig(cfg, store, logging.Component(log, "objective"), m)
	if err != nil {
		return err
	}
	target, err := o.ConstructTarget()
	if err != nil {
		return err
	}
	if err := o.SetUp(target); err != nil {
		return err
	}

	// Reconstruct
	r := reconstruction.NewReconstructor(reconstruction.ParamsFromConfig(cfg.Reconstruction), o)
	r.SetLogger(log)
	r.SetMetrics(m)
	if ok, why := truth.Grid.SameAs(target.Grid); ok {
		r.SetTruth(truth)
	} else {
		log.Warn().Str("reason", why).Msg("target differs from phantom grid; skipping validation")
	}

	initial := target.Clone()
	initial.Fill(1)
	startTime := time.Now()
	result, err := r.Process(initial)
	if err != nil {
		return err
	}
	processingTime := time.Since(startTime)

	if err := r.WriteResult("parametric"); err != nil {
		return err
	}
	fmt.Printf("\nReconstruction completed successfully in %.2f seconds!\n", processingTime.Seconds())
	fmt.Printf("Output written to: %s\n", r.RunDir())

	if v := r.GetMetrics(); v != nil {
		fmt.Printf("\nValidation Metrics:\n")
		fmt.Printf("=======================================\n")
		for i := range v.RMSE {
			fmt.Printf("Parameter %d: RMSE %.6f  bias %.6f  correlation %.3f\n", i+1, v.RMSE[i], v.Bias[i], v.Correlation[i])
		}
	}
	if h := r.GetHistory(); len(h) > 0 {
		fmt.Printf("Final objective value: %.6g\n", h[len(h)-1])
	}

	// Extract and save slices if requested
	if extractSlices {
		fmt.Println("\nExtracting reconstructed slices along all axes...")
		for p := 1; p <= result.NumParams(); p++ {
			viewer := imageio.NewViewer(result.Param(p))
			for _, axis := range []string{"x", "y", "z"} {
				axisDir := filepath.Join(r.RunDir(), "slices", fmt.Sprintf("param%d", p), axis)
				if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
					log.Warn().Err(err).Str("axis", axis).Int("param", p).Msg("failed to save slices")
				}
			}
		}
		fmt.Println("Slice extraction completed!")
	}
	return nil
}
