package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skypro1111/whisper-stream/internal/config"
	"github.com/skypro1111/whisper-stream/internal/simulate"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <audio_path>",
	Short: "Replay an audio file as if it were streamed",
	Long: `Replay an audio file through the streaming engine and print every
committed segment as "<emission_ms> <start_ms> <end_ms> <text>".

Modes:
  default         real-time replay on the wall clock
  --offline       transcribe the whole file at once
  --comp_unaware  replay on a virtual clock that ignores processing time

Examples:
  whisper-stream simulate samples_jfk.wav --lan en --min-chunk-size 1
  whisper-stream simulate samples_jfk.wav --comp_unaware --start_at 5`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runSimulation(cmd, cfg, args[0])
	},
}

// simulationMode picks the timing mode from the validated configuration
func simulationMode(cfg config.SimulationConfig) simulate.Mode {
	switch {
	case cfg.Offline:
		return simulate.ModeOffline
	case cfg.CompUnaware:
		return simulate.ModeComputationUnaware
	default:
		return simulate.ModeLive
	}
}

func runSimulation(cmd *cobra.Command, cfg *config.Config, path string) error {
	logger := initLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := newBackend(cfg, logger)
	if err != nil {
		return err
	}

	duration, err := b.cache.Duration(path)
	if err != nil {
		return fmt.Errorf("failed to load audio: %w", err)
	}
	logger.Info("Audio duration", slog.String("file", path), slog.Float64("seconds", duration))

	// The replayed file itself warms the backend up
	if err := b.warmUp(ctx, path, logger); err != nil {
		return err
	}

	engine, err := b.factory.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	asrConfig := b.factory.Config()
	driver, err := simulate.NewDriver(engine, b.cache, simulate.Config{
		Mode:         simulationMode(cfg.Simulation),
		ChunkSeconds: asrConfig.ChunkSize(),
		StartAt:      cfg.Simulation.StartAt,
	}, cmd.OutOrStdout(), logger)
	if err != nil {
		return err
	}

	report, err := driver.Run(ctx, path)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	logger.Info("Simulation finished",
		slog.String("mode", report.Mode.String()),
		slog.Int("iterations", report.Iterations),
		slog.Int("faults", report.Faults),
		slog.Float64("max_latency", report.MaxLatency),
	)
	return nil
}
