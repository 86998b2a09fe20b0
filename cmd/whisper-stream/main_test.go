package main

import (
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/skypro1111/whisper-stream/internal/config"
	"github.com/skypro1111/whisper-stream/internal/simulate"
)

// parse resets the flag state and parses args for cmd.
func parse(t *testing.T, cmd *cobra.Command, args ...string) {
	t.Helper()
	flags = cliFlags{}
	cmd.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}
}

func TestApplyFlagsOverridesOnlySetValues(t *testing.T) {
	parse(t, serveCmd, "--port", "43001", "--lan", "de", "--vac", "--log-level", "WARNING")

	cfg := config.Default()
	cfg.ASR.Model = "from-file"
	applyFlags(serveCmd, cfg)

	if cfg.Server.Port != 43001 {
		t.Errorf("Expected port 43001, got %d", cfg.Server.Port)
	}
	if cfg.ASR.Language != "de" {
		t.Errorf("Expected language de, got %s", cfg.ASR.Language)
	}
	if !cfg.ASR.VAC {
		t.Error("Expected VAC to be enabled")
	}
	if cfg.ASR.Model != "from-file" {
		t.Errorf("Expected file value to survive, got %s", cfg.ASR.Model)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected valid configuration, got %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected normalized level warn, got %s", cfg.Logging.Level)
	}
}

func TestConflictingSimulationModes(t *testing.T) {
	parse(t, simulateCmd, "--offline", "--comp_unaware")

	cfg := config.Default()
	applyFlags(simulateCmd, cfg)

	if err := cfg.Validate(); !errors.Is(err, config.ErrConflictingModes) {
		t.Errorf("Expected ErrConflictingModes, got %v", err)
	}
}

func TestSimulationMode(t *testing.T) {
	tests := []struct {
		cfg      config.SimulationConfig
		expected simulate.Mode
	}{
		{config.SimulationConfig{}, simulate.ModeLive},
		{config.SimulationConfig{Offline: true}, simulate.ModeOffline},
		{config.SimulationConfig{CompUnaware: true}, simulate.ModeComputationUnaware},
	}

	for _, tt := range tests {
		if got := simulationMode(tt.cfg); got != tt.expected {
			t.Errorf("Expected %s, got %s", tt.expected, got)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("WHISPER_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg := config.Default()
	applyEnv(cfg)
	if cfg.ASR.APIKey != "sk-env" {
		t.Errorf("Expected key from environment, got %q", cfg.ASR.APIKey)
	}

	cfg.ASR.APIKey = "sk-file"
	applyEnv(cfg)
	if cfg.ASR.APIKey != "sk-file" {
		t.Errorf("Expected file key to win, got %q", cfg.ASR.APIKey)
	}
}
