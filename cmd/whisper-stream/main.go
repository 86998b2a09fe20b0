// Package main provides the whisper-stream command.
//
// Usage:
//
//	whisper-stream serve [flags]
//	whisper-stream simulate [flags] <audio_path>
//	whisper-stream version
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/skypro1111/whisper-stream/internal/config"
	"github.com/skypro1111/whisper-stream/internal/server"
)

const serviceName = "whisper-stream"

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Streaming speech recognition over Whisper backends",
	Long: `whisper-stream turns a batch Whisper backend into a real-time
transcription service. Clients stream 16 kHz mono PCM16 audio and receive
"<start_ms> <end_ms> <text>" lines as soon as the text is stable.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serviceName, server.Version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, simulateCmd, versionCmd)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the file named by --config, applies the environment and
// the flags set on cmd, then validates the result
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	applyEnv(cfg)
	applyFlags(cmd, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv fills credentials from the environment when the file has none
func applyEnv(cfg *config.Config) {
	if cfg.ASR.APIKey != "" {
		return
	}
	for _, name := range []string{"WHISPER_API_KEY", "OPENAI_API_KEY"} {
		if key := os.Getenv(name); key != "" {
			cfg.ASR.APIKey = key
			return
		}
	}
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// stdout carries transcripts in simulate mode, so logs default to stderr
	var output *os.File
	switch cfg.Output {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
