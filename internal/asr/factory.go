package asr

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/whisper-stream/internal/audio"
)

// NewTranscriber builds the backend named by cfg.Backend and applies the
// VAD and task toggles.
func NewTranscriber(cfg Config, logger *slog.Logger) (Transcriber, error) {
	var (
		transcriber Transcriber
		err         error
	)

	switch cfg.Backend {
	case BackendFasterWhisper:
		transcriber, err = NewWhisperClient(cfg, logger)
	case BackendOpenAI:
		transcriber, err = NewOpenAIClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s backend: %w", cfg.Backend, err)
	}

	if cfg.UseVAD {
		logger.Info("Setting VAD filter", slog.String("backend", cfg.Backend))
		transcriber.UseVAD()
	}

	if cfg.Task == TaskTranslate {
		transcriber.SetTranslateTask()
	}

	return transcriber, nil
}

// Factory creates a fresh Engine for every session over a shared Transcriber
type Factory struct {
	config      Config
	transcriber Transcriber
	logger      *slog.Logger
}

// NewFactory creates an engine factory.
func NewFactory(cfg Config, transcriber Transcriber, logger *slog.Logger) *Factory {
	return &Factory{config: cfg, transcriber: transcriber, logger: logger}
}

// NewEngine returns an OnlineProcessor, wrapped in a VACProcessor when VAC
// is enabled.
func (f *Factory) NewEngine() (Engine, error) {
	online := NewOnlineProcessor(f.transcriber, f.config.BufferTrimming, f.config.BufferTrimmingSec, f.logger)
	if !f.config.VAC {
		return online, nil
	}
	return NewVACProcessor(online, f.config.MinChunkSize, f.logger)
}

// Transcriber returns the shared batch backend.
func (f *Factory) Transcriber() Transcriber {
	return f.transcriber
}

// Config returns the configuration engines are built with.
func (f *Factory) Config() Config {
	return f.config
}

// WarmUp transcribes the first second of the file at path, since the first
// request to a backend is much slower than the following ones.
func WarmUp(ctx context.Context, transcriber Transcriber, cache *audio.Cache, path string, logger *slog.Logger) error {
	clip, err := cache.LoadRange(path, 0, 1)
	if err != nil {
		return fmt.Errorf("failed to load warm-up file: %w", err)
	}

	start := time.Now()
	if _, err := transcriber.Transcribe(ctx, clip, ""); err != nil {
		return fmt.Errorf("warm-up transcription failed: %w", err)
	}

	logger.Info("Backend warmed up",
		slog.String("file", path),
		slog.Duration("took", time.Since(start)))
	return nil
}
