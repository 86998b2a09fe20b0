package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/skypro1111/whisper-stream/internal/asr"
	"github.com/skypro1111/whisper-stream/internal/audio"
	"github.com/skypro1111/whisper-stream/internal/config"
	"github.com/skypro1111/whisper-stream/internal/metrics"
	"github.com/skypro1111/whisper-stream/internal/server"
	"github.com/skypro1111/whisper-stream/internal/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the streaming transcription server",
	Long: `Run the TCP line-protocol server, the WebSocket server and the HTTP API.

Examples:
  whisper-stream serve --host 0.0.0.0 --port 43007 --lan en
  whisper-stream serve --config configs/config.yaml --vac --warmup_file samples_jfk.wav`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return runServer(cfg)
	},
}

// backend bundles the components shared by serve and simulate
type backend struct {
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	cache    *audio.Cache
	factory  *asr.Factory
}

// newBackend creates metrics, the decode cache and the engine factory
func newBackend(cfg *config.Config, logger *slog.Logger) (*backend, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)

	cache, err := audio.NewCache(cfg.Audio.CacheSize, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create decode cache: %w", err)
	}
	cache.SetObserver(appMetrics)

	asrConfig := cfg.ASR.ToASR()
	transcriber, err := asr.NewTranscriber(asrConfig, logger)
	if err != nil {
		return nil, err
	}
	transcriber = asr.WithObserver(transcriber, appMetrics)

	return &backend{
		metrics:  appMetrics,
		registry: registry,
		cache:    cache,
		factory:  asr.NewFactory(asrConfig, transcriber, logger),
	}, nil
}

// warmUp transcribes the first second of path. An unset path only logs a
// warning; a path that does not exist is an error.
func (b *backend) warmUp(ctx context.Context, path string, logger *slog.Logger) error {
	const notWarm = "Whisper is not warmed up. The first chunk processing may take longer."

	if path == "" {
		logger.Warn(notWarm)
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("the warm up file is not available: %w", err)
	}
	return asr.WarmUp(ctx, b.factory.Transcriber(), b.cache, path, logger)
}

func runServer(cfg *config.Config) error {
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", server.Version),
		slog.String("config_path", flags.configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("backend", cfg.ASR.Backend),
		slog.String("model", cfg.ASR.Model),
		slog.String("language", cfg.ASR.Language),
		slog.String("task", cfg.ASR.Task),
		slog.Bool("vac", cfg.ASR.VAC),
		slog.Float64("min_chunk_size", cfg.ASR.MinChunkSize),
		slog.String("buffer_trimming", cfg.ASR.BufferTrimming),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := newBackend(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize backend", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := b.warmUp(ctx, cfg.Server.WarmupFile, logger); err != nil {
		logger.Error("Warm-up failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	streamMgr := stream.NewManager(logger, cfg.Audio.GetSessionTimeout(), b.metrics)
	logger.Info("Session manager initialized",
		slog.Duration("session_timeout", cfg.Audio.GetSessionTimeout()),
	)

	tcpServer := server.NewTCPServer(cfg, logger, b.factory, streamMgr, b.metrics)

	var wsServer *server.WebSocketServer
	if cfg.WebSocket.Enabled {
		wsServer = server.NewWebSocketServer(cfg.WebSocket, logger, b.factory, b.metrics)
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg, logger, server.HTTPDependencies{
			StreamManager:   streamMgr,
			TCPServer:       tcpServer,
			WebSocketServer: wsServer,
			Factory:         b.factory,
			Cache:           b.cache,
			Metrics:         b.metrics,
			Gatherer:        b.registry,
		})
	}

	if err := tcpServer.Start(); err != nil {
		logger.Error("Failed to start TCP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if wsServer != nil {
		if err := wsServer.Start(); err != nil {
			logger.Error("Failed to start WebSocket server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	if wsServer != nil {
		if err := wsServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping WebSocket server", slog.String("error", err.Error()))
		}
	}

	// Stop TCP server (stop accepting clients and cancel their sessions)
	if err := tcpServer.Stop(); err != nil {
		logger.Error("Error stopping TCP server", slog.String("error", err.Error()))
	}

	streamMgr.Stop()

	stats := tcpServer.GetStatistics()
	cacheStats := b.cache.GetStats()
	logger.Info("Final server statistics",
		slog.Uint64("connections_accepted", stats.ConnectionsAccepted),
		slog.Uint64("connections_rejected", stats.ConnectionsRejected),
		slog.Uint64("session_errors", stats.SessionErrors),
		slog.Uint64("decode_cache_hits", cacheStats.Hits),
		slog.Uint64("decode_cache_misses", cacheStats.Misses),
	)

	logger.Info("Service stopped")
	return nil
}
