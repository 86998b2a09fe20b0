package main

import (
	"github.com/spf13/cobra"

	"github.com/skypro1111/whisper-stream/internal/config"
)

// cliFlags holds every command line value. A flag only overrides the
// configuration file when it was set explicitly.
type cliFlags struct {
	configPath string
	logLevel   string

	// ASR
	backend           string
	model             string
	modelCacheDir     string
	modelDir          string
	language          string
	task              string
	vad               bool
	vac               bool
	vacChunkSize      float64
	minChunkSize      float64
	bufferTrimming    string
	bufferTrimmingSec float64
	warmupFile        string

	// serve
	host       string
	port       int
	wsPort     int
	httpPort   int
	packetSize int

	// simulate
	offline     bool
	compUnaware bool
	startAt     float64
}

var flags cliFlags

func init() {
	defaults := config.Default()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Path to configuration file")
	pf.StringVarP(&flags.logLevel, "log-level", "l", defaults.Logging.Level, "Log level: DEBUG, INFO, WARNING, ERROR or CRITICAL")

	pf.StringVar(&flags.backend, "backend", defaults.ASR.Backend, "Backend: faster-whisper or openai-api")
	pf.StringVar(&flags.model, "model", defaults.ASR.Model, "Whisper model name")
	pf.StringVar(&flags.modelCacheDir, "model_cache_dir", "", "Directory for downloaded models")
	pf.StringVar(&flags.modelDir, "model_dir", "", "Directory of a local model, overrides --model")
	pf.StringVar(&flags.language, "lan", defaults.ASR.Language, "Source language code, or auto for detection")
	pf.StringVar(&flags.language, "language", defaults.ASR.Language, "Alias of --lan")
	pf.StringVar(&flags.task, "task", defaults.ASR.Task, "transcribe or translate")
	pf.BoolVar(&flags.vad, "vad", false, "Let the backend filter non-speech audio")
	pf.BoolVar(&flags.vac, "vac", false, "Use voice activity control on the input stream")
	pf.Float64Var(&flags.vacChunkSize, "vac-chunk-size", defaults.ASR.VACChunkSize, "VAC sample size in seconds")
	pf.Float64Var(&flags.minChunkSize, "min-chunk-size", defaults.ASR.MinChunkSize, "Minimum audio chunk size in seconds")
	pf.StringVar(&flags.bufferTrimming, "buffer_trimming", defaults.ASR.BufferTrimming, "Buffer trimming strategy: sentence or segment")
	pf.Float64Var(&flags.bufferTrimmingSec, "buffer_trimming_sec", defaults.ASR.BufferTrimmingSec, "Buffer length in seconds that triggers trimming")
	pf.StringVar(&flags.warmupFile, "warmup_file", "", "Speech audio file used to warm up the backend")

	sf := serveCmd.Flags()
	sf.StringVar(&flags.host, "host", defaults.Server.Host, "TCP listen host")
	sf.IntVar(&flags.port, "port", defaults.Server.Port, "TCP listen port")
	sf.IntVar(&flags.wsPort, "ws_port", defaults.WebSocket.Port, "WebSocket listen port")
	sf.IntVar(&flags.httpPort, "http_port", defaults.HTTP.Port, "HTTP API listen port")
	sf.IntVar(&flags.packetSize, "packet_size", defaults.Server.PacketSize, "Text line packet size in bytes")

	mf := simulateCmd.Flags()
	mf.BoolVar(&flags.offline, "offline", false, "Process the whole file at once")
	mf.BoolVar(&flags.compUnaware, "comp_unaware", false, "Computation-unaware simulation on a virtual clock")
	mf.Float64Var(&flags.startAt, "start_at", 0, "Start processing at this time in seconds")
}

// applyFlags copies explicitly set flags over cfg
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed

	if set("log-level") {
		cfg.Logging.Level = flags.logLevel
	}

	if set("backend") {
		cfg.ASR.Backend = flags.backend
	}
	if set("model") {
		cfg.ASR.Model = flags.model
	}
	if set("model_cache_dir") {
		cfg.ASR.ModelCacheDir = flags.modelCacheDir
	}
	if set("model_dir") {
		cfg.ASR.ModelDir = flags.modelDir
	}
	if set("lan") || set("language") {
		cfg.ASR.Language = flags.language
	}
	if set("task") {
		cfg.ASR.Task = flags.task
	}
	if set("vad") {
		cfg.ASR.VAD = flags.vad
	}
	if set("vac") {
		cfg.ASR.VAC = flags.vac
	}
	if set("vac-chunk-size") {
		cfg.ASR.VACChunkSize = flags.vacChunkSize
	}
	if set("min-chunk-size") {
		cfg.ASR.MinChunkSize = flags.minChunkSize
	}
	if set("buffer_trimming") {
		cfg.ASR.BufferTrimming = flags.bufferTrimming
	}
	if set("buffer_trimming_sec") {
		cfg.ASR.BufferTrimmingSec = flags.bufferTrimmingSec
	}
	if set("warmup_file") {
		cfg.Server.WarmupFile = flags.warmupFile
	}

	// Flags of other subcommands are never reported as changed
	if set("host") {
		cfg.Server.Host = flags.host
	}
	if set("port") {
		cfg.Server.Port = flags.port
	}
	if set("ws_port") {
		cfg.WebSocket.Port = flags.wsPort
	}
	if set("http_port") {
		cfg.HTTP.Port = flags.httpPort
	}
	if set("packet_size") {
		cfg.Server.PacketSize = flags.packetSize
	}

	if set("offline") {
		cfg.Simulation.Offline = flags.offline
	}
	if set("comp_unaware") {
		cfg.Simulation.CompUnaware = flags.compUnaware
	}
	if set("start_at") {
		cfg.Simulation.StartAt = flags.startAt
	}
}
