package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skypro1111/whisper-stream/internal/asr"
	"github.com/skypro1111/whisper-stream/internal/protocol"
)

// ErrConflictingModes is returned when more than one simulation mode is selected.
var ErrConflictingModes = errors.New("only one of offline and comp_unaware may be set")

// Config represents the complete service configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	HTTP       HTTPConfig       `yaml:"http" json:"http"`
	WebSocket  WebSocketConfig  `yaml:"websocket" json:"websocket"`
	ASR        ASRConfig        `yaml:"asr" json:"asr"`
	Audio      AudioConfig      `yaml:"audio" json:"audio"`
	Simulation SimulationConfig `yaml:"simulation" json:"simulation"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// ServerConfig contains TCP line-protocol server configuration
type ServerConfig struct {
	Host                  string `yaml:"host" json:"host"`
	Port                  int    `yaml:"port" json:"port"`
	PacketSize            int    `yaml:"packet_size" json:"packet_size"`             // bytes per text packet
	AudioPacketSize       int    `yaml:"audio_packet_size" json:"audio_packet_size"` // largest single audio read
	MaxConcurrentSessions int    `yaml:"max_concurrent_sessions" json:"max_concurrent_sessions"`
	WarmupFile            string `yaml:"warmup_file" json:"warmup_file"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port     int    `yaml:"port" json:"port"`
	Address  string `yaml:"address" json:"address"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	FilesDir string `yaml:"files_dir" json:"files_dir"` // directory served by /files/{fileId}
}

// WebSocketConfig contains WebSocket server configuration
type WebSocketConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Address      string `yaml:"address" json:"address"`
	Port         int    `yaml:"port" json:"port"`
	ReadLimit    int64  `yaml:"read_limit" json:"read_limit"`       // bytes per message
	PingInterval int    `yaml:"ping_interval" json:"ping_interval"` // seconds
	PongWait     int    `yaml:"pong_wait" json:"pong_wait"`         // seconds
	WriteWait    int    `yaml:"write_wait" json:"write_wait"`       // seconds
}

// ASRConfig contains backend and engine configuration
type ASRConfig struct {
	Backend           string  `yaml:"backend" json:"backend"`
	Model             string  `yaml:"model" json:"model"`
	Language          string  `yaml:"language" json:"language"`
	Task              string  `yaml:"task" json:"task"`
	ModelCacheDir     string  `yaml:"model_cache_dir" json:"model_cache_dir"`
	ModelDir          string  `yaml:"model_dir" json:"model_dir"`
	VAD               bool    `yaml:"vad" json:"vad"`
	VAC               bool    `yaml:"vac" json:"vac"`
	VACChunkSize      float64 `yaml:"vac_chunk_size" json:"vac_chunk_size"` // seconds
	MinChunkSize      float64 `yaml:"min_chunk_size" json:"min_chunk_size"` // seconds
	BufferTrimming    string  `yaml:"buffer_trimming" json:"buffer_trimming"`
	BufferTrimmingSec float64 `yaml:"buffer_trimming_sec" json:"buffer_trimming_sec"`
	Endpoint          string  `yaml:"endpoint" json:"endpoint"`
	APIKey            string  `yaml:"api_key" json:"api_key"`
	Timeout           int     `yaml:"timeout" json:"timeout"` // seconds
	MaxRetries        int     `yaml:"max_retries" json:"max_retries"`
	MaxConcurrent     int     `yaml:"max_concurrent" json:"max_concurrent"`
}

// AudioConfig contains audio ingestion parameters
type AudioConfig struct {
	ReadTimeoutMs  int `yaml:"read_timeout_ms" json:"read_timeout_ms"` // deadline of one audio read
	IdleTimeout    int `yaml:"idle_timeout" json:"idle_timeout"`       // seconds without audio before a session ends, 0 disables
	SessionTimeout int `yaml:"session_timeout" json:"session_timeout"` // seconds without activity before the manager cancels a session, 0 disables
	CacheSize      int `yaml:"cache_size" json:"cache_size"`           // decoded files kept in memory
}

// SimulationConfig contains replay configuration for the simulate command
type SimulationConfig struct {
	Offline     bool    `yaml:"offline" json:"offline"`
	CompUnaware bool    `yaml:"comp_unaware" json:"comp_unaware"`
	StartAt     float64 `yaml:"start_at" json:"start_at"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	defaults := asr.DefaultConfig()

	return &Config{
		Server: ServerConfig{
			Host:                  "localhost",
			Port:                  43007,
			PacketSize:            protocol.PacketSize,
			AudioPacketSize:       protocol.AudioPacketSize,
			MaxConcurrentSessions: 100,
		},
		HTTP: HTTPConfig{
			Port:     8080,
			Address:  "localhost",
			Enabled:  true,
			FilesDir: "tests/data",
		},
		WebSocket: WebSocketConfig{
			Enabled:      true,
			Address:      "localhost",
			Port:         8765,
			ReadLimit:    int64(protocol.AudioPacketSize),
			PingInterval: 20,
			PongWait:     60,
			WriteWait:    10,
		},
		ASR: ASRConfig{
			Backend:           defaults.Backend,
			Model:             defaults.Model,
			Language:          defaults.Language,
			Task:              defaults.Task,
			VACChunkSize:      defaults.VACChunkSize,
			MinChunkSize:      defaults.MinChunkSize,
			BufferTrimming:    defaults.BufferTrimming,
			BufferTrimmingSec: defaults.BufferTrimmingSec,
			Endpoint:          defaults.Endpoint,
			Timeout:           int(defaults.Timeout / time.Second),
			MaxRetries:        defaults.MaxRetries,
			MaxConcurrent:     defaults.MaxConcurrent,
		},
		Audio: AudioConfig{
			ReadTimeoutMs:  100,
			IdleTimeout:    0,
			SessionTimeout: 0,
			CacheSize:      16,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads and parses the configuration file over the defaults. An empty
// path returns the defaults.
func Load(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.WebSocket.Validate(); err != nil {
		return fmt.Errorf("websocket config: %w", err)
	}

	if err := c.ASR.Validate(); err != nil {
		return fmt.Errorf("asr config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Simulation.Validate(); err != nil {
		return fmt.Errorf("simulation config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.PacketSize < 1 {
		return fmt.Errorf("packet_size must be positive, got %d", s.PacketSize)
	}

	if s.AudioPacketSize < 1024 {
		return fmt.Errorf("audio_packet_size must be at least 1024 bytes, got %d", s.AudioPacketSize)
	}

	if s.MaxConcurrentSessions < 1 {
		return fmt.Errorf("max_concurrent_sessions must be at least 1, got %d", s.MaxConcurrentSessions)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates WebSocket configuration
func (w *WebSocketConfig) Validate() error {
	if !w.Enabled {
		return nil
	}

	if w.Port < 1 || w.Port > 65535 {
		return fmt.Errorf("websocket port must be between 1 and 65535, got %d", w.Port)
	}

	if w.ReadLimit < 1024 {
		return fmt.Errorf("read_limit must be at least 1024 bytes, got %d", w.ReadLimit)
	}

	if w.PingInterval < 1 || w.PongWait <= w.PingInterval {
		return fmt.Errorf("pong_wait (%d) must be greater than ping_interval (%d), both positive",
			w.PongWait, w.PingInterval)
	}

	if w.WriteWait < 1 {
		return fmt.Errorf("write_wait must be at least 1 second, got %d", w.WriteWait)
	}

	return nil
}

// Validate validates backend and engine configuration
func (a *ASRConfig) Validate() error {
	if err := a.ToASR().Validate(); err != nil {
		return err
	}

	if a.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", a.Timeout)
	}

	if a.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", a.MaxRetries)
	}

	if a.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", a.MaxConcurrent)
	}

	if a.Backend == asr.BackendFasterWhisper && a.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty for the %s backend", a.Backend)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.ReadTimeoutMs < 1 {
		return fmt.Errorf("read_timeout_ms must be at least 1, got %d", a.ReadTimeoutMs)
	}

	if a.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout cannot be negative, got %d", a.IdleTimeout)
	}

	if a.SessionTimeout < 0 {
		return fmt.Errorf("session_timeout cannot be negative, got %d", a.SessionTimeout)
	}

	if a.CacheSize < 1 {
		return fmt.Errorf("cache_size must be at least 1, got %d", a.CacheSize)
	}

	return nil
}

// Validate validates simulation configuration
func (s *SimulationConfig) Validate() error {
	if s.Offline && s.CompUnaware {
		return ErrConflictingModes
	}

	if s.StartAt < 0 {
		return fmt.Errorf("start_at cannot be negative, got %f", s.StartAt)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	level, err := NormalizeLevel(l.Level)
	if err != nil {
		return err
	}
	l.Level = level

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout and stderr is a file path
	return nil
}

// NormalizeLevel maps a log level name, as accepted by --log-level, to one of
// debug, info, warn or error. Names are case-insensitive; WARNING and
// CRITICAL are accepted as aliases.
func NormalizeLevel(level string) (string, error) {
	switch strings.ToLower(level) {
	case "debug":
		return "debug", nil
	case "info", "":
		return "info", nil
	case "warn", "warning":
		return "warn", nil
	case "error", "critical":
		return "error", nil
	default:
		return "", fmt.Errorf("level must be one of [DEBUG, INFO, WARNING, ERROR, CRITICAL], got '%s'", level)
	}
}

// ToASR converts the section into the backend configuration
func (a *ASRConfig) ToASR() asr.Config {
	defaults := asr.DefaultConfig()

	return asr.Config{
		Backend:           a.Backend,
		Model:             a.Model,
		Language:          a.Language,
		Task:              a.Task,
		ModelCacheDir:     a.ModelCacheDir,
		ModelDir:          a.ModelDir,
		UseVAD:            a.VAD,
		VAC:               a.VAC,
		VACChunkSize:      a.VACChunkSize,
		MinChunkSize:      a.MinChunkSize,
		BufferTrimming:    a.BufferTrimming,
		BufferTrimmingSec: a.BufferTrimmingSec,
		Endpoint:          a.Endpoint,
		APIKey:            a.APIKey,
		Timeout:           a.GetTimeoutDuration(),
		MaxRetries:        a.MaxRetries,
		RetryDelay:        defaults.RetryDelay,
		MaxConcurrent:     a.MaxConcurrent,
	}
}

// GetTimeoutDuration returns the backend timeout as a time.Duration
func (a *ASRConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// GetReadTimeout returns the audio read deadline as a time.Duration
func (a *AudioConfig) GetReadTimeout() time.Duration {
	return time.Duration(a.ReadTimeoutMs) * time.Millisecond
}

// GetIdleTimeout returns the idle timeout as a time.Duration
func (a *AudioConfig) GetIdleTimeout() time.Duration {
	return time.Duration(a.IdleTimeout) * time.Second
}

// GetSessionTimeout returns the session timeout as a time.Duration
func (a *AudioConfig) GetSessionTimeout() time.Duration {
	return time.Duration(a.SessionTimeout) * time.Second
}

// GetPingInterval returns the WebSocket ping interval as a time.Duration
func (w *WebSocketConfig) GetPingInterval() time.Duration {
	return time.Duration(w.PingInterval) * time.Second
}

// GetPongWait returns the WebSocket pong deadline as a time.Duration
func (w *WebSocketConfig) GetPongWait() time.Duration {
	return time.Duration(w.PongWait) * time.Second
}

// GetWriteWait returns the WebSocket write deadline as a time.Duration
func (w *WebSocketConfig) GetWriteWait() time.Duration {
	return time.Duration(w.WriteWait) * time.Second
}

// Sanitized returns a copy safe to expose over the API
func (c *Config) Sanitized() Config {
	clean := *c
	if clean.ASR.APIKey != "" {
		clean.ASR.APIKey = "***"
	}
	return clean
}
