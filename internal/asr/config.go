package asr

import (
	"fmt"
	"time"
)

// Backend names
const (
	BackendFasterWhisper = "faster-whisper"
	BackendOpenAI        = "openai-api"
)

// Task names
const (
	TaskTranscribe = "transcribe"
	TaskTranslate  = "translate"
)

// Buffer trimming strategies
const (
	TrimSegment  = "segment"
	TrimSentence = "sentence"
)

// Config selects and configures a backend and the engine built on it
type Config struct {
	Backend  string
	Model    string
	Language string // "auto" or empty lets the backend detect it
	Task     string

	ModelCacheDir string
	ModelDir      string

	UseVAD       bool
	VAC          bool
	VACChunkSize float64 // Seconds
	MinChunkSize float64 // Seconds

	BufferTrimming    string
	BufferTrimmingSec float64

	// Remote backend settings
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	MaxConcurrent int
}

// DefaultConfig returns the defaults of the command line surface.
func DefaultConfig() Config {
	return Config{
		Backend:           BackendFasterWhisper,
		Model:             "large-v3",
		Language:          "en",
		Task:              TaskTranscribe,
		VACChunkSize:      0.04,
		MinChunkSize:      1.0,
		BufferTrimming:    TrimSegment,
		BufferTrimmingSec: 15,
		Endpoint:          "http://localhost:8000/v1/audio/transcriptions",
		Timeout:           30 * time.Second,
		MaxRetries:        2,
		RetryDelay:        time.Second,
		MaxConcurrent:     4,
	}
}

// Validate checks the values the factory depends on.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendFasterWhisper, BackendOpenAI:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	switch c.Task {
	case TaskTranscribe, TaskTranslate:
	default:
		return fmt.Errorf("unknown task %q", c.Task)
	}

	switch c.BufferTrimming {
	case TrimSegment, TrimSentence:
	default:
		return fmt.Errorf("unknown buffer trimming %q", c.BufferTrimming)
	}

	if c.MinChunkSize <= 0 {
		return fmt.Errorf("min chunk size must be positive, got %f", c.MinChunkSize)
	}

	if c.VAC && c.VACChunkSize <= 0 {
		return fmt.Errorf("VAC chunk size must be positive, got %f", c.VACChunkSize)
	}

	if c.BufferTrimmingSec <= 0 {
		return fmt.Errorf("buffer trimming seconds must be positive, got %f", c.BufferTrimmingSec)
	}

	return nil
}

// ChunkSize returns the chunk length the engine expects per iteration.
func (c Config) ChunkSize() float64 {
	if c.VAC {
		return c.VACChunkSize
	}
	return c.MinChunkSize
}

// language returns the language to send, empty for detection.
func (c Config) language() string {
	if c.Language == "auto" {
		return ""
	}
	return c.Language
}
