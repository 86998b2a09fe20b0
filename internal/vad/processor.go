package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// energyReference is the RMS level (full scale 1.0) mapped to probability 1.
const energyReference = 0.05

// Processor provides voice activity detection on fixed-size windows
type Processor struct {
	threshold  float32
	windowSize int // Samples per window (512 = 32ms at 16kHz)

	// VAD state
	lastResult float32
	smoothing  float32 // Weight of the newest window

	// Statistics
	totalWindows  uint64
	voiceWindows  uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Result represents the result of voice activity detection on one window
type Result struct {
	Probability float32 `json:"probability"` // Voice probability (0.0 - 1.0)
	HasVoice    bool    `json:"has_voice"`
	Confidence  float32 `json:"confidence"` // Distance from threshold scaled to 0-1
	WindowIndex int     `json:"window_index"`
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
}

// NewProcessor creates a new VAD processor instance
func NewProcessor(threshold float32, windowSize int, sampleRate int) (*Processor, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return &Processor{
		threshold:  threshold,
		windowSize: windowSize,
		smoothing:  0.6,
	}, nil
}

// Process processes a window of audio samples and returns voice activity probability
func (p *Processor) Process(samples []float32) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(samples) != p.windowSize {
		return nil, fmt.Errorf("expected %d samples, got %d", p.windowSize, len(samples))
	}

	probability := windowProbability(samples)

	// Apply smoothing
	if p.totalWindows > 0 {
		probability = p.smoothing*probability + (1-p.smoothing)*p.lastResult
	}
	p.lastResult = probability

	hasVoice := probability >= p.threshold

	p.totalWindows++
	if hasVoice {
		p.voiceWindows++
	}
	p.lastProcessed = time.Now()

	confidence := float32(math.Abs(float64(probability - p.threshold)))
	if confidence > 0.5 {
		confidence = 0.5
	}

	return &Result{
		Probability: probability,
		HasVoice:    hasVoice,
		Confidence:  confidence * 2,
		WindowIndex: int(p.totalWindows - 1),
	}, nil
}

// windowProbability maps the RMS energy of a window to 0-1.
func windowProbability(samples []float32) float32 {
	var energy float64
	for _, sample := range samples {
		energy += float64(sample) * float64(sample)
	}
	energy = math.Sqrt(energy / float64(len(samples)))

	probability := energy / energyReference
	if probability > 1.0 {
		probability = 1.0
	}
	return float32(probability)
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalWindows > 0 {
		voicePercentage = float64(p.voiceWindows) / float64(p.totalWindows) * 100
	}

	return ProcessorStats{
		TotalWindows:    p.totalWindows,
		VoiceWindows:    p.voiceWindows,
		VoicePercentage: voicePercentage,
		LastProcessed:   p.lastProcessed,
		Threshold:       p.threshold,
	}
}

// Reset resets the processor state and statistics
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalWindows = 0
	p.voiceWindows = 0
	p.lastResult = 0
	p.lastProcessed = time.Time{}
}
