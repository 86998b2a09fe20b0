package vad

import (
	"math"
	"testing"
)

func tone(n int, amplitude float64) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return samples
}

// speechSignal returns 1s silence, 1s tone, 1s silence at 16kHz.
func speechSignal() []float32 {
	signal := make([]float32, 0, 48000)
	signal = append(signal, make([]float32, 16000)...)
	signal = append(signal, tone(16000, 0.3)...)
	signal = append(signal, make([]float32, 16000)...)
	return signal
}

func TestNewProcessorValidation(t *testing.T) {
	tests := []struct {
		name       string
		threshold  float32
		windowSize int
		sampleRate int
		expectErr  bool
	}{
		{name: "valid parameters", threshold: 0.5, windowSize: 512, sampleRate: 16000},
		{name: "negative threshold", threshold: -0.1, windowSize: 512, sampleRate: 16000, expectErr: true},
		{name: "threshold above one", threshold: 1.1, windowSize: 512, sampleRate: 16000, expectErr: true},
		{name: "zero window", threshold: 0.5, windowSize: 0, sampleRate: 16000, expectErr: true},
		{name: "zero sample rate", threshold: 0.5, windowSize: 512, sampleRate: 0, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProcessor(tt.threshold, tt.windowSize, tt.sampleRate)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestProcessSilenceAndTone(t *testing.T) {
	processor, err := NewProcessor(0.5, 512, 16000)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	result, err := processor.Process(make([]float32, 512))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.HasVoice {
		t.Errorf("Expected no voice in silence, got probability %f", result.Probability)
	}

	for i := 0; i < 5; i++ {
		result, err = processor.Process(tone(512, 0.3))
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
	}
	if !result.HasVoice {
		t.Errorf("Expected voice in tone, got probability %f", result.Probability)
	}

	stats := processor.GetStats()
	if stats.TotalWindows != 6 {
		t.Errorf("Expected 6 windows, got %d", stats.TotalWindows)
	}
	if stats.VoiceWindows != 5 {
		t.Errorf("Expected 5 voice windows, got %d", stats.VoiceWindows)
	}

	processor.Reset()
	if stats := processor.GetStats(); stats.TotalWindows != 0 {
		t.Errorf("Expected stats reset, got %d windows", stats.TotalWindows)
	}
}

func TestProcessWrongWindowSize(t *testing.T) {
	processor, _ := NewProcessor(0.5, 512, 16000)
	if _, err := processor.Process(make([]float32, 100)); err == nil {
		t.Error("Expected error for wrong window size")
	}
}

func TestIteratorStats(t *testing.T) {
	it, err := NewIterator(DefaultIteratorConfig())
	if err != nil {
		t.Fatalf("Failed to create iterator: %v", err)
	}

	loud := make([]float32, DefaultWindowSize*4)
	for i := range loud {
		loud[i] = 0.3
	}
	it.Feed(make([]float32, DefaultWindowSize*4))
	it.Feed(loud)

	stats := it.Stats()
	if stats.TotalWindows != 8 {
		t.Errorf("Expected 8 windows, got %d", stats.TotalWindows)
	}
	if stats.VoiceWindows == 0 || stats.VoicePercentage <= 0 || stats.VoicePercentage > 50 {
		t.Errorf("Expected voice in the loud half only, got %+v", stats)
	}

	it.Reset()
	if stats := it.Stats(); stats.TotalWindows != 0 {
		t.Errorf("Expected stats cleared by Reset, got %d windows", stats.TotalWindows)
	}
}

func TestIteratorSpeechRegion(t *testing.T) {
	it, err := NewIterator(DefaultIteratorConfig())
	if err != nil {
		t.Fatalf("Failed to create iterator: %v", err)
	}

	signal := speechSignal()
	var events []Event
	for offset := 0; offset < len(signal); offset += 640 {
		end := offset + 640
		if end > len(signal) {
			end = len(signal)
		}
		if ev, ok := it.Feed(signal[offset:end]); ok {
			events = append(events, ev)
		}
	}

	if len(events) != 2 {
		t.Fatalf("Expected start and end events, got %v", events)
	}
	if !events[0].HasStart() || events[0].HasEnd() {
		t.Errorf("Expected first event to be a start, got %+v", events[0])
	}
	if events[0].Start < 13000 || events[0].Start > 16000 {
		t.Errorf("Expected start near 16000, got %d", events[0].Start)
	}
	if !events[1].HasEnd() || events[1].HasStart() {
		t.Errorf("Expected second event to be an end, got %+v", events[1])
	}
	if events[1].End < 32000 || events[1].End > 35000 {
		t.Errorf("Expected end near 32000, got %d", events[1].End)
	}
	if it.Triggered() {
		t.Error("Expected iterator to be outside speech")
	}
}

func TestIteratorKeepsPartialWindow(t *testing.T) {
	it, _ := NewIterator(DefaultIteratorConfig())

	if _, ok := it.Feed(tone(300, 0.3)); ok {
		t.Error("Expected no event before a full window")
	}
	ev, ok := it.Feed(tone(300, 0.3))
	if !ok || !ev.HasStart() {
		t.Errorf("Expected start once a window completes, got %+v %v", ev, ok)
	}
}

func TestDetectRegions(t *testing.T) {
	signal := speechSignal()

	regions, err := DetectRegions(signal, DefaultIteratorConfig())
	if err != nil {
		t.Fatalf("DetectRegions failed: %v", err)
	}
	if len(regions) != 1 {
		t.Fatalf("Expected 1 region, got %d", len(regions))
	}
	if regions[0].End <= regions[0].Start {
		t.Errorf("Expected non-empty region, got %+v", regions[0])
	}

	trimmed, offset, err := Trim(signal, DefaultIteratorConfig())
	if err != nil {
		t.Fatalf("Trim failed: %v", err)
	}
	if len(trimmed) >= len(signal) || offset == 0 {
		t.Errorf("Expected trimmed clip, got %d samples at offset %d", len(trimmed), offset)
	}

	silent, _, err := Trim(make([]float32, 16000), DefaultIteratorConfig())
	if err != nil {
		t.Fatalf("Trim failed: %v", err)
	}
	if silent != nil {
		t.Errorf("Expected nil for silent clip, got %d samples", len(silent))
	}
}
