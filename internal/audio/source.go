package audio

import (
	"fmt"
	"math"
	"os"

	resampling "github.com/tphakala/go-audio-resampling"
)

// LoadFile reads a WAV file and returns its audio as mono samples at
// SampleRate, resampling when the file uses a different rate.
func LoadFile(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}

	samples, rate, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	if rate == SampleRate {
		return samples, nil
	}

	resampled, err := Resample(samples, rate, SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to resample %s from %d Hz: %w", path, rate, err)
	}
	return resampled, nil
}

// Resample converts mono samples from one rate to another.
func Resample(samples []float32, fromRate, toRate int) ([]float32, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive, got %d and %d", fromRate, toRate)
	}
	if fromRate == toRate || len(samples) == 0 {
		return samples, nil
	}

	resampler, err := resampling.New(&resampling.Config{
		InputRate:  float64(fromRate),
		OutputRate: float64(toRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s)
	}

	output, err := resampler.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	// The filter delay line still holds the end of the clip
	tail, err := resampler.Flush()
	if err != nil {
		return nil, fmt.Errorf("resample flush error: %w", err)
	}
	output = append(output, tail...)

	expected := int(math.Round(float64(len(samples)) * float64(toRate) / float64(fromRate)))
	if len(output) > expected {
		output = output[:expected]
	}

	out := make([]float32, expected)
	for i, s := range output {
		switch {
		case s > 1.0:
			s = 1.0
		case s < -1.0:
			s = -1.0
		}
		out[i] = float32(s)
	}
	return out, nil
}

// Slice returns samples between beg and end seconds, clamped to the clip.
func Slice(samples []float32, beg, end float64) []float32 {
	b := int(beg * SampleRate)
	e := int(end * SampleRate)
	if b < 0 {
		b = 0
	}
	if e > len(samples) {
		e = len(samples)
	}
	if b >= e {
		return []float32{}
	}
	return samples[b:e]
}
