package audio

import (
	"errors"
	"fmt"
)

// Audio format constants
const (
	// SampleRate is the rate every component works at.
	SampleRate = 16000

	// BytesPerSample is the size of one little-endian PCM16 sample.
	BytesPerSample = 2
)

// ErrMalformedPCM is returned when a byte buffer cannot be decoded as PCM16.
var ErrMalformedPCM = errors.New("audio: malformed PCM16 data")

// DecodePCM16 converts little-endian signed 16-bit mono PCM into float
// samples in [-1, 1).
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: odd length %d", ErrMalformedPCM, len(data))
	}

	samples := make([]float32, len(data)/BytesPerSample)
	for i := range samples {
		sample := int16(data[i*2]) | int16(data[i*2+1])<<8
		samples[i] = float32(sample) / 32768.0
	}
	return samples, nil
}

// EncodePCM16 converts float samples to little-endian PCM16, clipping
// values outside [-1, 1].
func EncodePCM16(samples []float32) []byte {
	data := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		sample := toInt16(s)
		data[i*2] = byte(sample)
		data[i*2+1] = byte(sample >> 8)
	}
	return data
}

func toInt16(s float32) int16 {
	switch {
	case s >= 1.0:
		return 32767
	case s <= -1.0:
		return -32768
	default:
		return int16(s * 32768.0)
	}
}

// Duration returns the length in seconds of n samples at SampleRate.
func Duration(n int) float64 {
	return float64(n) / SampleRate
}
