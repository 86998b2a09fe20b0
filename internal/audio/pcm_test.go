package audio

import (
	"errors"
	"testing"
)

func TestDecodePCM16(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected []float32
		wantErr  bool
	}{
		{name: "empty", input: []byte{}, expected: []float32{}},
		{name: "zero", input: []byte{0x00, 0x00}, expected: []float32{0}},
		{name: "max positive", input: []byte{0xff, 0x7f}, expected: []float32{32767.0 / 32768.0}},
		{name: "min negative", input: []byte{0x00, 0x80}, expected: []float32{-1}},
		{name: "little endian", input: []byte{0x00, 0x40, 0x00, 0xc0}, expected: []float32{0.5, -0.5}},
		{name: "odd length", input: []byte{0x01, 0x02, 0x03}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePCM16(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedPCM) {
					t.Fatalf("Expected ErrMalformedPCM, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(got) != len(tt.expected) {
				t.Fatalf("Expected %d samples, got %d", len(tt.expected), len(got))
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("Sample %d: expected %f, got %f", i, tt.expected[i], got[i])
				}
			}
		})
	}
}

func TestEncodePCM16Clipping(t *testing.T) {
	data := EncodePCM16([]float32{2.0, -2.0, 0.5})

	samples, err := DecodePCM16(data)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if samples[0] != 32767.0/32768.0 {
		t.Errorf("Expected clipped max, got %f", samples[0])
	}
	if samples[1] != -1 {
		t.Errorf("Expected clipped min, got %f", samples[1])
	}
	if samples[2] != 0.5 {
		t.Errorf("Expected 0.5, got %f", samples[2])
	}
}
