package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func sine(n int, amplitude float64) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
	}
	return samples
}

func TestEncodeWAV(t *testing.T) {
	samples := sine(1600, 0.5)

	wavData, err := EncodeWAV(samples, SampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := 44 + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}

	if info.SampleRate != SampleRate {
		t.Errorf("Expected sample rate %d, got %d", SampleRate, info.SampleRate)
	}

	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}

	if math.Abs(info.Duration-0.1) > 0.001 {
		t.Errorf("Expected duration 0.100, got %.3f", info.Duration)
	}
}

func TestDecodeWAV(t *testing.T) {
	original := []float32{0.1, -0.2, 0.3, -0.4, 0.5}

	wavData, err := EncodeWAV(original, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, rate, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if rate != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", rate)
	}

	if len(decoded) != len(original) {
		t.Fatalf("Expected %d samples, got %d", len(original), len(decoded))
	}

	for i := range original {
		if math.Abs(float64(decoded[i]-original[i])) > 1.0/32768 {
			t.Errorf("Sample %d: expected %f, got %f", i, original[i], decoded[i])
		}
	}
}

// stereoWAV builds a 2-channel file with an extra LIST chunk before data.
func stereoWAV(left, right []int16) []byte {
	var body bytes.Buffer
	body.WriteString("WAVE")

	body.WriteString("fmt ")
	binary.Write(&body, binary.LittleEndian, uint32(16))
	binary.Write(&body, binary.LittleEndian, wavFormat{
		AudioFormat:   wavFormatPCM,
		NumChannels:   2,
		SampleRate:    SampleRate,
		ByteRate:      SampleRate * 4,
		BlockAlign:    4,
		BitsPerSample: 16,
	})

	body.WriteString("LIST")
	binary.Write(&body, binary.LittleEndian, uint32(3))
	body.Write([]byte{1, 2, 3, 0}) // odd size plus pad byte

	body.WriteString("data")
	binary.Write(&body, binary.LittleEndian, uint32(len(left)*4))
	for i := range left {
		binary.Write(&body, binary.LittleEndian, left[i])
		binary.Write(&body, binary.LittleEndian, right[i])
	}

	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func TestDecodeWAVStereoWithExtraChunk(t *testing.T) {
	data := stereoWAV([]int16{16384, 0}, []int16{0, -16384})

	samples, rate, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != SampleRate {
		t.Errorf("Expected sample rate %d, got %d", SampleRate, rate)
	}
	if len(samples) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(samples))
	}
	if samples[0] != 0.25 || samples[1] != -0.25 {
		t.Errorf("Expected downmixed [0.25 -0.25], got %v", samples)
	}
}

func TestEncodeWAVInvalidInput(t *testing.T) {
	if _, err := EncodeWAV([]float32{}, SampleRate); err == nil {
		t.Error("Expected error for empty samples")
	}

	if _, err := EncodeWAV([]float32{0.1}, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestGetWAVInfoRejectsInvalid(t *testing.T) {
	if _, err := GetWAVInfo([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for too short WAV data")
	}

	invalidWAV := make([]byte, 50)
	copy(invalidWAV[0:4], []byte("FAKE"))
	if _, err := GetWAVInfo(invalidWAV); err == nil {
		t.Error("Expected error for invalid RIFF header")
	}

	noData := []byte("RIFF\x04\x00\x00\x00WAVE")
	if _, err := GetWAVInfo(noData); err == nil {
		t.Error("Expected error for missing chunks")
	}
}
