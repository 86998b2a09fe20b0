package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/skypro1111/whisper-stream/internal/protocol"
)

// scriptedReader returns its reads in order and then reports closure.
type scriptedReader struct {
	reads [][]byte
}

func (r *scriptedReader) ReadAudio() ([]byte, error) {
	if len(r.reads) == 0 {
		return nil, protocol.ErrConnectionClosed
	}
	next := r.reads[0]
	r.reads = r.reads[1:]
	return next, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pcmSeconds(seconds float64) []byte {
	return make([]byte, int(seconds*SampleRate)*BytesPerSample)
}

func TestAccumulatorReachesMinimum(t *testing.T) {
	reader := &scriptedReader{reads: [][]byte{pcmSeconds(0.5), {}, pcmSeconds(0.5), pcmSeconds(0.5)}}
	acc := NewAccumulator(reader, AccumulatorConfig{MinChunkSeconds: 1.0}, testLogger())

	chunk, err := acc.Next(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(chunk) != SampleRate {
		t.Errorf("Expected %d samples, got %d", SampleRate, len(chunk))
	}

	// Remaining half second is drained on close after a successful chunk.
	chunk, err = acc.Next(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(chunk) != SampleRate/2 {
		t.Errorf("Expected partial %d samples, got %d", SampleRate/2, len(chunk))
	}

	chunk, _ = acc.Next(context.Background())
	if chunk != nil {
		t.Errorf("Expected nil after close, got %d samples", len(chunk))
	}

	stats := acc.GetStats()
	if stats.Chunks != 2 {
		t.Errorf("Expected 2 chunks, got %d", stats.Chunks)
	}
}

func TestAccumulatorFirstChunkGating(t *testing.T) {
	reader := &scriptedReader{reads: [][]byte{pcmSeconds(0.3), pcmSeconds(0.3)}}
	acc := NewAccumulator(reader, AccumulatorConfig{MinChunkSeconds: 1.0}, testLogger())

	chunk, err := acc.Next(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if chunk != nil {
		t.Errorf("Expected undersized first chunk to be discarded, got %d samples", len(chunk))
	}
}

func TestAccumulatorOddByteCarry(t *testing.T) {
	// One sample split across two reads.
	reader := &scriptedReader{reads: [][]byte{{0x00, 0x40, 0x00}, {0x40}}}
	acc := NewAccumulator(reader, AccumulatorConfig{MinChunkSeconds: 2.0 / SampleRate}, testLogger())

	chunk, err := acc.Next(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(chunk) != 2 || chunk[0] != 0.5 || chunk[1] != 0.5 {
		t.Errorf("Expected [0.5 0.5], got %v", chunk)
	}
}

func TestAccumulatorDropsMalformed(t *testing.T) {
	calls := 0
	decode := func(data []byte) ([]float32, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("bad samples")
		}
		return DecodePCM16(data)
	}

	reader := &scriptedReader{reads: [][]byte{pcmSeconds(1), pcmSeconds(1)}}
	acc := NewAccumulator(reader, AccumulatorConfig{MinChunkSeconds: 1.0, Decode: decode}, testLogger())

	chunk, err := acc.Next(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(chunk) != SampleRate {
		t.Errorf("Expected %d samples, got %d", SampleRate, len(chunk))
	}
	if stats := acc.GetStats(); stats.DroppedBuffers != 1 {
		t.Errorf("Expected 1 dropped buffer, got %d", stats.DroppedBuffers)
	}
}

// idleReader never delivers data.
type idleReader struct{}

func (idleReader) ReadAudio() ([]byte, error) {
	time.Sleep(time.Millisecond)
	return []byte{}, nil
}

func TestAccumulatorIdleTimeout(t *testing.T) {
	acc := NewAccumulator(idleReader{}, AccumulatorConfig{
		MinChunkSeconds: 1.0,
		IdleTimeout:     20 * time.Millisecond,
	}, testLogger())

	chunk, err := acc.Next(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if chunk != nil {
		t.Errorf("Expected nil on idle timeout, got %d samples", len(chunk))
	}
}

func TestAccumulatorContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	acc := NewAccumulator(idleReader{}, AccumulatorConfig{MinChunkSeconds: 1.0}, testLogger())
	if _, err := acc.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
