package audio

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"
)

// Reader delivers raw PCM16 bytes from a connection. ReadAudio blocks for at
// most a short deadline: an empty slice with a nil error means no data has
// arrived yet, and any error means the peer is gone.
type Reader interface {
	ReadAudio() ([]byte, error)
}

// DecodeFunc converts raw bytes into samples.
type DecodeFunc func([]byte) ([]float32, error)

// AccumulatorConfig contains configuration for audio accumulation
type AccumulatorConfig struct {
	MinChunkSeconds float64       // Minimum clip length handed to the engine
	IdleTimeout     time.Duration // Zero disables the idle deadline
	Decode          DecodeFunc    // Defaults to DecodePCM16
}

// AccumulatorStats represents accumulator statistics for monitoring
type AccumulatorStats struct {
	Chunks         uint64  `json:"chunks"`
	Samples        uint64  `json:"samples"`
	AudioSeconds   float64 `json:"audio_seconds"`
	DroppedBuffers uint64  `json:"dropped_buffers"`
}

// Accumulator collects audio from one connection until a minimum duration is
// reached. It is owned by a single session and not safe for concurrent use.
type Accumulator struct {
	reader      Reader
	minSamples  int
	idleTimeout time.Duration
	decode      DecodeFunc
	logger      *slog.Logger

	isFirst bool
	carry   []byte // odd trailing byte from the previous read

	stats AccumulatorStats
}

// NewAccumulator creates an accumulator reading from reader.
func NewAccumulator(reader Reader, cfg AccumulatorConfig, logger *slog.Logger) *Accumulator {
	decode := cfg.Decode
	if decode == nil {
		decode = DecodePCM16
	}

	minSamples := int(math.Round(cfg.MinChunkSeconds * SampleRate))
	if minSamples < 1 {
		minSamples = 1
	}

	return &Accumulator{
		reader:      reader,
		minSamples:  minSamples,
		idleTimeout: cfg.IdleTimeout,
		decode:      decode,
		logger:      logger,
		isFirst:     true,
	}
}

// Next returns the next clip of at least the minimum duration. When the peer
// closes it returns whatever was collected, except on the first call of a
// session where an undersized clip is discarded. A nil clip with a nil error
// means the stream has ended. The error is non-nil only if ctx is done.
func (a *Accumulator) Next(ctx context.Context) ([]float32, error) {
	var out []float32
	lastData := time.Now()

	for len(out) < a.minSamples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := a.reader.ReadAudio()
		if err != nil {
			a.logger.Debug("Audio source closed", slog.String("reason", err.Error()))
			return a.drain(out), nil
		}

		if len(raw) == 0 {
			if a.idleTimeout > 0 && time.Since(lastData) >= a.idleTimeout {
				a.logger.Info("Closing idle audio stream",
					slog.Duration("idle_timeout", a.idleTimeout))
				return a.drain(out), nil
			}
			continue
		}
		lastData = time.Now()

		samples, err := a.decodeBuffer(raw)
		if err != nil {
			a.stats.DroppedBuffers++
			a.logger.Warn("Dropping malformed audio buffer",
				slog.Int("bytes", len(raw)),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, samples...)
	}

	return a.emit(out), nil
}

// decodeBuffer decodes raw, carrying an odd trailing byte to the next read.
func (a *Accumulator) decodeBuffer(raw []byte) ([]float32, error) {
	data := raw
	if len(a.carry) > 0 {
		data = append(a.carry, raw...)
		a.carry = nil
	}

	if len(data)%BytesPerSample != 0 {
		a.carry = []byte{data[len(data)-1]}
		data = data[:len(data)-1]
	}
	if len(data) == 0 {
		return nil, nil
	}

	samples, err := a.decode(data)
	if err != nil {
		if errors.Is(err, ErrMalformedPCM) {
			return nil, err
		}
		return nil, errors.Join(ErrMalformedPCM, err)
	}
	return samples, nil
}

func (a *Accumulator) drain(out []float32) []float32 {
	if len(out) == 0 {
		return nil
	}
	if a.isFirst && len(out) < a.minSamples {
		a.logger.Debug("Discarding undersized first chunk", slog.Int("samples", len(out)))
		return nil
	}
	return a.emit(out)
}

func (a *Accumulator) emit(out []float32) []float32 {
	a.isFirst = false
	a.stats.Chunks++
	a.stats.Samples += uint64(len(out))
	a.stats.AudioSeconds += Duration(len(out))
	return out
}

// GetStats returns current accumulator statistics
func (a *Accumulator) GetStats() AccumulatorStats {
	return a.stats
}
