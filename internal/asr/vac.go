package asr

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/skypro1111/whisper-stream/internal/audio"
	"github.com/skypro1111/whisper-stream/internal/vad"
)

// VACProcessor gates an OnlineProcessor with voice activity detection. Audio
// reaches the online processor only inside speech regions, and the end of a
// region finalizes the utterance.
type VACProcessor struct {
	online    *OnlineProcessor
	detector  *vad.Iterator
	chunkSize float64 // Seconds of speech between online iterations
	logger    *slog.Logger

	pending      []float32 // Audio not yet forwarded
	pendingStart int64     // Absolute sample offset of pending[0]
	forwarded    int       // Samples forwarded since the last iteration
	voice        bool
	final        bool
}

// NewVACProcessor wraps online with a speech detector.
func NewVACProcessor(online *OnlineProcessor, chunkSize float64, logger *slog.Logger) (*VACProcessor, error) {
	detector, err := vad.NewIterator(vad.DefaultIteratorConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create VAD iterator: %w", err)
	}

	p := &VACProcessor{
		online:    online,
		detector:  detector,
		chunkSize: chunkSize,
		logger:    logger.With(slog.String("component", "vac_processor")),
	}
	p.Init()
	return p, nil
}

// Init resets the detector and the wrapped processor
func (p *VACProcessor) Init() {
	p.online.Init()
	p.detector.Reset()
	p.pending = nil
	p.pendingStart = 0
	p.forwarded = 0
	p.voice = false
	p.final = false
}

func (p *VACProcessor) clearPending() {
	p.pendingStart += int64(len(p.pending))
	p.pending = nil
}

func (p *VACProcessor) forward(samples []float32) {
	p.online.InsertAudioChunk(samples)
	p.forwarded += len(samples)
}

// InsertAudioChunk runs the detector and forwards speech audio
func (p *VACProcessor) InsertAudioChunk(samples []float32) {
	ev, ok := p.detector.Feed(samples)
	p.pending = append(p.pending, samples...)

	if !ok {
		if p.voice {
			p.forward(p.pending)
			p.clearPending()
			return
		}
		// Keep one second, speech start may be found in it later.
		if excess := len(p.pending) - audio.SampleRate; excess > 0 {
			p.pendingStart += int64(excess)
			p.pending = append([]float32(nil), p.pending[excess:]...)
		}
		return
	}

	switch {
	case ev.HasStart() && !ev.HasEnd():
		p.voice = true
		frame := p.frame(ev.Start)
		p.logger.Debug("Speech started", slog.Int64("sample", ev.Start))
		p.online.InitAt(audio.Duration(int(p.pendingStart) + frame))
		p.forward(p.pending[frame:])
		p.clearPending()

	case ev.HasEnd() && !ev.HasStart():
		p.voice = false
		frame := p.frame(ev.End)
		p.logger.Debug("Speech ended", slog.Int64("sample", ev.End))
		p.forward(p.pending[:frame])
		p.final = true
		p.clearPending()

	default:
		// A complete short region inside this chunk.
		p.voice = false
		beg := p.frame(ev.Start)
		end := p.frame(ev.End)
		if end < beg {
			end = beg
		}
		p.online.InitAt(audio.Duration(int(p.pendingStart) + beg))
		p.forward(p.pending[beg:end])
		p.final = true
		p.clearPending()
	}
}

// frame converts an absolute sample offset into an index into pending.
func (p *VACProcessor) frame(sample int64) int {
	i := int(sample - p.pendingStart)
	if i < 0 {
		return 0
	}
	if i > len(p.pending) {
		return len(p.pending)
	}
	return i
}

// ProcessIter finalizes a finished utterance or runs the online processor
// once enough speech has been forwarded
func (p *VACProcessor) ProcessIter(ctx context.Context) (Segment, error) {
	if p.final {
		return p.Finish(ctx)
	}

	if float64(p.forwarded) > audio.SampleRate*p.chunkSize {
		p.forwarded = 0
		return p.online.ProcessIter(ctx)
	}

	return NoSegment(), nil
}

// Finish flushes the current utterance
func (p *VACProcessor) Finish(ctx context.Context) (Segment, error) {
	seg, err := p.online.Finish(ctx)

	stats := p.detector.Stats()
	p.logger.Debug("Utterance finished",
		slog.Uint64("windows", stats.TotalWindows),
		slog.Float64("voice_percentage", stats.VoicePercentage),
	)

	p.forwarded = 0
	p.final = false

	// Start over so the flushed words are not reported again.
	p.online.InitAt(p.online.buffer.Offset())
	return seg, err
}
