package vad

import "fmt"

// Default iterator parameters for 16 kHz audio
const (
	DefaultSampleRate      = 16000
	DefaultWindowSize      = 512
	DefaultThreshold       = 0.5
	DefaultMinSilenceMs    = 500
	DefaultSpeechPadMs     = 100
	negativeThresholdDelta = 0.15
)

// Event reports speech boundaries found while feeding audio to an Iterator.
// Offsets are absolute sample positions since the last Reset. A boundary
// that was not observed is -1.
type Event struct {
	Start int64
	End   int64
}

// HasStart reports whether speech started.
func (e Event) HasStart() bool { return e.Start >= 0 }

// HasEnd reports whether speech ended.
func (e Event) HasEnd() bool { return e.End >= 0 }

// IteratorConfig configures an Iterator
type IteratorConfig struct {
	Threshold    float32
	SampleRate   int
	WindowSize   int
	MinSilenceMs int
	SpeechPadMs  int
}

// DefaultIteratorConfig returns parameters suited to 16 kHz speech.
func DefaultIteratorConfig() IteratorConfig {
	return IteratorConfig{
		Threshold:    DefaultThreshold,
		SampleRate:   DefaultSampleRate,
		WindowSize:   DefaultWindowSize,
		MinSilenceMs: DefaultMinSilenceMs,
		SpeechPadMs:  DefaultSpeechPadMs,
	}
}

// Iterator tracks speech regions over a stream of arbitrarily sized chunks.
// It is not safe for concurrent use.
type Iterator struct {
	processor         *Processor
	threshold         float32
	windowSize        int
	minSilenceSamples int64
	speechPadSamples  int64

	pending       []float32
	currentSample int64
	tempEnd       int64
	triggered     bool
}

// NewIterator creates a streaming speech region detector.
func NewIterator(cfg IteratorConfig) (*Iterator, error) {
	processor, err := NewProcessor(cfg.Threshold, cfg.WindowSize, cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create VAD processor: %w", err)
	}

	return &Iterator{
		processor:         processor,
		threshold:         cfg.Threshold,
		windowSize:        cfg.WindowSize,
		minSilenceSamples: int64(cfg.SampleRate * cfg.MinSilenceMs / 1000),
		speechPadSamples:  int64(cfg.SampleRate * cfg.SpeechPadMs / 1000),
	}, nil
}

// Reset clears all state, including the sample position.
func (it *Iterator) Reset() {
	it.processor.Reset()
	it.pending = it.pending[:0]
	it.currentSample = 0
	it.tempEnd = 0
	it.triggered = false
}

// Stats returns the detection statistics since the last Reset.
func (it *Iterator) Stats() ProcessorStats {
	return it.processor.GetStats()
}

// Triggered reports whether the iterator is inside a speech region.
func (it *Iterator) Triggered() bool {
	return it.triggered
}

// Feed consumes samples and reports the boundaries crossed by the complete
// windows they contain. Incomplete windows are kept for the next call. An
// end followed by a new start within one call is merged away, so the region
// is treated as continuing. ok is false when no boundary was crossed.
func (it *Iterator) Feed(samples []float32) (Event, bool) {
	it.pending = append(it.pending, samples...)

	var merged *Event
	for len(it.pending) >= it.windowSize {
		ev, found, err := it.step(it.pending[:it.windowSize])
		it.pending = it.pending[it.windowSize:]
		if err != nil || !found {
			continue
		}

		if merged == nil {
			merged = &ev
			continue
		}
		if ev.HasEnd() {
			merged.End = ev.End
		}
		if ev.HasStart() && merged.HasEnd() {
			merged.End = -1
		}
	}

	// Compact so the backing array does not grow without bound.
	if len(it.pending) > 0 {
		it.pending = append(make([]float32, 0, it.windowSize), it.pending...)
	}

	if merged == nil || (!merged.HasStart() && !merged.HasEnd()) {
		return Event{Start: -1, End: -1}, false
	}
	return *merged, true
}

func (it *Iterator) step(window []float32) (Event, bool, error) {
	result, err := it.processor.Process(window)
	if err != nil {
		return Event{}, false, err
	}

	window64 := int64(it.windowSize)
	it.currentSample += window64

	if result.Probability >= it.threshold && it.tempEnd != 0 {
		it.tempEnd = 0
	}

	if result.Probability >= it.threshold && !it.triggered {
		it.triggered = true
		start := it.currentSample - it.speechPadSamples - window64
		if start < 0 {
			start = 0
		}
		return Event{Start: start, End: -1}, true, nil
	}

	if result.Probability < it.threshold-negativeThresholdDelta && it.triggered {
		if it.tempEnd == 0 {
			it.tempEnd = it.currentSample
		}
		if it.currentSample-it.tempEnd < it.minSilenceSamples {
			return Event{}, false, nil
		}
		end := it.tempEnd + it.speechPadSamples - window64
		it.tempEnd = 0
		it.triggered = false
		return Event{Start: -1, End: end}, true, nil
	}

	return Event{}, false, nil
}
