package asr

import (
	"context"
	"time"
)

// TranscriptionObserver is notified after every backend request.
type TranscriptionObserver interface {
	RecordTranscription(backend string, duration time.Duration, err error)
}

type observedTranscriber struct {
	Transcriber
	observer TranscriptionObserver
}

// WithObserver wraps t so that every Transcribe call is reported to observer.
func WithObserver(t Transcriber, observer TranscriptionObserver) Transcriber {
	if observer == nil {
		return t
	}
	return &observedTranscriber{Transcriber: t, observer: observer}
}

func (o *observedTranscriber) Transcribe(ctx context.Context, samples []float32, prompt string) (*Transcription, error) {
	start := time.Now()
	result, err := o.Transcriber.Transcribe(ctx, samples, prompt)
	o.observer.RecordTranscription(o.Name(), time.Since(start), err)
	return result, err
}

// BackendStats returns the request statistics of t, looking through
// observer wrappers. ok is false for backends that keep none.
func BackendStats(t Transcriber) (stats ClientStats, ok bool) {
	if o, wrapped := t.(*observedTranscriber); wrapped {
		t = o.Transcriber
	}
	if c, isClient := t.(*WhisperClient); isClient {
		return c.GetStats(), true
	}
	return ClientStats{}, false
}
