package asr

import (
	"context"
	"errors"
	"strings"
)

// ErrIteration signals that one engine iteration could not produce a
// result, for example because the buffered audio was insufficient. The
// caller skips the iteration and continues.
var ErrIteration = errors.New("asr: iteration fault")

// Segment is the result of one engine step. Ready is false when nothing was
// recognized; Start and End are then meaningless.
type Segment struct {
	Start float64 // Seconds from stream start
	End   float64
	Text  string
	Ready bool
}

// NoSegment is the result of an iteration that recognized nothing.
func NoSegment() Segment {
	return Segment{}
}

// NewSegment returns a ready segment.
func NewSegment(start, end float64, text string) Segment {
	return Segment{Start: start, End: end, Text: text, Ready: true}
}

// Word is a timestamped word of a transcription.
type Word struct {
	Start float64
	End   float64
	Text  string
}

// Transcription is the output of a batch transcriber for one clip. Times are
// relative to the start of the clip.
type Transcription struct {
	Text        string
	Language    string
	Words       []Word
	SegmentEnds []float64
}

// Engine is a stateful incremental recognizer owned by one session.
type Engine interface {
	// Init resets the engine for a new stream.
	Init()

	// InsertAudioChunk appends 16 kHz mono samples.
	InsertAudioChunk(samples []float32)

	// ProcessIter runs one recognition step over the buffered audio and
	// returns newly committed text. Errors wrapping ErrIteration are
	// recoverable.
	ProcessIter(ctx context.Context) (Segment, error)

	// Finish flushes uncommitted text at the end of the stream.
	Finish(ctx context.Context) (Segment, error)
}

// Transcriber is a batch recognizer shared by all engines of a process.
type Transcriber interface {
	// Transcribe recognizes a complete clip, conditioned on prompt.
	Transcribe(ctx context.Context, samples []float32, prompt string) (*Transcription, error)

	// UseVAD makes the backend ignore non-speech audio.
	UseVAD()

	// SetTranslateTask switches the backend from transcription to translation.
	SetTranslateTask()

	// Name identifies the backend in logs and metrics.
	Name() string
}

// joinWords concatenates word texts with single spaces.
func joinWords(words []Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if text := strings.TrimSpace(w.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// toSegment turns a run of words into one segment.
func toSegment(words []Word) Segment {
	if len(words) == 0 {
		return NoSegment()
	}
	return NewSegment(words[0].Start, words[len(words)-1].End, joinWords(words))
}
