package asr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/skypro1111/whisper-stream/internal/audio"
)

const (
	// promptChars is the amount of scrolled-out text used as prompt.
	promptChars = 200

	// sentenceTrimFallbackSec forces segment trimming in sentence mode.
	sentenceTrimFallbackSec = 30
)

// OnlineProcessor turns a batch Transcriber into an incremental Engine. Each
// iteration re-transcribes the whole buffer and commits the words on which
// the last two hypotheses agree. It is owned by one session.
type OnlineProcessor struct {
	transcriber Transcriber
	trimming    string
	trimmingSec float64
	logger      *slog.Logger

	buffer     *audio.Buffer
	hypotheses *hypothesisBuffer
	committed  []Word
}

// NewOnlineProcessor creates an engine over transcriber.
func NewOnlineProcessor(transcriber Transcriber, trimming string, trimmingSec float64, logger *slog.Logger) *OnlineProcessor {
	if trimming == "" {
		trimming = TrimSegment
	}
	if trimmingSec <= 0 {
		trimmingSec = 15
	}

	p := &OnlineProcessor{
		transcriber: transcriber,
		trimming:    trimming,
		trimmingSec: trimmingSec,
		logger:      logger.With(slog.String("component", "online_processor")),
	}
	p.Init()
	return p
}

// Init resets the processor to an empty stream starting at zero
func (p *OnlineProcessor) Init() {
	p.InitAt(0)
}

// InitAt resets the processor to an empty stream starting at offset seconds.
func (p *OnlineProcessor) InitAt(offset float64) {
	p.buffer = audio.NewBuffer(offset)
	p.hypotheses = &hypothesisBuffer{lastCommittedTime: offset}
	p.committed = nil
}

// InsertAudioChunk appends samples to the working buffer
func (p *OnlineProcessor) InsertAudioChunk(samples []float32) {
	p.buffer.Append(samples)
}

// BufferDuration returns the length of the working buffer in seconds.
func (p *OnlineProcessor) BufferDuration() float64 {
	return p.buffer.Duration()
}

// prompt returns committed text that already scrolled out of the buffer,
// limited to the last promptChars characters.
func (p *OnlineProcessor) prompt() string {
	offset := p.buffer.Offset()

	k := len(p.committed) - 1
	if k < 0 {
		k = 0
	}
	for k > 0 && p.committed[k-1].End > offset {
		k--
	}

	var parts []string
	length := 0
	for i := k - 1; i >= 0 && length < promptChars; i-- {
		text := strings.TrimSpace(p.committed[i].Text)
		parts = append(parts, text)
		length += len(text) + 1
	}

	// Reverse into chronological order.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " ")
}

// ProcessIter transcribes the buffer and returns the newly committed words
func (p *OnlineProcessor) ProcessIter(ctx context.Context) (Segment, error) {
	samples := p.buffer.Samples()
	if len(samples) == 0 {
		return NoSegment(), nil
	}

	prompt := p.prompt()
	result, err := p.transcriber.Transcribe(ctx, samples, prompt)
	if err != nil {
		return NoSegment(), fmt.Errorf("%w: %w", ErrIteration, err)
	}

	p.hypotheses.insert(result.Words, p.buffer.Offset())
	commit := p.hypotheses.flush()
	p.committed = append(p.committed, commit...)

	p.logger.Debug("Processed iteration",
		slog.Float64("buffer_offset", p.buffer.Offset()),
		slog.Float64("buffer_seconds", audio.Duration(len(samples))),
		slog.Int("committed_words", len(commit)),
		slog.Int("pending_words", len(p.hypotheses.complete())))

	if len(commit) > 0 && p.trimming == TrimSentence && p.buffer.Duration() > p.trimmingSec {
		p.chunkCompletedSentence()
	}

	limit := p.trimmingSec
	if p.trimming != TrimSegment {
		limit = sentenceTrimFallbackSec
	}
	if p.buffer.Duration() > limit {
		p.chunkCompletedSegment(result.SegmentEnds)
	}

	return toSegment(commit), nil
}

// chunkCompletedSegment trims at the end of the last segment that finished
// before the last committed word.
func (p *OnlineProcessor) chunkCompletedSegment(segmentEnds []float64) {
	if len(p.committed) == 0 || len(segmentEnds) < 2 {
		return
	}

	offset := p.buffer.Offset()
	lastCommitted := p.committed[len(p.committed)-1].End

	ends := segmentEnds
	e := ends[len(ends)-2] + offset
	for len(ends) > 2 && e > lastCommitted {
		ends = ends[:len(ends)-1]
		e = ends[len(ends)-2] + offset
	}
	if e <= lastCommitted {
		p.logger.Debug("Trimming buffer at segment end", slog.Float64("at", e))
		p.chunkAt(e)
	}
}

// chunkCompletedSentence trims at the end of the second to last committed
// sentence.
func (p *OnlineProcessor) chunkCompletedSentence() {
	sentences := splitSentences(p.committed)
	if len(sentences) < 2 {
		return
	}
	at := sentences[len(sentences)-2].End
	p.logger.Debug("Trimming buffer at sentence end", slog.Float64("at", at))
	p.chunkAt(at)
}

func (p *OnlineProcessor) chunkAt(t float64) {
	p.hypotheses.popCommitted(t)
	p.buffer.TrimTo(t)
}

// Finish returns the uncommitted hypothesis and moves the offset past the
// buffered audio
func (p *OnlineProcessor) Finish(ctx context.Context) (Segment, error) {
	seg := toSegment(p.hypotheses.complete())
	p.buffer.Advance()
	return seg, nil
}

// splitSentences groups words into sentences ending with . ? or !.
func splitSentences(words []Word) []Segment {
	var sentences []Segment
	start := 0
	for i, w := range words {
		text := strings.TrimSpace(w.Text)
		if text == "" {
			continue
		}
		switch text[len(text)-1] {
		case '.', '?', '!':
			sentences = append(sentences, toSegment(words[start:i+1]))
			start = i + 1
		}
	}
	if start < len(words) {
		sentences = append(sentences, toSegment(words[start:]))
	}
	return sentences
}
