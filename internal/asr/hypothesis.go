package asr

import (
	"math"
	"strings"
)

// maxNgram bounds the overlap search between committed and new words.
const maxNgram = 5

// hypothesisBuffer commits words once two consecutive transcriptions agree on
// them. Times are absolute.
type hypothesisBuffer struct {
	committedInBuffer []Word
	buffer            []Word // Previous hypothesis, not yet committed
	incoming          []Word

	lastCommittedTime float64
}

// insert takes a new hypothesis with clip-relative times.
func (h *hypothesisBuffer) insert(words []Word, offset float64) {
	h.incoming = h.incoming[:0]
	for _, w := range words {
		w.Start += offset
		w.End += offset
		if w.Start > h.lastCommittedTime-0.1 {
			h.incoming = append(h.incoming, w)
		}
	}

	if len(h.incoming) == 0 || len(h.committedInBuffer) == 0 {
		return
	}
	if math.Abs(h.incoming[0].Start-h.lastCommittedTime) >= 1 {
		return
	}

	// Drop a prefix of the new words repeating the tail of what is committed.
	cn, nn := len(h.committedInBuffer), len(h.incoming)
	limit := min(cn, nn, maxNgram)
	for i := 1; i <= limit; i++ {
		tail := wordTexts(h.committedInBuffer[cn-i:])
		head := wordTexts(h.incoming[:i])
		if tail == head {
			h.incoming = h.incoming[i:]
			break
		}
	}
}

// flush returns the longest common prefix of the previous and the new
// hypothesis and keeps the rest of the new one for the next round.
func (h *hypothesisBuffer) flush() []Word {
	var commit []Word
	for len(h.incoming) > 0 && len(h.buffer) > 0 {
		if normalizeWord(h.incoming[0].Text) != normalizeWord(h.buffer[0].Text) {
			break
		}
		commit = append(commit, h.incoming[0])
		h.lastCommittedTime = h.incoming[0].End
		h.buffer = h.buffer[1:]
		h.incoming = h.incoming[1:]
	}

	h.buffer = append([]Word(nil), h.incoming...)
	h.incoming = h.incoming[:0]
	h.committedInBuffer = append(h.committedInBuffer, commit...)
	return commit
}

// popCommitted forgets committed words ending at or before t.
func (h *hypothesisBuffer) popCommitted(t float64) {
	i := 0
	for i < len(h.committedInBuffer) && h.committedInBuffer[i].End <= t {
		i++
	}
	h.committedInBuffer = h.committedInBuffer[i:]
}

// complete returns the uncommitted hypothesis.
func (h *hypothesisBuffer) complete() []Word {
	return h.buffer
}

func wordTexts(words []Word) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = normalizeWord(w.Text)
	}
	return strings.Join(parts, " ")
}

func normalizeWord(text string) string {
	return strings.TrimSpace(text)
}
