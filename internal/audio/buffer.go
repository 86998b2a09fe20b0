package audio

import "sync"

// Buffer holds a sliding window of samples together with the absolute time
// of its first sample, so trimmed audio keeps its place on the timeline.
type Buffer struct {
	samples []float32
	offset  float64 // Seconds from stream start to samples[0]

	// Statistics
	totalAppended uint64
	totalTrimmed  uint64

	mu sync.RWMutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	Samples       int     `json:"samples"`
	OffsetSeconds float64 `json:"offset_seconds"`
	Duration      float64 `json:"duration_seconds"`
	TotalAppended uint64  `json:"total_appended"`
	TotalTrimmed  uint64  `json:"total_trimmed"`
}

// NewBuffer creates an empty buffer starting at offset seconds.
func NewBuffer(offset float64) *Buffer {
	return &Buffer{
		samples: make([]float32, 0, SampleRate*4),
		offset:  offset,
	}
}

// Reset empties the buffer and moves it to offset.
func (b *Buffer) Reset(offset float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = b.samples[:0]
	b.offset = offset
}

// Append adds samples to the end of the buffer.
func (b *Buffer) Append(samples []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.samples = append(b.samples, samples...)
	b.totalAppended += uint64(len(samples))
}

// TrimTo drops audio before the absolute time t and moves the offset to t.
// Times before the current offset are ignored.
func (b *Buffer) TrimTo(t float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cut := int((t - b.offset) * SampleRate)
	if cut <= 0 {
		return
	}
	if cut > len(b.samples) {
		cut = len(b.samples)
	}

	remaining := make([]float32, len(b.samples)-cut, cap(b.samples))
	copy(remaining, b.samples[cut:])
	b.samples = remaining
	b.offset = t
	b.totalTrimmed += uint64(cut)
}

// Advance drops all samples and moves the offset past them.
func (b *Buffer) Advance() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.offset += Duration(len(b.samples))
	b.totalTrimmed += uint64(len(b.samples))
	b.samples = b.samples[:0]
}

// Samples returns a copy of the buffered samples.
func (b *Buffer) Samples() []float32 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	return out
}

// Offset returns the absolute time of the first buffered sample.
func (b *Buffer) Offset() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.offset
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// Duration returns the buffered audio length in seconds.
func (b *Buffer) Duration() float64 {
	return Duration(b.Len())
}

// GetStats returns current buffer statistics
func (b *Buffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		Samples:       len(b.samples),
		OffsetSeconds: b.offset,
		Duration:      Duration(len(b.samples)),
		TotalAppended: b.totalAppended,
		TotalTrimmed:  b.totalTrimmed,
	}
}
