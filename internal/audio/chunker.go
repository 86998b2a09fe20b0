package audio

import (
	"fmt"
	"math"
	"sync"
)

// Chunker collects raw PCM16 messages until they hold a minimum duration of
// audio and then releases them as one decoded clip.
type Chunker struct {
	minBytes int
	pending  []byte

	// Statistics
	chunksCreated uint64
	bytesReceived uint64
	totalDuration float64

	mu sync.Mutex
}

// ChunkerStats represents chunker statistics
type ChunkerStats struct {
	ChunksCreated uint64  `json:"chunks_created"`
	BytesReceived uint64  `json:"bytes_received"`
	PendingBytes  int     `json:"pending_bytes"`
	TotalDuration float64 `json:"total_duration_sec"`
	AvgChunkSize  float64 `json:"avg_chunk_duration_sec"`
}

// NewChunker creates a chunker releasing clips of at least minSeconds.
func NewChunker(minSeconds float64) *Chunker {
	minBytes := int(math.Round(minSeconds*SampleRate)) * BytesPerSample
	if minBytes < BytesPerSample {
		minBytes = BytesPerSample
	}
	return &Chunker{minBytes: minBytes}
}

// Add appends a message. When enough audio is pending it returns the decoded
// clip and clears the buffer; otherwise it returns nil.
func (c *Chunker) Add(data []byte) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = append(c.pending, data...)
	c.bytesReceived += uint64(len(data))
	if len(c.pending) < c.minBytes {
		return nil, nil
	}

	return c.release()
}

// Flush releases whatever is pending, regardless of length.
func (c *Chunker) Flush() ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) < BytesPerSample {
		c.pending = c.pending[:0]
		return nil, nil
	}
	return c.release()
}

func (c *Chunker) release() ([]float32, error) {
	data := c.pending[:len(c.pending)-len(c.pending)%BytesPerSample]
	samples, err := DecodePCM16(data)
	c.pending = c.pending[:0]
	if err != nil {
		return nil, fmt.Errorf("failed to decode chunk: %w", err)
	}

	c.chunksCreated++
	c.totalDuration += Duration(len(samples))
	return samples, nil
}

// Pending returns the number of buffered bytes.
func (c *Chunker) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// GetStats returns current chunker statistics
func (c *Chunker) GetStats() ChunkerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	avg := float64(0)
	if c.chunksCreated > 0 {
		avg = c.totalDuration / float64(c.chunksCreated)
	}

	return ChunkerStats{
		ChunksCreated: c.chunksCreated,
		BytesReceived: c.bytesReceived,
		PendingBytes:  len(c.pending),
		TotalDuration: c.totalDuration,
		AvgChunkSize:  avg,
	}
}
