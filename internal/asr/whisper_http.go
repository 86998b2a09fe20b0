package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/skypro1111/whisper-stream/internal/audio"
)

// noSpeechThreshold drops segments the model considers silence.
const noSpeechThreshold = 0.9

// WhisperClient transcribes clips through a faster-whisper compatible HTTP
// server exposing the OpenAI audio transcription route.
type WhisperClient struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // Bounds concurrent requests
	logger     *slog.Logger

	vadFilter bool
	translate bool

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// whisperResponse is the verbose_json body returned by the server
type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []whisperSegment `json:"segments"`
	Words    []whisperWord    `json:"words"`
}

type whisperSegment struct {
	Start        float64       `json:"start"`
	End          float64       `json:"end"`
	Text         string        `json:"text"`
	NoSpeechProb float64       `json:"no_speech_prob"`
	Words        []whisperWord `json:"words"`
}

type whisperWord struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// statusError is a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.code, e.body)
}

// NewWhisperClient creates a new faster-whisper HTTP client
func NewWhisperClient(config Config, logger *slog.Logger) (*WhisperClient, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &WhisperClient{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		logger:     logger.With(slog.String("component", "whisper_client")),
	}, nil
}

// Name identifies the backend
func (c *WhisperClient) Name() string {
	return BackendFasterWhisper
}

// UseVAD asks the server to run its own VAD filter
func (c *WhisperClient) UseVAD() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vadFilter = true
}

// SetTranslateTask switches requests to the translation route
func (c *WhisperClient) SetTranslateTask() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.translate = true
}

// Transcribe sends a clip for transcription
func (c *WhisperClient) Transcribe(ctx context.Context, samples []float32, prompt string) (*Transcription, error) {
	if len(samples) == 0 {
		return &Transcription{}, nil
	}

	wav, err := audio.EncodeWAV(samples, audio.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode clip: %w", err)
	}

	// Acquire semaphore for rate limiting
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalRequests()

	var lastErr error

	// Retry loop with exponential backoff
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * c.config.RetryDelay
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		response, err := c.doRequest(ctx, wav, prompt)
		if err == nil {
			c.incrementSuccessRequests()
			c.updateAvgResponseTime(time.Since(startTime))
			return response.transcription(), nil
		}

		lastErr = err
		c.logger.Debug("Transcription attempt failed",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))

		if !isRetryableError(err) {
			break
		}
	}

	c.incrementFailedRequests()
	return nil, fmt.Errorf("transcription failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// doRequest performs a single HTTP request to the transcription API
func (c *WhisperClient) doRequest(ctx context.Context, wav []byte, prompt string) (*whisperResponse, error) {
	body, contentType, err := c.createMultipartRequest(wav, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "whisper-stream/1.0")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, body: string(respBody)}
	}

	var whisperResp whisperResponse
	if err := json.Unmarshal(respBody, &whisperResp); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return &whisperResp, nil
}

// createMultipartRequest creates a multipart/form-data request body
func (c *WhisperClient) createMultipartRequest(wav []byte, prompt string) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	c.mu.RLock()
	vadFilter := c.vadFilter
	c.mu.RUnlock()

	fields := [][2]string{
		{"model", c.config.Model},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "segment"},
		{"timestamp_granularities[]", "word"},
		{"temperature", "0"},
	}
	if lang := c.config.language(); lang != "" {
		fields = append(fields, [2]string{"language", lang})
	}
	if prompt != "" {
		fields = append(fields, [2]string{"prompt", prompt})
	}
	if vadFilter {
		fields = append(fields, [2]string{"vad_filter", "true"})
	}

	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", field[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func (c *WhisperClient) endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.translate {
		return strings.Replace(c.config.Endpoint, "/transcriptions", "/translations", 1)
	}
	return c.config.Endpoint
}

// transcription converts the response, skipping segments that are likely
// silence.
func (r *whisperResponse) transcription() *Transcription {
	t := &Transcription{Text: strings.TrimSpace(r.Text), Language: r.Language}

	useTopLevelWords := len(r.Words) > 0
	var owners []int
	if useTopLevelWords {
		owners = make([]int, len(r.Words))
		for i, w := range r.Words {
			owners[i] = nearestSegment(r.Segments, w.Start)
		}
	}

	for i, seg := range r.Segments {
		if seg.NoSpeechProb > noSpeechThreshold {
			continue
		}
		t.SegmentEnds = append(t.SegmentEnds, seg.End)

		switch {
		case useTopLevelWords:
			for j, w := range r.Words {
				if owners[j] == i {
					t.Words = append(t.Words, Word{Start: w.Start, End: w.End, Text: w.Word})
				}
			}
		case len(seg.Words) > 0:
			for _, w := range seg.Words {
				t.Words = append(t.Words, Word{Start: w.Start, End: w.End, Text: w.Word})
			}
		default:
			// Without word timestamps each segment counts as one word.
			t.Words = append(t.Words, Word{Start: seg.Start, End: seg.End, Text: seg.Text})
		}
	}

	if len(r.Segments) == 0 && useTopLevelWords {
		for _, w := range r.Words {
			t.Words = append(t.Words, Word{Start: w.Start, End: w.End, Text: w.Word})
		}
	}

	return t
}

// nearestSegment returns the index of the segment containing t, or of the
// closest one when t falls between or outside all of them.
func nearestSegment(segments []whisperSegment, t float64) int {
	for i, seg := range segments {
		if t >= seg.Start && t < seg.End {
			return i
		}
	}

	best, bestDistance := -1, math.Inf(1)
	for i, seg := range segments {
		distance := t - seg.End
		if t < seg.Start {
			distance = seg.Start - t
		}
		if distance < bestDistance {
			best, bestDistance = i, distance
		}
	}
	return best
}

// isRetryableError determines if an error is retryable
func isRetryableError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *statusError
	if errors.As(err, &statusErr) {
		return statusErr.code >= 500 || statusErr.code == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "refused")
}

// Statistics methods
func (c *WhisperClient) incrementTotalRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
}

func (c *WhisperClient) incrementSuccessRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successRequests++
}

func (c *WhisperClient) incrementFailedRequests() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedRequests++
}

func (c *WhisperClient) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *WhisperClient) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *WhisperClient) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalRequests > 0 {
		successRate = float64(c.successRequests) / float64(c.totalRequests) * 100
	}

	return ClientStats{
		TotalRequests:   c.totalRequests,
		SuccessRequests: c.successRequests,
		FailedRequests:  c.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    c.totalRetries,
		AvgResponseTime: c.avgResponseTime,
		ActiveRequests:  len(c.semaphore),
	}
}
