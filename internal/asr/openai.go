package asr

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"

	"github.com/skypro1111/whisper-stream/internal/audio"
	"github.com/skypro1111/whisper-stream/internal/vad"
)

// OpenAIClient transcribes clips with the OpenAI audio API
type OpenAIClient struct {
	client *openai.Client
	config Config
	logger *slog.Logger

	useVAD    bool
	translate bool

	mu sync.RWMutex
}

// NewOpenAIClient creates a backend using the OpenAI audio endpoints.
// Endpoint, when set, replaces the API base URL.
func NewOpenAIClient(config Config, logger *slog.Logger) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.Endpoint != "" && strings.HasPrefix(config.Endpoint, "http") && !strings.Contains(config.Endpoint, "/audio/") {
		clientConfig.BaseURL = config.Endpoint
	}

	if config.Model == "" || !strings.HasPrefix(config.Model, "whisper") && !strings.Contains(config.Model, "transcribe") {
		config.Model = openai.Whisper1
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger.With(slog.String("component", "openai_client")),
	}, nil
}

// Name identifies the backend
func (c *OpenAIClient) Name() string {
	return BackendOpenAI
}

// UseVAD trims leading and trailing silence locally before upload
func (c *OpenAIClient) UseVAD() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.useVAD = true
}

// SetTranslateTask switches requests to the translation endpoint
func (c *OpenAIClient) SetTranslateTask() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.translate = true
}

// Transcribe sends a clip to the OpenAI API
func (c *OpenAIClient) Transcribe(ctx context.Context, samples []float32, prompt string) (*Transcription, error) {
	c.mu.RLock()
	useVAD, translate := c.useVAD, c.translate
	c.mu.RUnlock()

	offset := 0.0
	if useVAD {
		trimmed, start, err := vad.Trim(samples, vad.DefaultIteratorConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to trim silence: %w", err)
		}
		if trimmed == nil {
			return &Transcription{}, nil
		}
		samples = trimmed
		offset = audio.Duration(int(start))
	}

	if len(samples) == 0 {
		return &Transcription{}, nil
	}

	wav, err := audio.EncodeWAV(samples, audio.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode clip: %w", err)
	}

	req := openai.AudioRequest{
		Model:       c.config.Model,
		FilePath:    "audio.wav",
		Reader:      bytes.NewReader(wav),
		Prompt:      prompt,
		Temperature: 0,
		Format:      openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
			openai.TranscriptionTimestampGranularitySegment,
		},
	}

	var resp openai.AudioResponse
	if translate {
		resp, err = c.client.CreateTranslation(ctx, req)
	} else {
		req.Language = c.config.language()
		resp, err = c.client.CreateTranscription(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("OpenAI transcription failed: %w", err)
	}

	return convertAudioResponse(resp, offset), nil
}

// convertAudioResponse maps the verbose response, shifting times by offset
// and dropping words inside segments that are likely silence.
func convertAudioResponse(resp openai.AudioResponse, offset float64) *Transcription {
	t := &Transcription{Text: strings.TrimSpace(resp.Text), Language: resp.Language}

	type span struct{ start, end float64 }
	var silent []span
	for _, seg := range resp.Segments {
		if seg.NoSpeechProb > noSpeechThreshold {
			silent = append(silent, span{seg.Start, seg.End})
			continue
		}
		t.SegmentEnds = append(t.SegmentEnds, seg.End+offset)
	}

	inSilence := func(start float64) bool {
		for _, s := range silent {
			if start >= s.start && start < s.end {
				return true
			}
		}
		return false
	}

	for _, w := range resp.Words {
		if inSilence(w.Start) {
			continue
		}
		t.Words = append(t.Words, Word{Start: w.Start + offset, End: w.End + offset, Text: w.Word})
	}

	if len(resp.Words) == 0 {
		for _, seg := range resp.Segments {
			if seg.NoSpeechProb > noSpeechThreshold {
				continue
			}
			t.Words = append(t.Words, Word{Start: seg.Start + offset, End: seg.End + offset, Text: seg.Text})
		}
	}

	return t
}
