package asr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const verboseResponse = `{
	"text": " And so my fellow Americans",
	"language": "en",
	"duration": 2.0,
	"segments": [
		{"start": 0.0, "end": 1.0, "text": " And so", "no_speech_prob": 0.01},
		{"start": 1.0, "end": 2.0, "text": " my fellow Americans", "no_speech_prob": 0.02},
		{"start": 2.0, "end": 3.0, "text": " you", "no_speech_prob": 0.95}
	],
	"words": [
		{"start": 0.0, "end": 0.4, "word": " And"},
		{"start": 0.4, "end": 0.9, "word": " so"},
		{"start": 1.0, "end": 1.3, "word": " my"},
		{"start": 1.3, "end": 1.6, "word": " fellow"},
		{"start": 1.6, "end": 2.0, "word": " Americans"},
		{"start": 2.2, "end": 2.5, "word": " you"}
	]
}`

func testConfig(endpoint string) Config {
	cfg := DefaultConfig()
	cfg.Endpoint = endpoint
	cfg.RetryDelay = time.Millisecond
	cfg.Timeout = 5 * time.Second
	return cfg
}

func TestWhisperClientTranscribe(t *testing.T) {
	var fields atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("Expected audio file: %v", err)
		}
		fields.Store(r.MultipartForm.Value)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(verboseResponse))
	}))
	defer server.Close()

	client, err := NewWhisperClient(testConfig(server.URL+"/v1/audio/transcriptions"), testLogger())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	client.UseVAD()

	result, err := client.Transcribe(context.Background(), make([]float32, 16000), "previous text")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if len(result.Words) != 5 {
		t.Fatalf("Expected 5 words without the silent segment, got %d", len(result.Words))
	}
	if result.Words[4].Text != " Americans" {
		t.Errorf("Expected last word Americans, got %q", result.Words[4].Text)
	}
	if len(result.SegmentEnds) != 2 || result.SegmentEnds[1] != 2.0 {
		t.Errorf("Expected segment ends [1 2], got %v", result.SegmentEnds)
	}

	values := fields.Load().(map[string][]string)
	expected := map[string]string{
		"response_format": "verbose_json",
		"prompt":          "previous text",
		"language":        "en",
		"vad_filter":      "true",
		"model":           "large-v3",
	}
	for key, want := range expected {
		if got := values[key]; len(got) != 1 || got[0] != want {
			t.Errorf("Field %s: expected %q, got %v", key, want, got)
		}
	}

	stats := client.GetStats()
	if stats.SuccessRequests != 1 {
		t.Errorf("Expected 1 successful request, got %d", stats.SuccessRequests)
	}
}

func TestWhisperClientRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"text":     "hi",
			"segments": []map[string]interface{}{{"start": 0, "end": 0.5, "text": "hi"}},
		})
	}))
	defer server.Close()

	client, _ := NewWhisperClient(testConfig(server.URL), testLogger())
	result, err := client.Transcribe(context.Background(), make([]float32, 1600), "")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 attempts, got %d", calls.Load())
	}
	// Segments without word timestamps count as single words.
	if len(result.Words) != 1 || result.Words[0].Text != "hi" {
		t.Errorf("Expected one segment word, got %+v", result.Words)
	}
	if stats := client.GetStats(); stats.TotalRetries != 1 {
		t.Errorf("Expected 1 retry, got %d", stats.TotalRetries)
	}
}

func TestWhisperResponseAttachesStrayWords(t *testing.T) {
	resp := &whisperResponse{
		Segments: []whisperSegment{
			{Start: 0, End: 1, Text: "and so"},
			{Start: 2, End: 3, Text: "my fellow"},
			{Start: 3, End: 4, Text: "hmm", NoSpeechProb: 0.99},
		},
		Words: []whisperWord{
			{Start: 0.1, End: 0.4, Word: "and"},
			{Start: 1.2, End: 1.5, Word: "so"},     // gap, closer to the first segment
			{Start: 1.9, End: 2.4, Word: "my"},     // gap, closer to the second segment
			{Start: 2.5, End: 2.9, Word: "fellow"}, // inside
			{Start: 3.2, End: 3.5, Word: "hmm"},    // inside the silent segment
		},
	}

	got := wordTexts(resp.transcription().Words)
	if got != "and so my fellow" {
		t.Errorf("Expected %q, got %q", "and so my fellow", got)
	}

	tests := []struct {
		at       float64
		expected int
	}{
		{-1, 0},
		{0.5, 0},
		{1.2, 0},
		{1.8, 1},
		{3, 2},
		{9, 2},
	}
	for _, tt := range tests {
		if got := nearestSegment(resp.Segments, tt.at); got != tt.expected {
			t.Errorf("nearestSegment(%v): expected %d, got %d", tt.at, tt.expected, got)
		}
	}
}

func TestWhisperClientNonRetryable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client, _ := NewWhisperClient(testConfig(server.URL), testLogger())
	if _, err := client.Transcribe(context.Background(), make([]float32, 1600), ""); err == nil {
		t.Fatal("Expected error for 400 response")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected a single attempt, got %d", calls.Load())
	}
}

func TestWhisperClientTranslateEndpoint(t *testing.T) {
	var path atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		w.Write([]byte(`{"text":""}`))
	}))
	defer server.Close()

	client, _ := NewWhisperClient(testConfig(server.URL+"/v1/audio/transcriptions"), testLogger())
	client.SetTranslateTask()
	if _, err := client.Transcribe(context.Background(), make([]float32, 1600), ""); err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if got := path.Load().(string); got != "/v1/audio/translations" {
		t.Errorf("Expected translation route, got %s", got)
	}
}

func TestOpenAIClientTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(verboseResponse))
	}))
	defer server.Close()

	cfg := testConfig(server.URL + "/v1")
	cfg.Backend = BackendOpenAI
	cfg.APIKey = "test-key"

	client, err := NewOpenAIClient(cfg, testLogger())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	result, err := client.Transcribe(context.Background(), make([]float32, 16000), "")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if len(result.Words) != 5 {
		t.Errorf("Expected 5 words, got %d", len(result.Words))
	}
	if result.Language != "en" {
		t.Errorf("Expected language en, got %q", result.Language)
	}
}

func TestNewTranscriber(t *testing.T) {
	cfg := testConfig("http://localhost:1/v1/audio/transcriptions")
	transcriber, err := NewTranscriber(cfg, testLogger())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if transcriber.Name() != BackendFasterWhisper {
		t.Errorf("Expected %s, got %s", BackendFasterWhisper, transcriber.Name())
	}

	cfg.Backend = BackendOpenAI
	if _, err := NewTranscriber(cfg, testLogger()); err == nil {
		t.Error("Expected error for OpenAI backend without API key")
	}

	cfg.Backend = "mlx-whisper"
	if _, err := NewTranscriber(cfg, testLogger()); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestFactoryNewEngine(t *testing.T) {
	cfg := DefaultConfig()
	factory := NewFactory(cfg, &scriptedTranscriber{}, testLogger())

	engine, err := factory.NewEngine()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, ok := engine.(*OnlineProcessor); !ok {
		t.Errorf("Expected *OnlineProcessor, got %T", engine)
	}

	cfg.VAC = true
	factory = NewFactory(cfg, &scriptedTranscriber{}, testLogger())
	engine, err = factory.NewEngine()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, ok := engine.(*VACProcessor); !ok {
		t.Errorf("Expected *VACProcessor, got %T", engine)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		expectErr bool
	}{
		{name: "defaults", modify: func(c *Config) {}},
		{name: "unknown backend", modify: func(c *Config) { c.Backend = "x" }, expectErr: true},
		{name: "unknown task", modify: func(c *Config) { c.Task = "summarize" }, expectErr: true},
		{name: "unknown trimming", modify: func(c *Config) { c.BufferTrimming = "word" }, expectErr: true},
		{name: "zero min chunk", modify: func(c *Config) { c.MinChunkSize = 0 }, expectErr: true},
		{name: "zero vac chunk", modify: func(c *Config) { c.VAC = true; c.VACChunkSize = 0 }, expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}
