package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/whisper-stream/internal/asr"
	"github.com/skypro1111/whisper-stream/internal/audio"
	"github.com/skypro1111/whisper-stream/internal/config"
	"github.com/skypro1111/whisper-stream/internal/metrics"
	"github.com/skypro1111/whisper-stream/internal/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedTranscriber returns the scripted words that fit in the clip.
type scriptedTranscriber struct {
	words []asr.Word
	err   error

	mu    sync.Mutex
	calls int
}

func (s *scriptedTranscriber) Transcribe(ctx context.Context, samples []float32, prompt string) (*asr.Transcription, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	duration := audio.Duration(len(samples))
	result := &asr.Transcription{}
	var texts []string
	for _, w := range s.words {
		if w.End <= duration {
			result.Words = append(result.Words, w)
			texts = append(texts, w.Text)
		}
	}
	result.Text = strings.Join(texts, " ")
	return result, nil
}

func (s *scriptedTranscriber) UseVAD()           {}
func (s *scriptedTranscriber) SetTranslateTask() {}
func (s *scriptedTranscriber) Name() string      { return "scripted" }

func (s *scriptedTranscriber) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func helloWorld() *scriptedTranscriber {
	return &scriptedTranscriber{words: []asr.Word{
		{Start: 0.1, End: 0.5, Text: "hello"},
		{Start: 1.2, End: 1.6, Text: "world"},
	}}
}

func newTestFactory(transcriber asr.Transcriber) *asr.Factory {
	cfg := asr.DefaultConfig()
	cfg.MinChunkSize = 1
	return asr.NewFactory(cfg, transcriber, testLogger())
}

func newTestMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.NewRegistry())
}

func newTestConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.HTTP.Address = "127.0.0.1"
	cfg.WebSocket.Address = "127.0.0.1"
	cfg.Audio.ReadTimeoutMs = 10
	return cfg
}

// pcm returns seconds of a constant non-silent signal as PCM16 bytes.
func pcm(seconds float64) []byte {
	samples := make([]float32, int(seconds*audio.SampleRate))
	for i := range samples {
		samples[i] = 0.2
	}
	return audio.EncodePCM16(samples)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Condition not met before timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var errBackendDown = errors.New("backend down")

func newStoppedManager(t *testing.T) *stream.Manager {
	t.Helper()
	mgr := stream.NewManager(testLogger(), 0, nil)
	t.Cleanup(mgr.Stop)
	return mgr
}
