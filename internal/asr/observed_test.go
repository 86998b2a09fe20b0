package asr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type recordingObserver struct {
	mu       sync.Mutex
	backends []string
	errs     []error
}

func (r *recordingObserver) RecordTranscription(backend string, duration time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends = append(r.backends, backend)
	r.errs = append(r.errs, err)
}

func TestWithObserverRecordsRequests(t *testing.T) {
	observer := &recordingObserver{}
	failing := &scriptedTranscriber{err: errors.New("backend down")}

	transcriber := WithObserver(failing, observer)
	if _, err := transcriber.Transcribe(context.Background(), make([]float32, 1600), ""); err == nil {
		t.Fatal("Expected the backend error to pass through")
	}

	if len(observer.backends) != 1 || observer.backends[0] != "scripted" {
		t.Errorf("Expected one scripted request, got %v", observer.backends)
	}
	if observer.errs[0] == nil {
		t.Error("Expected the error to be recorded")
	}

	if WithObserver(failing, nil) != Transcriber(failing) {
		t.Error("Expected a nil observer to leave the transcriber unwrapped")
	}
}

func TestBackendStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"text": ""})
	}))
	defer server.Close()

	client, err := NewWhisperClient(testConfig(server.URL), testLogger())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	transcriber := WithObserver(client, &recordingObserver{})

	if _, err := transcriber.Transcribe(context.Background(), make([]float32, 1600), ""); err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	stats, ok := BackendStats(transcriber)
	if !ok {
		t.Fatal("Expected statistics from a wrapped Whisper client")
	}
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Expected 1 successful request, got %+v", stats)
	}

	if _, ok := BackendStats(&scriptedTranscriber{}); ok {
		t.Error("Expected no statistics from a backend that keeps none")
	}
}
