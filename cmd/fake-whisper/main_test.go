package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/skypro1111/whisper-stream/internal/audio"
)

func clip(levels ...float32) []float32 {
	// One second per level
	var samples []float32
	for _, level := range levels {
		for i := 0; i < audio.SampleRate; i++ {
			samples = append(samples, level)
		}
	}
	return samples
}

func TestFakeTranscriptionFollowsSpeech(t *testing.T) {
	resp, err := fakeTranscription(clip(0, 0.3, 0, 0, 0.3, 0), []string{"ask"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if resp.Duration != 6 {
		t.Errorf("Expected duration 6, got %v", resp.Duration)
	}
	if len(resp.Words) != 2 {
		t.Fatalf("Expected 2 words, got %d: %+v", len(resp.Words), resp.Words)
	}
	if resp.Text != "ask ask" {
		t.Errorf("Expected text %q, got %q", "ask ask", resp.Text)
	}
	if resp.Words[0].End > resp.Words[1].Start {
		t.Errorf("Expected ordered words, got %+v", resp.Words)
	}
}

func TestFakeTranscriptionSilence(t *testing.T) {
	resp, err := fakeTranscription(clip(0, 0), []string{"a"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Text != "" || len(resp.Words) != 0 {
		t.Errorf("Expected empty transcription, got %+v", resp)
	}
}

func TestTranscribeHandler(t *testing.T) {
	phrase = "hello"
	delay = 0

	wav, err := audio.EncodeWAV(clip(0, 0.3, 0), audio.SampleRate)
	if err != nil {
		t.Fatalf("Failed to encode WAV: %v", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, _ := writer.CreateFormFile("file", "audio.wav")
	part.Write(wav)
	writer.WriteField("language", "de")
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/audio/transcriptions", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()

	transcribeHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), "en")(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp verboseResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Text != "hello" || resp.Language != "de" {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestTranscribeHandlerRejectsGarbage(t *testing.T) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, _ := writer.CreateFormFile("file", "audio.wav")
	part.Write([]byte("not a wav"))
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/audio/transcriptions", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()

	transcribeHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), "en")(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestTranscribeHandlerRejectsSampleRate(t *testing.T) {
	wav, err := audio.EncodeWAV(make([]float32, 8000), 8000)
	if err != nil {
		t.Fatalf("Failed to encode WAV: %v", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, _ := writer.CreateFormFile("file", "audio.wav")
	part.Write(wav)
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/audio/transcriptions", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()

	transcribeHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), "en")(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}
