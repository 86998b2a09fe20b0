// Package main provides a stand-in for a faster-whisper HTTP server. It
// answers OpenAI-style transcription requests with verbose_json bodies built
// from the speech regions of the uploaded WAV, which is enough to drive
// whisper-stream end to end without a GPU.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/skypro1111/whisper-stream/internal/audio"
	"github.com/skypro1111/whisper-stream/internal/vad"
)

const maxUploadBytes = 32 << 20

var (
	address string
	phrase  string
	delay   time.Duration
)

// verboseResponse mirrors the verbose_json transcription body
type verboseResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []verboseSegment `json:"segments"`
	Words    []verboseWord    `json:"words"`
}

type verboseSegment struct {
	ID           int     `json:"id"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

type verboseWord struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Word  string  `json:"word"`
}

var rootCmd = &cobra.Command{
	Use:   "fake-whisper",
	Short: "Serve fake Whisper transcriptions for local testing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		r := chi.NewRouter()
		r.Use(middleware.Recoverer)
		r.Post("/v1/audio/transcriptions", transcribeHandler(logger, "en"))
		r.Post("/v1/audio/translations", transcribeHandler(logger, "en"))

		logger.Info("Fake Whisper server starting",
			slog.String("address", address),
			slog.String("endpoint", fmt.Sprintf("http://%s/v1/audio/transcriptions", address)),
		)
		return http.ListenAndServe(address, r)
	},
}

func init() {
	rootCmd.Flags().StringVar(&address, "address", "localhost:8000", "Listen address")
	rootCmd.Flags().StringVar(&phrase, "phrase", "and so my fellow americans ask not what your country can do for you", "Words used for recognized speech")
	rootCmd.Flags().DurationVar(&delay, "delay", 200*time.Millisecond, "Simulated processing time per request")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func transcribeHandler(logger *slog.Logger, defaultLanguage string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			http.Error(w, "Error parsing form", http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Error getting audio file", http.StatusBadRequest)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			http.Error(w, "Error reading audio file", http.StatusInternalServerError)
			return
		}

		info, err := audio.GetWAVInfo(data)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid WAV: %v", err), http.StatusBadRequest)
			return
		}
		if info.SampleRate != audio.SampleRate {
			http.Error(w, fmt.Sprintf("Expected %d Hz audio, got %d", audio.SampleRate, info.SampleRate), http.StatusBadRequest)
			return
		}

		samples, _, err := audio.DecodeWAV(data)
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid WAV: %v", err), http.StatusBadRequest)
			return
		}

		language := r.FormValue("language")
		if language == "" {
			language = defaultLanguage
		}

		resp, err := fakeTranscription(samples, strings.Fields(phrase))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp.Language = language

		logger.Info("Transcription request",
			slog.String("filename", header.Filename),
			slog.Int("bytes", len(data)),
			slog.Int("channels", int(info.Channels)),
			slog.Float64("duration", resp.Duration),
			slog.Int("words", len(resp.Words)),
			slog.Bool("vad_filter", r.FormValue("vad_filter") == "true"),
			slog.Int("prompt_chars", len(r.FormValue("prompt"))),
		)

		time.Sleep(delay)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// fakeTranscription emits one word per speech region. The word is picked from
// words by the region's loudness, so overlapping clips of the same speech
// mostly agree on the text.
func fakeTranscription(samples []float32, words []string) (*verboseResponse, error) {
	resp := &verboseResponse{
		Duration: audio.Duration(len(samples)),
		Segments: []verboseSegment{},
		Words:    []verboseWord{},
	}
	if len(words) == 0 {
		return resp, nil
	}

	regions, err := vad.DetectRegions(samples, vad.DefaultIteratorConfig())
	if err != nil {
		return nil, fmt.Errorf("speech detection failed: %w", err)
	}

	texts := make([]string, 0, len(regions))
	for i, region := range regions {
		word := words[loudnessIndex(samples[region.Start:region.End], len(words))]
		start := audio.Duration(int(region.Start))
		end := audio.Duration(int(region.End))

		resp.Words = append(resp.Words, verboseWord{Start: start, End: end, Word: " " + word})
		resp.Segments = append(resp.Segments, verboseSegment{ID: i, Start: start, End: end, Text: " " + word})
		texts = append(texts, word)
	}
	resp.Text = strings.Join(texts, " ")

	return resp, nil
}

func loudnessIndex(samples []float32, n int) int {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return int(rms*1000) % n
}
