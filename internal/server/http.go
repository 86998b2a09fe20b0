package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/whisper-stream/internal/asr"
	"github.com/skypro1111/whisper-stream/internal/audio"
	"github.com/skypro1111/whisper-stream/internal/config"
	"github.com/skypro1111/whisper-stream/internal/metrics"
	"github.com/skypro1111/whisper-stream/internal/stream"
)

// Version is reported by the API and the CLI
var Version = "dev"

// HTTPDependencies are the components exposed by the HTTP API. TCPServer and
// WebSocketServer may be nil when those transports are disabled.
type HTTPDependencies struct {
	StreamManager   *stream.Manager
	TCPServer       *TCPServer
	WebSocketServer *WebSocketServer
	Factory         *asr.Factory
	Cache           *audio.Cache
	Metrics         *metrics.Metrics
	Gatherer        prometheus.Gatherer // nil serves the default registry
}

// HTTPServer provides HTTP API endpoints for monitoring and file transcription
type HTTPServer struct {
	server    *http.Server
	router    chi.Router
	logger    *slog.Logger
	config    *config.Config
	streamMgr *stream.Manager
	tcpServer *TCPServer
	wsServer  *WebSocketServer
	factory   *asr.Factory
	cache     *audio.Cache
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, deps HTTPDependencies) *HTTPServer {
	h := &HTTPServer{
		logger:    logger.With(slog.String("component", "http_server")),
		config:    appConfig,
		streamMgr: deps.StreamManager,
		tcpServer: deps.TCPServer,
		wsServer:  deps.WebSocketServer,
		factory:   deps.Factory,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		gatherer:  deps.Gatherer,
		startTime: time.Now(),
	}

	h.router = h.routes()

	h.server = &http.Server{
		Addr:              net.JoinHostPort(appConfig.HTTP.Address, fmt.Sprintf("%d", appConfig.HTTP.Port)),
		Handler:           h.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// Handler returns the API router
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// routes configures HTTP API routes
func (h *HTTPServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", h.withMetrics("/", h.handleRoot))
	r.Get("/health", h.withMetrics("/health", h.handleHealth))
	r.Get("/sessions", h.withMetrics("/sessions", h.handleSessions))
	r.Get("/sessions/{id}", h.withMetrics("/sessions/{id}", h.handleSessionDetail))
	r.Get("/config", h.withMetrics("/config", h.handleConfig))
	r.Get("/stats", h.withMetrics("/stats", h.handleStats))
	r.Get("/files/{fileId}", h.withMetrics("/files/{fileId}", h.handleFile))
	r.Get("/fileIds/{fileId}", h.withMetrics("/fileIds/{fileId}", h.handleFileIndex))

	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	// The upgrade needs the raw ResponseWriter, so no metrics wrapper here
	if h.wsServer != nil {
		r.Get("/ws", h.wsServer.Handler().ServeHTTP)
	}

	return r
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		if h.metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP port: %w", err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]interface{}{
		"session_manager": map[string]interface{}{
			"status":          "running",
			"active_sessions": h.streamMgr.GetActiveSessionCount(),
		},
	}

	if h.tcpServer != nil {
		stats := h.tcpServer.GetStatistics()
		components["tcp_server"] = map[string]interface{}{
			"status":               "running",
			"connections_accepted": stats.ConnectionsAccepted,
			"open_connections":     stats.OpenConnections,
		}
	}
	if h.wsServer != nil {
		stats := h.wsServer.GetStatistics()
		components["websocket_server"] = map[string]interface{}{
			"status":             "running",
			"active_connections": stats.ActiveConnections,
		}
	}
	if h.factory != nil {
		components["asr"] = map[string]interface{}{
			"status":  "running",
			"backend": h.factory.Transcriber().Name(),
			"vac":     h.factory.Config().VAC,
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    "whisper-stream",
			"version": Version,
		},
		"components": components,
	}

	writeJSON(w, http.StatusOK, health)
}

// handleSessions implements the /sessions endpoint
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	infos := h.streamMgr.ListSessionInfo()

	response := map[string]interface{}{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleSessionDetail implements the /sessions/{id} endpoint
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, exists := h.streamMgr.GetSession(id)
	if !exists {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, session.GetSessionInfo())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.config.Sanitized())
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]interface{}{
			"active_count": h.streamMgr.GetActiveSessionCount(),
		},
	}

	if h.tcpServer != nil {
		stats["tcp"] = h.tcpServer.GetStatistics()
	}
	if h.wsServer != nil {
		stats["websocket"] = h.wsServer.GetStatistics()
	}
	if h.cache != nil {
		stats["decode_cache"] = h.cache.GetStats()
	}
	if h.factory != nil {
		if backend, ok := asr.BackendStats(h.factory.Transcriber()); ok {
			stats["backend"] = backend
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleFile implements the /files/{fileId} endpoint
func (h *HTTPServer) handleFile(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileId")
	if !validFileID(fileID) {
		http.Error(w, "Invalid file ID", http.StatusBadRequest)
		return
	}
	h.transcribeSample(w, r, fileID)
}

// handleFileIndex implements the /fileIds/{fileId} endpoint, which only
// accepts non-negative integer IDs
func (h *HTTPServer) handleFileIndex(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "fileId"))
	if err != nil || index < 0 {
		http.Error(w, "File ID must be a non-negative integer", http.StatusUnprocessableEntity)
		return
	}
	h.transcribeSample(w, r, strconv.Itoa(index))
}

// transcribeSample transcribes the first minimum chunk of
// samples_jfk<fileID>.wav with a fresh engine
func (h *HTTPServer) transcribeSample(w http.ResponseWriter, r *http.Request, fileID string) {
	if h.factory == nil || h.cache == nil {
		http.Error(w, "Transcription unavailable", http.StatusServiceUnavailable)
		return
	}

	path := filepath.Join(h.config.HTTP.FilesDir, "samples_jfk"+fileID+".wav")
	if _, err := os.Stat(path); err != nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	minChunk := h.factory.Config().MinChunkSize
	clip, err := h.cache.LoadRange(path, 0, minChunk)
	if err != nil {
		h.logger.Error("Failed to load sample file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Failed to load audio", http.StatusInternalServerError)
		return
	}

	engine, err := h.factory.NewEngine()
	if err != nil {
		http.Error(w, "Failed to create engine", http.StatusInternalServerError)
		return
	}

	seg, err := transcribeClip(r.Context(), engine, clip)
	if err != nil {
		h.logger.Error("Failed to transcribe sample file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Transcription failed", http.StatusBadGateway)
		return
	}

	if !seg.Ready {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%1.0f %1.0f %s", seg.Start*1000, seg.End*1000, seg.Text)
}

// transcribeClip runs one engine iteration over clip and falls back to the
// uncommitted tail when nothing was committed yet
func transcribeClip(ctx context.Context, engine asr.Engine, clip []float32) (asr.Segment, error) {
	engine.Init()
	engine.InsertAudioChunk(clip)

	seg, err := engine.ProcessIter(ctx)
	if err != nil {
		return asr.NoSegment(), err
	}
	if seg.Ready {
		return seg, nil
	}
	return engine.Finish(ctx)
}

func validFileID(id string) bool {
	if id == "" {
		return false
	}
	return strings.IndexFunc(id, func(r rune) bool {
		return !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '_' || r == '-')
	}) < 0
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": "Whisper Streaming Service",
		"version": Version,
		"endpoints": map[string]interface{}{
			"GET /":                 "API documentation",
			"GET /health":           "Service health check",
			"GET /sessions":         "List active transcription sessions",
			"GET /sessions/{id}":    "Get detailed session information",
			"GET /config":           "Get service configuration",
			"GET /stats":            "Get service statistics",
			"GET /files/{fileId}":   "Transcribe the first chunk of a sample file",
			"GET /fileIds/{fileId}": "Same as /files with an integer ID",
			"GET /metrics":          "Prometheus metrics",
			"GET /ws":               "WebSocket audio streaming",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
