package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the streaming ASR service
type Metrics struct {
	// Connection metrics
	ConnectionsAccepted *prometheus.CounterVec
	TransportFailures   prometheus.Counter

	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsStarted  prometheus.Counter
	SessionsFinished prometheus.Counter
	SessionDuration  prometheus.Histogram

	// Processing metrics
	AudioSecondsReceived prometheus.Counter
	IterationDuration    prometheus.Histogram
	IterationFaults      prometheus.Counter
	SegmentsEmitted      prometheus.Counter
	DuplicatesSuppressed prometheus.Counter

	// Backend metrics
	TranscriptionRequests *prometheus.CounterVec
	TranscriptionDuration *prometheus.HistogramVec

	// WebSocket and cache metrics
	WebSocketMessages  *prometheus.CounterVec
	DecodeCacheLookups *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Connection metrics
		ConnectionsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_stream_connections_accepted_total",
			Help: "Total number of client connections accepted",
		}, []string{"transport"}),
		TransportFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_stream_transport_failures_total",
			Help: "Total number of failed writes to client connections",
		}),

		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whisper_stream_active_sessions",
			Help: "Current number of active transcription sessions",
		}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_stream_sessions_started_total",
			Help: "Total number of sessions started",
		}),
		SessionsFinished: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_stream_sessions_finished_total",
			Help: "Total number of sessions finished",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_stream_session_duration_seconds",
			Help:    "Duration of transcription sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Processing metrics
		AudioSecondsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_stream_audio_received_seconds_total",
			Help: "Total seconds of audio handed to engines",
		}),
		IterationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisper_stream_iteration_duration_seconds",
			Help:    "Time spent in one engine iteration",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
		IterationFaults: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_stream_iteration_faults_total",
			Help: "Total number of engine iterations that produced no result due to a fault",
		}),
		SegmentsEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_stream_segments_emitted_total",
			Help: "Total number of transcript segments emitted",
		}),
		DuplicatesSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisper_stream_duplicate_lines_suppressed_total",
			Help: "Total number of repeated lines not sent to clients",
		}),

		// Backend metrics
		TranscriptionRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_stream_transcription_requests_total",
			Help: "Total number of backend transcription requests",
		}, []string{"backend", "status"}),
		TranscriptionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whisper_stream_transcription_duration_seconds",
			Help:    "Duration of backend transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}, []string{"backend"}),

		// WebSocket and cache metrics
		WebSocketMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_stream_websocket_messages_total",
			Help: "Total number of WebSocket messages by direction and type",
		}, []string{"direction", "type"}),
		DecodeCacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_stream_decode_cache_lookups_total",
			Help: "Total number of audio decode cache lookups",
		}, []string{"result"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_stream_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whisper_stream_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisper_stream_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordConnectionAccepted counts a new client connection on transport
func (m *Metrics) RecordConnectionAccepted(transport string) {
	m.ConnectionsAccepted.WithLabelValues(transport).Inc()
}

// RecordSessionStarted increments the active sessions gauge
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionEnded decrements the active sessions gauge and records duration
func (m *Metrics) RecordSessionEnded(duration time.Duration) {
	m.SessionsFinished.Inc()
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordAudioReceived adds seconds of audio handed to an engine
func (m *Metrics) RecordAudioReceived(seconds float64) {
	m.AudioSecondsReceived.Add(seconds)
}

// RecordIteration records one engine iteration
func (m *Metrics) RecordIteration(duration time.Duration, fault bool) {
	m.IterationDuration.Observe(duration.Seconds())
	if fault {
		m.IterationFaults.Inc()
	}
}

// RecordSegmentEmitted increments the segments counter
func (m *Metrics) RecordSegmentEmitted() {
	m.SegmentsEmitted.Inc()
}

// RecordDuplicateSuppressed increments the suppressed lines counter
func (m *Metrics) RecordDuplicateSuppressed() {
	m.DuplicatesSuppressed.Inc()
}

// RecordTransportFailure increments the transport failures counter
func (m *Metrics) RecordTransportFailure() {
	m.TransportFailures.Inc()
}

// RecordTranscription records a backend request and its outcome
func (m *Metrics) RecordTranscription(backend string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.TranscriptionRequests.WithLabelValues(backend, status).Inc()
	m.TranscriptionDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordWebSocketMessage counts a WebSocket message; direction is "in" or "out"
func (m *Metrics) RecordWebSocketMessage(direction, messageType string) {
	m.WebSocketMessages.WithLabelValues(direction, messageType).Inc()
}

// RecordDecodeCache counts a decode cache lookup
func (m *Metrics) RecordDecodeCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.DecodeCacheLookups.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
