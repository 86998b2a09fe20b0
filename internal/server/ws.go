package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/whisper-stream/internal/asr"
	"github.com/skypro1111/whisper-stream/internal/audio"
	"github.com/skypro1111/whisper-stream/internal/config"
	"github.com/skypro1111/whisper-stream/internal/metrics"
	"github.com/skypro1111/whisper-stream/internal/protocol"
)

// WebSocketServer transcribes binary PCM16 frames in fixed-size clips and
// answers with JSON messages
type WebSocketServer struct {
	server      *http.Server
	listener    net.Listener
	upgrader    websocket.Upgrader
	config      config.WebSocketConfig
	transcriber asr.Transcriber
	minChunk    float64
	metrics     *metrics.Metrics
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Counters
	mu                sync.RWMutex
	connectionsTotal  uint64
	activeConnections int
	framesReceived    uint64
	transcriptsSent   uint64
	transcribeErrors  uint64
}

// WebSocketStatistics represents WebSocket server counters
type WebSocketStatistics struct {
	ConnectionsTotal  uint64 `json:"connections_total"`
	ActiveConnections int    `json:"active_connections"`
	FramesReceived    uint64 `json:"frames_received"`
	TranscriptsSent   uint64 `json:"transcripts_sent"`
	TranscribeErrors  uint64 `json:"transcribe_errors"`
}

// NewWebSocketServer creates a WebSocket server that shares the batch
// transcriber of factory
func NewWebSocketServer(cfg config.WebSocketConfig, logger *slog.Logger, factory *asr.Factory, m *metrics.Metrics) *WebSocketServer {
	ctx, cancel := context.WithCancel(context.Background())

	s := &WebSocketServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		config:      cfg,
		transcriber: factory.Transcriber(),
		minChunk:    factory.Config().MinChunkSize,
		metrics:     m,
		logger:      logger.With(slog.String("component", "websocket_server")),
		ctx:         ctx,
		cancel:      cancel,
	}

	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Address, fmt.Sprintf("%d", cfg.Port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler upgrades any request to a WebSocket session
func (s *WebSocketServer) Handler() http.Handler {
	return http.HandlerFunc(s.handleWebSocket)
}

// Start starts listening on the configured WebSocket port
func (s *WebSocketServer) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on WebSocket port: %w", err)
	}
	s.listener = listener

	s.logger.Info("Starting WebSocket server",
		slog.String("address", listener.Addr().String()),
		slog.Float64("min_chunk_size", s.minChunk),
	)

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WebSocket server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop closes the listener and every open WebSocket connection
func (s *WebSocketServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping WebSocket server...")

	// Hijacked connections are not tracked by Shutdown
	s.cancel()
	err := s.server.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return err
}

// wsClient is the per-connection state of one WebSocket client
type wsClient struct {
	conn    *websocket.Conn
	chunker *audio.Chunker
	logger  *slog.Logger
	writeMu sync.Mutex
}

func (c *wsClient) writeMessage(msg protocol.Message, writeWait time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(deadline(writeWait))
	return c.conn.WriteJSON(msg)
}

// deadline returns now+d, or the zero time (no deadline) when d is not positive
func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}

func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()
	defer conn.Close()

	client := &wsClient{
		conn:    conn,
		chunker: audio.NewChunker(s.minChunk),
		logger:  s.logger.With(slog.String("remote_addr", r.RemoteAddr)),
	}

	s.trackConnection(1)
	defer s.trackConnection(-1)
	s.metrics.RecordConnectionAccepted("websocket")
	client.logger.Info("WebSocket client connected")

	pongWait := s.config.GetPongWait()
	writeWait := s.config.GetWriteWait()

	if s.config.ReadLimit > 0 {
		conn.SetReadLimit(s.config.ReadLimit)
	}
	extendDeadline := func() error {
		return conn.SetReadDeadline(deadline(pongWait))
	}
	_ = extendDeadline()
	conn.SetPongHandler(func(string) error { return extendDeadline() })

	stopPing := make(chan struct{})
	go s.pingLoop(client, stopPing)
	defer close(stopPing)

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				client.logger.Warn("WebSocket read failed", slog.String("error", err.Error()))
			}
			break
		}
		_ = extendDeadline()

		var reply protocol.Message
		switch messageType {
		case websocket.BinaryMessage:
			s.metrics.RecordWebSocketMessage("in", "audio")
			reply = s.handleAudio(client, payload)
		case websocket.TextMessage:
			var ok bool
			reply, ok = s.handleControl(client, payload)
			if !ok {
				continue
			}
		default:
			continue
		}

		if err := client.writeMessage(reply, writeWait); err != nil {
			client.logger.Warn("WebSocket write failed", slog.String("error", err.Error()))
			break
		}
		s.metrics.RecordWebSocketMessage("out", reply.Type)
	}

	client.logger.Info("WebSocket client disconnected",
		slog.Int("pending_bytes", client.chunker.Pending()),
	)
}

// pingLoop sends keep-alive pings until stop is closed or the server stops
func (s *WebSocketServer) pingLoop(client *wsClient, stop <-chan struct{}) {
	writeWait := s.config.GetWriteWait()

	var tick <-chan time.Time
	if interval := s.config.GetPingInterval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			client.writeMu.Lock()
			err := client.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline(writeWait))
			client.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-s.ctx.Done():
			client.writeMu.Lock()
			_ = client.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				deadline(writeWait))
			client.writeMu.Unlock()
			client.conn.Close()
			return
		case <-stop:
			return
		}
	}
}

// handleAudio buffers a binary frame and transcribes the buffer once it
// holds the minimum chunk
func (s *WebSocketServer) handleAudio(client *wsClient, payload []byte) protocol.Message {
	s.mu.Lock()
	s.framesReceived++
	s.mu.Unlock()

	client.logger.Debug("Received audio frame", slog.Int("size", len(payload)))

	clip, err := client.chunker.Add(payload)
	if err != nil {
		s.countTranscribeError()
		client.logger.Error("Failed to decode audio frame", slog.String("error", err.Error()))
		return protocol.NewError(err)
	}
	if clip == nil {
		return protocol.NewAck(len(payload))
	}

	result, err := s.transcriber.Transcribe(s.ctx, clip, "")
	if err != nil {
		s.countTranscribeError()
		client.logger.Error("Failed to transcribe audio chunk",
			slog.Float64("duration", audio.Duration(len(clip))),
			slog.String("error", err.Error()),
		)
		return protocol.NewError(err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return protocol.NewAck(len(payload))
	}

	s.mu.Lock()
	s.transcriptsSent++
	s.mu.Unlock()

	client.logger.Info("Sending transcript", slog.String("text", text))
	return protocol.NewTranscript(text, float64(time.Now().UnixNano())/1e9)
}

// handleControl answers a text frame; ok is false when nothing is sent back
func (s *WebSocketServer) handleControl(client *wsClient, payload []byte) (protocol.Message, bool) {
	msg, err := protocol.ParseMessage(payload)
	if err != nil {
		s.metrics.RecordWebSocketMessage("in", "invalid")
		client.logger.Warn("Invalid JSON message", slog.String("payload", string(payload)))
		return protocol.Message{}, false
	}

	s.metrics.RecordWebSocketMessage("in", msg.Type)

	if msg.Type == protocol.TypePing {
		return protocol.NewPong(), true
	}

	client.logger.Warn("Unknown message type", slog.String("type", msg.Type))
	return protocol.Message{}, false
}

func (s *WebSocketServer) trackConnection(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeConnections += delta
	if delta > 0 {
		s.connectionsTotal++
	}
}

func (s *WebSocketServer) countTranscribeError() {
	s.mu.Lock()
	s.transcribeErrors++
	s.mu.Unlock()
}

// GetStatistics returns current WebSocket server statistics
func (s *WebSocketServer) GetStatistics() WebSocketStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return WebSocketStatistics{
		ConnectionsTotal:  s.connectionsTotal,
		ActiveConnections: s.activeConnections,
		FramesReceived:    s.framesReceived,
		TranscriptsSent:   s.transcriptsSent,
		TranscribeErrors:  s.transcribeErrors,
	}
}
