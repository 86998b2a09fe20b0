package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/skypro1111/whisper-stream/internal/asr"
	"github.com/skypro1111/whisper-stream/internal/config"
	"github.com/skypro1111/whisper-stream/internal/metrics"
	"github.com/skypro1111/whisper-stream/internal/stream"
)

// TCPServer accepts line-protocol clients and runs one transcription
// session per connection
type TCPServer struct {
	listener  net.Listener
	config    *config.Config
	logger    *slog.Logger
	factory   *asr.Factory
	streamMgr *stream.Manager
	metrics   *metrics.Metrics
	mirror    io.Writer

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connections map[net.Conn]struct{}

	// Counters
	connectionsAccepted uint64
	connectionsRejected uint64
	sessionErrors       uint64
	mu                  sync.RWMutex
}

// NewTCPServer creates a new TCP server instance
func NewTCPServer(cfg *config.Config, logger *slog.Logger, factory *asr.Factory,
	streamMgr *stream.Manager, m *metrics.Metrics) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &TCPServer{
		config:      cfg,
		logger:      logger.With(slog.String("component", "tcp_server")),
		factory:     factory,
		streamMgr:   streamMgr,
		metrics:     m,
		mirror:      os.Stderr,
		ctx:         ctx,
		cancel:      cancel,
		connections: make(map[net.Conn]struct{}),
	}
}

// Start begins listening for clients
func (s *TCPServer) Start() error {
	address := net.JoinHostPort(s.config.Server.Host, fmt.Sprintf("%d", s.config.Server.Port))

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on TCP: %w", err)
	}
	s.listener = listener

	s.logger.Info("Listening",
		slog.String("address", listener.Addr().String()),
		slog.Float64("chunk_size", s.factory.Config().ChunkSize()),
		slog.Int("max_concurrent_sessions", s.config.Server.MaxConcurrentSessions),
	)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the listening address, or nil before Start
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener, cancels every session of this server and waits
// for the connection handlers to return
func (s *TCPServer) Stop() error {
	s.logger.Info("Stopping TCP server...")

	s.cancel()

	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("Error closing TCP listener", slog.String("error", err.Error()))
		}
	}

	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("TCP server stopped",
		slog.Uint64("connections_accepted", stats.ConnectionsAccepted),
		slog.Uint64("connections_rejected", stats.ConnectionsRejected),
		slog.Uint64("session_errors", stats.SessionErrors),
	)

	return nil
}

// acceptLoop is the main connection accepting loop
func (s *TCPServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to accept connection", slog.String("error", err.Error()))
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.metrics.RecordConnectionAccepted("tcp")

		if !s.admit(conn) {
			s.logger.Warn("Too many concurrent sessions, rejecting connection",
				slog.String("remote_addr", conn.RemoteAddr().String()),
				slog.Int("max_concurrent_sessions", s.config.Server.MaxConcurrentSessions),
			)
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// admit registers conn unless the session limit is reached
func (s *TCPServer) admit(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := s.config.Server.MaxConcurrentSessions
	if limit > 0 && len(s.connections) >= limit {
		s.connectionsRejected++
		return false
	}

	s.connections[conn] = struct{}{}
	s.connectionsAccepted++
	return true
}

func (s *TCPServer) release(conn net.Conn) {
	s.mu.Lock()
	delete(s.connections, conn)
	s.mu.Unlock()
}

// handleConnection runs one session to completion and closes the socket
func (s *TCPServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer s.release(conn)
	defer conn.Close()

	remoteAddr := conn.RemoteAddr().String()
	s.logger.Info("Connected to client", slog.String("remote_addr", remoteAddr))

	engine, err := s.factory.NewEngine()
	if err != nil {
		s.logger.Error("Failed to create engine",
			slog.String("remote_addr", remoteAddr),
			slog.String("error", err.Error()),
		)
		s.countSessionError()
		return
	}

	connection := stream.NewConnection(conn, stream.ConnectionConfig{
		AudioPacketSize: s.config.Server.AudioPacketSize,
		LinePacketSize:  s.config.Server.PacketSize,
		ReadTimeout:     s.config.Audio.GetReadTimeout(),
		Observer:        s.metrics,
	})

	session := stream.NewSession(connection, engine, stream.SessionConfig{
		MinChunkSeconds: s.factory.Config().ChunkSize(),
		IdleTimeout:     s.config.Audio.GetIdleTimeout(),
		Mirror:          s.mirror,
	}, s.metrics, s.logger)

	err = s.streamMgr.Serve(s.ctx, session)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Session ended with error",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
		s.countSessionError()
	}

	s.logger.Info("Connection to client closed", slog.String("remote_addr", remoteAddr))
}

func (s *TCPServer) countSessionError() {
	s.mu.Lock()
	s.sessionErrors++
	s.mu.Unlock()
}

// GetStatistics returns current server statistics
func (s *TCPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStatistics{
		ConnectionsAccepted: s.connectionsAccepted,
		ConnectionsRejected: s.connectionsRejected,
		SessionErrors:       s.sessionErrors,
		OpenConnections:     uint64(len(s.connections)),
		ActiveSessions:      uint64(s.streamMgr.GetActiveSessionCount()),
	}
}

// ServerStatistics represents TCP server counters
type ServerStatistics struct {
	ConnectionsAccepted uint64 `json:"connections_accepted"`
	ConnectionsRejected uint64 `json:"connections_rejected"`
	SessionErrors       uint64 `json:"session_errors"`
	OpenConnections     uint64 `json:"open_connections"`
	ActiveSessions      uint64 `json:"active_sessions"`
}
