package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/whisper-stream/internal/asr"
	"github.com/skypro1111/whisper-stream/internal/audio"
)

// State is the lifecycle state of a session
type State int32

const (
	StateInit State = iota
	StateStreaming
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStreaming:
		return "streaming"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// SessionConfig contains configuration for a transcription session
type SessionConfig struct {
	MinChunkSeconds float64       // Minimum audio handed to the engine per iteration
	IdleTimeout     time.Duration // Zero disables the idle deadline
	Mirror          io.Writer     // Receives a copy of every emitted line, may be nil
}

// TranscriptionSession drives one client connection: it accumulates audio,
// feeds the engine and sends stitched segments back. All processing state is
// owned by the goroutine running Run.
type TranscriptionSession struct {
	ID         string
	RemoteAddr string
	StartTime  time.Time

	conn        *Connection
	engine      asr.Engine
	accumulator *audio.Accumulator
	mirror      io.Writer
	observer    Observer
	logger      *slog.Logger

	cancel context.CancelFunc

	mu           sync.RWMutex
	state        State
	lastEnd      float64 // milliseconds
	hasLastEnd   bool
	lastActivity time.Time
	iterations   uint64
	faults       uint64
	segments     uint64
	audioSeconds float64
}

// NewSession creates a session in the init state.
func NewSession(conn *Connection, engine asr.Engine, cfg SessionConfig, observer Observer, logger *slog.Logger) *TranscriptionSession {
	if observer == nil {
		observer = nopObserver{}
	}

	id := uuid.NewString()
	logger = logger.With(
		slog.String("session_id", id),
		slog.String("remote_addr", conn.RemoteAddr()),
	)

	now := time.Now()
	return &TranscriptionSession{
		ID:         id,
		RemoteAddr: conn.RemoteAddr(),
		StartTime:  now,
		conn:       conn,
		engine:     engine,
		accumulator: audio.NewAccumulator(conn, audio.AccumulatorConfig{
			MinChunkSeconds: cfg.MinChunkSeconds,
			IdleTimeout:     cfg.IdleTimeout,
		}, logger),
		mirror:       cfg.Mirror,
		observer:     observer,
		logger:       logger,
		lastActivity: now,
	}
}

// Init moves the session from init to streaming and resets the engine.
func (s *TranscriptionSession) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInit {
		return fmt.Errorf("cannot init session in state %s", s.state)
	}

	s.engine.Init()
	s.state = StateStreaming
	s.hasLastEnd = false
	s.lastEnd = 0
	return nil
}

// Run processes the connection until the peer closes it, a send fails or ctx
// is cancelled. On a graceful end the engine is flushed with Finish and its
// last segment is emitted. Per-session faults are logged, not returned; the
// only error is the context's.
func (s *TranscriptionSession) Run(ctx context.Context) error {
	if s.State() == StateInit {
		if err := s.Init(); err != nil {
			return err
		}
	}
	defer s.setState(StateFinished)

	s.logger.Info("Session started")

	for {
		clip, err := s.accumulator.Next(ctx)
		if err != nil {
			s.logger.Info("Session cancelled", slog.String("reason", err.Error()))
			return err
		}
		if clip == nil {
			break
		}

		seconds := audio.Duration(len(clip))
		s.mu.Lock()
		s.audioSeconds += seconds
		s.lastActivity = time.Now()
		s.mu.Unlock()
		s.observer.RecordAudioReceived(seconds)

		s.engine.InsertAudioChunk(clip)

		started := time.Now()
		seg, err := s.engine.ProcessIter(ctx)
		s.recordIteration(time.Since(started), err != nil)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			s.logger.Warn("Engine iteration failed",
				slog.String("error", err.Error()),
				slog.Bool("iteration_fault", errors.Is(err, asr.ErrIteration)),
			)
			continue
		}

		if err := s.emit(seg); err != nil {
			s.logger.Info("Broken pipe, connection closed?", slog.String("error", err.Error()))
			return nil
		}
	}

	s.setState(StateFinished)
	seg, err := s.engine.Finish(ctx)
	if err != nil {
		s.logger.Warn("Engine finish failed", slog.String("error", err.Error()))
	} else if err := s.emit(seg); err != nil {
		s.logger.Info("Broken pipe, connection closed?", slog.String("error", err.Error()))
	}

	stats := s.accumulator.GetStats()
	s.logger.Info("Session finished",
		slog.Duration("duration", time.Since(s.StartTime)),
		slog.Float64("audio_seconds", stats.AudioSeconds),
		slog.Uint64("dropped_buffers", stats.DroppedBuffers),
	)
	return nil
}

// emit stitches seg onto the previously emitted segment and sends it. A
// segment that is not ready is skipped without touching the stitching state.
func (s *TranscriptionSession) emit(seg asr.Segment) error {
	if !seg.Ready {
		s.logger.Debug("No text in this segment")
		return nil
	}

	s.mu.Lock()
	line := s.stitch(seg)
	s.segments++
	s.mu.Unlock()

	if s.mirror != nil {
		fmt.Fprintln(s.mirror, line)
	}
	s.observer.RecordSegmentEmitted()

	return s.conn.Send(line)
}

// stitch formats seg in milliseconds with its start clamped to the end of
// the previous segment, so emitted intervals never overlap. Callers hold mu.
func (s *TranscriptionSession) stitch(seg asr.Segment) string {
	start, end := seg.Start*1000, seg.End*1000
	if s.hasLastEnd {
		start = math.Max(start, s.lastEnd)
	}
	end = math.Max(end, start)

	s.lastEnd = end
	s.hasLastEnd = true
	return fmt.Sprintf("%1.0f %1.0f %s", start, end, seg.Text)
}

func (s *TranscriptionSession) recordIteration(d time.Duration, fault bool) {
	s.mu.Lock()
	s.iterations++
	if fault {
		s.faults++
	}
	s.mu.Unlock()
	s.observer.RecordIteration(d, fault)
}

func (s *TranscriptionSession) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *TranscriptionSession) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastActivity returns when audio was last received.
func (s *TranscriptionSession) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// GetSessionInfo returns session information for monitoring
func (s *TranscriptionSession) GetSessionInfo() SessionInfo {
	connStats := s.conn.GetStats()

	s.mu.RLock()
	defer s.mu.RUnlock()

	info := SessionInfo{
		SessionID:       s.ID,
		RemoteAddr:      s.RemoteAddr,
		State:           s.state.String(),
		StartTime:       s.StartTime,
		LastActivity:    s.lastActivity,
		Duration:        time.Since(s.StartTime),
		AudioSeconds:    s.audioSeconds,
		Iterations:      s.iterations,
		IterationFaults: s.faults,
		SegmentsEmitted: s.segments,
		LinesSent:       connStats.LinesSent,
		LinesSuppressed: connStats.LinesSuppressed,
		BytesReceived:   connStats.BytesReceived,
	}
	if s.hasLastEnd {
		lastEnd := s.lastEnd
		info.LastEmittedEndMs = &lastEnd
	}
	return info
}

// SessionInfo represents session information for monitoring and APIs
type SessionInfo struct {
	SessionID    string        `json:"session_id"`
	RemoteAddr   string        `json:"remote_addr"`
	State        string        `json:"state"`
	StartTime    time.Time     `json:"start_time"`
	LastActivity time.Time     `json:"last_activity"`
	Duration     time.Duration `json:"duration"`

	// Processing statistics
	AudioSeconds     float64  `json:"audio_seconds"`
	Iterations       uint64   `json:"iterations"`
	IterationFaults  uint64   `json:"iteration_faults"`
	SegmentsEmitted  uint64   `json:"segments_emitted"`
	LastEmittedEndMs *float64 `json:"last_emitted_end_ms,omitempty"`

	// Transport statistics
	LinesSent       uint64 `json:"lines_sent"`
	LinesSuppressed uint64 `json:"lines_suppressed"`
	BytesReceived   uint64 `json:"bytes_received"`
}
