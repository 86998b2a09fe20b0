package stream

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultCleanupInterval is how often idle sessions are looked for.
const DefaultCleanupInterval = 30 * time.Second

// Manager tracks all live transcription sessions. Each session runs on its
// own goroutine; the manager only registers, lists and cancels them.
type Manager struct {
	sessions map[string]*TranscriptionSession
	mu       sync.RWMutex
	logger   *slog.Logger
	timeout  time.Duration // Zero disables idle cleanup
	observer Observer

	// Cleanup management
	ctx             context.Context
	cancel          context.CancelFunc
	cleanup         chan struct{}
	cleanupInterval time.Duration
	wg              sync.WaitGroup
}

// NewManager creates a session manager. Sessions that received no audio for
// longer than timeout are cancelled by a background routine.
func NewManager(logger *slog.Logger, timeout time.Duration, observer Observer) *Manager {
	return newManager(logger, timeout, observer, DefaultCleanupInterval)
}

func newManager(logger *slog.Logger, timeout time.Duration, observer Observer, interval time.Duration) *Manager {
	if observer == nil {
		observer = nopObserver{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		sessions:        make(map[string]*TranscriptionSession),
		logger:          logger.With(slog.String("component", "session_manager")),
		timeout:         timeout,
		observer:        observer,
		ctx:             ctx,
		cancel:          cancel,
		cleanup:         make(chan struct{}),
		cleanupInterval: interval,
	}

	go mgr.startCleanupRoutine()

	return mgr
}

// Serve registers session and runs it on the calling goroutine until it
// finishes, ctx is cancelled or the manager stops. The session is removed
// afterwards.
func (m *Manager) Serve(ctx context.Context, session *TranscriptionSession) error {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.ctx, cancel)
	defer stop()

	m.mu.Lock()
	session.cancel = cancel
	m.sessions[session.ID] = session
	m.wg.Add(1)
	count := len(m.sessions)
	m.mu.Unlock()

	defer m.wg.Done()
	defer m.RemoveSession(session.ID)

	m.observer.RecordSessionStarted()
	m.logger.Info("Session registered",
		slog.String("session_id", session.ID),
		slog.String("remote_addr", session.RemoteAddr),
		slog.Int("active_sessions", count),
	)

	return session.Run(ctx)
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(id string) (*TranscriptionSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// GetActiveSessionCount returns the number of currently active sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all active sessions ordered by start time
func (m *Manager) GetAllSessions() []*TranscriptionSession {
	m.mu.RLock()
	sessions := make([]*TranscriptionSession, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.Before(sessions[j].StartTime)
	})
	return sessions
}

// ListSessionInfo returns monitoring information for all active sessions
func (m *Manager) ListSessionInfo() []SessionInfo {
	sessions := m.GetAllSessions()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.GetSessionInfo())
	}
	return infos
}

// RemoveSession cancels a session and forgets it
func (m *Manager) RemoveSession(id string) bool {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	if session.cancel != nil {
		session.cancel()
	}

	duration := time.Since(session.StartTime)
	m.observer.RecordSessionEnded(duration)

	info := session.GetSessionInfo()
	m.logger.Info("Session removed",
		slog.String("session_id", id),
		slog.String("remote_addr", session.RemoteAddr),
		slog.Duration("duration", duration),
		slog.Float64("audio_seconds", info.AudioSeconds),
		slog.Uint64("segments_emitted", info.SegmentsEmitted),
		slog.Uint64("iteration_faults", info.IterationFaults),
	)

	return true
}

// Stop cancels every session and waits for them to return
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	// Cancel context to stop sessions and the cleanup routine
	m.cancel()

	// Wait for cleanup routine to finish
	<-m.cleanup

	m.wg.Wait()

	m.logger.Info("Session manager stopped",
		slog.Int("remaining_sessions", m.GetActiveSessionCount()),
	)
}

// startCleanupRoutine runs in a separate goroutine to cancel idle sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	if m.timeout <= 0 {
		<-m.ctx.Done()
		return
	}

	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Session cleanup routine started",
		slog.Duration("timeout", m.timeout),
		slog.Duration("check_interval", m.cleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions cancels sessions that have been idle for too long
func (m *Manager) cleanupExpiredSessions() {
	now := time.Now()
	expired := make([]string, 0)

	m.mu.RLock()
	for id, session := range m.sessions {
		if now.Sub(session.LastActivity()) > m.timeout {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) > 0 {
		m.logger.Info("Cleaning up expired sessions",
			slog.Int("expired_count", len(expired)),
		)

		for _, id := range expired {
			m.RemoveSession(id)
		}
	}
}
