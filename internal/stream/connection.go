package stream

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/whisper-stream/internal/protocol"
)

// ErrTransportBroken is returned by Send when writing to an established
// connection fails.
var ErrTransportBroken = errors.New("stream: transport broken")

// DefaultReadTimeout bounds a single audio read.
const DefaultReadTimeout = 100 * time.Millisecond

// ConnectionConfig contains configuration for a session connection
type ConnectionConfig struct {
	AudioPacketSize int           // Largest audio read, defaults to protocol.AudioPacketSize
	LinePacketSize  int           // Packet size for control lines, defaults to protocol.PacketSize
	ReadTimeout     time.Duration // Deadline of one audio read
	Observer        Observer
}

// ConnectionStats represents connection statistics for monitoring
type ConnectionStats struct {
	LinesSent       uint64 `json:"lines_sent"`
	LinesSuppressed uint64 `json:"lines_suppressed"`
	BytesReceived   uint64 `json:"bytes_received"`
}

// Connection wraps a stream socket: it sends text lines with the line-packet
// framing and reads raw audio with a bounded deadline. Consecutive identical
// lines are sent only once.
type Connection struct {
	conn            net.Conn
	audioPacketSize int
	linePacketSize  int
	readTimeout     time.Duration
	observer        Observer

	readBuf []byte

	mu       sync.Mutex
	lastLine string
	hasLast  bool
	stats    ConnectionStats
}

// NewConnection wraps conn.
func NewConnection(conn net.Conn, cfg ConnectionConfig) *Connection {
	if cfg.AudioPacketSize <= 0 {
		cfg.AudioPacketSize = protocol.AudioPacketSize
	}
	if cfg.LinePacketSize <= 0 {
		cfg.LinePacketSize = protocol.PacketSize
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}

	return &Connection{
		conn:            conn,
		audioPacketSize: cfg.AudioPacketSize,
		linePacketSize:  cfg.LinePacketSize,
		readTimeout:     cfg.ReadTimeout,
		observer:        cfg.Observer,
	}
}

// Send transmits line unless it equals the previously sent line. Lines are
// sent without NUL padding. A write failure wraps ErrTransportBroken.
func (c *Connection) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasLast && line == c.lastLine {
		c.stats.LinesSuppressed++
		c.observer.RecordDuplicateSuppressed()
		return nil
	}

	if err := protocol.WriteLine(c.conn, line, false, c.linePacketSize); err != nil {
		c.observer.RecordTransportFailure()
		return fmt.Errorf("%w: %w", ErrTransportBroken, err)
	}

	c.lastLine = line
	c.hasLast = true
	c.stats.LinesSent++
	return nil
}

// ReceiveLines returns the control lines currently available without
// blocking. See protocol.ReadAvailableLines.
func (c *Connection) ReceiveLines() ([]string, error) {
	return protocol.ReadAvailableLines(c.conn, c.linePacketSize)
}

// ReadAudio performs one read bounded by the read timeout. It returns an
// empty slice when nothing arrived in time and protocol.ErrConnectionClosed
// once the peer closed or reset the connection.
func (c *Connection) ReadAudio() ([]byte, error) {
	if c.readBuf == nil {
		c.readBuf = make([]byte, c.audioPacketSize)
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		if protocol.IsClosed(err) {
			return nil, protocol.ErrConnectionClosed
		}
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	n, err := c.conn.Read(c.readBuf)
	if n > 0 {
		c.mu.Lock()
		c.stats.BytesReceived += uint64(n)
		c.mu.Unlock()

		data := make([]byte, n)
		copy(data, c.readBuf[:n])
		return data, nil
	}

	switch {
	case err == nil, protocol.IsTimeout(err):
		return []byte{}, nil
	case protocol.IsClosed(err):
		return nil, protocol.ErrConnectionClosed
	default:
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Close closes the underlying connection.
func (c *Connection) Close() error {
	return c.conn.Close()
}

// GetStats returns current connection statistics
func (c *Connection) GetStats() ConnectionStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
