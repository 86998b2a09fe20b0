package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

// Packet size constants
const (
	// PacketSize is the general-purpose packet size of the line protocol.
	PacketSize = 65536

	// AudioPacketSize is sized for bursts of up to 5 minutes of
	// 16 kHz mono PCM16 audio (32000 bytes per second).
	AudioPacketSize = 32000 * 5 * 60
)

// ErrConnectionClosed is returned when the peer closed the stream and no
// residual data is left to decode.
var ErrConnectionClosed = errors.New("protocol: connection closed")

// pollWindow bounds a non-blocking read on sources that support read deadlines.
var pollWindow = time.Millisecond

// DeadlineReader is an io.Reader whose blocking reads can be bounded.
// net.Conn satisfies it.
type DeadlineReader interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// FirstLine returns the first line of text. Line boundaries follow the
// usual set of Unicode line terminators, and NUL counts as one as well.
func FirstLine(text string) string {
	end := strings.IndexFunc(text, isLineBreak)
	if end < 0 {
		return text
	}
	return text[:end]
}

func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', 0x1c, 0x1d, 0x1e, 0x85, 0x2028, 0x2029, 0:
		return true
	}
	return false
}

// EncodeLine converts text into packets of packetSize bytes. Only the first
// line of text is kept; it is terminated by a newline and, if padZeros is
// set, a NUL byte. Invalid UTF-8 is replaced with U+FFFD. The last packet is
// zero padded to packetSize only when padZeros is set.
func EncodeLine(text string, padZeros bool, packetSize int) [][]byte {
	if packetSize <= 0 {
		packetSize = PacketSize
	}

	line := strings.ToValidUTF8(FirstLine(text), string(utf8.RuneError))
	data := make([]byte, 0, len(line)+2)
	data = append(data, line...)
	data = append(data, '\n')
	if padZeros {
		data = append(data, 0)
	}

	packets := make([][]byte, 0, len(data)/packetSize+1)
	for offset := 0; offset < len(data); offset += packetSize {
		remaining := len(data) - offset
		if remaining >= packetSize {
			packets = append(packets, data[offset:offset+packetSize])
			continue
		}

		if padZeros {
			packet := make([]byte, packetSize)
			copy(packet, data[offset:])
			packets = append(packets, packet)
		} else {
			packets = append(packets, data[offset:])
		}
	}

	return packets
}

// WriteLine encodes text with EncodeLine and writes every packet to w.
func WriteLine(w io.Writer, text string, padZeros bool, packetSize int) error {
	for i, packet := range EncodeLine(text, padZeros, packetSize) {
		if _, err := w.Write(packet); err != nil {
			return fmt.Errorf("failed to write packet %d: %w", i, err)
		}
	}
	return nil
}

// ReadLine reads packets from r until a NUL byte is seen or the source is
// exhausted, and returns the first decoded line with a trailing newline.
// It returns ErrConnectionClosed if the source closed before any data
// arrived. Lines spanning several packets are reassembled.
func ReadLine(r io.Reader, packetSize int) (string, error) {
	if packetSize <= 0 {
		packetSize = PacketSize
	}

	var data []byte
	packet := make([]byte, packetSize)
	for {
		n, err := r.Read(packet)
		if n > 0 {
			data = append(data, packet[:n]...)
			if bytes.IndexByte(packet[:n], 0) >= 0 {
				break
			}
		}
		if err != nil {
			if isClosed(err) {
				break
			}
			return "", fmt.Errorf("failed to read packet: %w", err)
		}
	}

	if len(data) == 0 {
		return "", ErrConnectionClosed
	}

	lines := decodeLines(data)
	return lines[0] + "\n", nil
}

// ReadAvailableLines performs a single best-effort read and returns the
// lines it holds. It never blocks on sources implementing DeadlineReader:
// when nothing is available it returns an empty slice. It returns
// ErrConnectionClosed when the source reports end of stream and no text is
// left.
func ReadAvailableLines(r io.Reader, packetSize int) ([]string, error) {
	if packetSize <= 0 {
		packetSize = PacketSize
	}

	if dr, ok := r.(DeadlineReader); ok {
		if err := dr.SetReadDeadline(time.Now().Add(pollWindow)); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
		defer dr.SetReadDeadline(time.Time{})
	}

	packet := make([]byte, packetSize)
	n, err := r.Read(packet)
	if n == 0 {
		switch {
		case err == nil, IsTimeout(err):
			return []string{}, nil
		case isClosed(err):
			return nil, ErrConnectionClosed
		default:
			return nil, fmt.Errorf("failed to read packet: %w", err)
		}
	}

	lines := decodeLines(packet[:n])
	if len(lines) == 1 && lines[0] == "" {
		if err != nil && isClosed(err) {
			return nil, ErrConnectionClosed
		}
		return []string{}, nil
	}
	return lines, nil
}

// decodeLines strips NUL padding, decodes UTF-8 lossily and splits on newline.
func decodeLines(data []byte) []string {
	text := strings.ToValidUTF8(string(bytes.Trim(data, "\x00")), string(utf8.RuneError))
	return strings.Split(text, "\n")
}

// IsTimeout reports whether err is a read deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isClosed reports whether err means the peer went away.
func isClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		isConnReset(err)
}
