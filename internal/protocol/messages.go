package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types exchanged over the WebSocket transport
const (
	TypeTranscript = "transcript"
	TypeAck        = "ack"
	TypePing       = "ping"
	TypePong       = "pong"
	TypeError      = "error"
)

// Message is a JSON control or data message of the WebSocket transport.
// Only the fields relevant to Type are set.
type Message struct {
	Type      string  `json:"type"`
	Text      string  `json:"text,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
	Status    string  `json:"status,omitempty"`
	Size      int     `json:"size,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// NewTranscript builds a transcript message carrying one stitched line.
func NewTranscript(text string, timestamp float64) Message {
	return Message{Type: TypeTranscript, Text: text, Timestamp: timestamp}
}

// NewAck acknowledges a received binary audio frame of size bytes.
func NewAck(size int) Message {
	return Message{Type: TypeAck, Status: "received", Size: size}
}

// NewPong answers a ping.
func NewPong() Message {
	return Message{Type: TypePong}
}

// NewError reports a failure to the client.
func NewError(err error) Message {
	return Message{Type: TypeError, Error: err.Error()}
}

// ParseMessage decodes a text frame into a Message.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("invalid control message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("control message without type")
	}
	return msg, nil
}
