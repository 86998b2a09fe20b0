package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/whisper-stream/internal/protocol"
)

func dialWebSocket(t *testing.T, srv *WebSocketServer) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func exchange(t *testing.T, conn *websocket.Conn, messageType int, payload []byte) protocol.Message {
	t.Helper()

	if err := conn.WriteMessage(messageType, payload); err != nil {
		t.Fatalf("Failed to write message: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read reply: %v", err)
	}
	return msg
}

func TestWebSocketTranscribesChunks(t *testing.T) {
	transcriber := helloWorld()
	srv := NewWebSocketServer(newTestConfig().WebSocket, testLogger(), newTestFactory(transcriber), newTestMetrics())
	conn := dialWebSocket(t, srv)

	half := pcm(0.5)

	ack := exchange(t, conn, websocket.BinaryMessage, half)
	if ack.Type != protocol.TypeAck || ack.Status != "received" || ack.Size != len(half) {
		t.Errorf("Expected ack of %d bytes, got %+v", len(half), ack)
	}
	if transcriber.Calls() != 0 {
		t.Errorf("Expected no transcription before the minimum chunk, got %d calls", transcriber.Calls())
	}

	msg := exchange(t, conn, websocket.BinaryMessage, half)
	if msg.Type != protocol.TypeTranscript {
		t.Fatalf("Expected transcript, got %+v", msg)
	}
	if msg.Text != "hello" {
		t.Errorf("Expected text %q, got %q", "hello", msg.Text)
	}
	if msg.Timestamp <= 0 {
		t.Errorf("Expected positive timestamp, got %v", msg.Timestamp)
	}

	// The buffer was cleared, so the next half second is only acknowledged.
	ack = exchange(t, conn, websocket.BinaryMessage, half)
	if ack.Type != protocol.TypeAck {
		t.Errorf("Expected ack after clearing, got %+v", ack)
	}

	stats := srv.GetStatistics()
	if stats.FramesReceived != 3 || stats.TranscriptsSent != 1 {
		t.Errorf("Unexpected statistics: %+v", stats)
	}
}

func TestWebSocketSilentChunkIsAcknowledged(t *testing.T) {
	transcriber := &scriptedTranscriber{}
	srv := NewWebSocketServer(newTestConfig().WebSocket, testLogger(), newTestFactory(transcriber), newTestMetrics())
	conn := dialWebSocket(t, srv)

	second := pcm(1)
	msg := exchange(t, conn, websocket.BinaryMessage, second)
	if msg.Type != protocol.TypeAck || msg.Size != len(second) {
		t.Errorf("Expected ack for empty transcript, got %+v", msg)
	}
	if transcriber.Calls() != 1 {
		t.Errorf("Expected 1 transcription, got %d", transcriber.Calls())
	}
}

func TestWebSocketControlMessages(t *testing.T) {
	srv := NewWebSocketServer(newTestConfig().WebSocket, testLogger(), newTestFactory(helloWorld()), newTestMetrics())
	conn := dialWebSocket(t, srv)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("Failed to write message: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)); err != nil {
		t.Fatalf("Failed to write message: %v", err)
	}

	// Invalid and unknown messages get no reply, so the next one is the pong.
	msg := exchange(t, conn, websocket.TextMessage, []byte(`{"type":"ping"}`))
	if msg.Type != protocol.TypePong {
		t.Errorf("Expected pong, got %+v", msg)
	}
}

func TestWebSocketBackendError(t *testing.T) {
	transcriber := &scriptedTranscriber{err: errBackendDown}
	srv := NewWebSocketServer(newTestConfig().WebSocket, testLogger(), newTestFactory(transcriber), newTestMetrics())
	conn := dialWebSocket(t, srv)

	msg := exchange(t, conn, websocket.BinaryMessage, pcm(1))
	if msg.Type != protocol.TypeError {
		t.Fatalf("Expected error message, got %+v", msg)
	}
	if !strings.Contains(msg.Error, "backend down") {
		t.Errorf("Expected backend error text, got %q", msg.Error)
	}

	// The connection stays usable after a failed chunk.
	msg = exchange(t, conn, websocket.TextMessage, []byte(`{"type":"ping"}`))
	if msg.Type != protocol.TypePong {
		t.Errorf("Expected pong, got %+v", msg)
	}
	if srv.GetStatistics().TranscribeErrors != 1 {
		t.Errorf("Expected 1 transcribe error, got %d", srv.GetStatistics().TranscribeErrors)
	}
}
