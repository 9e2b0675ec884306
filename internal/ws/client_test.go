package ws_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/serroba/collab-engine/internal/ws"
)

// mockConn is a test double for ws.Conn.
type mockConn struct {
	mu       sync.Mutex
	messages []ws.Message
	closed   bool
	failSend bool

	incoming chan []byte
}

func newMockConn() *mockConn {
	return &mockConn{
		messages: make([]ws.Message, 0),
		incoming: make(chan []byte, 10),
	}
}

func (m *mockConn) WriteJSON(v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failSend {
		return errors.New("write on broken connection")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	var msg ws.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}

	m.messages = append(m.messages, msg)

	return nil
}

func (m *mockConn) ReadMessage() (int, []byte, error) {
	data, ok := <-m.incoming
	if !ok {
		return 0, nil, errors.New("connection closed")
	}

	return 1, data, nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true

	return nil
}

func (m *mockConn) Break() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failSend = true
}

func (m *mockConn) Messages() []ws.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]ws.Message, len(m.messages))
	copy(result, m.messages)

	return result
}

func (m *mockConn) MessagesOfType(msgType ws.MessageType) []ws.Message {
	var result []ws.Message

	for _, msg := range m.Messages() {
		if msg.Type == msgType {
			result = append(result, msg)
		}
	}

	return result
}

func (m *mockConn) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

func TestClient_Send(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := ws.NewClient("c1", "room1", "user1", conn)

	err := client.Send(ws.Message{Type: ws.MessageTypePong, Data: map[string]any{"ok": true}})
	if err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}

	messages := conn.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	if messages[0].Type != ws.MessageTypePong {
		t.Errorf("expected pong, got %s", messages[0].Type)
	}
}

func TestClient_SendError(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := ws.NewClient("c1", "room1", "user1", conn)

	if err := client.SendError(ws.ErrorCodeInvalidMessage, "bad frame"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	messages := conn.Messages()
	if len(messages) != 1 || messages[0].Type != ws.MessageTypeError {
		t.Fatalf("expected one error message, got %v", messages)
	}
}

func TestClient_ReceiveRaw(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := ws.NewClient("c1", "room1", "user1", conn)

	conn.incoming <- []byte(`{"type":"ping"}`)

	data, err := client.ReceiveRaw()
	if err != nil {
		t.Fatalf("unexpected receive error: %v", err)
	}

	var env ws.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}

	if env.Type != ws.MessageTypePing {
		t.Errorf("expected ping, got %s", env.Type)
	}
}

func TestClient_ReceiveRaw_ConnectionError(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := ws.NewClient("c1", "room1", "user1", conn)

	close(conn.incoming)

	if _, err := client.ReceiveRaw(); err == nil {
		t.Error("expected error from dead connection")
	}
}
