package ws

import (
	"sync"
)

// Conn abstracts a WebSocket connection for testability. A gorilla
// *websocket.Conn satisfies it directly.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

// Client represents one connected participant in a room.
type Client struct {
	ID       string
	RoomID   string
	UserID   string
	Username string
	Role     string

	conn Conn

	// mu serializes writes; the hub may broadcast from multiple goroutines.
	mu sync.Mutex
}

// NewClient creates a client wrapper around a connection.
func NewClient(id, roomID, userID string, conn Conn) *Client {
	return &Client{
		ID:     id,
		RoomID: roomID,
		UserID: userID,
		conn:   conn,
	}
}

// Send writes a message to the client. A write failure means the connection
// is unusable and the caller should disconnect the client.
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn.WriteJSON(msg)
}

// SendError reports a rejected message to this client only.
func (c *Client) SendError(code, message string) error {
	return c.Send(Message{
		Type: MessageTypeError,
		Data: ErrorData{Code: code, Message: message},
	})
}

// ReceiveRaw reads the next inbound frame without decoding it, so the caller
// can tell a dead connection (read error, stop the loop) apart from a
// malformed frame (decode error, report and keep reading).
func (c *Client) ReceiveRaw() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()

	return data, err
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
