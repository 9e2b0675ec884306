package ws

import "encoding/json"

// MessageType identifies the kind of WebSocket message.
type MessageType string

const (
	// Client to Server messages.
	MessageTypePing           MessageType = "ping"            // Keepalive probe
	MessageTypePresenceUpdate MessageType = "presence_update" // Cursor, selection, typing or identity change
	MessageTypeOperation      MessageType = "operation"       // Client submits a document operation
	MessageTypeComment        MessageType = "comment"         // Client creates or updates a comment
	MessageTypeSuggestion     MessageType = "suggestion"      // Client creates or accepts a suggestion
	MessageTypeLockRequest    MessageType = "lock_request"    // Client requests a soft lock
	MessageTypeLockRelease    MessageType = "lock_release"    // Client releases a soft lock

	// Server to Client messages.
	MessageTypeInitialState       MessageType = "initial_state"       // Full state on connect
	MessageTypeUserJoined         MessageType = "user_joined"         // A participant connected
	MessageTypeUserLeft           MessageType = "user_left"           // A participant disconnected
	MessageTypePong               MessageType = "pong"                // Keepalive reply
	MessageTypeOperationApplied   MessageType = "operation_applied"   // An operation succeeded
	MessageTypeOperationFailed    MessageType = "operation_failed"    // An operation was rejected
	MessageTypeCommentCreated     MessageType = "comment_created"     // A comment was added
	MessageTypeCommentUpdated     MessageType = "comment_updated"     // A comment's text changed
	MessageTypeSuggestionCreated  MessageType = "suggestion_created"  // A suggestion was proposed
	MessageTypeSuggestionAccepted MessageType = "suggestion_accepted" // A suggestion was accepted
	MessageTypeLockAcquired       MessageType = "lock_acquired"       // A soft lock was granted
	MessageTypeLockFailed         MessageType = "lock_failed"         // A soft lock was denied
	MessageTypeLockReleased       MessageType = "lock_released"       // A soft lock was released
	MessageTypeStateRestored      MessageType = "state_restored"      // Room state was replaced from a snapshot
	MessageTypeError              MessageType = "error"               // The server rejected a message
)

// Envelope is the raw inbound frame. Data stays unparsed until the handler
// knows which payload shape to expect.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Message is the outbound frame.
type Message struct {
	Type MessageType `json:"type"`
	Data any         `json:"data,omitempty"`
}

// ErrorData reports a rejected message to the offending client only.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes on outbound error messages.
const (
	ErrorCodeInvalidMessage = "invalid_message"
	ErrorCodeInternalError  = "internal_error"
)
