package server

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/serroba/collab-engine/internal/presence"
	"github.com/serroba/collab-engine/internal/room"
	"github.com/serroba/collab-engine/internal/state"
	"github.com/serroba/collab-engine/internal/ws"
)

// handleWebSocket handles GET /ws/:room_id. Identity comes from query
// parameters and is not authenticated; absent values get anonymous defaults.
func (h *httpHandler) handleWebSocket(c *gin.Context) {
	roomID := c.Param("room_id")

	userID := c.Query("user_id")
	if userID == "" {
		userID = uuid.New().String()
	}

	username := c.Query("username")
	if username == "" {
		username = "Anonymous"
	}

	role := c.Query("role")
	if role == "" {
		role = "viewer"
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("room_id", roomID), zap.Error(err))

		return
	}

	client := ws.NewClient(uuid.New().String(), roomID, userID, conn)
	client.Username = username
	client.Role = role

	h.hub.Connect(client, presence.UserInfo{Username: username, Role: role})
	defer h.hub.Disconnect(client)

	// Full document state plus the live presence view, before any other
	// traffic reaches this client.
	if err := client.Send(ws.Message{
		Type: ws.MessageTypeInitialState,
		Data: gin.H{
			"state":    h.state.GetState(roomID),
			"presence": h.tracker.Snapshot(roomID),
		},
	}); err != nil {
		return
	}

	h.readLoop(client)
}

// readLoop processes inbound frames until the connection dies. Messages from
// one connection are handled strictly in arrival order.
func (h *httpHandler) readLoop(client *ws.Client) {
	for {
		data, err := client.ReceiveRaw()
		if err != nil {
			return
		}

		var env ws.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			_ = client.SendError(ws.ErrorCodeInvalidMessage, "malformed message")

			continue
		}

		switch env.Type {
		case ws.MessageTypePing:
			h.handlePing(client)
		case ws.MessageTypePresenceUpdate:
			h.handlePresenceUpdate(client, env.Data)
		case ws.MessageTypeOperation:
			h.handleOperation(client, env.Data)
		case ws.MessageTypeComment:
			h.handleComment(client, env.Data)
		case ws.MessageTypeSuggestion:
			h.handleSuggestion(client, env.Data)
		case ws.MessageTypeLockRequest:
			h.handleLockRequest(client, env.Data)
		case ws.MessageTypeLockRelease:
			h.handleLockRelease(client, env.Data)
		default:
			// Unrecognized types are relayed verbatim so clients can ship
			// custom signals through the room without a server change.
			h.hub.Broadcast(client.RoomID, ws.Message{Type: env.Type, Data: env.Data})
		}
	}
}

func (h *httpHandler) handlePing(client *ws.Client) {
	h.tracker.Touch(client.RoomID, client.UserID)

	_ = client.Send(ws.Message{
		Type: ws.MessageTypePong,
		Data: gin.H{"timestamp": time.Now().UTC()},
	})
}

type presenceUpdateData struct {
	Cursor    json.RawMessage `json:"cursor,omitempty"`
	Selection json.RawMessage `json:"selection,omitempty"`
	IsTyping  *bool           `json:"is_typing,omitempty"`
	Username  string          `json:"username,omitempty"`
	Role      string          `json:"role,omitempty"`
}

// handlePresenceUpdate applies cursor, selection, typing, and identity
// changes, then relays the update to everyone else in the room.
func (h *httpHandler) handlePresenceUpdate(client *ws.Client, data json.RawMessage) {
	var update presenceUpdateData
	if err := json.Unmarshal(data, &update); err != nil {
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "malformed presence update")

		return
	}

	if update.Cursor != nil {
		h.tracker.UpdateCursor(client.RoomID, client.UserID, update.Cursor)
	}

	if update.Selection != nil {
		h.tracker.UpdateSelection(client.RoomID, client.UserID, update.Selection)
	}

	if update.IsTyping != nil {
		h.tracker.SetTyping(client.RoomID, client.UserID, *update.IsTyping)
	}

	if update.Username != "" || update.Role != "" {
		h.tracker.UpdateInfo(client.RoomID, client.UserID, presence.UserInfo{
			Username: update.Username,
			Role:     update.Role,
		})
	}

	h.hub.BroadcastExcept(client.RoomID, ws.Message{
		Type: ws.MessageTypePresenceUpdate,
		Data: gin.H{
			"user_id":   client.UserID,
			"cursor":    update.Cursor,
			"selection": update.Selection,
			"is_typing": update.IsTyping,
		},
	}, client.ID)
}

// handleOperation applies a document operation. The sender gets an ack or a
// structured failure; on success everyone else gets the operation itself.
func (h *httpHandler) handleOperation(client *ws.Client, data json.RawMessage) {
	var op room.Operation
	if err := json.Unmarshal(data, &op); err != nil {
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "malformed operation")

		return
	}

	result, err := h.state.Apply(client.RoomID, op, client.UserID)
	if err != nil {
		_ = client.Send(ws.Message{
			Type: ws.MessageTypeOperationFailed,
			Data: gin.H{
				"error": err.Error(),
				"kind":  state.Kind(err),
			},
		})

		return
	}

	_ = client.Send(ws.Message{Type: ws.MessageTypeOperationApplied, Data: result})

	h.hub.BroadcastExcept(client.RoomID, ws.Message{
		Type: ws.MessageTypeOperationApplied,
		Data: gin.H{
			"operation_id": result.OperationID,
			"new_version":  result.NewVersion,
			"user_id":      client.UserID,
			"type":         op.Type,
			"operation":    op,
			"result":       result.Result,
		},
	}, client.ID)
}

type commentData struct {
	Action          string `json:"action"`
	SegmentID       string `json:"segment_id"`
	CommentID       string `json:"comment_id"`
	ParentCommentID string `json:"parent_comment_id"`
	Text            string `json:"text"`
	Note            string `json:"note"`
	Emoji           string `json:"emoji"`
}

// handleComment routes comment actions. Create and update go through the
// operation pipeline; resolve and reactions are annotations that mutate the
// thread without advancing the document version. Every outcome is announced
// to the whole room.
func (h *httpHandler) handleComment(client *ws.Client, data json.RawMessage) {
	var req commentData
	if err := json.Unmarshal(data, &req); err != nil {
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "malformed comment message")

		return
	}

	var (
		op        room.Operation
		eventType ws.MessageType
	)

	switch req.Action {
	case "create":
		op = room.Operation{
			Type:            room.OpAddComment,
			SegmentID:       req.SegmentID,
			Text:            req.Text,
			ParentCommentID: req.ParentCommentID,
		}
		eventType = ws.MessageTypeCommentCreated
	case "update":
		op = room.Operation{
			Type:      room.OpUpdateComment,
			CommentID: req.CommentID,
			Text:      req.Text,
		}
		eventType = ws.MessageTypeCommentUpdated
	case "resolve", "react", "unreact":
		h.handleCommentAnnotation(client, req)

		return
	default:
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "unknown comment action")

		return
	}

	result, err := h.state.Apply(client.RoomID, op, client.UserID)
	if err != nil {
		_ = client.Send(ws.Message{
			Type: ws.MessageTypeOperationFailed,
			Data: gin.H{"error": err.Error(), "kind": state.Kind(err)},
		})

		return
	}

	h.hub.Broadcast(client.RoomID, ws.Message{
		Type: eventType,
		Data: gin.H{
			"comment_id":        result.Result["comment_id"],
			"segment_id":        req.SegmentID,
			"parent_comment_id": req.ParentCommentID,
			"text":              req.Text,
			"author_id":         client.UserID,
			"new_version":       result.NewVersion,
		},
	})
}

// handleCommentAnnotation applies resolve, react, and unreact actions and
// broadcasts the updated comment.
func (h *httpHandler) handleCommentAnnotation(client *ws.Client, req commentData) {
	var (
		comment room.Comment
		err     error
	)

	switch req.Action {
	case "resolve":
		comment, err = h.state.ResolveComment(client.RoomID, req.CommentID, client.UserID, req.Note)
	case "react":
		comment, err = h.state.AddReaction(client.RoomID, req.CommentID, req.Emoji, client.UserID)
	case "unreact":
		comment, err = h.state.RemoveReaction(client.RoomID, req.CommentID, req.Emoji, client.UserID)
	}

	if err != nil {
		_ = client.Send(ws.Message{
			Type: ws.MessageTypeOperationFailed,
			Data: gin.H{"error": err.Error(), "kind": state.Kind(err)},
		})

		return
	}

	h.hub.Broadcast(client.RoomID, ws.Message{
		Type: ws.MessageTypeCommentUpdated,
		Data: gin.H{
			"comment_id": comment.ID,
			"action":     req.Action,
			"comment":    comment,
		},
	})
}

type suggestionData struct {
	Action        string `json:"action"`
	SegmentID     string `json:"segment_id"`
	SuggestionID  string `json:"suggestion_id"`
	OriginalText  string `json:"original_text"`
	SuggestedText string `json:"suggested_text"`
}

// handleSuggestion routes suggestion create and accept actions through the
// operation pipeline and announces the result to the whole room.
func (h *httpHandler) handleSuggestion(client *ws.Client, data json.RawMessage) {
	var req suggestionData
	if err := json.Unmarshal(data, &req); err != nil {
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "malformed suggestion message")

		return
	}

	var (
		op        room.Operation
		eventType ws.MessageType
	)

	switch req.Action {
	case "create":
		op = room.Operation{
			Type:          room.OpAddSuggestion,
			SegmentID:     req.SegmentID,
			OriginalText:  req.OriginalText,
			SuggestedText: req.SuggestedText,
		}
		eventType = ws.MessageTypeSuggestionCreated
	case "accept":
		op = room.Operation{
			Type:         room.OpAcceptSuggestion,
			SuggestionID: req.SuggestionID,
		}
		eventType = ws.MessageTypeSuggestionAccepted
	default:
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "unknown suggestion action")

		return
	}

	result, err := h.state.Apply(client.RoomID, op, client.UserID)
	if err != nil {
		_ = client.Send(ws.Message{
			Type: ws.MessageTypeOperationFailed,
			Data: gin.H{"error": err.Error(), "kind": state.Kind(err)},
		})

		return
	}

	h.hub.Broadcast(client.RoomID, ws.Message{
		Type: eventType,
		Data: gin.H{
			"suggestion_id":  result.Result["suggestion_id"],
			"segment_id":     req.SegmentID,
			"original_text":  req.OriginalText,
			"suggested_text": req.SuggestedText,
			"author_id":      client.UserID,
			"new_version":    result.NewVersion,
		},
	})
}

type lockData struct {
	Resource string `json:"resource"`
	LockType string `json:"lock_type"`
}

// handleLockRequest tries to take a soft lock. A grant is announced to the
// whole room; a denial goes back to the requester only.
func (h *httpHandler) handleLockRequest(client *ws.Client, data json.RawMessage) {
	var req lockData
	if err := json.Unmarshal(data, &req); err != nil || req.Resource == "" {
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "malformed lock request")

		return
	}

	result := h.tracker.AcquireLock(client.RoomID, client.UserID, req.Resource, req.LockType)
	if !result.Acquired {
		_ = client.Send(ws.Message{Type: ws.MessageTypeLockFailed, Data: result})

		return
	}

	h.hub.Broadcast(client.RoomID, ws.Message{
		Type: ws.MessageTypeLockAcquired,
		Data: gin.H{
			"lock_id":    result.LockID,
			"resource":   result.Resource,
			"lock_type":  result.LockType,
			"user_id":    client.UserID,
			"expires_at": result.ExpiresAt,
		},
	})
}

// handleLockRelease releases a held soft lock. A successful release is
// announced to the whole room; a refusal goes back to the requester only.
func (h *httpHandler) handleLockRelease(client *ws.Client, data json.RawMessage) {
	var req lockData
	if err := json.Unmarshal(data, &req); err != nil || req.Resource == "" {
		_ = client.SendError(ws.ErrorCodeInvalidMessage, "malformed lock release")

		return
	}

	result := h.tracker.ReleaseLock(client.RoomID, client.UserID, req.Resource)
	if !result.Released {
		_ = client.Send(ws.Message{Type: ws.MessageTypeLockFailed, Data: result})

		return
	}

	h.hub.Broadcast(client.RoomID, ws.Message{
		Type: ws.MessageTypeLockReleased,
		Data: gin.H{
			"resource": result.Resource,
			"user_id":  client.UserID,
		},
	})
}
