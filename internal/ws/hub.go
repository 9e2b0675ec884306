package ws

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/serroba/collab-engine/internal/presence"
)

// DefaultReaperInterval is how often the hub scans for stale connections.
const DefaultReaperInterval = 60 * time.Second

// Hub manages room-scoped WebSocket clients and fan-out broadcasts. Presence
// bookkeeping is delegated to the tracker; the hub owns only connections.
type Hub struct {
	mu sync.RWMutex

	// clients maps client ID to client
	clients map[string]*Client

	// rooms maps room ID to set of client IDs
	rooms map[string]map[string]struct{}

	tracker        *presence.Tracker
	logger         *zap.Logger
	reaperInterval time.Duration

	// onEmpty runs after the last client leaves a room, outside the hub lock.
	onEmpty func(roomID string)

	stop chan struct{}
	wg   sync.WaitGroup
}

// HubConfig holds configuration for creating a hub.
type HubConfig struct {
	Tracker        *presence.Tracker
	Logger         *zap.Logger
	ReaperInterval time.Duration
	OnEmpty        func(roomID string)
}

// NewHub creates a hub. Zero-valued config fields fall back to defaults.
func NewHub(cfg HubConfig) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	if cfg.ReaperInterval == 0 {
		cfg.ReaperInterval = DefaultReaperInterval
	}

	return &Hub{
		clients:        make(map[string]*Client),
		rooms:          make(map[string]map[string]struct{}),
		tracker:        cfg.Tracker,
		logger:         cfg.Logger,
		reaperInterval: cfg.ReaperInterval,
		onEmpty:        cfg.OnEmpty,
		stop:           make(chan struct{}),
	}
}

// Connect registers a client, records presence, and announces the join to
// everyone else in the room.
func (h *Hub) Connect(client *Client, info presence.UserInfo) presence.JoinResult {
	h.mu.Lock()

	h.clients[client.ID] = client

	if h.rooms[client.RoomID] == nil {
		h.rooms[client.RoomID] = make(map[string]struct{})
	}

	h.rooms[client.RoomID][client.ID] = struct{}{}

	h.mu.Unlock()

	result := h.tracker.Join(client.RoomID, client.UserID, info)

	h.BroadcastExcept(client.RoomID, Message{
		Type: MessageTypeUserJoined,
		Data: map[string]any{
			"user_id":    client.UserID,
			"username":   client.Username,
			"role":       client.Role,
			"user_count": result.UserCount,
		},
	}, client.ID)

	return result
}

// Disconnect removes a client, records the leave, announces it to the
// remaining participants, and tears down the room when it empties.
// Disconnecting an unknown client is a no-op.
func (h *Hub) Disconnect(client *Client) {
	h.mu.Lock()

	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()

		return
	}

	delete(h.clients, client.ID)

	empty := false

	if ids, ok := h.rooms[client.RoomID]; ok {
		delete(ids, client.ID)

		if len(ids) == 0 {
			delete(h.rooms, client.RoomID)

			empty = true
		}
	}

	h.mu.Unlock()

	_ = client.Close()

	result := h.tracker.Leave(client.RoomID, client.UserID)

	if empty {
		h.logger.Info("room empty, tearing down",
			zap.String("room_id", client.RoomID))

		if h.onEmpty != nil {
			h.onEmpty(client.RoomID)
		}

		return
	}

	h.Broadcast(client.RoomID, Message{
		Type: MessageTypeUserLeft,
		Data: map[string]any{
			"user_id":    client.UserID,
			"username":   client.Username,
			"user_count": result.UserCount,
		},
	})
}

// Broadcast sends a message to every client in a room. Clients whose send
// fails are disconnected; the failure never propagates to other recipients.
func (h *Hub) Broadcast(roomID string, msg Message) {
	h.BroadcastExcept(roomID, msg, "")
}

// BroadcastExcept sends a message to every client in a room except the one
// with the given client ID.
func (h *Hub) BroadcastExcept(roomID string, msg Message, excludeClientID string) {
	h.mu.RLock()

	targets := make([]*Client, 0, len(h.rooms[roomID]))

	for clientID := range h.rooms[roomID] {
		if clientID == excludeClientID {
			continue
		}

		if client, ok := h.clients[clientID]; ok {
			targets = append(targets, client)
		}
	}

	h.mu.RUnlock()

	var failed []*Client

	for _, client := range targets {
		if err := client.Send(msg); err != nil {
			h.logger.Warn("broadcast send failed",
				zap.String("room_id", roomID),
				zap.String("client_id", client.ID),
				zap.Error(err))

			failed = append(failed, client)
		}
	}

	for _, client := range failed {
		h.Disconnect(client)
	}
}

// ClientCount returns the number of clients connected to a room.
func (h *Hub) ClientCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[roomID])
}

// TotalClients returns the total number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Start launches the background reaper loop.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.run()

	h.logger.Info("connection reaper started",
		zap.Duration("interval", h.reaperInterval))
}

// Stop halts the reaper loop and waits for it to finish.
func (h *Hub) Stop() {
	close(h.stop)
	h.wg.Wait()
}

func (h *Hub) run() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.ReapStale()
		}
	}
}

// ReapStale force-disconnects every client whose presence entry has gone
// stale, then sweeps expired soft locks. Returns the number disconnected.
func (h *Hub) ReapStale() int {
	h.mu.RLock()

	var stale []*Client

	for _, client := range h.clients {
		if h.tracker.Stale(client.RoomID, client.UserID) {
			stale = append(stale, client)
		}
	}

	h.mu.RUnlock()

	for _, client := range stale {
		h.logger.Info("reaping stale connection",
			zap.String("room_id", client.RoomID),
			zap.String("user_id", client.UserID))

		h.Disconnect(client)
	}

	h.tracker.SweepExpiredLocks()

	return len(stale)
}
