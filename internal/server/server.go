package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/serroba/collab-engine/internal/presence"
	"github.com/serroba/collab-engine/internal/snapshot"
	"github.com/serroba/collab-engine/internal/state"
	"github.com/serroba/collab-engine/internal/ws"
)

var (
	errMissingStateManager = errors.New("state manager dependency required")
	errMissingTracker      = errors.New("presence tracker dependency required")
	errMissingHub          = errors.New("hub dependency required")
	errMissingStore        = errors.New("snapshot store dependency required")
)

// Dependencies are the wired services the HTTP surface exposes.
type Dependencies struct {
	State   *state.Manager
	Tracker *presence.Tracker
	Hub     *ws.Hub
	Store   snapshot.Store
	Logger  *zap.Logger
}

// NewHTTPHandler builds the full router: the WebSocket room endpoint plus the
// management API for state, history, presence, and snapshots.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.State == nil {
		return nil, errMissingStateManager
	}
	if deps.Tracker == nil {
		return nil, errMissingTracker
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		state:   deps.State,
		tracker: deps.Tracker,
		hub:     deps.Hub,
		store:   deps.Store,
		logger:  logger,
		upgrader: websocket.Upgrader{
			// Identity is caller-asserted; origin checks add nothing here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/ws/:room_id", handler.handleWebSocket)

	api := router.Group("/api")
	api.GET("/rooms/:room_id/state", handler.handleRoomState)
	api.GET("/rooms/:room_id/presence", handler.handleRoomPresence)
	api.GET("/rooms/:room_id/participants", handler.handleParticipants)
	api.GET("/rooms/:room_id/history", handler.handleHistory)
	api.POST("/rooms/:room_id/snapshots", handler.handleCreateSnapshot)
	api.GET("/rooms/:room_id/snapshots", handler.handleListSnapshots)
	api.POST("/rooms/:room_id/snapshots/:snapshot_id/restore", handler.handleRestore)
	api.GET("/rooms/:room_id/export", handler.handleExport)
	api.POST("/rooms/:room_id/import", handler.handleImport)
	api.GET("/presence/stats", handler.handlePresenceStats)
	api.GET("/snapshots/stats", handler.handleSnapshotStats)

	return router, nil
}

type httpHandler struct {
	state    *state.Manager
	tracker  *presence.Tracker
	hub      *ws.Hub
	store    snapshot.Store
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"active_rooms": h.state.RoomCount(),
		"connections":  h.hub.TotalClients(),
	})
}

// handleRoomState returns the room's document state together with its live
// presence view.
func (h *httpHandler) handleRoomState(c *gin.Context) {
	roomID := c.Param("room_id")

	c.JSON(http.StatusOK, gin.H{
		"state":    h.state.GetState(roomID),
		"presence": h.tracker.Snapshot(roomID),
	})
}

func (h *httpHandler) handleRoomPresence(c *gin.Context) {
	c.JSON(http.StatusOK, h.tracker.Snapshot(c.Param("room_id")))
}

func (h *httpHandler) handleParticipants(c *gin.Context) {
	view := h.tracker.Snapshot(c.Param("room_id"))

	c.JSON(http.StatusOK, gin.H{
		"room_id":      view.RoomID,
		"participants": view.ActiveUsers,
		"user_count":   view.UserCount,
	})
}

func (h *httpHandler) handleHistory(c *gin.Context) {
	roomID := c.Param("room_id")
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	ops := h.state.History(roomID, limit, offset)

	c.JSON(http.StatusOK, gin.H{
		"room_id":    roomID,
		"operations": ops,
		"count":      len(ops),
		"limit":      limit,
		"offset":     offset,
	})
}

func (h *httpHandler) handleCreateSnapshot(c *gin.Context) {
	roomID := c.Param("room_id")

	createdBy := c.Query("created_by")
	if createdBy == "" {
		createdBy = "api"
	}

	id, err := h.state.CreateSnapshot(roomID, createdBy)
	if err != nil {
		h.logger.Error("snapshot creation failed",
			zap.String("room_id", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot_failed"})

		return
	}

	c.JSON(http.StatusCreated, gin.H{"snapshot_id": id, "room_id": roomID})
}

func (h *httpHandler) handleListSnapshots(c *gin.Context) {
	roomID := c.Param("room_id")
	limit := intQuery(c, "limit", 20)
	offset := intQuery(c, "offset", 0)

	metas, err := h.store.List(roomID, limit, offset)
	if err != nil {
		h.logger.Error("snapshot listing failed",
			zap.String("room_id", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room_id":   roomID,
		"snapshots": metas,
		"count":     len(metas),
		"limit":     limit,
		"offset":    offset,
	})
}

// handleRestore replaces the room's live state with a stored snapshot and
// notifies every connected participant.
func (h *httpHandler) handleRestore(c *gin.Context) {
	roomID := c.Param("room_id")
	snapshotID := c.Param("snapshot_id")

	if err := h.state.RestoreFromSnapshot(roomID, snapshotID); err != nil {
		if errors.Is(err, snapshot.ErrSnapshotNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "snapshot_not_found"})

			return
		}

		h.logger.Error("snapshot restore failed",
			zap.String("room_id", roomID),
			zap.String("snapshot_id", snapshotID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "restore_failed"})

		return
	}

	restored := h.state.GetState(roomID)

	h.hub.Broadcast(roomID, ws.Message{
		Type: ws.MessageTypeStateRestored,
		Data: gin.H{
			"room_id":     roomID,
			"snapshot_id": snapshotID,
			"state":       restored,
		},
	})

	c.JSON(http.StatusOK, gin.H{
		"room_id":     roomID,
		"snapshot_id": snapshotID,
		"version":     restored.Version,
	})
}

func (h *httpHandler) handleExport(c *gin.Context) {
	roomID := c.Param("room_id")

	doc, err := snapshot.Export(h.store, roomID)
	if err != nil {
		h.logger.Error("snapshot export failed",
			zap.String("room_id", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export_failed"})

		return
	}

	c.JSON(http.StatusOK, doc)
}

func (h *httpHandler) handleImport(c *gin.Context) {
	roomID := c.Param("room_id")

	var doc snapshot.ExportDocument
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})

		return
	}

	imported, err := snapshot.Import(h.store, roomID, doc.Snapshots)
	if err != nil {
		h.logger.Error("snapshot import failed",
			zap.String("room_id", roomID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "import_failed"})

		return
	}

	c.JSON(http.StatusOK, gin.H{"room_id": roomID, "imported": imported})
}

func (h *httpHandler) handlePresenceStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.tracker.Stats())
}

func (h *httpHandler) handleSnapshotStats(c *gin.Context) {
	stats, err := h.store.Stats()
	if err != nil {
		h.logger.Error("snapshot stats failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats_failed"})

		return
	}

	c.JSON(http.StatusOK, stats)
}

// intQuery parses a non-negative integer query parameter, falling back to a
// default on absence or garbage.
func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}

	return value
}
