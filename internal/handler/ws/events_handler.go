package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"callhub-backend/internal/orchestrator"
	redisrepo "callhub-backend/internal/repository/redis"
	"callhub-backend/pkg/constants"
	"callhub-backend/pkg/env"
	"callhub-backend/pkg/logger"
	"callhub-backend/pkg/metrics"
)

const writeWait = 10 * time.Second

// EventsHandler serves the per-user call event socket. Each connection
// acquires the user's orchestrator from the hub and streams its notices:
// the client gets an incoming-call prompt, ring control, and snapshot
// updates without polling. The connection doubles as the presence
// heartbeat that offline push escalation keys off.
type EventsHandler struct {
	hub      *orchestrator.Hub
	presence *redisrepo.PresenceRepository
	metrics  *metrics.Metrics
	allowed  map[string]bool
}

// NewEventsHandler creates a new call events handler.
func NewEventsHandler(hub *orchestrator.Hub, presence *redisrepo.PresenceRepository, m *metrics.Metrics) *EventsHandler {
	allowed := make(map[string]bool)
	for _, origin := range env.GetStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}) {
		allowed[origin] = true
	}
	return &EventsHandler{
		hub:      hub,
		presence: presence,
		metrics:  m,
		allowed:  allowed,
	}
}

func (h *EventsHandler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return false
			}
			return h.allowed[origin]
		},
	}
}

// ServeWS handles a call event socket connection
// GET /v1/calls/events (token via Authorization header or ?token=)
func (h *EventsHandler) ServeWS(c *gin.Context) {
	addressVal, exists := c.Get("address")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	address, ok := addressVal.(string)
	if !ok || address == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid address"})
		return
	}
	username := c.GetString("username")

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed",
			zap.String("address", address),
			zap.Error(err))
		return
	}

	orch := h.hub.Acquire(address, username)
	h.metrics.IncrementWebSocketConnections()

	ctx, cancel := context.WithCancel(context.Background())
	if err := h.presence.SetOnline(ctx, address); err != nil {
		logger.Warn("failed to mark user online", zap.String("address", address), zap.Error(err))
	}

	done := make(chan struct{})
	go h.writePump(ctx, conn, orch, address, done)
	go h.readPump(conn, address, cancel)

	<-done
	cancel()

	if err := h.presence.SetOffline(context.Background(), address); err != nil {
		logger.Warn("failed to mark user offline", zap.String("address", address), zap.Error(err))
	}
	h.metrics.DecrementWebSocketConnections()
	h.hub.Release(address)
}

// writePump streams notices to the client and keeps the connection and
// the presence record alive.
func (h *EventsHandler) writePump(ctx context.Context, conn *websocket.Conn, orch *orchestrator.Orchestrator, address string, done chan<- struct{}) {
	pingTicker := time.NewTicker(constants.WebSocketPingInterval)
	presenceTicker := time.NewTicker(constants.PresenceTTL / 2)
	defer func() {
		pingTicker.Stop()
		presenceTicker.Stop()
		conn.Close()
		close(done)
	}()

	// The client renders from snapshots, so send the current one up front
	// rather than leaving it blank until the first transition.
	initial := orchestrator.Notice{Snapshot: orch.Snapshot()}
	if !h.writeNotice(conn, initial, address) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case notice := <-orch.Notices():
			if !h.writeNotice(conn, notice, address) {
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-presenceTicker.C:
			if err := h.presence.Refresh(ctx, address); err != nil {
				logger.Warn("presence refresh failed", zap.String("address", address), zap.Error(err))
			}
		}
	}
}

func (h *EventsHandler) writeNotice(conn *websocket.Conn, notice orchestrator.Notice, address string) bool {
	payload, err := json.Marshal(notice)
	if err != nil {
		logger.Error("failed to marshal call notice", zap.String("address", address), zap.Error(err))
		return true
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return false
	}
	return true
}

// readPump drains the connection. The socket is push-only; reads exist
// to process pongs and detect the close.
func (h *EventsHandler) readPump(conn *websocket.Conn, address string, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval + writeWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval + writeWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("call event socket closed",
					zap.String("address", address),
					zap.Error(err))
			}
			return
		}
	}
}
