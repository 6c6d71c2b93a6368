package handler

import (
	"net/http"
	"time"

	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/application"
	"github.com/Kilat-Pet-Delivery/service-livetrack/internal/response"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// StreamHandler pushes session changes to WebSocket clients.
type StreamHandler struct {
	service  *application.TrackingService
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(service *application.TrackingService, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		service: service,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4 * 1024,
		},
		logger: logger,
	}
}

// Stream handles GET /api/v1/sessions/:id/stream. Every message is a SessionDTO.
func (h *StreamHandler) Stream(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session ID")
		return
	}

	updates, cancel, err := h.service.Subscribe(sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer cancel()

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("session_id", sessionID.String()), zap.Error(err))
		return
	}
	defer ws.Close()

	h.logger.Debug("stream client connected", zap.String("session_id", sessionID.String()))

	// The read loop only exists to process pongs and notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		ws.SetReadLimit(512)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := ws.NextReader(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("stream client read error", zap.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case update, ok := <-updates:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session stream closed"))
				return
			}
			if err := ws.WriteJSON(update); err != nil {
				h.logger.Debug("stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			h.logger.Debug("stream client disconnected", zap.String("session_id", sessionID.String()))
			return
		}
	}
}
