package ws

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"signaling-backend/pkg/constants"
	apperrors "signaling-backend/pkg/errors"
	"signaling-backend/pkg/logger"
	"signaling-backend/pkg/response"
)

// HandlerConfig configures the WebSocket gateway
type HandlerConfig struct {
	// AllowedOrigins lists accepted Origin headers; "*" accepts any
	AllowedOrigins  []string
	MaxConnections  int
	MaxMessageBytes int64
	SendBufferSize  int
	// AuthRequired rejects handshakes the auth middleware did not authenticate
	AuthRequired bool
}

// SignalingHandler upgrades HTTP requests into hub connections
type SignalingHandler struct {
	hub      *SignalingHub
	cfg      HandlerConfig
	upgrader websocket.Upgrader

	// Semaphore for limiting concurrent connections
	semaphore chan struct{}
}

// NewSignalingHandler creates the gateway in front of hub
func NewSignalingHandler(hub *SignalingHub, cfg HandlerConfig) *SignalingHandler {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = constants.MaxWebSocketConnections
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = constants.MaxWebSocketMessageBytes
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = constants.WebSocketSendBuffer
	}

	h := &SignalingHandler{
		hub:       hub,
		cfg:       cfg,
		semaphore: make(chan struct{}, cfg.MaxConnections),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *SignalingHandler) checkOrigin(r *http.Request) bool {
	if slices.Contains(h.cfg.AllowedOrigins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Reject empty origins - require explicit origin
		return false
	}
	return slices.Contains(h.cfg.AllowedOrigins, origin)
}

// ServeWS handles WebSocket requests for signaling
func (h *SignalingHandler) ServeWS(c *gin.Context) {
	subject := c.GetString("user_id")
	if h.cfg.AuthRequired && subject == "" {
		response.FromError(c, apperrors.UnauthorizedError("Authentication required"))
		return
	}

	// Acquire semaphore to limit concurrent connections
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.cfg.MaxConnections))
		response.FromError(c, apperrors.TooManyConnectionsError())
		return
	}
	release := func() { <-h.semaphore }

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		release()
		logger.Warn("WebSocket upgrade failed",
			zap.String("origin", c.GetHeader("Origin")),
			zap.Error(err))
		return
	}

	client := &Client{
		hub:     h.hub,
		conn:    conn,
		send:    make(chan []byte, h.cfg.SendBufferSize),
		handle:  uuid.NewString(),
		subject: subject,
		limit:   h.cfg.MaxMessageBytes,
		release: release,
	}

	if !h.hub.Connect(client) {
		conn.Close()
		release()
		return
	}

	// Start goroutines for read/write
	go client.writePump()
	go client.readPump()
}
