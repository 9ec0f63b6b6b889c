package push

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "signaling-backend/pkg/errors"
	"signaling-backend/pkg/logger"
	"signaling-backend/pkg/push"
	"signaling-backend/pkg/response"
)

// TokenRegistrar stores device tokens
type TokenRegistrar interface {
	RegisterToken(ctx context.Context, token *push.Token) error
}

// Handler handles push notification HTTP requests
type Handler struct {
	registrar TokenRegistrar
}

// NewHandler creates a new push notification handler
func NewHandler(registrar TokenRegistrar) *Handler {
	return &Handler{
		registrar: registrar,
	}
}

// RegisterTokenRequest represents request to register a push token
type RegisterTokenRequest struct {
	UserID   string         `json:"user_id"`
	Token    string         `json:"token" binding:"required"`
	Type     push.TokenType `json:"type" binding:"required,oneof=fcm apns web"`
	DeviceID string         `json:"device_id"`
	Platform string         `json:"platform"` // ios, android, web
}

// RegisterToken registers a device token for missed-call notifications.
// An authenticated caller may only register tokens for itself.
// @Router /v1/push/tokens [post]
func (h *Handler) RegisterToken(c *gin.Context) {
	var req RegisterTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID := req.UserID
	if subject := c.GetString("user_id"); subject != "" {
		if userID != "" && userID != subject {
			response.Forbidden(c, "Cannot register tokens for another user")
			return
		}
		userID = subject
	}
	if userID == "" {
		response.FromError(c, apperrors.MissingFieldError("user_id"))
		return
	}

	// Validate platform
	if req.Platform != "" && req.Platform != "ios" && req.Platform != "android" && req.Platform != "web" {
		response.ValidationError(c, "Invalid platform. Must be 'ios', 'android', or 'web'")
		return
	}

	now := time.Now().Unix()
	token := &push.Token{
		UserID:    userID,
		Token:     req.Token,
		Type:      req.Type,
		DeviceID:  req.DeviceID,
		Platform:  req.Platform,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.registrar.RegisterToken(c.Request.Context(), token); err != nil {
		logger.FromContext(c.Request.Context()).Error("Failed to register push token",
			zap.String("user_id", userID),
			zap.Error(err))
		response.InternalError(c, "Failed to register token")
		return
	}

	logger.FromContext(c.Request.Context()).Info("Push token registered",
		zap.String("user_id", userID),
		zap.String("token_type", string(req.Type)),
		zap.String("platform", req.Platform))

	response.Success(c, http.StatusOK, gin.H{
		"message":  "Token registered successfully",
		"token_id": token.ID,
	})
}
