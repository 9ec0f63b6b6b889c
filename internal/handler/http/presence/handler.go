package presence

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"signaling-backend/internal/domain"
	apperrors "signaling-backend/pkg/errors"
	"signaling-backend/pkg/logger"
	"signaling-backend/pkg/response"
)

// Querier reads presence and call state from the signaling hub
type Querier interface {
	OnlineUsers(ctx context.Context) ([]string, error)
	UserStatus(ctx context.Context, userID string) (domain.ConnectionRecord, bool, error)
	ActiveCalls(ctx context.Context) ([]domain.CallSession, error)
}

// Handler serves read-only presence queries
type Handler struct {
	hub Querier
}

// NewHandler creates a presence handler
func NewHandler(hub Querier) *Handler {
	return &Handler{hub: hub}
}

// OnlineUsersResponse lists online user ids
type OnlineUsersResponse struct {
	UserIDs []string `json:"user_ids"`
	Count   int      `json:"count"`
}

// UserStatusResponse is one user's presence
type UserStatusResponse struct {
	UserID   string    `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
	Role     string    `json:"role"`
}

// ActiveCall is one ringing or connected call
type ActiveCall struct {
	CallID    string            `json:"call_id"`
	CallerID  string            `json:"caller_id"`
	CalleeID  string            `json:"callee_id"`
	CallType  domain.CallType   `json:"call_type"`
	Status    domain.CallStatus `json:"status"`
	StartedAt time.Time         `json:"started_at"`
}

// GetOnlineUsers returns every online user id
// @Router /v1/presence/online [get]
func (h *Handler) GetOnlineUsers(c *gin.Context) {
	ids, err := h.hub.OnlineUsers(c.Request.Context())
	if err != nil {
		h.fail(c, "online users", err)
		return
	}
	response.Success(c, http.StatusOK, OnlineUsersResponse{UserIDs: ids, Count: len(ids)})
}

// GetUserStatus returns a user's presence. Users purged after going offline
// are reported as not found.
// @Router /v1/presence/{userId} [get]
func (h *Handler) GetUserStatus(c *gin.Context) {
	userID := c.Param("userId")
	rec, ok, err := h.hub.UserStatus(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, "user status", err)
		return
	}
	if !ok {
		response.NotFound(c, "User not found")
		return
	}
	response.Success(c, http.StatusOK, UserStatusResponse{
		UserID:   rec.UserID,
		IsOnline: rec.IsOnline,
		LastSeen: rec.LastSeen,
		Role:     rec.Role,
	})
}

// GetActiveCalls lists ringing and connected calls
// @Router /v1/calls/active [get]
func (h *Handler) GetActiveCalls(c *gin.Context) {
	sessions, err := h.hub.ActiveCalls(c.Request.Context())
	if err != nil {
		h.fail(c, "active calls", err)
		return
	}
	calls := lo.Map(sessions, func(s domain.CallSession, _ int) ActiveCall {
		return ActiveCall{
			CallID:    s.CallID,
			CallerID:  s.CallerID,
			CalleeID:  s.CalleeID,
			CallType:  s.CallType,
			Status:    s.Status,
			StartedAt: s.StartedAt,
		}
	})
	response.Success(c, http.StatusOK, gin.H{
		"calls": calls,
		"count": len(calls),
	})
}

func (h *Handler) fail(c *gin.Context, query string, err error) {
	logger.FromContext(c.Request.Context()).Warn("Presence query failed",
		zap.String("query", query),
		zap.Error(err))
	if apperrors.IsAppError(err) {
		response.FromError(c, err)
		return
	}
	response.ServiceUnavailable(c, "Signaling hub unavailable")
}
