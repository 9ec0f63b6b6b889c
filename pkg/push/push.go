package push

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"signaling-backend/pkg/logger"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const notificationTypeMissedCall = "missed_call"

// Provider defines interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal, low
	Sound    string            `json:"sound,omitempty"`
	Badge    *int              `json:"badge,omitempty"`
	Category string            `json:"category,omitempty"`
}

// MissedCall describes a call the callee never picked up
type MissedCall struct {
	CallID     string
	CallerID   string
	CallerName string
	CalleeID   string
	CallType   string
	// Reason is "offline" when the callee was unreachable at initiation,
	// "timeout" when the call rang out.
	Reason string
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"  // Firebase Cloud Messaging
	TokenTypeAPNs TokenType = "apns" // Apple Push Notification Service
	TokenTypeWeb  TokenType = "web"  // Web Push
)

// Valid reports whether t is a known token type
func (t TokenType) Valid() bool {
	switch t {
	case TokenTypeFCM, TokenTypeAPNs, TokenTypeWeb:
		return true
	}
	return false
}

// Token represents a push notification token for a user
type Token struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	DeviceID  string    `json:"device_id,omitempty"`
	Platform  string    `json:"platform,omitempty"` // ios, android, web
	Active    bool      `json:"active"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// TokenRepository defines interface for storing and retrieving push tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID string) ([]*Token, error)
	GetByToken(ctx context.Context, token string) (*Token, error)
	Update(ctx context.Context, token *Token) error
	MarkInactive(ctx context.Context, tokenID uuid.UUID) error
}

// Recorder receives delivery outcomes, counted per device platform
type Recorder interface {
	RecordPushNotification(notifType, platform string, count int)
	RecordPushNotificationFailure(notifType, platform, reason string, count int)
}

type nopRecorder struct{}

func (nopRecorder) RecordPushNotification(string, string, int)                {}
func (nopRecorder) RecordPushNotificationFailure(string, string, string, int) {}

// Service handles push notification operations
type Service struct {
	provider Provider
	repo     TokenRepository
	recorder Recorder
}

// NewService creates a new push notification service. recorder may be nil.
func NewService(provider Provider, repo TokenRepository, recorder Recorder) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		provider: provider,
		repo:     repo,
		recorder: recorder,
	}
}

// RegisterToken registers a new push notification token for a user
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	// Check if token already exists
	existing, err := s.repo.GetByToken(ctx, token.Token)
	if err == nil && existing != nil {
		existing.UserID = token.UserID
		existing.Active = true
		existing.UpdatedAt = token.UpdatedAt
		existing.DeviceID = token.DeviceID
		existing.Platform = token.Platform
		return s.repo.Update(ctx, existing)
	}

	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	token.Active = true
	return s.repo.Store(ctx, token)
}

// SendMissedCallNotification notifies the callee's devices about a missed call
func (s *Service) SendMissedCallNotification(ctx context.Context, call MissedCall) error {
	callerName := call.CallerName
	if callerName == "" {
		callerName = call.CallerID
	}

	notification := &Notification{
		Title:    "Missed Call",
		Body:     fmt.Sprintf("You missed a %s call from %s", callTypeLabel(call.CallType), callerName),
		Priority: "high",
		Sound:    "default",
		Category: "MISSED_CALL",
		Data: map[string]string{
			"type":        notificationTypeMissedCall,
			"call_id":     call.CallID,
			"caller_id":   call.CallerID,
			"caller_name": callerName,
			"call_type":   call.CallType,
			"reason":      call.Reason,
		},
	}

	tokens, err := s.repo.GetByUserID(ctx, call.CalleeID)
	if err != nil {
		return fmt.Errorf("failed to get push tokens for %s: %w", call.CalleeID, err)
	}

	active := lo.Filter(tokens, func(t *Token, _ int) bool { return t.Active })
	if len(active) == 0 {
		logger.Debug("No active push tokens for callee",
			zap.String("callee_id", call.CalleeID))
		return nil
	}

	// One batch per platform so outcomes can be counted per platform
	byPlatform := lo.GroupBy(active, func(t *Token) string { return tokenPlatform(t) })
	platforms := lo.Keys(byPlatform)
	slices.Sort(platforms)

	var sendErrs []error
	for _, platform := range platforms {
		batch := lo.Map(byPlatform[platform], func(t *Token, _ int) string { return t.Token })

		result, err := s.provider.Send(ctx, notification, batch)
		if err != nil {
			s.recorder.RecordPushNotificationFailure(notificationTypeMissedCall, platform, "send_error", len(batch))
			sendErrs = append(sendErrs, fmt.Errorf("failed to send missed call notification to %s devices: %w", platform, err))
			continue
		}

		if result.SuccessCount > 0 {
			s.recorder.RecordPushNotification(notificationTypeMissedCall, platform, result.SuccessCount)
		}
		if n := len(result.InvalidTokens); n > 0 {
			s.recorder.RecordPushNotificationFailure(notificationTypeMissedCall, platform, "invalid_token", n)
		}
		if n := result.FailureCount - len(result.InvalidTokens); n > 0 {
			s.recorder.RecordPushNotificationFailure(notificationTypeMissedCall, platform, "delivery_failed", n)
		}

		logger.Info("Missed call notification sent",
			zap.String("call_id", call.CallID),
			zap.String("reason", call.Reason),
			zap.String("platform", platform),
			zap.Int("success_count", result.SuccessCount),
			zap.Int("failure_count", result.FailureCount))

		if len(result.InvalidTokens) > 0 {
			s.handleInvalidTokens(ctx, result.InvalidTokens)
		}
	}

	return errors.Join(sendErrs...)
}

func tokenPlatform(t *Token) string {
	if t.Platform == "" {
		return "unknown"
	}
	return t.Platform
}

// handleInvalidTokens marks invalid tokens as inactive
func (s *Service) handleInvalidTokens(ctx context.Context, invalidTokens []string) {
	for _, tokenStr := range invalidTokens {
		token, err := s.repo.GetByToken(ctx, tokenStr)
		if err == nil && token != nil {
			if err := s.repo.MarkInactive(ctx, token.ID); err != nil {
				logger.Warn("Failed to mark token as inactive",
					zap.String("token_id", token.ID.String()),
					zap.Error(err))
			}
		}
	}
}

func callTypeLabel(callType string) string {
	if callType == "audio" {
		return "voice"
	}
	return "video"
}

// MockProvider is a mock implementation for development/testing
type MockProvider struct {
	NotificationsSent int
	Last              *Notification
	LastTokens        []string
	// InvalidTokens are reported back as invalid on every send
	InvalidTokens []string
	// Err fails every send when set
	Err error
}

// Send implements Provider interface
func (m *MockProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.NotificationsSent++
	m.Last = notification
	m.LastTokens = tokens
	if m.Err != nil {
		return nil, m.Err
	}

	logger.Debug("MockProvider: Sending notification",
		zap.String("title", notification.Title),
		zap.String("body", notification.Body),
		zap.Int("token_count", len(tokens)))

	return &SendResult{
		SuccessCount:  len(tokens) - len(m.InvalidTokens),
		FailureCount:  len(m.InvalidTokens),
		InvalidTokens: m.InvalidTokens,
	}, nil
}
