package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"signaling-backend/internal/database"
	"signaling-backend/internal/domain"
)

const onlineSetKey = "presence:online"

// presenceEntry is the mirrored form read by other services
type presenceEntry struct {
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

func newPresenceEntry(rec domain.ConnectionRecord) presenceEntry {
	return presenceEntry{
		UserID:   rec.UserID,
		Role:     rec.Role,
		IsOnline: rec.IsOnline,
		LastSeen: rec.LastSeen,
	}
}

// PresenceRepository mirrors presence transitions into Redis. It is written
// behind the signaling hub and never read back by it.
type PresenceRepository struct {
	client *database.RedisClient
	// offlineTTL lets offline keys expire on their own if the purge write
	// is lost
	offlineTTL time.Duration
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient, offlineTTL time.Duration) *PresenceRepository {
	return &PresenceRepository{client: client, offlineTTL: offlineTTL}
}

func presenceKey(userID string) string {
	return fmt.Sprintf("presence:%s", userID)
}

// SetOnline marks user as online
func (r *PresenceRepository) SetOnline(ctx context.Context, rec domain.ConnectionRecord) error {
	rec.IsOnline = true
	data, err := json.Marshal(newPresenceEntry(rec))
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	if err := r.client.SafeSet(ctx, presenceKey(rec.UserID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set user online: %w", err)
	}

	// Add to online users set for quick listing
	if err := r.client.SafeSAdd(ctx, onlineSetKey, rec.UserID).Err(); err != nil {
		return fmt.Errorf("failed to add to online set: %w", err)
	}

	return nil
}

// SetOffline marks user as offline and keeps the record until the grace period ends
func (r *PresenceRepository) SetOffline(ctx context.Context, rec domain.ConnectionRecord) error {
	rec.IsOnline = false
	data, err := json.Marshal(newPresenceEntry(rec))
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	if err := r.client.SafeSet(ctx, presenceKey(rec.UserID), data, r.offlineTTL).Err(); err != nil {
		return fmt.Errorf("failed to set user offline: %w", err)
	}

	// Remove from online set
	if err := r.client.SafeSRem(ctx, onlineSetKey, rec.UserID).Err(); err != nil {
		return fmt.Errorf("failed to remove from online set: %w", err)
	}

	return nil
}

// Remove deletes the user's presence after the grace period
func (r *PresenceRepository) Remove(ctx context.Context, userID string) error {
	if err := r.client.SafeDel(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete presence: %w", err)
	}
	if err := r.client.SafeSRem(ctx, onlineSetKey, userID).Err(); err != nil {
		return fmt.Errorf("failed to remove from online set: %w", err)
	}
	return nil
}

// ClearOnline drops the online set. Called at startup, since presence is
// rebuilt from scratch by reconnecting clients.
func (r *PresenceRepository) ClearOnline(ctx context.Context) error {
	if err := r.client.SafeDel(ctx, onlineSetKey).Err(); err != nil {
		return fmt.Errorf("failed to clear online set: %w", err)
	}
	return nil
}
