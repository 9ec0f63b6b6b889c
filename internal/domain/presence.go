package domain

import "time"

// Roles carried on registration. The core treats them as opaque labels.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ConnectionRecord is the presence entry for one user. The most recent
// registration owns ConnectionHandle; earlier connections are orphaned.
type ConnectionRecord struct {
	UserID           string    `json:"user_id"`
	ConnectionHandle string    `json:"connection_handle"`
	Role             string    `json:"role"`
	IsOnline         bool      `json:"is_online"`
	LastSeen         time.Time `json:"last_seen"`
}

// UserStatus is the userOnlineStatus payload
type UserStatus struct {
	UserID   string    `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

// Status returns the wire form of the record
func (r ConnectionRecord) Status() UserStatus {
	return UserStatus{
		UserID:   r.UserID,
		IsOnline: r.IsOnline,
		LastSeen: r.LastSeen,
	}
}
