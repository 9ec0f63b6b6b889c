// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 54 * time.Second

	// WebSocketPongWait is how long a connection may stay silent before it is dropped
	WebSocketPongWait = 60 * time.Second

	// WebSocketWriteWait is the deadline for a single frame write
	WebSocketWriteWait = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Presence and call constants
const (
	// RingTimeout is how long a call may ring before both parties get callTimeout
	RingTimeout = 30 * time.Second

	// OfflineGracePeriod is how long an offline presence record survives before purge
	OfflineGracePeriod = 5 * time.Minute

	// MaxCallDuration is the maximum allowed call duration (24 hours)
	MaxCallDuration = 24 * time.Hour
)

// WebSocket limits
const (
	// MaxWebSocketConnections caps concurrent connections per instance
	MaxWebSocketConnections = 1000

	// MaxWebSocketMessageBytes is the read limit per frame; SDP blobs fit comfortably
	MaxWebSocketMessageBytes = 64 * 1024

	// WebSocketSendBuffer is the outbound queue depth per connection
	WebSocketSendBuffer = 256

	// EventQueueSize is the hub's inbound event buffer
	EventQueueSize = 1024

	// WriteBehindQueueSize is the buffer for mirror/history/push jobs
	WriteBehindQueueSize = 512
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute

	// RedisHealthCheckInterval is how often degraded mode is re-evaluated
	RedisHealthCheckInterval = 10 * time.Second
)

// Push notification constants
const (
	// PushTokenExpiry is the validity period for push notification tokens
	PushTokenExpiry = 30 * 24 * time.Hour // 30 days
)
