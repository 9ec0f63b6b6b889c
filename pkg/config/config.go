package config

import (
	"fmt"
	"time"

	"signaling-backend/pkg/constants"
	"signaling-backend/pkg/env"
)

// Config holds all configuration for the signaling service
type Config struct {
	Server    ServerConfig
	Signaling SignalingConfig
	WebSocket WebSocketConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Push      PushConfig
	Log       LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Environment    string // development, staging, production
	ServiceName    string
	AllowedOrigins []string
}

// SignalingConfig holds presence and call timing
type SignalingConfig struct {
	RingTimeout        time.Duration
	OfflineGracePeriod time.Duration
	// EndCallFallbackBroadcast broadcasts callEnded to every connection when
	// the endCall target cannot be resolved.
	EndCallFallbackBroadcast bool
}

// WebSocketConfig holds connection limits
type WebSocketConfig struct {
	MaxConnections  int
	MaxMessageBytes int64
	SendBufferSize  int
	AuthRequired    bool
}

// DatabaseConfig holds CockroachDB configuration. Call history is disabled when Enabled is false.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration. The presence mirror is disabled when Enabled is false.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// PushConfig holds missed-call notification settings
type PushConfig struct {
	Provider            string // mock, fcm, apns
	FirebaseProjectID   string
	FirebaseCredentials string
	APNsKeyPath         string
	APNsKeyID           string
	APNsTeamID          string
	APNsBundleID        string
	APNsProduction      bool
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:           env.GetInt("PORT", 8080),
			Environment:    env.GetString("ENV", "development"),
			ServiceName:    env.GetString("SERVICE_NAME", "signaling-service"),
			AllowedOrigins: env.GetStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Signaling: SignalingConfig{
			RingTimeout:              env.GetDuration("RING_TIMEOUT", constants.RingTimeout),
			OfflineGracePeriod:       env.GetDuration("OFFLINE_GRACE_PERIOD", constants.OfflineGracePeriod),
			EndCallFallbackBroadcast: env.GetBool("CALL_END_FALLBACK_BROADCAST", true),
		},
		WebSocket: WebSocketConfig{
			MaxConnections:  env.GetInt("WS_MAX_CONNECTIONS", constants.MaxWebSocketConnections),
			MaxMessageBytes: int64(env.GetInt("WS_MAX_MESSAGE_BYTES", constants.MaxWebSocketMessageBytes)),
			SendBufferSize:  env.GetInt("WS_SEND_BUFFER", constants.WebSocketSendBuffer),
			AuthRequired:    env.GetBool("WS_AUTH_REQUIRED", false),
		},
		Database: DatabaseConfig{
			Enabled:  env.GetBool("DB_ENABLED", false),
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "signaling"),
			SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
			MaxConns: env.GetInt("DB_MAX_CONNS", 10),
			MinConns: env.GetInt("DB_MIN_CONNS", 2),
		},
		Redis: RedisConfig{
			Enabled:  env.GetBool("REDIS_ENABLED", false),
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  time.Duration(env.GetInt("REDIS_TIMEOUT", 5)) * time.Second,
		},
		JWT: JWTConfig{
			Secret:            env.GetStringFromFile("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(env.GetInt("JWT_ACCESS_EXPIRY", 15)) * time.Minute,
		},
		Push: PushConfig{
			Provider:            env.GetString("PUSH_PROVIDER", "mock"),
			FirebaseProjectID:   env.GetString("FIREBASE_PROJECT_ID", ""),
			FirebaseCredentials: env.GetString("FIREBASE_CREDENTIALS_PATH", ""),
			APNsKeyPath:         env.GetString("APNS_KEY_PATH", ""),
			APNsKeyID:           env.GetString("APNS_KEY_ID", ""),
			APNsTeamID:          env.GetString("APNS_TEAM_ID", ""),
			APNsBundleID:        env.GetString("APNS_BUNDLE_ID", ""),
			APNsProduction:      env.GetBool("APNS_PRODUCTION", false),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/signaling.log"),
		},
	}

	// Validate critical configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Signaling.RingTimeout <= 0 {
		return fmt.Errorf("RING_TIMEOUT must be positive, got %s", c.Signaling.RingTimeout)
	}
	if c.Signaling.OfflineGracePeriod <= 0 {
		return fmt.Errorf("OFFLINE_GRACE_PERIOD must be positive, got %s", c.Signaling.OfflineGracePeriod)
	}
	if c.WebSocket.MaxConnections <= 0 {
		return fmt.Errorf("WS_MAX_CONNECTIONS must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return fmt.Errorf("WS_MAX_MESSAGE_BYTES must be positive")
	}
	if c.WebSocket.SendBufferSize <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive")
	}

	// Handshake tokens are only checked when a secret is configured
	if c.WebSocket.AuthRequired && c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET must be set when WS_AUTH_REQUIRED is enabled")
	}
	if c.Server.Environment == "production" && c.JWT.Secret != "" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}

	switch c.Push.Provider {
	case "mock", "fcm", "apns":
	default:
		return fmt.Errorf("unsupported PUSH_PROVIDER %q", c.Push.Provider)
	}

	return nil
}

// RedisAddr returns host:port for the Redis client
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
