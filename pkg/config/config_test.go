package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Signaling.RingTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Signaling.OfflineGracePeriod)
	assert.True(t, cfg.Signaling.EndCallFallbackBroadcast)
	assert.False(t, cfg.WebSocket.AuthRequired)
	assert.Equal(t, "mock", cfg.Push.Provider)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RING_TIMEOUT", "45s")
	t.Setenv("OFFLINE_GRACE_PERIOD", "1m")
	t.Setenv("CALL_END_FALLBACK_BROADCAST", "false")
	t.Setenv("REDIS_PORT", "6380")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Signaling.RingTimeout)
	assert.Equal(t, time.Minute, cfg.Signaling.OfflineGracePeriod)
	assert.False(t, cfg.Signaling.EndCallFallbackBroadcast)
	assert.Equal(t, "localhost:6380", cfg.Redis.RedisAddr())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"zero ring timeout", map[string]string{"RING_TIMEOUT": "0s"}, "RING_TIMEOUT"},
		{"negative grace", map[string]string{"OFFLINE_GRACE_PERIOD": "-1m"}, "OFFLINE_GRACE_PERIOD"},
		{"auth without secret", map[string]string{"WS_AUTH_REQUIRED": "true"}, "JWT_SECRET"},
		{"short production secret", map[string]string{"ENV": "production", "JWT_SECRET": "short"}, "32 characters"},
		{"unknown push provider", map[string]string{"PUSH_PROVIDER": "sms"}, "PUSH_PROVIDER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
