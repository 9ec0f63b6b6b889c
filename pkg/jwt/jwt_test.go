package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewJWTManager(t *testing.T) {
	secret := "test-secret-key-for-testing-purposes"
	accessExpiry := 15 * time.Minute

	manager := NewJWTManager(secret, accessExpiry)

	assert.NotNil(t, manager)
	assert.Equal(t, secret, manager.secretKey)
	assert.Equal(t, accessExpiry, manager.accessTokenDuration)
}

func TestGenerateAccessToken(t *testing.T) {
	manager := NewJWTManager("test-secret", 15*time.Minute)

	token, err := manager.GenerateAccessToken("alice", "user")

	assert.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestValidateToken_ValidToken(t *testing.T) {
	manager := NewJWTManager("test-secret", 15*time.Minute)

	token, err := manager.GenerateAccessToken("alice", "admin")
	assert.NoError(t, err)

	claims, err := manager.ValidateToken(token)

	assert.NoError(t, err)
	assert.NotNil(t, claims)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "signaling-auth", claims.Issuer)
	assert.True(t, claims.ExpiresAt.After(claims.IssuedAt.Time))
}

func TestValidateToken_ExpiredToken(t *testing.T) {
	manager := NewJWTManager("test-secret", -1*time.Minute)

	token, err := manager.GenerateAccessToken("alice", "user")
	assert.NoError(t, err)

	claims, err := manager.ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateToken_InvalidToken(t *testing.T) {
	manager := NewJWTManager("test-secret", 15*time.Minute)

	claims, err := manager.ValidateToken("invalid.token.here")

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	manager1 := NewJWTManager("secret-1", 15*time.Minute)
	token, err := manager1.GenerateAccessToken("alice", "user")
	assert.NoError(t, err)

	manager2 := NewJWTManager("secret-2", 15*time.Minute)
	claims, err := manager2.ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestIsTokenExpired(t *testing.T) {
	expired := NewJWTManager("test-secret", -1*time.Minute)
	token, err := expired.GenerateAccessToken("alice", "user")
	assert.NoError(t, err)
	assert.True(t, IsTokenExpired(token))

	fresh := NewJWTManager("test-secret", 15*time.Minute)
	token, err = fresh.GenerateAccessToken("alice", "user")
	assert.NoError(t, err)
	assert.False(t, IsTokenExpired(token))

	assert.True(t, IsTokenExpired("garbage"))
}

func TestIsExpiredError(t *testing.T) {
	manager := NewJWTManager("test-secret-key-at-least-32-bytes!", -time.Minute)
	token, err := manager.GenerateAccessToken("alice", "user")
	assert.NoError(t, err)

	_, err = manager.ValidateToken(token)
	assert.True(t, IsExpiredError(err))

	_, err = manager.ValidateToken("garbage")
	assert.False(t, IsExpiredError(err))
}
