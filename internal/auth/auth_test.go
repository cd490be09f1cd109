package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	return Config{
		JWTSecret:         "test-secret",
		TokenExpiry:       time.Hour,
		AdminUsername:     "admin",
		AdminPasswordHash: hash,
	}
}

func TestLoginSuccess(t *testing.T) {
	s := NewService(testConfig(t))

	token, err := s.Login("admin", "correct horse battery staple")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ValidateToken("test-secret", token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
}

func TestLoginInvalidCredentials(t *testing.T) {
	s := NewService(testConfig(t))

	_, err := s.Login("admin", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Login("root", "correct horse battery staple")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken(testConfig(t), "admin")
	require.NoError(t, err)

	_, err = ValidateToken("other-secret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenExpired(t *testing.T) {
	cfg := testConfig(t)
	cfg.TokenExpiry = -time.Minute

	token, err := GenerateToken(cfg, "admin")
	require.NoError(t, err)

	_, err = ValidateToken(cfg.JWTSecret, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenGarbage(t *testing.T) {
	_, err := ValidateToken("test-secret", "not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.True(t, CheckPassword("s3cret", hash))
	assert.False(t, CheckPassword("S3cret", hash))
}
