package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momo-shadow/shadow-engine/internal/config"
	"github.com/momo-shadow/shadow-engine/pkg/crypto"
)

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		Enabled:         true,
		Token:           "operator-token",
		Secret:          "unit-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	}
}

func TestLogin_PlainToken(t *testing.T) {
	m := NewJWTManager(testAuthConfig())

	pair, err := m.Login("operator-token", "pi")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	claims, err := m.ValidateToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, KindAccess, claims.Kind)
	assert.Equal(t, "pi", claims.Device)

	_, err = m.Login("wrong", "pi")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = m.Login("", "pi")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_HashedToken(t *testing.T) {
	hash, err := crypto.HashToken("hashed-token")
	require.NoError(t, err)

	cfg := testAuthConfig()
	cfg.Token = ""
	cfg.TokenHash = hash
	m := NewJWTManager(cfg)

	_, err = m.Login("hashed-token", "")
	assert.NoError(t, err)
	_, err = m.Login("operator-token", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTokenKinds(t *testing.T) {
	m := NewJWTManager(testAuthConfig())
	pair, err := m.GenerateTokenPair("pi")
	require.NoError(t, err)

	// a refresh token is not an access token and vice versa
	_, err = m.ValidateToken(pair.RefreshToken)
	assert.Error(t, err)
	_, err = m.RefreshToken(pair.AccessToken)
	assert.Error(t, err)

	next, err := m.RefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	_, err = m.ValidateToken(next.AccessToken)
	assert.NoError(t, err)
}

func TestValidateToken_Expired(t *testing.T) {
	m := NewJWTManager(testAuthConfig())
	issued := time.Now().Add(-2 * time.Minute)
	m.now = func() time.Time { return issued }
	pair, err := m.GenerateTokenPair("")
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ValidateToken(pair.AccessToken)
	assert.Error(t, err)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	pair, err := NewJWTManager(testAuthConfig()).GenerateTokenPair("")
	require.NoError(t, err)

	cfg := testAuthConfig()
	cfg.Secret = "other"
	_, err = NewJWTManager(cfg).ValidateToken(pair.AccessToken)
	assert.Error(t, err)
}
