package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/momo-shadow/shadow-engine/internal/config"
	"github.com/momo-shadow/shadow-engine/pkg/crypto"
)

const issuer = "shadow-engine"

// Token kinds
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// ErrInvalidCredentials is returned for a wrong operator token
var ErrInvalidCredentials = errors.New("invalid credentials")

// JWTManager manages JWT tokens for the single operator
type JWTManager struct {
	config config.AuthConfig
	now    func() time.Time
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(cfg config.AuthConfig) *JWTManager {
	return &JWTManager{
		config: cfg,
		now:    time.Now,
	}
}

// Claims represents JWT claims
type Claims struct {
	jwt.RegisteredClaims
	Kind   string `json:"kind"`
	Device string `json:"device,omitempty"`
}

// TokenPair is returned by login and refresh
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Login exchanges the operator token for a token pair.
// auth.token_hash is checked with bcrypt; a plain auth.token is compared in constant time.
func (m *JWTManager) Login(token, device string) (*TokenPair, error) {
	if token == "" {
		return nil, ErrInvalidCredentials
	}

	ok := false
	switch {
	case m.config.TokenHash != "":
		ok = crypto.VerifyToken(token, m.config.TokenHash)
	case crypto.IsHash(m.config.Token):
		ok = crypto.VerifyToken(token, m.config.Token)
	case m.config.Token != "":
		ok = crypto.EqualTokens(token, m.config.Token)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	return m.GenerateTokenPair(device)
}

// GenerateTokenPair generates access and refresh tokens
func (m *JWTManager) GenerateTokenPair(device string) (*TokenPair, error) {
	now := m.now()
	accessExp := now.Add(m.config.AccessTokenTTL)

	access, err := m.sign(Claims{
		RegisteredClaims: m.registered(now, accessExp),
		Kind:             KindAccess,
		Device:           device,
	})
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := m.sign(Claims{
		RegisteredClaims: m.registered(now, now.Add(m.config.RefreshTokenTTL)),
		Kind:             KindRefresh,
		Device:           device,
	})
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: accessExp}, nil
}

func (m *JWTManager) registered(now, exp time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   "operator",
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    issuer,
		ID:        uuid.New().String(),
	}
}

func (m *JWTManager) sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.config.Secret))
}

// ValidateToken validates an access token
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	return m.parse(tokenString, KindAccess)
}

// RefreshToken exchanges a refresh token for a new pair
func (m *JWTManager) RefreshToken(refreshTokenString string) (*TokenPair, error) {
	claims, err := m.parse(refreshTokenString, KindRefresh)
	if err != nil {
		return nil, err
	}
	return m.GenerateTokenPair(claims.Device)
}

func (m *JWTManager) parse(tokenString, kind string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.config.Secret), nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(m.now))

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("expected %s token, got %q", kind, claims.Kind)
	}

	return claims, nil
}
