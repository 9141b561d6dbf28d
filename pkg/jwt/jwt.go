package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrRevokedToken = errors.New("token has been revoked")
)

// Identity is the signed-in user carried by a session token.
type Identity struct {
	UserID     string
	Username   string
	Email      string
	Picture    string
	SessionKey string
}

// Claims represents JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	UserID     string `json:"user_id"`
	Email      string `json:"email,omitempty"`
	Username   string `json:"username"`
	Picture    string `json:"picture,omitempty"`
	SessionKey string `json:"sid"`
}

// Identity returns the identity encoded in the claims.
func (c *Claims) Identity() Identity {
	return Identity{
		UserID:     c.UserID,
		Username:   c.Username,
		Email:      c.Email,
		Picture:    c.Picture,
		SessionKey: c.SessionKey,
	}
}

// Manager handles JWT operations.
type Manager struct {
	privateKey      *rsa.PrivateKey
	publicKey       *rsa.PublicKey
	sessionDuration time.Duration
	issuer          string
	now             func() time.Time

	// Revoked token IDs (jti) until their natural expiry.
	revokedTokens map[string]time.Time
	mu            sync.RWMutex
}

// NewManager creates a new JWT manager with a freshly generated RSA key.
// Tokens do not survive a restart; use NewManagerFromPEM for a stable key.
func NewManager(sessionDuration time.Duration, issuer string) (*Manager, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return newManager(privateKey, sessionDuration, issuer), nil
}

// NewManagerFromPEM creates a JWT manager from a PEM encoded RSA private key.
func NewManagerFromPEM(pemData []byte, sessionDuration time.Duration, issuer string) (*Manager, error) {
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	return newManager(privateKey, sessionDuration, issuer), nil
}

func newManager(privateKey *rsa.PrivateKey, sessionDuration time.Duration, issuer string) *Manager {
	return &Manager{
		privateKey:      privateKey,
		publicKey:       &privateKey.PublicKey,
		sessionDuration: sessionDuration,
		issuer:          issuer,
		now:             time.Now,
		revokedTokens:   make(map[string]time.Time),
	}
}

// IssueSession creates a signed session token for id.
func (m *Manager) IssueSession(id Identity) (token string, expiresAt int64, err error) {
	now := m.now()
	exp := now.Add(m.sessionDuration)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    m.issuer,
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		UserID:     id.UserID,
		Email:      id.Email,
		Username:   id.Username,
		Picture:    id.Picture,
		SessionKey: id.SessionKey,
	}

	token, err = m.signToken(claims)
	if err != nil {
		return "", 0, err
	}
	return token, exp.Unix(), nil
}

// ValidateToken validates a token and returns claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, ErrInvalidToken
		}
		return m.publicKey, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithTimeFunc(m.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}

	if m.IsRevoked(claims.ID) {
		return nil, ErrRevokedToken
	}

	return claims, nil
}

// Revoke invalidates the token with the given claims until it would have
// expired anyway.
func (m *Manager) Revoke(claims *Claims) {
	expiry := m.now().Add(m.sessionDuration)
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokedTokens[claims.ID] = expiry
}

// IsRevoked checks if the token ID has been revoked.
func (m *Manager) IsRevoked(tokenID string) bool {
	m.mu.RLock()
	expiry, exists := m.revokedTokens[tokenID]
	m.mu.RUnlock()
	if !exists {
		return false
	}
	return m.now().Before(expiry)
}

// CleanupExpiredRevocations removes expired revocation entries.
func (m *Manager) CleanupExpiredRevocations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for id, expiry := range m.revokedTokens {
		if now.After(expiry) {
			delete(m.revokedTokens, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) signToken(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(m.privateKey)
}
