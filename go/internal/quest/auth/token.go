package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// ErrNoToken is returned when no usable credential is available.
var ErrNoToken = errors.New("no auth token available")

// TokenProvider supplies the bearer credential for handshakes and requests.
type TokenProvider interface {
	Token() (string, error)
}

// TokenStore is an in-memory TokenProvider. If the stored credential is a
// JWT, its expiry claim is checked on every read so a stale token is never
// handed to a handshake.
type TokenStore struct {
	mu    sync.RWMutex
	token string
}

// NewTokenStore creates an empty token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

// Set replaces the stored credential.
func (s *TokenStore) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Clear removes the stored credential.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}

// Token returns the stored credential or ErrNoToken if absent or expired.
func (s *TokenStore) Token() (string, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return "", ErrNoToken
	}

	// Tokens that don't parse as JWTs are passed through untouched; the
	// server is the authority on their validity.
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return token, nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return token, nil
	}
	if time.Now().After(exp.Time) {
		log.Debug().Time("expired_at", exp.Time).Msg("stored token expired")
		return "", ErrNoToken
	}
	return token, nil
}

// StaticToken is a TokenProvider that always returns the same credential.
// Useful in tests and tooling.
type StaticToken string

func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}
