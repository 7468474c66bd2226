package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	apiKeyPrefix = "rk_"
	apiKeyBytes  = 24
	sessionBytes = 32
)

// NewToken returns n random bytes encoded as unpadded base64url.
func NewToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewApiKey returns a fresh key of the form rk_<base64url(24 bytes)>.
func NewApiKey() (string, error) {
	token, err := NewToken(apiKeyBytes)
	if err != nil {
		return "", err
	}
	return apiKeyPrefix + token, nil
}

// NewSessionToken returns a fresh bearer token.
func NewSessionToken() (string, error) {
	return NewToken(sessionBytes)
}

// NewRouteToken returns a shared secret for a legacy route.
func NewRouteToken() (string, error) {
	return NewToken(apiKeyBytes)
}
