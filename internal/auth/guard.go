// Package auth implements the three credential checks of the relay:
//
//   - Admin: a shared secret in the x-admin-token header
//   - Session: a bearer token issued at login, valid for a fixed TTL
//   - API key: a per-service key whose owner must currently be APPROVED
//
// It also owns registration and login, and password hashing with Argon2id.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-relay/internal/repository"
)

var (
	// ErrUnauthorized is the base error for missing or invalid credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is the base error for valid credentials lacking permission.
	ErrForbidden = errors.New("forbidden")

	ErrMissingAPIKey      = fmt.Errorf("%w: api key required", ErrUnauthorized)
	ErrInvalidAPIKey      = fmt.Errorf("%w: invalid api key", ErrUnauthorized)
	ErrInvalidSession     = fmt.Errorf("%w: invalid session", ErrUnauthorized)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	ErrNotApproved        = fmt.Errorf("%w: account not approved", ErrForbidden)

	// ErrPasswordTooShort is returned by Register for short passwords.
	ErrPasswordTooShort = errors.New("password too short")
)

const (
	// MinPasswordLength is the shortest accepted password.
	MinPasswordLength = 6

	// DefaultSessionTTL is the lifetime of a login session.
	DefaultSessionTTL = 24 * time.Hour
)

// Config configures a Guard.
type Config struct {
	AdminToken string
	SessionTTL time.Duration
	Argon2     Argon2Params

	// Now overrides the clock, for tests
	Now func() time.Time
}

// Guard validates credentials against the repositories.
type Guard struct {
	repos      *repository.Repositories
	adminToken []byte
	sessionTTL time.Duration
	argon2     Argon2Params
	now        func() time.Time
}

// NewGuard creates a guard. An empty AdminToken disables admin access.
func NewGuard(repos *repository.Repositories, cfg Config) *Guard {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.Argon2 == (Argon2Params{}) {
		cfg.Argon2 = DefaultArgon2Params()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.AdminToken == "" {
		log.Warn().
			Str("component", "auth").
			Msg("ADMIN_TOKEN is empty: admin endpoints will reject every request")
	}

	return &Guard{
		repos:      repos,
		adminToken: []byte(cfg.AdminToken),
		sessionTTL: cfg.SessionTTL,
		argon2:     cfg.Argon2,
		now:        cfg.Now,
	}
}

// CheckAdmin compares the presented token with the configured secret.
func (g *Guard) CheckAdmin(token string) error {
	if len(g.adminToken) == 0 || token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(token), g.adminToken) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// Authenticate resolves a session token. Expired sessions are deleted
// when encountered. The owner's status is not re-checked here.
func (g *Guard) Authenticate(ctx context.Context, token string) (*repository.Session, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}

	session, err := g.repos.Sessions.Get(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, err
	}

	if !session.Valid(g.now()) {
		if err := g.repos.Sessions.Delete(ctx, token); err != nil {
			log.Warn().
				Err(err).
				Str("component", "auth").
				Msg("Failed to delete expired session")
		}
		return nil, ErrInvalidSession
	}

	return session, nil
}

// AuthorizeKey checks that key belongs to serviceID and that its owner is
// APPROVED right now.
func (g *Guard) AuthorizeKey(ctx context.Context, serviceID, key string) (*repository.ApiKey, *repository.User, error) {
	if key == "" {
		return nil, nil, ErrMissingAPIKey
	}

	apiKey, err := g.repos.Keys.Get(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, nil, err
	}
	if apiKey.ServiceID != serviceID {
		return nil, nil, ErrInvalidAPIKey
	}

	user, err := g.repos.Users.Get(ctx, apiKey.Username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrNotApproved
	}
	if err != nil {
		return nil, nil, err
	}
	if !user.Approved() {
		return nil, nil, ErrNotApproved
	}

	return apiKey, user, nil
}

// Register creates a PENDING account.
func (g *Guard) Register(ctx context.Context, username, password string) (*repository.User, error) {
	username = strings.TrimSpace(username)
	if err := repository.ValidateUsername(username); err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, ErrPasswordTooShort
	}

	salt, err := NewSalt(g.argon2)
	if err != nil {
		return nil, err
	}
	hash, err := HashPassword(password, salt, g.argon2)
	if err != nil {
		return nil, err
	}

	user := &repository.User{
		Username:     username,
		PasswordHash: hash,
		Salt:         salt,
		Status:       repository.StatusPending,
		CreatedAt:    g.now().UTC(),
	}
	if err := g.repos.Users.Create(ctx, user); err != nil {
		return nil, err
	}

	log.Info().
		Str("component", "auth").
		Str("username", username).
		Msg("User registered")

	return user, nil
}

// Login verifies credentials and issues a session valid for the TTL.
func (g *Guard) Login(ctx context.Context, username, password string) (*repository.Session, error) {
	user, err := g.repos.Users.Get(ctx, strings.TrimSpace(username))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := VerifyPassword(password, user.Salt, user.PasswordHash)
	if err != nil {
		log.Warn().
			Err(err).
			Str("component", "auth").
			Str("username", user.Username).
			Msg("Stored password hash is unreadable")
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if !user.Approved() {
		return nil, ErrNotApproved
	}

	token, err := NewSessionToken()
	if err != nil {
		return nil, err
	}

	session := &repository.Session{
		Token:     token,
		Username:  user.Username,
		ExpiresAt: g.now().Add(g.sessionTTL).UnixMilli(),
	}
	if err := g.repos.Sessions.Save(ctx, session); err != nil {
		return nil, err
	}

	return session, nil
}

// RevokeSessions deletes every session of username.
func (g *Guard) RevokeSessions(ctx context.Context, username string) (int, error) {
	n, err := g.repos.Sessions.DeleteByUser(ctx, username)
	if err != nil {
		return n, err
	}

	log.Info().
		Str("component", "auth").
		Str("username", username).
		Int("revoked", n).
		Msg("Sessions revoked")

	return n, nil
}
