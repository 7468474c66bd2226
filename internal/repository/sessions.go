package repository

import (
	"context"

	"github.com/saidutt46/switchboard-relay/internal/store"
)

const sessionsPrefix = "sessions/"

// SessionRepository persists login sessions under sessions/<token>.json.
type SessionRepository struct {
	store store.Store
}

// Save stores a session.
func (r *SessionRepository) Save(ctx context.Context, session *Session) error {
	return putJSON(ctx, r.store, objectKey(sessionsPrefix, session.Token), session)
}

// Get returns the session or ErrNotFound. Expiry is not checked here.
func (r *SessionRepository) Get(ctx context.Context, token string) (*Session, error) {
	var session Session
	if err := getJSON(ctx, r.store, objectKey(sessionsPrefix, token), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Delete removes a session.
func (r *SessionRepository) Delete(ctx context.Context, token string) error {
	return deleteKey(ctx, r.store, objectKey(sessionsPrefix, token))
}

// DeleteByUser removes every session owned by username and returns how
// many were deleted.
func (r *SessionRepository) DeleteByUser(ctx context.Context, username string) (int, error) {
	sessions, err := listJSON[Session](ctx, r.store, sessionsPrefix)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, s := range sessions {
		if s.Username != username {
			continue
		}
		if err := r.Delete(ctx, s.Token); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
