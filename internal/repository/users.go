package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/saidutt46/switchboard-relay/internal/store"
)

const usersPrefix = "users/"

var (
	// ErrUsernameTaken is returned by Create when the username exists.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrInvalidUsername is returned for usernames outside the allowed charset.
	ErrInvalidUsername = errors.New("invalid username")
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,32}$`)

// ValidateUsername checks length, charset, and that the name cannot be
// confused with the usage key separator.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) || strings.Contains(username, usageSeparator) {
		return ErrInvalidUsername
	}
	return nil
}

// UserRepository persists accounts under users/<username>.json.
type UserRepository struct {
	store store.Store
	now   func() time.Time
}

// Create stores a new user and fails with ErrUsernameTaken when the
// username is already registered. The existing record is left untouched.
func (r *UserRepository) Create(ctx context.Context, user *User) error {
	if err := ValidateUsername(user.Username); err != nil {
		return err
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = r.now().UTC()
	}

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}

	err = store.Update(ctx, r.store, objectKey(usersPrefix, user.Username), func(_ []byte, exists bool) ([]byte, error) {
		if exists {
			return nil, ErrUsernameTaken
		}
		return data, nil
	})
	if errors.Is(err, ErrUsernameTaken) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// Save overwrites an existing user record.
func (r *UserRepository) Save(ctx context.Context, user *User) error {
	return putJSON(ctx, r.store, objectKey(usersPrefix, user.Username), user)
}

// Get returns the user or ErrNotFound.
func (r *UserRepository) Get(ctx context.Context, username string) (*User, error) {
	var user User
	if err := getJSON(ctx, r.store, objectKey(usersPrefix, username), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// List returns all users, newest first.
func (r *UserRepository) List(ctx context.Context) ([]*User, error) {
	users, err := listJSON[User](ctx, r.store, usersPrefix)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(users, func(i, j int) bool {
		if !users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].CreatedAt.After(users[j].CreatedAt)
		}
		return users[i].Username < users[j].Username
	})
	return users, nil
}

// SetStatus changes a user's approval state.
func (r *UserRepository) SetStatus(ctx context.Context, username string, status UserStatus) (*User, error) {
	user, err := r.Get(ctx, username)
	if err != nil {
		return nil, err
	}
	user.Status = status
	if err := r.Save(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Delete removes the user record.
func (r *UserRepository) Delete(ctx context.Context, username string) error {
	return deleteKey(ctx, r.store, objectKey(usersPrefix, username))
}
