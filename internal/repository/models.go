// Package repository - Data models
//
// This file contains the records persisted in the object store. Field
// names are camelCase on the wire so existing data stays readable.
package repository

import (
	"strings"
	"time"
)

// UserStatus is the approval state of an account.
type UserStatus string

const (
	StatusPending  UserStatus = "PENDING"
	StatusApproved UserStatus = "APPROVED"
	StatusRejected UserStatus = "REJECTED"
)

// ParseUserStatus accepts a status name in any letter case.
func ParseUserStatus(s string) (UserStatus, bool) {
	switch UserStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, true
	case StatusApproved:
		return StatusApproved, true
	case StatusRejected:
		return StatusRejected, true
	}
	return "", false
}

// User is a registered account. Only APPROVED users may log in and relay.
type User struct {
	Username     string     `json:"username"`
	PasswordHash string     `json:"passwordHash"`
	Salt         string     `json:"salt"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// PublicUser is the API view of a User without credential material.
type PublicUser struct {
	Username  string     `json:"username"`
	Status    UserStatus `json:"status"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Public strips the password hash and salt.
func (u *User) Public() PublicUser {
	return PublicUser{
		Username:  u.Username,
		Status:    u.Status,
		CreatedAt: u.CreatedAt,
	}
}

// Approved reports whether the account may use the relay.
func (u *User) Approved() bool {
	return u.Status == StatusApproved
}

// MethodAny means the service accepts every HTTP method.
const MethodAny = "ANY"

// Service is an upstream API registered by an admin.
type Service struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TargetURL string    `json:"targetUrl"`
	Method    string    `json:"method"`
	Limit     int64     `json:"limit"` // 0 = unlimited
	Docs      string    `json:"docs"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewService returns a service with a fresh id and the default settings:
// method ANY, unlimited, active, no docs.
func NewService(name, targetURL string, now time.Time) *Service {
	return &Service{
		ID:        NewServiceID(),
		Name:      name,
		TargetURL: targetURL,
		Method:    MethodAny,
		Limit:     0,
		Docs:      "",
		Active:    true,
		CreatedAt: now,
	}
}

// Limited reports whether the service enforces a usage quota.
func (s *Service) Limited() bool {
	return s.Limit > 0
}

// ApiKey grants one user access to one service.
type ApiKey struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	ServiceID string    `json:"serviceId"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session is a bearer capability issued at login.
type Session struct {
	Token     string `json:"token"`
	Username  string `json:"username"`
	ExpiresAt int64  `json:"expiresAt"` // epoch milliseconds
}

// Valid reports whether the session is still usable at now.
func (s *Session) Valid(now time.Time) bool {
	return now.UnixMilli() < s.ExpiresAt
}

// UsageCounter counts successful relays per (service, user) pair.
type UsageCounter struct {
	ServiceID   string    `json:"serviceId"`
	Username    string    `json:"username"`
	Count       int64     `json:"count"`
	LastRequest time.Time `json:"lastRequest"`
}

// LogEntry records a relay failure or an internal error.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	RouteID   string    `json:"routeId"` // service id, legacy route id, or empty
	TargetURL string    `json:"targetUrl"`
	Status    int       `json:"status"`
	Message   string    `json:"message"`
}

// Route is a legacy token-protected relay target.
type Route struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TargetURL string    `json:"targetUrl"`
	Method    string    `json:"method"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// RouteToken is the shared secret for a legacy Route.
type RouteToken struct {
	Token     string    `json:"token"`
	UpdatedAt time.Time `json:"updatedAt"`
}
