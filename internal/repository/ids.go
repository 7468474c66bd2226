package repository

import (
	"strings"

	"github.com/google/uuid"
)

// newID returns prefix + "_" + 16 hex characters taken from a random UUID.
func newID(prefix string) string {
	return prefix + "_" + hexUUID()[:16]
}

// NewServiceID returns an id of the form svc_<16 hex>.
func NewServiceID() string {
	return newID("svc")
}

// NewRouteID returns an id of the form api_<16 hex>.
func NewRouteID() string {
	return newID("api")
}

func hexUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
