package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-relay/internal/auth"
	"github.com/saidutt46/switchboard-relay/internal/repository"
)

// UserService is an active service as shown to a user, with their usage.
type UserService struct {
	*repository.Service
	Usage int64 `json:"usage"`
}

// CreateKeyRequest is the body of POST /api/user/keys.
type CreateKeyRequest struct {
	Name      string `json:"name"`
	ServiceID string `json:"serviceId"`
}

// Me returns the caller's profile.
func (h *Handler) Me(c *gin.Context) {
	respondItem(c, http.StatusOK, currentUser(c).Public())
}

// UserServices lists active services with the caller's usage count.
func (h *Handler) UserServices(c *gin.Context) {
	ctx := c.Request.Context()
	user := currentUser(c)

	services, err := h.repos.Services.List(ctx, repository.ServiceFilter{ActiveOnly: true})
	if err != nil {
		h.internalError(c, err)
		return
	}

	items := make([]UserService, 0, len(services))
	for _, svc := range services {
		counter, err := h.repos.Usage.Get(ctx, repository.UsageKey{ServiceID: svc.ID, Username: user.Username})
		if err != nil {
			h.internalError(c, err)
			return
		}
		items = append(items, UserService{Service: svc, Usage: counter.Count})
	}

	respondItems(c, items)
}

// ListKeys lists the caller's API keys.
func (h *Handler) ListKeys(c *gin.Context) {
	keys, err := h.repos.Keys.ListByUser(c.Request.Context(), currentUser(c).Username)
	if err != nil {
		h.internalError(c, err)
		return
	}
	respondItems(c, keys)
}

// CreateKey mints a key for an active service. The caller must still be
// APPROVED.
func (h *Handler) CreateKey(c *gin.Context) {
	ctx := c.Request.Context()
	user := currentUser(c)

	var req CreateKeyRequest
	if !bindJSON(c, &req) {
		return
	}

	if !user.Approved() {
		respondError(c, http.StatusForbidden, msgNotApproved)
		return
	}

	serviceID := strings.TrimSpace(req.ServiceID)
	if serviceID == "" {
		respondError(c, http.StatusBadRequest, msgServiceIDRequired)
		return
	}

	svc, err := h.repos.Services.Get(ctx, serviceID)
	if errors.Is(err, repository.ErrNotFound) {
		respondError(c, http.StatusNotFound, msgServiceNotFound)
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}
	if !svc.Active {
		respondError(c, http.StatusNotFound, msgServiceNotFound)
		return
	}

	token, err := auth.NewApiKey()
	if err != nil {
		h.internalError(c, err)
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = svc.Name
	}

	key := &repository.ApiKey{
		Key:       token,
		Name:      name,
		ServiceID: svc.ID,
		Username:  user.Username,
		CreatedAt: h.now().UTC(),
	}
	if err := h.repos.Keys.Save(ctx, key); err != nil {
		h.internalError(c, err)
		return
	}

	log.Info().
		Str("component", "api").
		Str("username", user.Username).
		Str("service_id", svc.ID).
		Msg("API key issued")

	respondItem(c, http.StatusCreated, key)
}

// DeleteKey revokes one of the caller's keys.
func (h *Handler) DeleteKey(c *gin.Context) {
	ctx := c.Request.Context()
	user := currentUser(c)

	key, err := h.repos.Keys.Get(ctx, c.Param("key"))
	if errors.Is(err, repository.ErrNotFound) || (err == nil && key.Username != user.Username) {
		respondError(c, http.StatusNotFound, msgKeyNotFound)
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}

	if err := h.repos.Keys.Delete(ctx, key.Key); err != nil {
		h.internalError(c, err)
		return
	}
	respondOK(c)
}
