package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-relay/internal/proxy"
	"github.com/saidutt46/switchboard-relay/internal/repository"
)

// ServiceRequest is the body of service create and update. Absent fields
// keep their current value on update.
type ServiceRequest struct {
	Name      *string `json:"name"`
	TargetURL *string `json:"targetUrl"`
	Method    *string `json:"method"`
	Limit     *int64  `json:"limit"`
	Docs      *string `json:"docs"`
	Active    *bool   `json:"active"`
}

// StatusRequest is the body of PATCH /api/admin/users/{username}.
type StatusRequest struct {
	Status string `json:"status"`
}

// apply validates the request and copies its fields onto svc. It returns
// the caller-facing message of the first invalid field.
func (r *ServiceRequest) apply(svc *repository.Service) (string, bool) {
	if r.Name != nil {
		svc.Name = strings.TrimSpace(*r.Name)
	}
	if svc.Name == "" {
		return msgNameRequired, false
	}

	if r.TargetURL != nil {
		target, err := proxy.NormalizeTarget(*r.TargetURL)
		if err != nil {
			return err.Error(), false
		}
		svc.TargetURL = target
	}
	if svc.TargetURL == "" {
		return proxy.ErrInvalidTarget.Error(), false
	}

	if r.Method != nil {
		method, ok := parseMethod(*r.Method)
		if !ok {
			return msgInvalidMethod, false
		}
		svc.Method = method
	}

	if r.Limit != nil {
		if *r.Limit < 0 {
			return msgInvalidLimit, false
		}
		svc.Limit = *r.Limit
	}
	if r.Docs != nil {
		svc.Docs = *r.Docs
	}
	if r.Active != nil {
		svc.Active = *r.Active
	}
	return "", true
}

// parseMethod upper-cases m and checks it is allowed. Empty means ANY.
func parseMethod(m string) (string, bool) {
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "" {
		return repository.MethodAny, true
	}
	return m, allowedMethods[m]
}

// CreateService registers an upstream service.
func (h *Handler) CreateService(c *gin.Context) {
	var req ServiceRequest
	if !bindJSON(c, &req) {
		return
	}

	svc := repository.NewService("", "", h.now().UTC())
	if msg, ok := req.apply(svc); !ok {
		respondError(c, http.StatusBadRequest, msg)
		return
	}

	if err := h.repos.Services.Save(c.Request.Context(), svc); err != nil {
		h.internalError(c, err)
		return
	}

	log.Info().
		Str("component", "api").
		Str("service_id", svc.ID).
		Str("target_url", svc.TargetURL).
		Int64("limit", svc.Limit).
		Msg("Service created")

	respondItem(c, http.StatusCreated, svc)
}

// ListServices lists every service, newest first.
func (h *Handler) ListServices(c *gin.Context) {
	services, err := h.repos.Services.List(c.Request.Context(), repository.ServiceFilter{})
	if err != nil {
		h.internalError(c, err)
		return
	}
	respondItems(c, services)
}

// GetService returns one service.
func (h *Handler) GetService(c *gin.Context) {
	svc, ok := h.loadService(c)
	if !ok {
		return
	}
	respondItem(c, http.StatusOK, svc)
}

// UpdateService applies a partial update.
func (h *Handler) UpdateService(c *gin.Context) {
	svc, ok := h.loadService(c)
	if !ok {
		return
	}

	var req ServiceRequest
	if !bindJSON(c, &req) {
		return
	}
	if msg, ok := req.apply(svc); !ok {
		respondError(c, http.StatusBadRequest, msg)
		return
	}

	if err := h.repos.Services.Save(c.Request.Context(), svc); err != nil {
		h.internalError(c, err)
		return
	}
	respondItem(c, http.StatusOK, svc)
}

// DeleteService removes a service. Its keys and usage counters stay.
func (h *Handler) DeleteService(c *gin.Context) {
	svc, ok := h.loadService(c)
	if !ok {
		return
	}

	if err := h.repos.Services.Delete(c.Request.Context(), svc.ID); err != nil {
		h.internalError(c, err)
		return
	}

	log.Info().
		Str("component", "api").
		Str("service_id", svc.ID).
		Msg("Service deleted")

	respondOK(c)
}

func (h *Handler) loadService(c *gin.Context) (*repository.Service, bool) {
	svc, err := h.repos.Services.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		respondError(c, http.StatusNotFound, msgServiceNotFound)
		return nil, false
	}
	if err != nil {
		h.internalError(c, err)
		return nil, false
	}
	return svc, true
}

// ListUsers lists accounts without credential material.
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.repos.Users.List(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}

	items := make([]repository.PublicUser, 0, len(users))
	for _, u := range users {
		items = append(items, u.Public())
	}
	respondItems(c, items)
}

// UpdateUserStatus approves or rejects an account. Existing sessions are
// left alone; revoke-sessions ends them explicitly.
func (h *Handler) UpdateUserStatus(c *gin.Context) {
	ctx := c.Request.Context()

	var req StatusRequest
	if !bindJSON(c, &req) {
		return
	}
	status, ok := repository.ParseUserStatus(req.Status)
	if !ok {
		respondError(c, http.StatusBadRequest, msgInvalidStatus)
		return
	}

	user, err := h.repos.Users.SetStatus(ctx, c.Param("username"), status)
	if errors.Is(err, repository.ErrNotFound) {
		respondError(c, http.StatusNotFound, msgUserNotFound)
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}

	log.Info().
		Str("component", "api").
		Str("username", user.Username).
		Str("status", string(status)).
		Msg("User status changed")

	respondItem(c, http.StatusOK, user.Public())
}

// DeleteUser removes an account and its sessions. Keys stay and fail
// authorization because the owner is gone.
func (h *Handler) DeleteUser(c *gin.Context) {
	ctx := c.Request.Context()
	username := c.Param("username")

	if _, err := h.repos.Users.Get(ctx, username); errors.Is(err, repository.ErrNotFound) {
		respondError(c, http.StatusNotFound, msgUserNotFound)
		return
	} else if err != nil {
		h.internalError(c, err)
		return
	}

	if err := h.repos.Users.Delete(ctx, username); err != nil {
		h.internalError(c, err)
		return
	}
	if _, err := h.guard.RevokeSessions(ctx, username); err != nil {
		h.internalError(c, err)
		return
	}
	respondOK(c)
}

// RevokeUserSessions logs a user out everywhere.
func (h *Handler) RevokeUserSessions(c *gin.Context) {
	n, err := h.guard.RevokeSessions(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.internalError(c, err)
		return
	}
	respondItem(c, http.StatusOK, gin.H{"revoked": n})
}

// ListLogs returns the newest log entries. The limit query parameter is
// clamped to [1, 200] and defaults to 50.
func (h *Handler) ListLogs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		limit = 0
	}

	entries, err := h.repos.Logs.List(c.Request.Context(), repository.ClampLogLimit(limit))
	if err != nil {
		h.internalError(c, err)
		return
	}
	respondItems(c, entries)
}

// ClearLogs deletes every log entry.
func (h *Handler) ClearLogs(c *gin.Context) {
	n, err := h.repos.Logs.DeleteAll(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}
	respondItem(c, http.StatusOK, gin.H{"deleted": n})
}

// ListUsage lists every usage counter.
func (h *Handler) ListUsage(c *gin.Context) {
	counters, err := h.repos.Usage.List(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}
	respondItems(c, counters)
}

// ResetUsage zeroes one (service, user) counter.
func (h *Handler) ResetUsage(c *gin.Context) {
	key := repository.UsageKey{ServiceID: c.Param("serviceId"), Username: c.Param("username")}
	err := h.repos.Usage.Reset(c.Request.Context(), key)
	if errors.Is(err, repository.ErrInvalidUsageKey) {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}
	respondOK(c)
}
