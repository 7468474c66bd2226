package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-relay/internal/auth"
	"github.com/saidutt46/switchboard-relay/internal/proxy"
	"github.com/saidutt46/switchboard-relay/internal/repository"
)

// RouteRequest is the body of POST /api/admin/routes.
type RouteRequest struct {
	Name      string `json:"name"`
	TargetURL string `json:"targetUrl"`
	Method    string `json:"method"`
}

// RouteWithToken is a legacy route together with its shared token.
type RouteWithToken struct {
	*repository.Route
	UserToken string `json:"userToken"`
}

// CreateRoute registers a token-protected legacy route.
func (h *Handler) CreateRoute(c *gin.Context) {
	ctx := c.Request.Context()

	var req RouteRequest
	if !bindJSON(c, &req) {
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		respondError(c, http.StatusBadRequest, msgNameRequired)
		return
	}
	target, err := proxy.NormalizeTarget(req.TargetURL)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	method, ok := parseMethod(req.Method)
	if !ok {
		respondError(c, http.StatusBadRequest, msgInvalidMethod)
		return
	}

	token, err := auth.NewRouteToken()
	if err != nil {
		h.internalError(c, err)
		return
	}

	now := h.now().UTC()
	route := &repository.Route{
		ID:        repository.NewRouteID(),
		Name:      name,
		TargetURL: target,
		Method:    method,
		Active:    true,
		CreatedAt: now,
	}
	if err := h.repos.Routes.Save(ctx, route); err != nil {
		h.internalError(c, err)
		return
	}
	if err := h.repos.Routes.SaveToken(ctx, route.ID, &repository.RouteToken{Token: token, UpdatedAt: now}); err != nil {
		h.internalError(c, err)
		return
	}

	log.Info().
		Str("component", "api").
		Str("route_id", route.ID).
		Str("target_url", route.TargetURL).
		Msg("Legacy route created")

	respondItem(c, http.StatusCreated, RouteWithToken{Route: route, UserToken: token})
}

// ListRoutes lists legacy routes with their tokens, newest first.
func (h *Handler) ListRoutes(c *gin.Context) {
	ctx := c.Request.Context()

	routes, err := h.repos.Routes.List(ctx)
	if err != nil {
		h.internalError(c, err)
		return
	}

	items := make([]RouteWithToken, 0, len(routes))
	for _, route := range routes {
		token, err := h.routeToken(ctx, route.ID)
		if err != nil {
			h.internalError(c, err)
			return
		}
		items = append(items, RouteWithToken{Route: route, UserToken: token})
	}
	respondItems(c, items)
}

// DeleteRoute removes a legacy route and its token.
func (h *Handler) DeleteRoute(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if _, err := h.repos.Routes.Get(ctx, id); errors.Is(err, repository.ErrNotFound) {
		respondError(c, http.StatusNotFound, msgRouteNotFound)
		return
	} else if err != nil {
		h.internalError(c, err)
		return
	}

	if err := h.repos.Routes.Delete(ctx, id); err != nil {
		h.internalError(c, err)
		return
	}
	if err := h.repos.Routes.DeleteToken(ctx, id); err != nil {
		h.internalError(c, err)
		return
	}
	respondOK(c)
}

func (h *Handler) routeToken(ctx context.Context, id string) (string, error) {
	token, err := h.repos.Routes.GetToken(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token.Token, nil
}
