package repository

import (
	"context"
	"sort"

	"github.com/saidutt46/switchboard-relay/internal/store"
)

const (
	routesPrefix = "routes/"
	tokenPrefix  = "token/"
)

// RouteRepository persists legacy token routes and their shared tokens.
type RouteRepository struct {
	store store.Store
}

// Save creates or overwrites a route.
func (r *RouteRepository) Save(ctx context.Context, route *Route) error {
	return putJSON(ctx, r.store, objectKey(routesPrefix, route.ID), route)
}

// Get returns the route or ErrNotFound.
func (r *RouteRepository) Get(ctx context.Context, id string) (*Route, error) {
	var route Route
	if err := getJSON(ctx, r.store, objectKey(routesPrefix, id), &route); err != nil {
		return nil, err
	}
	return &route, nil
}

// List returns all routes, newest first.
func (r *RouteRepository) List(ctx context.Context) ([]*Route, error) {
	routes, err := listJSON[Route](ctx, r.store, routesPrefix)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(routes, func(i, j int) bool {
		if !routes[i].CreatedAt.Equal(routes[j].CreatedAt) {
			return routes[i].CreatedAt.After(routes[j].CreatedAt)
		}
		return routes[i].ID < routes[j].ID
	})
	return routes, nil
}

// Delete removes a route. Its token is removed separately.
func (r *RouteRepository) Delete(ctx context.Context, id string) error {
	return deleteKey(ctx, r.store, objectKey(routesPrefix, id))
}

// SaveToken stores the shared token for route id.
func (r *RouteRepository) SaveToken(ctx context.Context, id string, token *RouteToken) error {
	return putJSON(ctx, r.store, objectKey(tokenPrefix, id), token)
}

// GetToken returns the token for route id or ErrNotFound.
func (r *RouteRepository) GetToken(ctx context.Context, id string) (*RouteToken, error) {
	var token RouteToken
	if err := getJSON(ctx, r.store, objectKey(tokenPrefix, id), &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// DeleteToken removes the token for route id.
func (r *RouteRepository) DeleteToken(ctx context.Context, id string) error {
	return deleteKey(ctx, r.store, objectKey(tokenPrefix, id))
}
