package repository

import (
	"context"
	"sort"

	"github.com/saidutt46/switchboard-relay/internal/store"
)

const servicesPrefix = "services/"

// ServiceRepository persists upstream services under services/<id>.json.
type ServiceRepository struct {
	store store.Store
}

// ServiceFilter narrows List results.
type ServiceFilter struct {
	ActiveOnly bool
}

// Save creates or overwrites a service.
func (r *ServiceRepository) Save(ctx context.Context, svc *Service) error {
	return putJSON(ctx, r.store, objectKey(servicesPrefix, svc.ID), svc)
}

// Get returns the service or ErrNotFound.
func (r *ServiceRepository) Get(ctx context.Context, id string) (*Service, error) {
	var svc Service
	if err := getJSON(ctx, r.store, objectKey(servicesPrefix, id), &svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

// List returns services matching filter, newest first.
func (r *ServiceRepository) List(ctx context.Context, filter ServiceFilter) ([]*Service, error) {
	all, err := listJSON[Service](ctx, r.store, servicesPrefix)
	if err != nil {
		return nil, err
	}

	services := all[:0]
	for _, svc := range all {
		if filter.ActiveOnly && !svc.Active {
			continue
		}
		services = append(services, svc)
	}

	sort.SliceStable(services, func(i, j int) bool {
		if !services[i].CreatedAt.Equal(services[j].CreatedAt) {
			return services[i].CreatedAt.After(services[j].CreatedAt)
		}
		return services[i].ID < services[j].ID
	})
	return services, nil
}

// Delete removes the service. Keys and usage counters referencing it stay.
func (r *ServiceRepository) Delete(ctx context.Context, id string) error {
	return deleteKey(ctx, r.store, objectKey(servicesPrefix, id))
}
