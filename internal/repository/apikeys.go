package repository

import (
	"context"
	"sort"

	"github.com/saidutt46/switchboard-relay/internal/store"
)

const keysPrefix = "keys/"

// ApiKeyRepository persists API keys under keys/<key>.json.
type ApiKeyRepository struct {
	store store.Store
}

// Save stores an API key.
func (r *ApiKeyRepository) Save(ctx context.Context, key *ApiKey) error {
	return putJSON(ctx, r.store, objectKey(keysPrefix, key.Key), key)
}

// Get returns the API key record or ErrNotFound.
func (r *ApiKeyRepository) Get(ctx context.Context, key string) (*ApiKey, error) {
	var k ApiKey
	if err := getJSON(ctx, r.store, objectKey(keysPrefix, key), &k); err != nil {
		return nil, err
	}
	return &k, nil
}

// ListByUser returns the keys owned by username, newest first.
func (r *ApiKeyRepository) ListByUser(ctx context.Context, username string) ([]*ApiKey, error) {
	all, err := listJSON[ApiKey](ctx, r.store, keysPrefix)
	if err != nil {
		return nil, err
	}

	keys := all[:0]
	for _, k := range all {
		if k.Username == username {
			keys = append(keys, k)
		}
	}

	sort.SliceStable(keys, func(i, j int) bool {
		if !keys[i].CreatedAt.Equal(keys[j].CreatedAt) {
			return keys[i].CreatedAt.After(keys[j].CreatedAt)
		}
		return keys[i].Key < keys[j].Key
	})
	return keys, nil
}

// Delete removes an API key.
func (r *ApiKeyRepository) Delete(ctx context.Context, key string) error {
	return deleteKey(ctx, r.store, objectKey(keysPrefix, key))
}
