package repository

import (
	"context"
	"fmt"

	"neuralnexus/internal/domain"
)

type ApiKeyRepository struct {
	keys *Collection[domain.ApiKey]
}

func NewApiKeyRepository(store *ItemStore) *ApiKeyRepository {
	return &ApiKeyRepository{keys: NewCollection[domain.ApiKey](store, CollectionApiKeys)}
}

func (r *ApiKeyRepository) Create(ctx context.Context, key *domain.ApiKey) error {
	return r.keys.Create(ctx, key)
}

func (r *ApiKeyRepository) GetByID(ctx context.Context, id string) (*domain.ApiKey, error) {
	return r.keys.Get(ctx, id)
}

// GetByHash ищет ключ по SHA-256 хэшу
func (r *ApiKeyRepository) GetByHash(ctx context.Context, hash string) (*domain.ApiKey, error) {
	keys, err := r.keys.Query(ctx, Eq("keyHash", hash))
	if err != nil {
		return nil, err
	}
	if k := first(keys); k != nil {
		return k, nil
	}
	return nil, fmt.Errorf("api key: %w", domain.ErrNotFound)
}

func (r *ApiKeyRepository) ListByUser(ctx context.Context, userID string) ([]*domain.ApiKey, error) {
	return r.keys.Query(ctx, Eq("userId", userID))
}

func (r *ApiKeyRepository) Mutate(ctx context.Context, id string, fn func(*domain.ApiKey) error) (*domain.ApiKey, error) {
	return r.keys.Mutate(ctx, id, fn)
}

func (r *ApiKeyRepository) Delete(ctx context.Context, id string) (bool, error) {
	return r.keys.Delete(ctx, id)
}

func (r *ApiKeyRepository) DeleteByUser(ctx context.Context, userID string) (int, error) {
	keys, err := r.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return deleteAll(ctx, r.keys, keys, func(k *domain.ApiKey) string { return k.ID })
}
