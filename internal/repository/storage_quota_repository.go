package repository

import (
	"context"
	"errors"
	"fmt"

	"neuralnexus/internal/domain"
	"neuralnexus/internal/logging"
)

type StorageQuotaRepository struct {
	quotas *Collection[domain.StorageQuota]
}

func NewStorageQuotaRepository(store *ItemStore) *StorageQuotaRepository {
	return &StorageQuotaRepository{quotas: NewCollection[domain.StorageQuota](store, CollectionStorageQuotas)}
}

func newQuota(userID string) *domain.StorageQuota {
	return &domain.StorageQuota{
		ID:              userID,
		UserID:          userID,
		TotalBytesLimit: domain.DefaultQuotaBytes,
	}
}

// GetQuota возвращает квоту, создавая квоту по умолчанию при ее отсутствии
func (r *StorageQuotaRepository) GetQuota(ctx context.Context, userID string) (*domain.StorageQuota, error) {
	quota, err := r.quotas.Get(ctx, userID)
	if err == nil {
		return quota, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to get quota: %w", err)
	}

	quota = newQuota(userID)
	err = r.quotas.Create(ctx, quota)
	if errors.Is(err, domain.ErrConflict) {
		return r.quotas.Get(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create quota: %w", err)
	}
	logging.Debug().Str("user_id", userID).Msg("[QuotaRepository] Created default quota")
	return quota, nil
}

// AddUsage атомарно изменяет занятое место на delta, не опускаясь ниже нуля.
// При delta > 0 и выходе за лимит возвращает domain.ErrQuotaExceeded.
func (r *StorageQuotaRepository) AddUsage(ctx context.Context, userID string, delta int64) (*domain.StorageQuota, error) {
	return r.quotas.Upsert(ctx, userID,
		func() *domain.StorageQuota { return newQuota(userID) },
		func(q *domain.StorageQuota) error {
			if delta > 0 && q.UsedBytes+delta > q.TotalBytesLimit {
				return fmt.Errorf("need %d bytes, %d available: %w",
					delta, q.TotalBytesLimit-q.UsedBytes, domain.ErrQuotaExceeded)
			}
			q.UsedBytes = max(0, q.UsedBytes+delta)
			return nil
		})
}

func (r *StorageQuotaRepository) UpdateQuotaLimit(ctx context.Context, userID string, newLimit int64) (*domain.StorageQuota, error) {
	return r.quotas.Upsert(ctx, userID,
		func() *domain.StorageQuota { return newQuota(userID) },
		func(q *domain.StorageQuota) error {
			q.TotalBytesLimit = newLimit
			return nil
		})
}

func (r *StorageQuotaRepository) Delete(ctx context.Context, userID string) (bool, error) {
	return r.quotas.Delete(ctx, userID)
}
