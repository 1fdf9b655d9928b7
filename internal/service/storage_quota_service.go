package service

import (
	"context"
	"fmt"

	"neuralnexus/internal/domain"
	"neuralnexus/internal/repository"
)

type StorageQuotaService struct {
	quotaRepo *repository.StorageQuotaRepository
}

func NewStorageQuotaService(quotaRepo *repository.StorageQuotaRepository) *StorageQuotaService {
	return &StorageQuotaService{
		quotaRepo: quotaRepo,
	}
}

func (s *StorageQuotaService) GetQuotaInfo(ctx context.Context, userID string) (*domain.QuotaInfo, error) {
	quota, err := s.quotaRepo.GetQuota(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get quota: %w", err)
	}

	availableSpace := max(0, quota.TotalBytesLimit-quota.UsedBytes)
	var usagePercent float64
	if quota.TotalBytesLimit > 0 {
		usagePercent = float64(quota.UsedBytes) / float64(quota.TotalBytesLimit) * 100
	}

	return &domain.QuotaInfo{
		TotalSpace:     quota.TotalBytesLimit,
		UsedSpace:      quota.UsedBytes,
		AvailableSpace: availableSpace,
		UsagePercent:   usagePercent,
	}, nil
}

func (s *StorageQuotaService) CheckSpaceAvailable(ctx context.Context, userID string, requiredBytes int64) (bool, error) {
	quota, err := s.quotaRepo.GetQuota(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to get quota: %w", err)
	}

	return (quota.UsedBytes + requiredBytes) <= quota.TotalBytesLimit, nil
}

// AddUsage резервирует (delta > 0) или освобождает место.
// Превышение лимита возвращает domain.ErrQuotaExceeded.
func (s *StorageQuotaService) AddUsage(ctx context.Context, userID string, delta int64) error {
	if _, err := s.quotaRepo.AddUsage(ctx, userID, delta); err != nil {
		return fmt.Errorf("failed to update used space: %w", err)
	}
	return nil
}

func (s *StorageQuotaService) UpdateQuotaLimit(ctx context.Context, userID string, newLimit int64) error {
	if newLimit < 0 {
		return domain.NewValidationError("limit", "new quota limit cannot be negative")
	}
	if _, err := s.quotaRepo.UpdateQuotaLimit(ctx, userID, newLimit); err != nil {
		return fmt.Errorf("failed to update quota limit: %w", err)
	}
	return nil
}

func (s *StorageQuotaService) DeleteQuota(ctx context.Context, userID string) error {
	_, err := s.quotaRepo.Delete(ctx, userID)
	return err
}
