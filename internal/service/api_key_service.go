package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"neuralnexus/internal/domain"
	"neuralnexus/internal/logging"
	"neuralnexus/internal/metrics"
	"neuralnexus/internal/repository"
)

const (
	keyRandomBytes    = 32
	keyDisplaySuffix  = 8
	maxApiKeyNameSize = 100
)

// errNoWrite прерывает Mutate без записи, результат уже получен
var errNoWrite = errors.New("no write needed")

type ApiKeyService struct {
	repo *repository.ApiKeyRepository
	now  func() time.Time
}

func NewApiKeyService(repo *repository.ApiKeyRepository) *ApiKeyService {
	return &ApiKeyService{repo: repo, now: time.Now}
}

// monthStart начало календарного месяца в UTC
func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// CreateApiKey выдает новый ключ. Открытый ключ возвращается только здесь.
func (s *ApiKeyService) CreateApiKey(ctx context.Context, userID, name string, keyType domain.KeyType) (*domain.CreatedApiKey, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.NewValidationError("name", "is required")
	}
	if len(name) > maxApiKeyNameSize {
		return nil, domain.NewValidationError("name", fmt.Sprintf("must be at most %d", maxApiKeyNameSize))
	}
	spec, ok := domain.KeyTypes[keyType]
	if !ok {
		return nil, domain.NewValidationError("keyType", "must be one of: test train deploy development production")
	}

	secret, err := randomHex(keyRandomBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	plain := spec.Prefix + secret

	key := &domain.ApiKey{
		ID:               uuid.NewString(),
		UserID:           userID,
		Name:             name,
		KeyType:          keyType,
		KeyPrefix:        plain[:len(spec.Prefix)+keyDisplaySuffix],
		KeyHash:          hashToken(plain),
		UsageLimit:       spec.UsageLimit,
		UsagePeriodStart: monthStart(s.now()),
		IsActive:         true,
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to create api key: %w", err)
	}

	logging.Info().Str("user_id", userID).Str("key_id", key.ID).Str("key_type", string(keyType)).Msg("[ApiKeyService] Api key created")
	return &domain.CreatedApiKey{ApiKey: key, Key: plain}, nil
}

// wellFormed ключ имеет известный префикс и 64 hex символа
func wellFormed(key string) bool {
	for _, spec := range domain.KeyTypes {
		secret, ok := strings.CutPrefix(key, spec.Prefix)
		if !ok {
			continue
		}
		if len(secret) != keyRandomBytes*2 {
			return false
		}
		for _, c := range secret {
			if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
				return false
			}
		}
		return true
	}
	return false
}

// ValidateApiKey проверяет ключ и списывает один вызов. Проверка лимита и
// увеличение счетчика выполняются одной условной записью.
func (s *ApiKeyService) ValidateApiKey(ctx context.Context, key string) (*domain.ValidationResult, error) {
	result, err := s.validate(ctx, key)
	if err != nil {
		metrics.ApiKeyValidations.WithLabelValues("error").Inc()
		return nil, err
	}

	label := "valid"
	if !result.Valid {
		label = result.Reason
	}
	metrics.ApiKeyValidations.WithLabelValues(label).Inc()
	return result, nil
}

func (s *ApiKeyService) validate(ctx context.Context, key string) (*domain.ValidationResult, error) {
	if !wellFormed(key) {
		return &domain.ValidationResult{Reason: domain.ReasonInvalidFormat}, nil
	}

	stored, err := s.repo.GetByHash(ctx, hashToken(key))
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.ValidationResult{Reason: domain.ReasonNotFound}, nil
	}
	if err != nil {
		return nil, err
	}

	var result domain.ValidationResult
	_, err = s.repo.Mutate(ctx, stored.ID, func(k *domain.ApiKey) error {
		now := s.now().UTC()
		result = domain.ValidationResult{UserID: k.UserID, KeyType: k.KeyType}

		reset := false
		if period := monthStart(now); period.After(k.UsagePeriodStart) {
			k.CurrentUsage = 0
			k.UsagePeriodStart = period
			reset = true
		}

		switch {
		case !k.IsActive:
			result.Reason = domain.ReasonInactive
		case k.CurrentUsage >= k.UsageLimit:
			result.Reason = domain.ReasonUsageLimitExceeded
		default:
			k.CurrentUsage++
			k.LastUsedAt = &now
			result.Valid = true
		}
		result.RemainingUsage = max(0, k.UsageLimit-k.CurrentUsage)

		if !result.Valid && !reset {
			return errNoWrite
		}
		return nil
	})
	if err != nil && !errors.Is(err, errNoWrite) {
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.ValidationResult{Reason: domain.ReasonNotFound}, nil
		}
		return nil, err
	}
	return &result, nil
}

// ListApiKeys ключи пользователя, новые первыми
func (s *ApiKeyService) ListApiKeys(ctx context.Context, userID string) ([]*domain.ApiKey, error) {
	keys, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

// GetApiKey чужой ключ выглядит как отсутствующий
func (s *ApiKeyService) GetApiKey(ctx context.Context, id, userID string) (*domain.ApiKey, error) {
	key, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if key.UserID != userID {
		return nil, fmt.Errorf("api key %q: %w", id, domain.ErrNotFound)
	}
	return key, nil
}

func (s *ApiKeyService) mutateOwned(ctx context.Context, id, userID string, fn func(*domain.ApiKey)) (*domain.ApiKey, error) {
	if _, err := s.GetApiKey(ctx, id, userID); err != nil {
		return nil, err
	}
	return s.repo.Mutate(ctx, id, func(k *domain.ApiKey) error {
		fn(k)
		return nil
	})
}

// RevokeApiKey деактивирует ключ, запись сохраняется
func (s *ApiKeyService) RevokeApiKey(ctx context.Context, id, userID string) (*domain.ApiKey, error) {
	key, err := s.mutateOwned(ctx, id, userID, func(k *domain.ApiKey) { k.IsActive = false })
	if err != nil {
		return nil, err
	}
	logging.Info().Str("key_id", id).Msg("[ApiKeyService] Api key revoked")
	return key, nil
}

func (s *ApiKeyService) DeleteApiKey(ctx context.Context, id, userID string) error {
	if _, err := s.GetApiKey(ctx, id, userID); err != nil {
		return err
	}
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("api key %q: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ResetUsage обнуляет счетчик и начинает новый период
func (s *ApiKeyService) ResetUsage(ctx context.Context, id, userID string) (*domain.ApiKey, error) {
	return s.mutateOwned(ctx, id, userID, func(k *domain.ApiKey) {
		k.CurrentUsage = 0
		k.UsagePeriodStart = monthStart(s.now())
	})
}

func (s *ApiKeyService) GetUsageStats(ctx context.Context, userID string) (*domain.ApiKeyUsageStats, error) {
	keys, err := s.ListApiKeys(ctx, userID)
	if err != nil {
		return nil, err
	}

	period := monthStart(s.now())
	stats := &domain.ApiKeyUsageStats{
		UsageByType: make(map[domain.KeyType]int64),
		Keys:        make([]domain.ApiKeyUsageEntry, 0, len(keys)),
	}
	for _, k := range keys {
		usage := k.CurrentUsage
		if period.After(k.UsagePeriodStart) {
			usage = 0
		}

		stats.TotalKeys++
		if k.IsActive {
			stats.ActiveKeys++
		}
		stats.TotalUsage += usage
		stats.UsageByType[k.KeyType] += usage

		entry := domain.ApiKeyUsageEntry{
			ID:           k.ID,
			Name:         k.Name,
			KeyType:      k.KeyType,
			CurrentUsage: usage,
			UsageLimit:   k.UsageLimit,
		}
		if k.UsageLimit > 0 {
			entry.UsagePercent = roundRating(float64(usage) / float64(k.UsageLimit) * 100)
		}
		stats.Keys = append(stats.Keys, entry)
	}
	return stats, nil
}
