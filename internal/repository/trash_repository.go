package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"neuralnexus/internal/domain"
)

// TrashRepository выборки удаленных в корзину моделей
type TrashRepository struct {
	models    *Collection[domain.Model]
	retention time.Duration
	now       func() time.Time
}

func NewTrashRepository(store *ItemStore, retention time.Duration) *TrashRepository {
	return &TrashRepository{
		models:    NewCollection[domain.Model](store, CollectionModels),
		retention: retention,
		now:       time.Now,
	}
}

// GetTrashItems удаленные модели пользователя, новые первыми
func (r *TrashRepository) GetTrashItems(ctx context.Context, userID string) ([]domain.TrashItem, error) {
	models, err := r.models.Query(ctx, And(Eq("userId", userID), Eq("isDeleted", true)))
	if err != nil {
		return nil, fmt.Errorf("failed to get trash items: %w", err)
	}

	now := r.now()
	items := make([]domain.TrashItem, 0, len(models))
	for _, m := range models {
		item := domain.TrashItem{
			ID:           m.ID,
			Name:         m.Name,
			Category:     m.Category,
			ThumbnailURL: m.ThumbnailURL,
		}
		if m.DeletedAt != nil {
			item.DeletedAt = *m.DeletedAt
		}

		remaining := item.DeletedAt.Add(r.retention).Sub(now)
		if remaining < 0 {
			item.ExpiresIn = "скоро будет удалено"
		} else {
			item.ExpiresIn = formatDuration(remaining)
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].DeletedAt.After(items[j].DeletedAt)
	})
	return items, nil
}

// Expired удаленные модели, срок хранения которых истек
func (r *TrashRepository) Expired(ctx context.Context) ([]*domain.Model, error) {
	cutoff := r.now().Add(-r.retention)
	return r.models.Query(ctx, And(Eq("isDeleted", true), Lt("deletedAt", cutoff)))
}

// formatDuration форматирует продолжительность в человекочитаемый формат
func formatDuration(d time.Duration) string {
	days := d / (24 * time.Hour)
	hours := (d % (24 * time.Hour)) / time.Hour
	minutes := (d % time.Hour) / time.Minute

	if days > 0 {
		return fmt.Sprintf("%d дней %d часов", days, hours)
	} else if hours > 0 {
		return fmt.Sprintf("%d часов %d минут", hours, minutes)
	}
	return fmt.Sprintf("%d минут", minutes)
}
