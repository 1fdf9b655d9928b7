package repository

import (
	"context"

	"neuralnexus/internal/domain"
)

// ProfileRepository профили, id профиля совпадает с id пользователя
type ProfileRepository struct {
	profiles *Collection[domain.UserProfile]
}

func NewProfileRepository(store *ItemStore) *ProfileRepository {
	return &ProfileRepository{profiles: NewCollection[domain.UserProfile](store, CollectionProfiles)}
}

func (r *ProfileRepository) Get(ctx context.Context, userID string) (*domain.UserProfile, error) {
	return r.profiles.Get(ctx, userID)
}

// Save создает профиль или атомарно изменяет существующий
func (r *ProfileRepository) Save(ctx context.Context, userID string, fn func(*domain.UserProfile) error) (*domain.UserProfile, error) {
	return r.profiles.Upsert(ctx, userID,
		func() *domain.UserProfile {
			return &domain.UserProfile{ID: userID, UserID: userID}
		}, fn)
}

func (r *ProfileRepository) Delete(ctx context.Context, userID string) (bool, error) {
	return r.profiles.Delete(ctx, userID)
}
