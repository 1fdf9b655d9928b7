package repository

import (
	"context"
	"fmt"

	"neuralnexus/internal/domain"
)

type UserRepository struct {
	users *Collection[domain.User]
}

func NewUserRepository(store *ItemStore) *UserRepository {
	return &UserRepository{users: NewCollection[domain.User](store, CollectionUsers)}
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	return r.users.Create(ctx, user)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.users.Get(ctx, id)
}

func (r *UserRepository) getOne(ctx context.Context, field, value string) (*domain.User, error) {
	users, err := r.users.Query(ctx, Eq(field, value))
	if err != nil {
		return nil, err
	}
	if u := first(users); u != nil {
		return u, nil
	}
	return nil, fmt.Errorf("user with %s %q: %w", field, value, domain.ErrNotFound)
}

// GetByEmail email хранится в нижнем регистре
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, "email", email)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getOne(ctx, "username", username)
}

func (r *UserRepository) GetByResetTokenHash(ctx context.Context, hash string) (*domain.User, error) {
	return r.getOne(ctx, "resetTokenHash", hash)
}

func (r *UserRepository) GetByIDs(ctx context.Context, ids []string) ([]*domain.User, error) {
	if len(ids) == 0 {
		return []*domain.User{}, nil
	}
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	return r.users.Query(ctx, In("id", values...))
}

func (r *UserRepository) List(ctx context.Context) ([]*domain.User, error) {
	return r.users.Query(ctx, All())
}

// Mutate атомарно изменяет пользователя
func (r *UserRepository) Mutate(ctx context.Context, id string, fn func(*domain.User) error) (*domain.User, error) {
	return r.users.Mutate(ctx, id, fn)
}

func (r *UserRepository) Delete(ctx context.Context, id string) (bool, error) {
	return r.users.Delete(ctx, id)
}
