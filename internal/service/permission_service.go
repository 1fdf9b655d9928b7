package service

import (
	"context"
	"errors"
	"fmt"

	"neuralnexus/internal/domain"
	"neuralnexus/internal/repository"
)

// PermissionService представляет сервис для проверки прав доступа
type PermissionService struct {
	userRepo *repository.UserRepository
}

// NewPermissionService создает новый экземпляр PermissionService
func NewPermissionService(userRepo *repository.UserRepository) *PermissionService {
	return &PermissionService{userRepo: userRepo}
}

// IsAdmin проверяет роль пользователя
func (s *PermissionService) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	user, err := s.userRepo.GetByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get user: %w", err)
	}
	return user.IsAdmin(), nil
}

// CanModifyModel владелец модели или администратор
func (s *PermissionService) CanModifyModel(ctx context.Context, userID string, model *domain.Model) (bool, error) {
	if userID != "" && model.UserID == userID {
		return true, nil
	}
	return s.IsAdmin(ctx, userID)
}

// RequireModelOwner возвращает domain.ErrForbidden, если изменять модель нельзя
func (s *PermissionService) RequireModelOwner(ctx context.Context, userID string, model *domain.Model) error {
	ok, err := s.CanModifyModel(ctx, userID, model)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("model %q: %w", model.ID, domain.ErrForbidden)
	}
	return nil
}
