package service

import (
	"context"
	"errors"
	"fmt"

	"neuralnexus/internal/domain"
	"neuralnexus/internal/logging"
	"neuralnexus/internal/repository"
)

type TrashService struct {
	trashRepo    *repository.TrashRepository
	modelRepo    *repository.ModelRepository
	modelService *ModelService
	permissions  *PermissionService
}

func NewTrashService(
	trashRepo *repository.TrashRepository,
	modelRepo *repository.ModelRepository,
	modelService *ModelService,
	permissions *PermissionService,
) *TrashService {
	return &TrashService{
		trashRepo:    trashRepo,
		modelRepo:    modelRepo,
		modelService: modelService,
		permissions:  permissions,
	}
}

// GetTrashItems получает список элементов в корзине
func (s *TrashService) GetTrashItems(ctx context.Context, userID string) ([]domain.TrashItem, error) {
	if userID == "" {
		return nil, domain.NewValidationError("userId", "owner id is required")
	}

	return s.trashRepo.GetTrashItems(ctx, userID)
}

// RestoreFromTrash восстанавливает элемент из корзины
func (s *TrashService) RestoreFromTrash(ctx context.Context, modelID, userID string) (*domain.Model, error) {
	if modelID == "" || userID == "" {
		return nil, domain.NewValidationError("", "all parameters are required")
	}

	return s.modelService.RestoreModel(ctx, modelID, userID)
}

// DeletePermanently окончательно удаляет элемент из корзины
func (s *TrashService) DeletePermanently(ctx context.Context, modelID, userID string) error {
	model, err := s.modelRepo.GetByID(ctx, modelID)
	if err != nil {
		return err
	}
	if err := s.permissions.RequireModelOwner(ctx, userID, model); err != nil {
		return err
	}
	if !model.IsDeleted {
		return domain.NewValidationError("modelId", "model is not in trash")
	}

	return s.modelService.PermanentlyDeleteModel(ctx, modelID)
}

// EmptyTrash полностью очищает корзину пользователя
func (s *TrashService) EmptyTrash(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, domain.NewValidationError("userId", "owner id is required")
	}

	items, err := s.trashRepo.GetTrashItems(ctx, userID)
	if err != nil {
		return 0, err
	}

	deleted := 0
	var errs []error
	for _, item := range items {
		if err := s.modelService.PermanentlyDeleteModel(ctx, item.ID); err != nil {
			// Логируем ошибку, но продолжаем удаление
			logging.Warn().Err(err).Str("model_id", item.ID).Msg("[TrashService] Failed to delete model")
			errs = append(errs, err)
			continue
		}
		deleted++
	}

	return deleted, errors.Join(errs...)
}

// AutoCleanup удаляет модели, пролежавшие в корзине дольше срока хранения
func (s *TrashService) AutoCleanup(ctx context.Context) error {
	expired, err := s.trashRepo.Expired(ctx)
	if err != nil {
		return fmt.Errorf("failed to find expired items: %w", err)
	}

	deleted := 0
	for _, model := range expired {
		if err := s.modelService.PermanentlyDeleteModel(ctx, model.ID); err != nil {
			logging.Warn().Err(err).Str("model_id", model.ID).Msg("[TrashService] Failed to clean up model")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		logging.Info().Int("deleted", deleted).Msg("[TrashService] Trash cleanup completed")
	}
	return nil
}
