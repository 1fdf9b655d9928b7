package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"neuralnexus/internal/domain"
)

// ModelRepository модели и их версии
type ModelRepository struct {
	models    *Collection[domain.Model]
	versions  *Collection[domain.ModelVersion]
	versioned *VersionedStore
	files     *Collection[domain.ModelFileClaim]
}

func NewModelRepository(store *ItemStore) *ModelRepository {
	return &ModelRepository{
		models:    NewCollection[domain.Model](store, CollectionModels),
		versions:  NewCollection[domain.ModelVersion](store, CollectionModelVersions),
		versioned: NewVersionedStore(store),
		files:     NewCollection[domain.ModelFileClaim](store, CollectionModelFiles),
	}
}

// fileClaimID путь файла содержит разделители, id записи это его хеш
func fileClaimID(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])
}

// ClaimFile закрепляет файл за моделью. Если файл уже принадлежит
// другой модели, возвращает domain.ErrConflict.
func (r *ModelRepository) ClaimFile(ctx context.Context, path, modelID string) error {
	err := r.files.Create(ctx, &domain.ModelFileClaim{ID: fileClaimID(path), Path: path, ModelID: modelID})
	if errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("file %q is already used by another model: %w", path, domain.ErrConflict)
	}
	return err
}

// ReleaseFile снимает закрепление файла
func (r *ModelRepository) ReleaseFile(ctx context.Context, path string) error {
	_, err := r.files.Delete(ctx, fileClaimID(path))
	return err
}

func (r *ModelRepository) Create(ctx context.Context, m *domain.Model) error {
	return r.models.Create(ctx, m)
}

// GetByID возвращает модель, в том числе удаленную в корзину
func (r *ModelRepository) GetByID(ctx context.Context, id string) (*domain.Model, error) {
	return r.models.Get(ctx, id)
}

func (r *ModelRepository) Query(ctx context.Context, filter Filter) ([]*domain.Model, error) {
	return r.models.Query(ctx, filter)
}

// ListPublic опубликованные и не удаленные модели
func (r *ModelRepository) ListPublic(ctx context.Context) ([]*domain.Model, error) {
	return r.models.Query(ctx, And(Eq("isPublic", true), Ne("isDeleted", true)))
}

func (r *ModelRepository) ListByUser(ctx context.Context, userID string, includePrivate bool) ([]*domain.Model, error) {
	filter := And(Eq("userId", userID), Ne("isDeleted", true))
	if !includePrivate {
		filter = And(filter, Eq("isPublic", true))
	}
	return r.models.Query(ctx, filter)
}

// ListAllByUser все модели пользователя, включая находящиеся в корзине
func (r *ModelRepository) ListAllByUser(ctx context.Context, userID string) ([]*domain.Model, error) {
	return r.models.Query(ctx, Eq("userId", userID))
}

func (r *ModelRepository) Mutate(ctx context.Context, id string, fn func(*domain.Model) error) (*domain.Model, error) {
	return r.models.Mutate(ctx, id, fn)
}

func (r *ModelRepository) Delete(ctx context.Context, id string) (bool, error) {
	return r.models.Delete(ctx, id)
}

// CreateVersion сохраняет версию со счетчиком version = 1
func (r *ModelRepository) CreateVersion(ctx context.Context, v *domain.ModelVersion) error {
	doc, err := r.versioned.StoreVersionItem(ctx, CollectionModelVersions, v)
	if err != nil {
		return err
	}
	return doc.Decode(v)
}

func (r *ModelRepository) GetVersion(ctx context.Context, id string) (*domain.ModelVersion, error) {
	doc, err := r.versioned.GetVersionItem(ctx, CollectionModelVersions, id)
	if err != nil {
		return nil, err
	}
	return decodeInto[domain.ModelVersion](doc)
}

// UpdateVersion обновляет версию при совпадении expectedVersion (0 без проверки)
func (r *ModelRepository) UpdateVersion(ctx context.Context, id string, patch map[string]any, expectedVersion int) (*domain.ModelVersion, error) {
	doc, err := r.versioned.UpdateVersionItem(ctx, CollectionModelVersions, id, patch, expectedVersion)
	if err != nil {
		return nil, err
	}
	return decodeInto[domain.ModelVersion](doc)
}

func (r *ModelRepository) ListVersions(ctx context.Context, modelID string) ([]*domain.ModelVersion, error) {
	return r.versions.Query(ctx, Eq("modelId", modelID))
}

func (r *ModelRepository) DeleteVersions(ctx context.Context, modelID string) (int, error) {
	versions, err := r.ListVersions(ctx, modelID)
	if err != nil {
		return 0, err
	}
	return deleteAll(ctx, r.versions, versions, func(v *domain.ModelVersion) string { return v.ID })
}

// deleteAll удаляет записи по одной и возвращает число удаленных
func deleteAll[T any](ctx context.Context, c *Collection[T], items []*T, id func(*T) string) (int, error) {
	deleted := 0
	for _, item := range items {
		ok, err := c.Delete(ctx, id(item))
		if err != nil {
			return deleted, fmt.Errorf("failed to delete %s/%s: %w", c.Name(), id(item), err)
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}
