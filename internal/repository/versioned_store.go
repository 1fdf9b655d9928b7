package repository

import (
	"context"
	"fmt"

	"neuralnexus/internal/domain"
)

// VersionedStore записи со счетчиком version. Обновление с ожидаемой
// версией отклоняется, если запись успела измениться.
type VersionedStore struct {
	items *ItemStore
}

func NewVersionedStore(items *ItemStore) *VersionedStore {
	return &VersionedStore{items: items}
}

// StoreVersionItem создает запись с version = 1
func (s *VersionedStore) StoreVersionItem(ctx context.Context, collection string, item any) (Document, error) {
	doc, err := ToDocument(item)
	if err != nil {
		return nil, err
	}
	doc[fieldVersion] = 1
	return s.items.Create(ctx, collection, doc)
}

// GetVersionItem возвращает запись
func (s *VersionedStore) GetVersionItem(ctx context.Context, collection, id string) (Document, error) {
	return s.items.Get(ctx, collection, id)
}

// UpdateVersionItem сливает patch и увеличивает version. При expectedVersion > 0
// и несовпадении с текущей версией возвращает domain.ErrVersionConflict.
func (s *VersionedStore) UpdateVersionItem(ctx context.Context, collection, id string, patch map[string]any, expectedVersion int) (Document, error) {
	normalized, err := toPatch(patch)
	if err != nil {
		return nil, err
	}

	return s.items.Mutate(ctx, collection, id, func(doc Document) error {
		current := VersionOf(doc)
		if expectedVersion > 0 && current != expectedVersion {
			return fmt.Errorf("%s %q: expected version %d, got %d: %w",
				collection, id, expectedVersion, current, domain.ErrVersionConflict)
		}

		mergePatch(doc, normalized)
		doc[fieldVersion] = current + 1
		return nil
	})
}

// VersionOf текущая версия документа, 0 если поля нет
func VersionOf(doc Document) int {
	switch v := doc[fieldVersion].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}
