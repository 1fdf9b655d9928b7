package repository

import (
	"context"
	"errors"
	"fmt"

	"neuralnexus/internal/domain"
)

// Collection типизированный доступ к одной коллекции ItemStore
type Collection[T any] struct {
	store *ItemStore
	name  string
}

// NewCollection создает доступ к коллекции name
func NewCollection[T any](store *ItemStore, name string) *Collection[T] {
	return &Collection[T]{store: store, name: name}
}

func (c *Collection[T]) Name() string {
	return c.name
}

func decodeInto[T any](doc Document) (*T, error) {
	var v T
	if err := doc.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &v, nil
}

func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	doc, err := c.store.Get(ctx, c.name, id)
	if err != nil {
		return nil, err
	}
	return decodeInto[T](doc)
}

// Put безусловно записывает значение и обновляет его заполненными метками времени
func (c *Collection[T]) Put(ctx context.Context, v *T) error {
	doc, err := c.store.Store(ctx, c.name, v)
	if err != nil {
		return err
	}
	return doc.Decode(v)
}

// Create записывает значение, если записи с таким id еще нет
func (c *Collection[T]) Create(ctx context.Context, v *T) error {
	doc, err := c.store.Create(ctx, c.name, v)
	if err != nil {
		return err
	}
	return doc.Decode(v)
}

func (c *Collection[T]) Query(ctx context.Context, filter Filter) ([]*T, error) {
	docs, err := c.store.Query(ctx, c.name, filter)
	if err != nil {
		return nil, err
	}

	out := make([]*T, 0, len(docs))
	for _, doc := range docs {
		v, err := decodeInto[T](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Collection[T]) Update(ctx context.Context, id string, patch map[string]any) (*T, error) {
	doc, err := c.store.Update(ctx, c.name, id, patch)
	if err != nil {
		return nil, err
	}
	return decodeInto[T](doc)
}

// Mutate атомарно изменяет запись. fn может вызываться повторно на свежей копии.
func (c *Collection[T]) Mutate(ctx context.Context, id string, fn func(*T) error) (*T, error) {
	var result *T
	_, err := c.store.Mutate(ctx, c.name, id, func(doc Document) error {
		v, err := decodeInto[T](doc)
		if err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}

		updated, err := ToDocument(v)
		if err != nil {
			return err
		}
		for k := range doc {
			delete(doc, k)
		}
		for k, val := range updated {
			doc[k] = val
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Upsert изменяет запись через fn, а если ее нет, создает из init() и
// применяет fn к новому значению. Гонка двух создателей разрешается повтором.
func (c *Collection[T]) Upsert(ctx context.Context, id string, init func() *T, fn func(*T) error) (*T, error) {
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		v, err := c.Mutate(ctx, id, fn)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}

		v = init()
		if err := fn(v); err != nil {
			return nil, err
		}
		err = c.Create(ctx, v)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s/%s: %w", c.name, id, ErrContention)
}

func (c *Collection[T]) Delete(ctx context.Context, id string) (bool, error) {
	return c.store.Delete(ctx, c.name, id)
}
