// Package storagetest общий набор проверок для реализаций storage.Backend.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuralnexus/internal/storage"
)

// RunBackendTests проверяет базовый контракт бэкенда. Ключи создаются
// под уникальным префиксом, поэтому подходит и для общих бакетов.
func RunBackendTests(t *testing.T, b storage.Backend) {
	t.Helper()
	ctx := context.Background()
	prefix := fmt.Sprintf("conformance-%d/", time.Now().UnixNano())

	t.Run("PutGet", func(t *testing.T) {
		key := prefix + "items/a.json"
		gen, err := b.PutObject(ctx, key, []byte(`{"id":"a"}`), storage.WriteOptions{ContentType: "application/json"})
		require.NoError(t, err)
		assert.NotEmpty(t, gen)

		obj, err := b.GetObject(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, `{"id":"a"}`, string(obj.Data))
		assert.Equal(t, gen, obj.Generation)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := b.GetObject(ctx, prefix+"missing.json")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, b.DeleteObject(ctx, prefix+"missing.json"), storage.ErrNotFound)
	})

	t.Run("Conditional", func(t *testing.T) {
		key := prefix + "items/cas.json"
		gen, err := b.PutObject(ctx, key, []byte("1"), storage.WriteOptions{IfNotExists: true})
		require.NoError(t, err)

		_, err = b.PutObject(ctx, key, []byte("1b"), storage.WriteOptions{IfNotExists: true})
		assert.ErrorIs(t, err, storage.ErrPreconditionFailed)

		_, err = b.PutObject(ctx, key, []byte("2"), storage.WriteOptions{IfGenerationMatch: gen})
		require.NoError(t, err)

		_, err = b.PutObject(ctx, key, []byte("3"), storage.WriteOptions{IfGenerationMatch: gen})
		assert.ErrorIs(t, err, storage.ErrPreconditionFailed)
	})

	t.Run("List", func(t *testing.T) {
		for _, name := range []string{"list/b", "list/a", "list/c"} {
			_, err := b.PutObject(ctx, prefix+name, []byte("x"), storage.WriteOptions{})
			require.NoError(t, err)
		}

		items, err := b.ListObjects(ctx, prefix+"list/")
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.Equal(t, prefix+"list/a", items[0].Key)
		assert.Equal(t, prefix+"list/c", items[2].Key)
	})

	t.Run("Delete", func(t *testing.T) {
		key := prefix + "items/del.json"
		_, err := b.PutObject(ctx, key, []byte("x"), storage.WriteOptions{})
		require.NoError(t, err)

		require.NoError(t, b.DeleteObject(ctx, key))
		assert.ErrorIs(t, b.DeleteObject(ctx, key), storage.ErrNotFound)
	})

	t.Run("PublicURL", func(t *testing.T) {
		assert.Contains(t, b.PublicURL(prefix+"avatars/a.png"), prefix+"avatars/a.png")
	})
}
