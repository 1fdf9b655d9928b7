package local

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuralnexus/internal/storage"
	"neuralnexus/internal/storage/storagetest"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	s, err := New(Config{
		DataDir:         filepath.Join(root, "data"),
		PublicDir:       filepath.Join(root, "public"),
		PublicURLPrefix: "/uploads",
	})
	require.NoError(t, err)
	return s
}

func TestStore_PutGetDelete(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	gen, err := s.PutObject(ctx, "users/u1.json", []byte(`{"id":"u1"}`), storage.WriteOptions{ContentType: "application/json"})
	require.NoError(t, err)
	assert.NotEmpty(t, gen)

	obj, err := s.GetObject(ctx, "users/u1.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"id":"u1"}`), obj.Data)
	assert.Equal(t, "application/json", obj.ContentType)
	assert.Equal(t, gen, obj.Generation)
	assert.False(t, obj.Public)

	require.NoError(t, s.DeleteObject(ctx, "users/u1.json"))
	assert.ErrorIs(t, s.DeleteObject(ctx, "users/u1.json"), storage.ErrNotFound)

	_, err = s.GetObject(ctx, "users/u1.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_ConditionalWrites(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	gen, err := s.PutObject(ctx, "k.json", []byte("1"), storage.WriteOptions{IfNotExists: true})
	require.NoError(t, err)

	_, err = s.PutObject(ctx, "k.json", []byte("2"), storage.WriteOptions{IfNotExists: true})
	assert.ErrorIs(t, err, storage.ErrPreconditionFailed)

	gen2, err := s.PutObject(ctx, "k.json", []byte("2"), storage.WriteOptions{IfGenerationMatch: gen})
	require.NoError(t, err)
	assert.NotEqual(t, gen, gen2)

	_, err = s.PutObject(ctx, "k.json", []byte("3"), storage.WriteOptions{IfGenerationMatch: gen})
	assert.ErrorIs(t, err, storage.ErrPreconditionFailed)

	_, err = s.PutObject(ctx, "missing.json", []byte("3"), storage.WriteOptions{IfGenerationMatch: gen})
	assert.ErrorIs(t, err, storage.ErrPreconditionFailed)
}

func TestStore_ConcurrentCAS(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	gen, err := s.PutObject(ctx, "k", []byte("base"), storage.WriteOptions{})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.PutObject(ctx, "k", []byte{byte('a' + i)}, storage.WriteOptions{IfGenerationMatch: gen})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}

func TestStore_ListObjects(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for _, key := range []string{"models/b.json", "models/a.json", "users/c.json"} {
		_, err := s.PutObject(ctx, key, []byte("{}"), storage.WriteOptions{})
		require.NoError(t, err)
	}
	_, err := s.PutObject(ctx, "models/thumb.jpg", []byte("x"), storage.WriteOptions{Public: true})
	require.NoError(t, err)

	items, err := s.ListObjects(ctx, "models/")
	require.NoError(t, err)

	keys := make([]string, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.Key)
	}
	assert.Equal(t, []string{"models/a.json", "models/b.json", "models/thumb.jpg"}, keys)

	items, err = s.ListObjects(ctx, "empty/")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestStore_PublicFiles(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.PutObject(ctx, "avatars/u1.png", []byte("png"), storage.WriteOptions{Public: true, ContentType: "image/png"})
	require.NoError(t, err)

	assert.Equal(t, "/uploads/avatars/u1.png", s.PublicURL("avatars/u1.png"))

	p, info, err := s.ResolvePublic("avatars/u1.png")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size())
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	obj, err := s.GetObject(ctx, "avatars/u1.png")
	require.NoError(t, err)
	assert.True(t, obj.Public)
	assert.Equal(t, "image/png", obj.ContentType)

	_, _, err = s.ResolvePublic("../data/secret")
	assert.ErrorIs(t, err, storage.ErrInvalidKey)

	_, _, err = s.ResolvePublic("avatars")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_RejectsTraversal(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.PutObject(ctx, "../escape", []byte("x"), storage.WriteOptions{})
	assert.ErrorIs(t, err, storage.ErrInvalidKey)

	_, err = s.GetObject(ctx, "a/../../b")
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestStore_Conformance(t *testing.T) {
	storagetest.RunBackendTests(t, setupStore(t))
}
