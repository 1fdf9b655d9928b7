package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuralnexus/internal/storage"
	"neuralnexus/internal/storage/local"
)

var errUnavailable = errors.New("backend unavailable")

// flakyBackend локальный бэкенд, который по флагу отвечает ошибкой
type flakyBackend struct {
	*local.Store
	down atomic.Bool
}

func (f *flakyBackend) Name() string { return "flaky" }

func (f *flakyBackend) GetObject(ctx context.Context, key string) (*storage.Object, error) {
	if f.down.Load() {
		return nil, errUnavailable
	}
	return f.Store.GetObject(ctx, key)
}

func (f *flakyBackend) PutObject(ctx context.Context, key string, data []byte, opts storage.WriteOptions) (string, error) {
	if f.down.Load() {
		return "", errUnavailable
	}
	return f.Store.PutObject(ctx, key, data, opts)
}

func (f *flakyBackend) DeleteObject(ctx context.Context, key string) error {
	if f.down.Load() {
		return errUnavailable
	}
	return f.Store.DeleteObject(ctx, key)
}

func (f *flakyBackend) ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	if f.down.Load() {
		return nil, errUnavailable
	}
	return f.Store.ListObjects(ctx, prefix)
}

func (f *flakyBackend) PublicURL(key string) string {
	return storage.JoinURL("https://cloud.example.com/bucket", key)
}

func newLocal(t *testing.T, name string) *local.Store {
	t.Helper()
	root := filepath.Join(t.TempDir(), name)
	s, err := local.New(local.Config{DataDir: filepath.Join(root, "data"), PublicDir: filepath.Join(root, "public")})
	require.NoError(t, err)
	return s
}

func setupFailover(t *testing.T) (*storage.Failover, *flakyBackend, *local.Store, *[]string) {
	t.Helper()
	primary := &flakyBackend{Store: newLocal(t, "primary")}
	secondary := newLocal(t, "secondary")

	var transitions []string
	f := storage.NewFailover(primary, secondary, storage.FailoverSettings{
		MaxFailures: 2,
		Timeout:     200 * time.Millisecond,
		OnStateChange: func(from, to gobreaker.State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	return f, primary, secondary, &transitions
}

func TestFailover_HealthyPrimary(t *testing.T) {
	f, primary, secondary, _ := setupFailover(t)
	ctx := context.Background()

	_, err := f.PutObject(ctx, "users/u1.json", []byte(`{}`), storage.WriteOptions{})
	require.NoError(t, err)

	_, err = primary.Store.GetObject(ctx, "users/u1.json")
	assert.NoError(t, err)
	_, err = secondary.GetObject(ctx, "users/u1.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Equal(t, "closed", f.State())
	assert.False(t, f.Degraded())
}

func TestFailover_NotFoundDoesNotTrip(t *testing.T) {
	f, _, _, transitions := setupFailover(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.GetObject(ctx, "missing.json")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
	assert.Equal(t, "closed", f.State())
	assert.Empty(t, *transitions)
}

func TestFailover_OpensAndRoutesToSecondary(t *testing.T) {
	f, primary, secondary, transitions := setupFailover(t)
	ctx := context.Background()

	primary.down.Store(true)

	// каждая неудачная запись уходит в резервный бэкенд
	for i := 0; i < 3; i++ {
		_, err := f.PutObject(ctx, "avatars/u1.png", []byte("png"), storage.WriteOptions{Public: true})
		require.NoError(t, err)
	}

	assert.True(t, f.Degraded())
	assert.Equal(t, []string{"closed->open"}, *transitions)

	obj, err := secondary.GetObject(ctx, "avatars/u1.png")
	require.NoError(t, err)
	assert.Equal(t, "png", string(obj.Data))

	// ссылка указывает туда, где файл реально лежит
	assert.Equal(t, "/uploads/avatars/u1.png", f.PublicURL("avatars/u1.png"))

	obj, err = f.GetObject(ctx, "avatars/u1.png")
	require.NoError(t, err)
	assert.Equal(t, "png", string(obj.Data))

	items, err := f.ListObjects(ctx, "avatars/")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestFailover_RecoversAndMigratesKeys(t *testing.T) {
	f, primary, secondary, transitions := setupFailover(t)
	ctx := context.Background()

	primary.down.Store(true)
	for i := 0; i < 2; i++ {
		_, _ = f.GetObject(ctx, "x")
	}
	require.True(t, f.Degraded())

	gen, err := f.PutObject(ctx, "users/u1.json", []byte(`{"v":1}`), storage.WriteOptions{})
	require.NoError(t, err)

	primary.down.Store(false)
	time.Sleep(250 * time.Millisecond)

	// запись по версии из резервного хранилища попадает в основной
	_, err = f.PutObject(ctx, "users/u1.json", []byte(`{"v":2}`), storage.WriteOptions{IfGenerationMatch: gen})
	require.NoError(t, err)

	obj, err := primary.Store.GetObject(ctx, "users/u1.json")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(obj.Data))

	_, err = secondary.GetObject(ctx, "users/u1.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Equal(t, "closed", f.State())
	assert.Contains(t, *transitions, "half-open->closed")
}

func TestFailover_StaleGenerationRejected(t *testing.T) {
	f, primary, _, _ := setupFailover(t)
	ctx := context.Background()

	primary.down.Store(true)
	for i := 0; i < 2; i++ {
		_, _ = f.GetObject(ctx, "x")
	}

	_, err := f.PutObject(ctx, "k.json", []byte("1"), storage.WriteOptions{})
	require.NoError(t, err)

	_, err = f.PutObject(ctx, "k.json", []byte("2"), storage.WriteOptions{IfGenerationMatch: "stale"})
	assert.ErrorIs(t, err, storage.ErrPreconditionFailed)
}

func TestFailover_Delete(t *testing.T) {
	f, primary, _, _ := setupFailover(t)
	ctx := context.Background()

	_, err := f.PutObject(ctx, "a.json", []byte("1"), storage.WriteOptions{})
	require.NoError(t, err)

	require.NoError(t, f.DeleteObject(ctx, "a.json"))
	assert.ErrorIs(t, f.DeleteObject(ctx, "a.json"), storage.ErrNotFound)

	primary.down.Store(true)
	for i := 0; i < 2; i++ {
		_, _ = f.GetObject(ctx, "x")
	}
	_, err = f.PutObject(ctx, "b.json", []byte("1"), storage.WriteOptions{})
	require.NoError(t, err)
	require.NoError(t, f.DeleteObject(ctx, "b.json"))

	_, err = f.GetObject(ctx, "b.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// tripAndWrite пишет ключ в резервный бэкенд при недоступном основном
func tripAndWrite(t *testing.T, f *storage.Failover, primary *flakyBackend, key, data string) string {
	t.Helper()
	ctx := context.Background()
	primary.down.Store(true)
	for i := 0; i < 2; i++ {
		_, _ = f.GetObject(ctx, "x")
	}
	require.True(t, f.Degraded())
	gen, err := f.PutObject(ctx, key, []byte(data), storage.WriteOptions{})
	require.NoError(t, err)
	primary.down.Store(false)
	return gen
}

func restart(primary *flakyBackend, secondary *local.Store) *storage.Failover {
	return storage.NewFailover(primary, secondary, storage.FailoverSettings{MaxFailures: 2, Timeout: 200 * time.Millisecond})
}

func TestFailover_RestartKeepsFallbackRecords(t *testing.T) {
	f, primary, secondary, _ := setupFailover(t)
	ctx := context.Background()

	tripAndWrite(t, f, primary, "models/m1.json", `{"v":1}`)
	_, err := primary.Store.PutObject(ctx, "models/m0.json", []byte(`{"v":0}`), storage.WriteOptions{})
	require.NoError(t, err)

	f2 := restart(primary, secondary)
	n, err := f2.LoadFallbackKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	items, err := f2.ListObjects(ctx, "models/")
	require.NoError(t, err)
	keys := make([]string, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.Key)
	}
	assert.ElementsMatch(t, []string{"models/m0.json", "models/m1.json"}, keys)

	obj, err := f2.GetObject(ctx, "models/m1.json")
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(obj.Data))

	_, err = f2.PutObject(ctx, "models/m1.json", []byte(`{"v":2}`), storage.WriteOptions{IfGenerationMatch: obj.Generation})
	require.NoError(t, err)

	obj, err = primary.Store.GetObject(ctx, "models/m1.json")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(obj.Data))
	_, err = secondary.GetObject(ctx, "models/m1.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFailover_RestartReadRemembersKey(t *testing.T) {
	f, primary, secondary, _ := setupFailover(t)
	ctx := context.Background()

	tripAndWrite(t, f, primary, "users/u1.json", `{"v":1}`)

	// без LoadFallbackKeys ключ находится при чтении
	f2 := restart(primary, secondary)
	obj, err := f2.GetObject(ctx, "users/u1.json")
	require.NoError(t, err)

	_, err = f2.PutObject(ctx, "users/u1.json", []byte(`{"v":2}`), storage.WriteOptions{IfGenerationMatch: obj.Generation})
	require.NoError(t, err)

	obj, err = f2.GetObject(ctx, "users/u1.json")
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(obj.Data))
	_, err = secondary.GetObject(ctx, "users/u1.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFailover_RestartDeleteSecondaryOnly(t *testing.T) {
	f, primary, secondary, _ := setupFailover(t)
	ctx := context.Background()

	tripAndWrite(t, f, primary, "trash/t1.json", `{}`)

	f2 := restart(primary, secondary)
	require.NoError(t, f2.DeleteObject(ctx, "trash/t1.json"))

	_, err := secondary.GetObject(ctx, "trash/t1.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = f2.GetObject(ctx, "trash/t1.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFailover_ConcurrentConditionalWritesOfFallbackKey(t *testing.T) {
	f0, primary, secondary, _ := setupFailover(t)
	ctx := context.Background()

	gen := tripAndWrite(t, f0, primary, "quota/u1.json", `{"used":0}`)

	// breaker нового экземпляра замкнут, ключ известен только по резерву
	f := restart(primary, secondary)
	_, err := f.LoadFallbackKeys(ctx)
	require.NoError(t, err)
	require.Equal(t, "closed", f.State())

	const writers = 8
	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.PutObject(ctx, "quota/u1.json", []byte(`{"used":1}`), storage.WriteOptions{IfGenerationMatch: gen})
			if err == nil {
				ok.Add(1)
				return
			}
			assert.ErrorIs(t, err, storage.ErrPreconditionFailed)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	_, err = secondary.GetObject(ctx, "quota/u1.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	obj, err := primary.Store.GetObject(ctx, "quota/u1.json")
	require.NoError(t, err)
	assert.Equal(t, `{"used":1}`, string(obj.Data))
}
