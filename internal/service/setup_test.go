package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"neuralnexus/internal/domain"
	"neuralnexus/internal/repository"
	"neuralnexus/internal/storage/local"
)

type notification struct {
	to, subject, body string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, to, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{to: to, subject: subject, body: body})
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type fakeThumbnailer struct{}

func (fakeThumbnailer) Thumbnail(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	return append([]byte("jpeg:"), data...), nil
}

type testEnv struct {
	items    *repository.ItemStore
	backend  *local.Store
	users    *UserService
	models   *ModelService
	trash    *TrashService
	apiKeys  *ApiKeyService
	profiles *UserProfileService
	quota    *StorageQuotaService
	perms    *PermissionService
	notifier *fakeNotifier

	userRepo    *repository.UserRepository
	modelRepo   *repository.ModelRepository
	ratingRepo  *repository.RatingRepository
	metricsRepo *repository.MetricsRepository
	keyRepo     *repository.ApiKeyRepository
	trashRepo   *repository.TrashRepository
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	backend, err := local.New(local.Config{
		DataDir:         filepath.Join(root, "data"),
		PublicDir:       filepath.Join(root, "public"),
		PublicURLPrefix: "/uploads",
	})
	require.NoError(t, err)

	items := repository.NewItemStore(backend)
	env := &testEnv{
		items:       items,
		backend:     backend,
		notifier:    &fakeNotifier{},
		userRepo:    repository.NewUserRepository(items),
		modelRepo:   repository.NewModelRepository(items),
		ratingRepo:  repository.NewRatingRepository(items),
		metricsRepo: repository.NewMetricsRepository(items),
		keyRepo:     repository.NewApiKeyRepository(items),
		trashRepo:   repository.NewTrashRepository(items, 30*24*time.Hour),
	}
	profileRepo := repository.NewProfileRepository(items)

	env.quota = NewStorageQuotaService(repository.NewStorageQuotaRepository(items))
	env.perms = NewPermissionService(env.userRepo)
	env.models = NewModelService(
		env.modelRepo,
		env.ratingRepo,
		repository.NewTagRepository(items),
		env.metricsRepo,
		items,
		env.perms,
		env.quota,
		fakeThumbnailer{},
	)
	env.users = NewUserService(env.userRepo, profileRepo, env.keyRepo, env.quota, env.models, env.notifier)
	env.trash = NewTrashService(env.trashRepo, env.modelRepo, env.models, env.perms)
	env.apiKeys = NewApiKeyService(env.keyRepo)
	env.profiles = NewUserProfileService(profileRepo, env.userRepo, items, env.notifier)
	return env
}

func (e *testEnv) createUser(t *testing.T, name string) *domain.User {
	t.Helper()
	u, err := e.users.CreateUser(context.Background(), domain.CreateUserInput{
		Email:    name + "@example.com",
		Username: name,
		Password: "password123",
	})
	require.NoError(t, err)
	return u
}

func (e *testEnv) createModel(t *testing.T, userID, name string, tags ...string) *domain.Model {
	t.Helper()
	m, err := e.models.CreateModel(context.Background(), userID, domain.CreateModelInput{
		Name:     name,
		Category: "nlp",
		Tags:     tags,
		IsPublic: true,
	})
	require.NoError(t, err)
	return m
}
