package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuralnexus/internal/domain"
	"neuralnexus/internal/repository"
)

func TestModelService_CreateAndGet(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice")

	m := env.createModel(t, u.ID, "BERT base", "NLP", "nlp", " Transformers ")
	assert.Equal(t, []string{"nlp", "transformers"}, m.Tags)
	assert.False(t, m.IsDeleted)

	got, err := env.models.GetModelByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "BERT base", got.Name)

	metrics, err := env.models.GetModelMetrics(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, metrics.ModelID)

	tags, err := env.models.GetPopularTags(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, 1, tags[0].Count)

	_, err = env.models.CreateModel(ctx, u.ID, domain.CreateModelInput{Category: "nlp"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = env.models.CreateModel(ctx, "", domain.CreateModelInput{Name: "x", Category: "nlp"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestModelService_GetAllModels(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice")

	for i := 0; i < 5; i++ {
		env.createModel(t, u.ID, fmt.Sprintf("vision-%d", i), "cnn")
	}
	nlp := env.createModel(t, u.ID, "Language model", "nlp")
	_, err := env.models.CreateModel(ctx, u.ID, domain.CreateModelInput{Name: "private", Category: "nlp"})
	require.NoError(t, err)

	page, err := env.models.GetAllModels(ctx, domain.ModelListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)

	page, err = env.models.GetAllModels(ctx, domain.ModelListOptions{Tag: "CNN", Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Len(t, page.Items, 2)

	page, err = env.models.GetAllModels(ctx, domain.ModelListOptions{Search: "language"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, nlp.ID, page.Items[0].ID)

	page, err = env.models.GetAllModels(ctx, domain.ModelListOptions{Offset: 100})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	mine, err := env.models.GetModelsByUser(ctx, u.ID, true)
	require.NoError(t, err)
	assert.Len(t, mine, 7)
	public, err := env.models.GetModelsByUser(ctx, u.ID, false)
	require.NoError(t, err)
	assert.Len(t, public, 6)
}

func TestModelService_UpdateModel(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	owner := env.createUser(t, "alice")
	other := env.createUser(t, "mallory")
	m := env.createModel(t, owner.ID, "resnet", "vision", "cnn")

	tags := []string{"vision", "imagenet"}
	name := "ResNet-50"
	updated, err := env.models.UpdateModel(ctx, m.ID, owner.ID, domain.UpdateModelInput{Name: &name, Tags: &tags})
	require.NoError(t, err)
	assert.Equal(t, "ResNet-50", updated.Name)
	assert.Equal(t, "vision", updated.Category)

	popular, err := env.models.GetPopularTags(ctx, 0)
	require.NoError(t, err)
	names := make([]string, 0, len(popular))
	for _, tag := range popular {
		names = append(names, tag.Name)
	}
	assert.ElementsMatch(t, []string{"vision", "imagenet"}, names)

	_, err = env.models.UpdateModel(ctx, m.ID, other.ID, domain.UpdateModelInput{Name: &name})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestModelService_DotTagsRejected(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	owner := env.createUser(t, "alice")
	m := env.createModel(t, owner.ID, "resnet", "vision")

	for _, tag := range []string{".", "..", " .. "} {
		_, err := env.models.CreateModel(ctx, owner.ID, domain.CreateModelInput{Name: "x", Category: "nlp", Tags: []string{"ok", tag}})
		assert.ErrorIs(t, err, domain.ErrValidation, tag)

		tags := []string{tag}
		_, err = env.models.UpdateModel(ctx, m.ID, owner.ID, domain.UpdateModelInput{Tags: &tags})
		assert.ErrorIs(t, err, domain.ErrValidation, tag)
	}

	got, err := env.models.GetModelByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"vision"}, got.Tags)

	// точки внутри тега допустимы
	ok := env.createModel(t, owner.ID, "gpt", "v1.5", "...")
	assert.Equal(t, []string{"v1.5", "..."}, ok.Tags)
}

func TestModelService_AdminCanModify(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	owner := env.createUser(t, "alice")
	admin := env.createUser(t, "admin")
	_, err := env.userRepo.Mutate(ctx, admin.ID, func(u *domain.User) error {
		u.Role = domain.RoleAdmin
		return nil
	})
	require.NoError(t, err)

	m := env.createModel(t, owner.ID, "resnet")
	desc := "moderated"
	_, err = env.models.UpdateModel(ctx, m.ID, admin.ID, domain.UpdateModelInput{Description: &desc})
	assert.NoError(t, err)
}

func TestModelService_SoftDelete(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice")
	m := env.createModel(t, u.ID, "resnet", "cnn")

	require.NoError(t, env.models.DeleteModel(ctx, m.ID, u.ID))

	_, err := env.models.GetModelByID(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	page, err := env.models.GetAllModels(ctx, domain.ModelListOptions{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	// запись остается в хранилище
	raw, err := env.modelRepo.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, raw.IsDeleted)
	assert.NotNil(t, raw.DeletedAt)

	tags, err := env.models.GetPopularTags(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, tags)

	restored, err := env.models.RestoreModel(ctx, m.ID, u.ID)
	require.NoError(t, err)
	assert.False(t, restored.IsDeleted)
	assert.Nil(t, restored.DeletedAt)

	tags, err = env.models.GetPopularTags(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, tags, 1)
}

func TestModelService_PermanentlyDelete(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice")
	rater := env.createUser(t, "bob")

	uploaded, err := env.models.UploadModelFile(ctx, u.ID, "weights.bin", []byte("0123456789"), "application/octet-stream")
	require.NoError(t, err)

	m, err := env.models.CreateModel(ctx, u.ID, domain.CreateModelInput{
		Name:     "resnet",
		Category: "vision",
		IsPublic: true,
		FilePath: uploaded.Path,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), m.FileSize)
	assert.Equal(t, uploaded.URL, m.FileURL)

	_, err = env.models.CreateModelVersion(ctx, m.ID, u.ID, domain.CreateVersionInput{Changelog: "v1"})
	require.NoError(t, err)
	_, err = env.models.CreateModelVersion(ctx, m.ID, u.ID, domain.CreateVersionInput{Changelog: "v2"})
	require.NoError(t, err)
	_, err = env.models.RateModel(ctx, m.ID, rater.ID, 4, "")
	require.NoError(t, err)

	info, err := env.quota.GetQuotaInfo(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.UsedSpace)

	require.NoError(t, env.models.PermanentlyDeleteModel(ctx, m.ID))

	_, err = env.modelRepo.GetByID(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	versions, err := env.modelRepo.ListVersions(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, versions)
	ratings, err := env.ratingRepo.ListByModel(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, ratings)
	_, err = env.metricsRepo.Get(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = env.items.StatFile(ctx, uploaded.Path)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	info, err = env.quota.GetQuotaInfo(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, info.UsedSpace)
}

func TestModelService_CreateModelRejectsForeignFile(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")

	uploaded, err := env.models.UploadModelFile(ctx, alice.ID, "w.bin", []byte("x"), "")
	require.NoError(t, err)

	_, err = env.models.CreateModel(ctx, bob.ID, domain.CreateModelInput{Name: "stolen", Category: "x", FilePath: uploaded.Path})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestModelService_ModelFileBelongsToOneModel(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice")

	shared, err := env.models.UploadModelFile(ctx, u.ID, "w.bin", []byte("0123456789"), "")
	require.NoError(t, err)
	other, err := env.models.UploadModelFile(ctx, u.ID, "other.bin", []byte("01234567890123456789"), "")
	require.NoError(t, err)

	a, err := env.models.CreateModel(ctx, u.ID, domain.CreateModelInput{Name: "a", Category: "x", FilePath: shared.Path})
	require.NoError(t, err)

	_, err = env.models.CreateModel(ctx, u.ID, domain.CreateModelInput{Name: "b", Category: "x", FilePath: shared.Path})
	assert.ErrorIs(t, err, domain.ErrConflict)

	// тот же файл по неканоническому пути
	alias := strings.Replace(shared.Path, "/w.bin", "/./w.bin", 1)
	_, err = env.models.CreateModel(ctx, u.ID, domain.CreateModelInput{Name: "c", Category: "x", FilePath: alias})
	assert.ErrorIs(t, err, domain.ErrConflict)

	owned, err := env.models.GetModelsByUser(ctx, u.ID, true)
	require.NoError(t, err)
	owners := 0
	for _, m := range owned {
		if m.FilePath == shared.Path {
			owners++
		}
	}
	assert.Equal(t, 1, owners)

	require.NoError(t, env.models.PermanentlyDeleteModel(ctx, a.ID))

	info, err := env.quota.GetQuotaInfo(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), info.UsedSpace)
	_, err = env.items.StatFile(ctx, other.Path)
	assert.NoError(t, err)
}

func TestModelService_ConcurrentClaimsOfOneFile(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice")

	uploaded, err := env.models.UploadModelFile(ctx, u.ID, "w.bin", []byte("0123456789"), "")
	require.NoError(t, err)

	const workers = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.models.CreateModel(ctx, u.ID, domain.CreateModelInput{
				Name:     fmt.Sprintf("m%d", i),
				Category: "x",
				FilePath: uploaded.Path,
			})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrConflict)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestModelService_Versions(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice")
	m := env.createModel(t, u.ID, "resnet")

	v1, err := env.models.CreateModelVersion(ctx, m.ID, u.ID, domain.CreateVersionInput{Changelog: "initial"})
	require.NoError(t, err)
	assert.Equal(t, 1, v1.VersionNum)
	assert.Equal(t, 1, v1.Version)

	v2, err := env.models.CreateModelVersion(ctx, m.ID, u.ID, domain.CreateVersionInput{Changelog: "fixes"})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.VersionNum)

	versions, err := env.models.GetModelVersions(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].VersionNum)

	changelog := "initial release"
	updated, err := env.models.UpdateModelVersion(ctx, v1.ID, u.ID, domain.UpdateVersionInput{Changelog: &changelog}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "initial release", updated.Changelog)

	_, err = env.models.UpdateModelVersion(ctx, v1.ID, u.ID, domain.UpdateVersionInput{Changelog: &changelog}, 1)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	model, err := env.models.GetModelByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, model.CurrentVersion)
}

func TestModelService_ConcurrentVersions(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice")
	m := env.createModel(t, u.ID, "resnet")

	const n = 6
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.models.CreateModelVersion(ctx, m.ID, u.ID, domain.CreateVersionInput{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	versions, err := env.models.GetModelVersions(ctx, m.ID)
	require.NoError(t, err)
	nums := make([]int, 0, n)
	for _, v := range versions {
		nums = append(nums, v.VersionNum)
	}
	assert.Equal(t, []int{6, 5, 4, 3, 2, 1}, nums)
}

func TestModelService_RateModel(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	owner := env.createUser(t, "owner")
	m := env.createModel(t, owner.ID, "resnet")

	raters := []*domain.User{env.createUser(t, "rater1"), env.createUser(t, "rater2"), env.createUser(t, "rater3")}
	for i, score := range []int{5, 3, 4} {
		_, err := env.models.RateModel(ctx, m.ID, raters[i].ID, score, "")
		require.NoError(t, err)
	}

	model, err := env.models.GetModelByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.0, model.AverageRating)
	assert.Equal(t, 3, model.RatingCount)

	model, err = env.models.RateModel(ctx, m.ID, raters[0].ID, 1, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, 3.0, model.AverageRating)
	assert.Equal(t, 3, model.RatingCount)

	rating, err := env.models.GetUserRating(ctx, m.ID, raters[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rating.Rating)
	assert.Equal(t, domain.RatingID(m.ID, raters[0].ID), rating.ID)

	_, err = env.models.RateModel(ctx, m.ID, raters[0].ID, 6, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = env.models.RateModel(ctx, m.ID, raters[0].ID, 0, "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestModelService_RatingRounding(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	owner := env.createUser(t, "owner")
	m := env.createModel(t, owner.ID, "resnet")

	for i, score := range []int{5, 4, 4} {
		_, err := env.models.RateModel(ctx, m.ID, fmt.Sprintf("user%d", i), score, "")
		require.NoError(t, err)
	}

	model, err := env.models.GetModelByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.33, model.AverageRating)
}

func TestModelService_Metrics(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice")
	m := env.createModel(t, u.ID, "resnet")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.models.RecordDownload(ctx, m.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, err := env.models.RecordView(ctx, m.ID)
	require.NoError(t, err)
	metrics, err := env.models.RecordApiCall(ctx, m.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(5), metrics.Downloads)
	assert.Equal(t, int64(1), metrics.Views)
	assert.Equal(t, int64(1), metrics.ApiCalls)
	assert.NotNil(t, metrics.LastUsedAt)

	model, err := env.models.GetModelByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), model.Downloads)

	_, err = env.models.RecordView(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestModelService_UploadModelFile(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice")

	f, err := env.models.UploadModelFile(ctx, u.ID, "../../etc/model.onnx", []byte("onnx"), "application/octet-stream")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(f.Path, "models/"+u.ID+"/"))
	assert.True(t, strings.HasSuffix(f.Path, "/model.onnx"))
	assert.Equal(t, "/uploads/"+f.Path, f.URL)

	require.NoError(t, env.quota.UpdateQuotaLimit(ctx, u.ID, 6))
	_, err = env.models.UploadModelFile(ctx, u.ID, "big.bin", []byte("too large"), "")
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)

	_, err = env.models.UploadModelFile(ctx, u.ID, "", []byte("x"), "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestModelService_UploadThumbnail(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice")
	m := env.createModel(t, u.ID, "resnet")

	first, err := env.models.UploadThumbnail(ctx, u.ID, m.ID, []byte("png-1"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.ThumbnailPath, "thumbnails/"+u.ID+"/"+m.ID+"/"))
	assert.True(t, strings.HasSuffix(first.ThumbnailURL, ".jpg"))

	obj, err := env.backend.GetObject(ctx, first.ThumbnailPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg:png-1"), obj.Data)

	env.models.now = func() time.Time { return time.Now().Add(time.Second) }
	second, err := env.models.UploadThumbnail(ctx, u.ID, m.ID, []byte("png-2"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ThumbnailPath, second.ThumbnailPath)

	_, err = env.items.StatFile(ctx, first.ThumbnailPath)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.models.UploadThumbnail(ctx, u.ID, m.ID, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestModelService_ModelIDsAreCollectionSafe(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()
	u := env.createUser(t, "alice")
	env.createModel(t, u.ID, "m", "a/b")

	tag, err := repository.NewTagRepository(env.items).Get(ctx, "a_b")
	require.NoError(t, err)
	assert.Equal(t, "a/b", tag.Name)
}
