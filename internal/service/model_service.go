package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"neuralnexus/internal/domain"
	"neuralnexus/internal/logging"
	"neuralnexus/internal/repository"
	"neuralnexus/internal/validation"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Thumbnailer уменьшает изображение до JPEG превью
type Thumbnailer interface {
	Thumbnail(data []byte) ([]byte, error)
}

type ModelService struct {
	modelRepo    *repository.ModelRepository
	ratingRepo   *repository.RatingRepository
	tagRepo      *repository.TagRepository
	metricsRepo  *repository.MetricsRepository
	items        *repository.ItemStore
	permissions  *PermissionService
	quotaService *StorageQuotaService
	thumbnailer  Thumbnailer
	now          func() time.Time
}

func NewModelService(
	modelRepo *repository.ModelRepository,
	ratingRepo *repository.RatingRepository,
	tagRepo *repository.TagRepository,
	metricsRepo *repository.MetricsRepository,
	items *repository.ItemStore,
	permissions *PermissionService,
	quotaService *StorageQuotaService,
	thumbnailer Thumbnailer,
) *ModelService {
	return &ModelService{
		modelRepo:    modelRepo,
		ratingRepo:   ratingRepo,
		tagRepo:      tagRepo,
		metricsRepo:  metricsRepo,
		items:        items,
		permissions:  permissions,
		quotaService: quotaService,
		thumbnailer:  thumbnailer,
		now:          time.Now,
	}
}

// normalizeTags приводит теги к нижнему регистру и убирает дубликаты.
// Теги "." и ".." не могут быть ключом счетчика и отклоняются.
func normalizeTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if id := tagID(t); id == "." || id == ".." {
			return nil, domain.NewValidationError("tags", fmt.Sprintf("invalid tag %q", t))
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

// tagID id записи счетчика, тег становится одним сегментом ключа
func tagID(tag string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(tag)
}

func (s *ModelService) adjustTags(ctx context.Context, tags []string, delta int) {
	for _, tag := range tags {
		if _, err := s.tagRepo.Increment(ctx, tagID(tag), tag, delta); err != nil {
			logging.Warn().Err(err).Str("tag", tag).Int("delta", delta).Msg("[ModelService] Failed to update tag counter")
		}
	}
}

func diffTags(before, after []string) (added, removed []string) {
	was := make(map[string]bool, len(before))
	for _, t := range before {
		was[t] = true
	}
	is := make(map[string]bool, len(after))
	for _, t := range after {
		is[t] = true
		if !was[t] {
			added = append(added, t)
		}
	}
	for _, t := range before {
		if !is[t] {
			removed = append(removed, t)
		}
	}
	return added, removed
}

// CreateModel публикует модель пользователя
func (s *ModelService) CreateModel(ctx context.Context, userID string, in domain.CreateModelInput) (*domain.Model, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	if err := validation.ValidateStruct(&in); err != nil {
		return nil, err
	}
	tags, err := normalizeTags(in.Tags)
	if err != nil {
		return nil, err
	}

	model := &domain.Model{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Category:    in.Category,
		Framework:   in.Framework,
		License:     in.License,
		Tags:        tags,
		Price:       in.Price,
		IsPublic:    in.IsPublic,
		FileURL:     in.FileURL,
	}

	if in.FilePath != "" {
		if !strings.HasPrefix(in.FilePath, "models/"+userID+"/") {
			return nil, domain.NewValidationError("filePath", "must point to an uploaded model file")
		}
		info, err := s.items.StatFile(ctx, in.FilePath)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, domain.NewValidationError("filePath", "file not found")
			}
			return nil, err
		}
		model.FilePath = info.Key
		model.FileSize = info.Size
		if model.FileURL == "" {
			model.FileURL = s.items.Backend().PublicURL(info.Key)
		}
	}

	if model.FilePath != "" {
		if err := s.modelRepo.ClaimFile(ctx, model.FilePath, model.ID); err != nil {
			return nil, err
		}
	}

	if err := s.modelRepo.Create(ctx, model); err != nil {
		if model.FilePath != "" {
			if rerr := s.modelRepo.ReleaseFile(ctx, model.FilePath); rerr != nil {
				logging.Warn().Err(rerr).Str("path", model.FilePath).Msg("[ModelService] Failed to release file claim")
			}
		}
		return nil, fmt.Errorf("failed to create model: %w", err)
	}

	s.adjustTags(ctx, model.Tags, 1)
	if _, err := s.metricsRepo.Update(ctx, model.ID, func(*domain.ModelMetrics) error { return nil }); err != nil {
		logging.Warn().Err(err).Str("model_id", model.ID).Msg("[ModelService] Failed to create metrics record")
	}

	logging.Info().Str("model_id", model.ID).Str("user_id", userID).Msg("[ModelService] Model created")
	return model, nil
}

// GetModelByID возвращает модель. Удаленные в корзину модели не видны.
func (s *ModelService) GetModelByID(ctx context.Context, id string) (*domain.Model, error) {
	model, err := s.modelRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if model.IsDeleted {
		return nil, fmt.Errorf("model %q: %w", id, domain.ErrNotFound)
	}
	return model, nil
}

// GetAllModels каталог публичных моделей с фильтрами, сортировкой и пагинацией
func (s *ModelService) GetAllModels(ctx context.Context, opts domain.ModelListOptions) (*domain.ModelPage, error) {
	filters := []repository.Filter{
		repository.Eq("isPublic", true),
		repository.Ne("isDeleted", true),
	}
	if opts.Category != "" {
		filters = append(filters, repository.Eq("category", opts.Category))
	}
	if opts.Tag != "" {
		filters = append(filters, repository.Contains("tags", strings.ToLower(opts.Tag)))
	}
	if opts.UserID != "" {
		filters = append(filters, repository.Eq("userId", opts.UserID))
	}

	models, err := s.modelRepo.Query(ctx, repository.And(filters...))
	if err != nil {
		return nil, err
	}

	if q := strings.ToLower(strings.TrimSpace(opts.Search)); q != "" {
		matched := models[:0]
		for _, m := range models {
			if strings.Contains(strings.ToLower(m.Name), q) || strings.Contains(strings.ToLower(m.Description), q) {
				matched = append(matched, m)
			}
		}
		models = matched
	}

	sortModels(models, opts.Sort)

	total := len(models)
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)
	offset := min(max(opts.Offset, 0), total)
	end := min(offset+limit, total)

	return &domain.ModelPage{Items: models[offset:end], Total: total}, nil
}

func sortModels(models []*domain.Model, order string) {
	var less func(a, b *domain.Model) bool
	switch order {
	case domain.SortRating:
		less = func(a, b *domain.Model) bool {
			if a.AverageRating != b.AverageRating {
				return a.AverageRating > b.AverageRating
			}
			return a.RatingCount > b.RatingCount
		}
	case domain.SortDownloads:
		less = func(a, b *domain.Model) bool { return a.Downloads > b.Downloads }
	default:
		less = func(a, b *domain.Model) bool { return a.CreatedAt.After(b.CreatedAt) }
	}
	sort.SliceStable(models, func(i, j int) bool { return less(models[i], models[j]) })
}

func (s *ModelService) GetModelsByUser(ctx context.Context, userID string, includePrivate bool) ([]*domain.Model, error) {
	models, err := s.modelRepo.ListByUser(ctx, userID, includePrivate)
	if err != nil {
		return nil, err
	}
	sortModels(models, domain.SortNewest)
	return models, nil
}

// getOwned модель, которую userID может изменять
func (s *ModelService) getOwned(ctx context.Context, id, userID string, allowDeleted bool) (*domain.Model, error) {
	model, err := s.modelRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if model.IsDeleted && !allowDeleted {
		return nil, fmt.Errorf("model %q: %w", id, domain.ErrNotFound)
	}
	if err := s.permissions.RequireModelOwner(ctx, userID, model); err != nil {
		return nil, err
	}
	return model, nil
}

// UpdateModel изменяет модель. Изменение тегов корректирует их счетчики.
func (s *ModelService) UpdateModel(ctx context.Context, id, userID string, in domain.UpdateModelInput) (*domain.Model, error) {
	if err := validation.ValidateStruct(&in); err != nil {
		return nil, err
	}
	var newTags []string
	if in.Tags != nil {
		var err error
		if newTags, err = normalizeTags(*in.Tags); err != nil {
			return nil, err
		}
	}
	if _, err := s.getOwned(ctx, id, userID, false); err != nil {
		return nil, err
	}

	var oldTags []string
	updated, err := s.modelRepo.Mutate(ctx, id, func(m *domain.Model) error {
		if m.IsDeleted {
			return fmt.Errorf("model %q: %w", id, domain.ErrNotFound)
		}
		oldTags = m.Tags
		if in.Name != nil {
			m.Name = strings.TrimSpace(*in.Name)
		}
		if in.Description != nil {
			m.Description = *in.Description
		}
		if in.Category != nil {
			m.Category = *in.Category
		}
		if in.Framework != nil {
			m.Framework = *in.Framework
		}
		if in.License != nil {
			m.License = *in.License
		}
		if in.Tags != nil {
			m.Tags = newTags
		}
		if in.Price != nil {
			m.Price = *in.Price
		}
		if in.IsPublic != nil {
			m.IsPublic = *in.IsPublic
		}
		if in.FileURL != nil {
			m.FileURL = *in.FileURL
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	added, removed := diffTags(oldTags, updated.Tags)
	s.adjustTags(ctx, added, 1)
	s.adjustTags(ctx, removed, -1)
	return updated, nil
}

// DeleteModel перемещает модель в корзину
func (s *ModelService) DeleteModel(ctx context.Context, id, userID string) error {
	if _, err := s.getOwned(ctx, id, userID, false); err != nil {
		return err
	}

	var moved bool
	model, err := s.modelRepo.Mutate(ctx, id, func(m *domain.Model) error {
		moved = !m.IsDeleted
		if !moved {
			return nil
		}
		now := s.now().UTC()
		m.IsDeleted = true
		m.DeletedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	if moved {
		s.adjustTags(ctx, model.Tags, -1)
		logging.Info().Str("model_id", id).Msg("[ModelService] Model moved to trash")
	}
	return nil
}

// RestoreModel возвращает модель из корзины
func (s *ModelService) RestoreModel(ctx context.Context, id, userID string) (*domain.Model, error) {
	if _, err := s.getOwned(ctx, id, userID, true); err != nil {
		return nil, err
	}

	var restored bool
	model, err := s.modelRepo.Mutate(ctx, id, func(m *domain.Model) error {
		restored = m.IsDeleted
		m.IsDeleted = false
		m.DeletedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	if restored {
		s.adjustTags(ctx, model.Tags, 1)
		logging.Info().Str("model_id", id).Msg("[ModelService] Model restored")
	}
	return model, nil
}

// PermanentlyDeleteModel удаляет модель со всеми версиями, оценками,
// метриками и файлами и освобождает место в квоте владельца.
func (s *ModelService) PermanentlyDeleteModel(ctx context.Context, id string) error {
	model, err := s.modelRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.modelRepo.DeleteVersions(gctx, id)
		return err
	})
	g.Go(func() error {
		_, err := s.ratingRepo.DeleteByModel(gctx, id)
		return err
	})
	g.Go(func() error {
		_, err := s.metricsRepo.Delete(gctx, id)
		return err
	})
	g.Go(func() error {
		for _, p := range []string{model.FilePath, model.ThumbnailPath} {
			if p == "" {
				continue
			}
			if err := s.items.DeleteFile(gctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logging.Error().Err(err).Str("model_id", id).Msg("[ModelService] Failed to delete model data")
		return fmt.Errorf("failed to delete model data: %w", err)
	}

	deleted, err := s.modelRepo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}
	if !deleted {
		return nil
	}

	if !model.IsDeleted {
		s.adjustTags(ctx, model.Tags, -1)
	}
	if model.FilePath != "" {
		if err := s.modelRepo.ReleaseFile(ctx, model.FilePath); err != nil {
			logging.Warn().Err(err).Str("path", model.FilePath).Msg("[ModelService] Failed to release file claim")
		}
	}
	if model.FileSize > 0 {
		if err := s.quotaService.AddUsage(ctx, model.UserID, -model.FileSize); err != nil {
			logging.Warn().Err(err).Str("user_id", model.UserID).Msg("[ModelService] Failed to release quota")
		}
	}

	logging.Info().Str("model_id", id).Msg("[ModelService] Model permanently deleted")
	return nil
}

// DeleteUserModels безвозвратно удаляет все модели пользователя
func (s *ModelService) DeleteUserModels(ctx context.Context, userID string) (int, error) {
	models, err := s.modelRepo.ListAllByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range models {
		if err := s.PermanentlyDeleteModel(ctx, m.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// CreateModelVersion добавляет версию с номером currentVersion + 1
func (s *ModelService) CreateModelVersion(ctx context.Context, modelID, userID string, in domain.CreateVersionInput) (*domain.ModelVersion, error) {
	if err := validation.ValidateStruct(&in); err != nil {
		return nil, err
	}
	if _, err := s.getOwned(ctx, modelID, userID, false); err != nil {
		return nil, err
	}

	model, err := s.modelRepo.Mutate(ctx, modelID, func(m *domain.Model) error {
		m.CurrentVersion++
		return nil
	})
	if err != nil {
		return nil, err
	}

	version := &domain.ModelVersion{
		ID:         uuid.NewString(),
		ModelID:    modelID,
		VersionNum: model.CurrentVersion,
		Changelog:  in.Changelog,
		FileURL:    in.FileURL,
		FileSize:   in.FileSize,
		CreatedBy:  userID,
	}
	if err := s.modelRepo.CreateVersion(ctx, version); err != nil {
		return nil, fmt.Errorf("failed to create version: %w", err)
	}
	return version, nil
}

// GetModelVersions версии модели, новые первыми
func (s *ModelService) GetModelVersions(ctx context.Context, modelID string) ([]*domain.ModelVersion, error) {
	if _, err := s.GetModelByID(ctx, modelID); err != nil {
		return nil, err
	}
	versions, err := s.modelRepo.ListVersions(ctx, modelID)
	if err != nil {
		return nil, err
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].VersionNum > versions[j].VersionNum
	})
	return versions, nil
}

func (s *ModelService) GetModelVersion(ctx context.Context, id string) (*domain.ModelVersion, error) {
	return s.modelRepo.GetVersion(ctx, id)
}

// UpdateModelVersion изменяет версию, если ее счетчик равен expectedVersion (0 без проверки)
func (s *ModelService) UpdateModelVersion(ctx context.Context, id, userID string, in domain.UpdateVersionInput, expectedVersion int) (*domain.ModelVersion, error) {
	if err := validation.ValidateStruct(&in); err != nil {
		return nil, err
	}
	version, err := s.modelRepo.GetVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.getOwned(ctx, version.ModelID, userID, false); err != nil {
		return nil, err
	}

	patch := map[string]any{}
	if in.Changelog != nil {
		patch["changelog"] = *in.Changelog
	}
	if in.FileURL != nil {
		patch["fileUrl"] = *in.FileURL
	}
	if in.FileSize != nil {
		patch["fileSize"] = *in.FileSize
	}
	return s.modelRepo.UpdateVersion(ctx, id, patch, expectedVersion)
}

func roundRating(v float64) float64 {
	return math.Round(v*100) / 100
}

// RateModel сохраняет оценку пользователя и пересчитывает средний рейтинг модели
func (s *ModelService) RateModel(ctx context.Context, modelID, userID string, rating int, review string) (*domain.Model, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	if rating < 1 || rating > 5 {
		return nil, domain.NewValidationError("rating", "must be between 1 and 5")
	}
	if len(review) > 5000 {
		return nil, domain.NewValidationError("review", "must be at most 5000")
	}
	if _, err := s.GetModelByID(ctx, modelID); err != nil {
		return nil, err
	}

	if _, err := s.ratingRepo.Upsert(ctx, modelID, userID, rating, review); err != nil {
		return nil, fmt.Errorf("failed to save rating: %w", err)
	}

	// оценки перечитываются внутри Mutate: запись агрегата, основанная на
	// устаревшем списке, не пройдет условную запись и будет повторена
	return s.modelRepo.Mutate(ctx, modelID, func(m *domain.Model) error {
		ratings, err := s.ratingRepo.ListByModel(ctx, modelID)
		if err != nil {
			return err
		}
		sum := 0
		for _, r := range ratings {
			sum += r.Rating
		}
		m.RatingCount = len(ratings)
		m.AverageRating = 0
		if len(ratings) > 0 {
			m.AverageRating = roundRating(float64(sum) / float64(len(ratings)))
		}
		return nil
	})
}

func (s *ModelService) GetModelRatings(ctx context.Context, modelID string) ([]*domain.ModelRating, error) {
	ratings, err := s.ratingRepo.ListByModel(ctx, modelID)
	if err != nil {
		return nil, err
	}
	sort.Slice(ratings, func(i, j int) bool {
		return ratings[i].UpdatedAt.After(ratings[j].UpdatedAt)
	})
	return ratings, nil
}

func (s *ModelService) GetUserRating(ctx context.Context, modelID, userID string) (*domain.ModelRating, error) {
	return s.ratingRepo.Get(ctx, modelID, userID)
}

// GetPopularTags используемые теги по убыванию счетчика
func (s *ModelService) GetPopularTags(ctx context.Context, limit int) ([]*domain.ModelTag, error) {
	tags, err := s.tagRepo.ListUsed(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tags, func(i, j int) bool {
		if tags[i].Count != tags[j].Count {
			return tags[i].Count > tags[j].Count
		}
		return tags[i].Name < tags[j].Name
	})
	if limit > 0 && len(tags) > limit {
		tags = tags[:limit]
	}
	return tags, nil
}

func (s *ModelService) touchMetrics(ctx context.Context, modelID string, fn func(*domain.ModelMetrics)) (*domain.ModelMetrics, error) {
	if _, err := s.GetModelByID(ctx, modelID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	return s.metricsRepo.Update(ctx, modelID, func(m *domain.ModelMetrics) error {
		fn(m)
		m.LastUsedAt = &now
		return nil
	})
}

func (s *ModelService) RecordView(ctx context.Context, modelID string) (*domain.ModelMetrics, error) {
	return s.touchMetrics(ctx, modelID, func(m *domain.ModelMetrics) { m.Views++ })
}

// RecordDownload увеличивает счетчик скачиваний в метриках и в самой модели
func (s *ModelService) RecordDownload(ctx context.Context, modelID string) (*domain.ModelMetrics, error) {
	metrics, err := s.touchMetrics(ctx, modelID, func(m *domain.ModelMetrics) { m.Downloads++ })
	if err != nil {
		return nil, err
	}
	if _, err := s.modelRepo.Mutate(ctx, modelID, func(m *domain.Model) error {
		m.Downloads++
		return nil
	}); err != nil {
		return nil, err
	}
	return metrics, nil
}

func (s *ModelService) RecordApiCall(ctx context.Context, modelID string) (*domain.ModelMetrics, error) {
	return s.touchMetrics(ctx, modelID, func(m *domain.ModelMetrics) { m.ApiCalls++ })
}

func (s *ModelService) GetModelMetrics(ctx context.Context, modelID string) (*domain.ModelMetrics, error) {
	return s.metricsRepo.Get(ctx, modelID)
}

// sanitizeFileName имя файла без каталогов
func sanitizeFileName(name string) (string, error) {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "", domain.NewValidationError("fileName", "invalid file name")
	}
	return name, nil
}

// UploadModelFile загружает файл модели в models/<userId>/<unixMillis>/<name>.
// Размер файла списывается с квоты пользователя.
func (s *ModelService) UploadModelFile(ctx context.Context, userID, fileName string, data []byte, contentType string) (*domain.UploadedFile, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	name, err := sanitizeFileName(fileName)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, domain.NewValidationError("file", "file is empty")
	}

	size := int64(len(data))
	if err := s.quotaService.AddUsage(ctx, userID, size); err != nil {
		return nil, err
	}

	filePath := fmt.Sprintf("models/%s/%d/%s", userID, s.now().UnixMilli(), name)
	url, err := s.items.UploadFile(ctx, filePath, data, contentType)
	if err != nil {
		if qerr := s.quotaService.AddUsage(ctx, userID, -size); qerr != nil {
			logging.Warn().Err(qerr).Str("user_id", userID).Msg("[ModelService] Failed to release quota")
		}
		return nil, err
	}

	logging.Info().Str("user_id", userID).Str("path", filePath).Int64("size", size).Msg("[ModelService] Model file uploaded")
	return &domain.UploadedFile{URL: url, Path: filePath, Size: size}, nil
}

// UploadThumbnail сохраняет JPEG превью модели и заменяет предыдущее
func (s *ModelService) UploadThumbnail(ctx context.Context, userID, modelID string, data []byte) (*domain.Model, error) {
	if _, err := s.getOwned(ctx, modelID, userID, false); err != nil {
		return nil, err
	}

	thumb, err := s.thumbnailer.Thumbnail(data)
	if err != nil {
		return nil, domain.NewValidationError("file", err.Error())
	}

	thumbPath := fmt.Sprintf("thumbnails/%s/%s/%d.jpg", userID, modelID, s.now().UnixMilli())
	url, err := s.items.UploadFile(ctx, thumbPath, thumb, "image/jpeg")
	if err != nil {
		return nil, err
	}

	var oldPath string
	model, err := s.modelRepo.Mutate(ctx, modelID, func(m *domain.Model) error {
		oldPath = m.ThumbnailPath
		m.ThumbnailURL = url
		m.ThumbnailPath = thumbPath
		return nil
	})
	if err != nil {
		return nil, err
	}

	if oldPath != "" && oldPath != thumbPath {
		if err := s.items.DeleteFile(ctx, oldPath); err != nil {
			logging.Warn().Err(err).Str("path", oldPath).Msg("[ModelService] Failed to delete old thumbnail")
		}
	}
	return model, nil
}
