package repository

import (
	"context"

	"neuralnexus/internal/domain"
)

// RatingRepository оценки моделей, одна запись на пару модель-пользователь
type RatingRepository struct {
	ratings *Collection[domain.ModelRating]
}

func NewRatingRepository(store *ItemStore) *RatingRepository {
	return &RatingRepository{ratings: NewCollection[domain.ModelRating](store, CollectionModelRatings)}
}

// Upsert создает или заменяет оценку пользователя
func (r *RatingRepository) Upsert(ctx context.Context, modelID, userID string, rating int, review string) (*domain.ModelRating, error) {
	id := domain.RatingID(modelID, userID)
	return r.ratings.Upsert(ctx, id,
		func() *domain.ModelRating {
			return &domain.ModelRating{ID: id, ModelID: modelID, UserID: userID}
		},
		func(v *domain.ModelRating) error {
			v.Rating = rating
			v.Review = review
			return nil
		})
}

func (r *RatingRepository) Get(ctx context.Context, modelID, userID string) (*domain.ModelRating, error) {
	return r.ratings.Get(ctx, domain.RatingID(modelID, userID))
}

func (r *RatingRepository) ListByModel(ctx context.Context, modelID string) ([]*domain.ModelRating, error) {
	return r.ratings.Query(ctx, Eq("modelId", modelID))
}

func (r *RatingRepository) DeleteByModel(ctx context.Context, modelID string) (int, error) {
	ratings, err := r.ListByModel(ctx, modelID)
	if err != nil {
		return 0, err
	}
	return deleteAll(ctx, r.ratings, ratings, func(v *domain.ModelRating) string { return v.ID })
}

// TagRepository счетчики использования тегов
type TagRepository struct {
	tags *Collection[domain.ModelTag]
}

func NewTagRepository(store *ItemStore) *TagRepository {
	return &TagRepository{tags: NewCollection[domain.ModelTag](store, CollectionModelTags)}
}

// Increment атомарно изменяет счетчик тега на delta, не опускаясь ниже нуля
func (r *TagRepository) Increment(ctx context.Context, id, name string, delta int) (*domain.ModelTag, error) {
	return r.tags.Upsert(ctx, id,
		func() *domain.ModelTag {
			return &domain.ModelTag{ID: id, Name: name}
		},
		func(t *domain.ModelTag) error {
			t.Count += delta
			if t.Count < 0 {
				t.Count = 0
			}
			return nil
		})
}

func (r *TagRepository) Get(ctx context.Context, id string) (*domain.ModelTag, error) {
	return r.tags.Get(ctx, id)
}

// ListUsed теги с положительным счетчиком
func (r *TagRepository) ListUsed(ctx context.Context) ([]*domain.ModelTag, error) {
	return r.tags.Query(ctx, Gt("count", 0))
}

// MetricsRepository счетчики просмотров, скачиваний и вызовов API
type MetricsRepository struct {
	metrics *Collection[domain.ModelMetrics]
}

func NewMetricsRepository(store *ItemStore) *MetricsRepository {
	return &MetricsRepository{metrics: NewCollection[domain.ModelMetrics](store, CollectionModelMetrics)}
}

func (r *MetricsRepository) Get(ctx context.Context, modelID string) (*domain.ModelMetrics, error) {
	return r.metrics.Get(ctx, modelID)
}

// Update атомарно изменяет метрики модели, создавая запись при отсутствии
func (r *MetricsRepository) Update(ctx context.Context, modelID string, fn func(*domain.ModelMetrics) error) (*domain.ModelMetrics, error) {
	return r.metrics.Upsert(ctx, modelID,
		func() *domain.ModelMetrics {
			return &domain.ModelMetrics{ID: modelID, ModelID: modelID}
		}, fn)
}

func (r *MetricsRepository) Delete(ctx context.Context, modelID string) (bool, error) {
	return r.metrics.Delete(ctx, modelID)
}
