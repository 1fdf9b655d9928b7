package domain

import "time"

type Model struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Category       string     `json:"category"`
	Framework      string     `json:"framework,omitempty"`
	License        string     `json:"license,omitempty"`
	Tags           []string   `json:"tags"`
	Price          float64    `json:"price"`
	IsPublic       bool       `json:"isPublic"`
	IsDeleted      bool       `json:"isDeleted"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
	FileURL        string     `json:"fileUrl,omitempty"`
	FilePath       string     `json:"filePath,omitempty"`
	FileSize       int64      `json:"fileSize"`
	ThumbnailURL   string     `json:"thumbnailUrl,omitempty"`
	ThumbnailPath  string     `json:"thumbnailPath,omitempty"`
	AverageRating  float64    `json:"averageRating"`
	RatingCount    int        `json:"ratingCount"`
	Downloads      int64      `json:"downloads"`
	CurrentVersion int        `json:"currentVersion"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// ModelFileClaim закрепляет загруженный файл за одной моделью
type ModelFileClaim struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	ModelID   string    `json:"modelId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ModelVersion версия модели. VersionNum порядковый номер внутри модели,
// Version счетчик оптимистичной блокировки записи.
type ModelVersion struct {
	ID         string    `json:"id"`
	ModelID    string    `json:"modelId"`
	VersionNum int       `json:"versionNum"`
	Version    int       `json:"version"`
	Changelog  string    `json:"changelog"`
	FileURL    string    `json:"fileUrl,omitempty"`
	FileSize   int64     `json:"fileSize"`
	CreatedBy  string    `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type ModelRating struct {
	ID        string    `json:"id"`
	ModelID   string    `json:"modelId"`
	UserID    string    `json:"userId"`
	Rating    int       `json:"rating"`
	Review    string    `json:"review,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RatingID одна оценка на пару модель-пользователь
func RatingID(modelID, userID string) string {
	return modelID + "_" + userID
}

type ModelTag struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ModelMetrics struct {
	ID         string     `json:"id"`
	ModelID    string     `json:"modelId"`
	Views      int64      `json:"views"`
	Downloads  int64      `json:"downloads"`
	ApiCalls   int64      `json:"apiCalls"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type CreateModelInput struct {
	Name        string   `json:"name" validate:"required,min=1,max=200"`
	Description string   `json:"description" validate:"max=5000"`
	Category    string   `json:"category" validate:"required,max=100"`
	Framework   string   `json:"framework" validate:"max=100"`
	License     string   `json:"license" validate:"max=100"`
	Tags        []string `json:"tags" validate:"max=20,dive,min=1,max=50"`
	Price       float64  `json:"price" validate:"gte=0"`
	IsPublic    bool     `json:"isPublic"`
	FileURL     string   `json:"fileUrl" validate:"omitempty,max=2048"`
	FilePath    string   `json:"filePath" validate:"omitempty,max=1024"`
}

type UpdateModelInput struct {
	Name        *string   `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string   `json:"description" validate:"omitempty,max=5000"`
	Category    *string   `json:"category" validate:"omitempty,max=100"`
	Framework   *string   `json:"framework" validate:"omitempty,max=100"`
	License     *string   `json:"license" validate:"omitempty,max=100"`
	Tags        *[]string `json:"tags" validate:"omitempty,max=20,dive,min=1,max=50"`
	Price       *float64  `json:"price" validate:"omitempty,gte=0"`
	IsPublic    *bool     `json:"isPublic"`
	FileURL     *string   `json:"fileUrl" validate:"omitempty,max=2048"`
}

type UpdateVersionInput struct {
	Changelog *string `json:"changelog" validate:"omitempty,max=5000"`
	FileURL   *string `json:"fileUrl" validate:"omitempty,max=2048"`
	FileSize  *int64  `json:"fileSize" validate:"omitempty,gte=0"`
}

// UploadedFile результат загрузки файла в хранилище
type UploadedFile struct {
	URL  string `json:"url"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

type CreateVersionInput struct {
	Changelog string `json:"changelog" validate:"max=5000"`
	FileURL   string `json:"fileUrl" validate:"omitempty,max=2048"`
	FileSize  int64  `json:"fileSize" validate:"gte=0"`
}

// Порядок сортировки каталога моделей
const (
	SortNewest    = "newest"
	SortRating    = "rating"
	SortDownloads = "downloads"
)

// ModelListOptions фильтры и пагинация каталога
type ModelListOptions struct {
	Category string
	Tag      string
	UserID   string
	Search   string
	Sort     string
	Offset   int
	Limit    int
}

type ModelPage struct {
	Items []*Model `json:"items"`
	Total int      `json:"total"`
}
