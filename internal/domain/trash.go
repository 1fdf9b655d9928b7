package domain

import "time"

// TrashItem удаленная модель в корзине пользователя
type TrashItem struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	DeletedAt    time.Time `json:"deleted_at"`
	ExpiresIn    string    `json:"expires_in"` // вычисляется от срока хранения
}
