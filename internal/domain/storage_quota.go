package domain

import "time"

// DefaultQuotaBytes лимит хранилища нового пользователя, 5 GiB
const DefaultQuotaBytes int64 = 5 << 30

type StorageQuota struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	TotalBytesLimit int64     `json:"totalBytesLimit"`
	UsedBytes       int64     `json:"usedBytes"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type QuotaInfo struct {
	TotalSpace     int64   `json:"total_space"`
	UsedSpace      int64   `json:"used_space"`
	AvailableSpace int64   `json:"available_space"`
	UsagePercent   float64 `json:"usage_percent"`
}
