package domain

import "time"

type KeyType string

const (
	KeyTypeTest        KeyType = "test"
	KeyTypeTrain       KeyType = "train"
	KeyTypeDeploy      KeyType = "deploy"
	KeyTypeDevelopment KeyType = "development"
	KeyTypeProduction  KeyType = "production"
)

// KeyTypeSpec префикс ключа и месячный лимит вызовов для типа
type KeyTypeSpec struct {
	Prefix     string
	UsageLimit int64
}

var KeyTypes = map[KeyType]KeyTypeSpec{
	KeyTypeTest:        {Prefix: "nn_test_", UsageLimit: 100},
	KeyTypeTrain:       {Prefix: "nn_train_", UsageLimit: 1000},
	KeyTypeDeploy:      {Prefix: "nn_deploy_", UsageLimit: 5000},
	KeyTypeDevelopment: {Prefix: "nn_dev_", UsageLimit: 500},
	KeyTypeProduction:  {Prefix: "nn_prod_", UsageLimit: 10000},
}

// ApiKey хранится только хэш ключа. Сам ключ возвращается один раз при создании.
type ApiKey struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId"`
	Name             string     `json:"name"`
	KeyType          KeyType    `json:"keyType"`
	KeyPrefix        string     `json:"keyPrefix"`
	KeyHash          string     `json:"keyHash"`
	UsageLimit       int64      `json:"usageLimit"`
	CurrentUsage     int64      `json:"currentUsage"`
	UsagePeriodStart time.Time  `json:"usagePeriodStart"`
	IsActive         bool       `json:"isActive"`
	LastUsedAt       *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Причины отказа при проверке ключа
const (
	ReasonInvalidFormat      = "invalid_format"
	ReasonNotFound           = "not_found"
	ReasonInactive           = "inactive"
	ReasonUsageLimitExceeded = "usage_limit_exceeded"
)

type ValidationResult struct {
	Valid          bool    `json:"valid"`
	UserID         string  `json:"userId,omitempty"`
	KeyType        KeyType `json:"keyType,omitempty"`
	Reason         string  `json:"reason,omitempty"`
	RemainingUsage int64   `json:"remaining"`
}

// CreatedApiKey ответ на создание ключа, единственное место с открытым ключом
type CreatedApiKey struct {
	ApiKey *ApiKey `json:"apiKey"`
	Key    string  `json:"key"`
}

type ApiKeyUsageStats struct {
	TotalKeys   int                `json:"totalKeys"`
	ActiveKeys  int                `json:"activeKeys"`
	TotalUsage  int64              `json:"totalUsage"`
	UsageByType map[KeyType]int64  `json:"usageByType"`
	Keys        []ApiKeyUsageEntry `json:"keys"`
}

type ApiKeyUsageEntry struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	KeyType      KeyType `json:"keyType"`
	CurrentUsage int64   `json:"currentUsage"`
	UsageLimit   int64   `json:"usageLimit"`
	UsagePercent float64 `json:"usagePercent"`
}
