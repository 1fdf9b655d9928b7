package repository

// Имена коллекций
const (
	CollectionUsers         = "users"
	CollectionModels        = "models"
	CollectionModelVersions = "modelVersions"
	CollectionModelRatings  = "modelRatings"
	CollectionModelTags     = "modelTags"
	CollectionModelMetrics  = "modelMetrics"
	CollectionModelFiles    = "modelFiles"
	CollectionApiKeys       = "apiKeys"
	CollectionProfiles      = "profiles"
	CollectionStorageQuotas = "storageQuotas"
)

// first первый элемент или nil
func first[T any](items []*T) *T {
	if len(items) == 0 {
		return nil
	}
	return items[0]
}
