package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"neuralnexus/internal/auth"
	"neuralnexus/internal/domain"
	"neuralnexus/internal/service"
)

type ApiKeyHandler struct {
	apiKeyService *service.ApiKeyService
	auth          *auth.Manager
}

func NewApiKeyHandler(apiKeyService *service.ApiKeyService, authManager *auth.Manager) *ApiKeyHandler {
	return &ApiKeyHandler{apiKeyService: apiKeyService, auth: authManager}
}

func (h *ApiKeyHandler) CreateApiKey(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req struct {
		Name    string         `json:"name"`
		KeyType domain.KeyType `json:"keyType"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	created, err := h.apiKeyService.CreateApiKey(r.Context(), userID, req.Name, req.KeyType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *ApiKeyHandler) ListApiKeys(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	keys, err := h.apiKeyService.ListApiKeys(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *ApiKeyHandler) GetApiKey(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	key, err := h.apiKeyService.GetApiKey(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (h *ApiKeyHandler) RevokeApiKey(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	key, err := h.apiKeyService.RevokeApiKey(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (h *ApiKeyHandler) DeleteApiKey(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.apiKeyService.DeleteApiKey(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ApiKeyHandler) ResetUsage(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	key, err := h.apiKeyService.ResetUsage(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

func (h *ApiKeyHandler) UsageStats(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	stats, err := h.apiKeyService.GetUsageStats(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// validationStatus 200 для действительного ключа, 429 при исчерпанном лимите, иначе 401
func validationStatus(res *domain.ValidationResult) int {
	switch {
	case res.Valid:
		return http.StatusOK
	case res.Reason == domain.ReasonUsageLimitExceeded:
		return http.StatusTooManyRequests
	}
	return http.StatusUnauthorized
}

// ValidateApiKey POST /api-keys/validate {"key": "..."}. Тело ответа всегда
// содержит результат проверки.
func (h *ApiKeyHandler) ValidateApiKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Key == "" {
		req.Key = r.Header.Get("X-API-Key")
	}

	res, err := h.apiKeyService.ValidateApiKey(r.Context(), req.Key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, validationStatus(res), res)
}
