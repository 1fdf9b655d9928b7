package handler

import (
	"fmt"
	"net/http"

	"neuralnexus/internal/auth"
	"neuralnexus/internal/domain"
	"neuralnexus/internal/service"
)

type StorageQuotaHandler struct {
	quotaService *service.StorageQuotaService
	permissions  *service.PermissionService
	auth         *auth.Manager
}

func NewStorageQuotaHandler(
	quotaService *service.StorageQuotaService,
	permissions *service.PermissionService,
	authManager *auth.Manager,
) *StorageQuotaHandler {
	return &StorageQuotaHandler{
		quotaService: quotaService,
		permissions:  permissions,
		auth:         authManager,
	}
}

func (h *StorageQuotaHandler) GetQuotaInfo(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	quotaInfo, err := h.quotaService.GetQuotaInfo(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quotaInfo)
}

// UpdateQuotaLimit эндпоинт администратора для изменения квоты пользователя
func (h *StorageQuotaHandler) UpdateQuotaLimit(w http.ResponseWriter, r *http.Request) {
	adminID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	isAdmin, err := h.permissions.IsAdmin(r.Context(), adminID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !isAdmin {
		writeError(w, r, fmt.Errorf("quota limit: %w", domain.ErrForbidden))
		return
	}

	var req struct {
		UserID   string `json:"user_id"`
		NewLimit int64  `json:"new_limit"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.UserID == "" {
		writeError(w, r, domain.NewValidationError("user_id", "is required"))
		return
	}

	if err := h.quotaService.UpdateQuotaLimit(r.Context(), req.UserID, req.NewLimit); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
