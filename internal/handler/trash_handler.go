package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"neuralnexus/internal/auth"
	"neuralnexus/internal/logging"
	"neuralnexus/internal/service"
)

type TrashHandler struct {
	trashService *service.TrashService
	auth         *auth.Manager
}

func NewTrashHandler(trashService *service.TrashService, authManager *auth.Manager) *TrashHandler {
	return &TrashHandler{trashService: trashService, auth: authManager}
}

// GetTrashItems обрабатывает запрос на получение содержимого корзины
func (h *TrashHandler) GetTrashItems(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items, err := h.trashService.GetTrashItems(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// EmptyTrash обрабатывает запрос на очистку корзины
func (h *TrashHandler) EmptyTrash(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	deleted, err := h.trashService.EmptyTrash(r.Context(), userID)
	if err != nil {
		// Часть моделей могла быть удалена
		logging.Ctx(r.Context()).Warn().Err(err).Int("deleted", deleted).Msg("[TrashHandler] Trash emptied partially")
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// RestoreItem обрабатывает запрос на восстановление модели из корзины
func (h *TrashHandler) RestoreItem(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	model, err := h.trashService.RestoreFromTrash(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

// DeletePermanently обрабатывает запрос на окончательное удаление модели
func (h *TrashHandler) DeletePermanently(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.trashService.DeletePermanently(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
