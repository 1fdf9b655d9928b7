package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"neuralnexus/internal/auth"
	"neuralnexus/internal/domain"
	"neuralnexus/internal/service"
)

type ProfileHandler struct {
	profileService *service.UserProfileService
	auth           *auth.Manager
}

func NewProfileHandler(profileService *service.UserProfileService, authManager *auth.Manager) *ProfileHandler {
	return &ProfileHandler{profileService: profileService, auth: authManager}
}

// GetProfile профиль любого пользователя по id
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profileService.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *ProfileHandler) SaveProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var in domain.ProfileInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	profile, err := h.profileService.SaveProfile(r.Context(), userID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// UploadAvatar multipart поле "file"
func (h *ProfileHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	part, err := readUpload(w, r, maxImageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}

	profile, err := h.profileService.UploadAvatar(r.Context(), userID, part.FileName, part.Data, part.ContentType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *ProfileHandler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.profileService.DeleteProfile(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
