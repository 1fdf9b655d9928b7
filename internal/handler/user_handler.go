package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"neuralnexus/internal/auth"
	"neuralnexus/internal/domain"
	"neuralnexus/internal/service"
)

type UserHandler struct {
	userService *service.UserService
	auth        *auth.Manager
}

func NewUserHandler(userService *service.UserService, authManager *auth.Manager) *UserHandler {
	return &UserHandler{userService: userService, auth: authManager}
}

func publicUsers(users []*domain.User) []domain.PublicUser {
	out := make([]domain.PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	return out
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.GetUserByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Public())
}

func (h *UserHandler) GetUserByUsername(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.GetUserByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Public())
}

// UpdateMe изменяет отображаемые поля текущего пользователя
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var in domain.UpdateUserInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.userService.UpdateUser(r.Context(), userID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Public())
}

func (h *UserHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.userService.DeleteUser(r.Context(), userID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) Follow(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.userService.FollowUser(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.userService.UnfollowUser(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) GetFollowers(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.GetFollowers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publicUsers(users))
}

func (h *UserHandler) GetFollowing(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.GetFollowing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publicUsers(users))
}
