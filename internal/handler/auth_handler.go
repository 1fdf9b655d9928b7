package handler

import (
	"errors"
	"net/http"

	"neuralnexus/internal/auth"
	"neuralnexus/internal/domain"
	"neuralnexus/internal/logging"
	"neuralnexus/internal/service"
)

type AuthHandler struct {
	userService *service.UserService
	auth        *auth.Manager
}

func NewAuthHandler(userService *service.UserService, authManager *auth.Manager) *AuthHandler {
	return &AuthHandler{userService: userService, auth: authManager}
}

type authResponse struct {
	User  domain.PublicUser `json:"user"`
	Token *auth.Token       `json:"token"`
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, r *http.Request, status int, user *domain.User) {
	token, err := h.auth.IssueToken(user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, authResponse{User: user.Public(), Token: token})
}

// Register регистрирует пользователя и сразу выдает токен
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var in domain.CreateUserInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.userService.CreateUser(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respondWithToken(w, r, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.userService.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.respondWithToken(w, r, http.StatusOK, user)
}

// Me текущий пользователь
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.userService.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Public())
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.userService.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RequestPasswordReset всегда отвечает 202, чтобы не раскрывать наличие адреса
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := h.userService.CreatePasswordResetToken(r.Context(), req.Email); err != nil && !errors.Is(err, domain.ErrNotFound) {
		logging.Ctx(r.Context()).Error().Err(err).Msg("[AuthHandler] Failed to create reset token")
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.userService.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
