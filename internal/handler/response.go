package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"neuralnexus/internal/domain"
	"neuralnexus/internal/logging"
	"neuralnexus/internal/storage"
)

const maxJSONBody = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON отправляет ответ в JSON
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("[Handler] Failed to encode response")
	}
}

// statusFor код ответа по виду ошибки
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation), errors.Is(err, storage.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrStorage), errors.Is(err, domain.ErrCorrupt):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError отправляет {"error": ...}. Текст внутренних ошибок наружу не отдается.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch {
	case status >= http.StatusInternalServerError:
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("[Handler] Request failed")
		msg = http.StatusText(status)
	case status == http.StatusUnauthorized:
		msg = "unauthorized"
	}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		msg = verr.Error()
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON читает тело запроса. Ошибка разбора считается ошибкой валидации.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.NewValidationError("body", "request body is empty")
		}
		return domain.NewValidationError("body", "invalid request body")
	}
	return nil
}

// queryInt целое из query параметра, def при отсутствии или ошибке
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
