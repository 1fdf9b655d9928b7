package domain

import (
	"errors"
	"fmt"
)

// Виды ошибок доменного слоя. Сравниваются через errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("already exists")
	ErrVersionConflict = errors.New("version conflict")
	ErrStorage         = errors.New("storage failure")
	ErrCorrupt         = errors.New("corrupt record")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrQuotaExceeded   = errors.New("storage quota exceeded")
	ErrConfig          = errors.New("invalid configuration")
)

// ValidationError описывает некорректное поле входных данных
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError создает ошибку валидации для поля
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
