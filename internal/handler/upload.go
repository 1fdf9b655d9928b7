package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"neuralnexus/internal/domain"
)

// Ограничения размера загрузок
const (
	maxModelFileSize = 512 << 20
	maxImageSize     = 10 << 20
	multipartMemory  = 32 << 20
)

type uploadedPart struct {
	FileName    string
	ContentType string
	Data        []byte
}

// readUpload читает файл из multipart поля "file"
func readUpload(w http.ResponseWriter, r *http.Request, maxSize int64) (*uploadedPart, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, domain.NewValidationError("file", fmt.Sprintf("file exceeds %d bytes", maxSize))
		}
		return nil, domain.NewValidationError("file", "invalid multipart form")
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, domain.NewValidationError("file", "file is required")
	}
	defer file.Close()

	if header.Size > maxSize {
		return nil, domain.NewValidationError("file", fmt.Sprintf("file exceeds %d bytes", maxSize))
	}

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, domain.NewValidationError("file", fmt.Sprintf("file exceeds %d bytes", maxSize))
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	return &uploadedPart{FileName: header.Filename, ContentType: contentType, Data: data}, nil
}
