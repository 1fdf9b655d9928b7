package handler

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"neuralnexus/internal/storage"
	"neuralnexus/internal/storage/local"
)

const publicCacheControl = "public, max-age=3600"

// inlineTypes растровые изображения, которые можно показывать в браузере
var inlineTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
	"image/avif": true,
	"image/bmp":  true,
}

// setFileHeaders выставляет заголовки раздачи загруженного файла. Все,
// кроме растровых картинок (svg, html и прочее), отдается как вложение.
func setFileHeaders(h http.Header, contentType string) {
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", publicCacheControl)
	h.Set("X-Content-Type-Options", "nosniff")

	mediaType, _, _ := strings.Cut(contentType, ";")
	if !inlineTypes[strings.ToLower(strings.TrimSpace(mediaType))] {
		h.Set("Content-Disposition", "attachment")
	}
}

// LocalFilesHandler раздает публичные файлы локального бэкенда (GET /uploads/*).
// В production маршрут отвечает 404.
type LocalFilesHandler struct {
	store      *local.Store
	production bool
}

func NewLocalFilesHandler(store *local.Store, production bool) *LocalFilesHandler {
	return &LocalFilesHandler{store: store, production: production}
}

func (h *LocalFilesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.production || h.store == nil {
		http.NotFound(w, r)
		return
	}

	key := chi.URLParam(r, "*")
	if strings.Contains(key, "..") {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	p, info, err := h.store.ResolvePublic(key)
	switch {
	case errors.Is(err, storage.ErrInvalidKey):
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	case err != nil:
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(p)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	setFileHeaders(w.Header(), local.ContentTypeFor(p))
	// ServeContent выставляет Last-Modified и обрабатывает If-Modified-Since и Range
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// ObjectFilesHandler раздает публичные объекты бэкенда без собственного
// HTTP адреса (postgres, GET /files/*)
type ObjectFilesHandler struct {
	backend storage.Backend
}

func NewObjectFilesHandler(backend storage.Backend) *ObjectFilesHandler {
	return &ObjectFilesHandler{backend: backend}
}

func (h *ObjectFilesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key, err := storage.CleanKey(chi.URLParam(r, "*"))
	if err != nil {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	obj, err := h.backend.GetObject(r.Context(), key)
	if err != nil || !obj.Public {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, err)
			return
		}
		http.NotFound(w, r)
		return
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = local.ContentTypeFor(key)
	}
	setFileHeaders(w.Header(), contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	if !obj.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", obj.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(obj.Data)
	}
}
