package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"neuralnexus/internal/auth"
	"neuralnexus/internal/domain"
	"neuralnexus/internal/service"
)

type ModelHandler struct {
	modelService *service.ModelService
	auth         *auth.Manager
}

func NewModelHandler(modelService *service.ModelService, authManager *auth.Manager) *ModelHandler {
	return &ModelHandler{modelService: modelService, auth: authManager}
}

// ListModels GET /models?category=&tag=&userId=&search=&sort=&offset=&limit=
func (h *ModelHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.modelService.GetAllModels(r.Context(), domain.ModelListOptions{
		Category: q.Get("category"),
		Tag:      q.Get("tag"),
		UserID:   q.Get("userId"),
		Search:   q.Get("search"),
		Sort:     q.Get("sort"),
		Offset:   queryInt(r, "offset", 0),
		Limit:    queryInt(r, "limit", 0),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ListUserModels приватные модели видны только владельцу
func (h *ModelHandler) ListUserModels(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "id")
	requester, _ := h.auth.VerifyToken(r)

	models, err := h.modelService.GetModelsByUser(r.Context(), ownerID, requester != "" && requester == ownerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (h *ModelHandler) CreateModel(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var in domain.CreateModelInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	model, err := h.modelService.CreateModel(r.Context(), userID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, model)
}

func (h *ModelHandler) GetModel(w http.ResponseWriter, r *http.Request) {
	model, err := h.modelService.GetModelByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

func (h *ModelHandler) UpdateModel(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var in domain.UpdateModelInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	model, err := h.modelService.UpdateModel(r.Context(), chi.URLParam(r, "id"), userID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

// DeleteModel перемещает модель в корзину
func (h *ModelHandler) DeleteModel(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.modelService.DeleteModel(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadModelFile загружает файл модели, путь затем передается в CreateModel
func (h *ModelHandler) UploadModelFile(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	part, err := readUpload(w, r, maxModelFileSize)
	if err != nil {
		writeError(w, r, err)
		return
	}

	uploaded, err := h.modelService.UploadModelFile(r.Context(), userID, part.FileName, part.Data, part.ContentType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploaded)
}

func (h *ModelHandler) UploadThumbnail(w http.ResponseWriter, r *http.Request) {
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
	if !strings.HasPrefix(part.ContentType, "image/") {
		writeError(w, r, domain.NewValidationError("file", "thumbnail must be an image"))
		return
	}

	model, err := h.modelService.UploadThumbnail(r.Context(), userID, chi.URLParam(r, "id"), part.Data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

func (h *ModelHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.modelService.GetModelVersions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (h *ModelHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var in domain.CreateVersionInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	version, err := h.modelService.CreateModelVersion(r.Context(), chi.URLParam(r, "id"), userID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, version)
}

func (h *ModelHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.modelService.GetModelVersion(r.Context(), chi.URLParam(r, "versionId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, version)
}

// expectedVersion из заголовка If-Match, 0 если заголовка нет
func expectedVersion(r *http.Request) (int, error) {
	v := strings.Trim(r.Header.Get("If-Match"), `" `)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, domain.NewValidationError("If-Match", "must be a record version")
	}
	return n, nil
}

// UpdateVersion PUT /versions/{versionId}, If-Match: <version>
func (h *ModelHandler) UpdateVersion(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	expected, err := expectedVersion(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var in domain.UpdateVersionInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	version, err := h.modelService.UpdateModelVersion(r.Context(), chi.URLParam(r, "versionId"), userID, in, expected)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", strconv.Quote(strconv.Itoa(version.Version)))
	writeJSON(w, http.StatusOK, version)
}

func (h *ModelHandler) RateModel(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req struct {
		Rating int    `json:"rating"`
		Review string `json:"review"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	model, err := h.modelService.RateModel(r.Context(), chi.URLParam(r, "id"), userID, req.Rating, req.Review)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model)
}

func (h *ModelHandler) ListRatings(w http.ResponseWriter, r *http.Request) {
	ratings, err := h.modelService.GetModelRatings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ratings)
}

func (h *ModelHandler) GetMyRating(w http.ResponseWriter, r *http.Request) {
	userID, err := h.auth.VerifyToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rating, err := h.modelService.GetUserRating(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rating)
}

func (h *ModelHandler) PopularTags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.modelService.GetPopularTags(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (h *ModelHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.modelService.GetModelMetrics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

// RecordEvent POST /models/{id}/events/{kind}, kind: view, download, api-call
func (h *ModelHandler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "id")

	var (
		metrics *domain.ModelMetrics
		err     error
	)
	switch chi.URLParam(r, "kind") {
	case "view":
		metrics, err = h.modelService.RecordView(r.Context(), modelID)
	case "download":
		metrics, err = h.modelService.RecordDownload(r.Context(), modelID)
	case "api-call":
		metrics, err = h.modelService.RecordApiCall(r.Context(), modelID)
	default:
		err = domain.NewValidationError("kind", "must be one of: view download api-call")
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}
