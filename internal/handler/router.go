package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"neuralnexus/internal/auth"
	"neuralnexus/internal/logging"
	"neuralnexus/internal/service"
	"neuralnexus/internal/storage"
	"neuralnexus/internal/storage/local"
)

// Deps зависимости HTTP слоя
type Deps struct {
	Auth        *auth.Manager
	Users       *service.UserService
	Models      *service.ModelService
	Trash       *service.TrashService
	ApiKeys     *service.ApiKeyService
	Profiles    *service.UserProfileService
	Quota       *service.StorageQuotaService
	Permissions *service.PermissionService

	// Backend итоговый бэкенд (с метриками и failover)
	Backend  storage.Backend
	Failover *storage.Failover
	// LocalStore локальный бэкенд для маршрута /uploads, может быть nil
	LocalStore *local.Store
	// ServeObjects включает /files/* для бэкендов без собственного HTTP адреса
	ServeObjects bool

	Production     bool
	RequestTimeout time.Duration
}

// requestLogger пишет одну строку zerolog на запрос и кладет логгер в контекст
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		l := logging.Logger().With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(logging.ContextWithLogger(r.Context(), l)))

		l.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("[HTTP] Request completed")
	})
}

func NewRouter(d Deps) http.Handler {
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	authHandler := NewAuthHandler(d.Users, d.Auth)
	userHandler := NewUserHandler(d.Users, d.Auth)
	profileHandler := NewProfileHandler(d.Profiles, d.Auth)
	modelHandler := NewModelHandler(d.Models, d.Auth)
	trashHandler := NewTrashHandler(d.Trash, d.Auth)
	apiKeyHandler := NewApiKeyHandler(d.ApiKeys, d.Auth)
	quotaHandler := NewStorageQuotaHandler(d.Quota, d.Permissions, d.Auth)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-Match", "X-API-Key"},
		ExposedHeaders:   []string{"Link", "ETag"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/healthz", NewHealthHandler(d.Backend, d.Failover))
	r.Handle("/metrics", promhttp.Handler())

	files := NewLocalFilesHandler(d.LocalStore, d.Production)
	r.Get("/uploads/*", files.ServeHTTP)
	r.Head("/uploads/*", files.ServeHTTP)
	if d.ServeObjects {
		objects := NewObjectFilesHandler(d.Backend)
		r.Get("/files/*", objects.ServeHTTP)
		r.Head("/files/*", objects.ServeHTTP)
	}

	// HTTP маршруты
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))

		r.Route("/auth", func(r chi.Router) {
			r.With(httprate.LimitByIP(10, time.Minute)).Post("/register", authHandler.Register)
			r.With(httprate.LimitByIP(10, time.Minute)).Post("/login", authHandler.Login)
			r.With(httprate.LimitByIP(5, time.Minute)).Post("/password/forgot", authHandler.RequestPasswordReset)
			r.Post("/password/reset", authHandler.ResetPassword)
			r.Put("/password", authHandler.ChangePassword)
			r.Get("/me", authHandler.Me)
		})

		r.Route("/users", func(r chi.Router) {
			r.Put("/me", userHandler.UpdateMe)
			r.Delete("/me", userHandler.DeleteMe)
			r.Get("/by-username/{username}", userHandler.GetUserByUsername)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", userHandler.GetUser)
				r.Post("/follow", userHandler.Follow)
				r.Delete("/follow", userHandler.Unfollow)
				r.Get("/followers", userHandler.GetFollowers)
				r.Get("/following", userHandler.GetFollowing)
				r.Get("/models", modelHandler.ListUserModels)
				r.Get("/profile", profileHandler.GetProfile)
			})
		})

		r.Route("/profile", func(r chi.Router) {
			r.Put("/", profileHandler.SaveProfile)
			r.Delete("/", profileHandler.DeleteProfile)
			r.Post("/avatar", profileHandler.UploadAvatar)
		})

		r.Route("/models", func(r chi.Router) {
			r.Get("/", modelHandler.ListModels)
			r.Post("/", modelHandler.CreateModel)
			r.Post("/files", modelHandler.UploadModelFile)
			r.Get("/tags/popular", modelHandler.PopularTags)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", modelHandler.GetModel)
				r.Put("/", modelHandler.UpdateModel)
				r.Delete("/", modelHandler.DeleteModel)
				r.Post("/thumbnail", modelHandler.UploadThumbnail)
				r.Get("/versions", modelHandler.ListVersions)
				r.Post("/versions", modelHandler.CreateVersion)
				r.Get("/ratings", modelHandler.ListRatings)
				r.Post("/ratings", modelHandler.RateModel)
				r.Get("/ratings/me", modelHandler.GetMyRating)
				r.Get("/metrics", modelHandler.GetMetrics)
				r.Post("/events/{kind}", modelHandler.RecordEvent)
			})
		})

		r.Route("/versions/{versionId}", func(r chi.Router) {
			r.Get("/", modelHandler.GetVersion)
			r.Put("/", modelHandler.UpdateVersion)
		})

		r.Route("/trash", func(r chi.Router) {
			r.Get("/", trashHandler.GetTrashItems)
			r.Post("/empty", trashHandler.EmptyTrash)
			r.Post("/{id}/restore", trashHandler.RestoreItem)
			r.Delete("/{id}", trashHandler.DeletePermanently)
		})

		r.Route("/api-keys", func(r chi.Router) {
			r.With(httprate.LimitByIP(600, time.Minute)).Post("/validate", apiKeyHandler.ValidateApiKey)
			r.Get("/", apiKeyHandler.ListApiKeys)
			r.Post("/", apiKeyHandler.CreateApiKey)
			r.Get("/stats", apiKeyHandler.UsageStats)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", apiKeyHandler.GetApiKey)
				r.Delete("/", apiKeyHandler.DeleteApiKey)
				r.Post("/revoke", apiKeyHandler.RevokeApiKey)
				r.Post("/reset-usage", apiKeyHandler.ResetUsage)
			})
		})

		r.Route("/quota", func(r chi.Router) {
			r.Get("/", quotaHandler.GetQuotaInfo)
			r.Put("/limit", quotaHandler.UpdateQuotaLimit)
		})
	})

	return r
}
