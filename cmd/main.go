package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"google.golang.org/grpc"

	"neuralnexus/internal/auth"
	"neuralnexus/internal/config"
	"neuralnexus/internal/handler"
	"neuralnexus/internal/health"
	"neuralnexus/internal/logging"
	"neuralnexus/internal/preview"
	"neuralnexus/internal/repository"
	"neuralnexus/internal/service"
	"neuralnexus/internal/storage"
	"neuralnexus/internal/storage/gcs"
	"neuralnexus/internal/storage/local"
	"neuralnexus/internal/storage/minio"
	"neuralnexus/internal/storage/postgres"
	"neuralnexus/internal/storage/s3"
)

const (
	cleanupInterval = time.Hour
	shutdownTimeout = 30 * time.Second
)

// openBackend создает бэкенд выбранного драйвера. Для postgres возвращается
// также подключение, которое нужно закрыть при остановке.
func openBackend(ctx context.Context, cfg *config.Config) (storage.Backend, *sqlx.DB, error) {
	switch cfg.Storage.Driver {
	case "gcs":
		b, err := gcs.New(ctx, gcs.Config{
			ProjectID:       cfg.GCS.ProjectID,
			Bucket:          cfg.GCS.Bucket,
			CredentialsFile: cfg.GCS.CredentialsFile,
			Endpoint:        cfg.GCS.Endpoint,
			UniformAccess:   cfg.GCS.UniformAccess,
			PublicBaseURL:   cfg.GCS.PublicBaseURL,
		})
		return b, nil, err
	case "s3":
		b, err := s3.NewClient(&s3.Config{
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			PublicBaseURL:   cfg.S3.PublicBaseURL,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		return b, nil, err
	case "minio":
		b, err := minio.New(ctx, minio.Config{
			Endpoint:      cfg.Minio.Endpoint,
			AccessKey:     cfg.Minio.AccessKey,
			SecretKey:     cfg.Minio.SecretKey,
			Bucket:        cfg.Minio.Bucket,
			UseSSL:        cfg.Minio.UseSSL,
			PublicBaseURL: cfg.Minio.PublicBaseURL,
		})
		return b, nil, err
	case "postgres":
		db, err := postgres.Connect(cfg.Database.GetDSN(), 5, 5*time.Second)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.RunMigrations(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return postgres.New(db, cfg.Server.BaseURL+"/files"), db, nil
	}
	return nil, nil, errors.New("unknown storage driver " + cfg.Storage.Driver)
}

func main() {
	// Загружаем конфигурацию
	appConfig, err := config.NewConfig(".app.env")
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load config")
	}

	logging.Init(logging.Config{
		Level:  appConfig.Log.Level,
		Format: appConfig.Log.Format,
		Caller: !appConfig.Server.IsProduction(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Локальное хранилище нужно всегда: как основной бэкенд по умолчанию,
	// как резервный при failover и для раздачи /uploads
	localStore, err := local.New(local.Config{
		DataDir:         appConfig.Storage.DataDir,
		PublicDir:       appConfig.Storage.PublicDir,
		PublicURLPrefix: appConfig.Storage.PublicURLPrefix,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize local storage")
	}

	checker := health.NewChecker()

	var (
		backend  storage.Backend = localStore
		failover *storage.Failover
		db       *sqlx.DB
	)
	if appConfig.Storage.Driver != "local" {
		remote, conn, err := openBackend(ctx, appConfig)
		if err != nil {
			logging.Error().Err(err).Str("driver", appConfig.Storage.Driver).Msg("Failed to initialize storage, falling back to local")
			checker.SetCloudAvailable(false)
		} else {
			db = conn
			backend = storage.Instrument(remote)
			if appConfig.Storage.Failover {
				failover = storage.NewFailover(backend, localStore, storage.FailoverSettings{
					MaxFailures:   appConfig.Storage.BreakerFailures,
					Timeout:       appConfig.Storage.BreakerTimeout,
					OnStateChange: checker.OnBreakerStateChange,
				})
				// Записи, оставшиеся в резерве с прошлого запуска
				if n, err := failover.LoadFallbackKeys(ctx); err != nil {
					logging.Warn().Err(err).Msg("Failed to load fallback keys")
				} else if n > 0 {
					logging.Info().Int("keys", n).Msg("Fallback records pending migration")
				}
				backend = failover
			}
			logging.Info().Str("backend", remote.Name()).Bool("failover", failover != nil).Msg("Storage initialized")
		}
	}
	if db != nil {
		defer db.Close()
	}

	// Инициализируем репозитории
	items := repository.NewItemStore(backend)
	userRepo := repository.NewUserRepository(items)
	modelRepo := repository.NewModelRepository(items)
	apiKeyRepo := repository.NewApiKeyRepository(items)
	profileRepo := repository.NewProfileRepository(items)
	quotaRepo := repository.NewStorageQuotaRepository(items)
	trashRepo := repository.NewTrashRepository(items, appConfig.Storage.TrashRetention)

	// Инициализируем сервисы
	emailService := service.NewEmailService(appConfig.SMTP)
	quotaService := service.NewStorageQuotaService(quotaRepo)
	permissionService := service.NewPermissionService(userRepo)
	modelService := service.NewModelService(
		modelRepo,
		repository.NewRatingRepository(items),
		repository.NewTagRepository(items),
		repository.NewMetricsRepository(items),
		items,
		permissionService,
		quotaService,
		preview.NewService(),
	)
	userService := service.NewUserService(userRepo, profileRepo, apiKeyRepo, quotaService, modelService, emailService)
	trashService := service.NewTrashService(trashRepo, modelRepo, modelService, permissionService)
	apiKeyService := service.NewApiKeyService(apiKeyRepo)
	profileService := service.NewUserProfileService(profileRepo, userRepo, items, emailService)

	authManager, err := auth.NewManager(appConfig.Auth)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize auth")
	}

	router := handler.NewRouter(handler.Deps{
		Auth:           authManager,
		Users:          userService,
		Models:         modelService,
		Trash:          trashService,
		ApiKeys:        apiKeyService,
		Profiles:       profileService,
		Quota:          quotaService,
		Permissions:    permissionService,
		Backend:        backend,
		Failover:       failover,
		LocalStore:     localStore,
		ServeObjects:   db != nil,
		Production:     appConfig.Server.IsProduction(),
		RequestTimeout: appConfig.Server.RequestTimeout,
	})

	// Автоочистка корзины
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := trashService.AutoCleanup(ctx); err != nil {
					logging.Error().Err(err).Msg("[Trash] Auto cleanup failed")
				}
			}
		}
	}()

	// gRPC сервер здоровья
	grpcServer := grpc.NewServer()
	checker.Register(grpcServer)

	lis, err := net.Listen("tcp", ":"+appConfig.Server.GRPCPort)
	if err != nil {
		logging.Fatal().Err(err).Str("port", appConfig.Server.GRPCPort).Msg("Failed to listen gRPC port")
	}
	go func() {
		logging.Info().Str("port", appConfig.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(lis); err != nil {
			logging.Error().Err(err).Msg("gRPC server stopped")
		}
	}()

	httpServer := &http.Server{
		Addr:              ":" + appConfig.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logging.Info().Str("port", appConfig.Server.Port).Str("env", appConfig.Server.Env).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	logging.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	checker.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	grpcServer.GracefulStop()

	logging.Info().Msg("Server stopped")
}
