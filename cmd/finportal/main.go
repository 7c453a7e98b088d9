// Точка входа finportal — портал финансовых документов.
// Загружает конфигурацию, создаёт клиент Airtable, репозитории и сервисный
// слой, выбирает хранилище счётчиков и способ их обновления (пул воркеров,
// синхронно или через RabbitMQ), подключает Firebase JWT middleware,
// запускает topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/worldsun-app/finportal/internal/airtable"
	"github.com/worldsun-app/finportal/internal/api/handlers"
	"github.com/worldsun-app/finportal/internal/api/middleware"
	"github.com/worldsun-app/finportal/internal/attachment"
	"github.com/worldsun-app/finportal/internal/config"
	"github.com/worldsun-app/finportal/internal/domain/model"
	"github.com/worldsun-app/finportal/internal/identity"
	"github.com/worldsun-app/finportal/internal/queue"
	"github.com/worldsun-app/finportal/internal/repository"
	"github.com/worldsun-app/finportal/internal/server"
	"github.com/worldsun-app/finportal/internal/service"
	"github.com/worldsun-app/finportal/internal/storage"
	"github.com/worldsun-app/finportal/internal/tracing"
)

const (
	serviceID         = "finportal"
	readinessTimeout  = 3 * time.Second
	identityTimeout   = 30 * time.Second
	attachmentTimeout = 5 * time.Minute
	catalogCacheSize  = 4
)

func main() {
	// 0. Переменные из .env (если файл есть)
	_ = godotenv.Load()

	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("finportal запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("activity_dispatch", cfg.ActivityDispatch),
		slog.String("counter_store", cfg.CounterStore),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Трейсинг
	shutdownTracing, err := tracing.Init(ctx, cfg.OTelServiceName, config.Version, cfg.OTelEndpoint, cfg.OTelInsecure, logger)
	if err != nil {
		logger.Warn("OpenTelemetry недоступен, запуск без трейсинга",
			slog.String("error", err.Error()),
		)
		shutdownTracing = func(context.Context) error { return nil }
	}

	// 4. Клиент Airtable (исходящие запросы трассируются)
	fields, err := airtable.FieldsForSchema(cfg.AirtableFieldSchema)
	if err != nil {
		logger.Error("Некорректная схема колонок", slog.String("error", err.Error()))
		os.Exit(1)
	}
	atClient := airtable.New(cfg.AirtableURL, cfg.AirtableBaseID, cfg.AirtableAPIKey,
		&http.Client{
			Timeout:   cfg.AirtableTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cfg.AirtableRateLimit,
		logger,
	)

	// 5. Репозитории
	fileRepo := repository.NewFileRepository(atClient, cfg.Tables.Files, cfg.FilesView, fields.File, cfg.Location)
	activityRepo := repository.NewActivityRepository(atClient, cfg.Tables.Activity, fields.Activity)
	userRepo := repository.NewUserRepository(atClient, cfg.Tables.Users, fields.User)
	adminRepo := repository.NewAdminRepository(atClient, cfg.Tables.AdminUsers, fields.AdminUser)
	announcementRepo := repository.NewAnnouncementRepository(atClient, cfg.Tables.Announcements, fields.Announcement, cfg.Location)

	optionalCheckers := map[string]handlers.ReadinessChecker{}

	// 6. Хранилище производных счётчиков
	var counterStore repository.CounterStore
	var redisStore *repository.RedisCounterStore
	switch cfg.CounterStore {
	case config.CounterStoreRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		redisStore = repository.NewRedisCounterStore(redisClient, cfg.RedisKeyPrefix)
		counterStore = redisStore
		optionalCheckers["redis"] = repository.NewRedisReadinessChecker(redisStore, readinessTimeout)
		logger.Info("Счётчики хранятся в Redis", slog.String("addr", cfg.RedisAddr))
	default:
		counterStore = repository.NewAirtableCounterStore(atClient, repository.CounterTables{
			FileStats:    cfg.Tables.FileStats,
			DailyStats:   cfg.Tables.DailyStats,
			UserStats:    cfg.Tables.UserStats,
			DeviceStats:  cfg.Tables.DeviceStats,
			BrowserStats: cfg.Tables.BrowserStats,
		}, fields)
		logger.Info("Счётчики хранятся в Airtable (неатомарный инкремент)")
	}

	// 7. Доставка записей активности до счётчиков
	updater := service.NewCounterUpdater(counterStore, cfg.Location, logger)
	syncDispatcher := service.NewSyncDispatcher(updater)

	var (
		dispatcher service.CounterDispatcher
		pool       *service.Dispatcher
		publisher  *queue.Publisher
		consumer   *queue.Consumer
	)
	switch cfg.ActivityDispatch {
	case config.DispatchSync:
		dispatcher = syncDispatcher
	case config.DispatchAMQP:
		publisher, err = queue.NewPublisher(cfg.AMQPURL, cfg.AMQPQueue, syncDispatcher, logger)
		if err != nil {
			logger.Error("Ошибка подключения к RabbitMQ", slog.String("error", err.Error()))
			os.Exit(1)
		}
		dispatcher = publisher
		consumer = queue.NewConsumer(cfg.AMQPURL, cfg.AMQPQueue, applyCounters(updater), logger)
		consumer.Start(ctx)
		optionalCheckers["rabbitmq"] = handlers.ErrorChecker{Check: publisher.CheckReady}
		optionalCheckers["rabbitmq_consumer"] = handlers.ErrorChecker{Check: consumer.CheckReady}
	default:
		pool = service.NewDispatcher(updater, cfg.ActivityWorkers, cfg.ActivityQueueSize, logger)
		pool.Start(ctx)
		dispatcher = pool
	}

	// 8. Сервисный слой
	cache := service.NewCacheService(catalogCacheSize, cfg.CatalogCacheTTL)
	catalogSvc := service.NewCatalogService(fileRepo, cache, cfg.CatalogRequireSector, logger)
	searchSvc := service.NewSearchService(catalogSvc, logger)
	recorder := service.NewActivityRecorder(activityRepo, dispatcher, service.RetryPolicy{
		Attempts: cfg.ActivityRetries,
		Backoff:  cfg.ActivityRetryBackoff,
	}, logger)
	statsSvc := service.NewStatsService(activityRepo, counterStore, userRepo, cfg.Location, cfg.StatsDays, logger)
	announcementSvc := service.NewAnnouncementService(announcementRepo)

	// 9. Зеркало вложений в MinIO (опционально)
	var mirror service.Mirror
	if cfg.MinIOEndpoint != "" {
		minioMirror, mirrorErr := storage.NewMinioMirror(ctx, cfg.MinIOEndpoint, cfg.MinIOAccessKey,
			cfg.MinIOSecretKey, cfg.MinIOBucket, cfg.MinIOUseSSL, logger)
		if mirrorErr != nil {
			logger.Warn("MinIO недоступен, скачивание без зеркала",
				slog.String("error", mirrorErr.Error()),
			)
		} else {
			mirror = minioMirror
			optionalCheckers["minio"] = minioMirror
		}
	}
	downloadSvc := service.NewDownloadService(catalogSvc, attachment.New(attachmentTimeout, logger), mirror, logger)

	// 10. Identity Toolkit для выдачи роли (нужен ключ сервисного аккаунта)
	var roles service.RoleManager
	if cfg.FirebaseCredentialsFile != "" {
		sa, saErr := identity.LoadServiceAccount(cfg.FirebaseCredentialsFile)
		if saErr == nil {
			var idClient *identity.Client
			idClient, saErr = identity.New(cfg.IdentityURL, cfg.FirebaseProjectID, sa, identityTimeout, logger)
			if saErr == nil {
				roles = idClient
			}
		}
		if saErr != nil {
			logger.Warn("Ключ сервисного аккаунта не загружен, выдача роли отключена",
				slog.String("file", cfg.FirebaseCredentialsFile),
				slog.String("error", saErr.Error()),
			)
		}
	} else {
		logger.Info("FP_FIREBASE_CREDENTIALS_FILE не задан, выдача роли отключена")
	}
	adminSvc := service.NewAdminService(roles, adminRepo, service.AdminOptions{
		Allowlist:    cfg.AdminEmails,
		UseAllowlist: cfg.AdminLegacyAllowlist,
		UseTable:     cfg.AdminLegacyTable,
	}, logger)

	// 11. JWT middleware (Firebase ID токены)
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.FirebaseJWKSURL,
		cfg.FirebaseProjectID,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка инициализации JWT", slog.String("error", err.Error()))
		os.Exit(1)
	}
	optionalCheckers["firebase_jwks"] = middleware.NewJWKSReadinessChecker(cfg.FirebaseJWKSURL, readinessTimeout)

	// 12. topologymetrics
	var dephealthSvc *service.DephealthService
	if cfg.DephealthEnabled {
		var dephealthErr error
		dephealthSvc, dephealthErr = service.NewDephealthService(
			serviceID,
			cfg.DephealthGroup,
			[]service.HTTPDependency{
				{Name: "firebase-jwks", URL: cfg.FirebaseJWKSURL, Critical: true},
			},
			cfg.DephealthCheckInterval,
			logger,
		)
		if dephealthErr != nil {
			logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
				slog.String("error", dephealthErr.Error()),
			)
			dephealthSvc = nil
		} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
			dephealthSvc = nil
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 13. API handler
	healthHandler := handlers.NewHealthHandler(
		airtable.NewReadinessChecker(atClient, cfg.Tables.Files, readinessTimeout),
		optionalCheckers,
	)
	apiHandler := handlers.NewAPIHandler(handlers.Deps{
		Health:            healthHandler,
		Catalog:           catalogSvc,
		Search:            searchSvc,
		Download:          downloadSvc,
		Activity:          recorder,
		Stats:             statsSvc,
		Admin:             adminSvc,
		Announcements:     announcementSvc,
		LatestLimit:       cfg.LatestLimit,
		GrantRequireAdmin: cfg.GrantRequireAdmin,
	}, logger)

	// 14. HTTP-сервер: metrics → logging → JWT (кроме health и metrics)
	srv := server.New(cfg, logger, apiHandler.Routes,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		server.JWTAuthWithExclusions(jwtAuth.Middleware(), "/health/", "/metrics"),
	)

	// 15. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
	}

	// 16. Остановка фоновых компонентов: сначала источники записей, затем приёмники
	cancel()
	downloadSvc.Wait()
	if pool != nil {
		pool.Stop()
	}
	if publisher != nil {
		publisher.Close()
	}
	if consumer != nil {
		consumer.Stop()
	}
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	if redisStore != nil {
		if err := redisStore.Close(); err != nil {
			logger.Warn("Ошибка закрытия Redis", slog.String("error", err.Error()))
		}
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer flushCancel()
	if err := shutdownTracing(flushCtx); err != nil {
		logger.Warn("Ошибка остановки трейсинга", slog.String("error", err.Error()))
	}

	logger.Info("finportal остановлен")
}

// applyCounters — обработчик сообщений очереди: применяет запись к счётчикам.
func applyCounters(updater *service.CounterUpdater) queue.Handler {
	return func(ctx context.Context, entry *model.ActivityEntry) error {
		if failed := updater.Apply(ctx, entry); failed > 0 {
			return fmt.Errorf("не обновлено счётчиков: %d", failed)
		}
		return nil
	}
}
