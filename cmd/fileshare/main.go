// Точка входа fileshare — сервер обмена файлами в LAN.
// Загружает конфигурацию, проверяет OpenAPI контракт, подключает хранилище
// метаданных (PostgreSQL или MongoDB) и хранилище блобов (Google Drive или
// локальный диск), поднимает реестр пиров, topologymetrics и HTTP-сервер
// с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tanishkagupta2207/p2p-fileShare-Backend/api"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/api/handlers"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/api/middleware"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/blob"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/blob/gdrive"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/blob/localfs"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/config"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/database"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/docstore"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/peer"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/repository"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/server"
	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/service"
)

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		return 1
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("fileshare запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("metadata_backend", cfg.MetadataBackend),
		slog.String("blob_backend", cfg.BlobBackend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Встроенный OpenAPI контракт должен быть валиден
	if _, err := api.Load(ctx); err != nil {
		logger.Error("Невалидный OpenAPI контракт", slog.String("error", err.Error()))
		return 1
	}

	// 4. Хранилище метаданных
	var (
		files       repository.FileRepository
		metaChecker handlers.ReadinessChecker
		targets     = service.DephealthTargets{JWKSURL: cfg.JWTJWKSURL}
	)
	switch cfg.MetadataBackend {
	case config.MetadataBackendMongo:
		store, err := docstore.Dial(cfg.MongoURL, cfg.MongoDatabase, cfg.MongoTimeout, logger)
		if err != nil {
			logger.Error("Ошибка подключения к MongoDB", slog.String("error", err.Error()))
			return 1
		}
		defer store.Close()
		files = store
		metaChecker = store

	default:
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			return 1
		}

		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			return 1
		}
		defer pool.Close()

		// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
		pgDB := stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		files = repository.NewFileRepository(pool)
		metaChecker = database.NewReadinessChecker(pool)
		if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, database.PoolStatsOf(pool)); err != nil {
			logger.Warn("Метрики пула базы метаданных не зарегистрированы", slog.String("error", err.Error()))
		}
		targets.DB = pgDB
		targets.PGConnURL = cfg.DatabaseURL()
	}

	// 5. Хранилище блобов
	var (
		blobs       blob.Store
		blobChecker handlers.ReadinessChecker
	)
	switch cfg.BlobBackend {
	case config.BlobBackendLocalFS:
		store, err := localfs.New(cfg.LocalFSDir)
		if err != nil {
			logger.Error("Ошибка инициализации локального хранилища", slog.String("error", err.Error()))
			return 1
		}
		blobs = store
		blobChecker = store
		logger.Info("Блобы хранятся локально", slog.String("dir", cfg.LocalFSDir))

	default:
		store, err := gdrive.New(ctx, gdrive.Config{
			ClientID:     cfg.GDriveClientID,
			ClientSecret: cfg.GDriveClientSecret,
			RedirectURI:  cfg.GDriveRedirectURI,
			RefreshToken: cfg.GDriveRefreshToken,
			FolderID:     cfg.GDriveFolderID,
			ChunkSize:    cfg.GDriveChunkSize,
			Endpoint:     cfg.GDriveEndpoint,
		}, logger)
		if err != nil {
			logger.Error("Ошибка создания клиента Google Drive", slog.String("error", err.Error()))
			return 1
		}
		blobs = store
		blobChecker = store
		targets.DriveURL = service.DriveAPIURL
		if cfg.GDriveEndpoint != "" {
			targets.DriveURL = cfg.GDriveEndpoint
		}
	}

	// 6. Конвейер передачи с кэшем метаданных
	cache := service.NewCacheService(cfg.CacheMaxSize, cfg.CacheTTL)
	transfer := service.NewTransferService(files, blobs, cache, logger)

	// 7. Реестр пиров и WebSocket-канал
	registry := peer.NewRegistry(logger)
	hub := peer.NewHub(registry, peer.HubConfig{
		PongWait:       cfg.PeerPongWait,
		MaxMessageSize: cfg.PeerMaxMessageSize,
		AllowedOrigins: cfg.PeerAllowedOrigins,
	}, logger)

	// 8. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.JWKSCACertPath,
		cfg.JWTIssuer,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		return 1
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 9. Readiness checkers
	jwksChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWKSCACertPath, cfg.JWKSClientTimeout)
	if err != nil {
		logger.Error("Ошибка создания JWKS readiness checker", slog.String("error", err.Error()))
		return 1
	}
	healthHandler := handlers.NewHealthHandler(metaChecker, blobChecker, jwksChecker)

	// 10. API handler (реализует generated.ServerInterface)
	apiHandler := handlers.NewAPIHandler(
		handlers.NewFilesHandler(transfer, logger),
		handlers.NewPeersHandler(registry, hub),
		healthHandler,
		logger,
	)

	// 11. topologymetrics — мониторинг зависимостей
	dephealthSvc, err := service.NewDephealthService(
		"fileshare",
		cfg.DephealthGroup,
		targets,
		cfg.DephealthCheckInterval,
		cfg.DephealthIsEntry,
		logger,
	)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}
	if dephealthSvc != nil {
		defer dephealthSvc.Stop()
	}

	// 12. HTTP-сервер; WebSocket-каналы закрываются вместе с ним
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	srv.RegisterOnShutdown(hub.Close)

	if err := srv.Run(); err != nil {
		logger.Error("Сервер завершился с ошибкой", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("fileshare остановлен")
	return 0
}
