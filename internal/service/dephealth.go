// dephealth.go — мониторинг зависимостей через topologymetrics SDK.
//
// fileshare проверяет:
//   - PostgreSQL — SQL checker через существующий pgxpool (только для FS_METADATA_BACKEND=postgres)
//   - JWKS endpoint провайдера идентификации — HTTP checker
//   - Google Drive API — HTTP checker (только для FS_BLOB_BACKEND=gdrive)
//
// Метрики app_dependency_* публикуются на /metrics.
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // HTTP checker для JWKS и Drive
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"     // PostgreSQL checker (pool mode)
	"github.com/prometheus/client_golang/prometheus"
)

// DriveAPIURL — базовый URL Google Drive API по умолчанию.
const DriveAPIURL = "https://www.googleapis.com"

// driveHealthPath — discovery-документ Drive v3, доступен без авторизации.
const driveHealthPath = "/discovery/v1/apis/drive/v3/rest"

// DephealthTargets — набор проверяемых зависимостей.
type DephealthTargets struct {
	// DB — *sql.DB из stdlib.OpenDBFromPool(); nil, если PostgreSQL не используется
	DB *sql.DB
	// PGConnURL — URL PostgreSQL для лейблов (без пароля)
	PGConnURL string
	// JWKSURL — JWKS endpoint, проверяется всегда
	JWKSURL string
	// DriveURL — базовый URL Drive API; пусто, если блобы хранятся локально
	DriveURL string
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	names  []string
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(
	serviceID string,
	group string,
	targets DephealthTargets,
	checkInterval time.Duration,
	isEntry bool,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, targets, checkInterval, isEntry, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	targets DephealthTargets,
	checkInterval time.Duration,
	isEntry bool,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, targets, checkInterval, isEntry, logger,
		dephealth.WithRegisterer(registerer))
}

func newDephealthService(
	serviceID string,
	group string,
	targets DephealthTargets,
	checkInterval time.Duration,
	isEntry bool,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	// Общие опции зависимости
	common := func(rawURL string) []dephealth.DependencyOption {
		o := []dephealth.DependencyOption{
			dephealth.FromURL(rawURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		}
		if isEntry {
			o = append(o, dephealth.WithLabel("isentry", "yes"))
		}
		return o
	}

	opts := []dephealth.Option{dephealth.WithLogger(logger)}
	var names []string

	if targets.DB != nil {
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(targets.DB)), common(targets.PGConnURL)...))
		names = append(names, "postgresql")
	}

	// Path самого JWKS URL подтверждает доступность ключей подписи
	jwksPath := "/"
	if parsed, err := url.Parse(targets.JWKSURL); err == nil && parsed.Path != "" {
		jwksPath = parsed.Path
	}
	jwksOpts := append(common(targets.JWKSURL), dephealth.WithHTTPHealthPath(jwksPath))
	if strings.HasPrefix(targets.JWKSURL, "https") {
		jwksOpts = append(jwksOpts, dephealth.WithHTTPTLSSkipVerify(false))
	}
	opts = append(opts, dephealth.HTTP("jwks", jwksOpts...))
	names = append(names, "jwks")

	if targets.DriveURL != "" {
		opts = append(opts, dephealth.HTTP("google-drive",
			append(common(targets.DriveURL), dephealth.WithHTTPHealthPath(driveHealthPath))...))
		names = append(names, "google-drive")
	}

	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		names:  names,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен",
		slog.String("dependencies", strings.Join(ds.names, ",")),
	)
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — "имя:host:port", значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
