// Пакет database — PostgreSQL как хранилище метаданных fileshare:
// пул pgxpool, схема files/owners (golang-migrate), gauge состояния пула
// и проверка готовности для /health/ready.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// applicationName видна в pg_stat_activity.
const applicationName = "fileshare"

// pingTimeout — лимит ping базы метаданных при проверке готовности.
const pingTimeout = 3 * time.Second

// Connect открывает пул к базе метаданных и проверяет её доступность.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	logger = logger.With(slog.String("component", "metadata_db"))

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("разбор DSN базы метаданных: %w", err)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("создание пула базы метаданных: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("база метаданных %s недоступна: %w", cfg.DatabaseURL(), err)
	}

	logger.Info("База метаданных подключена",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
	)

	return pool, nil
}

// Migrate доводит схему files/owners до последней встроенной версии.
// Схема в состоянии dirty не чинится автоматически: нужен ручной force.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	logger = logger.With(slog.String("component", "metadata_db"))

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("чтение встроенных миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.MigrateURL())
	if err != nil {
		return fmt.Errorf("инициализация миграций схемы метаданных: %w", err)
	}
	defer m.Close()

	from, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("чтение версии схемы метаданных: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return fmt.Errorf("схема метаданных в состоянии dirty на версии %d: %w", dirty.Version, err)
		}
		return fmt.Errorf("применение миграций схемы метаданных: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("Схема метаданных актуальна",
		slog.Uint64("from_version", uint64(from)),
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)

	return nil
}

// PoolStats — снимок состояния пула подключений к базе метаданных.
type PoolStats struct {
	Acquired int32
	Idle     int32
	Total    int32
	Max      int32
}

// PoolStatsOf снимает PoolStats с *pgxpool.Pool.
func PoolStatsOf(pool *pgxpool.Pool) func() PoolStats {
	return func() PoolStats {
		s := pool.Stat()
		return PoolStats{
			Acquired: s.AcquiredConns(),
			Idle:     s.IdleConns(),
			Total:    s.TotalConns(),
			Max:      s.MaxConns(),
		}
	}
}

// RegisterPoolMetrics публикует состояние пула как gauge fs_metadata_db_*.
// Значения снимаются в момент сбора метрик.
func RegisterPoolMetrics(reg prometheus.Registerer, stats func() PoolStats) error {
	gauges := []struct {
		name  string
		help  string
		value func(PoolStats) int32
	}{
		{"fs_metadata_db_acquired_conns", "Подключения к базе метаданных, занятые запросами.", func(s PoolStats) int32 { return s.Acquired }},
		{"fs_metadata_db_idle_conns", "Свободные подключения к базе метаданных.", func(s PoolStats) int32 { return s.Idle }},
		{"fs_metadata_db_total_conns", "Все открытые подключения к базе метаданных.", func(s PoolStats) int32 { return s.Total }},
		{"fs_metadata_db_max_conns", "Лимит подключений пула базы метаданных.", func(s PoolStats) int32 { return s.Max }},
	}
	for _, g := range gauges {
		value := g.value
		collector := prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(value(stats())) },
		)
		if err := reg.Register(collector); err != nil {
			return fmt.Errorf("регистрация %s: %w", g.name, err)
		}
	}
	return nil
}

// pinger — часть *pgxpool.Pool, нужная для проверки готовности.
type pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessChecker — компонент metadata для /health/ready.
type ReadinessChecker struct {
	pool pinger
}

// NewReadinessChecker создаёт проверку готовности базы метаданных.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// CheckReady пингует базу метаданных с ограничением pingTimeout.
func (c *ReadinessChecker) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := c.pool.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("база метаданных PostgreSQL недоступна: %v", err)
	}
	return "ok", "база метаданных PostgreSQL доступна"
}
