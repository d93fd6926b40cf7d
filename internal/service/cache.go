// cache.go — LRU-кэш метаданных файлов с TTL.
// Записи неизменяемы, поэтому кэш не инвалидируется.
package service

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/tanishkagupta2207/p2p-fileShare-Backend/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш метаданных.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша метаданных.",
	})
)

// CacheService — LRU-кэш FileRecord по FileID.
// При maxSize == 0 кэш отключён, каждый запрос идёт в хранилище.
type CacheService struct {
	cache *expirable.LRU[string, *model.FileRecord]
	group singleflight.Group
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	c := &CacheService{}
	if maxSize > 0 {
		c.cache = expirable.NewLRU[string, *model.FileRecord](maxSize, nil, ttl)
	}
	return c
}

// Get возвращает FileRecord из кэша по fileID.
func (c *CacheService) Get(fileID string) (*model.FileRecord, bool) {
	if c.cache == nil {
		cacheMissesTotal.Inc()
		return nil, false
	}
	val, ok := c.cache.Get(fileID)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет запись в кэш.
func (c *CacheService) Set(fileID string, record *model.FileRecord) {
	if c.cache == nil {
		return
	}
	c.cache.Add(fileID, record)
}

// Len возвращает число записей в кэше.
func (c *CacheService) Len() int {
	if c.cache == nil {
		return 0
	}
	return c.cache.Len()
}

// GetOrLoad возвращает запись из кэша, а при промахе загружает её через load.
// Одновременные промахи по одному fileID выполняют load один раз.
// Загрузка не наследует отмену запроса-инициатора: отключение первого
// клиента не должно ронять ожидающих того же fileID. Каждый вызывающий
// прекращает ожидание по своему ctx.
func (c *CacheService) GetOrLoad(
	ctx context.Context,
	fileID string,
	load func(ctx context.Context, fileID string) (*model.FileRecord, error),
) (*model.FileRecord, error) {
	if rec, ok := c.Get(fileID); ok {
		return rec, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(fileID, func() (any, error) {
		rec, err := load(loadCtx, fileID)
		if err != nil {
			return nil, err
		}
		c.Set(fileID, rec)
		return rec, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.FileRecord), nil
	}
}
