// Пакет service — бизнес-логика finportal.
// CacheService — кэш собранного каталога с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/worldsun-app/finportal/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fp_catalog_cache_hits_total",
		Help: "Общее количество попаданий в кэш каталога.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fp_catalog_cache_misses_total",
		Help: "Общее количество промахов кэша каталога.",
	})
)

// catalogKey — ключ каталога в кэше (представление таблицы файлов).
const catalogKey = "catalog"

// CacheService — in-memory кэш каталогов с автоматическим TTL.
// Каждый экземпляр сервиса держит собственную копию.
type CacheService struct {
	cache *expirable.LRU[string, model.Catalog]
}

// NewCacheService создаёт кэш на maxSize каталогов с временем жизни ttl.
// ttl <= 0 отключает истечение.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	if ttl < 0 {
		ttl = 0
	}
	return &CacheService{cache: expirable.NewLRU[string, model.Catalog](maxSize, nil, ttl)}
}

// Get возвращает каталог из кэша. Обновляет метрики hit/miss.
func (c *CacheService) Get(key string) (model.Catalog, bool) {
	val, ok := c.cache.Get(key)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет каталог.
func (c *CacheService) Set(key string, catalog model.Catalog) {
	c.cache.Add(key, catalog)
}

// Delete удаляет каталог (инвалидация при истёкших URL вложений).
func (c *CacheService) Delete(key string) {
	c.cache.Remove(key)
}
