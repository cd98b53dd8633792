package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"soulspot/internal/constants"
	"soulspot/internal/domain"
	"soulspot/internal/store"
)

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// CachedSource caches record and search lookups. Listing pages pass through
// uncached so sync always sees the upstream's current state.
type CachedSource struct {
	source Source
	cache  Cache
	ttl    time.Duration
}

func NewCachedSource(source Source, cache Cache, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = constants.DefaultCacheTTL
	}
	return &CachedSource{
		source: source,
		cache:  cache,
		ttl:    ttl,
	}
}

func (c *CachedSource) Name() string {
	return c.source.Name()
}

func (c *CachedSource) FetchEntities(ctx context.Context, kind domain.EntityKind, cursor string) (*Page, error) {
	return c.source.FetchEntities(ctx, kind, cursor)
}

func (c *CachedSource) GetRecord(ctx context.Context, kind domain.EntityKind, externalID string) (*domain.Record, error) {
	cacheKey := fmt.Sprintf("%s:record:%s:%s", c.source.Name(), kind, externalID)

	data, err := c.cache.Get(ctx, cacheKey)
	if err != nil {
		return nil, err
	}
	if data != nil {
		var record domain.Record
		if err := json.Unmarshal(data, &record); err == nil {
			return &record, nil
		}
	}

	record, err := c.source.GetRecord(ctx, kind, externalID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(record); err == nil {
		_ = c.cache.Set(ctx, cacheKey, data, c.ttl)
	}

	return record, nil
}

func (c *CachedSource) Search(ctx context.Context, kind domain.EntityKind, query string) ([]domain.Record, error) {
	cacheKey := fmt.Sprintf("%s:search:%s:%s", c.source.Name(), kind, query)

	data, err := c.cache.Get(ctx, cacheKey)
	if err != nil {
		return nil, err
	}
	if data != nil {
		var records []domain.Record
		if err := json.Unmarshal(data, &records); err == nil {
			return records, nil
		}
	}

	records, err := c.source.Search(ctx, kind, query)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(records); err == nil {
		_ = c.cache.Set(ctx, cacheKey, data, c.ttl)
	}

	return records, nil
}

var _ Source = (*CachedSource)(nil)

type storeCache struct {
	db  *store.DB
	now func() time.Time
}

// NewStoreCache adapts the store's cache table to the Cache interface.
func NewStoreCache(db *store.DB) Cache {
	return &storeCache{db: db, now: time.Now}
}

func (s *storeCache) Get(ctx context.Context, key string) ([]byte, error) {
	return s.db.GetCache(ctx, key, s.now().UTC())
}

func (s *storeCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return s.db.SetCache(ctx, key, data, ttl, s.now().UTC())
}

var _ Cache = (*storeCache)(nil)
