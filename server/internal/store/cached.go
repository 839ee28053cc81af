package store

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"

	"grape-notebook/server/internal/metrics"
)

// CachedStore 在后端存储前加一层读缓存，写入时失效对应路径。
// 缓存只服务 Get，List 始终直达后端。
type CachedStore struct {
	backend RecordStore
	cache   *cache.Cache
	metrics *metrics.Metrics
}

// NewCachedStore ttl 为 0 时使用 30 分钟。
func NewCachedStore(backend RecordStore, ttl time.Duration, m *metrics.Metrics) *CachedStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &CachedStore{
		backend: backend,
		cache:   cache.New(ttl, 10*time.Minute),
		metrics: m,
	}
}

// Get 命中缓存时返回副本。
func (s *CachedStore) Get(ctx context.Context, key Key) (Fields, error) {
	path := key.String()
	if v, ok := s.cache.Get(path); ok {
		return normalize(v.(Fields))
	}

	f, err := s.backend.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.metrics.StoreOp("get", err)
		return nil, err
	}
	s.metrics.StoreOp("get", nil)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(path, f)
	return normalize(f)
}

// Put 写后端成功后删除缓存项。
func (s *CachedStore) Put(ctx context.Context, key Key, fields Fields, merge bool) error {
	err := s.backend.Put(ctx, key, fields, merge)
	s.metrics.StoreOp("put", err)
	if err != nil {
		return err
	}
	s.cache.Delete(key.String())
	return nil
}

// List 直达后端。
func (s *CachedStore) List(ctx context.Context, q Query) ([]Document, error) {
	docs, err := s.backend.List(ctx, q)
	s.metrics.StoreOp("list", err)
	return docs, err
}
