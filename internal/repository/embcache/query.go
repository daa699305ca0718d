package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/recipedex/internal/db"
	"github.com/kailas-cloud/recipedex/internal/domain"
)

// DefaultQueryTTL bounds how long a query embedding is reused.
const DefaultQueryTTL = time.Hour

// QueryConfig tunes the query embedding cache.
type QueryConfig struct {
	Model     string
	KeyPrefix string
	TTL       time.Duration
}

// QueryCache caches query embeddings keyed by a hash of model and text.
type QueryCache struct {
	provider   domain.BatchEmbedder
	store      store
	cfg        QueryConfig
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// NewQueryCache creates a query embedding cache.
// cacheTotal is a counter vec with labels "cache" and "result", passed explicitly.
func NewQueryCache(
	provider domain.BatchEmbedder,
	s store,
	cfg QueryConfig,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *QueryCache {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultQueryTTL
	}
	return &QueryCache{
		provider:   provider,
		store:      s,
		cfg:        cfg,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// Embed returns a cached query vector or asks the provider for one.
// Provider failures come back as provider-family errors.
func (q *QueryCache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := q.cacheKey(text)

	if vec, ok := q.getFromCache(ctx, key); ok {
		q.incCache("hit")
		return vec, nil
	}
	q.incCache("miss")

	res, err := q.provider.BatchEmbed(ctx, []string{text})
	if err != nil {
		if !domain.IsProviderError(err) {
			err = fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
		}
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if err := domain.ValidateBatch(res, 1); err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	vec := res.Embeddings[0]
	q.putToCache(ctx, key, vec)
	return vec, nil
}

// Clear removes every cached query vector and returns how many were removed.
func (q *QueryCache) Clear(ctx context.Context) (int, error) {
	keys, err := q.store.Keys(ctx, q.prefix())
	if err != nil {
		return 0, fmt.Errorf("%w: list query entries: %w", domain.ErrCacheIO, err)
	}
	for i, k := range keys {
		if err := q.store.Del(ctx, k); err != nil {
			return i, fmt.Errorf("%w: delete %s: %w", domain.ErrCacheIO, k, err)
		}
	}
	return len(keys), nil
}

func (q *QueryCache) incCache(result string) {
	if q.cacheTotal != nil {
		q.cacheTotal.WithLabelValues("query", result).Inc()
	}
}

func (q *QueryCache) prefix() string {
	return q.cfg.KeyPrefix + "query:"
}

func (q *QueryCache) cacheKey(text string) string {
	h := sha256.Sum256([]byte(q.cfg.Model + "\x00" + text))
	return q.prefix() + hex.EncodeToString(h[:])
}

func (q *QueryCache) getFromCache(ctx context.Context, key string) ([]float32, bool) {
	data, err := getWithRetry(ctx, q.store, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			q.incCache("error")
			q.logger.Warn("Failed to get cached query embedding", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	vec, err := bytesToVector(data)
	if err != nil {
		q.logger.Warn("Failed to parse cached query embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return vec, true
}

func (q *QueryCache) putToCache(ctx context.Context, key string, vec []float32) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultWriteTimeout)
	defer cancel()

	if err := q.store.Set(wctx, key, vectorToCacheBytes(vec), q.cfg.TTL); err != nil {
		q.logger.Warn("Failed to cache query embedding", zap.String("key", key), zap.Error(err))
	}
}
