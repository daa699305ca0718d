package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recipedex/internal/config"
	"github.com/kailas-cloud/recipedex/internal/db"
	dbBadger "github.com/kailas-cloud/recipedex/internal/db/badger"
	dbRedis "github.com/kailas-cloud/recipedex/internal/db/redis"
	dbSQLite "github.com/kailas-cloud/recipedex/internal/db/sqlite"
	"github.com/kailas-cloud/recipedex/internal/domain"
	"github.com/kailas-cloud/recipedex/internal/metrics"
	budgetrepo "github.com/kailas-cloud/recipedex/internal/repository/budget"
	"github.com/kailas-cloud/recipedex/internal/repository/catalog"
	"github.com/kailas-cloud/recipedex/internal/repository/embcache"
	"github.com/kailas-cloud/recipedex/internal/transport/embedsvc"
	openaiEmb "github.com/kailas-cloud/recipedex/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/recipedex/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/recipedex/internal/usecase/health"
	"github.com/kailas-cloud/recipedex/internal/usecase/retrieval"
)

type catalogStore interface {
	retrieval.Catalog
	Ping(ctx context.Context) error
}

type expiryPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// components is the composition root shared by every command.
type components struct {
	retrieval *retrieval.Service
	health    *healthuc.Service
	// purger is set when the cache store needs expired rows removed.
	purger  expiryPurger
	closers []func() error
}

func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}

func wire(ctx context.Context, cfg config.Config, logger *zap.Logger) (*components, error) {
	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterRetrievalMetrics()

	c := &components{}

	cat, err := openCatalog(cfg.Catalog, logger)
	if err != nil {
		return nil, err
	}
	if closer, ok := cat.(interface{ Close() error }); ok {
		c.closers = append(c.closers, closer.Close)
	}

	// Pass nil interfaces (not typed nil pointers) when embeddings are off:
	// the service and health checks test them against nil.
	var (
		items     retrieval.ItemCache
		queries   retrieval.QueryEmbedder
		cachePing healthuc.Pinger
		embCheck  healthuc.EmbeddingChecker
	)

	if cfg.Embedding.Enabled() {
		store, err := openStore(ctx, cfg.Cache, logger)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.closers = append(c.closers, store.Close)
		if p, ok := store.(expiryPurger); ok {
			c.purger = p
		}

		model := cfg.Embedding.Model
		if model == "" {
			model = cfg.Embedding.Provider
		}
		guard := embeddinguc.NewInstrumentedEmbedder(
			buildProvider(cfg.Embedding, model, logger),
			cfg.Embedding.Provider, model, cfg.Embedding.Timeout(), logger,
		)
		if b := cfg.Embedding.Budget; b.Enabled() {
			tracker := embeddinguc.NewBudgetTracker(
				cfg.Embedding.Provider, b.DailyTokenLimit, b.MonthlyTokenLimit,
				embeddinguc.BudgetAction(b.Action), logger,
			).WithStore(ctx, budgetrepo.New(store, 48*time.Hour, 62*24*time.Hour), cfg.Cache.KeyPrefix)
			guard.WithBudget(tracker)
		}

		// Vectors are keyed by model and requested size together.
		cacheModel := embcache.ModelID(model, cfg.Embedding.Dimensions)
		itemCache := embcache.New(guard, store, embcache.Config{
			Model:          cacheModel,
			Dimensions:     cfg.Embedding.Dimensions,
			KeyPrefix:      cfg.Cache.KeyPrefix,
			ChunkSize:      cfg.Embedding.ChunkSize,
			MaxConcurrency: cfg.Embedding.MaxConcurrency,
		}, metrics.EmbeddingCacheTotal, logger)
		queryCache := embcache.NewQueryCache(guard, store, embcache.QueryConfig{
			Model:     cacheModel,
			KeyPrefix: cfg.Cache.KeyPrefix,
			TTL:       cfg.Cache.QueryTTL(),
		}, metrics.EmbeddingCacheTotal, logger)

		items, queries = itemCache, queryCache
		cachePing, embCheck = store, guard

		logger.Info("Embeddings enabled",
			zap.String("provider", cfg.Embedding.Provider),
			zap.String("model", model),
			zap.String("cache_driver", cfg.Cache.Driver),
		)
	} else {
		logger.Info("Embeddings disabled; ranking by keyword overlap")
	}

	svc, err := retrieval.New(cat, items, queries, retrieval.Config{
		Weights:        cfg.Retrieval.Weights,
		DefaultTopK:    cfg.Retrieval.DefaultTopK,
		MaxTopK:        cfg.Retrieval.MaxTopK,
		RequestTimeout: cfg.Retrieval.RequestTimeout(),
	}, logger)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	c.retrieval = svc
	c.health = healthuc.New(cat, cachePing, embCheck, logger)
	return c, nil
}

func openCatalog(cfg config.CatalogConfig, logger *zap.Logger) (catalogStore, error) {
	switch cfg.Driver {
	case "yaml":
		m, err := catalog.LoadYAML(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open catalog: %w", err)
		}
		logger.Info("Catalog loaded", zap.String("path", cfg.Path), zap.Int("recipes", m.Len()))
		return m, nil
	case "sqlite":
		s, err := catalog.OpenSQLite(catalog.SQLiteConfig{Path: cfg.Path, Limit: cfg.Limit})
		if err != nil {
			return nil, fmt.Errorf("open catalog: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown catalog driver %q", cfg.Driver)
	}
}

func openStore(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (db.Store, error) {
	switch cfg.Driver {
	case "redis", "valkey":
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Addrs,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("create cache store: %w", err)
		}
		if err := s.WaitForReady(ctx, time.Duration(cfg.ReadinessTimeout)*time.Second); err != nil {
			s.Close()
			return nil, fmt.Errorf("cache store not ready: %w", err)
		}
		return s, nil
	case "sqlite":
		s, err := dbSQLite.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open cache store: %w", err)
		}
		return s, nil
	case "badger":
		s, err := dbBadger.Open(cfg.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open cache store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

func buildProvider(cfg config.EmbeddingConfig, model string, logger *zap.Logger) domain.BatchEmbedder {
	if cfg.Provider == "embedsvc" {
		return embedsvc.New(embedsvc.Config{
			BaseURL:  cfg.BaseURL,
			Model:    model,
			Provider: cfg.Provider,
			Logger:   logger,
		})
	}
	// Base provider (with transport metrics built-in)
	return openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      model,
		Dimensions: cfg.Dimensions,
		Provider:   cfg.Provider,
		Logger:     logger,
	})
}
