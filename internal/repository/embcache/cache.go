package embcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/recipedex/internal/db"
	"github.com/kailas-cloud/recipedex/internal/domain"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultKeyPrefix      = "recipedex:emb:"
	DefaultChunkSize      = 32
	DefaultMaxConcurrency = 4
	DefaultWriteTimeout   = 5 * time.Second
)

// store is the consumer interface for the embedding cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Config tunes the item cache.
type Config struct {
	Model string
	// Dimensions, when positive, marks entries of any other length stale.
	Dimensions     int
	KeyPrefix      string
	ChunkSize      int
	MaxConcurrency int
	WriteTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.ChunkSize <= 0 || c.ChunkSize > DefaultChunkSize {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// Item is an embeddable catalog entry: its id and canonical document text.
type Item struct {
	ID       string
	Document string
}

// Batch is the outcome of BatchGetOrCompute. Vectors holds every item that
// ended up with a usable vector, even when some provider chunks failed.
type Batch struct {
	Vectors        map[string][]float32
	Hits           int
	Stale          int
	Computed       int
	ProviderFailed bool
	Err            error
}

// Cache maps item ids to embeddings and recomputes them when the document
// text or model changes. Vectors for a chunk are persisted as soon as that
// chunk's provider call returns.
type Cache struct {
	provider   domain.BatchEmbedder
	store      store
	cfg        Config
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
	now        func() time.Time
}

// New creates an item embedding cache.
// cacheTotal is a counter vec with labels "cache" and "result", passed explicitly.
func New(
	provider domain.BatchEmbedder,
	s store,
	cfg Config,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *Cache {
	return &Cache{
		provider:   provider,
		store:      s,
		cfg:        cfg.withDefaults(),
		cacheTotal: cacheTotal,
		logger:     logger,
		now:        time.Now,
	}
}

// Get returns the stored vector for an item regardless of freshness.
func (c *Cache) Get(ctx context.Context, itemID string) ([]float32, bool) {
	e, ok := c.Lookup(ctx, itemID)
	if !ok {
		return nil, false
	}
	return e.Vector, true
}

// Lookup returns the stored entry for an item.
func (c *Cache) Lookup(ctx context.Context, itemID string) (Entry, bool) {
	key := c.itemKey(itemID)
	data, err := getWithRetry(ctx, c.store, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.incCache("error")
			c.logger.Warn("Failed to read cached embedding", zap.String("item_id", itemID), zap.Error(err))
		}
		return Entry{}, false
	}
	e, err := decodeEntry(data)
	if err != nil {
		c.incCache("error")
		c.logger.Warn("Failed to decode cached embedding", zap.String("item_id", itemID), zap.Error(err))
		return Entry{}, false
	}
	return e, true
}

// BatchGetOrCompute returns a vector per item, reusing fresh cache entries and
// embedding the rest in chunks of at most ChunkSize texts. With force every
// item is recomputed. Duplicate ids are resolved once.
func (c *Cache) BatchGetOrCompute(ctx context.Context, items []Item, force bool) Batch {
	b := Batch{Vectors: make(map[string][]float32, len(items))}

	seen := make(map[string]bool, len(items))
	var missing []Item
	for _, it := range items {
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true

		if !force {
			e, ok := c.Lookup(ctx, it.ID)
			switch {
			case ok && e.IsFresh(it.Document, c.cfg.Model, c.cfg.Dimensions):
				c.incCache("hit")
				b.Vectors[it.ID] = e.Vector
				b.Hits++
				continue
			case ok:
				c.incCache("stale")
				b.Stale++
			default:
				c.incCache("miss")
			}
		}
		missing = append(missing, it)
	}

	if len(missing) == 0 {
		return b
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(c.cfg.MaxConcurrency)

	for start := 0; start < len(missing); start += c.cfg.ChunkSize {
		chunk := missing[start:min(start+c.cfg.ChunkSize, len(missing))]
		g.Go(func() error {
			vectors, err := c.computeChunk(ctx, chunk)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				b.ProviderFailed = true
				if b.Err == nil {
					b.Err = err
				}
				return nil
			}
			for id, v := range vectors {
				b.Vectors[id] = v
				b.Computed++
			}
			return nil
		})
	}
	_ = g.Wait() // chunk failures are recorded on b, never returned

	if b.ProviderFailed {
		c.logger.Warn("Embedding batch partially failed",
			zap.Int("requested", len(missing)),
			zap.Int("computed", b.Computed),
			zap.Error(b.Err),
		)
	}
	return b
}

// Refresh recomputes and stores the embedding for one item.
func (c *Cache) Refresh(ctx context.Context, item Item) ([]float32, error) {
	b := c.BatchGetOrCompute(ctx, []Item{item}, true)
	if b.Err != nil {
		return nil, fmt.Errorf("refresh %s: %w", item.ID, b.Err)
	}
	return b.Vectors[item.ID], nil
}

// Delete removes an item's entry. Deleting a missing entry is not an error.
func (c *Cache) Delete(ctx context.Context, itemID string) error {
	if err := c.store.Del(ctx, c.itemKey(itemID)); err != nil {
		return fmt.Errorf("%w: delete %s: %w", domain.ErrCacheIO, itemID, err)
	}
	return nil
}

// Clear removes every item entry and returns how many were removed.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	keys, err := c.store.Keys(ctx, c.itemPrefix())
	if err != nil {
		return 0, fmt.Errorf("%w: list entries: %w", domain.ErrCacheIO, err)
	}
	removed := 0
	for _, k := range keys {
		if err := c.store.Del(ctx, k); err != nil {
			return removed, fmt.Errorf("%w: delete %s: %w", domain.ErrCacheIO, k, err)
		}
		removed++
	}
	c.logger.Info("Embedding cache cleared", zap.Int("removed", removed))
	return removed, nil
}

// CachedCount returns the number of stored item entries.
func (c *Cache) CachedCount(ctx context.Context) (int, error) {
	keys, err := c.store.Keys(ctx, c.itemPrefix())
	if err != nil {
		return 0, fmt.Errorf("%w: list entries: %w", domain.ErrCacheIO, err)
	}
	return len(keys), nil
}

func (c *Cache) computeChunk(ctx context.Context, chunk []Item) (map[string][]float32, error) {
	texts := make([]string, len(chunk))
	for i, it := range chunk {
		texts[i] = it.Document
	}

	res, err := c.provider.BatchEmbed(ctx, texts)
	if err != nil {
		if !domain.IsProviderError(err) {
			err = fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
		}
		return nil, fmt.Errorf("embed chunk of %d: %w", len(chunk), err)
	}
	if err := domain.ValidateBatch(res, len(chunk)); err != nil {
		return nil, fmt.Errorf("embed chunk of %d: %w", len(chunk), err)
	}

	now := c.now().UTC()
	out := make(map[string][]float32, len(chunk))
	for i, it := range chunk {
		vec := res.Embeddings[i]
		// A failed write only costs a recompute next time; the vector is still usable now.
		_ = c.persist(ctx, Entry{
			ItemID:       it.ID,
			Vector:       vec,
			DocumentText: it.Document,
			Model:        c.cfg.Model,
			UpdatedAt:    now,
		})
		out[it.ID] = vec
	}
	return out, nil
}

// persist writes an entry with one atomic Set, retried once. The write is
// detached from ctx so a cancelled request still keeps what it already paid for.
func (c *Cache) persist(ctx context.Context, e Entry) error {
	data, err := encodeEntry(e)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.WriteTimeout)
	defer cancel()

	key := c.itemKey(e.ItemID)
	if err = c.store.Set(wctx, key, data, 0); err != nil {
		err = c.store.Set(wctx, key, data, 0)
	}
	if err != nil {
		c.incCache("error")
		c.logger.Warn("Failed to cache embedding", zap.String("item_id", e.ItemID), zap.Error(err))
		return fmt.Errorf("%w: write %s: %w", domain.ErrCacheIO, e.ItemID, err)
	}
	return nil
}

// getWithRetry reads key, retrying a failed read once. Missing keys are not retried.
func getWithRetry(ctx context.Context, s store, key string) ([]byte, error) {
	data, err := s.Get(ctx, key)
	if err == nil || errors.Is(err, db.ErrKeyNotFound) || ctx.Err() != nil {
		return data, err
	}
	data, err = s.Get(ctx, key)
	if err != nil && !errors.Is(err, db.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrCacheIO, key, err)
	}
	return data, err
}

func (c *Cache) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues("item", result).Inc()
	}
}

func (c *Cache) itemPrefix() string {
	return c.cfg.KeyPrefix + "item:"
}

func (c *Cache) itemKey(itemID string) string {
	return c.itemPrefix() + strings.TrimSpace(itemID)
}
