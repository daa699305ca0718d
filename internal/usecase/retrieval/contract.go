package retrieval

import (
	"context"

	"github.com/kailas-cloud/recipedex/internal/domain"
	"github.com/kailas-cloud/recipedex/internal/repository/embcache"
)

// Catalog reads recipes. Get returns domain.ErrNotFound for unknown ids.
type Catalog interface {
	List(ctx context.Context) ([]domain.Recipe, error)
	Get(ctx context.Context, id string) (domain.Recipe, error)
}

// ItemCache resolves and maintains item embeddings.
type ItemCache interface {
	BatchGetOrCompute(ctx context.Context, items []embcache.Item, force bool) embcache.Batch
	Refresh(ctx context.Context, item embcache.Item) ([]float32, error)
	Delete(ctx context.Context, itemID string) error
	Clear(ctx context.Context) (int, error)
	CachedCount(ctx context.Context) (int, error)
}

// QueryEmbedder vectorizes query text.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// clearer is implemented by query embedders that keep their own cache.
type clearer interface {
	Clear(ctx context.Context) (int, error)
}
