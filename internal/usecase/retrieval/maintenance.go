package retrieval

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recipedex/internal/document"
	"github.com/kailas-cloud/recipedex/internal/repository/embcache"
)

// ErrEmbeddingsDisabled is returned by index maintenance when the service has no embedding cache.
var ErrEmbeddingsDisabled = errors.New("embeddings are disabled")

// IndexReport summarizes a BuildIndex run.
type IndexReport struct {
	Items          int
	Hits           int
	Stale          int
	Computed       int
	ProviderFailed bool
}

// BuildIndex embeds every catalog recipe that has no fresh cache entry, or
// every recipe with force. Vectors computed before a provider failure stay
// cached; the failure is returned alongside the report.
func (s *Service) BuildIndex(ctx context.Context, force bool) (IndexReport, error) {
	if !s.EmbeddingsEnabled() {
		return IndexReport{}, ErrEmbeddingsDisabled
	}
	recipes, err := s.catalog.List(ctx)
	if err != nil {
		return IndexReport{}, fmt.Errorf("list catalog: %w", err)
	}

	items := make([]embcache.Item, len(recipes))
	for i, r := range recipes {
		items[i] = embcache.Item{ID: r.ID, Document: document.Build(r)}
	}
	batch := s.items.BatchGetOrCompute(ctx, items, force)

	report := IndexReport{
		Items:          len(items),
		Hits:           batch.Hits,
		Stale:          batch.Stale,
		Computed:       batch.Computed,
		ProviderFailed: batch.ProviderFailed,
	}
	s.logger.Info("Index build finished",
		zap.Int("items", report.Items),
		zap.Int("hits", report.Hits),
		zap.Int("stale", report.Stale),
		zap.Int("computed", report.Computed),
		zap.Bool("provider_failed", report.ProviderFailed),
	)
	if batch.ProviderFailed {
		return report, fmt.Errorf("build index: %w", batch.Err)
	}
	return report, nil
}

// Refresh recomputes the embedding of one recipe from its current catalog state.
func (s *Service) Refresh(ctx context.Context, id string) error {
	if !s.EmbeddingsEnabled() {
		return ErrEmbeddingsDisabled
	}
	r, err := s.catalog.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get recipe %s: %w", id, err)
	}
	if _, err := s.items.Refresh(ctx, embcache.Item{ID: r.ID, Document: document.Build(r)}); err != nil {
		return err
	}
	return nil
}

// Forget drops the cached embedding of a recipe removed from the catalog.
func (s *Service) Forget(ctx context.Context, id string) error {
	if !s.EmbeddingsEnabled() {
		return ErrEmbeddingsDisabled
	}
	return s.items.Delete(ctx, id)
}

// ClearIndex removes every item embedding and any cached query vectors.
// It returns the number of item entries removed.
func (s *Service) ClearIndex(ctx context.Context) (int, error) {
	if !s.EmbeddingsEnabled() {
		return 0, ErrEmbeddingsDisabled
	}
	removed, err := s.items.Clear(ctx)
	if err != nil {
		return removed, err
	}
	if qc, ok := s.queries.(clearer); ok {
		if _, err := qc.Clear(ctx); err != nil {
			return removed, fmt.Errorf("clear query cache: %w", err)
		}
	}
	return removed, nil
}

// CachedCount returns the number of cached item embeddings.
func (s *Service) CachedCount(ctx context.Context) (int, error) {
	if !s.EmbeddingsEnabled() {
		return 0, ErrEmbeddingsDisabled
	}
	return s.items.CachedCount(ctx)
}
