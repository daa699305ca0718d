// Package retrieval ranks catalog recipes against a query. It filters by
// preferences and hard constraints, resolves embeddings, scores and ranks.
// When embeddings cannot be resolved it ranks by keyword overlap instead.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recipedex/internal/document"
	"github.com/kailas-cloud/recipedex/internal/domain"
	"github.com/kailas-cloud/recipedex/internal/domain/query"
	logpkg "github.com/kailas-cloud/recipedex/internal/logger"
	"github.com/kailas-cloud/recipedex/internal/metrics"
	"github.com/kailas-cloud/recipedex/internal/repository/embcache"
	"github.com/kailas-cloud/recipedex/internal/textnorm"
	"github.com/kailas-cloud/recipedex/internal/usecase/scoring"
)

// Defaults applied to a zero Config.
const (
	DefaultTopK           = 5
	DefaultMaxTopK        = 50
	DefaultRequestTimeout = 20 * time.Second
)

// Config tunes the service.
type Config struct {
	Weights        scoring.Weights
	DefaultTopK    int
	MaxTopK        int
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = DefaultTopK
	}
	if c.MaxTopK <= 0 {
		c.MaxTopK = DefaultMaxTopK
	}
	if c.DefaultTopK > c.MaxTopK {
		c.DefaultTopK = c.MaxTopK
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// Request is a raw retrieval request. It is validated into a query.Query.
type Request struct {
	Message     string
	Constraints map[string]any
	Preferences map[string]bool
	Cuisines    []string
	// RequiredIngredients must all appear among a recipe's ingredient names.
	RequiredIngredients []string
	Servings            int
	TopK                int
	// Weights override the configured weights when non-nil.
	Weights *scoring.Weights
}

// Result is one ranked recipe.
type Result struct {
	Recipe     domain.Recipe
	Score      float64
	Components scoring.Components
	Satisfied  []query.Kind
}

// Stats describe how candidates flowed through the pipeline.
type Stats struct {
	CandidatesTotal int
	CandidatesKept  int
	Rejected        map[scoring.Reason]int
	CacheHits       int
	Computed        int
	DegradedReason  DegradeReason
	NegativeTerms   []string
	Duration        time.Duration
}

// Response is the ranked result of a request. Results is never nil.
type Response struct {
	Results        []Result
	UsedEmbeddings bool
	Notes          []string
	Stats          Stats
}

// Service orchestrates retrieval and index maintenance.
type Service struct {
	catalog Catalog
	items   ItemCache
	queries QueryEmbedder
	cfg     Config
	logger  *zap.Logger
}

// New creates a retrieval service. items and queries may be nil, which
// disables embeddings: every request is ranked by keyword overlap.
func New(catalog Catalog, items ItemCache, queries QueryEmbedder, cfg Config, logger *zap.Logger) (*Service, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("retrieval config: %w", err)
	}
	return &Service{catalog: catalog, items: items, queries: queries, cfg: cfg, logger: logger}, nil
}

// EmbeddingsEnabled reports whether the service was built with an embedding cache.
func (s *Service) EmbeddingsEnabled() bool {
	return s.items != nil && s.queries != nil
}

// Retrieve runs the pipeline for one request. Only an invalid request or an
// unreadable catalog produce an error; provider failures degrade the ranking
// and empty results come back with notes.
func (s *Service) Retrieve(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	log := logpkg.FromContextOr(ctx, s.logger)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	q, weights, topK, err := s.buildQuery(req)
	if err != nil {
		return Response{}, err
	}

	recipes, err := s.catalog.List(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("list catalog: %w", err)
	}

	resp := Response{Results: []Result{}}
	resp.Stats.CandidatesTotal = len(recipes)
	resp.Stats.NegativeTerms = textnorm.NegativeTerms(q.Message())

	kept, rejected := s.filter(recipes, q, resp.Stats.NegativeTerms)
	resp.Stats.CandidatesKept = len(kept)
	resp.Stats.Rejected = countReasons(rejected)
	metrics.RetrievalCandidates.WithLabelValues("total").Observe(float64(len(recipes)))
	metrics.RetrievalCandidates.WithLabelValues("kept").Observe(float64(len(kept)))

	if len(resp.Stats.NegativeTerms) > 0 {
		resp.Notes = append(resp.Notes, excludedTermsNote(resp.Stats.NegativeTerms))
	}
	if len(kept) == 0 {
		resp.Notes = append(resp.Notes, noCandidatesNotes(len(recipes), resp.Stats.Rejected, q)...)
		return s.finish(log, resp, "empty", start), nil
	}

	inputs := make([]scoring.Input, len(kept))
	for i, r := range kept {
		inputs[i] = scoring.Input{Recipe: r, Document: document.Build(r)}
	}

	outcome := s.resolveEmbeddings(ctx, document.BuildQuery(q), inputs, &resp.Stats)

	tokens := queryTokens(q.Message(), resp.Stats.NegativeTerms)
	var scored []scoring.Candidate
	if outcome.IsResolved() {
		qv, vectors := outcome.Vectors()
		scored = scoring.ScoreBatch(inputs, qv, vectors, tokens, q.Constraints(), weights)
		resp.UsedEmbeddings = true
	} else {
		scored = scoring.ScoreBatch(inputs, nil, nil, tokens, q.Constraints(), weights)
		resp.Stats.DegradedReason = outcome.Reason()
		resp.Notes = append(resp.Notes, degradedNote(outcome.Reason()))
		metrics.RetrievalDegradedTotal.WithLabelValues(string(outcome.Reason())).Inc()
		log.Warn("Retrieval degraded to keyword ranking",
			zap.String("reason", string(outcome.Reason())),
			zap.Int("candidates", len(inputs)),
			zap.Error(outcome.Err()),
		)
	}

	if dropped := len(inputs) - len(scored); dropped > 0 {
		resp.Notes = append(resp.Notes, fmt.Sprintf(
			"%d recipes lack the nutrition data needed to score %s", dropped, constraintList(q.Constraints())))
	}

	for _, c := range scoring.Rerank(scored, topK) {
		resp.Results = append(resp.Results, Result{
			Recipe:     c.Recipe,
			Score:      c.Final,
			Components: c.Components,
			Satisfied:  c.Satisfied,
		})
	}

	if len(resp.Results) == 0 {
		resp.Notes = append(resp.Notes, "no recipe could be ranked for this request")
		return s.finish(log, resp, "empty", start), nil
	}
	if q.Message() == "" {
		resp.Notes = append(resp.Notes, "empty message: ranked by nutrition fit and recipe id")
	}

	mode := "semantic"
	if !resp.UsedEmbeddings {
		mode = "keyword"
	}
	return s.finish(log, resp, mode, start), nil
}

func (s *Service) buildQuery(req Request) (query.Query, scoring.Weights, int, error) {
	prefs, err := query.NewPreferences(req.Preferences, req.Cuisines, req.RequiredIngredients)
	if err != nil {
		return query.Query{}, scoring.Weights{}, 0, fmt.Errorf("preferences: %w", err)
	}
	cs, err := query.ParseConstraints(req.Constraints)
	if err != nil {
		return query.Query{}, scoring.Weights{}, 0, fmt.Errorf("constraints: %w", err)
	}
	q, err := query.New(req.Message, prefs, cs, req.Servings)
	if err != nil {
		return query.Query{}, scoring.Weights{}, 0, err
	}

	weights := s.cfg.Weights
	if req.Weights != nil && !req.Weights.IsZero() {
		if err := req.Weights.Validate(); err != nil {
			return query.Query{}, scoring.Weights{}, 0, fmt.Errorf("%w: %w", domain.ErrInvalidConstraint, err)
		}
		weights = *req.Weights
	}

	topK := req.TopK
	switch {
	case topK < 0:
		return query.Query{}, scoring.Weights{}, 0, fmt.Errorf("%w: top_k must not be negative", domain.ErrInvalidConstraint)
	case topK == 0:
		topK = s.cfg.DefaultTopK
	case topK > s.cfg.MaxTopK:
		topK = s.cfg.MaxTopK
	}
	return q, weights, topK, nil
}

// filter applies preferences before hard constraints so rejection reasons
// name the first gate a recipe failed.
func (s *Service) filter(
	recipes []domain.Recipe, q query.Query, negativeTerms []string,
) ([]domain.Recipe, []scoring.Rejection) {
	kept, rejected := scoring.FilterByPreferences(recipes, q.Preferences(), negativeTerms)
	kept, byConstraint := scoring.FilterByConstraints(kept, q.Constraints())
	return kept, append(rejected, byConstraint...)
}

// resolveEmbeddings embeds the query first and only then the items, so a
// provider that is down costs one call.
func (s *Service) resolveEmbeddings(
	ctx context.Context, queryText string, inputs []scoring.Input, stats *Stats,
) Outcome {
	if !s.EmbeddingsEnabled() {
		return Unavailable(ReasonDisabled, nil)
	}
	if queryText == "" {
		return Unavailable(ReasonEmptyQuery, nil)
	}

	qv, err := s.queries.Embed(ctx, queryText)
	if err != nil {
		return Unavailable(reasonFor(err), err)
	}

	items := make([]embcache.Item, len(inputs))
	for i, in := range inputs {
		items[i] = embcache.Item{ID: in.Recipe.ID, Document: in.Document}
	}
	batch := s.items.BatchGetOrCompute(ctx, items, false)
	stats.CacheHits = batch.Hits
	stats.Computed = batch.Computed
	if batch.ProviderFailed {
		return Unavailable(reasonFor(batch.Err), batch.Err)
	}

	// Entries of another length were computed under an earlier provider
	// setup; recompute them once before giving up on semantic ranking.
	var mismatched []embcache.Item
	for _, it := range items {
		if v, ok := batch.Vectors[it.ID]; ok && len(v) != len(qv) {
			mismatched = append(mismatched, it)
		}
	}
	if len(mismatched) > 0 {
		logpkg.FromContextOr(ctx, s.logger).Warn("Recomputing embeddings with mismatched dimensions",
			zap.Int("items", len(mismatched)),
			zap.Int("query_dimensions", len(qv)),
		)
		redo := s.items.BatchGetOrCompute(ctx, mismatched, true)
		stats.Computed += redo.Computed
		if redo.ProviderFailed {
			return Unavailable(reasonFor(redo.Err), redo.Err)
		}
		for id, v := range redo.Vectors {
			batch.Vectors[id] = v
		}
	}

	for _, it := range items {
		v, ok := batch.Vectors[it.ID]
		if !ok || len(v) != len(qv) {
			return Unavailable(ReasonDimensionMismatch, fmt.Errorf(
				"%w: item %s has %d dimensions, query has %d",
				domain.ErrProviderMalformedResponse, it.ID, len(v), len(qv)))
		}
	}
	return Resolved(qv, batch.Vectors)
}

func (s *Service) finish(log *zap.Logger, resp Response, mode string, start time.Time) Response {
	resp.Stats.Duration = time.Since(start)
	metrics.RetrievalRequestsTotal.WithLabelValues(mode).Inc()
	metrics.RetrievalDuration.Observe(resp.Stats.Duration.Seconds())

	log.Info("Retrieval completed",
		zap.String("mode", mode),
		zap.Int("results", len(resp.Results)),
		zap.Int("candidates_total", resp.Stats.CandidatesTotal),
		zap.Int("candidates_kept", resp.Stats.CandidatesKept),
		zap.Int("cache_hits", resp.Stats.CacheHits),
		zap.Int("computed", resp.Stats.Computed),
		zap.Duration("duration", resp.Stats.Duration),
	)
	return resp
}

// queryTokens drops negation markers and the terms they exclude, so
// "no mango" does not reward mango recipes.
func queryTokens(message string, negativeTerms []string) []string {
	excluded := make(map[string]bool, len(negativeTerms))
	for _, t := range negativeTerms {
		excluded[t] = true
	}
	var out []string
	for _, t := range textnorm.Tokenize(message) {
		if textnorm.IsNegationMarker(t) || excluded[t] {
			continue
		}
		out = append(out, t)
	}
	return out
}

func countReasons(rejected []scoring.Rejection) map[scoring.Reason]int {
	counts := make(map[scoring.Reason]int)
	for _, r := range rejected {
		counts[r.Reason]++
	}
	return counts
}
