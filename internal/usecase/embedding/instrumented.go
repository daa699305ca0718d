package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recipedex/internal/domain"
	"github.com/kailas-cloud/recipedex/internal/metrics"
)

// DefaultCallTimeout bounds a single provider call when none is configured.
const DefaultCallTimeout = 10 * time.Second

// InstrumentedEmbedder guards a provider: per-call timeout, response
// validation, error classification into the provider error family, usage
// accounting and logging. Transport metrics (requests, duration, tokens) are
// recorded by the transports; this layer owns error-type metrics.
type InstrumentedEmbedder struct {
	inner    domain.BatchEmbedder
	provider string
	model    string
	timeout  time.Duration
	budget   *BudgetTracker
	logger   *zap.Logger
}

// NewInstrumentedEmbedder wraps a provider with a timeout and observability.
func NewInstrumentedEmbedder(
	inner domain.BatchEmbedder, provider, model string,
	timeout time.Duration, logger *zap.Logger,
) *InstrumentedEmbedder {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &InstrumentedEmbedder{
		inner:    inner,
		provider: provider,
		model:    model,
		timeout:  timeout,
		logger:   logger,
	}
}

// WithBudget caps provider tokens. A rejected call fails with
// domain.ErrProviderUnavailable wrapping domain.ErrBudgetExceeded.
func (p *InstrumentedEmbedder) WithBudget(b *BudgetTracker) *InstrumentedEmbedder {
	p.budget = b
	return p
}

// BatchEmbed delegates to the provider under a per-call deadline and
// validates the answer. Every failure is one of domain.ErrProviderTimeout,
// domain.ErrProviderMalformedResponse or domain.ErrProviderUnavailable.
func (p *InstrumentedEmbedder) BatchEmbed(
	ctx context.Context, texts []string,
) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	if p.budget != nil {
		if err := p.budget.Check(ctx); err != nil {
			metrics.EmbeddingErrorsTotal.WithLabelValues(p.provider, p.model, "budget").Inc()
			p.logger.Warn("Embedding request refused by token budget",
				zap.String("provider", p.provider),
				zap.Int("batch_size", len(texts)),
			)
			return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w: %w", domain.ErrProviderUnavailable, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	result, err := p.inner.BatchEmbed(callCtx, texts)
	duration := time.Since(start)

	if err == nil {
		err = domain.ValidateBatch(result, len(texts))
	}
	if err != nil {
		err = classify(callCtx, err)
		metrics.EmbeddingErrorsTotal.WithLabelValues(p.provider, p.model, errorType(err)).Inc()
		p.logger.Warn("Embedding request failed",
			zap.String("provider", p.provider),
			zap.String("model", p.model),
			zap.Int("batch_size", len(texts)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
	}

	domain.UsageFromContext(ctx).Record(len(texts), result.TotalTokens)
	if p.budget != nil {
		p.budget.Record(int64(result.TotalTokens))
	}
	metrics.EmbeddingBatchSize.WithLabelValues(p.provider, p.model).Observe(float64(len(texts)))

	p.logger.Debug("Batch embedding completed",
		zap.String("provider", p.provider),
		zap.String("model", p.model),
		zap.Duration("duration", duration),
		zap.Int("batch_size", len(texts)),
		zap.Int("dimensions", result.Dimensions()),
		zap.Int("prompt_tokens", result.PromptTokens),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}

// HealthCheck delegates to the provider when it supports health checks.
func (p *InstrumentedEmbedder) HealthCheck(ctx context.Context) error {
	hc, ok := p.inner.(domain.HealthChecker)
	if !ok {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := hc.HealthCheck(callCtx); err != nil {
		return classify(callCtx, err)
	}
	return nil
}

// classify maps any provider failure into the provider error family.
// Errors already in the family keep their type.
func classify(callCtx context.Context, err error) error {
	switch {
	case domain.IsProviderError(err):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrProviderTimeout, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, err)
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrProviderTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrProviderMalformedResponse):
		return "malformed"
	default:
		return "unavailable"
	}
}
