// Package embedsvc is a client for the local sentence-embedding service:
// POST {"texts": [...]} to /embed, answer {"vectors": [[...]]}.
package embedsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recipedex/internal/domain"
	"github.com/kailas-cloud/recipedex/internal/metrics"
)

const (
	embedPath  = "/embed"
	healthPath = "/healthz"

	// maxErrorBody bounds how much of an error response is kept for logs.
	maxErrorBody = 512
)

// Config holds the embed service settings.
type Config struct {
	BaseURL  string
	Model    string
	Provider string
	Client   *http.Client
	Logger   *zap.Logger
}

// Client implements domain.BatchEmbedder over the embed service protocol.
type Client struct {
	baseURL  string
	model    string
	provider string
	http     *http.Client
	logger   *zap.Logger
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// New creates an embed service client. Deadlines come from the caller's
// context, so the default client has no timeout of its own.
func New(cfg Config) *Client {
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{}
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "embedsvc"
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		model:    cfg.Model,
		provider: provider,
		http:     hc,
		logger:   cfg.Logger,
	}
}

// BatchEmbed sends all texts in one request. Vectors come back in input order.
func (c *Client) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if len(texts) == 0 {
		return domain.BatchEmbeddingResult{}, nil
	}

	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+embedPath, bytes.NewReader(body))
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	vectors, err := c.do(req)
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(c.provider, c.model, "error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("embed service: %w", ctxErr)
		}
		return domain.BatchEmbeddingResult{}, err
	}
	if len(vectors) != len(texts) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(c.provider, c.model, "error").Inc()
		return domain.BatchEmbeddingResult{}, fmt.Errorf("%w: expected %d vectors, got %d",
			domain.ErrProviderMalformedResponse, len(texts), len(vectors))
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(c.provider, c.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(c.provider, c.model).Observe(duration.Seconds())

	c.logger.Debug("Embed service call completed",
		zap.Int("texts", len(texts)),
		zap.Duration("duration", duration),
	)

	// The service reports no token usage.
	return domain.BatchEmbeddingResult{Embeddings: vectors}, nil
}

func (c *Client) do(req *http.Request) ([][]float32, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: do request: %v", domain.ErrProviderUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: embed service status %d: %s",
			domain.ErrProviderUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", domain.ErrProviderMalformedResponse, err)
	}
	if out.Vectors == nil {
		return nil, fmt.Errorf("%w: missing vectors field", domain.ErrProviderMalformedResponse)
	}
	return out.Vectors, nil
}

// HealthCheck probes GET /healthz.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: health: %v", domain.ErrProviderUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", domain.ErrProviderUnavailable, resp.StatusCode)
	}
	return nil
}
