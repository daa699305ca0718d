package domain

import (
	"context"
	"sync"
)

type embeddingUsageKey struct{}

// EmbeddingUsage collects provider usage for a single retrieval request.
// The caller puts a pointer into the context; the provider guard records every
// call; the handler reads totals for response stats. Chunks run concurrently,
// so writes are guarded.
type EmbeddingUsage struct {
	mu          sync.Mutex
	calls       int
	texts       int
	totalTokens int
}

// NewContextWithUsage returns a context with an embedded usage collector.
func NewContextWithUsage(ctx context.Context) (context.Context, *EmbeddingUsage) {
	u := &EmbeddingUsage{}
	return context.WithValue(ctx, embeddingUsageKey{}, u), u
}

// UsageFromContext extracts the usage collector from context. Returns nil if not set.
func UsageFromContext(ctx context.Context) *EmbeddingUsage {
	u, _ := ctx.Value(embeddingUsageKey{}).(*EmbeddingUsage)
	return u
}

// Record adds one provider call that embedded texts and consumed tokens.
func (u *EmbeddingUsage) Record(texts, tokens int) {
	if u == nil {
		return
	}
	u.mu.Lock()
	u.calls++
	u.texts += texts
	u.totalTokens += tokens
	u.mu.Unlock()
}

// Snapshot returns the provider calls, embedded texts and tokens recorded so far.
func (u *EmbeddingUsage) Snapshot() (calls, texts, tokens int) {
	if u == nil {
		return 0, 0, 0
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls, u.texts, u.totalTokens
}
