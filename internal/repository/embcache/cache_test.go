package embcache

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kailas-cloud/recipedex/internal/db"
	"github.com/kailas-cloud/recipedex/internal/domain"
)

func TestBatchGetOrCompute_MissThenHit(t *testing.T) {
	c, emb, _ := newTestCache(t, Config{})
	ctx := context.Background()
	in := items(3)

	first := c.BatchGetOrCompute(ctx, in, false)
	if first.Err != nil {
		t.Fatalf("unexpected error: %v", first.Err)
	}
	if first.Computed != 3 || first.Hits != 0 {
		t.Fatalf("expected 3 computed, 0 hits; got %d computed, %d hits", first.Computed, first.Hits)
	}
	if len(first.Vectors) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(first.Vectors))
	}

	second := c.BatchGetOrCompute(ctx, in, false)
	if second.Hits != 3 || second.Computed != 0 {
		t.Fatalf("expected 3 hits, 0 computed; got %d hits, %d computed", second.Hits, second.Computed)
	}
	if emb.callCount() != 1 {
		t.Errorf("expected a single provider call, got %d", emb.callCount())
	}
	for id, v := range first.Vectors {
		if got := second.Vectors[id]; len(got) != len(v) || got[0] != v[0] {
			t.Errorf("item %s: cached vector %v differs from computed %v", id, got, v)
		}
	}
}

func TestBatchGetOrCompute_StaleOnDocumentChange(t *testing.T) {
	c, emb, _ := newTestCache(t, Config{})
	ctx := context.Background()

	c.BatchGetOrCompute(ctx, []Item{{ID: "1", Document: "oats"}}, false)
	b := c.BatchGetOrCompute(ctx, []Item{{ID: "1", Document: "oats with banana"}}, false)

	if b.Stale != 1 || b.Computed != 1 {
		t.Fatalf("expected stale recompute, got stale=%d computed=%d", b.Stale, b.Computed)
	}
	if emb.callCount() != 2 {
		t.Errorf("expected 2 provider calls, got %d", emb.callCount())
	}
	e, ok := c.Lookup(ctx, "1")
	if !ok || e.DocumentText != "oats with banana" {
		t.Errorf("expected entry to hold the new document, got %+v", e)
	}
	if want := vectorFor("oats with banana"); e.Vector[0] != want[0] {
		t.Errorf("expected refreshed vector %v, got %v", want, e.Vector)
	}
}

func TestBatchGetOrCompute_StaleOnModelChange(t *testing.T) {
	ms := newMockKVStore()
	emb := &mockEmbedder{}
	ctx := context.Background()

	oldCache := New(emb, ms, Config{Model: "model-a"}, nil, nopLogger())
	oldCache.BatchGetOrCompute(ctx, []Item{{ID: "1", Document: "oats"}}, false)

	newCache := New(emb, ms, Config{Model: "model-b"}, nil, nopLogger())
	b := newCache.BatchGetOrCompute(ctx, []Item{{ID: "1", Document: "oats"}}, false)
	if b.Stale != 1 || b.Computed != 1 {
		t.Fatalf("expected recompute after model change, got stale=%d computed=%d", b.Stale, b.Computed)
	}
	e, _ := newCache.Lookup(ctx, "1")
	if e.Model != "model-b" {
		t.Errorf("expected model-b entry, got %q", e.Model)
	}
}

func TestBatchGetOrCompute_StaleOnDimensionChange(t *testing.T) {
	ms := newMockKVStore()
	emb := &mockEmbedder{}
	ctx := context.Background()

	// Same model label, vectors of the wrong length already stored.
	New(emb, ms, Config{Model: "m"}, nil, nopLogger()).
		BatchGetOrCompute(ctx, []Item{{ID: "1", Document: "oats"}}, false)

	c := New(emb, ms, Config{Model: "m", Dimensions: 4}, nil, nopLogger())
	b := c.BatchGetOrCompute(ctx, []Item{{ID: "1", Document: "oats"}}, false)
	if b.Stale != 1 || b.Computed != 1 {
		t.Fatalf("expected recompute for wrong-length entry, got stale=%d computed=%d", b.Stale, b.Computed)
	}
	if emb.callCount() != 2 {
		t.Errorf("expected 2 provider calls, got %d", emb.callCount())
	}
}

func TestModelID(t *testing.T) {
	if got := ModelID("text-embedding-3-small", 256); got != "text-embedding-3-small@256" {
		t.Errorf("unexpected id %q", got)
	}
	if got := ModelID("bow-v1", 0); got != "bow-v1" {
		t.Errorf("zero dims must keep the model name, got %q", got)
	}
}

func TestBatchGetOrCompute_Force(t *testing.T) {
	c, emb, _ := newTestCache(t, Config{})
	ctx := context.Background()
	in := items(2)

	c.BatchGetOrCompute(ctx, in, false)
	b := c.BatchGetOrCompute(ctx, in, true)
	if b.Hits != 0 || b.Computed != 2 {
		t.Fatalf("force should bypass cache, got hits=%d computed=%d", b.Hits, b.Computed)
	}
	if emb.callCount() != 2 {
		t.Errorf("expected 2 provider calls, got %d", emb.callCount())
	}
}

func TestBatchGetOrCompute_ChunksAtMost32(t *testing.T) {
	c, emb, _ := newTestCache(t, Config{ChunkSize: 100})
	b := c.BatchGetOrCompute(context.Background(), items(70), false)

	if b.Computed != 70 {
		t.Fatalf("expected 70 computed, got %d", b.Computed)
	}
	sizes := emb.callSizes()
	if len(sizes) != 3 || sizes[0] != 32 || sizes[1] != 32 || sizes[2] != 6 {
		t.Errorf("expected chunks [32 32 6], got %v", sizes)
	}
}

func TestBatchGetOrCompute_RespectsMaxConcurrency(t *testing.T) {
	c, emb, _ := newTestCache(t, Config{ChunkSize: 2, MaxConcurrency: 2})
	emb.delay = 10 * time.Millisecond

	b := c.BatchGetOrCompute(context.Background(), items(12), false)
	if b.Computed != 12 {
		t.Fatalf("expected 12 computed, got %d", b.Computed)
	}
	if emb.maxSeen > 2 {
		t.Errorf("expected at most 2 concurrent provider calls, saw %d", emb.maxSeen)
	}
}

func TestBatchGetOrCompute_PartialChunkFailure(t *testing.T) {
	c, emb, ms := newTestCache(t, Config{ChunkSize: 2, MaxConcurrency: 1})
	emb.batchErr = func(texts []string) error {
		for _, text := range texts {
			if text == "doc r2" {
				return errors.New("502 bad gateway")
			}
		}
		return nil
	}

	b := c.BatchGetOrCompute(context.Background(), items(6), false)

	if !b.ProviderFailed {
		t.Fatal("expected ProviderFailed")
	}
	if !errors.Is(b.Err, domain.ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", b.Err)
	}
	if b.Computed != 4 || len(b.Vectors) != 4 {
		t.Fatalf("expected the 4 items of healthy chunks, got computed=%d vectors=%d", b.Computed, len(b.Vectors))
	}
	if _, ok := b.Vectors["r2"]; ok {
		t.Error("failed chunk item must not have a vector")
	}
	keys, _ := ms.Keys(context.Background(), DefaultKeyPrefix+"item:")
	if len(keys) != 4 {
		t.Errorf("expected 4 persisted entries, got %d", len(keys))
	}
}

func TestBatchGetOrCompute_MalformedResponse(t *testing.T) {
	c, emb, _ := newTestCache(t, Config{})
	emb.override = func(texts []string) domain.BatchEmbeddingResult {
		return domain.BatchEmbeddingResult{Embeddings: [][]float32{{1, 2}}}
	}

	b := c.BatchGetOrCompute(context.Background(), items(3), false)
	if !b.ProviderFailed || !errors.Is(b.Err, domain.ErrProviderMalformedResponse) {
		t.Fatalf("expected malformed response failure, got failed=%v err=%v", b.ProviderFailed, b.Err)
	}
	if len(b.Vectors) != 0 {
		t.Errorf("expected no vectors, got %d", len(b.Vectors))
	}
}

func TestBatchGetOrCompute_ProviderTimeoutKeepsType(t *testing.T) {
	c, emb, _ := newTestCache(t, Config{})
	emb.batchErr = func([]string) error { return domain.ErrProviderTimeout }

	b := c.BatchGetOrCompute(context.Background(), items(1), false)
	if !errors.Is(b.Err, domain.ErrProviderTimeout) {
		t.Fatalf("expected ErrProviderTimeout, got %v", b.Err)
	}
	if errors.Is(b.Err, domain.ErrProviderUnavailable) {
		t.Error("timeout should not be rewrapped as unavailable")
	}
}

func TestBatchGetOrCompute_DuplicateIDs(t *testing.T) {
	c, emb, _ := newTestCache(t, Config{})
	in := []Item{{ID: "1", Document: "a"}, {ID: "1", Document: "a"}, {ID: "2", Document: "b"}}

	b := c.BatchGetOrCompute(context.Background(), in, false)
	if b.Computed != 2 {
		t.Fatalf("expected 2 computed, got %d", b.Computed)
	}
	if sizes := emb.callSizes(); len(sizes) != 1 || sizes[0] != 2 {
		t.Errorf("expected one call with 2 texts, got %v", sizes)
	}
}

func TestBatchGetOrCompute_ReadRetriedOnce(t *testing.T) {
	c, emb, ms := newTestCache(t, Config{})
	ctx := context.Background()
	c.BatchGetOrCompute(ctx, []Item{{ID: "1", Document: "a"}}, false)

	var attempts int32
	stored := ms.data[DefaultKeyPrefix+"item:1"]
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return nil, errors.New("i/o timeout")
		}
		return stored, nil
	}

	b := c.BatchGetOrCompute(ctx, []Item{{ID: "1", Document: "a"}}, false)
	if b.Hits != 1 {
		t.Fatalf("expected hit after retry, got hits=%d computed=%d", b.Hits, b.Computed)
	}
	if attempts != 2 {
		t.Errorf("expected 2 read attempts, got %d", attempts)
	}
	if emb.callCount() != 1 {
		t.Errorf("expected no extra provider call, got %d calls", emb.callCount())
	}
}

func TestBatchGetOrCompute_ReadFailureTreatedAsMiss(t *testing.T) {
	c, emb, ms := newTestCache(t, Config{})
	var attempts int32
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, &db.Error{Op: db.OpGet, Err: errors.New("connection refused")}
	}

	b := c.BatchGetOrCompute(context.Background(), []Item{{ID: "1", Document: "a"}}, false)
	if b.Err != nil {
		t.Fatalf("cache read failure must not fail the batch: %v", b.Err)
	}
	if b.Computed != 1 || len(b.Vectors) != 1 {
		t.Fatalf("expected item computed after read failure, got computed=%d", b.Computed)
	}
	if attempts != 2 {
		t.Errorf("expected exactly one retry (2 attempts), got %d", attempts)
	}
	if emb.callCount() != 1 {
		t.Errorf("expected 1 provider call, got %d", emb.callCount())
	}
}

func TestBatchGetOrCompute_WriteFailureStillReturnsVector(t *testing.T) {
	c, _, ms := newTestCache(t, Config{})
	var attempts int32
	ms.setFn = func(context.Context, string, []byte, time.Duration) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("READONLY")
	}

	b := c.BatchGetOrCompute(context.Background(), []Item{{ID: "1", Document: "a"}}, false)
	if len(b.Vectors) != 1 || b.Err != nil {
		t.Fatalf("expected vector despite write failure, got %d vectors, err %v", len(b.Vectors), b.Err)
	}
	if attempts != 2 {
		t.Errorf("expected write retried once (2 attempts), got %d", attempts)
	}
	if n, _ := c.CachedCount(context.Background()); n != 0 {
		t.Errorf("expected nothing cached, got %d", n)
	}
}

func TestBatchGetOrCompute_WriteSurvivesCancellation(t *testing.T) {
	c, emb, ms := newTestCache(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	emb.override = func(texts []string) domain.BatchEmbeddingResult {
		cancel() // request is abandoned while the provider answers
		return domain.BatchEmbeddingResult{Embeddings: [][]float32{vectorFor(texts[0])}}
	}

	var writeCtxErr error
	ms.setFn = func(wctx context.Context, _ string, _ []byte, _ time.Duration) error {
		writeCtxErr = wctx.Err()
		return nil
	}

	b := c.BatchGetOrCompute(ctx, []Item{{ID: "1", Document: "a"}}, false)
	if b.Err != nil {
		t.Fatalf("unexpected error: %v", b.Err)
	}
	if writeCtxErr != nil {
		t.Fatalf("write context must be detached from the request, got %v", writeCtxErr)
	}
	if _, ok := c.Get(context.Background(), "1"); !ok {
		t.Error("expected entry to be persisted after cancellation")
	}
}

func TestRefresh(t *testing.T) {
	c, emb, _ := newTestCache(t, Config{})
	ctx := context.Background()
	c.BatchGetOrCompute(ctx, []Item{{ID: "1", Document: "a"}}, false)

	vec, err := c.Refresh(ctx, Item{ID: "1", Document: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("expected 3-dim vector, got %v", vec)
	}
	if emb.callCount() != 2 {
		t.Errorf("refresh must recompute even when fresh, got %d calls", emb.callCount())
	}

	emb.batchErr = func([]string) error { return errors.New("down") }
	if _, err := c.Refresh(ctx, Item{ID: "1", Document: "a"}); !errors.Is(err, domain.ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
	if _, ok := c.Get(ctx, "1"); !ok {
		t.Error("failed refresh must keep the previous entry")
	}
}

func TestDeleteClearCount(t *testing.T) {
	c, _, ms := newTestCache(t, Config{})
	ctx := context.Background()
	c.BatchGetOrCompute(ctx, items(5), false)

	// query entries share the store but are not item entries
	ms.data[DefaultKeyPrefix+"query:abc"] = []byte{0, 0, 128, 63}

	if n, err := c.CachedCount(ctx); err != nil || n != 5 {
		t.Fatalf("expected 5 entries, got %d (%v)", n, err)
	}
	if err := c.Delete(ctx, "r0"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := c.Delete(ctx, "missing"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
	if _, ok := c.Get(ctx, "r0"); ok {
		t.Error("expected r0 to be gone")
	}

	removed, err := c.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if removed != 4 {
		t.Errorf("expected 4 removed, got %d", removed)
	}
	if n, _ := c.CachedCount(ctx); n != 0 {
		t.Errorf("expected empty cache, got %d", n)
	}
	if _, ok := ms.data[DefaultKeyPrefix+"query:abc"]; !ok {
		t.Error("Clear must not touch query entries")
	}
}

func TestEntryCodec(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	in := Entry{ItemID: "42", Vector: []float32{0.25, -1, 3.5}, DocumentText: "title: oats", Model: "m", UpdatedAt: now}

	data, err := encodeEntry(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decodeEntry(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ItemID != in.ItemID || out.DocumentText != in.DocumentText || out.Model != in.Model || !out.UpdatedAt.Equal(now) {
		t.Errorf("metadata mismatch: %+v", out)
	}
	for i := range in.Vector {
		if out.Vector[i] != in.Vector[i] {
			t.Fatalf("vector mismatch at %d: %v vs %v", i, out.Vector, in.Vector)
		}
	}
	if !out.IsFresh("title: oats", "m", 0) || out.IsFresh("title: oats", "other", 0) {
		t.Error("unexpected freshness result")
	}

	if _, err := decodeEntry([]byte(`{"vector":"AAE=","dimensions":1}`)); err == nil {
		t.Error("expected error for truncated vector bytes")
	}
	if _, err := decodeEntry([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid json")
	}
	if !strings.Contains(string(data), `"model":"m"`) {
		t.Errorf("expected readable metadata in stored form: %s", data)
	}
}
