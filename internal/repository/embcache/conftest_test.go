package embcache

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recipedex/internal/db"
	"github.com/kailas-cloud/recipedex/internal/domain"
)

// mockEmbedder returns a deterministic 3-dim vector per text and records every call.
type mockEmbedder struct {
	mu       sync.Mutex
	calls    [][]string
	batchErr func(texts []string) error
	override func(texts []string) domain.BatchEmbeddingResult
	inFlight int
	maxSeen  int
	delay    time.Duration
}

func (m *mockEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string(nil), texts...))
	m.inFlight++
	if m.inFlight > m.maxSeen {
		m.maxSeen = m.inFlight
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.batchErr != nil {
		if err := m.batchErr(texts); err != nil {
			return domain.BatchEmbeddingResult{}, err
		}
	}
	if m.override != nil {
		return m.override(texts), nil
	}

	embeddings := make([][]float32, len(texts))
	for i, t := range texts {
		embeddings[i] = vectorFor(t)
	}
	return domain.BatchEmbeddingResult{Embeddings: embeddings, TotalTokens: len(texts)}, nil
}

func (m *mockEmbedder) callSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sizes := make([]int, len(m.calls))
	for i, c := range m.calls {
		sizes[i] = len(c)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(sizes)))
	return sizes
}

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func vectorFor(text string) []float32 {
	return []float32{float32(len(text)), 1, float32(strings.Count(text, " "))}
}

// mockKVStore is an in-memory store. Function fields override single operations.
type mockKVStore struct {
	mu    sync.Mutex
	data  map[string][]byte
	ttls  map[string]time.Duration
	getFn func(ctx context.Context, key string) ([]byte, error)
	setFn func(ctx context.Context, key string, value []byte, ttl time.Duration) error
	gets  int
	sets  int
}

func newMockKVStore() *mockKVStore {
	return &mockKVStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *mockKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	m.gets++
	fn := m.getFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *mockKVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	m.sets++
	fn := m.setFn
	m.mu.Unlock()
	if fn != nil {
		if err := fn(ctx, key, value, ttl); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *mockKVStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mockKVStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func nopLogger() *zap.Logger { return zap.NewNop() }

func newTestCache(t *testing.T, cfg Config) (*Cache, *mockEmbedder, *mockKVStore) {
	t.Helper()
	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	emb := &mockEmbedder{}
	ms := newMockKVStore()
	return New(emb, ms, cfg, nil, zap.NewNop()), emb, ms
}

func items(n int) []Item {
	out := make([]Item, n)
	for i := range out {
		id := "r" + strconv.Itoa(i)
		out[i] = Item{ID: id, Document: "doc " + id}
	}
	return out
}
