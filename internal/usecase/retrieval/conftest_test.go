package retrieval

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recipedex/internal/db/badger"
	"github.com/kailas-cloud/recipedex/internal/domain"
	"github.com/kailas-cloud/recipedex/internal/metrics"
	"github.com/kailas-cloud/recipedex/internal/repository/catalog"
	"github.com/kailas-cloud/recipedex/internal/repository/embcache"
	"github.com/kailas-cloud/recipedex/internal/usecase/embedding"
	"github.com/kailas-cloud/recipedex/internal/usecase/scoring"
)

func TestMain(m *testing.M) {
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterRetrievalMetrics()
	os.Exit(m.Run())
}

var testWeights = scoring.Weights{Semantic: 0.5, Nutrition: 0.3, Ingredient: 0.15, Keyword: 0.05}

// vocab gives the fake provider a bag-of-words embedding space.
var vocab = []string{"oats", "banana", "curry", "chickpeas", "pasta", "tomato", "salad", "tofu", "pork"}

// fakeProvider embeds texts as keyword counts and records every call.
type fakeProvider struct {
	mu    sync.Mutex
	calls [][]string
	err   error
	block bool
	dims  int // truncates vectors of multi-text calls, leaving query calls intact
}

func (p *fakeProvider) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, append([]string(nil), texts...))
	err, block, dims := p.err, p.block, p.dims
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return domain.BatchEmbeddingResult{}, ctx.Err()
	}
	if err != nil {
		return domain.BatchEmbeddingResult{}, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = bagOfWords(text)
		if dims > 0 && len(texts) > 1 {
			out[i] = out[i][:dims]
		}
	}
	return domain.BatchEmbeddingResult{Embeddings: out, TotalTokens: len(texts)}, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakeProvider) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func bagOfWords(text string) []float32 {
	v := make([]float32, len(vocab)+1)
	v[len(vocab)] = 0.1
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ",.|:")
		for i, w := range vocab {
			if word == w || word == w+"s" || strings.TrimSuffix(word, "s") == w {
				v[i]++
			}
		}
	}
	return v
}

func testRecipes() []domain.Recipe {
	ing := func(names ...string) []domain.Ingredient {
		out := make([]domain.Ingredient, len(names))
		for i, n := range names {
			out[i] = domain.Ingredient{Name: n}
		}
		return out
	}
	return []domain.Recipe{
		{
			ID: "1", Title: "Overnight oats", Tags: []string{"breakfast", "vegan"},
			Ingredients:  ing("oats", "banana", "soy milk"),
			Macros:       domain.Macros{Kcal: domain.Float(385), ProteinG: domain.Float(18.7)},
			Instructions: []string{"Mix everything.", "Chill overnight."},
		},
		{
			ID: "2", Title: "Chickpea curry", Tags: []string{"dinner", "vegan", "indian"},
			Ingredients: ing("chickpeas", "tomato", "coconut milk"),
			Macros:      domain.Macros{Kcal: domain.Float(520), ProteinG: domain.Float(21)},
		},
		{
			ID: "3", Title: "Tomato pasta", Tags: []string{"italian", "vegetarian"},
			Ingredients: ing("pasta", "tomato", "parmesan"),
			Macros:      domain.Macros{Kcal: domain.Float(640), ProteinG: domain.Float(22)},
		},
		{
			ID: "4", Title: "Tofu salad", Tags: []string{"vegan"},
			Ingredients: ing("tofu", "salad greens"),
			Macros:      domain.Macros{Kcal: domain.Float(310), ProteinG: domain.Float(24)},
		},
		{
			ID: "5", Title: "Pork schnitzel", Tags: []string{"german"},
			Ingredients: ing("pork", "breadcrumbs"),
			Macros:      domain.Macros{Kcal: domain.Float(780), ProteinG: domain.Float(45)},
		},
		{
			ID: "6", Title: "Mystery bowl",
			Ingredients: ing("rice"),
		},
	}
}

type fixture struct {
	svc      *Service
	provider *fakeProvider
	items    *embcache.Cache
}

type fixtureOpt func(*fixtureConfig)

type fixtureConfig struct {
	recipes     []domain.Recipe
	callTimeout time.Duration
	noEmbedding bool
}

func withRecipes(r ...domain.Recipe) fixtureOpt {
	return func(c *fixtureConfig) { c.recipes = r }
}

func withCallTimeout(d time.Duration) fixtureOpt {
	return func(c *fixtureConfig) { c.callTimeout = d }
}

func withoutEmbeddings() fixtureOpt {
	return func(c *fixtureConfig) { c.noEmbedding = true }
}

// newFixture wires the service the way main does: provider guard, item and
// query caches over an in-memory Badger store, and a memory catalog.
func newFixture(t *testing.T, opts ...fixtureOpt) *fixture {
	t.Helper()
	cfg := fixtureConfig{recipes: testRecipes(), callTimeout: time.Second}
	for _, o := range opts {
		o(&cfg)
	}

	cat, err := catalog.NewMemory(cfg.recipes...)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	logger := zap.NewNop()
	provider := &fakeProvider{}
	f := &fixture{provider: provider}

	if cfg.noEmbedding {
		f.svc, err = New(cat, nil, nil, Config{Weights: testWeights}, logger)
		if err != nil {
			t.Fatalf("new service: %v", err)
		}
		return f
	}

	store, err := badger.Open("", logger)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	guard := embedding.NewInstrumentedEmbedder(provider, "fake", "bow-v1", cfg.callTimeout, logger)
	f.items = embcache.New(guard, store, embcache.Config{Model: "bow-v1"}, metrics.EmbeddingCacheTotal, logger)
	queries := embcache.NewQueryCache(guard, store, embcache.QueryConfig{Model: "bow-v1"}, metrics.EmbeddingCacheTotal, logger)

	f.svc, err = New(cat, f.items, queries, Config{Weights: testWeights}, logger)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return f
}

func resultIDs(resp Response) []string {
	out := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = r.Recipe.ID
	}
	return out
}

func hasNote(resp Response, substr string) bool {
	for _, n := range resp.Notes {
		if strings.Contains(n, substr) {
			return true
		}
	}
	return false
}
