package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/recipedex/internal/usecase/scoring"
)

func validConfig() Config {
	cfg := Config{
		HTTP:    HTTPConfig{Port: 8080},
		Catalog: CatalogConfig{Driver: "yaml", Path: "recipes.yaml"},
		Cache:   CacheConfig{Driver: "redis", Addrs: []string{"localhost:6379"}},
		Embedding: EmbeddingConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Retrieval: RetrievalConfig{
			Weights: scoring.Weights{Semantic: 0.5, Nutrition: 0.3, Ingredient: 0.15, Keyword: 0.05},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestValidate_OK(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.HTTP.Port = 0 }, "http.port"},
		{"unknown catalog driver", func(c *Config) { c.Catalog.Driver = "postgres" }, "catalog.driver"},
		{"missing catalog path", func(c *Config) { c.Catalog.Path = "" }, "catalog.path"},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "cohere" }, "embedding.provider"},
		{"openai without model", func(c *Config) { c.Embedding.Model = "" }, "embedding.model"},
		{"embedsvc without url", func(c *Config) { c.Embedding.Provider = "embedsvc" }, "embedding.base_url"},
		{"redis without addrs", func(c *Config) { c.Cache.Addrs = nil }, "cache.addrs"},
		{"sqlite cache without path", func(c *Config) { c.Cache.Driver = "sqlite" }, "cache.path"},
		{"unknown cache driver", func(c *Config) { c.Cache.Driver = "memcached" }, "cache.driver"},
		{"top_k above max", func(c *Config) { c.Retrieval.DefaultTopK = 100 }, "default_top_k"},
		{"zero weights", func(c *Config) { c.Retrieval.Weights = scoring.Weights{} }, "retrieval.weights"},
		{"negative weight", func(c *Config) { c.Retrieval.Weights.Keyword = -1 }, "retrieval.weights"},
		{"negative budget", func(c *Config) { c.Embedding.Budget.DailyTokenLimit = -1 }, "embedding.budget"},
		{"unknown budget action", func(c *Config) { c.Embedding.Budget.Action = "block" }, "embedding.budget.action"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_EmbeddingsDisabledSkipsCache(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.Provider = ""
	cfg.Cache = CacheConfig{Driver: "memcached"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("cache settings must not matter without a provider: %v", err)
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Catalog.Driver != "sqlite" || cfg.Cache.Driver != "badger" {
		t.Errorf("unexpected drivers: %q, %q", cfg.Catalog.Driver, cfg.Cache.Driver)
	}
	if cfg.Embedding.Timeout() != 10*time.Second || cfg.Embedding.ChunkSize != 32 {
		t.Errorf("unexpected embedding defaults: %+v", cfg.Embedding)
	}
	if cfg.Embedding.Budget.Action != "warn" || cfg.Embedding.Budget.Enabled() {
		t.Errorf("unexpected budget defaults: %+v", cfg.Embedding.Budget)
	}
	if cfg.Cache.QueryTTL() != time.Hour {
		t.Errorf("unexpected query ttl: %v", cfg.Cache.QueryTTL())
	}
	if cfg.Retrieval.RequestTimeout() != 20*time.Second || cfg.Retrieval.DefaultTopK != 5 || cfg.Retrieval.MaxTopK != 50 {
		t.Errorf("unexpected retrieval defaults: %+v", cfg.Retrieval)
	}
}

const sampleConfig = `
http:
  port: ${RECIPEDEX_TEST_PORT:-8090}
catalog:
  driver: yaml
  path: ${RECIPEDEX_TEST_CATALOG}
embedding:
  provider: embedsvc
  base_url: http://embed:8000
retrieval:
  weights:
    semantic: 0.5
    nutrition: 0.3
    ingredient: 0.15
    keyword: 0.05
`

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("RECIPEDEX_TEST_CATALOG", "/data/recipes.yaml")

	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.HTTP.Port != 8090 {
		t.Errorf("expected default port 8090, got %d", cfg.HTTP.Port)
	}
	if cfg.Catalog.Path != "/data/recipes.yaml" {
		t.Errorf("expected expanded catalog path, got %q", cfg.Catalog.Path)
	}
	if cfg.Retrieval.Weights.Nutrition != 0.3 {
		t.Errorf("unexpected weights: %+v", cfg.Retrieval.Weights)
	}
}

func TestParse_UnknownField(t *testing.T) {
	if _, err := Parse([]byte(sampleConfig + "bogus: true\n")); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("RECIPEDEX_TEST_CATALOG", "recipes.yaml")
	path := filepath.Join(t.TempDir(), "test.yaml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("RECIPEDEX_SET", "value")
	got := string(expandEnvVars([]byte("a=${RECIPEDEX_SET} b=${RECIPEDEX_UNSET:-fallback} c=${RECIPEDEX_UNSET}")))
	if got != "a=value b=fallback c=" {
		t.Errorf("got %q", got)
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("ENV", "")
	if GetEnv() != "local" {
		t.Errorf("expected local default")
	}
	t.Setenv("ENV", "prod")
	if GetEnv() != "prod" {
		t.Errorf("expected prod")
	}
}
