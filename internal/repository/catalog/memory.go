// Package catalog provides read-only recipe catalogs: an in-memory catalog
// (also loaded from YAML) and a reader over an existing SQLite recipe database.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/kailas-cloud/recipedex/internal/domain"
)

// Memory is an immutable in-memory catalog. List keeps insertion order.
type Memory struct {
	recipes []domain.Recipe
	byID    map[string]int
}

// NewMemory builds a catalog. IDs must be non-empty and unique.
func NewMemory(recipes ...domain.Recipe) (*Memory, error) {
	m := &Memory{
		recipes: make([]domain.Recipe, 0, len(recipes)),
		byID:    make(map[string]int, len(recipes)),
	}
	for _, r := range recipes {
		r.ID = strings.TrimSpace(r.ID)
		if r.ID == "" {
			return nil, fmt.Errorf("recipe %q has no id", r.Title)
		}
		if _, dup := m.byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate recipe id %q", r.ID)
		}
		m.byID[r.ID] = len(m.recipes)
		m.recipes = append(m.recipes, r)
	}
	return m, nil
}

// List returns every recipe.
func (m *Memory) List(_ context.Context) ([]domain.Recipe, error) {
	out := make([]domain.Recipe, len(m.recipes))
	copy(out, m.recipes)
	return out, nil
}

// Get returns a recipe by id.
func (m *Memory) Get(_ context.Context, id string) (domain.Recipe, error) {
	i, ok := m.byID[id]
	if !ok {
		return domain.Recipe{}, fmt.Errorf("recipe %s: %w", id, domain.ErrNotFound)
	}
	return m.recipes[i], nil
}

// Ping always succeeds.
func (m *Memory) Ping(_ context.Context) error { return nil }

// Len returns the number of recipes.
func (m *Memory) Len() int { return len(m.recipes) }
