// Package scoring computes component scores for recipe candidates, gates them
// by hard constraints and preferences, and produces a deterministic ranking.
package scoring

import (
	"sort"
	"strconv"

	"github.com/kailas-cloud/recipedex/internal/document"
	"github.com/kailas-cloud/recipedex/internal/domain"
	"github.com/kailas-cloud/recipedex/internal/domain/query"
)

// Components holds per-signal scores in [0,1]. Nil means not computed.
type Components struct {
	Semantic   *float64 `json:"semantic,omitempty"`
	Nutrition  *float64 `json:"nutrition,omitempty"`
	Ingredient *float64 `json:"ingredient,omitempty"`
	Keyword    *float64 `json:"keyword,omitempty"`
}

// Candidate is a scored recipe.
type Candidate struct {
	Recipe     domain.Recipe
	Components Components
	Final      float64
	// Satisfied and Violated list hard constraint kinds.
	Satisfied []query.Kind
	Violated  []query.Kind
}

// Input pairs a recipe with its canonical document text.
type Input struct {
	Recipe   domain.Recipe
	Document string
}

// ScoreBatch scores candidates in input order. The semantic score is used
// when both the query vector and the recipe vector are present; otherwise
// keyword overlap against the document takes its place. When constraints
// are given, recipes whose nutrition fit cannot be computed are dropped.
func ScoreBatch(
	inputs []Input,
	queryVector []float32,
	itemVectors map[string][]float32,
	queryTokens []string,
	cs query.Constraints,
	w Weights,
) []Candidate {
	out := make([]Candidate, 0, len(inputs))
	for _, in := range inputs {
		c, ok := scoreOne(in, queryVector, itemVectors, queryTokens, cs, w)
		if ok {
			out = append(out, c)
		}
	}
	return out
}

func scoreOne(
	in Input,
	queryVector []float32,
	itemVectors map[string][]float32,
	queryTokens []string,
	cs query.Constraints,
	w Weights,
) (Candidate, bool) {
	c := Candidate{Recipe: in.Recipe}

	if !cs.IsEmpty() {
		fit, ok := NutritionFit(in.Recipe, cs)
		if !ok {
			return Candidate{}, false
		}
		c.Components.Nutrition = &fit
		c.Final += w.Nutrition * fit
	}

	if vec, ok := itemVectors[in.Recipe.ID]; ok && len(queryVector) > 0 && len(vec) > 0 {
		sem := CosineSimilarity(queryVector, vec)
		c.Components.Semantic = &sem
		c.Final += w.Semantic * sem
	} else {
		kw := KeywordOverlap(queryTokens, document.Tokens(in.Document))
		c.Components.Keyword = &kw
		c.Final += w.keyword() * kw
	}

	ing := IngredientOverlap(in.Recipe, queryTokens)
	c.Components.Ingredient = &ing
	c.Final += w.Ingredient * ing

	for _, con := range cs.Hard() {
		v, _ := in.Recipe.Macros.Value(con.Nutrient())
		if con.Satisfied(v) {
			c.Satisfied = append(c.Satisfied, con.Kind())
		} else {
			c.Violated = append(c.Violated, con.Kind())
		}
	}
	return c, true
}

// Rerank orders candidates by final score descending, breaking ties by
// recipe ID ascending, and truncates to limit. A non-positive limit keeps all.
// The input slice is not modified.
func Rerank(scored []Candidate, limit int) []Candidate {
	out := make([]Candidate, len(scored))
	copy(out, scored)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Final != out[j].Final {
			return out[i].Final > out[j].Final
		}
		return lessID(out[i].Recipe.ID, out[j].Recipe.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// lessID compares numeric IDs by value so "9" sorts before "10".
func lessID(a, b string) bool {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
