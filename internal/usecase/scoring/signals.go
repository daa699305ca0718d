package scoring

import (
	"math"

	"github.com/kailas-cloud/recipedex/internal/domain"
	"github.com/kailas-cloud/recipedex/internal/domain/query"
	"github.com/kailas-cloud/recipedex/internal/textnorm"
)

const cosineEpsilon = 1e-9

// CosineSimilarity returns dot(a,b)/(|a||b|+eps) clamped to [0,1].
// Empty or mismatched vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	sim := dot / (math.Sqrt(na)*math.Sqrt(nb) + cosineEpsilon)
	return clamp01(sim)
}

// NutritionFit returns the mean per-constraint fit of a recipe. A satisfied
// hard constraint fits 1; a violated one decays linearly with the excess
// relative to the threshold. The target constraint decays with the distance
// to the target. The second result is false when there are no constraints
// or the recipe lacks a macro any constraint reads.
func NutritionFit(r domain.Recipe, cs query.Constraints) (float64, bool) {
	if cs.IsEmpty() {
		return 0, false
	}
	var sum float64
	for _, c := range cs {
		v, ok := r.Macros.Value(c.Nutrient())
		if !ok {
			return 0, false
		}
		sum += constraintFit(c, v)
	}
	return sum / float64(len(cs)), true
}

func constraintFit(c query.Constraint, value float64) float64 {
	excess := c.Excess(value)
	if excess == 0 {
		return 1
	}
	return math.Max(0, 1-excess/math.Max(c.Threshold(), 1))
}

// IngredientOverlap returns the share of distinct query tokens found among
// the recipe's ingredient-name tokens.
func IngredientOverlap(r domain.Recipe, queryTokens []string) float64 {
	qs := tokenSet(queryTokens)
	if len(qs) == 0 {
		return 0
	}
	have := make(map[string]struct{})
	for _, name := range r.IngredientNames() {
		for _, t := range textnorm.Tokenize(name) {
			have[t] = struct{}{}
		}
	}
	return overlap(qs, have)
}

// KeywordOverlap returns the share of distinct query tokens present in the document.
func KeywordOverlap(queryTokens, documentTokens []string) float64 {
	qs := tokenSet(queryTokens)
	if len(qs) == 0 || len(documentTokens) == 0 {
		return 0
	}
	return overlap(qs, tokenSet(documentTokens))
}

func overlap(qs, have map[string]struct{}) float64 {
	var n int
	for t := range qs {
		if _, ok := have[t]; ok {
			n++
		}
	}
	return float64(n) / float64(len(qs))
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
