package chi

import (
	"github.com/kailas-cloud/recipedex/internal/domain"
	"github.com/kailas-cloud/recipedex/internal/domain/query"
	"github.com/kailas-cloud/recipedex/internal/usecase/retrieval"
	"github.com/kailas-cloud/recipedex/internal/usecase/scoring"
)

type retrieveRequest struct {
	Message             string           `json:"message"`
	Constraints         map[string]any   `json:"constraints,omitempty"`
	Preferences         map[string]bool  `json:"preferences,omitempty"`
	Cuisines            []string         `json:"cuisines,omitempty"`
	RequiredIngredients []string         `json:"required_ingredients,omitempty"`
	Servings            int              `json:"servings,omitempty"`
	TopK                int              `json:"top_k,omitempty"`
	Weights             *scoring.Weights `json:"weights,omitempty"`
}

func (r retrieveRequest) toDomain() retrieval.Request {
	return retrieval.Request{
		Message:             r.Message,
		Constraints:         r.Constraints,
		Preferences:         r.Preferences,
		Cuisines:            r.Cuisines,
		RequiredIngredients: r.RequiredIngredients,
		Servings:            r.Servings,
		TopK:                r.TopK,
		Weights:             r.Weights,
	}
}

type ingredientDTO struct {
	Name  string   `json:"name"`
	Grams *float64 `json:"grams,omitempty"`
}

type macrosDTO struct {
	Kcal     *float64 `json:"kcal"`
	ProteinG *float64 `json:"protein_g"`
	CarbsG   *float64 `json:"carbs_g"`
	FatG     *float64 `json:"fat_g"`
	FiberG   *float64 `json:"fiber_g"`
}

type recipeDTO struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Tags         []string        `json:"tags"`
	Ingredients  []ingredientDTO `json:"ingredients"`
	Macros       macrosDTO       `json:"macros"`
	Instructions []string        `json:"instructions"`
}

type resultDTO struct {
	Recipe     recipeDTO          `json:"recipe"`
	Score      float64            `json:"score"`
	Components scoring.Components `json:"components"`
	Satisfied  []query.Kind       `json:"satisfied_constraints"`
}

type statsDTO struct {
	CandidatesTotal int            `json:"candidates_total"`
	CandidatesKept  int            `json:"candidates_kept"`
	Rejected        map[string]int `json:"rejected,omitempty"`
	CacheHits       int            `json:"cache_hits"`
	Computed        int            `json:"computed"`
	DegradedReason  string         `json:"degraded_reason,omitempty"`
	NegativeTerms   []string       `json:"negative_terms,omitempty"`
	DurationMs      float64        `json:"duration_ms"`
	EmbeddingCalls  int            `json:"embedding_calls"`
	EmbeddingTokens int            `json:"embedding_tokens"`
}

type retrieveResponse struct {
	Results        []resultDTO `json:"results"`
	UsedEmbeddings bool        `json:"used_embeddings"`
	Notes          []string    `json:"notes"`
	Stats          statsDTO    `json:"stats"`
}

type indexReportDTO struct {
	Items          int  `json:"items"`
	Hits           int  `json:"hits"`
	Stale          int  `json:"stale"`
	Computed       int  `json:"computed"`
	ProviderFailed bool `json:"provider_failed"`
}

type countDTO struct {
	Count int `json:"count"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func recipeToDTO(r domain.Recipe) recipeDTO {
	ings := make([]ingredientDTO, len(r.Ingredients))
	for i, ing := range r.Ingredients {
		ings[i] = ingredientDTO{Name: ing.Name, Grams: ing.Grams}
	}
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	steps := r.Instructions
	if steps == nil {
		steps = []string{}
	}
	return recipeDTO{
		ID:          r.ID,
		Title:       r.Title,
		Tags:        tags,
		Ingredients: ings,
		Macros: macrosDTO{
			Kcal:     r.Macros.Kcal,
			ProteinG: r.Macros.ProteinG,
			CarbsG:   r.Macros.CarbsG,
			FatG:     r.Macros.FatG,
			FiberG:   r.Macros.FiberG,
		},
		Instructions: steps,
	}
}

func responseToDTO(resp retrieval.Response, usage *domain.EmbeddingUsage) retrieveResponse {
	results := make([]resultDTO, len(resp.Results))
	for i, r := range resp.Results {
		satisfied := r.Satisfied
		if satisfied == nil {
			satisfied = []query.Kind{}
		}
		results[i] = resultDTO{
			Recipe:     recipeToDTO(r.Recipe),
			Score:      r.Score,
			Components: r.Components,
			Satisfied:  satisfied,
		}
	}

	var rejected map[string]int
	if len(resp.Stats.Rejected) > 0 {
		rejected = make(map[string]int, len(resp.Stats.Rejected))
		for reason, n := range resp.Stats.Rejected {
			rejected[string(reason)] = n
		}
	}

	notes := resp.Notes
	if notes == nil {
		notes = []string{}
	}

	calls, _, tokens := usage.Snapshot()
	return retrieveResponse{
		Results:        results,
		UsedEmbeddings: resp.UsedEmbeddings,
		Notes:          notes,
		Stats: statsDTO{
			CandidatesTotal: resp.Stats.CandidatesTotal,
			CandidatesKept:  resp.Stats.CandidatesKept,
			Rejected:        rejected,
			CacheHits:       resp.Stats.CacheHits,
			Computed:        resp.Stats.Computed,
			DegradedReason:  string(resp.Stats.DegradedReason),
			NegativeTerms:   resp.Stats.NegativeTerms,
			DurationMs:      float64(resp.Stats.Duration.Microseconds()) / 1000,
			EmbeddingCalls:  calls,
			EmbeddingTokens: tokens,
		},
	}
}
