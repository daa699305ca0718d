package retrieval

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/recipedex/internal/domain/query"
	"github.com/kailas-cloud/recipedex/internal/usecase/scoring"
)

func degradedNote(reason DegradeReason) string {
	switch reason {
	case ReasonDisabled:
		return "embeddings are disabled; ranked by keyword overlap"
	case ReasonEmptyQuery:
		return "nothing to embed; ranked by keyword overlap"
	case ReasonTimeout:
		return "embedding provider timed out; ranked by keyword overlap"
	case ReasonMalformed, ReasonDimensionMismatch:
		return "embedding provider returned an unusable response; ranked by keyword overlap"
	default:
		return "embedding provider unavailable; ranked by keyword overlap"
	}
}

func excludedTermsNote(terms []string) string {
	return "excluded recipes mentioning: " + strings.Join(terms, ", ")
}

// noCandidatesNotes explains an empty candidate set, one note per gate that
// rejected something, in pipeline order.
func noCandidatesNotes(total int, rejected map[scoring.Reason]int, q query.Query) []string {
	if total == 0 {
		return []string{"the catalog is empty"}
	}
	prefs := q.Preferences()
	var notes []string
	if rejected[scoring.ReasonPreference] > 0 {
		names := make([]string, 0, len(prefs.Enabled()))
		for _, p := range prefs.Enabled() {
			names = append(names, string(p))
		}
		notes = append(notes, fmt.Sprintf("%d recipes do not match the preferences %s",
			rejected[scoring.ReasonPreference], strings.Join(names, ", ")))
	}
	if rejected[scoring.ReasonCuisine] > 0 {
		notes = append(notes, fmt.Sprintf("%d recipes are not tagged with cuisine %s",
			rejected[scoring.ReasonCuisine], strings.Join(prefs.Cuisines(), " or ")))
	}
	if rejected[scoring.ReasonRequiredIngredient] > 0 {
		notes = append(notes, "no recipe contains all required ingredients: "+strings.Join(prefs.Required(), ", "))
	}
	if rejected[scoring.ReasonNegativeTerm] > 0 {
		notes = append(notes, fmt.Sprintf("%d recipes mention an excluded term", rejected[scoring.ReasonNegativeTerm]))
	}
	if rejected[scoring.ReasonConstraint]+rejected[scoring.ReasonMissingMacros] > 0 {
		notes = append(notes, fmt.Sprintf("no candidates satisfy %s; consider relaxing the constraint",
			constraintList(q.Constraints().Hard())))
	}
	if len(notes) == 0 {
		notes = append(notes, "no candidates matched")
	}
	return notes
}

func constraintList(cs query.Constraints) string {
	return strings.Join(cs.Strings(), ", ")
}
