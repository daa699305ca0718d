package scoring

import (
	"strings"

	"github.com/kailas-cloud/recipedex/internal/domain"
	"github.com/kailas-cloud/recipedex/internal/domain/query"
	"github.com/kailas-cloud/recipedex/internal/textnorm"
)

// Reason explains why a recipe was filtered out.
type Reason string

// Rejection reasons.
const (
	ReasonConstraint         Reason = "constraint"
	ReasonMissingMacros      Reason = "missing_macros"
	ReasonPreference         Reason = "preference"
	ReasonCuisine            Reason = "cuisine"
	ReasonRequiredIngredient Reason = "required_ingredient"
	ReasonNegativeTerm       Reason = "negative_term"
)

// Rejection records a filtered recipe.
type Rejection struct {
	RecipeID string
	Reason   Reason
	// Detail is the constraint kind, preference or term that rejected the recipe.
	Detail string
}

// FilterByConstraints keeps recipes that satisfy every hard constraint.
// A recipe missing a macro that a hard constraint reads cannot be verified
// and is rejected. Soft constraints never reject.
func FilterByConstraints(recipes []domain.Recipe, cs query.Constraints) ([]domain.Recipe, []Rejection) {
	hard := cs.Hard()
	if hard.IsEmpty() {
		return recipes, nil
	}
	kept := make([]domain.Recipe, 0, len(recipes))
	var rejected []Rejection
	for _, r := range recipes {
		if rej, ok := violates(r, hard); ok {
			rejected = append(rejected, rej)
			continue
		}
		kept = append(kept, r)
	}
	return kept, rejected
}

func violates(r domain.Recipe, hard query.Constraints) (Rejection, bool) {
	for _, c := range hard {
		v, ok := r.Macros.Value(c.Nutrient())
		if !ok {
			return Rejection{RecipeID: r.ID, Reason: ReasonMissingMacros, Detail: string(c.Nutrient())}, true
		}
		if !c.Satisfied(v) {
			return Rejection{RecipeID: r.ID, Reason: ReasonConstraint, Detail: c.String()}, true
		}
	}
	return Rejection{}, false
}

// Tag sets and ingredient markers for the dietary gates.
var (
	vegetarianTags  = []string{"vegetarisch", "vegetarian", "veggie", "vegan"}
	glutenFreeTags  = []string{"gluten_free", "gluten-free", "glutenfrei"}
	lactoseFreeTags = []string{"lactose_free", "lactose-free", "laktosefrei"}

	porkSubstrings = []string{"pork", "schwein", "schinken", "speck", "bacon"}
	porkTokens     = []string{"ham"}

	glutenSubstrings = []string{
		"wheat", "weizen", "dinkel", "spelt", "roggen", "rye", "gerste", "barley",
		"couscous", "bulgur", "seitan", "paniermehl", "breadcrumbs",
	}
	glutenExempt = []string{"glutenfrei", "gluten-free", "gluten free", "buchweizen", "buckwheat"}

	dairySubstrings = []string{
		"milch", "milk", "joghurt", "yogurt", "yoghurt", "skyr", "käse", "kaese",
		"cheese", "quark", "butter", "sahne", "cream", "frischkäse",
	}
	dairyExempt = []string{
		"laktosefrei", "lactose-free", "lactose free",
		"soja", "soy", "hafer", "oat", "mandel", "almond", "kokos", "coconut",
		"reis", "rice", "erdnuss", "peanut", "kakao", "cocoa",
	}
)

// FilterByPreferences applies dietary flags, the cuisine list, required
// ingredients and excluded terms, in that order. Required ingredient names
// must match catalog ingredient names exactly after lowercasing. Cuisines
// only gate recipes that carry tags.
func FilterByPreferences(
	recipes []domain.Recipe, prefs query.Preferences, negativeTerms []string,
) ([]domain.Recipe, []Rejection) {
	if prefs.IsEmpty() && len(negativeTerms) == 0 {
		return recipes, nil
	}
	kept := make([]domain.Recipe, 0, len(recipes))
	var rejected []Rejection
	for _, r := range recipes {
		if rej, ok := rejectByPreferences(r, prefs, negativeTerms); ok {
			rejected = append(rejected, rej)
			continue
		}
		kept = append(kept, r)
	}
	return kept, rejected
}

func rejectByPreferences(r domain.Recipe, prefs query.Preferences, negativeTerms []string) (Rejection, bool) {
	reject := func(reason Reason, detail string) (Rejection, bool) {
		return Rejection{RecipeID: r.ID, Reason: reason, Detail: detail}, true
	}

	for _, p := range prefs.Enabled() {
		if !passesPreference(r, p) {
			return reject(ReasonPreference, string(p))
		}
	}
	if cuisines := prefs.Cuisines(); len(cuisines) > 0 && len(r.Tags) > 0 && !r.HasTag(cuisines...) {
		return reject(ReasonCuisine, strings.Join(cuisines, ","))
	}
	if missing, ok := missingIngredient(r, prefs.Required()); ok {
		return reject(ReasonRequiredIngredient, missing)
	}
	if term, ok := containsTerm(r, negativeTerms); ok {
		return reject(ReasonNegativeTerm, term)
	}
	return Rejection{}, false
}

func passesPreference(r domain.Recipe, p query.Preference) bool {
	switch p {
	case query.Vegan:
		return r.HasTag("vegan")
	case query.Vegetarian:
		return r.HasTag(vegetarianTags...)
	case query.NoPork:
		return !tagContains(r, "pork", "schwein") && !ingredientMatches(r, porkSubstrings, porkTokens, nil)
	case query.GlutenFree:
		return r.HasTag(glutenFreeTags...) || !ingredientMatches(r, glutenSubstrings, nil, glutenExempt)
	case query.LactoseFree:
		return r.HasTag(lactoseFreeTags...) || !ingredientMatches(r, dairySubstrings, nil, dairyExempt)
	default:
		return true
	}
}

func tagContains(r domain.Recipe, subs ...string) bool {
	for _, tag := range r.Tags {
		tag = strings.ToLower(tag)
		for _, s := range subs {
			if strings.Contains(tag, s) {
				return true
			}
		}
	}
	return false
}

// ingredientMatches reports whether any ingredient name contains one of subs
// or has one of tokens as a whole word, unless it also contains an exempt marker.
func ingredientMatches(r domain.Recipe, subs, tokens, exempt []string) bool {
	for _, name := range r.IngredientNames() {
		name = textnorm.Normalize(name)
		if containsAny(name, exempt) {
			continue
		}
		if containsAny(name, subs) {
			return true
		}
		for _, t := range textnorm.Tokenize(name) {
			for _, want := range tokens {
				if t == want {
					return true
				}
			}
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func missingIngredient(r domain.Recipe, required []string) (string, bool) {
	if len(required) == 0 {
		return "", false
	}
	have := make(map[string]bool, len(r.Ingredients))
	for _, name := range r.IngredientNames() {
		have[strings.ToLower(name)] = true
	}
	for _, req := range required {
		if !have[req] {
			return req, true
		}
	}
	return "", false
}

// containsTerm matches excluded terms against ingredient names by substring,
// so compounds like "mangopüree" match "mango", and against title and tag
// tokens by equality.
func containsTerm(r domain.Recipe, terms []string) (string, bool) {
	if len(terms) == 0 {
		return "", false
	}
	names := make([]string, 0, len(r.Ingredients))
	for _, name := range r.IngredientNames() {
		names = append(names, textnorm.Normalize(name))
	}
	words := textnorm.TokenSet(r.Title + " " + strings.Join(r.Tags, " "))
	for _, term := range terms {
		if _, ok := words[term]; ok {
			return term, true
		}
		for _, name := range names {
			if strings.Contains(name, term) {
				return term, true
			}
		}
	}
	return "", false
}
