package domain

import "strings"

// Nutrient names a per-serving macro value that constraints can refer to.
type Nutrient string

// Supported nutrients.
const (
	NutrientKcal    Nutrient = "kcal"
	NutrientProtein Nutrient = "protein_g"
	NutrientCarbs   Nutrient = "carbs_g"
	NutrientFat     Nutrient = "fat_g"
	NutrientFiber   Nutrient = "fiber_g"
)

// Ingredient is a single line of a recipe.
type Ingredient struct {
	Name  string
	Grams *float64
}

// Macros holds per-serving nutrition. A nil field means the value is unknown.
type Macros struct {
	Kcal     *float64
	ProteinG *float64
	CarbsG   *float64
	FatG     *float64
	FiberG   *float64
}

// Value returns the value of the given nutrient and whether it is known.
func (m Macros) Value(n Nutrient) (float64, bool) {
	var p *float64
	switch n {
	case NutrientKcal:
		p = m.Kcal
	case NutrientProtein:
		p = m.ProteinG
	case NutrientCarbs:
		p = m.CarbsG
	case NutrientFat:
		p = m.FatG
	case NutrientFiber:
		p = m.FiberG
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// IsEmpty reports whether no nutrient is known.
func (m Macros) IsEmpty() bool {
	return m.Kcal == nil && m.ProteinG == nil && m.CarbsG == nil && m.FatG == nil && m.FiberG == nil
}

// Recipe is a catalog item. The catalog owns recipes; retrieval only reads them.
type Recipe struct {
	ID           string
	Title        string
	Tags         []string
	Ingredients  []Ingredient
	Macros       Macros
	Instructions []string
}

// IngredientNames returns ingredient names in catalog order, skipping blanks.
func (r Recipe) IngredientNames() []string {
	names := make([]string, 0, len(r.Ingredients))
	for _, ing := range r.Ingredients {
		if n := strings.TrimSpace(ing.Name); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// HasTag reports whether the recipe carries any of the given tags (case-insensitive).
func (r Recipe) HasTag(tags ...string) bool {
	for _, have := range r.Tags {
		for _, want := range tags {
			if strings.EqualFold(strings.TrimSpace(have), want) {
				return true
			}
		}
	}
	return false
}

// Float returns a pointer to v. Handy for building Macros literals.
func Float(v float64) *float64 {
	return &v
}
