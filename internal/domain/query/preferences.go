package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/recipedex/internal/domain"
)

// Preference is a dietary flag. Enabled flags are hard filters on recipe tags.
type Preference string

// Supported preferences.
const (
	Vegan       Preference = "vegan"
	Vegetarian  Preference = "vegetarian"
	NoPork      Preference = "no_pork"
	GlutenFree  Preference = "gluten_free"
	LactoseFree Preference = "lactose_free"
)

var preferenceAliases = map[string]Preference{
	"vegan":        Vegan,
	"vegetarian":   Vegetarian,
	"veggie":       Vegetarian,
	"vegetarisch":  Vegetarian,
	"no_pork":      NoPork,
	"gluten_free":  GlutenFree,
	"lactose_free": LactoseFree,
}

// Preferences is a validated set of dietary flags plus soft cuisine bias and
// required ingredients.
type Preferences struct {
	flags    map[Preference]bool
	cuisines []string
	required []string
}

// NewPreferences validates flag names and normalizes cuisines and required ingredients.
func NewPreferences(flags map[string]bool, cuisines, required []string) (Preferences, error) {
	p := Preferences{flags: make(map[Preference]bool, len(flags))}
	for name, on := range flags {
		pref, ok := preferenceAliases[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return Preferences{}, fmt.Errorf("%w: unknown preference %q", domain.ErrInvalidConstraint, name)
		}
		if on {
			p.flags[pref] = true
		}
	}
	p.cuisines = normalizeSet(cuisines)
	p.required = normalizeSet(required)
	return p, nil
}

// Enabled returns enabled flags in sorted order.
func (p Preferences) Enabled() []Preference {
	out := make([]Preference, 0, len(p.flags))
	for pref, on := range p.flags {
		if on {
			out = append(out, pref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Cuisines returns lowercased, deduplicated cuisine tags in sorted order.
func (p Preferences) Cuisines() []string { return p.cuisines }

// Required returns lowercased ingredient names every kept recipe must contain.
func (p Preferences) Required() []string { return p.required }

// IsEmpty reports whether no preference is set.
func (p Preferences) IsEmpty() bool {
	return len(p.Enabled()) == 0 && len(p.cuisines) == 0 && len(p.required) == 0
}

func normalizeSet(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
