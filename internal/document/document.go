// Package document renders recipes and queries into the canonical text that
// gets embedded. Equal inputs always render to byte-identical text.
package document

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kailas-cloud/recipedex/internal/domain"
	"github.com/kailas-cloud/recipedex/internal/domain/query"
	"github.com/kailas-cloud/recipedex/internal/textnorm"
)

// Separator joins document fields.
const Separator = " | "

// InstructionsExcerptRunes bounds the instructions part of a recipe document.
const InstructionsExcerptRunes = 240

// Field labels of a recipe document.
const (
	labelTitle       = "title: "
	labelTags        = "tags: "
	labelIngredients = "ingredients: "
	labelSteps       = "steps: "
)

var fieldLabels = []string{labelTitle, labelTags, labelIngredients, labelSteps}

// Build renders a recipe as title, tags, ingredient names and an instructions
// excerpt, each normalized and labeled. Empty fields are omitted. Tags are
// sorted because the catalog treats them as a set; ingredients keep catalog order.
func Build(r domain.Recipe) string {
	var parts []string
	if title := textnorm.Normalize(r.Title); title != "" {
		parts = append(parts, labelTitle+title)
	}
	if tags := normalizeAll(r.Tags); len(tags) > 0 {
		sort.Strings(tags)
		parts = append(parts, labelTags+strings.Join(dedupSorted(tags), ", "))
	}
	if names := normalizeAll(r.IngredientNames()); len(names) > 0 {
		parts = append(parts, labelIngredients+strings.Join(names, ", "))
	}
	if steps := excerpt(r.Instructions); steps != "" {
		parts = append(parts, labelSteps+steps)
	}
	return strings.Join(parts, Separator)
}

// Tokens returns the tokens of a recipe document's field values. Field
// labels are not part of the recipe and are left out.
func Tokens(doc string) []string {
	var out []string
	for _, part := range strings.Split(doc, Separator) {
		for _, label := range fieldLabels {
			if rest, ok := strings.CutPrefix(part, label); ok {
				part = rest
				break
			}
		}
		out = append(out, textnorm.Tokenize(part)...)
	}
	return out
}

// BuildQuery renders a validated query. See BuildQueryText.
func BuildQuery(q query.Query) string {
	return BuildQueryText(q.Message(), q.Preferences(), q.Constraints(), q.Servings())
}

// BuildQueryText renders the normalized message, a servings hint, enabled
// preferences, cuisines, required ingredients and constraints, in that order.
// Set-valued parts are sorted so logically equal queries render equally.
func BuildQueryText(message string, prefs query.Preferences, cs query.Constraints, servings int) string {
	var parts []string
	if msg := textnorm.Normalize(message); msg != "" {
		parts = append(parts, msg)
	}
	if servings > 0 {
		parts = append(parts, "servings "+strconv.Itoa(servings))
	}
	if enabled := prefs.Enabled(); len(enabled) > 0 {
		names := make([]string, len(enabled))
		for i, p := range enabled {
			names[i] = string(p)
		}
		parts = append(parts, "preferences: "+strings.Join(names, ", "))
	}
	if cuisines := prefs.Cuisines(); len(cuisines) > 0 {
		parts = append(parts, "cuisine: "+strings.Join(cuisines, ", "))
	}
	if required := prefs.Required(); len(required) > 0 {
		parts = append(parts, "with: "+strings.Join(required, ", "))
	}
	if !cs.IsEmpty() {
		parts = append(parts, "constraints: "+strings.Join(cs.Strings(), ", "))
	}
	return strings.Join(parts, Separator)
}

func normalizeAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if n := textnorm.Normalize(v); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func dedupSorted(values []string) []string {
	out := values[:0]
	for i, v := range values {
		if i == 0 || v != values[i-1] {
			out = append(out, v)
		}
	}
	return out
}

func excerpt(instructions []string) string {
	text := textnorm.Normalize(strings.Join(instructions, " "))
	if utf8.RuneCountInString(text) <= InstructionsExcerptRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:InstructionsExcerptRunes]))
}
