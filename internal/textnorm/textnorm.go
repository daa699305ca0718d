// Package textnorm canonicalizes free text so that equal meaning produces
// equal strings and token sets.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// negationMarkers introduce a term the user wants excluded ("no mango", "ohne nüsse").
var negationMarkers = map[string]bool{
	"no":      true,
	"not":     true,
	"without": true,
	"ohne":    true,
	"kein":    true,
	"keine":   true,
	"keinen":  true,
	"keiner":  true,
	"sans":    true,
	"sin":     true,
	"senza":   true,
}

// Normalize applies NFKC, lowercases, collapses whitespace runs to a single
// space and trims. Diacritics are kept. Normalize is idempotent.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	s := norm.NFKC.String(text)
	s = norm.NFKC.String(cases.Lower(language.Und).String(s))
	return strings.Join(strings.Fields(s), " ")
}

// Tokenize normalizes text and splits it into maximal runs of letters, digits
// and combining marks. Punctuation and symbols separate tokens.
func Tokenize(text string) []string {
	n := Normalize(text)
	if n == "" {
		return nil
	}
	return strings.FieldsFunc(n, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
	})
}

// TokenSet returns the distinct tokens of text.
func TokenSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// NegativeTerms returns the distinct tokens that directly follow a negation
// marker, in order of first appearance.
func NegativeTerms(text string) []string {
	tokens := Tokenize(text)
	seen := make(map[string]bool)
	var out []string
	for i := 0; i < len(tokens)-1; i++ {
		if !negationMarkers[tokens[i]] {
			continue
		}
		term := tokens[i+1]
		if negationMarkers[term] || seen[term] {
			continue
		}
		seen[term] = true
		out = append(out, term)
	}
	return out
}

// IsNegationMarker reports whether token introduces an excluded term.
func IsNegationMarker(token string) bool {
	return negationMarkers[token]
}
