package query

import (
	"fmt"

	"github.com/kailas-cloud/recipedex/internal/domain"
)

// MaxServings caps the servings hint accepted from a request.
const MaxServings = 64

// Query is a validated retrieval request: free text plus structured intent.
type Query struct {
	message     string
	preferences Preferences
	constraints Constraints
	servings    int
}

// New validates and creates a Query.
func New(message string, prefs Preferences, cs Constraints, servings int) (Query, error) {
	if servings < 0 || servings > MaxServings {
		return Query{}, fmt.Errorf("%w: servings must be between 0 and %d", domain.ErrInvalidConstraint, MaxServings)
	}
	return Query{
		message:     message,
		preferences: prefs,
		constraints: cs,
		servings:    servings,
	}, nil
}

// Message returns the raw user message.
func (q Query) Message() string { return q.message }

// Preferences returns the dietary preferences.
func (q Query) Preferences() Preferences { return q.preferences }

// Constraints returns the nutrition constraints.
func (q Query) Constraints() Constraints { return q.constraints }

// Servings returns the servings hint, 0 when unset.
func (q Query) Servings() int { return q.servings }
