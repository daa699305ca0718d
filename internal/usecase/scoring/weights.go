package scoring

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidWeights is returned when weights are negative, not finite or all zero.
var ErrInvalidWeights = errors.New("invalid scoring weights")

// Weights combine component scores into the final score. They are caller
// configuration and may be overridden per request.
type Weights struct {
	Semantic   float64 `yaml:"semantic" json:"semantic"`
	Nutrition  float64 `yaml:"nutrition" json:"nutrition"`
	Ingredient float64 `yaml:"ingredient" json:"ingredient"`
	// Keyword applies only when the semantic score is absent. Zero means
	// keyword overlap takes the semantic weight.
	Keyword float64 `yaml:"keyword" json:"keyword"`
}

// Validate checks that every weight is finite and non-negative, and that at
// least one is positive.
func (w Weights) Validate() error {
	named := []struct {
		name  string
		value float64
	}{
		{"semantic", w.Semantic},
		{"nutrition", w.Nutrition},
		{"ingredient", w.Ingredient},
		{"keyword", w.Keyword},
	}
	var sum float64
	for _, n := range named {
		if math.IsNaN(n.value) || math.IsInf(n.value, 0) {
			return fmt.Errorf("%w: %s must be finite", ErrInvalidWeights, n.name)
		}
		if n.value < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidWeights, n.name)
		}
		sum += n.value
	}
	if sum == 0 {
		return fmt.Errorf("%w: all weights are zero", ErrInvalidWeights)
	}
	return nil
}

// IsZero reports whether no weight is set. Requests use it to fall back to
// the configured weights.
func (w Weights) IsZero() bool {
	return w == Weights{}
}

func (w Weights) keyword() float64 {
	if w.Keyword > 0 {
		return w.Keyword
	}
	return w.Semantic
}
