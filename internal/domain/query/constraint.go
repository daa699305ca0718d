package query

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/kailas-cloud/recipedex/internal/domain"
)

// Kind names a nutrition constraint.
type Kind string

// Supported constraint kinds. Max and min kinds are hard: violating items are
// excluded before scoring. TargetKcal is soft and only shapes nutrition fit.
const (
	MaxKcal     Kind = "max_kcal"
	MinKcal     Kind = "min_kcal"
	MaxProteinG Kind = "max_protein_g"
	MinProteinG Kind = "min_protein_g"
	MaxCarbsG   Kind = "max_carbs_g"
	MinCarbsG   Kind = "min_carbs_g"
	MaxFatG     Kind = "max_fat_g"
	MinFatG     Kind = "min_fat_g"
	MinFiberG   Kind = "min_fiber_g"
	TargetKcal  Kind = "target_kcal"
)

// Bound describes which side of the threshold a constraint guards.
type Bound int

// Bounds.
const (
	Upper Bound = iota
	Lower
	Target
)

type kindSpec struct {
	nutrient domain.Nutrient
	bound    Bound
}

var kinds = map[Kind]kindSpec{
	MaxKcal:     {domain.NutrientKcal, Upper},
	MinKcal:     {domain.NutrientKcal, Lower},
	MaxProteinG: {domain.NutrientProtein, Upper},
	MinProteinG: {domain.NutrientProtein, Lower},
	MaxCarbsG:   {domain.NutrientCarbs, Upper},
	MinCarbsG:   {domain.NutrientCarbs, Lower},
	MaxFatG:     {domain.NutrientFat, Upper},
	MinFatG:     {domain.NutrientFat, Lower},
	MinFiberG:   {domain.NutrientFiber, Lower},
	TargetKcal:  {domain.NutrientKcal, Target},
}

// aliases accepted on input for compatibility with older clients.
var aliases = map[string]Kind{
	"remaining_kcal": TargetKcal,
	"min_protein":    MinProteinG,
	"max_protein":    MaxProteinG,
	"max_carbs":      MaxCarbsG,
	"max_fat":        MaxFatG,
}

// Kinds returns every supported kind in sorted order.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func joinKinds(ks []Kind) string {
	names := make([]string, len(ks))
	for i, k := range ks {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

// Constraint is a validated nutrition bound.
type Constraint struct {
	kind      Kind
	threshold float64
}

// NewConstraint validates and creates a Constraint.
func NewConstraint(kind Kind, threshold float64) (Constraint, error) {
	if _, ok := kinds[kind]; !ok {
		return Constraint{}, fmt.Errorf("%w: unknown kind %q (supported: %s)",
			domain.ErrInvalidConstraint, kind, joinKinds(Kinds()))
	}
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return Constraint{}, fmt.Errorf("%w: %s must be finite", domain.ErrInvalidConstraint, kind)
	}
	if threshold < 0 {
		return Constraint{}, fmt.Errorf("%w: %s must not be negative", domain.ErrInvalidConstraint, kind)
	}
	return Constraint{kind: kind, threshold: threshold}, nil
}

// Kind returns the constraint kind.
func (c Constraint) Kind() Kind { return c.kind }

// Threshold returns the bound value.
func (c Constraint) Threshold() float64 { return c.threshold }

// Nutrient returns the macro this constraint reads.
func (c Constraint) Nutrient() domain.Nutrient { return kinds[c.kind].nutrient }

// Bound returns which side of the threshold is guarded.
func (c Constraint) Bound() Bound { return kinds[c.kind].bound }

// IsHard reports whether violating items must be excluded.
func (c Constraint) IsHard() bool { return c.Bound() != Target }

// Excess returns how far value lies outside the allowed side, 0 when satisfied.
// For a target constraint it is the absolute distance to the target.
func (c Constraint) Excess(value float64) float64 {
	switch c.Bound() {
	case Upper:
		return math.Max(0, value-c.threshold)
	case Lower:
		return math.Max(0, c.threshold-value)
	default:
		return math.Abs(value - c.threshold)
	}
}

// Satisfied reports whether value respects a hard constraint. Target constraints
// are always satisfied.
func (c Constraint) Satisfied(value float64) bool {
	if !c.IsHard() {
		return true
	}
	return c.Excess(value) == 0
}

// String renders the constraint as kind=value.
func (c Constraint) String() string {
	return string(c.kind) + "=" + strconv.FormatFloat(c.threshold, 'f', -1, 64)
}

// Constraints is a canonical, kind-sorted set with at most one entry per kind.
type Constraints []Constraint

// NewConstraints sorts cs by kind and rejects duplicates.
func NewConstraints(cs ...Constraint) (Constraints, error) {
	out := make(Constraints, len(cs))
	copy(out, cs)
	sort.Slice(out, func(i, j int) bool { return out[i].kind < out[j].kind })
	for i := 1; i < len(out); i++ {
		if out[i].kind == out[i-1].kind {
			return nil, fmt.Errorf("%w: duplicate kind %q", domain.ErrInvalidConstraint, out[i].kind)
		}
	}
	return out, nil
}

// ParseConstraints builds Constraints from loosely typed input such as decoded
// JSON or CLI flags. Values may be numbers, json.Number or numeric strings.
func ParseConstraints(raw map[string]any) (Constraints, error) {
	cs := make([]Constraint, 0, len(raw))
	for name, v := range raw {
		if v == nil {
			continue
		}
		kind := canonicalKind(name)
		threshold, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrInvalidConstraint, name, err)
		}
		c, err := NewConstraint(kind, threshold)
		if err != nil {
			return nil, err
		}
		cs = append(cs, c)
	}
	return NewConstraints(cs...)
}

// ParseConstraint parses a single "kind=value" pair.
func ParseConstraint(pair string) (Constraint, error) {
	name, value, ok := strings.Cut(pair, "=")
	if !ok {
		return Constraint{}, fmt.Errorf("%w: expected kind=value, got %q", domain.ErrInvalidConstraint, pair)
	}
	threshold, err := toFloat(strings.TrimSpace(value))
	if err != nil {
		return Constraint{}, fmt.Errorf("%w: %s: %w", domain.ErrInvalidConstraint, name, err)
	}
	return NewConstraint(canonicalKind(name), threshold)
}

// Hard returns only the constraints that exclude items.
func (cs Constraints) Hard() Constraints {
	var out Constraints
	for _, c := range cs {
		if c.IsHard() {
			out = append(out, c)
		}
	}
	return out
}

// Get returns the constraint of the given kind.
func (cs Constraints) Get(kind Kind) (Constraint, bool) {
	for _, c := range cs {
		if c.kind == kind {
			return c, true
		}
	}
	return Constraint{}, false
}

// IsEmpty reports whether no constraint is set.
func (cs Constraints) IsEmpty() bool { return len(cs) == 0 }

// Strings renders each constraint as kind=value in canonical order.
func (cs Constraints) Strings() []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.String()
	}
	return out
}

func canonicalKind(name string) Kind {
	name = strings.ToLower(strings.TrimSpace(name))
	if k, ok := aliases[name]; ok {
		return k
	}
	return Kind(name)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}
