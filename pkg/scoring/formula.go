// Package scoring implements the Vicinia liveability scoring pipeline:
// distance-to-score transforms, per-category aggregation, weighted overall
// scoring and the orchestration of the upstream collaborators.
package scoring

// Formula shape tags. Only linear scoring is implemented; other tags are
// accepted as data and fall back to linear behavior.
const (
	ShapeLinear      = "linear"
	ShapeExponential = "exponential"
	ShapeCustom      = "custom"
)

// Formula holds the parameters governing how a raw distance converts to a
// 0-10 score for a category.
type Formula struct {
	Category      string  `json:"category"`
	BaseScore     float64 `json:"baseScore"`
	MaxDistanceKm float64 `json:"maxDistanceKm"`
	Weight        float64 `json:"weight"`
	Shape         string  `json:"formula"`
}

// DefaultFormula returns the fallback formula applied to categories that are
// not present in the registry.
func DefaultFormula() Formula {
	return Formula{
		BaseScore:     10.0,
		MaxDistanceKm: 5.0,
		Weight:        1.0,
		Shape:         ShapeLinear,
	}
}

// Registry maps POI categories to their scoring formulas. It is constructed
// once at startup and never mutated afterwards, so it is safe to share
// across concurrent requests without synchronization.
type Registry struct {
	formulas map[string]Formula
	ordered  []Formula
}

// NewRegistry builds the registry with the seeded category formulas.
// The seed table is the single source of truth also returned by the
// list_formulas introspection tool.
func NewRegistry() *Registry {
	seed := []Formula{
		{Category: "schools", BaseScore: 10.0, MaxDistanceKm: 3.0, Weight: 1.2, Shape: ShapeLinear},
		{Category: "hospitals", BaseScore: 10.0, MaxDistanceKm: 5.0, Weight: 1.5, Shape: ShapeLinear},
		{Category: "supermarkets", BaseScore: 10.0, MaxDistanceKm: 2.0, Weight: 1.0, Shape: ShapeLinear},
		{Category: "pharmacies", BaseScore: 10.0, MaxDistanceKm: 1.5, Weight: 0.8, Shape: ShapeLinear},
		{Category: "banks", BaseScore: 10.0, MaxDistanceKm: 2.0, Weight: 0.6, Shape: ShapeLinear},
		{Category: "post_offices", BaseScore: 10.0, MaxDistanceKm: 3.0, Weight: 0.5, Shape: ShapeLinear},
	}

	formulas := make(map[string]Formula, len(seed))
	for _, f := range seed {
		formulas[f.Category] = f
	}

	return &Registry{
		formulas: formulas,
		ordered:  seed,
	}
}

// Lookup returns the formula registered for a category. The match is exact
// and case-sensitive; unknown categories receive the default formula.
// Lookup never fails.
func (r *Registry) Lookup(category string) Formula {
	if f, ok := r.formulas[category]; ok {
		return f
	}
	f := DefaultFormula()
	f.Category = category
	return f
}

// Weight returns the aggregation weight for a category. Categories not in
// the registry borrow weight 1.0 for the overall aggregation step.
func (r *Registry) Weight(category string) float64 {
	if f, ok := r.formulas[category]; ok {
		return f.Weight
	}
	return 1.0
}

// Formulas returns the seeded formulas in registration order. The returned
// slice is a copy; callers may not mutate the registry through it.
func (r *Registry) Formulas() []Formula {
	out := make([]Formula, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Categories returns the registered category names in registration order.
func (r *Registry) Categories() []string {
	out := make([]string, len(r.ordered))
	for i, f := range r.ordered {
		out[i] = f.Category
	}
	return out
}
