// Fallback ladder construction.
//
// DESIGN: Level 0 is the fully-specified query. Each subsequent level
// relaxes exactly one dimension in a fixed priority order (price ceiling,
// then vehicle category, then search radius, then date flexibility), so
// the ladder is deterministic for a given slot set. The last level carries
// only the mandatory location/date filters. Search runs level by level and
// stops at the first level returning at least one candidate; the chosen
// level is recorded on the session so the assistant can tell the user the
// criteria were relaxed.
package intent

import "github.com/driveline/concierge/internal/session"

// Default search geometry.
const (
	// DefaultRadiusKm is the strict pickup radius.
	DefaultRadiusKm = 25
	// RelaxedRadiusKm is the widened radius used after the radius rung.
	RelaxedRadiusKm = 100
	// RelaxedDateFlexDays is the ± window granted by the date-flex rung.
	RelaxedDateFlexDays = 2
)

// Query is one rung of the ladder: a concrete inventory filter set.
type Query struct {
	Location string `json:"location"`
	Start    string `json:"start"`
	End      string `json:"end"`
	// Category is empty when the category filter was relaxed or never set.
	Category string `json:"category,omitempty"`
	// MaxPricePerDay is 0 when the price ceiling was relaxed or never set.
	MaxPricePerDay float64 `json:"max_price_per_day,omitempty"`
	RadiusKm       int     `json:"radius_km"`
	DateFlexDays   int     `json:"date_flex_days"`
}

// relaxation names one ladder dimension, in priority order.
type relaxation int

const (
	relaxPrice relaxation = iota
	relaxCategory
	relaxRadius
	relaxDateFlex
)

// BuildLadder constructs the ordered query ladder for a slot set.
// Slots must contain the mandatory location and dates; callers check
// HasMinimum first.
func BuildLadder(slots session.Slots) []Query {
	base := Query{
		Location: *slots.Location,
		Start:    slots.Dates.Start,
		End:      slots.Dates.End,
		RadiusKm: DefaultRadiusKm,
	}
	if slots.Category != nil {
		base.Category = *slots.Category
	}
	if slots.BudgetPerDay != nil {
		base.MaxPricePerDay = *slots.BudgetPerDay
	}

	// Only dimensions actually constrained get a rung. Radius and date
	// flex always apply: widening them is meaningful for any query.
	var steps []relaxation
	if base.MaxPricePerDay > 0 {
		steps = append(steps, relaxPrice)
	}
	if base.Category != "" {
		steps = append(steps, relaxCategory)
	}
	steps = append(steps, relaxRadius, relaxDateFlex)

	ladder := make([]Query, 0, len(steps)+1)
	ladder = append(ladder, base)

	current := base
	for _, step := range steps {
		switch step {
		case relaxPrice:
			current.MaxPricePerDay = 0
		case relaxCategory:
			current.Category = ""
		case relaxRadius:
			current.RadiusKm = RelaxedRadiusKm
		case relaxDateFlex:
			current.DateFlexDays = RelaxedDateFlexDays
		}
		ladder = append(ladder, current)
	}
	return ladder
}
