// Package budget implements token accounting and cost ceilings.
//
// DESIGN: Tracking is always on; enforcement only applies when the budget
// config enables it. Per-session and per-identity ledgers live behind one
// RWMutex, while the global total is an atomic nano-dollar counter so the
// pre-call ceiling check never takes the write lock.
package budget

import (
	"strings"

	"github.com/driveline/concierge/internal/config"
)

// ModelPricing holds per-million-token pricing for a model.
type ModelPricing struct {
	InputPerMTok  float64 // USD per million input tokens
	OutputPerMTok float64 // USD per million output tokens
}

// modelPricingTable maps model names to their pricing.
var modelPricingTable = map[string]ModelPricing{
	// Claude 4.x (dated)
	"claude-opus-4-0-20250514":   {InputPerMTok: 15, OutputPerMTok: 75},
	"claude-sonnet-4-5-20250929": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-sonnet-4-0-20250514": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku-4-5-20251001":  {InputPerMTok: 1, OutputPerMTok: 5},

	// Claude short aliases
	"claude-sonnet-4-5": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-sonnet-4-0": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku-4-5":  {InputPerMTok: 1, OutputPerMTok: 5},

	// Claude 3.x
	"claude-3-5-sonnet-20241022": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-3-5-haiku-20241022":  {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-3-haiku-20240307":    {InputPerMTok: 0.25, OutputPerMTok: 1.25},
}

// defaultPricing is used for unknown models (conservative to prevent silent overspend).
var defaultPricing = ModelPricing{InputPerMTok: 15, OutputPerMTok: 75}

// modelFamilyPricing maps model family prefixes to pricing.
// Ordered longest-prefix-first in lookup so a version-specific family wins
// over its broad family.
var modelFamilyPricing = map[string]ModelPricing{
	"claude-opus-4-0":   {InputPerMTok: 15, OutputPerMTok: 75},
	"claude-sonnet-4-5": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-sonnet-4-0": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku-4-5":  {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-3-5-sonnet": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-3-5-haiku":  {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-3-haiku":    {InputPerMTok: 0.25, OutputPerMTok: 1.25},

	// Broad families (fallback)
	"claude-opus":   {InputPerMTok: 15, OutputPerMTok: 75},
	"claude-sonnet": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku":  {InputPerMTok: 1, OutputPerMTok: 5},
}

// PriceTable resolves model pricing with config overrides layered on top of
// the built-in table.
type PriceTable struct {
	overrides map[string]ModelPricing
}

// NewPriceTable builds a table from config overrides (may be nil).
func NewPriceTable(overrides map[string]config.PriceOverride) *PriceTable {
	t := &PriceTable{overrides: make(map[string]ModelPricing, len(overrides))}
	for model, p := range overrides {
		t.overrides[model] = ModelPricing{
			InputPerMTok:  p.InputPerMTok,
			OutputPerMTok: p.OutputPerMTok,
		}
	}
	return t
}

// Lookup returns pricing for a model.
// Tries config override, then exact match, then prefix/family match
// (longest prefix wins), then default.
func (t *PriceTable) Lookup(model string) ModelPricing {
	if t != nil {
		if p, ok := t.overrides[model]; ok {
			return p
		}
	}
	if p, ok := modelPricingTable[model]; ok {
		return p
	}

	bestPrefix := ""
	var bestPricing ModelPricing
	for prefix, p := range modelFamilyPricing {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
			bestPricing = p
		}
	}
	if bestPrefix != "" {
		return bestPricing
	}
	return defaultPricing
}

// CalculateCost computes the cost in USD from token counts.
// Cache writes bill at 1.25x input rate, cache reads at 0.1x. Reasoning
// tokens are billed as output.
func CalculateCost(input, output, cacheRead, cacheWrite, reasoning int64, pricing ModelPricing) float64 {
	inputCost := float64(input) / 1_000_000 * pricing.InputPerMTok
	outputCost := float64(output+reasoning) / 1_000_000 * pricing.OutputPerMTok
	cacheWriteCost := float64(cacheWrite) / 1_000_000 * pricing.InputPerMTok * 1.25
	cacheReadCost := float64(cacheRead) / 1_000_000 * pricing.InputPerMTok * 0.1
	return inputCost + outputCost + cacheWriteCost + cacheReadCost
}
