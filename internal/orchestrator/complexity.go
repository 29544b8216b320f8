package orchestrator

// ============================================================================
// Extended-reasoning complexity heuristic
// ============================================================================
//
// Reasoning budgets cost real tokens, so escalation is earned: the input has
// to be long, ambiguous, or multi-constraint before the turn pays for it.

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"github.com/driveline/concierge/internal/config"
)

// ambiguityMarkers are phrasings that correlate with underspecified or
// conflicting requests.
var ambiguityMarkers = []string{
	"not sure", "maybe", "either", "or maybe", "whichever", "whatever works",
	"flexible", "depends", "something like", "roughly", "around", "if possible",
	"unless", "on the other hand", "torn between",
}

// constraintMarkers each signal one hard constraint dimension.
var constraintMarkers = []string{
	"under $", "at most", "no more than", "cheapest", "budget",
	"automatic", "manual", "seats", "4wd", "awd", "tow",
	"no deposit", "deposit", "insurance", "unlimited miles", "mileage",
	"child seat", "pet", "one-way", "drop off", "airport",
}

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// tokenCount measures input length in model tokens, falling back to a
// bytes/4 estimate if the encoding fails to load.
func tokenCount(text string) int {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Warn().Err(err).Msg("complexity: token encoding unavailable, using estimate")
			return
		}
		encoder = enc
	})
	if encoder == nil {
		return len(text) / config.TokenEstimateRatio
	}
	return len(encoder.Encode(text, nil, nil))
}

// needsExtendedReasoning decides whether this input crosses the reasoning
// threshold: token length alone, or a shorter input dense with ambiguity
// or stacked constraints.
func needsExtendedReasoning(input string, cfg config.ReasoningConfig) bool {
	if !cfg.Enabled {
		return false
	}

	tokens := tokenCount(input)
	if tokens >= cfg.TokenThreshold {
		return true
	}

	lower := strings.ToLower(input)
	ambiguity := 0
	for _, marker := range ambiguityMarkers {
		if strings.Contains(lower, marker) {
			ambiguity++
		}
	}
	constraints := 0
	for _, marker := range constraintMarkers {
		if strings.Contains(lower, marker) {
			constraints++
		}
	}

	// Half the length threshold plus dense qualifiers is enough.
	if tokens >= cfg.TokenThreshold/2 && (ambiguity >= 2 || constraints >= 3) {
		return true
	}
	return ambiguity >= 3 || constraints >= 4
}
