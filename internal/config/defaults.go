// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// TOKEN ESTIMATION
// =============================================================================

// TokenEstimateRatio is the approximate number of characters per token.
// Used for rough token counting when the tokenizer is unavailable.
const TokenEstimateRatio = 4

// =============================================================================
// SERVER
// =============================================================================

// DefaultServerPort is the default HTTP listen port.
const DefaultServerPort = 8480

// DefaultServerReadTimeout for the HTTP server.
const DefaultServerReadTimeout = 30 * time.Second

// DefaultServerWriteTimeout for the HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 10 * time.Minute

// MaxRequestBodySize is the maximum allowed request body. Chat turns are small.
const MaxRequestBodySize = 1 * 1024 * 1024

// =============================================================================
// MODEL INVOCATION
// =============================================================================

// DefaultModelTimeout is the deadline for a single model call.
const DefaultModelTimeout = 120 * time.Second

// DefaultModelRetries is how many times a timed-out or failed model call
// is retried before the turn is surfaced as an error.
const DefaultModelRetries = 1

// DefaultRetryBackoff is the pause before a model call retry.
const DefaultRetryBackoff = 500 * time.Millisecond

// DefaultMaxResponseTokens caps model output per call.
const DefaultMaxResponseTokens = 2048

// DefaultReasoningTokenThreshold is the estimated input token count above
// which extended reasoning is considered for capable models.
const DefaultReasoningTokenThreshold = 220

// DefaultReasoningBudgetTokens is the thinking budget granted when
// extended reasoning is escalated.
const DefaultReasoningBudgetTokens = 4096

// =============================================================================
// TURN LOOP
// =============================================================================

// DefaultMaxToolLoops bounds model→tool→model iterations within one turn.
const DefaultMaxToolLoops = 6

// DefaultToolWorkers is the concurrent tool execution pool size per turn.
const DefaultToolWorkers = 4

// DefaultToolTimeout is the deadline for a single tool adapter call.
const DefaultToolTimeout = 15 * time.Second

// =============================================================================
// SECURITY GATE
// =============================================================================

// DefaultRatePerMinute is allowed turns per minute per caller identity.
const DefaultRatePerMinute = 20

// DefaultRateBurst is the token bucket burst size.
const DefaultRateBurst = 5

// MaxRateLimitBuckets prevents memory exhaustion from too many identity buckets.
const MaxRateLimitBuckets = 10000

// DefaultMaxInputLength rejects pathologically long single utterances.
const DefaultMaxInputLength = 8 * 1024

// =============================================================================
// CLEANUP AND MAINTENANCE
// =============================================================================

// DefaultCleanupInterval is the frequency for background cleanup goroutines.
const DefaultCleanupInterval = 5 * time.Minute

// DefaultStaleTimeout is when rate-limit buckets are considered stale.
const DefaultStaleTimeout = 10 * time.Minute

// DefaultLedgerTTL is how long idle budget ledgers are retained.
const DefaultLedgerTTL = 24 * time.Hour

// =============================================================================
// CONFIG PROVIDER
// =============================================================================

// DefaultConfigTTL is how long a config snapshot is served before the
// provider re-reads its source.
const DefaultConfigTTL = 30 * time.Second

// =============================================================================
// EXTERNAL SERVICES
// =============================================================================

// DefaultInventoryTimeout is the deadline for inventory search calls.
const DefaultInventoryTimeout = 8 * time.Second

// DefaultRiskTimeout is the deadline for risk service calls.
const DefaultRiskTimeout = 8 * time.Second

// DefaultWeatherTimeout is the deadline for weather lookups.
const DefaultWeatherTimeout = 5 * time.Second

// =============================================================================
// BATCH ANALYTICS
// =============================================================================

// DefaultAnalyticsInterval is how often completed sessions are swept.
const DefaultAnalyticsInterval = 15 * time.Minute

// DefaultBatchPollInterval is how often a submitted batch job is polled.
const DefaultBatchPollInterval = 30 * time.Second

// DefaultAbandonAfter is the inactivity window after which a live session
// is marked abandoned by the sweep.
const DefaultAbandonAfter = 2 * time.Hour

// =============================================================================
// STREAMING
// =============================================================================

// DefaultBufferSize is the standard I/O buffer size.
const DefaultBufferSize = 4096
