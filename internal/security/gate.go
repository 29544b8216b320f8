// Package security implements per-request admission control.
//
// DESIGN: Three cheap checks run in order before any model or tool
// invocation: (a) sliding-window rate limit per caller identity,
// (b) bot/automation heuristics on request metadata, (c) injection
// signature screening of the raw input. A Block short-circuits the turn;
// the orchestrator returns a fixed refusal message and never echoes the
// offending input back.
package security

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/driveline/concierge/internal/config"
)

// BlockReason classifies why admission was refused.
type BlockReason string

const (
	ReasonRateLimited    BlockReason = "rate_limited"
	ReasonSuspectedAbuse BlockReason = "suspected_abuse"
	ReasonUnsafeInput    BlockReason = "unsafe_input"
)

// refusals are the fixed, non-leaking messages returned on a block.
var refusals = map[BlockReason]string{
	ReasonRateLimited:    "You're sending messages too quickly. Please wait a moment and try again.",
	ReasonSuspectedAbuse: "We couldn't process this request. If you believe this is a mistake, please contact support.",
	ReasonUnsafeInput:    "I can't help with that request. Let's get back to finding you a vehicle.",
}

// Decision is the outcome of Admit.
type Decision struct {
	Allowed bool
	Reason  BlockReason
	// Refusal is the safe user-facing message for blocked requests.
	Refusal string
}

// allow is the shared allowed decision.
var allow = Decision{Allowed: true}

func block(reason BlockReason) Decision {
	return Decision{Reason: reason, Refusal: refusals[reason]}
}

// RequestMeta is the transport metadata the bot heuristics inspect.
// The gate never sees transport concerns beyond this.
type RequestMeta struct {
	UserAgent string
	// ClientIP is informational for logging; identity is the rate key.
	ClientIP string
}

// bucket holds a limiter and last-seen time for one caller identity.
// limit and burst record the settings the limiter currently runs with, so
// a config refresh can be detected and pushed into it.
type bucket struct {
	limiter  *rate.Limiter
	limit    rate.Limit
	burst    int
	lastSeen time.Time
}

// Gate is the admission controller. Safe for concurrent use.
type Gate struct {
	cfg *config.Provider

	mu          sync.Mutex
	buckets     map[string]*bucket
	lastCleanup time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewGate creates a gate reading its tunables from the config provider.
func NewGate(cfg *config.Provider) *Gate {
	return &Gate{
		cfg:         cfg,
		buckets:     make(map[string]*bucket),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Admit runs the admission checks in order. It is cheap: no I/O, no model
// calls, bounded memory.
func (g *Gate) Admit(identity, rawInput string, meta RequestMeta) Decision {
	sec := g.cfg.Snapshot().Security

	if !g.allowRate(identity, sec) {
		log.Warn().Str("identity", identity).Str("ip", meta.ClientIP).Msg("gate: rate limit exceeded")
		return block(ReasonRateLimited)
	}

	if sec.BotDetection && looksAutomated(meta.UserAgent) {
		log.Warn().Str("identity", identity).Str("user_agent", meta.UserAgent).Msg("gate: automation suspected")
		return block(ReasonSuspectedAbuse)
	}

	if sec.InjectionScan {
		if len(rawInput) > sec.MaxInputLength {
			log.Warn().Str("identity", identity).Int("length", len(rawInput)).Msg("gate: oversized input")
			return block(ReasonUnsafeInput)
		}
		if sig := matchInjection(rawInput); sig != "" {
			// Log the signature, never the input itself.
			log.Warn().Str("identity", identity).Str("signature", sig).Msg("gate: injection signature matched")
			return block(ReasonUnsafeInput)
		}
	}

	return allow
}

// allowRate checks the per-identity token bucket, creating one on first
// sight. Stale buckets are swept inline; the bucket count is capped so a
// rotating-identity flood cannot exhaust memory.
func (g *Gate) allowRate(identity string, sec config.SecurityConfig) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.lastCleanup) > config.DefaultCleanupInterval {
		for k, b := range g.buckets {
			if now.Sub(b.lastSeen) > config.DefaultStaleTimeout {
				delete(g.buckets, k)
			}
		}
		g.lastCleanup = now
	}

	limit := rate.Limit(float64(sec.RatePerMinute) / 60.0)
	b, ok := g.buckets[identity]
	if !ok {
		if len(g.buckets) >= config.MaxRateLimitBuckets {
			// At capacity, unknown identities are refused rather than
			// evicting an active bucket.
			return false
		}
		b = &bucket{
			limiter: rate.NewLimiter(limit, sec.RateBurst),
			limit:   limit,
			burst:   sec.RateBurst,
		}
		g.buckets[identity] = b
	}
	// A refreshed config snapshot reaches existing buckets too.
	if b.limit != limit {
		b.limiter.SetLimit(limit)
		b.limit = limit
	}
	if b.burst != sec.RateBurst {
		b.limiter.SetBurst(sec.RateBurst)
		b.burst = sec.RateBurst
	}
	b.lastSeen = now
	return b.limiter.Allow()
}
