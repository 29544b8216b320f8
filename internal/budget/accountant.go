package budget

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/driveline/concierge/internal/config"
	"github.com/driveline/concierge/internal/session"
)

// CheckScope names which ceiling rejected a call.
type CheckScope string

const (
	ScopeSession  CheckScope = "session"
	ScopeIdentity CheckScope = "identity"
	ScopeGlobal   CheckScope = "global"
)

// CheckResult is the outcome of a pre-call ceiling check.
type CheckResult struct {
	Allowed      bool
	Exceeded     CheckScope
	SessionCost  float64
	IdentityCost float64
	GlobalCost   float64
}

type ledger struct {
	cost        float64
	requests    int
	tokens      session.TokenCounts
	lastUpdated time.Time
}

// Accountant tracks per-session and per-identity spend against ceilings.
type Accountant struct {
	cfg *config.Provider

	mu         sync.RWMutex
	sessions   map[string]*ledger
	identities map[string]*ledger

	// Stored as cost * 1e9 (nano-dollars) to use atomic int64 ops.
	globalCostNano int64

	priceMu    sync.Mutex
	priceTable *PriceTable
	priceSrc   *config.Config

	ttl  time.Duration
	done chan struct{}
}

// NewAccountant creates an accountant and starts its ledger cleanup loop.
func NewAccountant(cfg *config.Provider) *Accountant {
	a := &Accountant{
		cfg:        cfg,
		sessions:   make(map[string]*ledger),
		identities: make(map[string]*ledger),
		ttl:        config.DefaultLedgerTTL,
		done:       make(chan struct{}),
	}
	go a.cleanup()
	return a
}

// Close stops the cleanup loop.
func (a *Accountant) Close() {
	close(a.done)
}

// Check reports whether a model call for this session and identity is
// within every configured ceiling. When enforcement is disabled the call
// is always allowed but costs are still reported.
func (a *Accountant) Check(sessionID, identity string) CheckResult {
	budget := a.cfg.Snapshot().Budget

	a.mu.RLock()
	result := CheckResult{Allowed: true}
	if s, ok := a.sessions[sessionID]; ok {
		result.SessionCost = s.cost
	}
	if id, ok := a.identities[identity]; ok {
		result.IdentityCost = id.cost
	}
	a.mu.RUnlock()

	result.GlobalCost = float64(atomic.LoadInt64(&a.globalCostNano)) / 1e9

	if !budget.Enabled {
		return result
	}
	if budget.GlobalCap > 0 && result.GlobalCost >= budget.GlobalCap {
		result.Allowed = false
		result.Exceeded = ScopeGlobal
		return result
	}
	if budget.IdentityCap > 0 && result.IdentityCost >= budget.IdentityCap {
		result.Allowed = false
		result.Exceeded = ScopeIdentity
		return result
	}
	if budget.SessionCap > 0 && result.SessionCost >= budget.SessionCap {
		result.Allowed = false
		result.Exceeded = ScopeSession
		return result
	}
	return result
}

// RecordUsage converts one call's token counts to cost and adds it to the
// session, identity, and global ledgers. Returns the cost of this call.
func (a *Accountant) RecordUsage(sessionID, identity, model string, counts session.TokenCounts) float64 {
	pricing := a.prices().Lookup(model)
	cost := CalculateCost(counts.Input, counts.Output, counts.CacheRead,
		counts.CacheWrite, counts.Reasoning, pricing)

	now := time.Now()
	a.mu.Lock()
	a.apply(a.sessions, sessionID, cost, counts, now)
	if identity != "" {
		a.apply(a.identities, identity, cost, counts, now)
	}
	a.mu.Unlock()

	atomic.AddInt64(&a.globalCostNano, int64(cost*1e9))

	log.Debug().
		Str("session_id", sessionID).
		Str("model", model).
		Int64("input_tokens", counts.Input).
		Int64("output_tokens", counts.Output).
		Float64("cost_usd", cost).
		Msg("accountant: usage recorded")
	return cost
}

func (a *Accountant) apply(ledgers map[string]*ledger, key string, cost float64, counts session.TokenCounts, now time.Time) {
	l, ok := ledgers[key]
	if !ok {
		l = &ledger{}
		ledgers[key] = l
	}
	l.cost += cost
	l.requests++
	l.tokens.Add(counts)
	l.lastUpdated = now
}

// SessionCost returns the accumulated cost for a session.
func (a *Accountant) SessionCost(sessionID string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if l, ok := a.sessions[sessionID]; ok {
		return l.cost
	}
	return 0
}

// GlobalCost returns total accumulated cost across all sessions.
func (a *Accountant) GlobalCost() float64 {
	return float64(atomic.LoadInt64(&a.globalCostNano)) / 1e9
}

// prices returns the current price table, rebuilt only when the config
// snapshot changes.
func (a *Accountant) prices() *PriceTable {
	snap := a.cfg.Snapshot()
	a.priceMu.Lock()
	defer a.priceMu.Unlock()
	if a.priceTable == nil || a.priceSrc != snap {
		a.priceTable = NewPriceTable(snap.Pricing)
		a.priceSrc = snap
	}
	return a.priceTable
}

// cleanup evicts ledgers idle past the TTL. The global counter is never
// reduced; it is a lifetime total.
func (a *Accountant) cleanup() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-a.ttl)
			a.mu.Lock()
			for key, l := range a.sessions {
				if l.lastUpdated.Before(cutoff) {
					delete(a.sessions, key)
				}
			}
			for key, l := range a.identities {
				if l.lastUpdated.Before(cutoff) {
					delete(a.identities, key)
				}
			}
			a.mu.Unlock()
		}
	}
}
