// Config provider - cached read-through access to tunable settings.
//
// DESIGN: The engine never reads the config file directly. Components hold a
// *Provider and call Snapshot() per operation; the provider re-reads its
// source at most once per TTL. This replaces a module-level cached singleton
// with an explicitly constructed, injectable dependency.
package config

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Provider serves config snapshots with TTL-based refresh.
type Provider struct {
	path string
	ttl  time.Duration

	mu        sync.RWMutex
	current   *Config
	refreshed time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewProvider creates a provider over a config file. The initial load is
// eager so a broken file fails at startup, not mid-turn.
func NewProvider(path string, ttl time.Duration) (*Provider, error) {
	if ttl <= 0 {
		ttl = DefaultConfigTTL
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	p := &Provider{
		path:      path,
		ttl:       ttl,
		current:   cfg,
		refreshed: time.Now(),
		now:       time.Now,
	}
	return p, nil
}

// NewStaticProvider wraps a fixed config, for tests and for callers that
// manage reload themselves.
func NewStaticProvider(cfg *Config) *Provider {
	return &Provider{
		current:   cfg,
		refreshed: time.Now(),
		ttl:       time.Hour * 24 * 365,
		now:       time.Now,
	}
}

// Snapshot returns the current config, refreshing from disk if the TTL has
// elapsed. A failed refresh keeps serving the last good snapshot.
func (p *Provider) Snapshot() *Config {
	p.mu.RLock()
	fresh := p.now().Sub(p.refreshed) < p.ttl
	cfg := p.current
	p.mu.RUnlock()

	if fresh || p.path == "" {
		return cfg
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Another goroutine may have refreshed while we waited.
	if p.now().Sub(p.refreshed) < p.ttl {
		return p.current
	}

	next, err := Load(p.path)
	if err != nil {
		log.Warn().Err(err).Str("path", p.path).Msg("config refresh failed, keeping previous snapshot")
		p.refreshed = p.now()
		return p.current
	}
	p.current = next
	p.refreshed = p.now()
	return p.current
}
