// ABOUTME: Hot-reloadable configuration holder
// ABOUTME: Readers take the current snapshot, Reload swaps it atomically after validation

package config

import (
	"fmt"
	"sync/atomic"
)

// Provider hands out the current configuration. Consumers read values at the
// point of use so a reload takes effect on the next request or job tick.
type Provider struct {
	path    string
	current atomic.Pointer[Config]
}

// NewProvider loads path and returns a provider holding the result.
func NewProvider(path string) (*Provider, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	p := &Provider{path: path}
	p.current.Store(cfg)
	return p, nil
}

// Static wraps an already loaded configuration. Reload is a no-op.
func Static(cfg *Config) *Provider {
	p := &Provider{}
	p.current.Store(cfg)
	return p
}

// Get returns the current snapshot. Callers must not modify it.
func (p *Provider) Get() *Config {
	return p.current.Load()
}

// Reload re-reads the file. On any error the previous configuration stays active.
func (p *Provider) Reload() (*Config, error) {
	if p.path == "" {
		return p.Get(), nil
	}
	cfg, err := Load(p.path)
	if err != nil {
		return p.Get(), fmt.Errorf("reloading %s: %w", p.path, err)
	}
	p.current.Store(cfg)
	return cfg, nil
}
