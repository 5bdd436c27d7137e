package config

import "sync/atomic"

// Runtime holds the live configuration. The daemon swaps in a new Config on
// file reload; readers always see a complete snapshot, never a half-updated
// one.
type Runtime struct {
	p atomic.Pointer[Config]
}

// NewRuntime creates a runtime holding cfg.
func NewRuntime(cfg *Config) *Runtime {
	r := &Runtime{}
	r.p.Store(cfg)
	return r
}

// Current returns the live config snapshot.
func (r *Runtime) Current() *Config {
	return r.p.Load()
}

// Replace swaps in a new config snapshot.
func (r *Runtime) Replace(cfg *Config) {
	r.p.Store(cfg)
}
