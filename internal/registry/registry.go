// Package registry owns the set of peer configurations extsockd has
// installed, and answers the lookup queries the failover controller and
// status API issue against it.
package registry

import (
	"strings"
	"sync"

	"github.com/swavlamban/extsockd/internal/config"
)

// IdentityMatcher decides whether a registered identity pattern admits a
// candidate identity. The real predicate lives in charon; this interface
// lets a conservative default stand in without the registry depending on
// VICI.
type IdentityMatcher interface {
	Matches(pattern, candidate string) bool
}

// DefaultIdentityMatcher treats "%any" and the empty string as wildcards
// and otherwise requires an exact, case-insensitive match.
type DefaultIdentityMatcher struct{}

func (DefaultIdentityMatcher) Matches(pattern, candidate string) bool {
	if pattern == "" || pattern == "%any" || candidate == "" {
		return true
	}
	return strings.EqualFold(pattern, candidate)
}

// Registry is the thread-safe backend registry (C2).
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*config.PeerConfig
	matcher IdentityMatcher
}

// New constructs an empty registry using the default identity matcher.
func New() *Registry {
	return &Registry{
		byName:  make(map[string]*config.PeerConfig),
		matcher: DefaultIdentityMatcher{},
	}
}

// WithMatcher overrides the identity-matching predicate used by Enumerate.
func (r *Registry) WithMatcher(m IdentityMatcher) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matcher = m
	return r
}

// Register installs cfg, replacing any prior entry of the same name.
// Register is idempotent.
func (r *Registry) Register(cfg *config.PeerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[cfg.Name] = cfg
}

// Remove deletes the named entry and reports whether it existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byName[name]
	delete(r.byName, name)
	return ok
}

// FindByName returns the exact-match entry for name, if any.
func (r *Registry) FindByName(name string) (*config.PeerConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.byName[name]
	return cfg, ok
}

// Enumerate returns every registered config whose local/remote auth
// identities admit the given (localID, remoteID) pair. Empty strings are
// treated as wildcards, tolerating callers that pass nulls during
// bootstrap.
func (r *Registry) Enumerate(localID, remoteID string) []*config.PeerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*config.PeerConfig, 0)
	for _, cfg := range r.byName {
		if r.admits(cfg, localID, remoteID) {
			out = append(out, cfg)
		}
	}
	return out
}

func (r *Registry) admits(cfg *config.PeerConfig, localID, remoteID string) bool {
	if len(cfg.LocalAuths) > 0 {
		matched := false
		for _, a := range cfg.LocalAuths {
			if r.matcher.Matches(a.Identity, localID) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(cfg.RemoteAuths) > 0 {
		matched := false
		for _, a := range cfg.RemoteAuths {
			if r.matcher.Matches(a.Identity, remoteID) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// Snapshot returns a copy of the full name->config map, for the status
// API. Entries are not deep-cloned; callers must not mutate them.
func (r *Registry) Snapshot() map[string]*config.PeerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*config.PeerConfig, len(r.byName))
	for k, v := range r.byName {
		out[k] = v
	}
	return out
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Clear drops every registered connection. Used during daemon shutdown's
// drop-owned-state phase; it never talks to charon.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = make(map[string]*config.PeerConfig)
}
