package detector

import (
	"fmt"
	"sort"
	"strings"
)

// Registry maps domains to profiles. It is built once at startup and only
// read afterwards, so it needs no locking.
type Registry struct {
	byDomain map[string]Profile
	keys     []string // longest first, for deterministic suffix/substring matching
	fallback Profile
}

// NewRegistry registers profiles under every domain they declare. A domain
// claimed twice is an error. A nil fallback selects the generic profile.
func NewRegistry(fallback Profile, profiles ...Profile) (*Registry, error) {
	if fallback == nil {
		fallback = generic
	}
	r := &Registry{byDomain: make(map[string]Profile), fallback: fallback}
	for _, p := range profiles {
		if len(p.Domains()) == 0 {
			return nil, fmt.Errorf("profile %q declares no domains", p.Name())
		}
		for _, d := range p.Domains() {
			key := normalizeHost(d)
			if key == "" {
				return nil, fmt.Errorf("profile %q: empty domain", p.Name())
			}
			if prev, ok := r.byDomain[key]; ok {
				return nil, fmt.Errorf("domain %q claimed by both %q and %q", key, prev.Name(), p.Name())
			}
			r.byDomain[key] = p
			r.keys = append(r.keys, key)
		}
	}
	sort.Slice(r.keys, func(i, j int) bool {
		if len(r.keys[i]) != len(r.keys[j]) {
			return len(r.keys[i]) > len(r.keys[j])
		}
		return r.keys[i] < r.keys[j]
	})
	return r, nil
}

// Default returns the built-in retailer profiles plus extra, backed by the
// generic fallback.
func Default(searchDepth int, extra ...Profile) (*Registry, error) {
	profiles := append(Builtin(), extra...)
	return NewRegistry(NewGeneric(searchDepth), profiles...)
}

// Resolve returns the profile for domain: exact host first, then a
// registered parent domain, then a registered key contained in the host.
// It never fails; unknown hosts get the fallback.
func (r *Registry) Resolve(domain string) Profile {
	host := normalizeHost(domain)
	if host == "" {
		return r.fallback
	}
	if p, ok := r.byDomain[host]; ok {
		return p
	}
	for _, k := range r.keys {
		if strings.HasSuffix(host, "."+k) {
			return r.byDomain[k]
		}
	}
	for _, k := range r.keys {
		if strings.Contains(host, k) {
			return r.byDomain[k]
		}
	}
	return r.fallback
}

// ResolveURL resolves the host of rawURL.
func (r *Registry) ResolveURL(rawURL string) Profile {
	return r.Resolve(Host(rawURL))
}

// Fallback returns the profile used for unknown hosts.
func (r *Registry) Fallback() Profile { return r.fallback }

// Profiles lists the registered profiles once each, by name.
func (r *Registry) Profiles() []Profile {
	seen := make(map[string]bool)
	var out []Profile
	for _, k := range r.keys {
		p := r.byDomain[k]
		if seen[p.Name()] {
			continue
		}
		seen[p.Name()] = true
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
