package config

import (
	"sort"
	"sync/atomic"
)

// Enablement is the set of metric keys the collector may emit: either the
// "all" sentinel or an explicit set. Values are immutable once built, so a
// scrape that read one keeps a consistent view even if the configuration is
// reloaded mid-scrape.
type Enablement struct {
	all  bool
	keys map[string]struct{}
}

// ParseEnablement builds an Enablement from configured entries. A nil or
// empty slice, or any entry equal to the "all" sentinel, enables everything.
func ParseEnablement(entries []string) Enablement {
	if len(entries) == 0 {
		return Enablement{all: true}
	}
	keys := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry == EnableAll {
			return Enablement{all: true}
		}
		keys[entry] = struct{}{}
	}
	return Enablement{keys: keys}
}

// All reports whether every metric is enabled.
func (e Enablement) All() bool {
	return e.all
}

// Allows reports whether the given metric key is enabled.
func (e Enablement) Allows(key string) bool {
	if e.all {
		return true
	}
	_, ok := e.keys[key]
	return ok
}

// Keys returns the explicit key set sorted, or nil when all are enabled.
func (e Enablement) Keys() []string {
	if e.all {
		return nil
	}
	out := make([]string, 0, len(e.keys))
	for key := range e.keys {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// EnablementSource yields the current enablement set. The collector reads
// it once per scrape.
type EnablementSource interface {
	Enablement() Enablement
}

// Store is the process-wide live configuration state. The boot-time file
// configuration seeds it; the admin API may replace the enablement set
// between scrapes. Reads never block writers.
type Store struct {
	enablement atomic.Pointer[Enablement]
}

// NewStore creates a store seeded from the given configuration.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	e := ParseEnablement(cfg.Metrics.Enabled)
	s.enablement.Store(&e)
	return s
}

// Enablement implements EnablementSource.
func (s *Store) Enablement() Enablement {
	return *s.enablement.Load()
}

// SetEnabled replaces the enablement set. Takes effect on the next scrape.
func (s *Store) SetEnabled(entries []string) {
	e := ParseEnablement(entries)
	s.enablement.Store(&e)
}
