// Package registry holds the per-service-kind lists of upstream base URLs.
// Readers capture an immutable snapshot; Replace publishes a new one atomically so
// in-flight requests complete against the lists they observed.
package registry

import (
	"strings"
	"sync/atomic"
)

// Kind is the upstream API family an instance implements.
type Kind string

const (
	KindPiped     Kind = "piped"
	KindInvidious Kind = "invidious"
	KindHyperpipe Kind = "hyperpipe"
	KindHLS       Kind = "hls"
	// KindProxy is registered for future CDN fronting; nothing consumes it yet.
	KindProxy Kind = "proxy"
)

// Kinds lists every registered service kind in a stable order.
var Kinds = []Kind{KindPiped, KindInvidious, KindHyperpipe, KindHLS, KindProxy}

// Lists maps each service kind to its base URLs for a Replace call.
type Lists map[Kind][]string

// Snapshot is one immutable view of all instance lists. URLs are normalized
// (trailing slashes stripped) and unique within a kind, in configuration order.
type Snapshot struct {
	byKind map[Kind][]string
}

// Instances returns the base URLs for kind. The returned slice must not be
// modified; copy before reordering.
func (s *Snapshot) Instances(kind Kind) []string {
	if s == nil {
		return nil
	}
	return s.byKind[kind]
}

// Registry publishes instance snapshots.
type Registry struct {
	current atomic.Pointer[Snapshot]
}

// New builds a registry with an initial snapshot from lists.
func New(lists Lists) *Registry {
	r := &Registry{}
	r.Replace(lists)
	return r
}

// Replace atomically swaps all per-kind lists. Readers holding the prior snapshot
// are unaffected.
func (r *Registry) Replace(lists Lists) {
	snap := &Snapshot{byKind: make(map[Kind][]string, len(lists))}
	for kind, urls := range lists {
		snap.byKind[kind] = Normalize(urls)
	}
	r.current.Store(snap)
}

// Snapshot returns the current immutable snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Instances is shorthand for Snapshot().Instances(kind).
func (r *Registry) Instances(kind Kind) []string {
	return r.Snapshot().Instances(kind)
}

// Normalize strips trailing slashes and surrounding whitespace, drops empties,
// and collapses duplicates preserving first occurrence order.
func Normalize(urls []string) []string {
	out := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
