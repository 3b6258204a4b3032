// Package health tracks per-instance upstream health. State is updated only as a
// side-effect of real traffic; there is no background probing.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/tunestream/tunestream/internal/registry"
)

// LatencyInfinite is the sentinel for "never succeeded" or "demoted": it sorts a
// demoted instance behind every instance with a real measurement.
const LatencyInfinite int64 = 1<<63 - 1

// MaxFailureStreak caps the consecutive-failure counter. Reaching it demotes the
// instance (latency forced to LatencyInfinite) until the next success.
const MaxFailureStreak = 3

// State is the health record for one (kind, url).
type State struct {
	LatencyMs     int64 // last observed latency; LatencyInfinite when unknown/demoted
	FailureStreak int   // consecutive failures, saturating at MaxFailureStreak
	LastFailure   int64 // unix millis; 0 = never
	LastSuccess   int64 // unix millis; 0 = never
}

type key struct {
	kind registry.Kind
	url  string
}

// Tracker holds health state for all instances. Safe for concurrent use; no lock
// is held across a network call.
type Tracker struct {
	mu     sync.Mutex
	states map[key]*State
	now    func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{states: make(map[key]*State), now: time.Now}
}

// NewTrackerAt is like NewTracker with an injectable clock, for tests.
func NewTrackerAt(now func() time.Time) *Tracker {
	return &Tracker{states: make(map[key]*State), now: now}
}

func (t *Tracker) state(kind registry.Kind, url string) *State {
	k := key{kind, url}
	s, ok := t.states[k]
	if !ok {
		s = &State{LatencyMs: LatencyInfinite}
		t.states[k] = s
	}
	return s
}

// RecordSuccess resets the failure streak, stores the observed latency and stamps
// the success time.
func (t *Tracker) RecordSuccess(kind registry.Kind, url string, latency time.Duration) {
	ms := latency.Milliseconds()
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(kind, url)
	s.FailureStreak = 0
	s.LatencyMs = ms
	s.LastSuccess = t.now().UnixMilli()
}

// RecordFailure increments the failure streak (saturating at MaxFailureStreak) and
// stamps the failure time. On saturation the instance is demoted: latency becomes
// LatencyInfinite so it sinks to the bottom of any ranking. It stays eligible.
func (t *Tracker) RecordFailure(kind registry.Kind, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state(kind, url)
	if s.FailureStreak < MaxFailureStreak {
		s.FailureStreak++
	}
	if s.FailureStreak >= MaxFailureStreak {
		s.LatencyMs = LatencyInfinite
	}
	s.LastFailure = t.now().UnixMilli()
}

// Lookup returns a copy of the state for (kind, url) and whether any traffic has
// been recorded for it.
func (t *Tracker) Lookup(kind registry.Kind, url string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[key{kind, url}]
	if !ok {
		return State{LatencyMs: LatencyInfinite}, false
	}
	return *s, true
}

// Rank orders candidates best-first: ascending failure streak, then ascending
// latency, then most recent success. Ties keep the candidates' original
// (configuration) order. The input slice is not modified.
func (t *Tracker) Rank(kind registry.Kind, candidates []string) []string {
	out := make([]string, len(candidates))
	copy(out, candidates)
	t.mu.Lock()
	states := make([]State, len(out))
	for i, u := range out {
		if s, ok := t.states[key{kind, u}]; ok {
			states[i] = *s
		} else {
			states[i] = State{LatencyMs: LatencyInfinite}
		}
	}
	t.mu.Unlock()

	idx := make([]int, len(out))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		sa, sb := states[idx[a]], states[idx[b]]
		if sa.FailureStreak != sb.FailureStreak {
			return sa.FailureStreak < sb.FailureStreak
		}
		if sa.LatencyMs != sb.LatencyMs {
			return sa.LatencyMs < sb.LatencyMs
		}
		return sa.LastSuccess > sb.LastSuccess
	})
	ranked := make([]string, len(out))
	for i, j := range idx {
		ranked[i] = out[j]
	}
	return ranked
}
