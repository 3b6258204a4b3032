package health

import (
	"reflect"
	"testing"
	"time"

	"github.com/tunestream/tunestream/internal/registry"
)

func TestRecordSuccessResetsStreak(t *testing.T) {
	tr := NewTracker()
	tr.RecordFailure(registry.KindPiped, "https://a")
	tr.RecordFailure(registry.KindPiped, "https://a")
	tr.RecordSuccess(registry.KindPiped, "https://a", 120*time.Millisecond)
	s, ok := tr.Lookup(registry.KindPiped, "https://a")
	if !ok {
		t.Fatal("state missing")
	}
	if s.FailureStreak != 0 {
		t.Errorf("FailureStreak = %d, want 0", s.FailureStreak)
	}
	if s.LatencyMs != 120 {
		t.Errorf("LatencyMs = %d, want 120", s.LatencyMs)
	}
	if s.LastSuccess == 0 {
		t.Error("LastSuccess not stamped")
	}
}

func TestFailureSaturationDemotes(t *testing.T) {
	tr := NewTracker()
	tr.RecordSuccess(registry.KindInvidious, "https://a", 50*time.Millisecond)
	for i := 0; i < 5; i++ {
		tr.RecordFailure(registry.KindInvidious, "https://a")
	}
	s, _ := tr.Lookup(registry.KindInvidious, "https://a")
	if s.FailureStreak != MaxFailureStreak {
		t.Errorf("FailureStreak = %d, want %d", s.FailureStreak, MaxFailureStreak)
	}
	if s.LatencyMs != LatencyInfinite {
		t.Errorf("LatencyMs = %d, want infinite sentinel", s.LatencyMs)
	}
	// A later success restores the observed latency.
	tr.RecordSuccess(registry.KindInvidious, "https://a", 80*time.Millisecond)
	s, _ = tr.Lookup(registry.KindInvidious, "https://a")
	if s.FailureStreak != 0 || s.LatencyMs != 80 {
		t.Errorf("after success: streak=%d latency=%d", s.FailureStreak, s.LatencyMs)
	}
}

func TestRankOrdering(t *testing.T) {
	tr := NewTracker()
	candidates := []string{"https://a", "https://b", "https://c", "https://d"}
	// a: one failure; b: fast success; c: slow success; d: untouched.
	tr.RecordFailure(registry.KindPiped, "https://a")
	tr.RecordSuccess(registry.KindPiped, "https://b", 40*time.Millisecond)
	tr.RecordSuccess(registry.KindPiped, "https://c", 400*time.Millisecond)
	got := tr.Rank(registry.KindPiped, candidates)
	want := []string{"https://b", "https://c", "https://d", "https://a"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Rank = %v, want %v", got, want)
	}
}

func TestRankMonotonicity(t *testing.T) {
	tr := NewTracker()
	candidates := []string{"https://a", "https://b"}
	tr.RecordSuccess(registry.KindPiped, "https://a", 10*time.Millisecond)
	tr.RecordSuccess(registry.KindPiped, "https://b", 20*time.Millisecond)
	if got := tr.Rank(registry.KindPiped, candidates); got[0] != "https://a" {
		t.Fatalf("lower latency should rank first, got %v", got)
	}
	// A failure on a must never reorder it ahead of a clean b.
	tr.RecordFailure(registry.KindPiped, "https://a")
	if got := tr.Rank(registry.KindPiped, candidates); got[0] != "https://b" {
		t.Errorf("failing instance ranked ahead: %v", got)
	}
}

func TestRankTieKeepsConfigurationOrder(t *testing.T) {
	tr := NewTracker()
	candidates := []string{"https://z", "https://y", "https://x"}
	got := tr.Rank(registry.KindInvidious, candidates)
	if !reflect.DeepEqual(got, candidates) {
		t.Errorf("ties should keep original order, got %v", got)
	}
}

func TestRankRecencyBreaksLatencyTie(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	now := base
	tr := NewTrackerAt(func() time.Time { return now })
	tr.RecordSuccess(registry.KindPiped, "https://a", 100*time.Millisecond)
	now = base.Add(time.Minute)
	tr.RecordSuccess(registry.KindPiped, "https://b", 100*time.Millisecond)
	got := tr.Rank(registry.KindPiped, []string{"https://a", "https://b"})
	if got[0] != "https://b" {
		t.Errorf("most recent success should win latency tie, got %v", got)
	}
}
