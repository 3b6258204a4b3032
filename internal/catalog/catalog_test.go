package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tunestream/tunestream/internal/health"
	"github.com/tunestream/tunestream/internal/registry"
	"github.com/tunestream/tunestream/internal/ttlcache"
	"github.com/tunestream/tunestream/internal/upstream"
)

func newService(lists registry.Lists) *Service {
	reg := registry.New(lists)
	cache := ttlcache.New()
	return New(upstream.New(reg, health.NewTracker(), cache), cache, "US")
}

func pipedSearchBody(ids ...string) string {
	var items []string
	for _, id := range ids {
		items = append(items, fmt.Sprintf(
			`{"url":"/watch?v=%s","type":"stream","title":"Song %s","uploaderName":"Artist","thumbnail":"https://t/%s.jpg","duration":200}`,
			id, id, id))
	}
	return `{"items":[` + strings.Join(items, ",") + `]}`
}

func invidiousSearchBody(ids ...string) string {
	var items []string
	for _, id := range ids {
		items = append(items, fmt.Sprintf(
			`{"type":"video","videoId":"%s","title":"Song %s","author":"Artist","lengthSeconds":180,"videoThumbnails":[{"url":"https://t/%s.jpg"}]}`,
			id, id, id))
	}
	return `[` + strings.Join(items, ",") + `]`
}

func jsonServer(body func(r *http.Request) string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body(r)))
	}))
}

func TestSearchMergesPipedFirstDeduped(t *testing.T) {
	piped := jsonServer(func(r *http.Request) string {
		if got := r.URL.Query().Get("filter"); got != "music_songs" {
			t.Errorf("piped filter = %q", got)
		}
		return pipedSearchBody("aaa", "bbb")
	})
	defer piped.Close()
	inv := jsonServer(func(r *http.Request) string {
		if got := r.URL.Query().Get("type"); got != "video" {
			t.Errorf("invidious type = %q", got)
		}
		return invidiousSearchBody("bbb", "ccc")
	})
	defer inv.Close()

	s := newService(registry.Lists{
		registry.KindPiped:     {piped.URL},
		registry.KindInvidious: {inv.URL},
	})
	tracks, err := s.Search(context.Background(), "test", "")
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(tracks))
	for i, tr := range tracks {
		ids[i] = tr.ID
	}
	want := []string{"aaa", "bbb", "ccc"}
	if len(ids) != 3 || ids[0] != want[0] || ids[1] != want[1] || ids[2] != want[2] {
		t.Errorf("ids = %v, want %v", ids, want)
	}
	if tracks[0].StreamSource != registry.KindPiped || tracks[0].StreamInstance != piped.URL {
		t.Errorf("instance hint = %s/%s", tracks[0].StreamSource, tracks[0].StreamInstance)
	}
	if tracks[2].StreamSource != registry.KindInvidious {
		t.Errorf("invidious-only track hint = %s", tracks[2].StreamSource)
	}
	if tracks[0].Source != "youtube" {
		t.Errorf("source = %q", tracks[0].Source)
	}
}

func TestSearchSurvivesOneSideDown(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer dead.Close()
	inv := jsonServer(func(*http.Request) string { return invidiousSearchBody("xxx") })
	defer inv.Close()

	s := newService(registry.Lists{
		registry.KindPiped:     {dead.URL},
		registry.KindInvidious: {inv.URL},
	})
	tracks, err := s.Search(context.Background(), "q", "US")
	if err != nil {
		t.Fatal(err)
	}
	if len(tracks) != 1 || tracks[0].ID != "xxx" {
		t.Errorf("tracks = %+v", tracks)
	}
}

func TestSearchFailsWhenBothDown(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer dead.Close()

	s := newService(registry.Lists{
		registry.KindPiped:     {dead.URL},
		registry.KindInvidious: {dead.URL},
	})
	if _, err := s.Search(context.Background(), "q", "US"); err == nil {
		t.Fatal("want error when both service kinds fail")
	}
}

func TestSearchCapsAtSixty(t *testing.T) {
	pipedIDs := make([]string, 50)
	invIDs := make([]string, 50)
	for i := range pipedIDs {
		pipedIDs[i] = fmt.Sprintf("p%02d", i)
		invIDs[i] = fmt.Sprintf("i%02d", i)
	}
	piped := jsonServer(func(*http.Request) string { return pipedSearchBody(pipedIDs...) })
	defer piped.Close()
	inv := jsonServer(func(*http.Request) string { return invidiousSearchBody(invIDs...) })
	defer inv.Close()

	s := newService(registry.Lists{
		registry.KindPiped:     {piped.URL},
		registry.KindInvidious: {inv.URL},
	})
	tracks, err := s.Search(context.Background(), "q", "US")
	if err != nil {
		t.Fatal(err)
	}
	if len(tracks) != 60 {
		t.Errorf("len = %d, want 60", len(tracks))
	}
}

func TestTrendingClassifiesAndCaches(t *testing.T) {
	pipedCalls := 0
	piped := jsonServer(func(r *http.Request) string {
		pipedCalls++
		return `[
			{"url":"/watch?v=good1","title":"Song Name (Official Audio)","uploaderName":"Artist","duration":210},
			{"url":"/watch?v=news1","title":"Latest Breaking News Live","uploaderName":"News Network","duration":320}
		]`
	})
	defer piped.Close()
	inv := jsonServer(func(*http.Request) string { return invidiousSearchBody("fill1", "fill2") })
	defer inv.Close()

	s := newService(registry.Lists{
		registry.KindPiped:     {piped.URL},
		registry.KindInvidious: {inv.URL},
	})
	tracks, err := s.Trending(context.Background(), "US")
	if err != nil {
		t.Fatal(err)
	}
	for _, tr := range tracks {
		if tr.ID == "news1" {
			t.Error("news item passed the classifier")
		}
	}
	found := false
	for _, tr := range tracks {
		if tr.ID == "good1" {
			found = true
		}
	}
	if !found {
		t.Error("music item rejected")
	}

	if _, err := s.Trending(context.Background(), "US"); err != nil {
		t.Fatal(err)
	}
	if pipedCalls != 1 {
		t.Errorf("piped trending calls = %d, want 1 (region cache)", pipedCalls)
	}
}

func TestTrendingSeedFallbackScores(t *testing.T) {
	// Trending feeds empty; seed searches must fill, heaviest query first.
	piped := jsonServer(func(*http.Request) string { return `[]` })
	defer piped.Close()
	inv := jsonServer(func(r *http.Request) string {
		if strings.Contains(r.URL.Path, "/trending") {
			return `[]`
		}
		q := r.URL.Query().Get("q")
		if q == "trending songs" {
			return invidiousSearchBody("top1", "top2")
		}
		return invidiousSearchBody("low-" + strings.ReplaceAll(q, " ", "-"))
	})
	defer inv.Close()

	s := newService(registry.Lists{
		registry.KindPiped:     {piped.URL},
		registry.KindInvidious: {inv.URL},
	})
	tracks, err := s.Trending(context.Background(), "US")
	if err != nil {
		t.Fatal(err)
	}
	if len(tracks) == 0 {
		t.Fatal("seed fallback produced nothing")
	}
	if tracks[0].ID != "top1" {
		t.Errorf("head = %s, want heaviest seed's first item", tracks[0].ID)
	}
}

func TestClassifierTable(t *testing.T) {
	tests := []struct {
		name string
		c    Candidate
		want bool
	}{
		{"official audio", Candidate{Title: "Song Name (Official Audio) - Artist", Uploader: "Artist", DurationS: 210}, true},
		{"news keyword", Candidate{Title: "Latest Breaking News Live", Uploader: "News Network", DurationS: 320}, false},
		{"keyword mid-title", Candidate{Title: "something unboxing something", Uploader: "x", DurationS: 200}, false},
		{"keyword inside word ok", Candidate{Title: "Renewsome Love Song", Uploader: "Artist", DurationS: 200}, true},
		{"too long title", Candidate{Title: strings.Repeat("a", 81), Uploader: "Artist", DurationS: 200}, false},
		{"too short duration", Candidate{Title: "Great Song", Uploader: "Artist", DurationS: 30}, false},
		{"too long duration", Candidate{Title: "Great Song", Uploader: "Artist", DurationS: 700}, false},
		{"unknown duration with indicator", Candidate{Title: "Great Song", Uploader: "Artist"}, true},
		{"unknown duration no indicator", Candidate{Title: "Great Tune", Uploader: "Artist"}, false},
		{"wordy uploader no indicator", Candidate{Title: "Nice Things Here", Uploader: "The Very Long Channel Name Here", DurationS: 200}, false},
		{"wordy uploader with indicator", Candidate{Title: "Nice Song Here", Uploader: "The Very Long Channel Name Here", DurationS: 200}, true},
		{"ago pattern", Candidate{Title: "3 hours ago reaction", Uploader: "x", DurationS: 200}, false},
		{"live stream pattern", Candidate{Title: "concert live stream", Uploader: "x", DurationS: 200}, false},
		{"episode pattern", Candidate{Title: "my show episode 12", Uploader: "x", DurationS: 200}, false},
		{"part pattern", Candidate{Title: "mix part 3", Uploader: "x", DurationS: 200}, false},
		{"season pattern", Candidate{Title: "hits season 2", Uploader: "x", DurationS: 200}, false},
	}
	for _, tt := range tests {
		if got := IsMusic(tt.c); got != tt.want {
			t.Errorf("%s: IsMusic = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestTrackJSONShape(t *testing.T) {
	b, err := json.Marshal(Track{ID: "x", Title: "T", Artist: "A", DurationS: 100, Source: "youtube"})
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"id"`, `"title"`, `"artist"`, `"durationS"`, `"source"`} {
		if !strings.Contains(string(b), key) {
			t.Errorf("marshalled track missing %s: %s", key, b)
		}
	}
	if strings.Contains(string(b), "streamSource") {
		t.Errorf("empty hint should be omitted: %s", b)
	}
}
