package upstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/tunestream/tunestream/internal/health"
	"github.com/tunestream/tunestream/internal/registry"
	"github.com/tunestream/tunestream/internal/ttlcache"
)

func newTestClient(bases ...string) *Client {
	reg := registry.New(registry.Lists{registry.KindPiped: bases})
	return New(reg, health.NewTracker(), ttlcache.New())
}

func buildPath(path string) func(string) string {
	return func(base string) string { return base + path }
}

func TestFetchJSONFailsOver(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name":"ok"}`))
	}))
	defer good.Close()

	c := newTestClient(bad.URL, good.URL)
	type payload struct {
		Name string `json:"name"`
	}
	got, base, err := FetchJSON[payload](context.Background(), c, registry.KindPiped, buildPath("/x"), Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "ok" || base != good.URL {
		t.Errorf("got %+v from %s", got, base)
	}
	if s, _ := c.Health.Lookup(registry.KindPiped, bad.URL); s.FailureStreak != 1 {
		t.Errorf("bad instance streak = %d, want 1", s.FailureStreak)
	}
	if s, _ := c.Health.Lookup(registry.KindPiped, good.URL); s.FailureStreak != 0 || s.LastSuccess == 0 {
		t.Errorf("good instance state = %+v", s)
	}
	if c.LastUsed(registry.KindPiped) != good.URL {
		t.Errorf("LastUsed = %q", c.LastUsed(registry.KindPiped))
	}
}

func TestFetchJSONAggregatesFailures(t *testing.T) {
	s1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "x", http.StatusBadGateway)
	}))
	defer s1.Close()
	s2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>"))
	}))
	defer s2.Close()

	c := newTestClient(s1.URL, s2.URL)
	_, _, err := FetchJSON[map[string]any](context.Background(), c, registry.KindPiped, buildPath("/x"), Options{}, nil)
	if err == nil {
		t.Fatal("want error")
	}
	if !strings.Contains(err.Error(), "HTTP 502") || !strings.Contains(err.Error(), "content-type") {
		t.Errorf("aggregate error missing reasons: %v", err)
	}
	var all *AllFailedError
	if !errors.As(err, &all) || len(all.Reasons) != 2 {
		t.Errorf("want AllFailedError with 2 reasons, got %v", err)
	}
}

func TestFetchJSONSchemaMismatchContinues(t *testing.T) {
	mismatched := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"n":"not a number"}`))
	}))
	defer mismatched.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"n":42}`))
	}))
	defer good.Close()

	c := newTestClient(mismatched.URL, good.URL)
	type payload struct {
		N int `json:"n"`
	}
	got, base, err := FetchJSON[payload](context.Background(), c, registry.KindPiped, buildPath("/x"), Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.N != 42 || base != good.URL {
		t.Errorf("got %+v from %s", got, base)
	}
}

func TestFetchJSONCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"v":1}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	type payload struct {
		V int `json:"v"`
	}
	co := &CacheOptions{Key: "piped::test", TTL: time.Minute}
	for i := 0; i < 3; i++ {
		got, _, err := FetchJSON[payload](context.Background(), c, registry.KindPiped, buildPath("/x"), Options{}, co)
		if err != nil || got.V != 1 {
			t.Fatalf("iteration %d: %v %v", i, got, err)
		}
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (cached)", calls)
	}
}

func TestFetchRawPrefersInstance(t *testing.T) {
	var hitA, hitB int
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitA++
		w.Write([]byte("a"))
	}))
	defer a.Close()
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitB++
		w.Write([]byte("b"))
	}))
	defer b.Close()

	c := newTestClient(a.URL, b.URL)
	resp, base, err := c.FetchRaw(context.Background(), registry.KindPiped, buildPath("/x"), Options{PreferInstance: b.URL + "/"})
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if base != b.URL || hitB != 1 || hitA != 0 {
		t.Errorf("base=%s hitA=%d hitB=%d", base, hitA, hitB)
	}
}

func TestFetchRawBodyReadableAfterReturn(t *testing.T) {
	payload := bytes.Repeat([]byte("tunestream"), 32<<10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, _, err := c.FetchRaw(context.Background(), registry.KindPiped, buildPath("/media"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	// The body must stay consumable well after FetchRaw has returned.
	time.Sleep(200 * time.Millisecond)
	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read after return: %v (read %d of %d bytes)", err, len(got), len(payload))
	}
	if len(got) != len(payload) {
		t.Errorf("read %d bytes, want %d", len(got), len(payload))
	}
}

func TestBrotliBodyDecoded(t *testing.T) {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	bw.Write([]byte(`{"ok":true}`))
	bw.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "br")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	got, _, err := FetchJSON[map[string]bool](context.Background(), c, registry.KindPiped, buildPath("/x"), Options{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !got["ok"] {
		t.Errorf("decoded payload = %v", got)
	}
}

func TestCancelledCallRecordsNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, _, err := c.FetchRaw(ctx, registry.KindPiped, buildPath("/x"), Options{})
	if err == nil {
		t.Fatal("want error")
	}
	if s, tracked := c.Health.Lookup(registry.KindPiped, srv.URL); tracked && (s.FailureStreak != 0 || s.LastFailure != 0) {
		t.Errorf("cancelled attempt updated health: %+v", s)
	}
}
