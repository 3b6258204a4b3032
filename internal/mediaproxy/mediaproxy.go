// Package mediaproxy streams media bytes from upstream CDNs to clients. It is
// transparent to Range requests and recovers from expired upstream URLs by
// re-driving the resolver before any byte reaches the client.
package mediaproxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tunestream/tunestream/internal/httpclient"
	"github.com/tunestream/tunestream/internal/metrics"
	"github.com/tunestream/tunestream/internal/registry"
	"github.com/tunestream/tunestream/internal/resolver"
	"github.com/tunestream/tunestream/internal/safeurl"
)

// browserUA keeps googlevideo edges from rejecting the request outright.
const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const acceptAudio = "audio/webm,audio/ogg,audio/wav,audio/*;q=0.9,application/ogg;q=0.7,video/*;q=0.6,*/*;q=0.5"

// drainTimeout caps how long a rejected upstream body is drained before the
// connection is destroyed anyway.
const drainTimeout = 2 * time.Second

// audioMP4Itags and audioWebmItags back the content-type override for
// googlevideo responses that mislabel audio as text/plain.
var audioMP4Itags = map[int]bool{140: true, 141: true, 256: true, 258: true, 325: true, 328: true}
var audioWebmItags = map[int]bool{249: true, 250: true, 251: true, 171: true, 172: true}

// passHeaders are forwarded from upstream to the client unchanged.
var passHeaders = []string{"Content-Length", "Accept-Ranges", "Content-Range", "ETag", "Last-Modified", "Cache-Control"}

// Proxy relays one media URL per request, with a bounded retry ladder.
type Proxy struct {
	Resolver *resolver.Resolver
	HTTP     *http.Client
}

func New(res *resolver.Resolver) *Proxy {
	return &Proxy{Resolver: res, HTTP: httpclient.ForStreaming()}
}

// attempt is one rung of the retry ladder.
type attempt struct {
	url    string
	label  string
	source registry.Kind
}

// Serve handles GET /streams/{id}/proxy?src=&source=&instance=. The retry
// ladder runs entirely before the first byte is written; once streaming starts
// the outcome is whatever the chosen upstream delivers. The resolver is only
// re-driven after the previous rung has actually failed.
func (p *Proxy) Serve(w http.ResponseWriter, r *http.Request, videoID string) {
	src := r.URL.Query().Get("src")
	if src == "" || !safeurl.IsHTTPOrHTTPS(src) {
		writeEnvelope(w, http.StatusBadRequest, "Missing or invalid src parameter", "")
		return
	}
	source := registry.KindPiped
	if r.URL.Query().Get("source") == string(registry.KindInvidious) {
		source = registry.KindInvidious
	}
	instance := r.URL.Query().Get("instance")
	ctx := r.Context()

	status, done := p.tryStream(w, r, videoID, attempt{url: src, label: "A", source: source})
	if done {
		return
	}
	lastStatus := status
	tried := map[string]bool{src: true}

	// A failed: drop the cached resolution, it very likely produced src.
	p.Resolver.Invalidate(videoID)
	if rs, err := p.Resolver.Resolve(ctx, videoID, resolver.Options{
		PreferredSource:   source,
		PreferredInstance: instance,
	}); err == nil && !tried[rs.AudioURL] {
		tried[rs.AudioURL] = true
		metrics.ProxyRetries.Inc()
		status, done = p.tryStream(w, r, videoID, attempt{url: rs.AudioURL, label: "B", source: rs.Source})
		if done {
			return
		}
		if status != 0 {
			lastStatus = status
		}
	}

	other := registry.KindInvidious
	if source == registry.KindInvidious {
		other = registry.KindPiped
	}
	p.Resolver.Invalidate(videoID)
	if rs, err := p.Resolver.Resolve(ctx, videoID, resolver.Options{PreferredSource: other}); err == nil && !tried[rs.AudioURL] {
		metrics.ProxyRetries.Inc()
		status, done = p.tryStream(w, r, videoID, attempt{url: rs.AudioURL, label: "C", source: rs.Source})
		if done {
			return
		}
		if status != 0 {
			lastStatus = status
		}
	}

	code := http.StatusInternalServerError
	msg := "Unable to load stream. The video may be region-locked; try a VPN or a different region."
	if lastStatus == http.StatusForbidden {
		code = http.StatusForbidden
		msg = "Access denied by video provider. Try a VPN or a different region."
	}
	writeEnvelope(w, code, msg, "all upstream attempts failed")
}

// tryStream opens one upstream URL and, if it is acceptable, streams it to the
// client. Returns the upstream status (0 on transport error) and whether the
// response has been written, successfully or not.
func (p *Proxy) tryStream(w http.ResponseWriter, r *http.Request, videoID string, a attempt) (int, bool) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, a.url, nil)
	if err != nil {
		return 0, false
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Accept", acceptAudio)
	req.Header.Set("Referer", "https://www.youtube.com/")
	req.Header.Set("Origin", "https://www.youtube.com")
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}

	resp, err := p.HTTP.Do(req)
	if err != nil {
		log.Printf("mediaproxy: attempt=%s video=%s url=%s err=%v", a.label, videoID, safeurl.Redact(a.url), err)
		return 0, false
	}
	if resp.StatusCode == http.StatusForbidden {
		log.Printf("mediaproxy: attempt=%s video=%s status=403", a.label, videoID)
		drainAndDestroy(resp)
		return resp.StatusCode, false
	}

	contentType := resp.Header.Get("Content-Type")
	if overrideContentType(resp.StatusCode, contentType, a.url) {
		contentType = mimeForItag(itagFromURL(a.url))
	}
	p.relay(r.Context(), w, resp, contentType, videoID, a)
	return resp.StatusCode, true
}

// relay forwards status, headers and body. Bytes flow unbuffered until either
// side closes.
func (p *Proxy) relay(ctx context.Context, w http.ResponseWriter, resp *http.Response, contentType, videoID string, a attempt) {
	defer resp.Body.Close()

	h := w.Header()
	for _, name := range passHeaders {
		if v := resp.Header.Get(name); v != "" {
			h.Set(name, v)
		}
	}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges, Content-Length")
	h.Set("Access-Control-Allow-Headers", "Range")
	w.WriteHeader(resp.StatusCode)

	metrics.ProxyStreams.Inc()
	defer metrics.ProxyStreams.Dec()

	n, err := io.Copy(w, resp.Body)
	metrics.ProxyBytes.Add(float64(n))
	if err != nil && !isClientDisconnectWriteError(err) && ctx.Err() == nil {
		log.Printf("mediaproxy: stream interrupted attempt=%s video=%s bytes=%d err=%v", a.label, videoID, n, err)
	}
}

// drainAndDestroy reads off a bounded amount of a rejected body so the
// connection can be reused, but never waits longer than drainTimeout.
func drainAndDestroy(resp *http.Response) {
	done := make(chan struct{})
	go func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 256<<10))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
	}
	resp.Body.Close()
}

// overrideContentType reports whether the googlevideo text/plain workaround
// applies: status 200, content-type text/plain, and a googlevideo.com host.
func overrideContentType(status int, contentType, rawURL string) bool {
	if status != http.StatusOK {
		return false
	}
	if !strings.Contains(strings.ToLower(contentType), "text/plain") {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(u.Hostname()), "googlevideo.com")
}

func itagFromURL(rawURL string) int {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(u.Query().Get("itag"))
	return n
}

func mimeForItag(itag int) string {
	switch {
	case audioMP4Itags[itag]:
		return "audio/mp4"
	case audioWebmItags[itag]:
		return "audio/webm"
	default:
		return "audio/webm"
	}
}

func isClientDisconnectWriteError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "use of closed network connection")
}

func writeEnvelope(w http.ResponseWriter, code int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	body := map[string]string{"message": message}
	if detail != "" {
		body["error"] = detail
	}
	json.NewEncoder(w).Encode(body)
}
