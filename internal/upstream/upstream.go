// Package upstream fetches from ranked instance lists: try candidates best-first,
// record the outcome of every attempt, return the first success.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/tunestream/tunestream/internal/health"
	"github.com/tunestream/tunestream/internal/httpclient"
	"github.com/tunestream/tunestream/internal/metrics"
	"github.com/tunestream/tunestream/internal/registry"
	"github.com/tunestream/tunestream/internal/ttlcache"
)

// DefaultBudget bounds one full attempt sequence (all candidate instances) for
// catalog and resolve calls.
const DefaultBudget = 12 * time.Second

// Options tune a single fetch call.
type Options struct {
	Accept         string            // default "application/json"
	Headers        map[string]string // extra request headers
	LaxStatus      bool              // accept non-2xx instead of failing over
	PreferInstance string            // promoted to the head of the ranking for this call only
	Timeout        time.Duration     // overrides DefaultBudget when > 0
}

// CacheOptions enable the FetchJSON read-through cache.
type CacheOptions struct {
	Key string        // full namespaced key, e.g. "piped::streams:VIDEOID"
	TTL time.Duration // entry lifetime
}

// AllFailedError aggregates the per-instance reasons when every candidate failed.
type AllFailedError struct {
	Kind    registry.Kind
	Reasons map[string]string // base URL -> short reason
}

func (e *AllFailedError) Error() string {
	if len(e.Reasons) == 0 {
		return fmt.Sprintf("upstream %s: no instances configured", e.Kind)
	}
	parts := make([]string, 0, len(e.Reasons))
	for u, r := range e.Reasons {
		parts = append(parts, u+": "+r)
	}
	sort.Strings(parts)
	return fmt.Sprintf("upstream %s: all %d instances failed (%s)", e.Kind, len(e.Reasons), strings.Join(parts, "; "))
}

// Client iterates ranked instances for a service kind. Safe for parallel callers.
type Client struct {
	Registry *registry.Registry
	Health   *health.Tracker
	Cache    *ttlcache.Cache
	HTTP     *http.Client
	Budget   time.Duration

	mu       sync.Mutex
	lastUsed map[registry.Kind]string
}

func New(reg *registry.Registry, tracker *health.Tracker, cache *ttlcache.Cache) *Client {
	return &Client{
		Registry: reg,
		Health:   tracker,
		Cache:    cache,
		HTTP:     httpclient.Default(),
		Budget:   DefaultBudget,
		lastUsed: make(map[registry.Kind]string),
	}
}

// LastUsed returns the most recent successfully used base URL for kind, if any.
// Carried to clients as an instance hint so a later resolve retries it first.
func (c *Client) LastUsed(kind registry.Kind) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed[kind]
}

func (c *Client) rememberLastUsed(kind registry.Kind, base string) {
	c.mu.Lock()
	if c.lastUsed == nil {
		c.lastUsed = make(map[registry.Kind]string)
	}
	c.lastUsed[kind] = base
	c.mu.Unlock()
}

// candidates snapshots the ranked instance list for kind, with opts.PreferInstance
// promoted to the head without mutating the registry.
func (c *Client) candidates(kind registry.Kind, opts Options) []string {
	ranked := c.Health.Rank(kind, c.Registry.Instances(kind))
	prefer := strings.TrimRight(strings.TrimSpace(opts.PreferInstance), "/")
	if prefer == "" {
		return ranked
	}
	out := make([]string, 0, len(ranked)+1)
	out = append(out, prefer)
	for _, u := range ranked {
		if u != prefer {
			out = append(out, u)
		}
	}
	return out
}

// FetchRaw tries instances in ranked order and returns the first successful
// response with its body open, along with the base URL that served it. The body
// stays readable after FetchRaw returns; closing it releases the attempt's
// resources, so the caller must close it.
func (c *Client) FetchRaw(ctx context.Context, kind registry.Kind, buildURL func(base string) string, opts Options) (*http.Response, string, error) {
	var resp *http.Response
	base, err := c.Fetch(ctx, kind, buildURL, opts, func(r *http.Response) error {
		resp = r
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return resp, base, nil
}

// Fetch drives the ranked iteration. handle inspects a 2xx response: returning
// nil claims it (body stays open, success recorded); returning an error counts as
// a per-instance failure and iteration continues. Fetch returns the base URL of
// the claiming instance.
func (c *Client) Fetch(ctx context.Context, kind registry.Kind, buildURL func(base string) string, opts Options, handle func(*http.Response) error) (string, error) {
	candidates := c.candidates(kind, opts)
	fail := &AllFailedError{Kind: kind, Reasons: make(map[string]string, len(candidates))}
	if len(candidates) == 0 {
		return "", fail
	}
	budget := c.Budget
	if opts.Timeout > 0 {
		budget = opts.Timeout
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	deadline := time.Now().Add(budget)

	for _, base := range candidates {
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			// Budget spent or caller cancellation: neither success nor failure for
			// the instances we never reached.
			break
		}
		reason, claimed := c.attempt(ctx, deadline, kind, base, buildURL(base), opts, handle)
		if claimed {
			return base, nil
		}
		if reason == "" {
			continue // cancelled mid-attempt; no health update
		}
		fail.Reasons[base] = reason
	}
	if len(fail.Reasons) == 0 {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !time.Now().Before(deadline) {
			return "", context.DeadlineExceeded
		}
	}
	return "", fail
}

// attempt performs one request on its own context, bounded by the call's
// deadline. Returns the failure reason ("" when the attempt was cancelled
// rather than failed) and whether handle claimed the response. The response
// body owns the attempt context: closing the body releases it, which keeps a
// claimed body readable after Fetch returns.
func (c *Client) attempt(ctx context.Context, deadline time.Time, kind registry.Kind, base, url string, opts Options, handle func(*http.Response) error) (string, bool) {
	actx, cancel := context.WithDeadline(ctx, deadline)
	req, err := http.NewRequestWithContext(actx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return "bad url", false
	}
	accept := opts.Accept
	if accept == "" {
		accept = "application/json"
	}
	req.Header.Set("Accept", accept)
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	release := httpclient.GlobalHostSem.Acquire(base)
	defer release()

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	latency := time.Since(start)
	if err != nil {
		cancel()
		if actx.Err() != nil {
			return "", false
		}
		c.recordFailure(kind, base)
		return shortNetErr(err), false
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	if !opts.LaxStatus && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		drain(resp)
		c.recordFailure(kind, base)
		return fmt.Sprintf("HTTP %d", resp.StatusCode), false
	}
	decodeBody(resp)
	if err := handle(resp); err != nil {
		drain(resp)
		c.recordFailure(kind, base)
		return err.Error(), false
	}
	c.Health.RecordSuccess(kind, base, latency)
	metrics.UpstreamAttempts.WithLabelValues(string(kind), "success").Inc()
	c.rememberLastUsed(kind, base)
	return "", true
}

func (c *Client) recordFailure(kind registry.Kind, base string) {
	c.Health.RecordFailure(kind, base)
	metrics.UpstreamAttempts.WithLabelValues(string(kind), "failure").Inc()
}

// decodeBody unwraps brotli bodies in place. Several invidious mirrors send
// Content-Encoding: br regardless of Accept-Encoding; gzip is already handled by
// the transport.
func decodeBody(resp *http.Response) {
	if !strings.EqualFold(resp.Header.Get("Content-Encoding"), "br") {
		return
	}
	resp.Body = &brotliBody{r: brotli.NewReader(resp.Body), close: resp.Body.Close}
	resp.Header.Del("Content-Encoding")
	resp.ContentLength = -1
}

type brotliBody struct {
	r     io.Reader
	close func() error
}

func (b *brotliBody) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *brotliBody) Close() error               { return b.close() }

// cancelBody releases the attempt's context when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close()
}

func shortNetErr(err error) string {
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "); i >= 0 {
		msg = msg[i+2:]
	}
	return msg
}
