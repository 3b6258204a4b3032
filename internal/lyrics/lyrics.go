// Package lyrics fetches plain-text lyrics from lyrics.ovh. Misses are cached
// too, the API 404s on most non-exact titles and there is no point retrying
// them for every listener.
package lyrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tunestream/tunestream/internal/httpclient"
	"github.com/tunestream/tunestream/internal/ttlcache"
)

const defaultBaseURL = "https://api.lyrics.ovh/v1"

const (
	hitTTL  = 24 * time.Hour
	missTTL = time.Hour
)

// Result is the response shape: Lyrics is nil when none were found.
type Result struct {
	Lyrics *string `json:"lyrics"`
}

type Client struct {
	BaseURL string
	Cache   *ttlcache.Cache
	HTTP    *http.Client
}

func New(cache *ttlcache.Cache) *Client {
	return &Client{
		BaseURL: defaultBaseURL,
		Cache:   cache,
		HTTP:    httpclient.WithTimeout(10 * time.Second),
	}
}

// Lookup returns the lyrics for artist/title, or a nil-lyrics Result when the
// provider has none. Only transport-level problems surface as errors.
func (c *Client) Lookup(ctx context.Context, artist, title string) (Result, error) {
	key := "lyrics::" + artist + "::" + title
	if v, ok := c.Cache.Get(key); ok {
		if r, ok := v.(Result); ok {
			return r, nil
		}
	}

	u := c.BaseURL + "/" + url.PathEscape(artist) + "/" + url.PathEscape(title)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpclient.DoWithRetry(ctx, c.HTTP, req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		r := Result{}
		c.Cache.Set(key, r, missTTL)
		return r, nil
	case resp.StatusCode != http.StatusOK:
		return Result{}, fmt.Errorf("lyrics: HTTP %d", resp.StatusCode)
	}

	var body struct {
		Lyrics string `json:"lyrics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("lyrics: decode: %w", err)
	}
	r := Result{}
	if body.Lyrics != "" {
		r.Lyrics = &body.Lyrics
	}
	ttl := hitTTL
	if r.Lyrics == nil {
		ttl = missTTL
	}
	c.Cache.Set(key, r, ttl)
	return r, nil
}
