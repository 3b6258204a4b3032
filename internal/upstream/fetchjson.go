package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tunestream/tunestream/internal/registry"
)

// jsonResult pairs a decoded payload with the instance that served it, so cache
// hits keep their instance hint.
type jsonResult[T any] struct {
	Value T
	Base  string
}

// FetchJSON fetches and decodes a JSON payload from the ranked instances of
// kind. A response whose content-type does not contain "json", or whose body does
// not decode into T, counts as a per-instance failure and iteration continues.
// With cacheOpts set, a fresh cached value is returned without any network call
// and a successful fetch is written back with the given TTL.
func FetchJSON[T any](ctx context.Context, c *Client, kind registry.Kind, buildURL func(base string) string, opts Options, cacheOpts *CacheOptions) (T, string, error) {
	if cacheOpts != nil && c.Cache != nil {
		if hit, ok := getCached[T](c, cacheOpts.Key); ok {
			return hit.Value, hit.Base, nil
		}
	}
	var out T
	base, err := c.Fetch(ctx, kind, buildURL, opts, func(resp *http.Response) error {
		ct := resp.Header.Get("Content-Type")
		if !strings.Contains(strings.ToLower(ct), "json") {
			return fmt.Errorf("content-type %q", ct)
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("schema mismatch: %v", err)
		}
		resp.Body.Close()
		return nil
	})
	if err != nil {
		var zero T
		return zero, "", err
	}
	if cacheOpts != nil && c.Cache != nil {
		c.Cache.Set(cacheOpts.Key, jsonResult[T]{Value: out, Base: base}, cacheOpts.TTL)
	}
	return out, base, nil
}

func getCached[T any](c *Client, key string) (jsonResult[T], bool) {
	v, ok := c.Cache.Get(key)
	if !ok {
		return jsonResult[T]{}, false
	}
	r, ok := v.(jsonResult[T])
	return r, ok
}
