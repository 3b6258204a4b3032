// Package httpclient provides the shared tuned HTTP clients used by the upstream
// client, the media proxy and the lyrics fetcher.
package httpclient

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 16
)

var (
	defaultClient   *http.Client
	streamingClient *http.Client
)

func init() {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: MaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
	}
	defaultClient = &http.Client{
		Timeout:   DefaultTimeout,
		Transport: transport,
	}
	// Streaming: no overall timeout (a media stream runs for minutes); bound only
	// the time to response headers so a dead CDN node fails fast.
	streamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   MaxIdleConnsPerHost,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			ResponseHeaderTimeout: 10 * time.Second,
		},
	}
}

// Default returns the shared client for catalog, resolve and lyrics calls.
func Default() *http.Client {
	return defaultClient
}

// ForStreaming returns the shared client for media proxy attempts. Body reads are
// client-paced and never time out.
func ForStreaming() *http.Client {
	return streamingClient
}

// ForStreamingWithHeaderTimeout is ForStreaming with a custom time-to-headers
// bound.
func ForStreamingWithHeaderTimeout(headerTimeout time.Duration) *http.Client {
	if headerTimeout <= 0 {
		return streamingClient
	}
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   MaxIdleConnsPerHost,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			ResponseHeaderTimeout: headerTimeout,
		},
	}
}

// WithTimeout returns a client with the given timeout sharing Default's transport
// settings.
func WithTimeout(timeout time.Duration) *http.Client {
	t, ok := defaultClient.Transport.(*http.Transport)
	if !ok {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: t.Clone(),
	}
}
