// Package resolver turns a video id into playable media URLs. It queries one
// service kind, falls back to the other, and reconciles their schemas into a
// single ResolvedStream with ranked audio and video ladders.
package resolver

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/tunestream/tunestream/internal/metrics"
	"github.com/tunestream/tunestream/internal/registry"
	"github.com/tunestream/tunestream/internal/ttlcache"
	"github.com/tunestream/tunestream/internal/upstream"
)

// ResolvedTTL is how long a resolved stream stays fresh. Media URLs carry
// upstream expiry tokens, so anything much longer serves dead links.
const ResolvedTTL = 5 * time.Minute

// DefaultServiceTTL is the lifetime of the raw per-service payload caches.
const DefaultServiceTTL = 5 * time.Minute

// ErrUnavailable is returned when both service kinds are exhausted for an id.
var ErrUnavailable = errors.New("stream unavailable")

// ResolvedStream is the normalized resolve output. AudioURL is always the head
// of AudioLadder.
type ResolvedStream struct {
	VideoID     string         `json:"videoId"`
	AudioURL    string         `json:"audioUrl"`
	ManifestURL string         `json:"manifestUrl,omitempty"`
	MimeType    string         `json:"mimeType"`
	AudioLadder []AudioVariant `json:"audioLadder"`
	VideoLadder []VideoVariant `json:"videoLadder"`
	Source      registry.Kind  `json:"source"`
	Instance    string         `json:"instance,omitempty"`
}

// Options select the service kind and instance tried first for one call. They
// never mutate the registry.
type Options struct {
	PreferredSource   registry.Kind // KindInvidious flips the attempt order
	PreferredInstance string        // promoted to the head of the preferred kind's candidates
}

// Resolver resolves video ids through the upstream client, caching results.
type Resolver struct {
	Client     *upstream.Client
	Cache      *ttlcache.Cache
	TTL        time.Duration // resolved-stream cache lifetime
	ServiceTTL time.Duration // raw payload cache lifetime
}

func New(client *upstream.Client, cache *ttlcache.Cache) *Resolver {
	return &Resolver{
		Client:     client,
		Cache:      cache,
		TTL:        ResolvedTTL,
		ServiceTTL: DefaultServiceTTL,
	}
}

func resolvedKey(videoID string) string { return "resolved::" + videoID }

// Resolve produces a ResolvedStream for videoID, or ErrUnavailable when both
// service kinds are exhausted. Per-instance failures never surface to the
// caller.
func (r *Resolver) Resolve(ctx context.Context, videoID string, opts Options) (*ResolvedStream, error) {
	if v, ok := r.Cache.Get(resolvedKey(videoID)); ok {
		if rs, ok := v.(*ResolvedStream); ok {
			return rs, nil
		}
	}

	order := []registry.Kind{registry.KindPiped, registry.KindInvidious}
	if opts.PreferredSource == registry.KindInvidious {
		order = []registry.Kind{registry.KindInvidious, registry.KindPiped}
	}

	for _, kind := range order {
		hint := ""
		if kind == order[0] {
			hint = opts.PreferredInstance
		}
		rs, err := r.resolveVia(ctx, kind, videoID, hint)
		if err != nil {
			log.Printf("resolve: kind=%s video=%s err=%v", kind, videoID, err)
			continue
		}
		r.Cache.Set(resolvedKey(videoID), rs, r.TTL)
		metrics.ResolveResults.WithLabelValues(string(kind)).Inc()
		return rs, nil
	}
	metrics.ResolveResults.WithLabelValues("unavailable").Inc()
	return nil, ErrUnavailable
}

// resolveVia runs one service kind end to end: fetch, normalize, validate.
func (r *Resolver) resolveVia(ctx context.Context, kind registry.Kind, videoID, preferInstance string) (*ResolvedStream, error) {
	var (
		audio    []AudioVariant
		video    []VideoVariant
		manifest string
		base     string
	)
	switch kind {
	case registry.KindPiped:
		ps, b, err := r.fetchPiped(ctx, videoID, preferInstance)
		if err != nil {
			return nil, err
		}
		audio, video = normalizePiped(ps)
		manifest, base = ps.HLS, b
	case registry.KindInvidious:
		iv, b, err := r.fetchInvidious(ctx, videoID, preferInstance)
		if err != nil {
			return nil, err
		}
		audio, video = normalizeInvidious(iv, b, videoID)
		manifest, base = iv.HLSURL, b
	default:
		return nil, errors.New("unsupported service kind")
	}
	if len(audio) == 0 {
		return nil, errors.New("empty audio ladder")
	}
	return &ResolvedStream{
		VideoID:     videoID,
		AudioURL:    audio[0].URL,
		ManifestURL: manifest,
		MimeType:    audio[0].MimeType,
		AudioLadder: audio,
		VideoLadder: video,
		Source:      kind,
		Instance:    base,
	}, nil
}

// Invalidate drops the resolved stream and the raw per-service payloads for
// videoID, forcing the next Resolve to hit the network.
func (r *Resolver) Invalidate(videoID string) {
	r.Cache.Delete(resolvedKey(videoID))
	r.Cache.Delete("piped::streams:" + videoID)
	r.Cache.Delete("invidious::videos:" + videoID)
}
