package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/tunestream/tunestream/internal/registry"
	"github.com/tunestream/tunestream/internal/upstream"
)

// pipedStream is one entry of audioStreams/videoStreams.
type pipedStream struct {
	URL           string `json:"url"`
	MimeType      string `json:"mimeType"`
	Codec         string `json:"codec"`
	Bitrate       int64  `json:"bitrate"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	FPS           int    `json:"fps"`
	Itag          int    `json:"itag"`
	ContentLength int64  `json:"contentLength"`
	Quality       string `json:"quality"`
}

// pipedStreams is the piped /streams/{id} payload, reduced to what we consume.
type pipedStreams struct {
	Title        string        `json:"title"`
	HLS          string        `json:"hls"`
	AudioStreams []pipedStream `json:"audioStreams"`
	VideoStreams []pipedStream `json:"videoStreams"`
}

// fetchPiped loads /streams/{id} from the ranked piped instances. Instances
// that wrap the payload in a Next.js HTML document are parsed through the
// __NEXT_DATA__ script tag; either way a schema the payload does not fit
// counts as a per-instance failure and iteration continues.
func (r *Resolver) fetchPiped(ctx context.Context, videoID, preferInstance string) (*pipedStreams, string, error) {
	key := "piped::streams:" + videoID
	if v, ok := r.Cache.Get(key); ok {
		if hit, ok := v.(pipedCacheEntry); ok {
			return hit.streams, hit.base, nil
		}
	}
	var out *pipedStreams
	opts := upstream.Options{
		Accept:         "application/json, text/html",
		PreferInstance: preferInstance,
	}
	base, err := r.Client.Fetch(ctx, registry.KindPiped, func(base string) string {
		return base + "/streams/" + url.PathEscape(videoID)
	}, opts, func(resp *http.Response) error {
		defer resp.Body.Close()
		ct := strings.ToLower(resp.Header.Get("Content-Type"))
		var ps pipedStreams
		switch {
		case strings.Contains(ct, "json"):
			if err := json.NewDecoder(resp.Body).Decode(&ps); err != nil {
				return fmt.Errorf("schema mismatch: %v", err)
			}
		case strings.Contains(ct, "html"):
			blob, err := extractNextData(resp.Body)
			if err != nil {
				return err
			}
			parsed, err := pipedFromNextData(blob)
			if err != nil {
				return err
			}
			ps = *parsed
		default:
			return fmt.Errorf("content-type %q", ct)
		}
		if len(ps.AudioStreams) == 0 && len(ps.VideoStreams) == 0 && ps.HLS == "" {
			return fmt.Errorf("empty streams payload")
		}
		out = &ps
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	r.Cache.Set(key, pipedCacheEntry{streams: out, base: base}, r.ServiceTTL)
	return out, base, nil
}

type pipedCacheEntry struct {
	streams *pipedStreams
	base    string
}

// extractNextData walks an HTML document for <script id="__NEXT_DATA__"> and
// returns its text content.
func extractNextData(body io.Reader) ([]byte, error) {
	doc, err := html.Parse(io.LimitReader(body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("html parse: %v", err)
	}
	var blob string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "script" {
			for _, a := range n.Attr {
				if a.Key == "id" && a.Val == "__NEXT_DATA__" {
					if n.FirstChild != nil {
						blob = n.FirstChild.Data
					}
					return true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	if !walk(doc) || blob == "" {
		return nil, fmt.Errorf("no __NEXT_DATA__ script")
	}
	return []byte(blob), nil
}

// pipedFromNextData digs the stream payload out of a __NEXT_DATA__ blob. The
// payload is either the blob itself or nested under props.pageProps.
func pipedFromNextData(blob []byte) (*pipedStreams, error) {
	var direct pipedStreams
	if err := json.Unmarshal(blob, &direct); err == nil && len(direct.AudioStreams) > 0 {
		return &direct, nil
	}
	var wrapper struct {
		Props struct {
			PageProps struct {
				Streams *pipedStreams `json:"streams"`
				Video   *pipedStreams `json:"video"`
			} `json:"pageProps"`
		} `json:"props"`
	}
	if err := json.Unmarshal(blob, &wrapper); err != nil {
		return nil, fmt.Errorf("schema mismatch: %v", err)
	}
	if s := wrapper.Props.PageProps.Streams; s != nil && len(s.AudioStreams) > 0 {
		return s, nil
	}
	if s := wrapper.Props.PageProps.Video; s != nil && len(s.AudioStreams) > 0 {
		return s, nil
	}
	return nil, fmt.Errorf("no streams in __NEXT_DATA__")
}

// normalizePiped maps the piped payload into ladders.
func normalizePiped(ps *pipedStreams) ([]AudioVariant, []VideoVariant) {
	audio := make([]AudioVariant, 0, len(ps.AudioStreams))
	for _, s := range ps.AudioStreams {
		if s.URL == "" {
			continue
		}
		codec := s.Codec
		if codec == "" {
			codec = codecFromMime(s.MimeType)
		}
		audio = append(audio, AudioVariant{
			URL:           s.URL,
			MimeType:      s.MimeType,
			Codec:         codec,
			Bitrate:       s.Bitrate,
			ContentLength: s.ContentLength,
		})
	}
	video := make([]VideoVariant, 0, len(ps.VideoStreams))
	for _, s := range ps.VideoStreams {
		if s.URL == "" {
			continue
		}
		video = append(video, VideoVariant{
			URL:     s.URL,
			Quality: qualityLabel(s.Height, s.Itag),
			Height:  s.Height,
			Width:   s.Width,
			FPS:     s.FPS,
			Itag:    s.Itag,
			Bitrate: s.Bitrate,
			Codec:   s.Codec,
		})
	}
	sortAudioLadder(audio)
	sortVideoLadder(video)
	return audio, video
}
