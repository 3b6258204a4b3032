package resolver

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/tunestream/tunestream/internal/registry"
	"github.com/tunestream/tunestream/internal/upstream"
)

// flexInt tolerates invidious serializing numeric fields as strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Some mirrors emit floats; truncate rather than reject.
		fl, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return err
		}
		n = int64(fl)
	}
	*f = flexInt(n)
	return nil
}

// invidiousFormat is one adaptiveFormats entry.
type invidiousFormat struct {
	Type            string  `json:"type"`
	URL             string  `json:"url"`
	SignatureCipher string  `json:"signatureCipher"`
	Itag            flexInt `json:"itag"`
	Bitrate         flexInt `json:"bitrate"`
	Clen            flexInt `json:"clen"`
	Height          flexInt `json:"height"`
	Width           flexInt `json:"width"`
	FPS             flexInt `json:"fps"`
}

// invidiousVideo is the /api/v1/videos/{id} payload, reduced to what we consume.
type invidiousVideo struct {
	Title           string            `json:"title"`
	AdaptiveFormats []invidiousFormat `json:"adaptiveFormats"`
	HLSURL          string            `json:"hlsUrl"`
}

// fetchInvidious loads /api/v1/videos/{id} from the ranked invidious instances.
func (r *Resolver) fetchInvidious(ctx context.Context, videoID, preferInstance string) (*invidiousVideo, string, error) {
	key := "invidious::videos:" + videoID
	if v, ok := r.Cache.Get(key); ok {
		if hit, ok := v.(invidiousCacheEntry); ok {
			return hit.video, hit.base, nil
		}
	}
	opts := upstream.Options{PreferInstance: preferInstance}
	video, base, err := upstream.FetchJSON[invidiousVideo](ctx, r.Client, registry.KindInvidious, func(base string) string {
		return base + "/api/v1/videos/" + url.PathEscape(videoID) + "?local=true"
	}, opts, nil)
	if err != nil {
		return nil, "", err
	}
	if len(video.AdaptiveFormats) == 0 && video.HLSURL == "" {
		return nil, "", errNoFormats
	}
	r.Cache.Set(key, invidiousCacheEntry{video: &video, base: base}, r.ServiceTTL)
	return &video, base, nil
}

type invidiousCacheEntry struct {
	video *invidiousVideo
	base  string
}

var errNoFormats = errors.New("no adaptive formats")

// formatURL resolves the media URL of one adaptiveFormats entry. Order of
// precedence: explicit url, signatureCipher, synthesized latest_version. Empty
// return means the entry is unusable and must be dropped.
func formatURL(f invidiousFormat, base, videoID string) string {
	if f.URL != "" {
		return f.URL
	}
	if f.SignatureCipher != "" {
		if u := urlFromSignatureCipher(f.SignatureCipher); u != "" {
			return u
		}
	}
	if f.Itag > 0 {
		return base + "/latest_version?id=" + url.QueryEscape(videoID) +
			"&itag=" + strconv.FormatInt(int64(f.Itag), 10) + "&local=true"
	}
	return ""
}

// urlFromSignatureCipher parses the form-encoded cipher payload, extracting url
// and the optional sig value, which is appended as a sig= query parameter.
func urlFromSignatureCipher(cipher string) string {
	values, err := url.ParseQuery(cipher)
	if err != nil {
		return ""
	}
	u := values.Get("url")
	if u == "" {
		return ""
	}
	sig := values.Get("sig")
	if sig == "" {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "sig=" + url.QueryEscape(sig)
}

// normalizeInvidious maps adaptiveFormats into ladders, deriving URLs per entry
// and dropping the ones with none.
func normalizeInvidious(video *invidiousVideo, base, videoID string) ([]AudioVariant, []VideoVariant) {
	var audio []AudioVariant
	var videoLadder []VideoVariant
	for _, f := range video.AdaptiveFormats {
		u := formatURL(f, base, videoID)
		if u == "" {
			continue
		}
		switch {
		case strings.HasPrefix(f.Type, "audio/"):
			audio = append(audio, AudioVariant{
				URL:           u,
				MimeType:      f.Type,
				Codec:         codecFromMime(f.Type),
				Bitrate:       int64(f.Bitrate),
				ContentLength: int64(f.Clen),
			})
		case strings.HasPrefix(f.Type, "video/"):
			videoLadder = append(videoLadder, VideoVariant{
				URL:     u,
				Quality: qualityLabel(int(f.Height), int(f.Itag)),
				Height:  int(f.Height),
				Width:   int(f.Width),
				FPS:     int(f.FPS),
				Itag:    int(f.Itag),
				Bitrate: int64(f.Bitrate),
				Codec:   codecFromMime(f.Type),
			})
		}
	}
	sortAudioLadder(audio)
	sortVideoLadder(videoLadder)
	return audio, videoLadder
}
