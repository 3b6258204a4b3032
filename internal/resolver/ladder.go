package resolver

import (
	"sort"
	"strings"
)

// AudioVariant is one playable audio rendition.
type AudioVariant struct {
	URL           string `json:"url"`
	MimeType      string `json:"mimeType"`
	Codec         string `json:"codec"`
	Bitrate       int64  `json:"bitrate"`
	ContentLength int64  `json:"contentLength,omitempty"`
}

// VideoVariant is one video rendition, highest quality first in a ladder.
type VideoVariant struct {
	URL     string `json:"url"`
	Quality string `json:"quality"`
	Height  int    `json:"height"`
	Width   int    `json:"width"`
	FPS     int    `json:"fps"`
	Itag    int    `json:"itag,omitempty"`
	Bitrate int64  `json:"bitrate"`
	Codec   string `json:"codec"`
}

// codecRank orders audio codecs: opus beats aac beats everything else.
func codecRank(codec string) int {
	c := strings.ToLower(codec)
	switch {
	case strings.Contains(c, "opus"):
		return 0
	case strings.Contains(c, "aac") || strings.Contains(c, "mp4a"):
		return 1
	default:
		return 2
	}
}

// sortAudioLadder orders by codec preference (opus > aac > other), then by
// descending bitrate. Stable so equal variants keep upstream order.
func sortAudioLadder(ladder []AudioVariant) {
	sort.SliceStable(ladder, func(i, j int) bool {
		ri, rj := codecRank(ladder[i].Codec), codecRank(ladder[j].Codec)
		if ri != rj {
			return ri < rj
		}
		return ladder[i].Bitrate > ladder[j].Bitrate
	})
}

// sortVideoLadder orders by descending height, then descending fps.
func sortVideoLadder(ladder []VideoVariant) {
	sort.SliceStable(ladder, func(i, j int) bool {
		if ladder[i].Height != ladder[j].Height {
			return ladder[i].Height > ladder[j].Height
		}
		return ladder[i].FPS > ladder[j].FPS
	})
}

// qualityLabelForHeight maps a pixel height to the display label.
func qualityLabelForHeight(height int) string {
	switch {
	case height >= 4320:
		return "4320p(8K)"
	case height >= 2160:
		return "2160p(4K)"
	case height >= 1440:
		return "1440p(2K)"
	case height >= 1080:
		return "1080p"
	case height >= 720:
		return "720p"
	case height >= 480:
		return "480p"
	case height >= 360:
		return "360p"
	case height >= 240:
		return "240p"
	case height >= 144:
		return "144p"
	default:
		return ""
	}
}

// itagQuality labels known video itags when the upstream omits dimensions.
var itagQuality = map[int]string{
	160: "144p",
	133: "240p",
	134: "360p",
	135: "480p",
	136: "720p",
	298: "720p",
	302: "720p",
	137: "1080p",
	299: "1080p",
	303: "1080p",
	264: "1440p(2K)",
	271: "1440p(2K)",
	308: "1440p(2K)",
	266: "2160p(4K)",
	313: "2160p(4K)",
	315: "2160p(4K)",
	138: "4320p(8K)",
	272: "4320p(8K)",
}

// qualityLabel prefers the measured height and falls back to the itag table.
func qualityLabel(height, itag int) string {
	if l := qualityLabelForHeight(height); l != "" {
		return l
	}
	return itagQuality[itag]
}

// codecFromMime extracts the codecs= parameter from a mime type like
// `audio/webm; codecs="opus"`.
func codecFromMime(mime string) string {
	i := strings.Index(strings.ToLower(mime), "codecs=")
	if i < 0 {
		return ""
	}
	c := mime[i+len("codecs="):]
	c = strings.Trim(c, `"' `)
	if j := strings.IndexAny(c, `";`); j >= 0 {
		c = c[:j]
	}
	return strings.TrimSpace(c)
}
