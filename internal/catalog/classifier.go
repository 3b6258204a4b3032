package catalog

import (
	"regexp"
	"strings"
)

// nonMusicKeywords reject a candidate outright when any of them appears as a
// word in the lowercased title+description+uploader text.
var nonMusicKeywords = []string{
	"news", "gaming", "gameplay", "walkthrough", "vlog", "unboxing", "review",
	"podcast", "livestream", "tutorial", "sports", "highlights", "documentary",
	"trailer", "teaser", "asmr", "interview", "lecture", "sermon", "audiobook",
	"prank", "reaction", "challenge", "shorts", "comedy", "standup", "recipe",
	"workout", "motivation", "meditation", "crypto", "politics",
}

// musicIndicators mark a candidate as plausibly music even when other signals
// are weak (long uploader name, unknown duration).
var musicIndicators = []string{
	"song", "music", "track", "album", "remix", "cover", "official audio",
	"official video", "lyrics", "lyric", "feat", "ft.", "featuring", "mv",
	"single", "ost", "soundtrack", "instrumental", "acoustic", "unplugged",
	"mixtape", "concert",
}

// rejectPatterns knock out live/serial content that slips past the keyword set.
var rejectPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\d+\s*(hours?|minutes?|days?)\s*(ago|old)`),
	regexp.MustCompile(`live\s+(now|stream|chat)`),
	regexp.MustCompile(`episode\s+\d+`),
	regexp.MustCompile(`part\s+\d+`),
	regexp.MustCompile(`season\s+\d+`),
}

const (
	maxTitleLen       = 80
	maxDescriptionLen = 500
	minDurationS      = 45
	maxDurationS      = 600
)

// Candidate is the raw material the classifier inspects. DurationS <= 0 means
// unknown.
type Candidate struct {
	Title       string
	Description string
	Uploader    string
	DurationS   int
}

// IsMusic applies the deterministic music heuristic. Any single rejection rule
// wins; otherwise the candidate is accepted.
func IsMusic(c Candidate) bool {
	title := strings.ToLower(c.Title)
	haystack := title + " " + strings.ToLower(c.Description) + " " + strings.ToLower(c.Uploader)

	for _, kw := range nonMusicKeywords {
		if containsWord(haystack, kw) {
			return false
		}
	}
	if len(c.Title) > maxTitleLen || len(c.Description) > maxDescriptionLen {
		return false
	}
	hasIndicator := false
	for _, ind := range musicIndicators {
		if strings.Contains(haystack, ind) {
			hasIndicator = true
			break
		}
	}
	if len(strings.Fields(c.Uploader)) > 5 && !hasIndicator {
		return false
	}
	if c.DurationS <= 0 {
		if !hasIndicator {
			return false
		}
	} else if c.DurationS < minDurationS || c.DurationS > maxDurationS {
		return false
	}
	for _, re := range rejectPatterns {
		if re.MatchString(title) {
			return false
		}
	}
	return true
}

// containsWord reports whether w occurs in s on word boundaries, so "news"
// does not fire on "newsome" and "gaming" does not fire inside other words.
func containsWord(s, w string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], w)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(w)
		beforeOK := start == 0 || !isWordByte(s[start-1])
		afterOK := end == len(s) || !isWordByte(s[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
