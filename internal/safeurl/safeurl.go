// Package safeurl validates and redacts URLs that cross trust boundaries: the
// media proxy accepts an upstream URL from the client, and log lines must not leak
// signed query parameters.
package safeurl

import (
	"net/url"
	"strings"
)

// IsHTTPOrHTTPS reports whether u parses as a URL with scheme http or https.
// Rejects file://, ftp:// and friends so a crafted src cannot reach local files.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}

// sensitiveParams are query keys whose values are replaced in log output.
var sensitiveParams = map[string]bool{
	"sig":       true,
	"signature": true,
	"token":     true,
	"key":       true,
	"pot":       true,
}

// Redact returns u with signed/secret query parameter values masked and the
// result capped at 120 runes. Safe for log lines; never returns an empty string
// for a non-empty input.
func Redact(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return truncate(u)
	}
	q := parsed.Query()
	changed := false
	for k := range q {
		if sensitiveParams[strings.ToLower(k)] {
			q.Set(k, "***")
			changed = true
		}
	}
	if changed {
		parsed.RawQuery = q.Encode()
	}
	return truncate(parsed.String())
}

func truncate(s string) string {
	const max = 120
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
