package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultPiped and DefaultInvidious are the built-in upstream lists used when no
// env override is set. Order matters: it is the initial ranking before any health
// data exists.
var (
	DefaultPiped = []string{
		"https://pipedapi.kavin.rocks",
		"https://pipedapi.adminforge.de",
		"https://api.piped.private.coffee",
		"https://pipedapi.drgns.space",
	}
	DefaultInvidious = []string{
		"https://inv.nadeko.net",
		"https://invidious.private.coffee",
		"https://iv.melmac.space",
		"https://invidious.jing.rocks",
	}
)

// Config holds gateway + upstream + store settings. Load from env; call
// LoadEnvFile(".env") first to use a .env file.
type Config struct {
	// HTTP surface
	Addr    string // listen address, e.g. ":8080"
	BaseURL string // external base URL used when building proxiedUrl values; "" = relative

	// Upstream instance lists per service kind. Trailing slashes are stripped and
	// duplicates collapsed by the registry, not here.
	Piped     []string
	Invidious []string
	Hyperpipe []string
	Proxy     []string // declared but unused by the core; see DESIGN.md
	HLS       []string

	JioSaavnURL string // alternate catalog endpoint (unused by core)

	// HealthProbing is reserved: "Y" enables a future active probe loop. Health is
	// currently updated only as a side-effect of real traffic.
	HealthProbing bool

	MusicRegion string // default region for catalog calls (env MUSIC_REGION)

	// Auth
	JWTSecret string // HS256 secret; empty disables token verification (guest-only)

	// Store
	DBPath string // sqlite database path

	// Rate limiting for catalog routes (requests/second and burst per client IP).
	CatalogRatePerSec float64
	CatalogRateBurst  int

	// Upstream budgets
	UpstreamBudget     time.Duration // end-to-end deadline per catalog/resolve call
	ProxyHeaderTimeout time.Duration // time-to-first-byte for a media proxy attempt
}

// Load reads config from environment with built-in defaults.
func Load() *Config {
	c := &Config{
		Addr:               getEnv("TUNESTREAM_ADDR", ":8080"),
		BaseURL:            strings.TrimSuffix(os.Getenv("TUNESTREAM_BASE_URL"), "/"),
		Piped:              getEnvList("TUNESTREAM_PIPED_URLS", DefaultPiped),
		Invidious:          getEnvList("TUNESTREAM_INVIDIOUS_URLS", DefaultInvidious),
		Hyperpipe:          getEnvList("TUNESTREAM_HYPERPIPE_URLS", nil),
		Proxy:              getEnvList("TUNESTREAM_PROXY_URLS", nil),
		HLS:                getEnvList("TUNESTREAM_HLS_URLS", nil),
		JioSaavnURL:        os.Getenv("TUNESTREAM_JIOSAAVN_URL"),
		HealthProbing:      strings.EqualFold(getEnv("TUNESTREAM_HEALTH", "N"), "Y"),
		MusicRegion:        getEnv("MUSIC_REGION", "IN"),
		JWTSecret:          os.Getenv("TUNESTREAM_JWT_SECRET"),
		DBPath:             getEnv("TUNESTREAM_DB", "tunestream.db"),
		CatalogRatePerSec:  getEnvFloat("TUNESTREAM_CATALOG_RATE", 5),
		CatalogRateBurst:   getEnvInt("TUNESTREAM_CATALOG_BURST", 10),
		UpstreamBudget:     getEnvDuration("TUNESTREAM_UPSTREAM_BUDGET", 12*time.Second),
		ProxyHeaderTimeout: getEnvDuration("TUNESTREAM_PROXY_HEADER_TIMEOUT", 10*time.Second),
	}
	if c.CatalogRatePerSec <= 0 {
		c.CatalogRatePerSec = 5
	}
	if c.CatalogRateBurst <= 0 {
		c.CatalogRateBurst = 10
	}
	if c.UpstreamBudget <= 0 {
		c.UpstreamBudget = 12 * time.Second
	}
	if c.ProxyHeaderTimeout <= 0 {
		c.ProxyHeaderTimeout = 10 * time.Second
	}
	return c
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvList splits a comma-separated env var into trimmed non-empty entries.
// Returns defaultVal when the var is unset or yields no entries.
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
