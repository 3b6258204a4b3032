// Command tunestream: music streaming gateway over piped/invidious mirrors.
//
//	run    Serve the HTTP gateway. For systemd. Zero interaction after .env.
//	probe  Probe every configured upstream instance once, report status and
//	       latency, print the ranked order the gateway would use.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tunestream/tunestream/internal/auth"
	"github.com/tunestream/tunestream/internal/catalog"
	"github.com/tunestream/tunestream/internal/config"
	"github.com/tunestream/tunestream/internal/health"
	"github.com/tunestream/tunestream/internal/httpclient"
	"github.com/tunestream/tunestream/internal/lyrics"
	"github.com/tunestream/tunestream/internal/mediaproxy"
	"github.com/tunestream/tunestream/internal/registry"
	"github.com/tunestream/tunestream/internal/resolver"
	"github.com/tunestream/tunestream/internal/server"
	"github.com/tunestream/tunestream/internal/store"
	"github.com/tunestream/tunestream/internal/ttlcache"
	"github.com/tunestream/tunestream/internal/upstream"
)

func main() {
	_ = config.LoadEnvFile(".env")
	log.SetFlags(log.LstdFlags)
	log.SetPrefix("[tunestream] ")

	runCmd := flag.NewFlagSet("run", flag.ExitOnError)
	runAddr := runCmd.String("addr", "", "Listen address (default: TUNESTREAM_ADDR or :8080)")
	runDB := runCmd.String("db", "", "SQLite path (default: TUNESTREAM_DB or tunestream.db)")

	probeCmd := flag.NewFlagSet("probe", flag.ExitOnError)
	probeTimeout := probeCmd.Duration("timeout", 10*time.Second, "Timeout per instance")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <run|probe> [flags]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  run    Serve the gateway (for systemd)\n")
		fmt.Fprintf(os.Stderr, "  probe  Probe configured upstream instances, report ranked order\n")
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "run":
		_ = runCmd.Parse(os.Args[2:])
		if *runAddr != "" {
			cfg.Addr = *runAddr
		}
		if *runDB != "" {
			cfg.DBPath = *runDB
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := run(ctx, cfg); err != nil {
			log.Printf("run failed: %v", err)
			os.Exit(1)
		}

	case "probe":
		_ = probeCmd.Parse(os.Args[2:])
		probe(cfg, *probeTimeout)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", os.Args[1])
		os.Exit(1)
	}
}

func newRegistry(cfg *config.Config) *registry.Registry {
	return registry.New(registry.Lists{
		registry.KindPiped:     cfg.Piped,
		registry.KindInvidious: cfg.Invidious,
		registry.KindHyperpipe: cfg.Hyperpipe,
		registry.KindProxy:     cfg.Proxy,
		registry.KindHLS:       cfg.HLS,
	})
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := newRegistry(cfg)
	tracker := health.NewTracker()
	cache := ttlcache.New()
	client := upstream.New(reg, tracker, cache)
	client.Budget = cfg.UpstreamBudget

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	res := resolver.New(client, cache)
	proxy := mediaproxy.New(res)
	proxy.HTTP = httpclient.ForStreamingWithHeaderTimeout(cfg.ProxyHeaderTimeout)
	srv := &server.Server{
		Addr:     cfg.Addr,
		BaseURL:  cfg.BaseURL,
		Catalog:  catalog.New(client, cache, cfg.MusicRegion),
		Resolver: res,
		Proxy:    proxy,
		Lyrics:   lyrics.New(cache),
		Store:    st,
		Auth:     auth.NewVerifier(cfg.JWTSecret),
		Limiter:  server.NewClientLimiter(cfg.CatalogRatePerSec, cfg.CatalogRateBurst),
	}

	log.Printf("config: piped=%d invidious=%d region=%s db=%s",
		len(cfg.Piped), len(cfg.Invidious), cfg.MusicRegion, cfg.DBPath)
	if cfg.HealthProbing {
		log.Printf("TUNESTREAM_HEALTH=Y set but active probing is not implemented; health updates on real traffic only")
	}
	return srv.Run(ctx)
}

// probePaths are cheap per-kind endpoints that answer fast on a live instance.
var probePaths = map[registry.Kind]string{
	registry.KindPiped:     "/healthcheck",
	registry.KindInvidious: "/api/v1/stats",
}

func probe(cfg *config.Config, timeout time.Duration) {
	reg := newRegistry(cfg)
	tracker := health.NewTracker()
	httpc := httpclient.WithTimeout(timeout)

	for _, kind := range []registry.Kind{registry.KindPiped, registry.KindInvidious} {
		bases := reg.Instances(kind)
		if len(bases) == 0 {
			continue
		}
		path := probePaths[kind]
		log.Printf("Probing %d %s instance(s) (timeout %v)...", len(bases), kind, timeout)
		for _, base := range bases {
			start := time.Now()
			status, err := probeOne(httpc, base+path)
			latency := time.Since(start)
			if err != nil {
				tracker.RecordFailure(kind, base)
				log.Printf("  %-40s FAIL %v", base, err)
				continue
			}
			if status < 200 || status > 299 {
				tracker.RecordFailure(kind, base)
				log.Printf("  %-40s HTTP %d  %dms", base, status, latency.Milliseconds())
				continue
			}
			tracker.RecordSuccess(kind, base, latency)
			log.Printf("  %-40s OK  %dms", base, latency.Milliseconds())
		}
		ranked := tracker.Rank(kind, bases)
		log.Printf("Ranked order for %s (best first):", kind)
		for i, base := range ranked {
			log.Printf("  %d. %s", i+1, base)
		}
	}
}

func probeOne(c *http.Client, url string) (int, error) {
	resp, err := c.Get(url)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
