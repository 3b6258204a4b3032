// Package metrics exposes prometheus collectors for the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// UpstreamAttempts counts individual instance attempts by service kind and
	// outcome ("success", "failure").
	UpstreamAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tunestream",
		Subsystem: "upstream",
		Name:      "attempts_total",
		Help:      "Upstream instance attempts by kind and outcome.",
	}, []string{"kind", "outcome"})

	// ResolveResults counts stream resolutions by originating source kind
	// ("piped", "invidious") or "unavailable".
	ResolveResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tunestream",
		Subsystem: "resolver",
		Name:      "results_total",
		Help:      "Stream resolutions by source kind, plus unavailable.",
	}, []string{"source"})

	// ProxyBytes counts media bytes forwarded to clients.
	ProxyBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tunestream",
		Subsystem: "proxy",
		Name:      "bytes_total",
		Help:      "Media bytes streamed to clients.",
	})

	// ProxyStreams gauges in-flight media proxy streams.
	ProxyStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tunestream",
		Subsystem: "proxy",
		Name:      "streams_inflight",
		Help:      "Currently open media proxy streams.",
	})

	// ProxyRetries counts retry-ladder attempts beyond the first (attempt B and C).
	ProxyRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tunestream",
		Subsystem: "proxy",
		Name:      "retries_total",
		Help:      "Media proxy re-resolution attempts after an upstream failure.",
	})
)

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
