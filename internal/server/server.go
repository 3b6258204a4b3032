// Package server is the HTTP surface: route dispatch, auth gating, error
// envelopes, rate limiting.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/tunestream/tunestream/internal/auth"
	"github.com/tunestream/tunestream/internal/catalog"
	"github.com/tunestream/tunestream/internal/lyrics"
	"github.com/tunestream/tunestream/internal/mediaproxy"
	"github.com/tunestream/tunestream/internal/metrics"
	"github.com/tunestream/tunestream/internal/resolver"
	"github.com/tunestream/tunestream/internal/store"
)

// Server wires the domain services into one handler tree.
type Server struct {
	Addr     string
	BaseURL  string // prefixed onto proxiedUrl values; "" keeps them relative
	Catalog  *catalog.Service
	Resolver *resolver.Resolver
	Proxy    *mediaproxy.Proxy
	Lyrics   *lyrics.Client
	Store    *store.Store
	Auth     *auth.Verifier
	Limiter  *ClientLimiter
}

// Handler builds the full route tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	guestOK := func(h http.HandlerFunc) http.Handler { return s.Auth.GuestOK(h) }
	limited := func(h http.HandlerFunc) http.Handler { return s.Auth.GuestOK(s.Limiter.Wrap(h)) }

	mux.Handle("GET /search", limited(s.handleSearch))
	mux.Handle("GET /trending", limited(s.handleTrending))
	mux.Handle("GET /streams/{id}/best", guestOK(s.handleBestStream))
	mux.Handle("GET /streams/{id}/proxy", guestOK(s.handleProxy))
	mux.Handle("GET /lyrics", guestOK(s.handleLyrics))
	mux.Handle("POST /history", guestOK(s.handleHistoryWrite))
	mux.Handle("GET /history", guestOK(s.handleHistoryRead))

	authed := func(h http.HandlerFunc) http.Handler { return s.Auth.Required(h) }
	mux.Handle("GET /playlists", authed(s.handlePlaylistsList))
	mux.Handle("POST /playlists", authed(s.handlePlaylistCreate))
	mux.Handle("GET /playlists/{id}", authed(s.handlePlaylistGet))
	mux.Handle("DELETE /playlists/{id}", authed(s.handlePlaylistDelete))
	mux.Handle("POST /playlists/{id}/tracks", authed(s.handlePlaylistAddTrack))
	mux.Handle("DELETE /playlists/{id}/tracks/{trackId}", authed(s.handlePlaylistRemoveTrack))

	return logRequests(mux)
}

// Run serves until ctx is cancelled, then drains with a 10 second grace.
func (s *Server) Run(ctx context.Context) error {
	addr := s.Addr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Print("shutting down ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
		<-serverErr
		return nil
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

func (w *loggingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w}
		next.ServeHTTP(lw, r)
		status := lw.status
		if status == 0 {
			status = http.StatusOK
		}
		log.Printf(
			"http: %s %s status=%d bytes=%d dur=%s remote=%s",
			r.Method, r.URL.Path, status, lw.bytes, time.Since(start).Round(time.Millisecond), r.RemoteAddr,
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http: encode response: %v", err)
	}
}

// writeError emits the error envelope. detail is omitted when empty; it never
// carries raw upstream bodies.
func writeError(w http.ResponseWriter, code int, message, detail string) {
	body := map[string]string{"message": message}
	if detail != "" {
		body["error"] = detail
	}
	writeJSON(w, code, body)
}
