package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tunestream/tunestream/internal/auth"
	"github.com/tunestream/tunestream/internal/registry"
	"github.com/tunestream/tunestream/internal/resolver"
	"github.com/tunestream/tunestream/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "Missing q parameter", "")
		return
	}
	tracks, err := s.Catalog.Search(r.Context(), q, r.URL.Query().Get("region"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Search is temporarily unavailable", "all upstream instances failed")
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.Catalog.Trending(r.Context(), r.URL.Query().Get("region"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Trending is temporarily unavailable", "all upstream instances failed")
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

// bestStreamResponse is the /streams/{id}/best shape. ProxiedURL is a
// self-reference so clients never contact the upstream CDN directly.
type bestStreamResponse struct {
	URL         string `json:"url"`
	ProxiedURL  string `json:"proxiedUrl"`
	ManifestURL string `json:"manifestUrl,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Origin      string `json:"origin"`
	Instance    string `json:"instance,omitempty"`
}

func (s *Server) handleBestStream(w http.ResponseWriter, r *http.Request) {
	videoID := r.PathValue("id")
	opts := resolver.Options{
		PreferredInstance: r.URL.Query().Get("instance"),
	}
	if r.URL.Query().Get("source") == string(registry.KindInvidious) {
		opts.PreferredSource = registry.KindInvidious
	}
	rs, err := s.Resolver.Resolve(r.Context(), videoID, opts)
	if errors.Is(err, resolver.ErrUnavailable) {
		writeError(w, http.StatusNotFound, "Stream unavailable", "both service kinds exhausted")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Unable to load stream", "")
		return
	}

	proxied := s.BaseURL + "/streams/" + url.PathEscape(videoID) + "/proxy?src=" + url.QueryEscape(rs.AudioURL) +
		"&source=" + url.QueryEscape(string(rs.Source))
	if rs.Instance != "" {
		proxied += "&instance=" + url.QueryEscape(rs.Instance)
	}
	writeJSON(w, http.StatusOK, bestStreamResponse{
		URL:         rs.AudioURL,
		ProxiedURL:  proxied,
		ManifestURL: rs.ManifestURL,
		MimeType:    rs.MimeType,
		Origin:      string(rs.Source),
		Instance:    rs.Instance,
	})
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	s.Proxy.Serve(w, r, r.PathValue("id"))
}

func (s *Server) handleLyrics(w http.ResponseWriter, r *http.Request) {
	title := r.URL.Query().Get("title")
	artist := r.URL.Query().Get("artist")
	if title == "" || artist == "" {
		writeError(w, http.StatusBadRequest, "Missing title or artist parameter", "")
		return
	}
	res, err := s.Lyrics.Lookup(r.Context(), artist, title)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Lyrics lookup failed", "")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHistoryWrite(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id.Guest {
		writeJSON(w, http.StatusOK, map[string]string{"message": "history not stored for guest"})
		return
	}
	var e store.HistoryEntry
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil || e.VideoID == "" {
		writeError(w, http.StatusBadRequest, "Invalid history record", "")
		return
	}
	if err := s.Store.UpsertHistory(r.Context(), id.UserID, e); err != nil {
		writeError(w, http.StatusInternalServerError, "Unable to store history", "")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleHistoryRead(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id.Guest {
		writeJSON(w, http.StatusOK, []store.HistoryEntry{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.Store.RecentHistory(r.Context(), id.UserID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Unable to read history", "")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handlePlaylistsList(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	lists, err := s.Store.Playlists(r.Context(), id.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Unable to list playlists", "")
		return
	}
	writeJSON(w, http.StatusOK, lists)
}

func (s *Server) handlePlaylistCreate(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "Missing playlist name", "")
		return
	}
	p, err := s.Store.CreatePlaylist(r.Context(), id.UserID, body.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Unable to create playlist", "")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) playlistID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid playlist id", "")
		return 0, false
	}
	return id, true
}

func (s *Server) handlePlaylistGet(w http.ResponseWriter, r *http.Request) {
	pid, ok := s.playlistID(w, r)
	if !ok {
		return
	}
	id := auth.FromContext(r.Context())
	p, err := s.Store.Playlist(r.Context(), id.UserID, pid)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Playlist not found", "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Unable to read playlist", "")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePlaylistDelete(w http.ResponseWriter, r *http.Request) {
	pid, ok := s.playlistID(w, r)
	if !ok {
		return
	}
	id := auth.FromContext(r.Context())
	err := s.Store.DeletePlaylist(r.Context(), id.UserID, pid)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Playlist not found", "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Unable to delete playlist", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlaylistAddTrack(w http.ResponseWriter, r *http.Request) {
	pid, ok := s.playlistID(w, r)
	if !ok {
		return
	}
	id := auth.FromContext(r.Context())
	var t store.PlaylistTrack
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil || t.VideoID == "" {
		writeError(w, http.StatusBadRequest, "Invalid track", "")
		return
	}
	err := s.Store.AddPlaylistTrack(r.Context(), id.UserID, pid, t)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Playlist not found", "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Unable to add track", "")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handlePlaylistRemoveTrack(w http.ResponseWriter, r *http.Request) {
	pid, ok := s.playlistID(w, r)
	if !ok {
		return
	}
	id := auth.FromContext(r.Context())
	err := s.Store.RemovePlaylistTrack(r.Context(), id.UserID, pid, r.PathValue("trackId"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Track not found", "")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Unable to remove track", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
