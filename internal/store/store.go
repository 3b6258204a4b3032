// Package store persists per-user listening history and playlists in sqlite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned for lookups of rows the user does not own or that
// do not exist. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS history (
	user_id    TEXT NOT NULL,
	video_id   TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	artist     TEXT NOT NULL DEFAULT '',
	thumbnail  TEXT NOT NULL DEFAULT '',
	duration_s INTEGER NOT NULL DEFAULT 0,
	played_at  INTEGER NOT NULL,
	PRIMARY KEY (user_id, video_id)
);
CREATE INDEX IF NOT EXISTS idx_history_user_played ON history (user_id, played_at DESC);

CREATE TABLE IF NOT EXISTS playlists (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT NOT NULL,
	name       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_playlists_user ON playlists (user_id);

CREATE TABLE IF NOT EXISTS playlist_tracks (
	playlist_id INTEGER NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
	video_id    TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	artist      TEXT NOT NULL DEFAULT '',
	thumbnail   TEXT NOT NULL DEFAULT '',
	duration_s  INTEGER NOT NULL DEFAULT 0,
	added_at    INTEGER NOT NULL,
	PRIMARY KEY (playlist_id, video_id)
);
`

// HistoryEntry is one played track for one user.
type HistoryEntry struct {
	VideoID   string `json:"videoId"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Thumbnail string `json:"thumbnail,omitempty"`
	DurationS int    `json:"durationS"`
	PlayedAt  int64  `json:"playedAt"` // unix milliseconds
}

// Playlist is a named ordered collection of tracks.
type Playlist struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	CreatedAt int64           `json:"createdAt"`
	Tracks    []PlaylistTrack `json:"tracks,omitempty"`
}

type PlaylistTrack struct {
	VideoID   string `json:"videoId"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Thumbnail string `json:"thumbnail,omitempty"`
	DurationS int    `json:"durationS"`
	AddedAt   int64  `json:"addedAt"`
}

// Store wraps the sqlite handle. Safe for concurrent use; database/sql pools
// connections and modernc sqlite serializes writers.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// UpsertHistory records a play, replacing a previous play of the same video.
func (s *Store) UpsertHistory(ctx context.Context, userID string, e HistoryEntry) error {
	if e.PlayedAt == 0 {
		e.PlayedAt = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history (user_id, video_id, title, artist, thumbnail, duration_s, played_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, video_id) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			thumbnail = excluded.thumbnail,
			duration_s = excluded.duration_s,
			played_at = excluded.played_at`,
		userID, e.VideoID, e.Title, e.Artist, e.Thumbnail, e.DurationS, e.PlayedAt)
	return err
}

// RecentHistory returns the user's plays, most recent first.
func (s *Store) RecentHistory(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT video_id, title, artist, thumbnail, duration_s, played_at
		FROM history WHERE user_id = ?
		ORDER BY played_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.VideoID, &e.Title, &e.Artist, &e.Thumbnail, &e.DurationS, &e.PlayedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreatePlaylist makes an empty playlist and returns it.
func (s *Store) CreatePlaylist(ctx context.Context, userID, name string) (Playlist, error) {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO playlists (user_id, name, created_at) VALUES (?, ?, ?)`,
		userID, name, now)
	if err != nil {
		return Playlist{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Playlist{}, err
	}
	return Playlist{ID: id, Name: name, CreatedAt: now, Tracks: []PlaylistTrack{}}, nil
}

// Playlists lists the user's playlists without their tracks.
func (s *Store) Playlists(ctx context.Context, userID string) ([]Playlist, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at FROM playlists
		WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Playlist{}
	for rows.Next() {
		var p Playlist
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Playlist returns one playlist with its tracks in insertion order.
func (s *Store) Playlist(ctx context.Context, userID string, id int64) (Playlist, error) {
	var p Playlist
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM playlists WHERE id = ? AND user_id = ?`,
		id, userID).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Playlist{}, ErrNotFound
	}
	if err != nil {
		return Playlist{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT video_id, title, artist, thumbnail, duration_s, added_at
		FROM playlist_tracks WHERE playlist_id = ? ORDER BY added_at, video_id`, id)
	if err != nil {
		return Playlist{}, err
	}
	defer rows.Close()

	p.Tracks = []PlaylistTrack{}
	for rows.Next() {
		var t PlaylistTrack
		if err := rows.Scan(&t.VideoID, &t.Title, &t.Artist, &t.Thumbnail, &t.DurationS, &t.AddedAt); err != nil {
			return Playlist{}, err
		}
		p.Tracks = append(p.Tracks, t)
	}
	return p, rows.Err()
}

// DeletePlaylist removes the playlist and its tracks.
func (s *Store) DeletePlaylist(ctx context.Context, userID string, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM playlists WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	// Cascade is on, but older databases may predate the pragma.
	_, _ = s.db.ExecContext(ctx, `DELETE FROM playlist_tracks WHERE playlist_id = ?`, id)
	return nil
}

// AddPlaylistTrack appends a track, ignoring duplicates.
func (s *Store) AddPlaylistTrack(ctx context.Context, userID string, playlistID int64, t PlaylistTrack) error {
	if err := s.ownsPlaylist(ctx, userID, playlistID); err != nil {
		return err
	}
	if t.AddedAt == 0 {
		t.AddedAt = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO playlist_tracks (playlist_id, video_id, title, artist, thumbnail, duration_s, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (playlist_id, video_id) DO NOTHING`,
		playlistID, t.VideoID, t.Title, t.Artist, t.Thumbnail, t.DurationS, t.AddedAt)
	return err
}

// RemovePlaylistTrack deletes one track from a playlist.
func (s *Store) RemovePlaylistTrack(ctx context.Context, userID string, playlistID int64, videoID string) error {
	if err := s.ownsPlaylist(ctx, userID, playlistID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM playlist_tracks WHERE playlist_id = ? AND video_id = ?`,
		playlistID, videoID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ownsPlaylist(ctx context.Context, userID string, id int64) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM playlists WHERE id = ? AND user_id = ?`, id, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
