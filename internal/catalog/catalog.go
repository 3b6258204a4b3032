// Package catalog serves search and trending track lists, merged from both
// service kinds and filtered down to music.
package catalog

import (
	"context"
	"errors"
	"log"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tunestream/tunestream/internal/registry"
	"github.com/tunestream/tunestream/internal/ttlcache"
	"github.com/tunestream/tunestream/internal/upstream"
)

const (
	searchLimit   = 60
	trendingLimit = 40

	pipedSearchTTL     = 30 * time.Second
	invidiousSearchTTL = 45 * time.Second
	trendingTTL        = 10 * time.Minute
)

// Track is the stable catalog shape. StreamSource and StreamInstance carry the
// instance hint forward so a later resolve retries the same instance first.
type Track struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Artist         string        `json:"artist"`
	Thumbnail      string        `json:"thumbnail,omitempty"`
	DurationS      int           `json:"durationS"`
	Source         string        `json:"source"`
	StreamSource   registry.Kind `json:"streamSource,omitempty"`
	StreamInstance string        `json:"streamInstance,omitempty"`
}

// seedQueries back-fill trending when both trending feeds come up short.
// Scored as weight - 0.01*index so earlier hits of heavier queries win.
var seedQueries = []struct {
	Query  string
	Weight float64
}{
	{"trending songs", 1.00},
	{"new music releases", 0.98},
	{"top hits this week", 0.96},
	{"latest songs", 0.94},
	{"popular music", 0.92},
	{"official music video", 0.90},
	{"new song", 0.88},
	{"hit songs", 0.86},
}

// item pairs a Track with the description the classifier needs but the API
// shape does not expose.
type item struct {
	Track
	Description string
}

func tracksOf(items []item) []Track {
	out := make([]Track, 0, len(items))
	for _, it := range items {
		out = append(out, it.Track)
	}
	return out
}

// Service answers catalog queries through the upstream client.
type Service struct {
	Client *upstream.Client
	Cache  *ttlcache.Cache
	Region string // default region when the query has none
}

func New(client *upstream.Client, cache *ttlcache.Cache, region string) *Service {
	return &Service{Client: client, Cache: cache, Region: region}
}

func (s *Service) region(region string) string {
	if region != "" {
		return region
	}
	return s.Region
}

// Search queries piped and invidious in parallel and merges the results piped
// first, deduplicated by id, at most 60 items. It errors only when both
// service kinds fail.
func (s *Service) Search(ctx context.Context, query, region string) ([]Track, error) {
	region = s.region(region)

	var (
		wg                 sync.WaitGroup
		piped, invidious   []item
		pipedErr, invidErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		piped, pipedErr = s.searchPiped(ctx, query, region)
	}()
	go func() {
		defer wg.Done()
		invidious, invidErr = s.searchInvidious(ctx, query, region)
	}()
	wg.Wait()

	if pipedErr != nil && invidErr != nil {
		log.Printf("catalog: search failed q=%q piped=%v invidious=%v", query, pipedErr, invidErr)
		return nil, pipedErr
	}
	return mergeTracks(searchLimit, tracksOf(piped), tracksOf(invidious)), nil
}

// Trending returns up to 40 classifier-approved tracks for the region, cached
// for 10 minutes. Sources in order: piped trending, invidious trending, then
// weighted seed searches when still short.
func (s *Service) Trending(ctx context.Context, region string) ([]Track, error) {
	region = s.region(region)
	cacheKey := "trending::" + region
	if v, ok := s.Cache.Get(cacheKey); ok {
		if tracks, ok := v.([]Track); ok {
			return tracks, nil
		}
	}

	var out []Track
	if tracks, err := s.trendingPiped(ctx, region); err == nil {
		out = mergeTracks(trendingLimit, filterMusic(tracks))
	} else {
		log.Printf("catalog: trending piped region=%s err=%v", region, err)
	}
	if len(out) < trendingLimit {
		if tracks, err := s.trendingInvidious(ctx, region); err == nil {
			out = mergeTracks(trendingLimit, out, filterMusic(tracks))
		} else {
			log.Printf("catalog: trending invidious region=%s err=%v", region, err)
		}
	}
	if len(out) < trendingLimit {
		out = mergeTracks(trendingLimit, out, s.seedSearch(ctx, region))
	}
	if len(out) == 0 {
		return nil, errAllTrendingFailed
	}
	s.Cache.Set(cacheKey, out, trendingTTL)
	return out, nil
}

// seedSearch runs the weighted seed queries in parallel against invidious and
// returns classifier-approved tracks ordered by score.
func (s *Service) seedSearch(ctx context.Context, region string) []Track {
	type scored struct {
		item  item
		score float64
	}
	var (
		mu  sync.Mutex
		all []scored
		wg  sync.WaitGroup
	)
	for _, seed := range seedQueries {
		wg.Add(1)
		go func(query string, weight float64) {
			defer wg.Done()
			items, err := s.searchInvidious(ctx, query, region)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for i, it := range items {
				all = append(all, scored{item: it, score: weight - 0.01*float64(i)})
			}
		}(seed.Query, seed.Weight)
	}
	wg.Wait()

	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })
	items := make([]item, 0, len(all))
	for _, sc := range all {
		items = append(items, sc.item)
	}
	return filterMusic(items)
}

// mergeTracks concatenates the lists in order, dropping duplicate ids, capped
// at limit.
func mergeTracks(limit int, lists ...[]Track) []Track {
	seen := make(map[string]bool)
	out := make([]Track, 0, limit)
	for _, list := range lists {
		for _, tr := range list {
			if tr.ID == "" || seen[tr.ID] {
				continue
			}
			seen[tr.ID] = true
			out = append(out, tr)
			if len(out) == limit {
				return out
			}
		}
	}
	return out
}

func filterMusic(items []item) []Track {
	out := make([]Track, 0, len(items))
	for _, it := range items {
		if IsMusic(Candidate{Title: it.Title, Description: it.Description, Uploader: it.Artist, DurationS: it.DurationS}) {
			out = append(out, it.Track)
		}
	}
	return out
}

var errAllTrendingFailed = errors.New("all trending sources failed")

// videoIDFromWatchURL extracts the v= parameter from piped's relative
// /watch?v=ID urls.
func videoIDFromWatchURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if id := u.Query().Get("v"); id != "" {
		return id
	}
	// Some instances emit /v/ID or bare ids.
	return strings.TrimPrefix(strings.TrimPrefix(u.Path, "/v/"), "/")
}
