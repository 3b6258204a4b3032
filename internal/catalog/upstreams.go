package catalog

import (
	"context"
	"net/url"

	"github.com/tunestream/tunestream/internal/registry"
	"github.com/tunestream/tunestream/internal/upstream"
)

// pipedItem is one entry of a piped search or trending feed.
type pipedItem struct {
	URL              string `json:"url"`
	Type             string `json:"type"`
	Title            string `json:"title"`
	UploaderName     string `json:"uploaderName"`
	Thumbnail        string `json:"thumbnail"`
	Duration         int    `json:"duration"`
	ShortDescription string `json:"shortDescription"`
}

type pipedSearchResponse struct {
	Items []pipedItem `json:"items"`
}

// invidiousItem is one entry of an invidious search or trending feed.
type invidiousItem struct {
	Type            string `json:"type"`
	VideoID         string `json:"videoId"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	LengthSeconds   int    `json:"lengthSeconds"`
	Description     string `json:"description"`
	VideoThumbnails []struct {
		URL string `json:"url"`
	} `json:"videoThumbnails"`
}

func (s *Service) searchPiped(ctx context.Context, query, region string) ([]item, error) {
	cache := &upstream.CacheOptions{
		Key: "search::piped:" + region + ":" + query,
		TTL: pipedSearchTTL,
	}
	resp, base, err := upstream.FetchJSON[pipedSearchResponse](ctx, s.Client, registry.KindPiped, func(b string) string {
		return b + "/search?q=" + url.QueryEscape(query) + "&region=" + url.QueryEscape(region) + "&filter=music_songs"
	}, upstream.Options{}, cache)
	if err != nil {
		return nil, err
	}
	return normalizePipedItems(resp.Items, base), nil
}

func (s *Service) searchInvidious(ctx context.Context, query, region string) ([]item, error) {
	cache := &upstream.CacheOptions{
		Key: "search::invidious:" + region + ":" + query,
		TTL: invidiousSearchTTL,
	}
	items, base, err := upstream.FetchJSON[[]invidiousItem](ctx, s.Client, registry.KindInvidious, func(b string) string {
		return b + "/api/v1/search?q=" + url.QueryEscape(query) + "&type=video&region=" + url.QueryEscape(region)
	}, upstream.Options{}, cache)
	if err != nil {
		return nil, err
	}
	return normalizeInvidiousItems(items, base), nil
}

func (s *Service) trendingPiped(ctx context.Context, region string) ([]item, error) {
	items, base, err := upstream.FetchJSON[[]pipedItem](ctx, s.Client, registry.KindPiped, func(b string) string {
		return b + "/trending?region=" + url.QueryEscape(region) + "&type=music"
	}, upstream.Options{}, nil)
	if err != nil {
		return nil, err
	}
	return normalizePipedItems(items, base), nil
}

func (s *Service) trendingInvidious(ctx context.Context, region string) ([]item, error) {
	items, base, err := upstream.FetchJSON[[]invidiousItem](ctx, s.Client, registry.KindInvidious, func(b string) string {
		return b + "/api/v1/trending?type=music&region=" + url.QueryEscape(region)
	}, upstream.Options{}, nil)
	if err != nil {
		return nil, err
	}
	return normalizeInvidiousItems(items, base), nil
}

func normalizePipedItems(items []pipedItem, base string) []item {
	out := make([]item, 0, len(items))
	for _, it := range items {
		id := videoIDFromWatchURL(it.URL)
		if id == "" {
			continue
		}
		out = append(out, item{
			Track: Track{
				ID:             id,
				Title:          it.Title,
				Artist:         it.UploaderName,
				Thumbnail:      it.Thumbnail,
				DurationS:      it.Duration,
				Source:         "youtube",
				StreamSource:   registry.KindPiped,
				StreamInstance: base,
			},
			Description: it.ShortDescription,
		})
	}
	return out
}

func normalizeInvidiousItems(items []invidiousItem, base string) []item {
	out := make([]item, 0, len(items))
	for _, it := range items {
		if it.VideoID == "" || (it.Type != "" && it.Type != "video") {
			continue
		}
		thumb := ""
		if len(it.VideoThumbnails) > 0 {
			thumb = it.VideoThumbnails[0].URL
		}
		out = append(out, item{
			Track: Track{
				ID:             it.VideoID,
				Title:          it.Title,
				Artist:         it.Author,
				Thumbnail:      thumb,
				DurationS:      it.LengthSeconds,
				Source:         "youtube",
				StreamSource:   registry.KindInvidious,
				StreamInstance: base,
			},
			Description: it.Description,
		})
	}
	return out
}
