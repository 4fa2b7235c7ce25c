package hackernews

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NahidaBuer/programmer-trending/internal/models"
	"github.com/NahidaBuer/programmer-trending/internal/source"
	"github.com/NahidaBuer/programmer-trending/pkg/logger"
)

const (
	// SourceID is the stable key of the Hacker News source
	SourceID = "hackernews"

	// DefaultBaseURL is the official Firebase API endpoint
	DefaultBaseURL = "https://hacker-news.firebaseio.com/v0"

	discussionURL = "https://news.ycombinator.com/item?id=%s"
)

// Listing is one HN story list
type Listing struct {
	Name string // endpoint name without extension, e.g. "topstories"
	Tag  string // tag added to items found through this listing
}

// Known listings
var (
	ListingTop  = Listing{Name: "topstories"}
	ListingAsk  = Listing{Name: "askstories", Tag: "ask-hn"}
	ListingShow = Listing{Name: "showstories", Tag: "show-hn"}
)

// ListingByName resolves a configured listing name (top, ask, show)
func ListingByName(name string) (Listing, bool) {
	switch name {
	case "top", "topstories":
		return ListingTop, true
	case "ask", "askstories":
		return ListingAsk, true
	case "show", "showstories":
		return ListingShow, true
	}
	return Listing{}, false
}

// Config configures the crawler
type Config struct {
	BaseURL           string
	Listings          []Listing
	DetailConcurrency int
}

// item is the detail document returned by /item/<id>.json
type item struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Score       *int   `json:"score"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Descendants *int   `json:"descendants"`
	Deleted     bool   `json:"deleted"`
	Dead        bool   `json:"dead"`
}

// Crawler implements source.Crawler for Hacker News
type Crawler struct {
	baseURL     string
	listings    []Listing
	concurrency int
	log         *logger.Logger
}

// New creates a Hacker News crawler
func New(cfg Config, log *logger.Logger) *Crawler {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if len(cfg.Listings) == 0 {
		cfg.Listings = []Listing{ListingTop}
	}
	if cfg.DetailConcurrency <= 0 {
		cfg.DetailConcurrency = 1
	}
	return &Crawler{
		baseURL:     cfg.BaseURL,
		listings:    cfg.Listings,
		concurrency: cfg.DetailConcurrency,
		log:         log.WithSource(SourceID),
	}
}

func (c *Crawler) ID() string      { return SourceID }
func (c *Crawler) Name() string    { return "Hacker News" }
func (c *Crawler) BaseURL() string { return c.baseURL }

// FetchHotItems walks the configured listings, fetching up to limit stories
// from each. A story found in several listings is returned once with the
// union of their tags.
func (c *Crawler) FetchHotItems(ctx context.Context, client *source.Client, limit int) ([]*models.CrawledItem, error) {
	var (
		order   []string
		tags    = make(map[string][]string)
		failed  int
		lastErr error
	)

	for _, listing := range c.listings {
		ids, err := c.fetchListing(ctx, client, listing, limit)
		if err != nil {
			c.log.Error().Err(err).Str("listing", listing.Name).Msg("Failed to fetch story list")
			failed++
			lastErr = err
			continue
		}
		for _, id := range ids {
			if _, seen := tags[id]; !seen {
				order = append(order, id)
				tags[id] = []string{}
			}
			if listing.Tag != "" {
				tags[id] = append(tags[id], listing.Tag)
			}
		}
	}

	if failed == len(c.listings) {
		return nil, lastErr
	}

	items := c.fetchDetails(ctx, client, order)

	result := make([]*models.CrawledItem, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		it.Tags = append(it.Tags, tags[it.ExternalID]...)
		result = append(result, it)
	}

	c.log.Info().
		Int("ids", len(order)).
		Int("items", len(result)).
		Msg("Fetched HN stories")

	return result, nil
}

func (c *Crawler) fetchListing(ctx context.Context, client *source.Client, listing Listing, limit int) ([]string, error) {
	url := fmt.Sprintf("%s/%s.json", c.baseURL, listing.Name)
	resp := client.SafeFetch(ctx, url)
	if resp == nil {
		return nil, fmt.Errorf("%s unavailable", listing.Name)
	}

	var ids []int64
	if err := resp.DecodeJSON(&ids); err != nil {
		return nil, err
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.FormatInt(id, 10))
	}
	return out, nil
}

// fetchDetails fetches stories with bounded concurrency; results keep the
// listing order and hold nil for skipped ids
func (c *Crawler) fetchDetails(ctx context.Context, client *source.Client, ids []string) []*models.CrawledItem {
	results := make([]*models.CrawledItem, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, id := range ids {
		g.Go(func() error {
			it, err := c.FetchItemDetails(gctx, client, id)
			if err != nil {
				c.log.Warn().Err(err).Str("id", id).Msg("Skipping story")
				return nil
			}
			results[i] = it
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// FetchItemDetails fetches one story. Non-story items, deleted items and
// stories without a title yield (nil, nil).
func (c *Crawler) FetchItemDetails(ctx context.Context, client *source.Client, externalID string) (*models.CrawledItem, error) {
	url := fmt.Sprintf("%s/item/%s.json", c.baseURL, externalID)
	resp := client.SafeFetch(ctx, url)
	if resp == nil {
		c.log.Warn().Str("id", externalID).Msg("Failed to fetch item")
		return nil, nil
	}

	var data *item
	if err := resp.DecodeJSON(&data); err != nil {
		return nil, err
	}
	if data == nil || data.Deleted || data.Dead {
		return nil, nil
	}
	if data.Type != "story" {
		c.log.Debug().Str("id", externalID).Str("type", data.Type).Msg("Skipping non-story item")
		return nil, nil
	}
	url = data.URL
	if url == "" {
		url = fmt.Sprintf(discussionURL, externalID)
	}

	crawled := &models.CrawledItem{
		SourceID:      SourceID,
		Title:         data.Title,
		URL:           url,
		ExternalID:    externalID,
		Score:         data.Score,
		Author:        data.By,
		CommentsCount: data.Descendants,
		Tags:          []string{},
	}
	if data.Time > 0 {
		created := time.Unix(data.Time, 0).UTC()
		crawled.CreatedAt = &created
	}
	return crawled, nil
}

// Ensure Crawler implements source.Crawler
var _ source.Crawler = (*Crawler)(nil)
