package rss

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/NahidaBuer/programmer-trending/internal/models"
	"github.com/NahidaBuer/programmer-trending/internal/source"
	"github.com/NahidaBuer/programmer-trending/pkg/logger"
)

// SourcePrefix namespaces feed source ids
const SourcePrefix = "rss:"

// Feed configures one feed
type Feed struct {
	ID   string // short key, the source id becomes "rss:<ID>"
	Name string
	URL  string
}

// Crawler implements source.Crawler for a single RSS or Atom feed
type Crawler struct {
	id     string
	name   string
	url    string
	maxAge time.Duration
	parser *gofeed.Parser
	now    func() time.Time
	log    *logger.Logger
}

// New creates a crawler for a single feed. Entries older than maxAge are
// ignored; zero keeps everything.
func New(feed Feed, maxAge time.Duration, log *logger.Logger) *Crawler {
	id := SourcePrefix + feed.ID
	name := feed.Name
	if name == "" {
		name = feed.ID
	}
	return &Crawler{
		id:     id,
		name:   name,
		url:    feed.URL,
		maxAge: maxAge,
		parser: gofeed.NewParser(),
		now:    time.Now,
		log:    log.WithSource(id),
	}
}

// NewMultiple creates crawlers for every configured feed
func NewMultiple(feeds []Feed, maxAge time.Duration, log *logger.Logger) []*Crawler {
	crawlers := make([]*Crawler, 0, len(feeds))
	for _, feed := range feeds {
		crawlers = append(crawlers, New(feed, maxAge, log))
	}
	return crawlers
}

func (c *Crawler) ID() string      { return c.id }
func (c *Crawler) Name() string    { return c.name }
func (c *Crawler) BaseURL() string { return c.url }

// FetchHotItems returns the newest feed entries
func (c *Crawler) FetchHotItems(ctx context.Context, client *source.Client, limit int) ([]*models.CrawledItem, error) {
	feed, err := c.fetchFeed(ctx, client)
	if err != nil {
		return nil, err
	}

	items := make([]*models.CrawledItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if limit > 0 && len(items) >= limit {
			break
		}
		if c.tooOld(entry) {
			continue
		}
		items = append(items, c.toCrawled(entry))
	}

	c.log.Info().
		Int("count", len(items)).
		Str("feed", c.name).
		Msg("Fetched RSS entries")

	return items, nil
}

// FetchItemDetails re-reads the feed and returns the entry with externalID
func (c *Crawler) FetchItemDetails(ctx context.Context, client *source.Client, externalID string) (*models.CrawledItem, error) {
	feed, err := c.fetchFeed(ctx, client)
	if err != nil {
		return nil, err
	}
	for _, entry := range feed.Items {
		if c.externalID(entry) == externalID {
			return c.toCrawled(entry), nil
		}
	}
	return nil, nil
}

func (c *Crawler) fetchFeed(ctx context.Context, client *source.Client) (*gofeed.Feed, error) {
	c.log.Debug().Str("url", c.url).Msg("Fetching RSS feed")

	resp := client.SafeFetch(ctx, c.url)
	if resp == nil {
		return nil, fmt.Errorf("feed %s unavailable", c.name)
	}

	feed, err := c.parser.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSS feed %s: %w", c.name, err)
	}
	return feed, nil
}

func (c *Crawler) tooOld(entry *gofeed.Item) bool {
	if c.maxAge <= 0 {
		return false
	}
	published := entry.PublishedParsed
	if published == nil {
		published = entry.UpdatedParsed
	}
	return published != nil && c.now().Sub(*published) > c.maxAge
}

func (c *Crawler) externalID(entry *gofeed.Item) string {
	if guid := strings.TrimSpace(entry.GUID); guid != "" {
		return guid
	}
	if entry.Link == "" {
		return ""
	}
	return source.GenerateExternalID(c.id, entry.Link)
}

func (c *Crawler) toCrawled(entry *gofeed.Item) *models.CrawledItem {
	item := &models.CrawledItem{
		SourceID:   c.id,
		Title:      cleanText(entry.Title),
		URL:        strings.TrimSpace(entry.Link),
		ExternalID: c.externalID(entry),
		Tags:       extractTags(entry),
	}

	if entry.PublishedParsed != nil {
		published := *entry.PublishedParsed
		item.CreatedAt = &published
	} else if entry.UpdatedParsed != nil {
		updated := *entry.UpdatedParsed
		item.CreatedAt = &updated
	}
	if entry.Author != nil {
		item.Author = entry.Author.Name
	}
	return item
}

// cleanText removes HTML tags and extra whitespace
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "<br>", " ")
	text = strings.ReplaceAll(text, "<br/>", " ")
	text = strings.ReplaceAll(text, "<br />", " ")
	text = strings.ReplaceAll(text, "</p>", " ")

	var result strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			result.WriteRune(r)
		}
	}

	return strings.Join(strings.Fields(result.String()), " ")
}

// extractTags turns feed categories into lower-case tags
func extractTags(entry *gofeed.Item) []string {
	tags := make([]string, 0, len(entry.Categories))
	for _, category := range entry.Categories {
		if tag := strings.ToLower(strings.TrimSpace(category)); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// Ensure Crawler implements source.Crawler
var _ source.Crawler = (*Crawler)(nil)
