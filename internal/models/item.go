package models

import (
	"time"
)

// Item is a persisted, deduplicated entry from a Source.
// (SourceID, ExternalID) is unique; URLs are not used for dedup.
type Item struct {
	ID            uint         `gorm:"primaryKey" json:"id"`
	SourceID      string       `gorm:"not null;uniqueIndex:uix_source_external_id" json:"source_id"`
	Source        *Source      `gorm:"foreignKey:SourceID" json:"-"`
	ExternalID    string       `gorm:"not null;uniqueIndex:uix_source_external_id" json:"external_id"`
	Title         string       `gorm:"not null" json:"title"`
	URL           string       `gorm:"not null" json:"url"`
	Score         *int         `gorm:"index" json:"score"`
	Author        *string      `json:"author"`
	CommentsCount *int         `json:"comments_count"`
	Tags          StringSlice  `gorm:"type:json" json:"tags"`
	CreatedAt     time.Time    `gorm:"index" json:"created_at"` // origin time at the source
	FetchedAt     time.Time    `gorm:"index" json:"fetched_at"` // ingestion time
	Summary       *SummaryTask `gorm:"foreignKey:ItemID" json:"summary,omitempty"`
}

// CrawledItem is a normalized entry produced by a crawler before ingestion
type CrawledItem struct {
	SourceID      string
	Title         string
	URL           string
	ExternalID    string
	Score         *int
	Author        string
	CreatedAt     *time.Time
	CommentsCount *int
	Tags          []string
}

// ToItem converts the crawled entry into a new Item, stamping fetchedAt and
// falling back to it when the source did not provide an origin time
func (c *CrawledItem) ToItem(fetchedAt time.Time) *Item {
	createdAt := fetchedAt
	if c.CreatedAt != nil && !c.CreatedAt.IsZero() {
		createdAt = *c.CreatedAt
	}

	item := &Item{
		SourceID:      c.SourceID,
		ExternalID:    c.ExternalID,
		Title:         c.Title,
		URL:           c.URL,
		Score:         c.Score,
		CommentsCount: c.CommentsCount,
		Tags:          StringSlice(c.Tags),
		CreatedAt:     createdAt,
		FetchedAt:     fetchedAt,
	}
	if item.Tags == nil {
		item.Tags = StringSlice{}
	}
	if c.Author != "" {
		author := c.Author
		item.Author = &author
	}
	return item
}
