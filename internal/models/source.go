package models

import (
	"time"
)

// Source is an external content origin the crawler knows how to query
type Source struct {
	ID        string    `gorm:"primaryKey" json:"id"` // e.g. "hackernews"
	Name      string    `gorm:"not null" json:"name"`
	URL       string    `json:"url"` // base endpoint
	Enabled   bool      `gorm:"default:true" json:"enabled"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
