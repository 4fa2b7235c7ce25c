package source

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/NahidaBuer/programmer-trending/internal/models"
)

// Crawler defines the interface for content sources. Adding a source means
// adding one implementation and registering it with the Manager.
type Crawler interface {
	// ID returns the stable source key, e.g. "hackernews"
	ID() string

	// Name returns the display name
	Name() string

	// BaseURL returns the source's base endpoint
	BaseURL() string

	// FetchHotItems retrieves up to limit current items. Items that could not be
	// fetched are skipped; an error means the whole listing was unusable.
	FetchHotItems(ctx context.Context, client *Client, limit int) ([]*models.CrawledItem, error)

	// FetchItemDetails retrieves one item by its source-native id. A nil item
	// with a nil error means the item is absent or not of a supported kind.
	FetchItemDetails(ctx context.Context, client *Client, externalID string) (*models.CrawledItem, error)
}

// GenerateExternalID creates a stable ID for sources without native identifiers
func GenerateExternalID(sourceID, url string) string {
	data := fmt.Sprintf("%s:%s", sourceID, url)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash[:16]) // Use first 16 bytes (32 hex chars)
}

// SourceModel builds the persisted Source row for a crawler
func SourceModel(c Crawler) *models.Source {
	return &models.Source{
		ID:      c.ID(),
		Name:    c.Name(),
		URL:     c.BaseURL(),
		Enabled: true,
	}
}

// Manager maps source ids to crawler implementations
type Manager struct {
	crawlers []Crawler
}

// NewManager creates a new source manager
func NewManager() *Manager {
	return &Manager{
		crawlers: make([]Crawler, 0),
	}
}

// Register adds a crawler; a crawler with the same id replaces the earlier one
func (m *Manager) Register(c Crawler) {
	for i, existing := range m.crawlers {
		if existing.ID() == c.ID() {
			m.crawlers[i] = c
			return
		}
	}
	m.crawlers = append(m.crawlers, c)
}

// List returns all registered crawlers in registration order
func (m *Manager) List() []Crawler {
	out := make([]Crawler, len(m.crawlers))
	copy(out, m.crawlers)
	return out
}

// Get returns a crawler by source id, or nil
func (m *Manager) Get(id string) Crawler {
	for _, c := range m.crawlers {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

// IDs returns the registered source ids
func (m *Manager) IDs() []string {
	ids := make([]string, 0, len(m.crawlers))
	for _, c := range m.crawlers {
		ids = append(ids, c.ID())
	}
	return ids
}
