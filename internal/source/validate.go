package source

import (
	"errors"
	"strings"

	"github.com/NahidaBuer/programmer-trending/internal/models"
)

// Validation failures
var (
	ErrEmptyTitle        = errors.New("empty title")
	ErrInvalidURL        = errors.New("missing or non-http url")
	ErrMissingExternalID = errors.New("missing external id")
)

// Validate checks that a crawled item is usable for ingestion
func Validate(item *models.CrawledItem) error {
	if strings.TrimSpace(item.Title) == "" {
		return ErrEmptyTitle
	}
	if !strings.HasPrefix(item.URL, "http://") && !strings.HasPrefix(item.URL, "https://") {
		return ErrInvalidURL
	}
	if item.ExternalID == "" {
		return ErrMissingExternalID
	}
	return nil
}

// Rejection records an item dropped by validation
type Rejection struct {
	ExternalID string
	Reason     error
}

// ValidateItems splits crawled items into valid ones and rejections.
// Invalid items are never raised as errors.
func ValidateItems(items []*models.CrawledItem) ([]*models.CrawledItem, []Rejection) {
	valid := make([]*models.CrawledItem, 0, len(items))
	var rejected []Rejection

	for _, item := range items {
		if item == nil {
			continue
		}
		if err := Validate(item); err != nil {
			rejected = append(rejected, Rejection{ExternalID: item.ExternalID, Reason: err})
			continue
		}
		valid = append(valid, item)
	}
	return valid, rejected
}
