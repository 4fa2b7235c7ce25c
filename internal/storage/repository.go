package storage

import (
	"context"
	"errors"
	"time"

	"github.com/NahidaBuer/programmer-trending/internal/models"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// Repository defines the interface for data persistence
type Repository interface {
	// InTx runs fn inside a transaction; fn receives a Repository bound to it
	InTx(ctx context.Context, fn func(tx Repository) error) error

	// Source operations
	EnsureSource(ctx context.Context, source *models.Source) (created bool, err error)
	GetSource(ctx context.Context, id string) (*models.Source, error)
	ListSources(ctx context.Context) ([]*models.Source, error)
	SetSourceEnabled(ctx context.Context, id string, enabled bool) error

	// Item operations
	ItemExists(ctx context.Context, sourceID, externalID string) (bool, error)
	CreateItem(ctx context.Context, item *models.Item) error
	GetItemByID(ctx context.Context, id uint) (*models.Item, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]*models.Item, int64, error)
	ListItemIDsWithoutTask(ctx context.Context, sourceID string) ([]uint, error)
	GetItemStats(ctx context.Context, since time.Time) (*ItemStats, error)

	// Summary task operations
	TaskExistsForItem(ctx context.Context, itemID uint) (bool, error)
	CreateTask(ctx context.Context, task *models.SummaryTask) error
	GetTaskWithItem(ctx context.Context, id uint) (*models.SummaryTask, error)
	ListRunnableTaskIDs(ctx context.Context) ([]uint, error)
	UpdateTask(ctx context.Context, task *models.SummaryTask) error
	ResetStaleTasks(ctx context.Context, startedBefore time.Time) (int64, error)
	GetTaskStats(ctx context.Context) (map[models.TaskStatus]int64, error)

	// Maintenance
	Close() error
	Migrate() error
}

// Item sort orders
const (
	SortByTime  = "time"
	SortByScore = "score"
)

// ItemFilter defines filtering options for items
type ItemFilter struct {
	SourceID   *string
	Since      *time.Time
	HasSummary *bool // completed summary present
	SortBy     string
	Page       int // 1-based
	PageSize   int
}

// DefaultItemFilter returns a filter with sensible defaults
func DefaultItemFilter() ItemFilter {
	return ItemFilter{
		SortBy:   SortByTime,
		Page:     1,
		PageSize: 20,
	}
}

// MaxPage bounds ItemFilter.Page so the row offset cannot overflow
const MaxPage = 10000

// Normalize clamps pagination into the accepted range
func (f ItemFilter) Normalize() ItemFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Page > MaxPage {
		f.Page = MaxPage
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}
	if f.PageSize > 100 {
		f.PageSize = 100
	}
	if f.SortBy != SortByScore {
		f.SortBy = SortByTime
	}
	return f
}

// ItemStats summarises the item store
type ItemStats struct {
	TotalItems int64            `json:"total_items"`
	BySource   map[string]int64 `json:"by_source"`
	Recent     int64            `json:"last_24h"`
}
