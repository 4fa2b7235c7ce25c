package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/NahidaBuer/programmer-trending/internal/metrics"
	"github.com/NahidaBuer/programmer-trending/internal/models"
	"github.com/NahidaBuer/programmer-trending/internal/storage"
	"github.com/NahidaBuer/programmer-trending/pkg/logger"
)

// TaskDefaults are applied to summary tasks created at ingestion
type TaskDefaults struct {
	Model      string
	Lang       string
	MaxRetries int
}

// Ingester persists crawled items, deduplicating by (source id, external id),
// and creates a pending summary task for every new item
type Ingester struct {
	repo     storage.Repository
	defaults TaskDefaults
	now      func() time.Time
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewIngester creates a new ingester
func NewIngester(repo storage.Repository, defaults TaskDefaults, m *metrics.Metrics, log *logger.Logger) *Ingester {
	return &Ingester{
		repo:     repo,
		defaults: defaults,
		now:      time.Now,
		metrics:  m,
		log:      log.WithComponent("ingest"),
	}
}

// Ingest stores one source batch in a single transaction and returns the
// newly created items. Existing items are left untouched (first write wins).
func (i *Ingester) Ingest(ctx context.Context, src *models.Source, candidates []*models.CrawledItem) ([]*models.Item, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	fetchedAt := i.now().UTC()
	var newItems []*models.Item
	tasksCreated := 0

	err := i.repo.InTx(ctx, func(tx storage.Repository) error {
		newItems = newItems[:0]
		tasksCreated = 0

		if src != nil {
			if _, err := tx.EnsureSource(ctx, src); err != nil {
				return fmt.Errorf("failed to ensure source %s: %w", src.ID, err)
			}
		}

		seen := make(map[string]bool, len(candidates))
		for _, candidate := range candidates {
			if src != nil && candidate.SourceID == "" {
				candidate.SourceID = src.ID
			}
			key := candidate.SourceID + "\x00" + candidate.ExternalID
			if seen[key] {
				continue
			}
			seen[key] = true

			exists, err := tx.ItemExists(ctx, candidate.SourceID, candidate.ExternalID)
			if err != nil {
				return fmt.Errorf("failed to check item %s: %w", candidate.ExternalID, err)
			}
			if exists {
				continue
			}

			item := candidate.ToItem(fetchedAt)
			if err := tx.CreateItem(ctx, item); err != nil {
				return fmt.Errorf("failed to save item %s: %w", candidate.ExternalID, err)
			}
			newItems = append(newItems, item)
		}

		for _, item := range newItems {
			created, err := i.ensureTask(ctx, tx, item.ID)
			if err != nil {
				return err
			}
			if created {
				tasksCreated++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	i.metrics.TasksCreated(tasksCreated)
	i.log.Debug().
		Int("candidates", len(candidates)).
		Int("new_items", len(newItems)).
		Int("tasks_created", tasksCreated).
		Msg("Ingested batch")

	return newItems, nil
}

func (i *Ingester) ensureTask(ctx context.Context, tx storage.Repository, itemID uint) (bool, error) {
	exists, err := tx.TaskExistsForItem(ctx, itemID)
	if err != nil {
		return false, fmt.Errorf("failed to check task for item %d: %w", itemID, err)
	}
	if exists {
		return false, nil
	}

	task := models.NewSummaryTask(itemID, i.defaults.Model, i.defaults.Lang, i.defaults.MaxRetries)
	if err := tx.CreateTask(ctx, task); err != nil {
		return false, fmt.Errorf("failed to create task for item %d: %w", itemID, err)
	}
	return true, nil
}

// BackfillResult reports a backfill run
type BackfillResult struct {
	Created      int `json:"created"`
	TotalMissing int `json:"total_missing"`
}

// Backfill creates pending tasks for items that have none. An empty sourceID
// covers all sources.
func (i *Ingester) Backfill(ctx context.Context, sourceID string) (*BackfillResult, error) {
	ids, err := i.repo.ListItemIDsWithoutTask(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items without task: %w", err)
	}

	result := &BackfillResult{TotalMissing: len(ids)}
	if len(ids) == 0 {
		return result, nil
	}

	err = i.repo.InTx(ctx, func(tx storage.Repository) error {
		result.Created = 0
		for _, id := range ids {
			created, err := i.ensureTask(ctx, tx, id)
			if err != nil {
				return err
			}
			if created {
				result.Created++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	i.metrics.TasksCreated(result.Created)
	i.log.Info().
		Str("source", sourceID).
		Int("created", result.Created).
		Int("total_missing", result.TotalMissing).
		Msg("Backfilled summary tasks")

	return result, nil
}
