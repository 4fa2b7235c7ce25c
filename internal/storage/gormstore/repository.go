package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/NahidaBuer/programmer-trending/internal/models"
	"github.com/NahidaBuer/programmer-trending/internal/storage"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Repository implements storage.Repository using GORM
type Repository struct {
	db *gorm.DB
}

// New opens a repository for the given driver and DSN
func New(driver, dsn string) (*Repository, error) {
	var dialector gorm.Dialector

	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite, "":
		if err := ensureDataDir(dsn); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver != DriverPostgres {
		// SQLite allows a single writer; serialising connections avoids SQLITE_BUSY
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return &Repository{db: db}, nil
}

func ensureDataDir(dsn string) error {
	if dsn == "" || strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, ":memory:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return nil
}

// Migrate runs database migrations
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(
		&models.Source{},
		&models.Item{},
		&models.SummaryTask{},
	)
}

// Close closes the database connection
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InTx runs fn inside a single transaction
func (r *Repository) InTx(ctx context.Context, fn func(tx storage.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx})
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}

// Source operations

func (r *Repository) EnsureSource(ctx context.Context, source *models.Source) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(source)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *Repository) GetSource(ctx context.Context, id string) (*models.Source, error) {
	var source models.Source
	if err := r.db.WithContext(ctx).First(&source, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &source, nil
}

func (r *Repository) ListSources(ctx context.Context) ([]*models.Source, error) {
	var sources []*models.Source
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&sources).Error; err != nil {
		return nil, err
	}
	return sources, nil
}

func (r *Repository) SetSourceEnabled(ctx context.Context, id string, enabled bool) error {
	res := r.db.WithContext(ctx).
		Model(&models.Source{}).
		Where("id = ?", id).
		Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Item operations

func (r *Repository) ItemExists(ctx context.Context, sourceID, externalID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Item{}).
		Where("source_id = ? AND external_id = ?", sourceID, externalID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Repository) CreateItem(ctx context.Context, item *models.Item) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(item).Error
}

func (r *Repository) GetItemByID(ctx context.Context, id uint) (*models.Item, error) {
	var item models.Item
	if err := r.db.WithContext(ctx).Preload("Summary").First(&item, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func (r *Repository) ListItems(ctx context.Context, filter storage.ItemFilter) ([]*models.Item, int64, error) {
	filter = filter.Normalize()
	query := r.db.WithContext(ctx).Model(&models.Item{})

	if filter.SourceID != nil {
		query = query.Where("source_id = ?", *filter.SourceID)
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", *filter.Since)
	}
	if filter.HasSummary != nil {
		exists := "EXISTS (SELECT 1 FROM summary_tasks st WHERE st.item_id = items.id AND st.status = ?)"
		if *filter.HasSummary {
			query = query.Where(exists, models.TaskStatusCompleted)
		} else {
			query = query.Where("NOT "+exists, models.TaskStatusCompleted)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Ordering
	switch filter.SortBy {
	case storage.SortByScore:
		query = query.Order("score DESC").Order("created_at DESC")
	default:
		query = query.Order("created_at DESC").Order("id DESC")
	}

	// Pagination
	query = query.Limit(filter.PageSize).Offset((filter.Page - 1) * filter.PageSize)

	var items []*models.Item
	if err := query.Preload("Summary").Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *Repository) ListItemIDsWithoutTask(ctx context.Context, sourceID string) ([]uint, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Item{}).
		Where("NOT EXISTS (SELECT 1 FROM summary_tasks st WHERE st.item_id = items.id)")
	if sourceID != "" {
		query = query.Where("source_id = ?", sourceID)
	}

	var ids []uint
	if err := query.Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Repository) GetItemStats(ctx context.Context, since time.Time) (*storage.ItemStats, error) {
	stats := &storage.ItemStats{BySource: make(map[string]int64)}
	db := r.db.WithContext(ctx)

	if err := db.Model(&models.Item{}).Count(&stats.TotalItems).Error; err != nil {
		return nil, err
	}

	var rows []struct {
		SourceID string
		Count    int64
	}
	if err := db.Model(&models.Item{}).
		Select("source_id, COUNT(*) AS count").
		Group("source_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.BySource[row.SourceID] = row.Count
	}

	if err := db.Model(&models.Item{}).
		Where("fetched_at >= ?", since).
		Count(&stats.Recent).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

// Summary task operations

func (r *Repository) TaskExistsForItem(ctx context.Context, itemID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SummaryTask{}).
		Where("item_id = ?", itemID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Repository) CreateTask(ctx context.Context, task *models.SummaryTask) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(task).Error
}

func (r *Repository) GetTaskWithItem(ctx context.Context, id uint) (*models.SummaryTask, error) {
	var task models.SummaryTask
	if err := r.db.WithContext(ctx).Preload("Item").First(&task, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &task, nil
}

func (r *Repository) ListRunnableTaskIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.SummaryTask{}).
		Where("status IN ?", []models.TaskStatus{models.TaskStatusPending, models.TaskStatusFailed}).
		Where("retry_count < max_retries").
		Order("created_at ASC").
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *Repository) UpdateTask(ctx context.Context, task *models.SummaryTask) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(task).Error
}

func (r *Repository) ResetStaleTasks(ctx context.Context, startedBefore time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SummaryTask{}).
		Where("status = ? AND (started_at IS NULL OR started_at < ?)", models.TaskStatusInProgress, startedBefore).
		Updates(map[string]interface{}{
			"status":     models.TaskStatusPending,
			"started_at": nil,
		})
	return res.RowsAffected, res.Error
}

func (r *Repository) GetTaskStats(ctx context.Context) (map[models.TaskStatus]int64, error) {
	var rows []struct {
		Status models.TaskStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.SummaryTask{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	stats := make(map[models.TaskStatus]int64, len(models.AllTaskStatuses))
	for _, status := range models.AllTaskStatuses {
		stats[status] = 0
	}
	for _, row := range rows {
		stats[row.Status] = row.Count
	}
	return stats, nil
}

// Ensure Repository implements storage.Repository
var _ storage.Repository = (*Repository)(nil)
