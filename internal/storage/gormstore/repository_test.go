package gormstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NahidaBuer/programmer-trending/internal/models"
	"github.com/NahidaBuer/programmer-trending/internal/storage"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, repo.Migrate())
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seedItem(t *testing.T, repo *Repository, sourceID, externalID string, fetchedAt time.Time) *models.Item {
	t.Helper()
	ctx := context.Background()
	_, err := repo.EnsureSource(ctx, &models.Source{ID: sourceID, Name: sourceID, Enabled: true})
	require.NoError(t, err)

	item := (&models.CrawledItem{
		SourceID:   sourceID,
		ExternalID: externalID,
		Title:      "title " + externalID,
		URL:        "https://example.com/" + externalID,
	}).ToItem(fetchedAt)
	require.NoError(t, repo.CreateItem(ctx, item))
	return item
}

func TestRepository_EnsureSourceIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.EnsureSource(ctx, &models.Source{ID: "hackernews", Name: "Hacker News", Enabled: true})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.EnsureSource(ctx, &models.Source{ID: "hackernews", Name: "Other", Enabled: true})
	require.NoError(t, err)
	assert.False(t, created)

	src, err := repo.GetSource(ctx, "hackernews")
	require.NoError(t, err)
	assert.Equal(t, "Hacker News", src.Name)

	require.NoError(t, repo.SetSourceEnabled(ctx, "hackernews", false))
	src, err = repo.GetSource(ctx, "hackernews")
	require.NoError(t, err)
	assert.False(t, src.Enabled)

	err = repo.SetSourceEnabled(ctx, "missing", true)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRepository_ItemUniquenessBySourceAndExternalID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	seedItem(t, repo, "hackernews", "1", now)

	exists, err := repo.ItemExists(ctx, "hackernews", "1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ItemExists(ctx, "rss:blog", "1")
	require.NoError(t, err)
	assert.False(t, exists, "same external id under another source is a different item")

	dup := (&models.CrawledItem{SourceID: "hackernews", ExternalID: "1", Title: "again", URL: "https://x"}).ToItem(now)
	assert.Error(t, repo.CreateItem(ctx, dup))
}

func TestRepository_RunnableTasksInCreationOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	var taskIDs []uint
	for _, ext := range []string{"1", "2", "3", "4"} {
		item := seedItem(t, repo, "hackernews", ext, now)
		task := models.NewSummaryTask(item.ID, "gemini-2.5-flash", "zh-CN", 3)
		require.NoError(t, repo.CreateTask(ctx, task))
		taskIDs = append(taskIDs, task.ID)
	}

	// 2: failed with budget left, 3: completed, 4: failed with budget spent
	t2, err := repo.GetTaskWithItem(ctx, taskIDs[1])
	require.NoError(t, err)
	require.NotNil(t, t2.Item)
	t2.Start(now)
	t2.Fail(errors.New("connection reset"), 0, now)
	require.NoError(t, repo.UpdateTask(ctx, t2))

	t3, err := repo.GetTaskWithItem(ctx, taskIDs[2])
	require.NoError(t, err)
	t3.Start(now)
	t3.Complete(models.GenerationOutcome{Content: "done"}, now)
	require.NoError(t, repo.UpdateTask(ctx, t3))

	t4, err := repo.GetTaskWithItem(ctx, taskIDs[3])
	require.NoError(t, err)
	t4.Status = models.TaskStatusFailed
	t4.RetryCount = t4.MaxRetries
	require.NoError(t, repo.UpdateTask(ctx, t4))

	ids, err := repo.ListRunnableTaskIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{taskIDs[0], taskIDs[1]}, ids)

	stats, err := repo.GetTaskStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[models.TaskStatusPending])
	assert.Equal(t, int64(2), stats[models.TaskStatusFailed])
	assert.Equal(t, int64(1), stats[models.TaskStatusCompleted])
	assert.Equal(t, int64(0), stats[models.TaskStatusSkipped])
}

func TestRepository_GetTaskNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetTaskWithItem(context.Background(), 42)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRepository_ListItemIDsWithoutTask(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	a := seedItem(t, repo, "hackernews", "1", now)
	b := seedItem(t, repo, "hackernews", "2", now)
	c := seedItem(t, repo, "rss:blog", "x", now)
	require.NoError(t, repo.CreateTask(ctx, models.NewSummaryTask(a.ID, "m", "en", 3)))

	ids, err := repo.ListItemIDsWithoutTask(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []uint{b.ID, c.ID}, ids)

	ids, err = repo.ListItemIDsWithoutTask(ctx, "rss:blog")
	require.NoError(t, err)
	assert.Equal(t, []uint{c.ID}, ids)
}

func TestRepository_ListItemsFiltersAndPaginates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	first := seedItem(t, repo, "hackernews", "1", now)
	seedItem(t, repo, "hackernews", "2", now)
	seedItem(t, repo, "rss:blog", "x", now)

	task := models.NewSummaryTask(first.ID, "m", "en", 3)
	require.NoError(t, repo.CreateTask(ctx, task))
	task.Start(now)
	task.Complete(models.GenerationOutcome{Content: "summary"}, now)
	require.NoError(t, repo.UpdateTask(ctx, task))

	hn := "hackernews"
	filter := storage.DefaultItemFilter()
	filter.SourceID = &hn
	items, total, err := repo.ListItems(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, items, 2)

	has := true
	filter = storage.DefaultItemFilter()
	filter.HasSummary = &has
	items, total, err = repo.ListItems(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Summary)
	assert.Equal(t, models.TaskStatusCompleted, items[0].Summary.Status)

	filter = storage.DefaultItemFilter()
	filter.PageSize = 2
	filter.Page = 2
	items, total, err = repo.ListItems(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, items, 1)
}

func TestRepository_InTxRollsBack(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := repo.InTx(ctx, func(tx storage.Repository) error {
		if _, err := tx.EnsureSource(ctx, &models.Source{ID: "hackernews", Name: "HN", Enabled: true}); err != nil {
			return err
		}
		item := (&models.CrawledItem{SourceID: "hackernews", ExternalID: "1", Title: "t", URL: "u"}).ToItem(time.Now())
		if err := tx.CreateItem(ctx, item); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	exists, err := repo.ItemExists(ctx, "hackernews", "1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRepository_ResetStaleTasks(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	item := seedItem(t, repo, "hackernews", "1", now)
	task := models.NewSummaryTask(item.ID, "m", "en", 3)
	require.NoError(t, repo.CreateTask(ctx, task))
	task.Start(now.Add(-time.Hour))
	require.NoError(t, repo.UpdateTask(ctx, task))

	n, err := repo.ResetStaleTasks(ctx, now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.GetTaskWithItem(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Equal(t, 0, got.RetryCount)
}

func TestRepository_ItemStats(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now()

	seedItem(t, repo, "hackernews", "1", now.Add(-48*time.Hour))
	seedItem(t, repo, "hackernews", "2", now)
	seedItem(t, repo, "rss:blog", "x", now)

	stats, err := repo.GetItemStats(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalItems)
	assert.Equal(t, int64(2), stats.BySource["hackernews"])
	assert.Equal(t, int64(2), stats.Recent)
}
