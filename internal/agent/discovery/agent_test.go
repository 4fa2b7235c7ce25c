package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NahidaBuer/programmer-trending/internal/models"
	"github.com/NahidaBuer/programmer-trending/internal/source"
	"github.com/NahidaBuer/programmer-trending/internal/source/hackernews"
	"github.com/NahidaBuer/programmer-trending/internal/source/rss"
	"github.com/NahidaBuer/programmer-trending/internal/storage"
	"github.com/NahidaBuer/programmer-trending/internal/storage/gormstore"
	"github.com/NahidaBuer/programmer-trending/pkg/logger"
)

var testDefaults = TaskDefaults{Model: "gemini-2.5-flash", Lang: "zh-CN", MaxRetries: 3}

type stubCrawler struct {
	id      string
	items   []*models.CrawledItem
	err     error
	panics  bool
	entered chan struct{}
	release chan struct{}
}

func (s *stubCrawler) ID() string      { return s.id }
func (s *stubCrawler) Name() string    { return strings.ToUpper(s.id) }
func (s *stubCrawler) BaseURL() string { return "https://" + s.id + ".example" }

func (s *stubCrawler) FetchHotItems(ctx context.Context, client *source.Client, limit int) ([]*models.CrawledItem, error) {
	if s.entered != nil {
		close(s.entered)
	}
	if s.release != nil {
		<-s.release
	}
	if s.panics {
		panic("crawler exploded")
	}
	return s.items, s.err
}

func (s *stubCrawler) FetchItemDetails(ctx context.Context, client *source.Client, externalID string) (*models.CrawledItem, error) {
	return nil, nil
}

func crawled(sourceID, externalID string) *models.CrawledItem {
	return &models.CrawledItem{
		SourceID:   sourceID,
		ExternalID: externalID,
		Title:      "Item " + externalID,
		URL:        "https://example.com/" + externalID,
	}
}

func newRepo(t *testing.T) *gormstore.Repository {
	t.Helper()
	repo, err := gormstore.New(gormstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, repo.Migrate())
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func newTestAgent(t *testing.T, repo storage.Repository, crawlers ...source.Crawler) *Agent {
	t.Helper()
	manager := source.NewManager()
	for _, c := range crawlers {
		manager.Register(c)
	}
	ingester := NewIngester(repo, testDefaults, nil, logger.Nop())
	return NewAgent(manager, repo, ingester,
		source.ClientConfig{Timeout: 50 * time.Millisecond, MaxAttempts: 2},
		logger.Nop(),
		WithClientOptions(source.WithSleep(noSleep)),
	)
}

func TestIngest_IdempotentWithOneTaskPerItem(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	ingester := NewIngester(repo, testDefaults, nil, logger.Nop())
	src := &models.Source{ID: "hackernews", Name: "Hacker News", Enabled: true}

	batch := []*models.CrawledItem{crawled("hackernews", "1"), crawled("hackernews", "2"), crawled("hackernews", "1")}

	created, err := ingester.Ingest(ctx, src, batch)
	require.NoError(t, err)
	require.Len(t, created, 2, "in-batch duplicates collapse")

	again, err := ingester.Ingest(ctx, src, batch)
	require.NoError(t, err)
	assert.Empty(t, again)

	for _, item := range created {
		got, err := repo.GetItemByID(ctx, item.ID)
		require.NoError(t, err)
		require.NotNil(t, got.Summary)
		assert.Equal(t, models.TaskStatusPending, got.Summary.Status)
		assert.Equal(t, 0, got.Summary.RetryCount)
		assert.Equal(t, 3, got.Summary.MaxRetries)
		assert.Equal(t, "gemini-2.5-flash", got.Summary.Model)
	}

	stats, err := repo.GetTaskStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats[models.TaskStatusPending])
}

func TestIngest_FirstWriteWins(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	ingester := NewIngester(repo, testDefaults, nil, logger.Nop())

	first := crawled("hackernews", "1")
	_, err := ingester.Ingest(ctx, nil, []*models.CrawledItem{first})
	require.NoError(t, err)

	changed := crawled("hackernews", "1")
	changed.Title = "Rewritten"
	_, err = ingester.Ingest(ctx, nil, []*models.CrawledItem{changed})
	require.NoError(t, err)

	items, _, err := repo.ListItems(ctx, storage.DefaultItemFilter())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Item 1", items[0].Title)
}

func TestBackfill(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	_, err := repo.EnsureSource(ctx, &models.Source{ID: "hackernews", Name: "HN", Enabled: true})
	require.NoError(t, err)

	for _, ext := range []string{"1", "2"} {
		require.NoError(t, repo.CreateItem(ctx, crawled("hackernews", ext).ToItem(time.Now())))
	}

	ingester := NewIngester(repo, testDefaults, nil, logger.Nop())
	res, err := ingester.Backfill(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 2, res.TotalMissing)

	res, err = ingester.Backfill(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 0, res.TotalMissing)
}

func TestCrawlAll_SourceFailureIsIsolated(t *testing.T) {
	// source A: a feed whose endpoint never answers in time
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	// source B: a healthy HN API
	hn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/topstories.json":
			_ = json.NewEncoder(w).Encode([]int{1, 2})
		case "/item/1.json", "/item/2.json":
			id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/item/"), ".json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"type": "story", "title": "Story " + id, "url": "https://example.com/" + id, "time": 1700000000,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer hn.Close()

	repo := newRepo(t)
	agent := newTestAgent(t, repo,
		rss.New(rss.Feed{ID: "slow", Name: "Slow", URL: slow.URL}, 0, logger.Nop()),
		hackernews.New(hackernews.Config{BaseURL: hn.URL}, logger.Nop()),
	)

	result, err := agent.CrawlAll(context.Background(), 30)
	require.NoError(t, err)

	counts := result.Counts()
	assert.Equal(t, 0, counts["rss:slow"])
	assert.Equal(t, 2, counts["hackernews"])
	assert.Equal(t, 2, result.TotalNewItems)
	assert.NotEmpty(t, result.Sources[0].Error)
	assert.Empty(t, result.Sources[1].Error)

	exists, err := repo.ItemExists(context.Background(), "hackernews", "2")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCrawlAll_PanicAndErrorsAreContained(t *testing.T) {
	repo := newRepo(t)
	agent := newTestAgent(t, repo,
		&stubCrawler{id: "boom", panics: true},
		&stubCrawler{id: "broken", err: errors.New("listing unavailable")},
		&stubCrawler{id: "good", items: []*models.CrawledItem{
			crawled("good", "1"),
			{SourceID: "good", ExternalID: "2", Title: " ", URL: "https://example.com/2"},
			{SourceID: "good", ExternalID: "3", Title: "not http", URL: "mailto:x@example.com"},
		}},
	)

	result, err := agent.CrawlAll(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, result.Sources, 3)

	assert.Contains(t, result.Sources[0].Error, "panic")
	assert.Contains(t, result.Sources[1].Error, "listing unavailable")

	good := result.Sources[2]
	assert.Equal(t, 3, good.Fetched)
	assert.Equal(t, 1, good.Valid)
	assert.Equal(t, 2, good.Rejected)
	assert.Equal(t, 1, good.NewItems)
	assert.False(t, agent.Running(), "guard released after the cycle")
}

func TestCrawlAll_BootstrapsAndSkipsDisabledSources(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	agent := newTestAgent(t, repo,
		&stubCrawler{id: "a", items: []*models.CrawledItem{crawled("a", "1")}},
		&stubCrawler{id: "b", items: []*models.CrawledItem{crawled("b", "1")}},
	)

	_, err := agent.CrawlAll(ctx, 10)
	require.NoError(t, err)

	sources, err := agent.Sources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "A", sources[0].Name)

	require.NoError(t, repo.SetSourceEnabled(ctx, "b", false))

	result, err := agent.CrawlAll(ctx, 10)
	require.NoError(t, err)
	assert.True(t, result.Sources[1].Skipped)
	_, crawledB := result.Counts()["b"]
	assert.False(t, crawledB)
}

func TestCrawl_SingleFlight(t *testing.T) {
	repo := newRepo(t)
	blocking := &stubCrawler{id: "slow", entered: make(chan struct{}), release: make(chan struct{})}
	agent := newTestAgent(t, repo, blocking)

	done := make(chan error, 1)
	go func() {
		_, err := agent.CrawlAll(context.Background(), 10)
		done <- err
	}()

	<-blocking.entered
	_, err := agent.CrawlSource(context.Background(), "slow", 10)
	assert.ErrorIs(t, err, ErrCrawlInProgress)
	_, err = agent.CrawlAll(context.Background(), 10)
	assert.ErrorIs(t, err, ErrCrawlInProgress)

	close(blocking.release)
	require.NoError(t, <-done)
	assert.False(t, agent.Running())
}

func TestCrawlSource_Unknown(t *testing.T) {
	agent := newTestAgent(t, newRepo(t))

	_, err := agent.CrawlSource(context.Background(), "nope", 10)
	assert.ErrorIs(t, err, ErrUnknownSource)
}
