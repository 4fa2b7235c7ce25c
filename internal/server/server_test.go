package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NahidaBuer/programmer-trending/internal/metrics"
	"github.com/NahidaBuer/programmer-trending/internal/models"
	"github.com/NahidaBuer/programmer-trending/internal/scheduler"
	"github.com/NahidaBuer/programmer-trending/internal/storage/gormstore"
	"github.com/NahidaBuer/programmer-trending/pkg/logger"
	"github.com/NahidaBuer/programmer-trending/pkg/ratelimit"
)

type fakeOperator struct {
	crawlSource   string
	crawlLimit    int
	crawlResult   *scheduler.ManualCrawlResult
	triggerCtxErr []error
}

func (f *fakeOperator) Status() *scheduler.Status {
	return &scheduler.Status{Running: true, Jobs: []scheduler.JobStatus{{ID: scheduler.JobCrawl}}}
}

func (f *fakeOperator) TriggerManualCrawl(ctx context.Context, sourceID string, limit int) *scheduler.ManualCrawlResult {
	f.crawlSource = sourceID
	f.crawlLimit = limit
	f.triggerCtxErr = append(f.triggerCtxErr, ctx.Err())
	return f.crawlResult
}

func (f *fakeOperator) TriggerManualSummaryGeneration(ctx context.Context) *scheduler.ManualSummaryResult {
	f.triggerCtxErr = append(f.triggerCtxErr, ctx.Err())
	return &scheduler.ManualSummaryResult{Error: "summary generation already in progress", Message: "Summary generation failed"}
}

func newTestServer(t *testing.T) (*Server, *fakeOperator, *gormstore.Repository) {
	t.Helper()
	repo, err := gormstore.New(gormstore.DriverSQLite, ":memory:")
	require.NoError(t, err)
	require.NoError(t, repo.Migrate())
	t.Cleanup(func() { _ = repo.Close() })

	ctx := context.Background()
	_, err = repo.EnsureSource(ctx, &models.Source{ID: "hackernews", Name: "Hacker News", Enabled: true})
	require.NoError(t, err)

	now := time.Now()
	for i := 1; i <= 3; i++ {
		score := i * 10
		item := (&models.CrawledItem{
			SourceID:   "hackernews",
			ExternalID: strconv.Itoa(i),
			Title:      "Story " + strconv.Itoa(i),
			URL:        "https://example.com/" + strconv.Itoa(i),
			Score:      &score,
		}).ToItem(now)
		require.NoError(t, repo.CreateItem(ctx, item))
		require.NoError(t, repo.CreateTask(ctx, models.NewSummaryTask(item.ID, "m", "zh-CN", 3)))
	}

	ops := &fakeOperator{crawlResult: &scheduler.ManualCrawlResult{
		Success:       true,
		TotalNewItems: 2,
		PerSource:     map[string]int{"hackernews": 2},
	}}
	window := ratelimit.NewSlidingWindow(ratelimit.WindowConfig{Enabled: true, PerMinute: 10, PerDay: 100})
	m := metrics.New(prometheus.NewRegistry())

	return New(ops, repo, window, m, logger.Nop()), ops, repo
}

func do(t *testing.T, s *Server, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec, body := do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestStatus(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec, body := do(t, s, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	sched := body["scheduler"].(map[string]any)
	assert.Equal(t, true, sched["scheduler_running"])

	items := body["items"].(map[string]any)
	assert.Equal(t, float64(3), items["total_items"])

	tasks := body["tasks"].(map[string]any)
	assert.Equal(t, float64(3), tasks["pending"])

	limit := body["rate_limit"].(map[string]any)
	assert.Equal(t, float64(10), limit["minute_limit"])
}

func TestTriggerCrawl(t *testing.T) {
	s, ops, _ := newTestServer(t)

	rec, body := do(t, s, http.MethodPost, "/api/v1/crawl/trigger?source_id=hackernews&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hackernews", ops.crawlSource)
	assert.Equal(t, 5, ops.crawlLimit)
	assert.Nil(t, body["error"])

	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["success"])
	assert.Equal(t, float64(2), data["total_new_items"])
	assert.NotEmpty(t, body["meta"].(map[string]any)["requestId"])

	rec, _ = do(t, s, http.MethodPost, "/api/v1/crawl/trigger?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, _ = do(t, s, http.MethodPost, "/api/v1/crawl/trigger")
	assert.Equal(t, defaultCrawlLimit, ops.crawlLimit)
	assert.Empty(t, ops.crawlSource)
}

func TestTriggerSummaries_ReportsFailure(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec, body := do(t, s, http.MethodPost, "/api/v1/summaries/generate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "summary generation already in progress", body["error"])

	data := body["data"].(map[string]any)
	assert.Equal(t, false, data["success"])
}

func TestTriggers_OutliveClientDisconnect(t *testing.T) {
	s, ops, _ := newTestServer(t)

	for _, target := range []string{"/api/v1/crawl/trigger", "/api/v1/summaries/generate"} {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, nil).WithContext(ctx))
		assert.Equal(t, http.StatusOK, rec.Code, target)
	}

	require.Len(t, ops.triggerCtxErr, 2)
	for _, err := range ops.triggerCtxErr {
		assert.NoError(t, err, "manual runs are not tied to the request lifetime")
	}
}

func TestListItems(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec, body := do(t, s, http.MethodGet, "/api/v1/items?sort=score&page_size=2")
	require.Equal(t, http.StatusOK, rec.Code)

	data := body["data"].(map[string]any)
	items := data["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "Story 3", items[0].(map[string]any)["title"])

	page := data["pagination"].(map[string]any)
	assert.Equal(t, float64(3), page["total"])
	assert.Equal(t, float64(2), page["total_pages"])
	assert.Equal(t, true, page["has_next"])

	rec, _ = do(t, s, http.MethodGet, "/api/v1/items?has_summary=true")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/items?sort=random")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/items?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, s, http.MethodGet, "/api/v1/items?page=9223372036854775807&page_size=100")
	require.Equal(t, http.StatusOK, rec.Code)
	data = body["data"].(map[string]any)
	assert.Empty(t, data["items"])
	assert.Equal(t, float64(10000), data["pagination"].(map[string]any)["page"])
}

func TestGetItem(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec, body := do(t, s, http.MethodGet, "/api/v1/items/1")
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "Story 1", data["title"])

	rec, body = do(t, s, http.MethodGet, "/api/v1/items/999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Item not found", body["error"])

	rec, _ = do(t, s, http.MethodGet, "/api/v1/items/abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSourcesAndMetrics(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec, body := do(t, s, http.MethodGet, "/api/v1/sources")
	require.Equal(t, http.StatusOK, rec.Code)
	sources := body["data"].([]any)
	require.Len(t, sources, 1)
	assert.Equal(t, "hackernews", sources[0].(map[string]any)["id"])

	rec, _ = do(t, s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}
