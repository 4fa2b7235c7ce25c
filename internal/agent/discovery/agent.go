package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/NahidaBuer/programmer-trending/internal/metrics"
	"github.com/NahidaBuer/programmer-trending/internal/models"
	"github.com/NahidaBuer/programmer-trending/internal/source"
	"github.com/NahidaBuer/programmer-trending/internal/storage"
	"github.com/NahidaBuer/programmer-trending/pkg/logger"
	"github.com/NahidaBuer/programmer-trending/pkg/ratelimit"
)

var (
	// ErrCrawlInProgress is returned when a crawl is already running
	ErrCrawlInProgress = errors.New("crawl already in progress")

	// ErrUnknownSource is returned for a source id without a registered crawler
	ErrUnknownSource = errors.New("unknown source")
)

// Agent crawls registered sources and ingests what they return
type Agent struct {
	sources    *source.Manager
	repository storage.Repository
	ingester   *Ingester
	clientCfg  source.ClientConfig
	clientOpts []source.ClientOption
	politeness *ratelimit.MultiLimiter
	metrics    *metrics.Metrics
	log        *logger.Logger

	running atomic.Bool
}

// Option configures an Agent
type Option func(*Agent)

// WithPoliteness paces requests to each source through limiter
func WithPoliteness(limiter *ratelimit.MultiLimiter) Option {
	return func(a *Agent) {
		a.politeness = limiter
	}
}

// WithClientOptions adds options to every crawl client
func WithClientOptions(opts ...source.ClientOption) Option {
	return func(a *Agent) {
		a.clientOpts = append(a.clientOpts, opts...)
	}
}

// WithMetrics records crawl metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) {
		a.metrics = m
	}
}

// NewAgent creates a new discovery agent
func NewAgent(
	sources *source.Manager,
	repository storage.Repository,
	ingester *Ingester,
	clientCfg source.ClientConfig,
	log *logger.Logger,
	opts ...Option,
) *Agent {
	a := &Agent{
		sources:    sources,
		repository: repository,
		ingester:   ingester,
		clientCfg:  clientCfg,
		log:        log.WithComponent("discovery"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SourceResult contains the outcome of crawling one source
type SourceResult struct {
	SourceID string        `json:"source_id"`
	Fetched  int           `json:"fetched"`
	Valid    int           `json:"valid"`
	Rejected int           `json:"rejected"`
	NewItems int           `json:"new_items"`
	Skipped  bool          `json:"skipped,omitempty"` // source disabled
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// CrawlResult contains the results of a crawl run
type CrawlResult struct {
	Sources       []*SourceResult `json:"sources"`
	TotalNewItems int             `json:"total_new_items"`
	Duration      time.Duration   `json:"duration"`
}

// Counts returns new items per crawled source
func (r *CrawlResult) Counts() map[string]int {
	counts := make(map[string]int, len(r.Sources))
	for _, s := range r.Sources {
		if s.Skipped {
			continue
		}
		counts[s.SourceID] = s.NewItems
	}
	return counts
}

// Running reports whether a crawl is in progress
func (a *Agent) Running() bool {
	return a.running.Load()
}

// CrawlAll crawls every enabled source. Each source runs in its own failure
// boundary: an error or panic is logged and recorded as zero new items while
// the remaining sources proceed.
func (a *Agent) CrawlAll(ctx context.Context, limit int) (*CrawlResult, error) {
	if !a.running.CompareAndSwap(false, true) {
		return nil, ErrCrawlInProgress
	}
	defer a.running.Store(false)

	startTime := time.Now()
	result := &CrawlResult{}

	a.log.Info().Int("limit", limit).Msg("Starting crawl of all sources")

	for _, crawler := range a.sources.List() {
		if ctx.Err() != nil {
			break
		}

		enabled, err := a.bootstrapSource(ctx, crawler)
		if err != nil {
			a.log.Warn().Err(err).Str("source", crawler.ID()).Msg("Failed to load source state, crawling anyway")
		}
		if !enabled {
			a.log.Info().Str("source", crawler.ID()).Msg("Source disabled, skipping")
			result.Sources = append(result.Sources, &SourceResult{SourceID: crawler.ID(), Skipped: true})
			continue
		}

		sr := a.crawlIsolated(ctx, crawler, limit)
		result.Sources = append(result.Sources, sr)
		result.TotalNewItems += sr.NewItems
	}

	result.Duration = time.Since(startTime)

	a.log.Info().
		Int("sources", len(result.Sources)).
		Int("total_new_items", result.TotalNewItems).
		Dur("duration", result.Duration).
		Msg("Crawl completed")

	return result, nil
}

// CrawlSource crawls a single source regardless of its enabled flag
func (a *Agent) CrawlSource(ctx context.Context, sourceID string, limit int) (*CrawlResult, error) {
	crawler := a.sources.Get(sourceID)
	if crawler == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, sourceID)
	}

	if !a.running.CompareAndSwap(false, true) {
		return nil, ErrCrawlInProgress
	}
	defer a.running.Store(false)

	startTime := time.Now()
	sr := a.crawlIsolated(ctx, crawler, limit)

	return &CrawlResult{
		Sources:       []*SourceResult{sr},
		TotalNewItems: sr.NewItems,
		Duration:      time.Since(startTime),
	}, nil
}

// bootstrapSource creates the source row if absent and reports whether it is enabled
func (a *Agent) bootstrapSource(ctx context.Context, crawler source.Crawler) (bool, error) {
	created, err := a.repository.EnsureSource(ctx, source.SourceModel(crawler))
	if err != nil {
		return true, err
	}
	if created {
		a.log.Info().Str("source", crawler.ID()).Str("name", crawler.Name()).Msg("Created new source")
		return true, nil
	}

	src, err := a.repository.GetSource(ctx, crawler.ID())
	if err != nil {
		return true, err
	}
	return src.Enabled, nil
}

// crawlIsolated runs one source crawl and converts any failure into the result
func (a *Agent) crawlIsolated(ctx context.Context, crawler source.Crawler, limit int) (sr *SourceResult) {
	sr = &SourceResult{SourceID: crawler.ID()}
	startTime := time.Now()
	log := a.log.WithSource(crawler.ID())

	defer func() {
		if r := recover(); r != nil {
			sr.NewItems = 0
			sr.Error = fmt.Sprintf("panic: %v", r)
			log.Error().Interface("panic", r).Msg("Crawl panicked")
		}
		sr.Duration = time.Since(startTime)
		a.metrics.ObserveCrawl(sr.SourceID, sr.Fetched, sr.Rejected, sr.NewItems, sr.Error != "", sr.Duration)
	}()

	if err := a.crawl(ctx, crawler, limit, sr, log); err != nil {
		sr.NewItems = 0
		sr.Error = err.Error()
		log.Error().Err(err).Msg("Failed to crawl source")
	}
	return sr
}

func (a *Agent) crawl(ctx context.Context, crawler source.Crawler, limit int, sr *SourceResult, log *logger.Logger) error {
	opts := append([]source.ClientOption{source.WithLogger(log)}, a.clientOpts...)
	if a.politeness != nil {
		opts = append(opts, source.WithLimiter(a.politeness, crawler.ID()))
	}
	client := source.NewClient(a.clientCfg, opts...)
	defer client.Close()

	raw, err := crawler.FetchHotItems(ctx, client, limit)
	if err != nil {
		return fmt.Errorf("failed to fetch from %s: %w", crawler.ID(), err)
	}
	sr.Fetched = len(raw)

	valid, rejected := source.ValidateItems(raw)
	sr.Valid = len(valid)
	sr.Rejected = len(rejected)
	for _, rej := range rejected {
		log.Warn().Str("external_id", rej.ExternalID).Str("reason", rej.Reason.Error()).Msg("Invalid item dropped")
	}

	log.Info().
		Int("fetched", sr.Fetched).
		Int("valid", sr.Valid).
		Msg("Crawled source")

	if len(valid) == 0 {
		return nil
	}

	newItems, err := a.ingester.Ingest(ctx, source.SourceModel(crawler), valid)
	if err != nil {
		return fmt.Errorf("failed to ingest %s: %w", crawler.ID(), err)
	}
	sr.NewItems = len(newItems)

	log.Info().Int("new_items", sr.NewItems).Msg("Saved new items")
	return nil
}

// Stats returns item statistics for the last 24 hours
func (a *Agent) Stats(ctx context.Context) (*storage.ItemStats, error) {
	return a.repository.GetItemStats(ctx, time.Now().Add(-24*time.Hour))
}

// Sources lists the persisted sources
func (a *Agent) Sources(ctx context.Context) ([]*models.Source, error) {
	return a.repository.ListSources(ctx)
}
