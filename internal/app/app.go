// Package app wires the long-lived components shared by the daemon and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/NahidaBuer/programmer-trending/internal/agent/discovery"
	"github.com/NahidaBuer/programmer-trending/internal/agent/generator"
	"github.com/NahidaBuer/programmer-trending/internal/ai"
	"github.com/NahidaBuer/programmer-trending/internal/config"
	"github.com/NahidaBuer/programmer-trending/internal/metrics"
	"github.com/NahidaBuer/programmer-trending/internal/scheduler"
	"github.com/NahidaBuer/programmer-trending/internal/source"
	"github.com/NahidaBuer/programmer-trending/internal/source/hackernews"
	"github.com/NahidaBuer/programmer-trending/internal/source/rss"
	"github.com/NahidaBuer/programmer-trending/internal/storage"
	"github.com/NahidaBuer/programmer-trending/internal/storage/gormstore"
	"github.com/NahidaBuer/programmer-trending/pkg/logger"
	"github.com/NahidaBuer/programmer-trending/pkg/ratelimit"
)

// App holds the process-scoped components
type App struct {
	Config     *config.Config
	Log        *logger.Logger
	Repository storage.Repository
	Metrics    *metrics.Metrics
	Sources    *source.Manager
	Ingester   *discovery.Ingester
	Discovery  *discovery.Agent
	Limiter    *ratelimit.SlidingWindow
	Generator  *generator.Pool // nil when no summarizer is configured
	Scheduler  *scheduler.Scheduler
}

// New opens storage and builds every component from cfg
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	repo, err := gormstore.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := repo.Migrate(); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	a := &App{
		Config:     cfg,
		Log:        log,
		Repository: repo,
		Metrics:    m,
		Sources:    BuildSources(cfg, log),
	}

	a.Ingester = discovery.NewIngester(repo, discovery.TaskDefaults{
		Model:      cfg.Summary.Model,
		Lang:       cfg.Summary.Lang,
		MaxRetries: cfg.Summary.MaxRetries,
	}, m, log)

	a.Discovery = discovery.NewAgent(a.Sources, repo, a.Ingester, source.ClientConfig{
		Timeout:     cfg.Crawler.Timeout,
		UserAgent:   cfg.Crawler.UserAgent,
		MaxAttempts: cfg.Crawler.MaxAttempts,
		BackoffBase: cfg.Crawler.BackoffBase,
		RetryDelay:  cfg.Crawler.RetryDelay,
	}, log,
		discovery.WithPoliteness(PolitenessLimiter(cfg.Crawler)),
		discovery.WithMetrics(m),
	)

	rl := cfg.Summary.RateLimit
	a.Limiter = ratelimit.NewSlidingWindow(ratelimit.WindowConfig{
		Enabled:   rl.Enabled,
		PerMinute: rl.PerMinute,
		PerDay:    rl.PerDay,
	})

	summarizer, err := ai.New(ctx, cfg, log)
	switch {
	case errors.Is(err, ai.ErrNotConfigured):
		log.Warn().Err(err).Msg("Summary generation disabled")
	case err != nil:
		_ = repo.Close()
		return nil, fmt.Errorf("failed to create summarizer: %w", err)
	default:
		a.Generator = generator.NewPool(repo, summarizer, a.Limiter, PoolConfig(cfg), log, generator.WithMetrics(m))
	}

	// a typed nil pool must not reach the scheduler as a non-nil interface
	var gen scheduler.Generator
	if a.Generator != nil {
		gen = a.Generator
	}
	a.Scheduler = scheduler.New(cfg.Scheduler, cfg.Crawler.DefaultLimit, a.Discovery, gen, log,
		scheduler.WithMetrics(m),
		scheduler.WithTaskRecovery(repo),
	)

	return a, nil
}

// PoolConfig derives the generation pool settings from cfg
func PoolConfig(cfg *config.Config) generator.Config {
	rl := cfg.Summary.RateLimit

	pc := generator.Config{
		Workers:        cfg.Summary.Concurrency,
		AcquireRetries: rl.AcquireRetries,
		Cooldown:       rl.RetryDelay,
		RequestTimeout: cfg.Summary.RequestTimeout,
		MaxLength:      cfg.Summary.MaxLength,
		Lang:           cfg.Summary.Lang,
	}
	if rl.Enabled {
		pc.Pacing = generator.PacingFor(rl.PerMinute, rl.PacingBuffer)
	}
	return pc
}

// PolitenessLimiter builds the per-source crawl limiter, applying any overrides
func PolitenessLimiter(cfg config.CrawlerConfig) *ratelimit.MultiLimiter {
	limiter := ratelimit.NewMultiLimiter(cfg.RequestsPerSecond, cfg.Burst)
	for _, l := range cfg.SourceLimits {
		limiter.AddLimiter(l.Source, l.RequestsPerSecond, l.Burst)
	}
	return limiter
}

// BuildSources registers a crawler for every enabled source
func BuildSources(cfg *config.Config, log *logger.Logger) *source.Manager {
	manager := source.NewManager()

	if hn := cfg.Sources.HackerNews; hn.Enabled {
		var listings []hackernews.Listing
		for _, name := range hn.Listings {
			listing, ok := hackernews.ListingByName(name)
			if !ok {
				log.Warn().Str("listing", name).Msg("Unknown Hacker News listing, ignoring")
				continue
			}
			listings = append(listings, listing)
		}
		manager.Register(hackernews.New(hackernews.Config{
			BaseURL:           hn.BaseURL,
			Listings:          listings,
			DetailConcurrency: hn.DetailConcurrency,
		}, log))
	}

	if feeds := cfg.Sources.RSS; feeds.Enabled {
		list := make([]rss.Feed, 0, len(feeds.Feeds))
		for _, f := range feeds.Feeds {
			list = append(list, rss.Feed{ID: f.ID, Name: f.Name, URL: f.URL})
		}
		for _, c := range rss.NewMultiple(list, feeds.MaxAge, log) {
			manager.Register(c)
		}
	}

	return manager
}

// Close releases the storage connection
func (a *App) Close() error {
	return a.Repository.Close()
}
