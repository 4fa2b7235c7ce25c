package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/NahidaBuer/programmer-trending/internal/agent/discovery"
	"github.com/NahidaBuer/programmer-trending/internal/agent/generator"
	"github.com/NahidaBuer/programmer-trending/internal/config"
	"github.com/NahidaBuer/programmer-trending/internal/metrics"
	"github.com/NahidaBuer/programmer-trending/pkg/logger"
)

// Job identifiers
const (
	JobCrawl   = "crawl_all_sources"
	JobSummary = "generate_summaries"
)

// Crawler runs crawl cycles
type Crawler interface {
	CrawlAll(ctx context.Context, limit int) (*discovery.CrawlResult, error)
	CrawlSource(ctx context.Context, sourceID string, limit int) (*discovery.CrawlResult, error)
}

// Generator runs summary generation cycles
type Generator interface {
	RunCycle(ctx context.Context) (*generator.CycleStats, error)
	Workers() int
}

// TaskRecoverer returns tasks abandoned in_progress to the queue
type TaskRecoverer interface {
	ResetStaleTasks(ctx context.Context, startedBefore time.Time) (int64, error)
}

type jobInfo struct {
	id       string
	name     string
	enabled  bool
	interval time.Duration
	firstRun time.Duration
	entryID  cron.EntryID

	active       int
	lastRun      time.Time
	lastDuration time.Duration
	lastErr      error
}

// Scheduler owns the periodic crawl and generation jobs
type Scheduler struct {
	cfg        config.SchedulerConfig
	crawlLimit int
	crawler    Crawler
	generator  Generator
	tasks      TaskRecoverer
	metrics    *metrics.Metrics
	log        *logger.Logger

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	jobs    []*jobInfo
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithMetrics records job metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithTaskRecovery resets stale in_progress tasks when the scheduler starts
func WithTaskRecovery(tasks TaskRecoverer) Option {
	return func(s *Scheduler) {
		s.tasks = tasks
	}
}

// New creates a scheduler. generator may be nil when no summarizer is configured.
func New(cfg config.SchedulerConfig, crawlLimit int, crawler Crawler, gen Generator, log *logger.Logger, opts ...Option) *Scheduler {
	log = log.WithComponent("scheduler")

	s := &Scheduler{
		cfg:        cfg,
		crawlLimit: crawlLimit,
		crawler:    crawler,
		generator:  gen,
		log:        log,
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{log}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	s.jobs = []*jobInfo{
		{
			id:       JobCrawl,
			name:     "Crawl all sources",
			enabled:  cfg.CrawlEnabled && crawler != nil,
			interval: cfg.CrawlInterval,
			firstRun: cfg.CrawlFirstRun,
		},
		{
			id:       JobSummary,
			name:     "Generate summaries",
			enabled:  cfg.SummaryEnabled && gen != nil,
			interval: cfg.SummaryInterval,
			firstRun: cfg.SummaryFirstRun,
		},
	}
	return s
}

// Start recovers stale tasks and schedules the enabled jobs
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("scheduler already started")
	}

	s.recoverStaleTasks(ctx)

	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	now := time.Now()

	for _, job := range s.jobs {
		if !job.enabled {
			s.log.Info().Str("job", job.id).Msg("Job disabled")
			continue
		}
		if job.interval <= 0 {
			s.cancel()
			return fmt.Errorf("job %s has no interval", job.id)
		}

		run := s.crawlJob
		if job.id == JobSummary {
			run = s.summaryJob
		}
		job.entryID = s.cron.Schedule(newDelayedSchedule(now.Add(job.firstRun), job.interval), cron.FuncJob(run))

		s.log.Info().
			Str("job", job.id).
			Dur("interval", job.interval).
			Dur("first_run_in", job.firstRun).
			Msg("Job scheduled")
	}

	s.cron.Start()
	s.started = true
	s.log.Info().Msg("Scheduler started")
	return nil
}

// Stop halts the timers and waits for running jobs until ctx expires, after
// which in-flight jobs are cancelled
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn().Msg("Shutdown deadline reached, cancelling running jobs")
	}
	s.cancel()
	s.log.Info().Msg("Scheduler stopped")
}

// manualContext derives the context of a manual run. Once the scheduler has
// started, the run is also cancelled when the scheduler stops.
func (s *Scheduler) manualContext(ctx context.Context) (context.Context, context.CancelFunc) {
	s.mu.Lock()
	procCtx := s.ctx
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	if procCtx == nil {
		return runCtx, cancel
	}
	if procCtx.Err() != nil {
		cancel()
		return runCtx, cancel
	}
	stop := context.AfterFunc(procCtx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *Scheduler) recoverStaleTasks(ctx context.Context) {
	if s.tasks == nil || s.cfg.StaleTaskAfter <= 0 {
		return
	}
	n, err := s.tasks.ResetStaleTasks(ctx, time.Now().Add(-s.cfg.StaleTaskAfter))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to reset stale tasks")
		return
	}
	if n > 0 {
		s.log.Warn().Int64("tasks", n).Msg("Reset stale in-progress tasks to pending")
	}
}

func (s *Scheduler) crawlJob() {
	var result *discovery.CrawlResult
	err := s.runJob(s.ctx, JobCrawl, func(ctx context.Context) error {
		var err error
		result, err = s.crawler.CrawlAll(ctx, s.crawlLimit)
		return err
	})
	if err != nil {
		return
	}
	s.log.Info().
		Int("total_new_items", result.TotalNewItems).
		Interface("per_source", result.Counts()).
		Msg("Scheduled crawl completed")
}

func (s *Scheduler) summaryJob() {
	_ = s.runJob(s.ctx, JobSummary, func(ctx context.Context) error {
		_, err := s.generator.RunCycle(ctx)
		return err
	})
}

// runJob executes fn under the job's bookkeeping. A run refused because the
// same work is already in flight is logged and leaves the job history alone.
func (s *Scheduler) runJob(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	job := s.job(id)

	s.mu.Lock()
	job.active++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		job.active--
		s.mu.Unlock()
	}()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	if !isBusy(err) {
		job.lastRun = start
		job.lastDuration = elapsed
		job.lastErr = err
	}
	s.mu.Unlock()

	switch {
	case isBusy(err):
		s.log.Warn().Str("job", id).Msg("Previous run still executing, skipping")
	case err != nil:
		s.metrics.ObserveJob(id, err, elapsed)
		s.log.Error().Err(err).Str("job", id).Dur("duration", elapsed).Msg("Job failed")
	default:
		s.metrics.ObserveJob(id, nil, elapsed)
		s.log.Debug().Str("job", id).Dur("duration", elapsed).Msg("Job finished")
	}
	return err
}

func (s *Scheduler) job(id string) *jobInfo {
	for _, j := range s.jobs {
		if j.id == id {
			return j
		}
	}
	panic("unknown job " + id)
}

func isBusy(err error) bool {
	return errors.Is(err, discovery.ErrCrawlInProgress) || errors.Is(err, generator.ErrCycleInProgress)
}

// ManualCrawlResult is returned by TriggerManualCrawl
type ManualCrawlResult struct {
	Success         bool           `json:"success"`
	TotalNewItems   int            `json:"total_new_items"`
	DurationSeconds float64        `json:"duration_seconds"`
	SourcesCrawled  int            `json:"sources_crawled"`
	PerSource       map[string]int `json:"per_source_counts"`
	Error           string         `json:"error,omitempty"`
}

// TriggerManualCrawl crawls one source, or all enabled sources when sourceID is
// empty, and waits for the result. Failures are reported in the result.
func (s *Scheduler) TriggerManualCrawl(ctx context.Context, sourceID string, limit int) (res *ManualCrawlResult) {
	res = &ManualCrawlResult{PerSource: map[string]int{}}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("Manual crawl panicked")
			res = &ManualCrawlResult{PerSource: map[string]int{}, Error: fmt.Sprintf("panic: %v", r)}
		}
		res.DurationSeconds = time.Since(start).Seconds()
	}()

	if s.crawler == nil {
		res.Error = "crawler not configured"
		return res
	}
	if limit <= 0 {
		limit = s.crawlLimit
	}

	s.log.Info().Str("source", sourceID).Int("limit", limit).Msg("Manual crawl triggered")

	ctx, cancel := s.manualContext(ctx)
	defer cancel()

	var result *discovery.CrawlResult
	err := s.runJob(ctx, JobCrawl, func(ctx context.Context) error {
		var err error
		if sourceID != "" {
			result, err = s.crawler.CrawlSource(ctx, sourceID, limit)
		} else {
			result, err = s.crawler.CrawlAll(ctx, limit)
		}
		return err
	})
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.Success = true
	res.TotalNewItems = result.TotalNewItems
	res.PerSource = result.Counts()
	res.SourcesCrawled = len(res.PerSource)
	return res
}

// ManualSummaryResult is returned by TriggerManualSummaryGeneration
type ManualSummaryResult struct {
	Success         bool                  `json:"success"`
	DurationSeconds float64               `json:"duration_seconds"`
	Message         string                `json:"message"`
	Stats           *generator.CycleStats `json:"stats,omitempty"`
	Error           string                `json:"error,omitempty"`
}

// TriggerManualSummaryGeneration runs one generation cycle and waits for it.
// It shares the single-flight guard with the periodic job.
func (s *Scheduler) TriggerManualSummaryGeneration(ctx context.Context) (res *ManualSummaryResult) {
	res = &ManualSummaryResult{}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("Manual summary generation panicked")
			res = &ManualSummaryResult{Error: fmt.Sprintf("panic: %v", r)}
		}
		if !res.Success {
			res.Message = "Summary generation failed"
		}
		res.DurationSeconds = time.Since(start).Seconds()
	}()

	if s.generator == nil {
		res.Error = "summarizer not configured"
		return res
	}

	s.log.Info().Msg("Manual summary generation triggered")

	ctx, cancel := s.manualContext(ctx)
	defer cancel()

	var stats *generator.CycleStats
	err := s.runJob(ctx, JobSummary, func(ctx context.Context) error {
		var err error
		stats, err = s.generator.RunCycle(ctx)
		return err
	})
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.Success = true
	res.Stats = stats
	res.Message = "Summary generation completed"
	return res
}

// JobStatus describes one scheduled job
type JobStatus struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Interval     string     `json:"interval"`
	NextRun      *time.Time `json:"next_run_time"`
	LastRun      *time.Time `json:"last_run_time,omitempty"`
	LastDuration string     `json:"last_duration,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	Executing    bool       `json:"executing"`
}

// StatusConfig echoes the effective scheduler settings
type StatusConfig struct {
	CrawlEnabled       bool   `json:"crawl_scheduler_enabled"`
	SummaryEnabled     bool   `json:"summary_scheduler_enabled"`
	CrawlInterval      string `json:"crawl_interval"`
	SummaryInterval    string `json:"summary_interval"`
	CrawlLimit         int    `json:"crawl_limit"`
	SummaryConcurrency int    `json:"summary_concurrency"`
}

// Status is a snapshot of the scheduler
type Status struct {
	Running bool         `json:"scheduler_running"`
	Jobs    []JobStatus  `json:"jobs"`
	Config  StatusConfig `json:"configuration"`
}

// Status returns the scheduled jobs and effective configuration
func (s *Scheduler) Status() *Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := &Status{
		Running: s.started,
		Jobs:    []JobStatus{},
		Config: StatusConfig{
			CrawlEnabled:    s.job(JobCrawl).enabled,
			SummaryEnabled:  s.job(JobSummary).enabled,
			CrawlInterval:   s.cfg.CrawlInterval.String(),
			SummaryInterval: s.cfg.SummaryInterval.String(),
			CrawlLimit:      s.crawlLimit,
		},
	}
	if s.generator != nil {
		status.Config.SummaryConcurrency = s.generator.Workers()
	}

	for _, job := range s.jobs {
		if job.entryID == 0 {
			continue
		}
		js := JobStatus{
			ID:        job.id,
			Name:      job.name,
			Interval:  job.interval.String(),
			Executing: job.active > 0,
		}
		if s.started {
			if next := s.cron.Entry(job.entryID).Next; !next.IsZero() {
				js.NextRun = &next
			}
		}
		if !job.lastRun.IsZero() {
			last := job.lastRun
			js.LastRun = &last
			js.LastDuration = job.lastDuration.String()
		}
		if job.lastErr != nil {
			js.LastError = job.lastErr.Error()
		}
		status.Jobs = append(status.Jobs, js)
	}
	return status
}

// delayedSchedule fires once at first, then every interval after each run
type delayedSchedule struct {
	first    time.Time
	interval time.Duration
}

func newDelayedSchedule(first time.Time, interval time.Duration) delayedSchedule {
	return delayedSchedule{first: first, interval: interval}
}

// Next implements cron.Schedule
func (d delayedSchedule) Next(t time.Time) time.Time {
	if t.Before(d.first) {
		return d.first
	}
	return t.Add(d.interval)
}

// cronLogger adapts our logger for cron
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	event := l.log.Debug()
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		event = event.Interface(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1])
	}
	event.Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	event := l.log.Error().Err(err)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		event = event.Interface(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1])
	}
	event.Msg("cron: " + msg)
}
