package generator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NahidaBuer/programmer-trending/internal/ai"
	"github.com/NahidaBuer/programmer-trending/internal/metrics"
	"github.com/NahidaBuer/programmer-trending/internal/models"
	"github.com/NahidaBuer/programmer-trending/internal/storage"
	"github.com/NahidaBuer/programmer-trending/pkg/logger"
)

// ErrCycleInProgress is returned when a generation cycle is already running
var ErrCycleInProgress = errors.New("summary generation already in progress")

// errItemMissing fails tasks whose item row has disappeared
var errItemMissing = errors.New("item not found for task")

// Acquirer grants permission for one provider call
type Acquirer interface {
	TryAcquire() bool
}

// Config controls a generation cycle
type Config struct {
	Workers        int
	AcquireRetries int           // extra attempts after a denied acquisition
	Cooldown       time.Duration // wait after a denied acquisition
	Pacing         time.Duration // per-worker delay between provider calls
	RequestTimeout time.Duration
	MaxLength      int
	Lang           string
}

// PacingFor spreads one worker's calls evenly across a per-minute quota
func PacingFor(perMinute int, buffer time.Duration) time.Duration {
	if perMinute <= 0 {
		return 0
	}
	return time.Minute/time.Duration(perMinute) + buffer
}

func (c Config) withDefaults() Config {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.AcquireRetries < 0 {
		c.AcquireRetries = 0
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	return c
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Pool drives runnable summary tasks through the summarizer with bounded
// concurrency
type Pool struct {
	repository storage.Repository
	summarizer ai.Summarizer
	limiter    Acquirer
	cfg        Config
	sleep      SleepFunc
	now        func() time.Time
	metrics    *metrics.Metrics
	log        *logger.Logger

	running atomic.Bool
}

// Option configures a Pool
type Option func(*Pool)

// WithSleep replaces the wait used for cooldown and pacing
func WithSleep(fn SleepFunc) Option {
	return func(p *Pool) {
		p.sleep = fn
	}
}

// WithClock replaces the time source used for task timestamps
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

// WithMetrics records generation metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) {
		p.metrics = m
	}
}

// NewPool creates a generation pool. limiter may be nil for unlimited calls.
func NewPool(
	repository storage.Repository,
	summarizer ai.Summarizer,
	limiter Acquirer,
	cfg Config,
	log *logger.Logger,
	opts ...Option,
) *Pool {
	p := &Pool{
		repository: repository,
		summarizer: summarizer,
		limiter:    limiter,
		cfg:        cfg.withDefaults(),
		sleep:      sleepContext,
		now:        time.Now,
		log:        log.WithComponent("generator"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Running reports whether a cycle is in progress
func (p *Pool) Running() bool {
	return p.running.Load()
}

// Workers returns the configured concurrency
func (p *Pool) Workers() int {
	return p.cfg.Workers
}

type outcome string

const (
	outcomeCompleted         outcome = "completed"
	outcomeFailed            outcome = "failed"
	outcomePermanentlyFailed outcome = "permanently_failed"
	outcomeSkipped           outcome = "skipped"
	outcomeDeferred          outcome = "deferred"
)

// CycleStats summarises one generation cycle
type CycleStats struct {
	Selected          int           `json:"selected"`
	Completed         int           `json:"completed"`
	Failed            int           `json:"failed"`
	PermanentlyFailed int           `json:"permanently_failed"`
	Skipped           int           `json:"skipped"`
	Deferred          int           `json:"deferred"` // left untouched for a later cycle
	Duration          time.Duration `json:"duration"`
}

func (s *CycleStats) add(o outcome) {
	switch o {
	case outcomeCompleted:
		s.Completed++
	case outcomeFailed:
		s.Failed++
	case outcomePermanentlyFailed:
		s.PermanentlyFailed++
	case outcomeSkipped:
		s.Skipped++
	case outcomeDeferred:
		s.Deferred++
	}
}

// RunCycle processes every runnable task once, oldest first. At most one cycle
// runs at a time; a concurrent call returns ErrCycleInProgress without
// touching any task. Once the rate limiter or the provider refuses a call, no
// further tasks are dispatched in this cycle. Cancelling ctx stops dispatch but
// a provider call already running finishes and its outcome is saved.
func (p *Pool) RunCycle(ctx context.Context) (*CycleStats, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer p.running.Store(false)

	if p.summarizer == nil {
		return nil, ai.ErrNotConfigured
	}

	startTime := time.Now()
	stats := &CycleStats{}

	ids, err := p.repository.ListRunnableTaskIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list runnable tasks: %w", err)
	}
	stats.Selected = len(ids)
	if len(ids) == 0 {
		stats.Duration = time.Since(startTime)
		p.log.Debug().Msg("No runnable summary tasks")
		return stats, nil
	}

	workers := min(p.cfg.Workers, len(ids))
	p.log.Info().
		Int("tasks", len(ids)).
		Int("workers", workers).
		Dur("pacing", p.cfg.Pacing).
		Msg("Starting summary generation cycle")

	var (
		stop    atomic.Bool
		wg      sync.WaitGroup
		jobs    = make(chan uint)
		results = make(chan outcome, len(ids))
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx, jobs, results, &stop)
		}()
	}

	dispatched := 0
dispatch:
	for _, id := range ids {
		if stop.Load() {
			break
		}
		select {
		case jobs <- id:
			dispatched++
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	for o := range results {
		stats.add(o)
	}
	stats.Deferred += len(ids) - dispatched
	stats.Duration = time.Since(startTime)

	p.log.Info().
		Int("selected", stats.Selected).
		Int("completed", stats.Completed).
		Int("failed", stats.Failed).
		Int("permanently_failed", stats.PermanentlyFailed).
		Int("skipped", stats.Skipped).
		Int("deferred", stats.Deferred).
		Dur("duration", stats.Duration).
		Msg("Summary generation cycle completed")

	return stats, nil
}

func (p *Pool) work(ctx context.Context, jobs <-chan uint, results chan<- outcome, stop *atomic.Bool) {
	p.metrics.WorkerBusy(true)
	defer p.metrics.WorkerBusy(false)

	calledProvider := false
	for id := range jobs {
		if stop.Load() || ctx.Err() != nil {
			results <- outcomeDeferred
			continue
		}
		if calledProvider && p.cfg.Pacing > 0 {
			if err := p.sleep(ctx, p.cfg.Pacing); err != nil {
				results <- outcomeDeferred
				continue
			}
		}

		var o outcome
		o, calledProvider = p.processTask(ctx, id)
		if o == outcomeDeferred {
			stop.Store(true)
		}
		p.metrics.TaskOutcome(string(o))
		results <- o
	}
}

// processTask runs one task through its state machine and reports whether the
// provider was called
func (p *Pool) processTask(ctx context.Context, id uint) (outcome, bool) {
	log := p.log.WithTaskID(id)

	task, err := p.repository.GetTaskWithItem(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn().Msg("Task disappeared before processing")
		} else {
			log.Error().Err(err).Msg("Failed to load task")
		}
		return outcomeSkipped, false
	}

	if !task.Status.IsRetryable() {
		log.Debug().Str("status", string(task.Status)).Msg("Task not runnable, skipping")
		return outcomeSkipped, false
	}

	if !task.HasBudget() {
		task.MarkPermanentlyFailed()
		if !p.save(ctx, task, log) {
			return outcomeSkipped, false
		}
		log.Warn().Int("retry_count", task.RetryCount).Msg("Retry budget spent, task permanently failed")
		return outcomePermanentlyFailed, false
	}

	if task.Item == nil {
		now := p.now()
		task.Start(now)
		task.Fail(errItemMissing, 0, now)
		if !p.save(ctx, task, log) {
			return outcomeSkipped, false
		}
		return failureOutcome(task), false
	}

	if !p.acquire(ctx) {
		log.Info().Msg("Rate limit reached, deferring remaining tasks")
		return outcomeDeferred, false
	}

	previous := task.Status
	task.Start(p.now())
	if err := p.repository.UpdateTask(ctx, task); err != nil {
		log.Error().Err(err).Msg("Failed to mark task in progress")
		return outcomeSkipped, false
	}

	log = log.WithItemID(task.ItemID)
	callStart := time.Now()
	result, err := p.generate(ctx, task)
	elapsed := time.Since(callStart)
	p.metrics.ObserveGeneration(elapsed)

	// the provider call has happened; its outcome is recorded even when the
	// cycle is being cancelled
	saveCtx := context.WithoutCancel(ctx)

	if err != nil && ai.IsRateLimitError(err) {
		// quota rejections do not spend retry budget
		task.Requeue(previous)
		p.save(saveCtx, task, log)
		log.Warn().Err(err).Msg("Provider quota reached, task requeued")
		return outcomeDeferred, true
	}

	now := p.now()
	if err != nil {
		task.Fail(err, elapsed, now)
		if !p.save(saveCtx, task, log) {
			return outcomeSkipped, true
		}
		log.Error().
			Err(err).
			Int("retry_count", task.RetryCount).
			Str("status", string(task.Status)).
			Msg("Summary generation failed")
		return failureOutcome(task), true
	}

	out := result.Outcome()
	if out.Duration <= 0 {
		out.Duration = elapsed
	}
	task.Complete(out, now)
	if !p.save(saveCtx, task, log) {
		return outcomeSkipped, true
	}
	log.Info().
		Dur("duration", out.Duration).
		Int("content_length", len(out.Content)).
		Msg("Summary generated")

	return outcomeCompleted, true
}

// generate calls the summarizer, converting a panic into an error
func (p *Pool) generate(ctx context.Context, task *models.SummaryTask) (result *ai.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("summarizer panic: %v", r)
		}
	}()

	// in-flight calls are bounded by the request timeout only
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.RequestTimeout)
	defer cancel()

	lang := task.Lang
	if lang == "" {
		lang = p.cfg.Lang
	}

	result, err = p.summarizer.Summarize(callCtx, ai.Request{
		ItemID:    task.ItemID,
		Title:     task.Item.Title,
		URL:       task.Item.URL,
		MaxLength: p.cfg.MaxLength,
		Lang:      lang,
	})
	if err == nil && result == nil {
		err = ai.ErrEmptyResponse
	}
	return result, err
}

// acquire asks the limiter for a slot, cooling down between denied attempts
func (p *Pool) acquire(ctx context.Context) bool {
	if p.limiter == nil {
		return true
	}

	attempts := 1 + p.cfg.AcquireRetries
	for i := 0; i < attempts; i++ {
		if p.limiter.TryAcquire() {
			return true
		}
		p.metrics.RateLimitDenied()
		if i == attempts-1 {
			break
		}
		if err := p.sleep(ctx, p.cfg.Cooldown); err != nil {
			return false
		}
	}
	return false
}

func (p *Pool) save(ctx context.Context, task *models.SummaryTask, log *logger.Logger) bool {
	if err := p.repository.UpdateTask(ctx, task); err != nil {
		log.Error().Err(err).Str("status", string(task.Status)).Msg("Failed to save task")
		return false
	}
	return true
}

func failureOutcome(task *models.SummaryTask) outcome {
	if task.Status == models.TaskStatusPermanentlyFailed {
		return outcomePermanentlyFailed
	}
	return outcomeFailed
}
