package models

import (
	"strings"
	"time"
)

// TaskStatus represents the current state of a summary task
type TaskStatus string

const (
	TaskStatusPending           TaskStatus = "pending"
	TaskStatusInProgress        TaskStatus = "in_progress"
	TaskStatusCompleted         TaskStatus = "completed"
	TaskStatusFailed            TaskStatus = "failed"
	TaskStatusPermanentlyFailed TaskStatus = "permanently_failed"
	TaskStatusSkipped           TaskStatus = "skipped"
)

// AllTaskStatuses lists every status in lifecycle order
var AllTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusInProgress,
	TaskStatusCompleted,
	TaskStatusFailed,
	TaskStatusPermanentlyFailed,
	TaskStatusSkipped,
}

// IsTerminal reports whether no further processing happens in this status
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusPermanentlyFailed, TaskStatusSkipped:
		return true
	}
	return false
}

// IsRetryable reports whether a task in this status may be picked up by a worker
func (s TaskStatus) IsRetryable() bool {
	return s == TaskStatusPending || s == TaskStatusFailed
}

// ErrorCategory classifies a generation failure
type ErrorCategory string

const (
	ErrorCategoryNetwork ErrorCategory = "NETWORK_ERROR"
	ErrorCategoryAuth    ErrorCategory = "AUTH_ERROR"
	ErrorCategoryAPI     ErrorCategory = "API_ERROR"
	ErrorCategoryContent ErrorCategory = "CONTENT_ERROR"
	ErrorCategoryUnknown ErrorCategory = "UNKNOWN_ERROR"
)

// ClassifyError maps an error message to a category. Order matters: the first
// matching rule wins.
func ClassifyError(message string) ErrorCategory {
	msg := strings.ToLower(message)

	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection"):
		return ErrorCategoryNetwork
	case strings.Contains(msg, "api key"), strings.Contains(msg, "unauthorized"):
		return ErrorCategoryAuth
	case strings.Contains(msg, "api error"), strings.Contains(msg, "status code"):
		return ErrorCategoryAPI
	case strings.Contains(msg, "url"), strings.Contains(msg, "retrieval"):
		return ErrorCategoryContent
	default:
		return ErrorCategoryUnknown
	}
}

// URL retrieval status reported by the provider
const (
	URLRetrievalSuccess = "SUCCESS"
	URLRetrievalFailure = "FAILURE"
	URLRetrievalUnknown = "UNKNOWN"
)

// SummaryTask tracks AI summary generation for exactly one Item
type SummaryTask struct {
	ID                   uint           `gorm:"primaryKey" json:"id"`
	ItemID               uint           `gorm:"uniqueIndex;not null" json:"item_id"`
	Item                 *Item          `gorm:"foreignKey:ItemID" json:"-"`
	Model                string         `gorm:"not null" json:"model"`
	Lang                 string         `gorm:"default:'zh-CN'" json:"lang"`
	Content              *string        `gorm:"type:text" json:"content"`
	TranslatedTitle      *string        `gorm:"size:500" json:"translated_title"`
	Status               TaskStatus     `gorm:"index;default:'pending'" json:"status"`
	RetryCount           int            `gorm:"default:0" json:"retry_count"`
	MaxRetries           int            `gorm:"default:3" json:"max_retries"`
	CreatedAt            time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	StartedAt            *time.Time     `json:"started_at"`
	CompletedAt          *time.Time     `json:"completed_at"`
	LastRetryAt          *time.Time     `json:"last_retry_at"`
	ErrorMessage         *string        `gorm:"type:text" json:"error_message"`
	ErrorCategory        *ErrorCategory `json:"error_category"`
	GenerationDurationMs *int64         `json:"generation_duration_ms"`
	URLRetrievalStatus   *string        `json:"url_retrieval_status"`
	ProviderMetadata     JSON           `gorm:"type:json" json:"provider_metadata"`
}

// TableName keeps the table name stable regardless of the struct name
func (SummaryTask) TableName() string {
	return "summary_tasks"
}

// NewSummaryTask creates a pending task for an item
func NewSummaryTask(itemID uint, model, lang string, maxRetries int) *SummaryTask {
	return &SummaryTask{
		ItemID:     itemID,
		Model:      model,
		Lang:       lang,
		Status:     TaskStatusPending,
		RetryCount: 0,
		MaxRetries: maxRetries,
	}
}

// HasBudget reports whether the task may still be attempted
func (t *SummaryTask) HasBudget() bool {
	return t.RetryCount < t.MaxRetries
}

// CanStart reports whether the task may move to in_progress
func (t *SummaryTask) CanStart() bool {
	return t.Status.IsRetryable() && t.HasBudget()
}

// Start moves a pending or failed task to in_progress
func (t *SummaryTask) Start(now time.Time) {
	t.Status = TaskStatusInProgress
	t.StartedAt = &now
}

// GenerationOutcome carries a successful provider result
type GenerationOutcome struct {
	Content            string
	TranslatedTitle    string
	URLRetrievalStatus string
	Duration           time.Duration
	Metadata           JSON
}

// Complete records a successful generation and clears earlier errors
func (t *SummaryTask) Complete(out GenerationOutcome, now time.Time) {
	content := out.Content
	t.Status = TaskStatusCompleted
	t.Content = &content
	t.TranslatedTitle = nil
	if out.TranslatedTitle != "" {
		title := out.TranslatedTitle
		t.TranslatedTitle = &title
	}
	t.CompletedAt = &now

	ms := out.Duration.Milliseconds()
	t.GenerationDurationMs = &ms

	status := out.URLRetrievalStatus
	if status == "" {
		status = URLRetrievalUnknown
	}
	t.URLRetrievalStatus = &status
	t.ProviderMetadata = out.Metadata

	t.ErrorMessage = nil
	t.ErrorCategory = nil
}

// Fail records a generation failure. The retry count is incremented and the task
// lands in permanently_failed once the budget is spent, failed otherwise.
func (t *SummaryTask) Fail(err error, duration time.Duration, now time.Time) {
	message := "unknown error"
	if err != nil {
		message = err.Error()
	}
	category := ClassifyError(message)

	t.RetryCount++
	if t.RetryCount >= t.MaxRetries {
		t.RetryCount = t.MaxRetries
		t.Status = TaskStatusPermanentlyFailed
	} else {
		t.Status = TaskStatusFailed
	}
	t.LastRetryAt = &now
	t.ErrorMessage = &message
	t.ErrorCategory = &category
	if duration > 0 {
		ms := duration.Milliseconds()
		t.GenerationDurationMs = &ms
	}
}

// MarkPermanentlyFailed terminates a task whose retry budget is already spent
func (t *SummaryTask) MarkPermanentlyFailed() {
	t.Status = TaskStatusPermanentlyFailed
}

// Requeue returns an in_progress task to a retryable status without spending
// retry budget, used when the provider signals its quota is exhausted
func (t *SummaryTask) Requeue(previous TaskStatus) {
	if !previous.IsRetryable() {
		previous = TaskStatusPending
	}
	t.Status = previous
	t.StartedAt = nil
}
