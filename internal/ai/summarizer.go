package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"google.golang.org/genai"

	"github.com/NahidaBuer/programmer-trending/internal/config"
	"github.com/NahidaBuer/programmer-trending/internal/models"
	"github.com/NahidaBuer/programmer-trending/pkg/logger"
)

var (
	// ErrRateLimited marks a provider quota rejection. It is a pacing signal, not a task failure.
	ErrRateLimited = errors.New("provider rate limit exceeded")

	// ErrNotConfigured is returned when the selected provider has no credentials
	ErrNotConfigured = errors.New("summarizer not configured")
)

// Request describes one item to summarize
type Request struct {
	ItemID    uint
	Title     string
	URL       string
	MaxLength int
	Lang      string
}

// Result is a generated summary
type Result struct {
	Content            string
	TranslatedTitle    string
	URLRetrievalStatus string
	Metadata           models.JSON
	Duration           time.Duration
}

// Outcome converts the result into the task state machine input
func (r *Result) Outcome() models.GenerationOutcome {
	return models.GenerationOutcome{
		Content:            r.Content,
		TranslatedTitle:    r.TranslatedTitle,
		URLRetrievalStatus: r.URLRetrievalStatus,
		Duration:           r.Duration,
		Metadata:           r.Metadata,
	}
}

// Summarizer produces summary text for a URL, subject to provider quota
type Summarizer interface {
	Summarize(ctx context.Context, req Request) (*Result, error)
	Model() string
}

// IsRateLimitError reports whether err signals an exhausted provider quota.
// Only typed provider errors count; message text is never inspected.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}

	var geminiErr genai.APIError
	if errors.As(err, &geminiErr) {
		return isQuotaStatus(geminiErr.Code, geminiErr.Status)
	}
	var geminiPtr *genai.APIError
	if errors.As(err, &geminiPtr) && geminiPtr != nil {
		return isQuotaStatus(geminiPtr.Code, geminiPtr.Status)
	}

	var claudeErr *anthropic.Error
	if errors.As(err, &claudeErr) && claudeErr != nil {
		return claudeErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

func isQuotaStatus(code int, status string) bool {
	return code == http.StatusTooManyRequests || strings.EqualFold(status, "RESOURCE_EXHAUSTED")
}

// wrapProviderError normalises provider errors: quota errors wrap
// ErrRateLimited, deadline errors read as timeouts so they classify as network
// failures
func wrapProviderError(provider string, err error) error {
	switch {
	case IsRateLimitError(err):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("request timeout: %w", err)
	default:
		return fmt.Errorf("%s API error: %w", provider, err)
	}
}

// New creates the summarizer selected by summary.provider
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (Summarizer, error) {
	switch cfg.Summary.Provider {
	case "gemini", "":
		if cfg.Gemini.APIKey == "" {
			return nil, fmt.Errorf("%w: gemini.api_key is empty", ErrNotConfigured)
		}
		return NewGeminiSummarizer(ctx, cfg.Gemini, cfg.Summary.Model, log)
	case "anthropic":
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("%w: anthropic.api_key is empty", ErrNotConfigured)
		}
		return NewAnthropicSummarizer(cfg.Anthropic, cfg.Summary.Model, log), nil
	default:
		return nil, fmt.Errorf("unknown summary provider %q", cfg.Summary.Provider)
	}
}
