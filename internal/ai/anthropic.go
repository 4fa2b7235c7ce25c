package ai

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/NahidaBuer/programmer-trending/internal/config"
	"github.com/NahidaBuer/programmer-trending/internal/models"
	"github.com/NahidaBuer/programmer-trending/pkg/logger"
)

const anthropicSystemPrompt = `You summarize technical articles for a programmer news digest.
Respond ONLY with valid JSON. No markdown, no explanation, just the JSON object.`

// AnthropicSummarizer summarizes items with Claude. Claude does not fetch the
// page, so the summary is based on the title and URL alone and the retrieval
// status is always UNKNOWN.
type AnthropicSummarizer struct {
	client      anthropic.Client
	model       string
	maxTokens   int
	temperature float64
	log         *logger.Logger
}

// NewAnthropicSummarizer creates a Claude backed summarizer
func NewAnthropicSummarizer(cfg config.AnthropicConfig, model string, log *logger.Logger) *AnthropicSummarizer {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0), // retries belong to the task state machine
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicSummarizer{
		client:      anthropic.NewClient(opts...),
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		log:         log.WithComponent("anthropic"),
	}
}

// Model returns the model identifier
func (a *AnthropicSummarizer) Model() string {
	return a.model
}

// Summarize sends the summary prompt to Claude
func (a *AnthropicSummarizer) Summarize(ctx context.Context, req Request) (*Result, error) {
	a.log.Debug().
		Str("model", a.model).
		Int("max_tokens", a.maxTokens).
		Uint("item_id", req.ItemID).
		Msg("Sending request to Claude")

	start := time.Now()
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   int64(a.maxTokens),
		Temperature: anthropic.Float(a.temperature),
		System: []anthropic.TextBlockParam{
			{Text: anthropicSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(BuildSummaryPrompt(req))),
		},
	})
	duration := time.Since(start)
	if err != nil {
		a.log.Warn().Err(err).Uint("item_id", req.ItemID).Msg("Claude API error")
		return nil, wrapProviderError("claude", err)
	}

	// Extract text from response
	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	summary, title, err := ParseSummaryResponse(text.String())
	if err != nil {
		return nil, err
	}

	a.log.Debug().
		Int("input_tokens", int(message.Usage.InputTokens)).
		Int("output_tokens", int(message.Usage.OutputTokens)).
		Msg("Received Claude response")

	return &Result{
		Content:            summary,
		TranslatedTitle:    title,
		URLRetrievalStatus: models.URLRetrievalUnknown,
		Metadata: models.JSON{
			"provider":      "anthropic",
			"model_used":    string(message.Model),
			"stop_reason":   string(message.StopReason),
			"prompt_tokens": message.Usage.InputTokens,
			"output_tokens": message.Usage.OutputTokens,
			"text_length":   len([]rune(summary)),
		},
		Duration: duration,
	}, nil
}

// Ensure AnthropicSummarizer implements Summarizer
var _ Summarizer = (*AnthropicSummarizer)(nil)
