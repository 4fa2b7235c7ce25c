package ai

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/NahidaBuer/programmer-trending/internal/config"
	"github.com/NahidaBuer/programmer-trending/internal/models"
	"github.com/NahidaBuer/programmer-trending/pkg/logger"
)

// GeminiSummarizer summarizes pages with Gemini's url_context tool, letting
// the model fetch the page itself
type GeminiSummarizer struct {
	client         *genai.Client
	model          string
	temperature    float32
	thinkingBudget int
	log            *logger.Logger
}

// NewGeminiSummarizer creates a Gemini backed summarizer
func NewGeminiSummarizer(ctx context.Context, cfg config.GeminiConfig, model string, log *logger.Logger) (*GeminiSummarizer, error) {
	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiSummarizer{
		client:         client,
		model:          model,
		temperature:    float32(cfg.Temperature),
		thinkingBudget: cfg.ThinkingBudget,
		log:            log.WithComponent("gemini"),
	}, nil
}

// Model returns the model identifier
func (g *GeminiSummarizer) Model() string {
	return g.model
}

// Summarize generates a summary for the page at req.URL
func (g *GeminiSummarizer) Summarize(ctx context.Context, req Request) (*Result, error) {
	prompt := BuildSummaryPrompt(req)

	genConfig := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{
			{URLContext: &genai.URLContext{}},
		},
		// headroom for the JSON envelope and the translated title
		MaxOutputTokens: int32(req.MaxLength * 10),
		Temperature:     genai.Ptr(g.temperature),
	}
	if g.thinkingBudget >= 0 {
		genConfig.ThinkingConfig = &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(int32(g.thinkingBudget)),
		}
	}

	g.log.Debug().
		Str("model", g.model).
		Uint("item_id", req.ItemID).
		Str("url", req.URL).
		Msg("Sending request to Gemini")

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), genConfig)
	duration := time.Since(start)
	if err != nil {
		g.log.Warn().Err(err).Uint("item_id", req.ItemID).Msg("Gemini API error")
		return nil, wrapProviderError("gemini", err)
	}

	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini API error: no candidates in response")
	}

	summary, title, err := ParseSummaryResponse(resp.Text())
	if err != nil {
		return nil, err
	}

	candidate := resp.Candidates[0]
	metadata := models.JSON{
		"provider":      "gemini",
		"model_used":    g.model,
		"model_version": resp.ModelVersion,
		"finish_reason": string(candidate.FinishReason),
		"text_length":   len([]rune(summary)),
	}
	if usage := resp.UsageMetadata; usage != nil {
		metadata["prompt_tokens"] = usage.PromptTokenCount
		metadata["output_tokens"] = usage.CandidatesTokenCount
		metadata["total_tokens"] = usage.TotalTokenCount
	}

	g.log.Debug().
		Uint("item_id", req.ItemID).
		Dur("duration", duration).
		Msg("Received Gemini response")

	return &Result{
		Content:            summary,
		TranslatedTitle:    title,
		URLRetrievalStatus: urlRetrievalStatus(candidate),
		Metadata:           metadata,
		Duration:           duration,
	}, nil
}

// urlRetrievalStatus reads whether the url_context tool grounded the answer
func urlRetrievalStatus(candidate *genai.Candidate) string {
	if candidate == nil || candidate.GroundingMetadata == nil {
		return models.URLRetrievalUnknown
	}
	if len(candidate.GroundingMetadata.GroundingChunks) > 0 {
		return models.URLRetrievalSuccess
	}
	return models.URLRetrievalFailure
}

// Ensure GeminiSummarizer implements Summarizer
var _ Summarizer = (*GeminiSummarizer)(nil)
