package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NahidaBuer/programmer-trending/internal/config"
	"github.com/NahidaBuer/programmer-trending/internal/models"
	"github.com/NahidaBuer/programmer-trending/pkg/logger"
)

func newGeminiServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func newTestGemini(t *testing.T, url string) *GeminiSummarizer {
	t.Helper()
	g, err := NewGeminiSummarizer(context.Background(), config.GeminiConfig{
		APIKey:      "test-key",
		BaseURL:     url + "/",
		Temperature: 0.3,
	}, "gemini-2.5-flash", logger.Nop())
	require.NoError(t, err)
	return g
}

func TestGeminiSummarizer_Success(t *testing.T) {
	srv := newGeminiServer(t, http.StatusOK, `{
		"candidates": [{
			"content": {"role": "model", "parts": [{"text": "{\"translated_title\": \"标题\", \"summary\": \"摘要\"}"}]},
			"finishReason": "STOP",
			"groundingMetadata": {"groundingChunks": [{"web": {"uri": "https://example.com", "title": "example"}}]}
		}],
		"usageMetadata": {"promptTokenCount": 10, "candidatesTokenCount": 20, "totalTokenCount": 30},
		"modelVersion": "gemini-2.5-flash"
	}`)
	defer srv.Close()

	g := newTestGemini(t, srv.URL)
	res, err := g.Summarize(context.Background(), Request{ItemID: 1, Title: "t", URL: "https://example.com", MaxLength: 200, Lang: "zh-CN"})
	require.NoError(t, err)

	assert.Equal(t, "摘要", res.Content)
	assert.Equal(t, "标题", res.TranslatedTitle)
	assert.Equal(t, models.URLRetrievalSuccess, res.URLRetrievalStatus)
	assert.Equal(t, "gemini-2.5-flash", res.Metadata["model_used"])
	assert.Equal(t, "gemini-2.5-flash", g.Model())
}

func TestGeminiSummarizer_QuotaError(t *testing.T) {
	srv := newGeminiServer(t, http.StatusTooManyRequests,
		`{"error": {"code": 429, "message": "Resource has been exhausted (e.g. check quota).", "status": "RESOURCE_EXHAUSTED"}}`)
	defer srv.Close()

	g := newTestGemini(t, srv.URL)
	_, err := g.Summarize(context.Background(), Request{ItemID: 1, Title: "t", URL: "https://example.com", MaxLength: 200})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestGeminiSummarizer_ServerError(t *testing.T) {
	srv := newGeminiServer(t, http.StatusInternalServerError,
		`{"error": {"code": 500, "message": "internal", "status": "INTERNAL"}}`)
	defer srv.Close()

	g := newTestGemini(t, srv.URL)
	_, err := g.Summarize(context.Background(), Request{ItemID: 1, Title: "t", URL: "https://example.com", MaxLength: 200})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, models.ErrorCategoryAPI, models.ClassifyError(err.Error()))
}

func TestNew_RequiresCredentials(t *testing.T) {
	cfg := &config.Config{Summary: config.SummaryConfig{Provider: "anthropic", Model: "claude"}}
	_, err := New(context.Background(), cfg, logger.Nop())
	assert.ErrorIs(t, err, ErrNotConfigured)

	cfg.Anthropic.APIKey = "sk"
	s, err := New(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, "claude", s.Model())

	cfg.Summary.Provider = "openai"
	_, err = New(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}
