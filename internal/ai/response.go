package ai

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrEmptyResponse is returned when the provider produced no text
var ErrEmptyResponse = errors.New("empty summary content")

type summaryPayload struct {
	TranslatedTitle string `json:"translated_title"`
	Summary         string `json:"summary"`
}

// ParseSummaryResponse extracts the summary and translated title from model
// output. The JSON may be wrapped in a markdown fence; output that is not the
// expected JSON is used verbatim as the summary.
func ParseSummaryResponse(text string) (summary, translatedTitle string, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", ErrEmptyResponse
	}

	var payload summaryPayload
	if jsonErr := json.Unmarshal([]byte(extractJSON(text)), &payload); jsonErr == nil {
		summary = strings.TrimSpace(payload.Summary)
		if summary != "" {
			return summary, strings.TrimSpace(payload.TranslatedTitle), nil
		}
	}

	return text, "", nil
}

// extractJSON strips a ```json fence, or anything around the outermost object
func extractJSON(text string) string {
	if start := strings.Index(text, "```"); start >= 0 {
		body := text[start+3:]
		body = strings.TrimPrefix(body, "json")
		if end := strings.Index(body, "```"); end >= 0 {
			return strings.TrimSpace(body[:end])
		}
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
