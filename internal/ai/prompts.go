package ai

import (
	"fmt"
	"strings"
)

// Summary prompts. The model is asked for a JSON object so the translated
// title and the summary come back together.
const (
	summaryPromptZH = `请阅读以下页面并用中文总结其内容，要求：
1. 全程用中文回复，不要使用英文总结开头
2. 摘要不超过%d字
3. 重点突出技术要点和核心内容
4. 保持客观和准确
5. 同时将标题翻译为中文

页面标题：%s
页面链接：%s

只返回如下 JSON，不要附加任何其他内容：
{"translated_title": "<中文标题>", "summary": "<摘要>"}`

	summaryPromptEN = `Read the following page and summarize it in %s.

Requirements:
- At most %d words
- Focus on the technical points and the core content
- Stay objective and accurate
- Also translate the title into %s

Title: %s
URL: %s

Respond ONLY with this JSON object, nothing else:
{"translated_title": "<translated title>", "summary": "<summary>"}`
)

// BuildSummaryPrompt renders the prompt for one item
func BuildSummaryPrompt(req Request) string {
	if strings.HasPrefix(strings.ToLower(req.Lang), "zh") || req.Lang == "" {
		return fmt.Sprintf(summaryPromptZH, req.MaxLength, req.Title, req.URL)
	}
	return fmt.Sprintf(summaryPromptEN, req.Lang, req.MaxLength, req.Lang, req.Title, req.URL)
}
