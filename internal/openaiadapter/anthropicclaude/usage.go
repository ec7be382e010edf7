package anthropicclaude

import (
	"github.com/awenger/anthropic-oauth-proxy/internal/openaiadapter"
)

// toCompletionUsage converts Anthropic token counts into the OpenAI usage
// block. Fields the upstream omitted arrive as zero and stay zero.
func toCompletionUsage(inputTokens, outputTokens int64) *openaiadapter.CompletionUsage {
	return &openaiadapter.CompletionUsage{
		PromptTokens:     inputTokens,
		CompletionTokens: outputTokens,
		TotalTokens:      inputTokens + outputTokens,
	}
}
