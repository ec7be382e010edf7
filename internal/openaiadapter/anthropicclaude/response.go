package anthropicclaude

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/awenger/anthropic-oauth-proxy/internal/openaiadapter"
)

// toChatCompletion converts a buffered Anthropic message into an OpenAI chat
// completion. Text content blocks are concatenated in order; other block
// types are ignored.
func toChatCompletion(message *anthropic.Message, model string) *openaiadapter.ChatCompletion {
	var content strings.Builder
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			content.WriteString(text.Text)
		}
	}

	return &openaiadapter.ChatCompletion{
		ID:      newResponseID(),
		Object:  openaiadapter.ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []openaiadapter.Choice{
			{
				Index: 0,
				Message: openaiadapter.AssistantMessage{
					Role:    openaiadapter.RoleAssistant,
					Content: content.String(),
				},
				FinishReason: toFinishReason(message.StopReason),
			},
		},
		Usage: toCompletionUsage(message.Usage.InputTokens, message.Usage.OutputTokens),
	}
}

// toFinishReason maps Anthropic stop reasons to OpenAI finish reasons.
//
// Refusal transformation: OpenAI separates refusal text via a Refusal field,
// while Anthropic embeds refusals in content with stop_reason="refusal". The
// refusal text stays in content and the finish reason becomes
// "content_filter", keeping streaming and buffered responses consistent.
func toFinishReason(stopReason anthropic.StopReason) string {
	switch stopReason {
	case anthropic.StopReasonEndTurn:
		return openaiadapter.FinishReasonStop
	case anthropic.StopReasonMaxTokens:
		return openaiadapter.FinishReasonLength
	case anthropic.StopReasonStopSequence:
		return openaiadapter.FinishReasonStop
	case anthropic.StopReasonToolUse:
		return openaiadapter.FinishReasonToolCalls
	case anthropic.StopReasonRefusal:
		return openaiadapter.FinishReasonContentFilter
	default:
		// Covers an absent stop reason and "pause_turn", which has no OpenAI
		// equivalent; "stop" is the closest semantic match.
		return openaiadapter.FinishReasonStop
	}
}

// newResponseID generates an OpenAI-compatible response ID
// (chatcmpl-<token>). All chunks of one streamed response share one ID.
func newResponseID() string {
	b := make([]byte, 18) // 18 bytes yields 24 URL-safe base64 characters
	_, err := rand.Read(b)
	if err != nil {
		panic(err)
	}
	// Use RawURLEncoding to avoid '+', '/' and trailing '='
	token := base64.RawURLEncoding.EncodeToString(b)
	return "chatcmpl-" + token
}
