package anthropicclaude

import (
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/awenger/anthropic-oauth-proxy/internal/openaiadapter"
)

// translateRequest converts an OpenAI chat completion request into Anthropic
// MessageNewParams. The returned model is the resolved model id echoed back
// in responses. Validation failures return *openaiadapter.ErrorResponse.
func (a *Adapter) translateRequest(req openaiadapter.ChatCompletionRequest) (anthropic.MessageNewParams, string, error) {
	var params anthropic.MessageNewParams

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = a.cfg.DefaultModel
	}
	if model == "" {
		return params, "", openaiadapter.InvalidRequestError("model is required")
	}

	if len(req.Messages) == 0 {
		return params, "", openaiadapter.InvalidRequestError("messages must not be empty")
	}

	system, conversation, err := splitSystem(req.Messages)
	if err != nil {
		return params, "", err
	}

	params.Model = anthropic.Model(model)
	params.Messages = conversation
	params.MaxTokens = a.resolveMaxTokens(req)
	if params.MaxTokens <= 0 {
		return params, "", openaiadapter.InvalidRequestError("max_tokens must be a positive integer")
	}

	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}

	return params, model, nil
}

// splitSystem hoists system messages into a single system prompt and
// converts the remaining turns into Anthropic messages. System messages
// appearing after the leading run are appended to the prompt as well; their
// original positions are discarded.
func splitSystem(messages []openaiadapter.ChatMessage) (string, []anthropic.MessageParam, error) {
	var systemParts []string
	conversation := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case openaiadapter.RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case openaiadapter.RoleUser:
			conversation = append(conversation, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case openaiadapter.RoleAssistant:
			conversation = append(conversation, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			return "", nil, openaiadapter.InvalidRequestError(fmt.Sprintf("unsupported message role %q", msg.Role))
		}
	}

	if len(conversation) == 0 {
		return "", nil, openaiadapter.InvalidRequestError("at least one user message is required")
	}
	if conversation[0].Role != anthropic.MessageParamRoleUser {
		return "", nil, openaiadapter.InvalidRequestError("the first non-system message must have role \"user\"")
	}

	return strings.Join(systemParts, "\n\n"), conversation, nil
}

// resolveMaxTokens applies the max_tokens / max_completion_tokens / default
// precedence. Anthropic requires an explicit token budget.
func (a *Adapter) resolveMaxTokens(req openaiadapter.ChatCompletionRequest) int64 {
	if req.MaxTokens != nil {
		return *req.MaxTokens
	}
	if req.MaxCompletionTokens != nil {
		return *req.MaxCompletionTokens
	}
	return a.cfg.DefaultMaxTokens
}
