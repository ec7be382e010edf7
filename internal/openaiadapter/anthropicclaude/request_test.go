package anthropicclaude

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awenger/anthropic-oauth-proxy/internal/openaiadapter"
)

func testAdapter() *Adapter {
	return New(Config{
		APIBase:          "https://api.example",
		Version:          "2023-06-01",
		Beta:             []string{"oauth-2025-04-20"},
		DefaultModel:     "claude-sonnet-4-0",
		DefaultMaxTokens: 4096,
	})
}

func ptr[T any](v T) *T { return &v }

func blockText(t *testing.T, msg anthropic.MessageParam) string {
	t.Helper()
	require.Len(t, msg.Content, 1)
	require.NotNil(t, msg.Content[0].OfText)
	return msg.Content[0].OfText.Text
}

func TestTranslateRequest(t *testing.T) {
	a := testAdapter()

	params, model, err := a.translateRequest(openaiadapter.ChatCompletionRequest{
		Model: "claude-sonnet-4-0",
		Messages: []openaiadapter.ChatMessage{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "ping"},
			{Role: "assistant", Content: "pong"},
			{Role: "user", Content: "again"},
		},
		Temperature: ptr(0.5),
		TopP:        ptr(0.9),
		MaxTokens:   ptr(int64(128)),
	})
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-0", model)
	assert.Equal(t, anthropic.Model("claude-sonnet-4-0"), params.Model)
	assert.EqualValues(t, 128, params.MaxTokens)

	require.Len(t, params.System, 1)
	assert.Equal(t, "be brief", params.System[0].Text)

	require.Len(t, params.Messages, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, params.Messages[0].Role)
	assert.Equal(t, "ping", blockText(t, params.Messages[0]))
	assert.Equal(t, anthropic.MessageParamRoleAssistant, params.Messages[1].Role)
	assert.Equal(t, "pong", blockText(t, params.Messages[1]))
	assert.Equal(t, anthropic.MessageParamRoleUser, params.Messages[2].Role)

	assert.Equal(t, 0.5, params.Temperature.Value)
	assert.Equal(t, 0.9, params.TopP.Value)
}

func TestTranslateRequestFoldsLaterSystemMessages(t *testing.T) {
	a := testAdapter()

	params, _, err := a.translateRequest(openaiadapter.ChatCompletionRequest{
		Model: "claude-sonnet-4-0",
		Messages: []openaiadapter.ChatMessage{
			{Role: "system", Content: "one"},
			{Role: "user", Content: "hi"},
			{Role: "system", Content: "two"},
		},
	})
	require.NoError(t, err)

	require.Len(t, params.System, 1)
	assert.Equal(t, "one\n\ntwo", params.System[0].Text)
	require.Len(t, params.Messages, 1)
}

func TestTranslateRequestDefaults(t *testing.T) {
	a := testAdapter()

	params, model, err := a.translateRequest(openaiadapter.ChatCompletionRequest{
		Messages: []openaiadapter.ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-0", model, "missing model falls back to the configured default")
	assert.EqualValues(t, 4096, params.MaxTokens, "missing budget falls back to the configured default")
	assert.Empty(t, params.System)
	assert.False(t, params.Temperature.Valid(), "absent temperature is not sent")
	assert.False(t, params.TopP.Valid(), "absent top_p is not sent")
}

func TestTranslateRequestMaxCompletionTokens(t *testing.T) {
	a := testAdapter()

	params, _, err := a.translateRequest(openaiadapter.ChatCompletionRequest{
		Model:               "claude-sonnet-4-0",
		Messages:            []openaiadapter.ChatMessage{{Role: "user", Content: "hi"}},
		MaxCompletionTokens: ptr(int64(99)),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 99, params.MaxTokens)

	// max_tokens wins over max_completion_tokens when both are present.
	params, _, err = a.translateRequest(openaiadapter.ChatCompletionRequest{
		Model:               "claude-sonnet-4-0",
		Messages:            []openaiadapter.ChatMessage{{Role: "user", Content: "hi"}},
		MaxTokens:           ptr(int64(7)),
		MaxCompletionTokens: ptr(int64(99)),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 7, params.MaxTokens)
}

func TestTranslateRequestInvalid(t *testing.T) {
	a := testAdapter()

	tests := []struct {
		name string
		req  openaiadapter.ChatCompletionRequest
	}{
		{
			name: "no messages",
			req:  openaiadapter.ChatCompletionRequest{Model: "m"},
		},
		{
			name: "unknown role",
			req: openaiadapter.ChatCompletionRequest{
				Model:    "m",
				Messages: []openaiadapter.ChatMessage{{Role: "tool", Content: "x"}},
			},
		},
		{
			name: "first message is assistant",
			req: openaiadapter.ChatCompletionRequest{
				Model:    "m",
				Messages: []openaiadapter.ChatMessage{{Role: "assistant", Content: "x"}},
			},
		},
		{
			name: "only system messages",
			req: openaiadapter.ChatCompletionRequest{
				Model:    "m",
				Messages: []openaiadapter.ChatMessage{{Role: "system", Content: "x"}},
			},
		},
		{
			name: "non-positive max_tokens",
			req: openaiadapter.ChatCompletionRequest{
				Model:     "m",
				Messages:  []openaiadapter.ChatMessage{{Role: "user", Content: "x"}},
				MaxTokens: ptr(int64(0)),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := a.translateRequest(tt.req)
			var errResp *openaiadapter.ErrorResponse
			require.ErrorAs(t, err, &errResp)
			assert.Equal(t, openaiadapter.ErrorTypeInvalidRequest, errResp.Err.Type)
		})
	}
}

func TestTranslateRequestNoModelNoDefault(t *testing.T) {
	a := New(Config{DefaultMaxTokens: 4096})

	_, _, err := a.translateRequest(openaiadapter.ChatCompletionRequest{
		Messages: []openaiadapter.ChatMessage{{Role: "user", Content: "hi"}},
	})
	var errResp *openaiadapter.ErrorResponse
	require.ErrorAs(t, err, &errResp)
	assert.Equal(t, openaiadapter.ErrorTypeInvalidRequest, errResp.Err.Type)
}
