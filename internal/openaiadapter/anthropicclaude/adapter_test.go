package anthropicclaude

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awenger/anthropic-oauth-proxy/internal/openaiadapter"
)

// mockTransport returns pre-recorded upstream responses without network
// calls and records what the adapter sent.
type mockTransport struct {
	responseBody   string
	responseStatus int
	responseHeader http.Header
	isStreaming    bool

	// bodyReader, when set, overrides responseBody to exercise specific read
	// patterns (e.g. tiny chunks crossing event boundaries).
	bodyReader io.Reader

	requests []*http.Request
	bodies   []string
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.requests = append(m.requests, req)
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		m.bodies = append(m.bodies, string(b))
	}

	header := http.Header{}
	for k, v := range m.responseHeader {
		header[k] = v
	}
	if header.Get("Content-Type") == "" {
		if m.isStreaming {
			header.Set("Content-Type", "text/event-stream")
		} else {
			header.Set("Content-Type", "application/json")
		}
	}

	body := m.bodyReader
	if body == nil {
		body = strings.NewReader(m.responseBody)
	}

	return &http.Response{
		StatusCode: m.responseStatus,
		Body:       io.NopCloser(body),
		Header:     header,
		Request:    req,
	}, nil
}

// drip yields at most n bytes per Read so SSE events arrive split across
// arbitrary boundaries.
type drip struct {
	r io.Reader
	n int
}

func (d *drip) Read(p []byte) (int, error) {
	if len(p) > d.n {
		p = p[:d.n]
	}
	return d.r.Read(p)
}

const bufferedResponse = `{
	"id": "msg_01",
	"type": "message",
	"role": "assistant",
	"model": "claude-sonnet-4-0",
	"content": [
		{"type": "text", "text": "pong"}
	],
	"stop_reason": "end_turn",
	"stop_sequence": null,
	"usage": {"input_tokens": 10, "output_tokens": 1}
}`

const streamingResponse = "event: message_start\n" +
	"data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_01\",\"type\":\"message\",\"role\":\"assistant\",\"model\":\"claude-sonnet-4-0\",\"content\":[],\"stop_reason\":null,\"usage\":{\"input_tokens\":8,\"output_tokens\":0}}}\n\n" +
	"event: content_block_start\n" +
	"data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"he\"}}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"llo\"}}\n\n" +
	"event: content_block_stop\n" +
	"data: {\"type\":\"content_block_stop\",\"index\":0}\n\n" +
	"event: message_delta\n" +
	"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\",\"stop_sequence\":null},\"usage\":{\"output_tokens\":2}}\n\n" +
	"event: message_stop\n" +
	"data: {\"type\":\"message_stop\"}\n\n"

func chatRequest(stream bool) openaiadapter.ChatCompletionRequest {
	return openaiadapter.ChatCompletionRequest{
		Model: "claude-sonnet-4-0",
		Messages: []openaiadapter.ChatMessage{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "ping"},
		},
		Stream: ptr(stream),
	}
}

func TestProcessRequest(t *testing.T) {
	transport := &mockTransport{responseBody: bufferedResponse, responseStatus: http.StatusOK}

	resp, err := testAdapter().ProcessRequest(context.Background(), chatRequest(false), transport)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(resp.ID, "chatcmpl-"))
	assert.Len(t, strings.TrimPrefix(resp.ID, "chatcmpl-"), 24)
	assert.Equal(t, openaiadapter.ObjectChatCompletion, resp.Object)
	assert.Equal(t, "claude-sonnet-4-0", resp.Model)
	assert.NotZero(t, resp.Created)

	require.Len(t, resp.Choices, 1)
	assert.Equal(t, 0, resp.Choices[0].Index)
	assert.Equal(t, "assistant", resp.Choices[0].Message.Role)
	assert.Equal(t, "pong", resp.Choices[0].Message.Content)
	assert.Equal(t, openaiadapter.FinishReasonStop, resp.Choices[0].FinishReason)

	require.NotNil(t, resp.Usage)
	assert.EqualValues(t, 10, resp.Usage.PromptTokens)
	assert.EqualValues(t, 1, resp.Usage.CompletionTokens)
	assert.EqualValues(t, 11, resp.Usage.TotalTokens)

	// The outbound request carries the configured headers and the hoisted
	// system prompt.
	require.Len(t, transport.requests, 1)
	sent := transport.requests[0]
	assert.Equal(t, "2023-06-01", sent.Header.Get("anthropic-version"))
	assert.Equal(t, "oauth-2025-04-20", sent.Header.Get("anthropic-beta"))
	require.Len(t, transport.bodies, 1)
	assert.Contains(t, transport.bodies[0], `"be brief"`)
	assert.NotContains(t, transport.bodies[0], `"stream":true`)
}

func TestProcessRequestUpstreamErrorPassthrough(t *testing.T) {
	transport := &mockTransport{
		responseBody:   `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`,
		responseStatus: http.StatusTooManyRequests,
		responseHeader: http.Header{"Retry-After": []string{"30"}},
	}

	_, err := testAdapter().ProcessRequest(context.Background(), chatRequest(false), transport)

	var errResp *openaiadapter.ErrorResponse
	require.ErrorAs(t, err, &errResp)
	assert.Equal(t, http.StatusTooManyRequests, errResp.StatusCode)
	assert.Equal(t, "30", errResp.RetryAfter)
	assert.Equal(t, openaiadapter.ErrorTypeRateLimit, errResp.Err.Type)
	assert.Equal(t, "slow down", errResp.Err.Message)
}

func TestProcessStreamingRequest(t *testing.T) {
	transport := &mockTransport{
		responseBody:   streamingResponse,
		responseStatus: http.StatusOK,
		isStreaming:    true,
	}

	stream, err := testAdapter().ProcessStreamingRequest(context.Background(), chatRequest(true), transport)
	require.NoError(t, err)

	var chunks []*openaiadapter.ChatCompletionChunk
	for chunk, err := range stream {
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}
	require.Len(t, chunks, 4)

	// Envelope fields are shared across every chunk.
	for _, chunk := range chunks {
		assert.Equal(t, chunks[0].ID, chunk.ID)
		assert.Equal(t, chunks[0].Created, chunk.Created)
		assert.Equal(t, "claude-sonnet-4-0", chunk.Model)
		assert.Equal(t, openaiadapter.ObjectChatCompletionChunk, chunk.Object)
		require.Len(t, chunk.Choices, 1)
		assert.Equal(t, 0, chunk.Choices[0].Index)
	}

	// Role priming first, with explicitly empty content.
	priming := chunks[0].Choices[0]
	assert.Equal(t, "assistant", priming.Delta.Role)
	require.NotNil(t, priming.Delta.Content)
	assert.Empty(t, *priming.Delta.Content)
	assert.Nil(t, priming.FinishReason)

	// Text deltas in upstream order.
	require.NotNil(t, chunks[1].Choices[0].Delta.Content)
	assert.Equal(t, "he", *chunks[1].Choices[0].Delta.Content)
	require.NotNil(t, chunks[2].Choices[0].Delta.Content)
	assert.Equal(t, "llo", *chunks[2].Choices[0].Delta.Content)

	// Terminal chunk: empty delta, mapped finish reason, accumulated usage.
	final := chunks[3]
	assert.Empty(t, final.Choices[0].Delta.Role)
	assert.Nil(t, final.Choices[0].Delta.Content)
	require.NotNil(t, final.Choices[0].FinishReason)
	assert.Equal(t, openaiadapter.FinishReasonStop, *final.Choices[0].FinishReason)
	require.NotNil(t, final.Usage)
	assert.EqualValues(t, 8, final.Usage.PromptTokens)
	assert.EqualValues(t, 2, final.Usage.CompletionTokens)
	assert.EqualValues(t, 10, final.Usage.TotalTokens)
}

func TestProcessStreamingRequestArbitraryChunkBoundaries(t *testing.T) {
	transport := &mockTransport{
		responseStatus: http.StatusOK,
		isStreaming:    true,
		bodyReader:     &drip{r: strings.NewReader(streamingResponse), n: 3},
	}

	stream, err := testAdapter().ProcessStreamingRequest(context.Background(), chatRequest(true), transport)
	require.NoError(t, err)

	var texts []string
	for chunk, err := range stream {
		require.NoError(t, err)
		if c := chunk.Choices[0].Delta.Content; c != nil && *c != "" {
			texts = append(texts, *c)
		}
	}
	assert.Equal(t, []string{"he", "llo"}, texts)
}

func TestProcessStreamingRequestMaxTokensFinish(t *testing.T) {
	body := strings.Replace(streamingResponse, `"stop_reason":"end_turn"`, `"stop_reason":"max_tokens"`, 1)
	transport := &mockTransport{responseBody: body, responseStatus: http.StatusOK, isStreaming: true}

	stream, err := testAdapter().ProcessStreamingRequest(context.Background(), chatRequest(true), transport)
	require.NoError(t, err)

	var last *openaiadapter.ChatCompletionChunk
	for chunk, err := range stream {
		require.NoError(t, err)
		last = chunk
	}
	require.NotNil(t, last)
	require.NotNil(t, last.Choices[0].FinishReason)
	assert.Equal(t, openaiadapter.FinishReasonLength, *last.Choices[0].FinishReason)
}

func TestProcessStreamingRequestUpstreamStatusError(t *testing.T) {
	transport := &mockTransport{
		responseBody:   `{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`,
		responseStatus: 529,
	}

	_, err := testAdapter().ProcessStreamingRequest(context.Background(), chatRequest(true), transport)

	var errResp *openaiadapter.ErrorResponse
	require.ErrorAs(t, err, &errResp)
	assert.Equal(t, 529, errResp.StatusCode)
	assert.Equal(t, openaiadapter.ErrorTypeServer, errResp.Err.Type)
}

func TestFinishReasonMapping(t *testing.T) {
	tests := []struct {
		stopReason string
		want       string
	}{
		{stopReason: "end_turn", want: "stop"},
		{stopReason: "stop_sequence", want: "stop"},
		{stopReason: "max_tokens", want: "length"},
		{stopReason: "tool_use", want: "tool_calls"},
		{stopReason: "refusal", want: "content_filter"},
		{stopReason: "pause_turn", want: "stop"},
		{stopReason: "", want: "stop"},
	}
	for _, tt := range tests {
		name := tt.stopReason
		if name == "" {
			name = "absent"
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, toFinishReason(anthropic.StopReason(tt.stopReason)))
		})
	}
}
