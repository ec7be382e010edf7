package anthropicclaude

import (
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/awenger/anthropic-oauth-proxy/internal/openaiadapter"
)

// bridgeState tracks the translation state machine.
type bridgeState int

const (
	// stateIdle: nothing emitted yet; waiting for message_start.
	stateIdle bridgeState = iota
	// stateStreaming: role priming emitted; translating content deltas.
	stateStreaming
	// stateDone: terminal chunk emitted; remaining events are ignored.
	stateDone
)

// bridge converts Anthropic streaming events into OpenAI chat completion
// chunks. Every chunk of one response shares the same id, created timestamp,
// model, and object. Chunk order strictly follows upstream event order.
type bridge struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	state  bridgeState

	id      string
	created int64
	model   string

	inputTokens  int64
	outputTokens int64
	stopReason   anthropic.StopReason
}

// newBridge creates a bridge for one streamed request. model is the resolved
// model id echoed on every chunk.
func newBridge(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], model string) *bridge {
	return &bridge{
		stream:  stream,
		id:      newResponseID(),
		created: time.Now().Unix(),
		model:   model,
	}
}

// events is an iter.Seq2 over translated chunks. Upstream failures before the
// first chunk surface as an iterator error; failures after the stream is
// underway yield a terminal chunk annotated with the error, because the
// response status is already committed at that point.
func (b *bridge) events(yield func(*openaiadapter.ChatCompletionChunk, error) bool) {
	defer func() { _ = b.stream.Close() }()

	for b.stream.Next() {
		switch event := b.stream.Current().AsAny().(type) {
		case anthropic.MessageStartEvent:
			if b.state != stateIdle {
				continue
			}
			b.inputTokens = event.Message.Usage.InputTokens
			b.state = stateStreaming

			// Role priming: first chunk announces the assistant role with
			// explicitly empty content.
			empty := ""
			if !yield(b.chunk(openaiadapter.ChunkDelta{Role: openaiadapter.RoleAssistant, Content: &empty}), nil) {
				return
			}

		case anthropic.ContentBlockDeltaEvent:
			if b.state != stateStreaming {
				continue
			}
			// Only text deltas translate; other delta types (thinking,
			// input_json, citations) have no OpenAI text equivalent and are
			// dropped.
			if delta, ok := event.Delta.AsAny().(anthropic.TextDelta); ok {
				text := delta.Text
				if !yield(b.chunk(openaiadapter.ChunkDelta{Content: &text}), nil) {
					return
				}
			}

		case anthropic.MessageDeltaEvent:
			if event.Delta.StopReason != "" {
				b.stopReason = event.Delta.StopReason
			}
			if event.Usage.OutputTokens != 0 {
				b.outputTokens = event.Usage.OutputTokens
			}

		case anthropic.MessageStopEvent:
			if b.state != stateStreaming {
				continue
			}
			b.state = stateDone
			if !yield(b.finalChunk(nil), nil) {
				return
			}

		case anthropic.ContentBlockStartEvent, anthropic.ContentBlockStopEvent:
			// Block boundaries produce no output.
		}

		if b.state == stateDone {
			// Terminal; drain nothing further.
			return
		}
	}

	if err := b.stream.Err(); err != nil && b.state != stateDone {
		errResp := toOpenAIError(err)
		if b.state == stateIdle {
			// Nothing written yet; the caller can still report the error on
			// its own terms.
			yield(nil, errResp)
			return
		}
		// The stream broke mid-flight: close it out with a stop chunk
		// annotated with the error, so clients terminate cleanly.
		yield(b.finalChunk(&errResp.Err), nil)
	}
}

// chunk builds a content-bearing chunk with the shared envelope fields.
func (b *bridge) chunk(delta openaiadapter.ChunkDelta) *openaiadapter.ChatCompletionChunk {
	return &openaiadapter.ChatCompletionChunk{
		ID:      b.id,
		Object:  openaiadapter.ObjectChatCompletionChunk,
		Created: b.created,
		Model:   b.model,
		Choices: []openaiadapter.ChunkChoice{
			{Index: 0, Delta: delta},
		},
	}
}

// finalChunk builds the terminal chunk carrying the mapped finish reason and
// the usage accumulated from message_start/message_delta.
func (b *bridge) finalChunk(errAnnotation *openaiadapter.Error) *openaiadapter.ChatCompletionChunk {
	finishReason := toFinishReason(b.stopReason)
	return &openaiadapter.ChatCompletionChunk{
		ID:      b.id,
		Object:  openaiadapter.ObjectChatCompletionChunk,
		Created: b.created,
		Model:   b.model,
		Choices: []openaiadapter.ChunkChoice{
			{Index: 0, Delta: openaiadapter.ChunkDelta{}, FinishReason: &finishReason},
		},
		Usage: toCompletionUsage(b.inputTokens, b.outputTokens),
		Err:   errAnnotation,
	}
}
