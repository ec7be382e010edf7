// Package anthropicclaude adapts OpenAI chat completion requests to
// Anthropic's Messages API, enabling OpenAI SDK clients to work with Claude
// models without code changes.
//
// The adapter handles:
//
//   - Message transformation: system messages are hoisted into Anthropic's
//     System field (leading run joined first, later ones appended); user and
//     assistant turns become single-text-block messages in order.
//
//   - Buffered responses: text content blocks are concatenated, stop reasons
//     mapped to finish reasons, token usage converted.
//
//   - Streaming: Anthropic's SSE events are translated into OpenAI chunks
//     with a role-priming chunk first, one chunk per text delta, and a
//     terminal chunk carrying the mapped finish reason and accumulated usage.
//     Chunk order strictly follows upstream delta order.
//
// # Adapters
//
// Adapter: OpenAI CreateChatCompletion → Anthropic Messages
package anthropicclaude
