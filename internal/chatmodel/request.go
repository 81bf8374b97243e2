// SPDX-License-Identifier: AGPL-3.0-only
package chatmodel

// ChatRequest is the canonical, backend-agnostic request a Transformer
// converts into wire JSON. Grounded on bamboo-core/src/chat/request.rs.
type ChatRequest struct {
	Model          string
	SystemPrompt   string
	Messages       []Message
	Tools          []ToolDefinition
	Stream         bool
	Temperature    *float64
	MaxTokens      *int
	TopP           *float64
	ResponseFormat string // e.g. "json_object"; empty means unset
}

// ChatResponse is the fully aggregated result of a (possibly
// streamed) chat call, produced by AggregateChunks.
type ChatResponse struct {
	Message      Message
	Usage        *Usage
	FinishReason FinishReason
}
