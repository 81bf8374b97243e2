// SPDX-License-Identifier: AGPL-3.0-only

// Package transformer implements the stateless Schema Transformer
// contract of §4.1: converting the canonical chatmodel types to and
// from a specific backend's wire JSON. Transformers never perform
// I/O; internal/provider owns the HTTP round trip and the SSE line
// assembler that feeds ParseStreamChunk one logical line at a time.
//
// Grounded on the teacher's internal/agent/{openai_provider,
// anthropic_provider}.go conversion helpers (toOpenAIMessage,
// toAnthropicMessages, fromOpenAIMessage, fromAnthropicMessage),
// generalized from "convert to SDK struct" to "convert to wire JSON"
// because this runtime's streaming path normalizes chunks itself
// rather than delegating to either SDK's own response type.
package transformer

import (
	"encoding/json"
	"fmt"

	"github.com/bigduu/Bamboo/internal/apperrors"
	"github.com/bigduu/Bamboo/internal/chatmodel"
)

// Transformer is the Go interface backing §4.1's Schema Transformer
// contract.
type Transformer interface {
	// TransformRequest builds the POST body for req.
	TransformRequest(req chatmodel.ChatRequest) ([]byte, error)

	// ParseStreamChunk converts one data:-stripped SSE payload into a
	// normalized Chunk, or returns (nil, nil) if the payload
	// contributes no observable change.
	ParseStreamChunk(line []byte) (*chatmodel.Chunk, error)

	// TransformTools converts tool definitions into the backend's
	// tools array.
	TransformTools(tools []chatmodel.ToolDefinition) (json.RawMessage, error)
}

// DataURI builds a base64 image data URI with no whitespace between
// the comma and the payload, fixing the stray-space bug present in
// bamboo-llm/src/transformer/openai.rs ("data:{};base64, {}").
func DataURI(mime, base64Data string) string {
	return fmt.Sprintf("data:%s;base64,%s", mime, base64Data)
}

// transformErr wraps a parse/encode failure as a non-retried
// Transform error per §4.1's error model.
func transformErr(reason string) error {
	return &apperrors.TransformError{Reason: reason}
}
