// SPDX-License-Identifier: AGPL-3.0-only
package chatmodel

import (
	"time"

	"github.com/google/uuid"
)

// ToolCall represents a single tool invocation requested by the
// model, or (in a tool-role message) the call an output responds to.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // structured JSON value, kept as raw text until dispatch
}

// Message is the canonical, provider-agnostic chat message. An
// assistant message carrying ToolCalls must be followed, before the
// next assistant message, by one tool message per call whose
// ToolCallID matches a call ID here (data-model invariant (a)).
type Message struct {
	ID         string                 `json:"id"`
	Role       Role                   `json:"role"`
	Content    Content                `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NewMessage builds a Message with a fresh id and CreatedAt set to
// now, for the common plain-text case.
func NewMessage(role Role, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   TextContent(text),
		CreatedAt: time.Now(),
	}
}

// NewToolResultMessage builds the tool-role message that reports the
// outcome of call back to the model, per the tool-result envelope in
// §4.4: success encodes the raw output, failure encodes "error: "
// plus the error message.
func NewToolResultMessage(callID string, result ToolResult) Message {
	var text string
	if result.Success {
		text = result.Output
	} else {
		text = "error: " + result.Error
	}
	return Message{
		ID:         uuid.NewString(),
		Role:       RoleTool,
		Content:    TextContent(text),
		ToolCallID: callID,
		CreatedAt:  time.Now(),
	}
}
