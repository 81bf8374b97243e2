// SPDX-License-Identifier: AGPL-3.0-only
package transformer

import (
	"bytes"
	"encoding/json"

	"github.com/bigduu/Bamboo/internal/chatmodel"
)

// Anthropic implements Transformer for the Anthropic Messages wire
// format. Grounded on internal/agent/anthropic_provider.go's
// toAnthropicMessages/toAnthropicTools/fromAnthropicMessage, adapted
// to emit/parse raw wire JSON instead of anthropic-go SDK structs.
type Anthropic struct {
	MaxTokens int // defaults to 4096 if zero, matching the teacher
}

type anthropicTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicToolUseBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type anthropicToolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anthropicRequest struct {
	Model       string                `json:"model"`
	Messages    []anthropicMessage    `json:"messages"`
	MaxTokens   int                   `json:"max_tokens"`
	Stream      bool                  `json:"stream"`
	System      []anthropicTextBlock  `json:"system,omitempty"`
	Temperature *float64              `json:"temperature,omitempty"`
	TopP        *float64              `json:"top_p,omitempty"`
	Tools       json.RawMessage       `json:"tools,omitempty"`
}

func (a Anthropic) TransformRequest(req chatmodel.ChatRequest) ([]byte, error) {
	maxTokens := a.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	msgs, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	out := anthropicRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.SystemPrompt != "" {
		out.System = []anthropicTextBlock{{Type: "text", Text: req.SystemPrompt}}
	}
	if len(req.Tools) > 0 {
		tools, err := a.TransformTools(req.Tools)
		if err != nil {
			return nil, err
		}
		out.Tools = tools
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, transformErr("marshal anthropic request: " + err.Error())
	}
	return b, nil
}

// toAnthropicMessages converts the canonical message list to
// Anthropic's shape: no distinct "tool" role (tool results travel as
// user-role tool_result blocks), and assistant tool calls become
// tool_use content blocks.
func toAnthropicMessages(messages []chatmodel.Message) ([]anthropicMessage, error) {
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case chatmodel.RoleUser:
			blocks := []anthropicTextBlock{{Type: "text", Text: m.Content.String()}}
			b, err := json.Marshal(blocks)
			if err != nil {
				return nil, transformErr("marshal user blocks: " + err.Error())
			}
			out = append(out, anthropicMessage{Role: "user", Content: b})

		case chatmodel.RoleTool:
			blocks := []anthropicToolResultBlock{{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content.String(),
			}}
			b, err := json.Marshal(blocks)
			if err != nil {
				return nil, transformErr("marshal tool result block: " + err.Error())
			}
			out = append(out, anthropicMessage{Role: "user", Content: b})

		case chatmodel.RoleAssistant:
			var raw []json.RawMessage
			if m.Content.Text != "" {
				tb, err := json.Marshal(anthropicTextBlock{Type: "text", Text: m.Content.Text})
				if err != nil {
					return nil, transformErr("marshal assistant text block: " + err.Error())
				}
				raw = append(raw, tb)
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Arguments)
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				ub, err := json.Marshal(anthropicToolUseBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
				if err != nil {
					return nil, transformErr("marshal tool_use block: " + err.Error())
				}
				raw = append(raw, ub)
			}
			b, err := json.Marshal(raw)
			if err != nil {
				return nil, transformErr("marshal assistant blocks: " + err.Error())
			}
			out = append(out, anthropicMessage{Role: "assistant", Content: b})
		}
	}
	return out, nil
}

func (Anthropic) TransformTools(tools []chatmodel.ToolDefinition) (json.RawMessage, error) {
	type wireTool struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description,omitempty"`
		InputSchema map[string]interface{} `json:"input_schema"`
	}
	out := make([]wireTool, len(tools))
	for i, t := range tools {
		out[i] = wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.JSONSchema(),
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, transformErr("marshal anthropic tools: " + err.Error())
	}
	return b, nil
}

// anthropicStreamEvent covers the subset of server-sent event bodies
// this runtime normalizes: content_block_start/delta/stop and
// message_delta/message_stop. Anthropic's SSE framing also sends an
// "event:" line per event; the provider only forwards the "data:"
// payload lines to ParseStreamChunk, so disambiguation here relies on
// the JSON body's own "type" field, which Anthropic always includes.
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`

	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`

	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`

	Message *struct {
		Model string `json:"model"`
	} `json:"message"`
}

func mapAnthropicStopReason(r string) chatmodel.FinishReason {
	switch r {
	case "max_tokens":
		return chatmodel.FinishLength
	case "tool_use":
		return chatmodel.FinishToolCalls
	default:
		return chatmodel.FinishStop
	}
}

func (Anthropic) ParseStreamChunk(line []byte) (*chatmodel.Chunk, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var evt anthropicStreamEvent
	if err := json.Unmarshal(trimmed, &evt); err != nil {
		return nil, transformErr("parse anthropic stream event: " + err.Error())
	}

	switch evt.Type {
	case "message_start":
		if evt.Message != nil && evt.Message.Model != "" {
			c := chatmodel.StartChunk(evt.Message.Model)
			return &c, nil
		}
		return nil, nil

	case "content_block_start":
		if evt.ContentBlock != nil && evt.ContentBlock.Type == "tool_use" {
			c := chatmodel.ToolCallStartChunkAt(evt.Index, evt.ContentBlock.ID, evt.ContentBlock.Name)
			return &c, nil
		}
		return nil, nil

	case "content_block_delta":
		if evt.Delta == nil {
			return nil, nil
		}
		switch evt.Delta.Type {
		case "text_delta":
			c := chatmodel.ContentChunk(evt.Delta.Text)
			return &c, nil
		case "input_json_delta":
			c := chatmodel.ToolCallDeltaChunkAt(evt.Index, "", evt.Delta.PartialJSON)
			return &c, nil
		}
		return nil, nil

	case "content_block_stop":
		// Anthropic emits this for every content block, not only
		// tool_use ones; the aggregator ignores an End chunk whose
		// index never had a Start, so it's safe to always emit one
		// here rather than tracking each block's type across events.
		c := chatmodel.ToolCallEndChunkAt(evt.Index)
		return &c, nil

	case "message_delta":
		if evt.Delta != nil && evt.Delta.StopReason != "" {
			c := chatmodel.FinishChunk(mapAnthropicStopReason(evt.Delta.StopReason))
			return &c, nil
		}
		if evt.Usage != nil {
			c := chatmodel.UsageChunk(chatmodel.Usage{
				InputTokens:  evt.Usage.InputTokens,
				OutputTokens: evt.Usage.OutputTokens,
			})
			return &c, nil
		}
		return nil, nil

	case "message_stop":
		return nil, nil

	default:
		return nil, nil
	}
}
