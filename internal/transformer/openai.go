// SPDX-License-Identifier: AGPL-3.0-only
package transformer

import (
	"bytes"
	"encoding/json"

	"github.com/bigduu/Bamboo/internal/chatmodel"
)

// OpenAI implements Transformer for the OpenAI chat-completions wire
// format, and for any OpenAI-compatible endpoint (Ollama, vLLM, Groq,
// LiteLLM, ...) reached through the same shape.
type OpenAI struct{}

type openAIMessage struct {
	Role       string              `json:"role"`
	Content    interface{}         `json:"content,omitempty"`
	ToolCalls  []openAIToolCallOut `json:"tool_calls,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
}

type openAIToolCallOut struct {
	ID       string                `json:"id"`
	Type     string                `json:"type"`
	Function openAIFunctionCallOut `json:"function"`
}

type openAIFunctionCallOut struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIContentPart struct {
	Type     string              `json:"type"`
	Text     string              `json:"text,omitempty"`
	ImageURL *openAIImageURLPart `json:"image_url,omitempty"`
}

type openAIImageURLPart struct {
	URL string `json:"url"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Stream      bool            `json:"stream"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Tools       json.RawMessage `json:"tools,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

func (OpenAI) TransformRequest(req chatmodel.ChatRequest) ([]byte, error) {
	msgs := make([]openAIMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openAIMessage{Role: string(chatmodel.RoleSystem), Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, toOpenAIMessage(m))
	}

	out := openAIRequest{
		Model:       req.Model,
		Messages:    msgs,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	}
	if req.ResponseFormat != "" {
		out.ResponseFormat = &openAIResponseFormat{Type: req.ResponseFormat}
	}
	if len(req.Tools) > 0 {
		tools, err := OpenAI{}.TransformTools(req.Tools)
		if err != nil {
			return nil, err
		}
		out.Tools = tools
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, transformErr("marshal openai request: " + err.Error())
	}
	return b, nil
}

func toOpenAIMessage(m chatmodel.Message) openAIMessage {
	out := openAIMessage{Role: string(m.Role), ToolCallID: m.ToolCallID}

	if m.Content.IsMultipart() {
		parts := make([]openAIContentPart, 0, len(m.Content.Parts))
		for _, p := range m.Content.Parts {
			switch p.Type {
			case "text":
				parts = append(parts, openAIContentPart{Type: "text", Text: p.Text})
			case "image":
				url := p.ImageURL
				if url == "" {
					url = DataURI(p.ImageMIME, p.ImageData)
				}
				parts = append(parts, openAIContentPart{Type: "image_url", ImageURL: &openAIImageURLPart{URL: url}})
			}
		}
		out.Content = parts
	} else if m.Content.Text != "" || len(m.ToolCalls) == 0 {
		out.Content = m.Content.Text
	}

	if len(m.ToolCalls) > 0 {
		out.ToolCalls = make([]openAIToolCallOut, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = openAIToolCallOut{
				ID:   tc.ID,
				Type: "function",
				Function: openAIFunctionCallOut{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			}
		}
	}
	return out
}

func (OpenAI) TransformTools(tools []chatmodel.ToolDefinition) (json.RawMessage, error) {
	type fn struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description,omitempty"`
		Parameters  map[string]interface{} `json:"parameters"`
	}
	type wireTool struct {
		Type     string `json:"type"`
		Function fn     `json:"function"`
	}
	out := make([]wireTool, len(tools))
	for i, t := range tools {
		out[i] = wireTool{
			Type: "function",
			Function: fn{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.JSONSchema(),
			},
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, transformErr("marshal openai tools: " + err.Error())
	}
	return b, nil
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string                `json:"content"`
			ToolCalls []openAIToolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type openAIToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func mapOpenAIFinishReason(r string) chatmodel.FinishReason {
	switch r {
	case "length":
		return chatmodel.FinishLength
	case "tool_calls":
		return chatmodel.FinishToolCalls
	case "content_filter":
		return chatmodel.FinishContentFilter
	default:
		return chatmodel.FinishStop
	}
}

func (OpenAI) ParseStreamChunk(line []byte) (*chatmodel.Chunk, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if string(trimmed) == "[DONE]" {
		c := chatmodel.FinishChunk(chatmodel.FinishStop)
		return &c, nil
	}

	var wire openAIStreamChunk
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, transformErr("parse openai stream chunk: " + err.Error())
	}

	if len(wire.Choices) == 0 {
		if wire.Usage != nil {
			c := chatmodel.UsageChunk(chatmodel.Usage{
				InputTokens:  wire.Usage.PromptTokens,
				OutputTokens: wire.Usage.CompletionTokens,
			})
			return &c, nil
		}
		return nil, nil
	}

	choice := wire.Choices[0]

	if choice.FinishReason != "" {
		c := chatmodel.FinishChunk(mapOpenAIFinishReason(choice.FinishReason))
		return &c, nil
	}

	if len(choice.Delta.ToolCalls) > 0 {
		tc := choice.Delta.ToolCalls[0]
		if tc.Function.Name != "" {
			c := chatmodel.ToolCallStartChunkAt(tc.Index, tc.ID, tc.Function.Name)
			return &c, nil
		}
		if tc.Function.Arguments != "" {
			c := chatmodel.ToolCallDeltaChunkAt(tc.Index, tc.ID, tc.Function.Arguments)
			return &c, nil
		}
		return nil, nil
	}

	if choice.Delta.Content != "" {
		c := chatmodel.ContentChunk(choice.Delta.Content)
		return &c, nil
	}

	if wire.Model != "" {
		c := chatmodel.StartChunk(wire.Model)
		return &c, nil
	}

	return nil, nil
}
