// SPDX-License-Identifier: AGPL-3.0-only

// Package chatmodel holds the canonical, provider-agnostic types
// shared by the transformer, provider, agent loop, event bus, and
// session store: Message, ToolCall, ToolDefinition, ToolResult,
// Chunk, Event, Session, and Skill. Grounded on bamboo-core's
// types/{content,message,tool}.rs and chat/chunk.rs, which carry the
// richest (canonical) version of these shapes across the retrieved
// original source, generalized into the teacher's flatter
// ToolDefinition/Message/ToolCall style (internal/agent/provider.go)
// rather than translated literally.
package chatmodel

// Role is the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentPart is one piece of a multipart message body.
type ContentPart struct {
	Type string `json:"type"` // "text" | "image"

	// Text is set when Type == "text".
	Text string `json:"text,omitempty"`

	// Image fields are set when Type == "image". Exactly one of
	// ImageURL or ImageData+ImageMIME is populated.
	ImageURL  string `json:"image_url,omitempty"`
	ImageMIME string `json:"image_mime,omitempty"`
	ImageData string `json:"image_data,omitempty"` // base64, no surrounding whitespace
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImageURLPart builds an image content part backed by a remote URL.
func ImageURLPart(url string) ContentPart {
	return ContentPart{Type: "image", ImageURL: url}
}

// ImageDataPart builds an image content part backed by inline base64
// data. data must already be free of whitespace; callers that decode
// from a wire payload are responsible for stripping it before calling
// this constructor (see transformer.DataURI for the encode side,
// which never introduces whitespace in the first place).
func ImageDataPart(mime, data string) ContentPart {
	return ContentPart{Type: "image", ImageMIME: mime, ImageData: data}
}

// Content is a Message body: either plain text or an ordered list of
// parts. Exactly one of Text or Parts is meaningful at a time.
type Content struct {
	Text  string
	Parts []ContentPart
}

// TextContent wraps a plain string body.
func TextContent(text string) Content { return Content{Text: text} }

// MultipartContent wraps an ordered list of content parts.
func MultipartContent(parts ...ContentPart) Content { return Content{Parts: parts} }

// IsMultipart reports whether this content carries structured parts
// rather than a single text string.
func (c Content) IsMultipart() bool { return len(c.Parts) > 0 }

// String renders the content as plain text, concatenating any text
// parts and describing non-text parts with a placeholder. Used for
// the tool-result envelope and for log lines; never used to build a
// wire request (the transformer handles that distinction itself).
func (c Content) String() string {
	if !c.IsMultipart() {
		return c.Text
	}
	out := ""
	for _, p := range c.Parts {
		switch p.Type {
		case "text":
			out += p.Text
		case "image":
			out += "[image]"
		}
	}
	return out
}
