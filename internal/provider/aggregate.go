// SPDX-License-Identifier: AGPL-3.0-only
package provider

import (
	"encoding/json"
	"strings"

	"github.com/bigduu/Bamboo/internal/apperrors"
	"github.com/bigduu/Bamboo/internal/chatmodel"
)

// Aggregator consolidates a chunk stream into a full assistant
// Message, per §4.3's chunk aggregation contract. It is exported
// separately from AggregateChunks so the agent loop's Streaming state
// can feed it chunks one at a time while also forwarding each chunk
// to its own caller.
type Aggregator struct {
	message chatmodel.Message
	usage   *chatmodel.Usage
	finish  chatmodel.FinishReason

	order    []string // tool call keys, in start order
	calls    map[string]*chatmodel.ToolCall
	args     map[string]*strings.Builder
	invalid  map[string]bool // keys whose accumulated arguments failed to parse as JSON
	keyByIdx map[int]string  // tool_call_index -> key, recorded at start, for id-less continuation deltas
}

// NewAggregator builds an empty aggregator for a new assistant turn.
func NewAggregator() *Aggregator {
	return &Aggregator{
		message:  chatmodel.Message{Role: chatmodel.RoleAssistant},
		calls:    map[string]*chatmodel.ToolCall{},
		args:     map[string]*strings.Builder{},
		invalid:  map[string]bool{},
		keyByIdx: map[int]string{},
	}
}

// Feed applies one chunk to the in-progress aggregation. It returns
// true once a Finish chunk has been observed (the caller should stop
// feeding further chunks).
func (a *Aggregator) Feed(c chatmodel.Chunk) bool {
	switch c.Kind {
	case chatmodel.ChunkContent:
		a.message.Content.Text += c.Text

	case chatmodel.ChunkToolCallStart:
		key := toolKey(c)
		a.keyByIdx[c.ToolCallIndex] = key
		a.order = append(a.order, key)
		a.calls[key] = &chatmodel.ToolCall{ID: c.ToolCallID, Name: c.ToolCallName}
		a.args[key] = &strings.Builder{}

	case chatmodel.ChunkToolCallDelta:
		key := a.resolveKey(c)
		b, ok := a.args[key]
		if !ok {
			b = &strings.Builder{}
			a.args[key] = b
			a.order = append(a.order, key)
			a.calls[key] = &chatmodel.ToolCall{ID: c.ToolCallID}
		}
		b.WriteString(c.ArgsDelta)
		if c.ToolCallID != "" && a.calls[key].ID == "" {
			a.calls[key].ID = c.ToolCallID
		}

	case chatmodel.ChunkToolCallEnd:
		a.finalize(a.resolveKey(c))

	case chatmodel.ChunkUsage:
		a.usage = c.Usage

	case chatmodel.ChunkFinish:
		for _, key := range a.order {
			a.finalize(key)
		}
		a.finish = c.FinishReason
		return true
	}
	return false
}

// finalize copies the argument bytes accumulated for key into its
// ToolCall, if that hasn't already happened. OpenAI's transformer never
// emits a ChunkToolCallEnd (a call's completion shows only in
// finish_reason, which arrives as a Finish chunk); Anthropic's turns
// each content_block_stop into an index-only ChunkToolCallEnd. The
// loop in the ChunkFinish case above finalizes whatever is still open,
// and finalize is idempotent, so a call reached by both paths is
// finalized once.
func (a *Aggregator) finalize(key string) {
	tc := a.calls[key]
	b, ok := a.args[key]
	if tc == nil || !ok || tc.Arguments != "" {
		return
	}
	raw := b.String()
	if raw == "" {
		raw = "{}"
	}
	if !json.Valid([]byte(raw)) {
		a.invalid[key] = true
	}
	tc.Arguments = raw
}

// toolKey derives the aggregation key for a start chunk, which always
// carries an id.
func toolKey(c chatmodel.Chunk) string {
	if c.ToolCallID != "" {
		return c.ToolCallID
	}
	return "idx:" + itoa(c.ToolCallIndex)
}

// resolveKey correlates a delta/end chunk to the key its start chunk
// was recorded under: the id when present, otherwise the key
// previously recorded for this chunk's index (OpenAI's id-less
// continuation deltas), falling back to a fresh index-derived key if
// no start was observed for this index.
func (a *Aggregator) resolveKey(c chatmodel.Chunk) string {
	if c.ToolCallID != "" {
		return c.ToolCallID
	}
	if key, ok := a.keyByIdx[c.ToolCallIndex]; ok {
		return key
	}
	return "idx:" + itoa(c.ToolCallIndex)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var b []byte
	for i > 0 {
		b = append([]byte{byte('0' + i%10)}, b...)
		i /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

// Result finalizes the aggregation into a ChatResponse. Calls not
// already finalized by a Finish or End chunk (a stream that closes
// mid-call) are finalized here from whatever arguments accumulated.
func (a *Aggregator) Result() *chatmodel.ChatResponse {
	for _, key := range a.order {
		a.finalize(key)
		if tc := a.calls[key]; tc != nil {
			a.message.ToolCalls = append(a.message.ToolCalls, *tc)
		}
	}
	return &chatmodel.ChatResponse{
		Message:      a.message,
		Usage:        a.usage,
		FinishReason: a.finish,
	}
}

// InvalidToolCalls reports how many accumulated tool-call argument
// strings failed to parse as JSON; the tool executor will surface
// these as ordinary argument-validation failures when it unmarshals
// them, so this is exposed only for logging.
func (a *Aggregator) InvalidToolCalls() int { return len(a.invalid) }

// AggregateChunks drains ch to completion and returns the resulting
// ChatResponse. An ErrorChunk observed mid-stream is surfaced as a
// StreamError.
func AggregateChunks(ch <-chan chatmodel.Chunk) (*chatmodel.ChatResponse, error) {
	agg := NewAggregator()
	for c := range ch {
		if c.Kind == chatmodel.ChunkError {
			return nil, &apperrors.StreamError{Reason: c.Message}
		}
		if agg.Feed(c) {
			break
		}
	}
	return agg.Result(), nil
}
