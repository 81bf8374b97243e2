// SPDX-License-Identifier: AGPL-3.0-only
package agentloop

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bigduu/Bamboo/internal/authn"
	"github.com/bigduu/Bamboo/internal/chatmodel"
	"github.com/bigduu/Bamboo/internal/provider"
	"github.com/bigduu/Bamboo/internal/transformer"
)

// sseServer serves a fixed sequence of SSE data lines to every
// request in order, cycling back to the start once exhausted so a
// multi-round test can hit it more than once.
func sseServer(t *testing.T, rounds [][]string) *httptest.Server {
	t.Helper()
	call := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		idx := call
		if idx >= len(rounds) {
			idx = len(rounds) - 1
		}
		call++
		for _, line := range rounds[idx] {
			w.Write([]byte(line))
			if flusher != nil {
				flusher.Flush()
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type stubRegistry struct {
	tools   map[string]chatmodel.ToolDefinition
	dirs    map[string]string
	prompts []string
}

func (r *stubRegistry) Tools() map[string]chatmodel.ToolDefinition { return r.tools }
func (r *stubRegistry) SystemPrompts() []string                    { return r.prompts }
func (r *stubRegistry) SkillDirForTool(name string) (string, bool) {
	dir, ok := r.dirs[name]
	return dir, ok
}

type stubExecutor struct {
	calls   []string
	result  *chatmodel.ToolResult
	err     error
}

func (e *stubExecutor) Execute(ctx context.Context, def chatmodel.ToolDefinition, skillDir string, args map[string]interface{}) (*chatmodel.ToolResult, error) {
	e.calls = append(e.calls, def.Name)
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

func newTestLoop(srv *httptest.Server, registry ToolRegistry, executor ToolExecutor) *Loop {
	p := provider.New(provider.Config{BaseURL: srv.URL}, transformer.OpenAI{}, authn.None{})
	return New(p, registry, executor, nil)
}

func drain(t *testing.T, ch <-chan chatmodel.Chunk) []chatmodel.Chunk {
	t.Helper()
	var chunks []chatmodel.Chunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return chunks
			}
			chunks = append(chunks, c)
		case <-timeout:
			t.Fatal("timed out draining chunk stream")
		}
	}
}

func TestRunReturnsAssistantReplyOnImmediateStop(t *testing.T) {
	srv := sseServer(t, [][]string{{
		"data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"hi there\"}}]}\n",
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n",
		"data: [DONE]\n",
	}})
	loop := newTestLoop(srv, &stubRegistry{tools: map[string]chatmodel.ToolDefinition{}}, &stubExecutor{})

	session := chatmodel.NewSession("user-1")
	ch, err := loop.Run(context.Background(), session, "hello", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	chunks := drain(t, ch)

	var sawFinish bool
	for _, c := range chunks {
		if c.Kind == chatmodel.ChunkFinish {
			sawFinish = true
			if c.FinishReason != chatmodel.FinishStop {
				t.Fatalf("finish reason = %q, want stop", c.FinishReason)
			}
		}
	}
	if !sawFinish {
		t.Fatal("expected a finish chunk")
	}

	if len(session.Messages) != 2 {
		t.Fatalf("expected 2 messages appended (user + assistant), got %d", len(session.Messages))
	}
	if session.Messages[1].Content.String() != "hi there" {
		t.Fatalf("assistant message = %q, want %q", session.Messages[1].Content.String(), "hi there")
	}
}

func TestRunDispatchesToolCallAndFeedsResultBack(t *testing.T) {
	srv := sseServer(t, [][]string{
		{
			"data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"type\":\"function\",\"function\":{\"name\":\"search\",\"arguments\":\"\"}}]}}]}\n",
			"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"{\\\"q\\\":\\\"weather\\\"}\"}}]}}]}\n",
			"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n",
			"data: [DONE]\n",
		},
		{
			"data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"done\"}}]}\n",
			"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n",
			"data: [DONE]\n",
		},
	})

	registry := &stubRegistry{
		tools: map[string]chatmodel.ToolDefinition{
			"search": {Name: "search"},
		},
		dirs: map[string]string{"search": "/skills/weather"},
	}
	executor := &stubExecutor{result: &chatmodel.ToolResult{Success: true, Output: "sunny"}}
	loop := newTestLoop(srv, registry, executor)

	session := chatmodel.NewSession("user-1")
	ch, err := loop.Run(context.Background(), session, "what's the weather", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	drain(t, ch)

	if len(executor.calls) != 1 || executor.calls[0] != "search" {
		t.Fatalf("expected exactly one call to search, got %v", executor.calls)
	}

	var toolMsg *chatmodel.Message
	for i := range session.Messages {
		if session.Messages[i].Role == chatmodel.RoleTool {
			toolMsg = &session.Messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("expected a tool-result message appended to the session")
	}
	if toolMsg.Content.String() != "sunny" {
		t.Fatalf("tool result content = %q, want %q", toolMsg.Content.String(), "sunny")
	}
}

func TestRunFailedToolCallEncodesErrorPrefix(t *testing.T) {
	srv := sseServer(t, [][]string{
		{
			"data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"type\":\"function\",\"function\":{\"name\":\"search\",\"arguments\":\"{}\"}}]}}]}\n",
			"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n",
			"data: [DONE]\n",
		},
		{
			"data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n",
			"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n",
			"data: [DONE]\n",
		},
	})

	registry := &stubRegistry{tools: map[string]chatmodel.ToolDefinition{"search": {Name: "search"}}}
	executor := &stubExecutor{result: &chatmodel.ToolResult{Success: false, Error: "not found"}}
	loop := newTestLoop(srv, registry, executor)

	session := chatmodel.NewSession("user-1")
	ch, _ := loop.Run(context.Background(), session, "search for x", Options{})
	drain(t, ch)

	var toolMsg *chatmodel.Message
	for i := range session.Messages {
		if session.Messages[i].Role == chatmodel.RoleTool {
			toolMsg = &session.Messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("expected a tool-result message")
	}
	if toolMsg.Content.String() != "error: not found" {
		t.Fatalf("tool result content = %q, want %q", toolMsg.Content.String(), "error: not found")
	}
}

func TestRunUnknownToolProducesErrorResultWithoutCallingExecutor(t *testing.T) {
	srv := sseServer(t, [][]string{
		{
			"data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"type\":\"function\",\"function\":{\"name\":\"ghost\",\"arguments\":\"{}\"}}]}}]}\n",
			"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n",
			"data: [DONE]\n",
		},
		{
			"data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n",
			"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n",
			"data: [DONE]\n",
		},
	})

	registry := &stubRegistry{tools: map[string]chatmodel.ToolDefinition{}}
	executor := &stubExecutor{}
	loop := newTestLoop(srv, registry, executor)

	session := chatmodel.NewSession("user-1")
	ch, _ := loop.Run(context.Background(), session, "call ghost", Options{})
	drain(t, ch)

	if len(executor.calls) != 0 {
		t.Fatalf("expected executor never called for an unknown tool, got %v", executor.calls)
	}
}

func TestRunStopsAtMaxRoundsWithLengthFinish(t *testing.T) {
	srv := sseServer(t, [][]string{
		{
			"data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_1\",\"type\":\"function\",\"function\":{\"name\":\"search\",\"arguments\":\"{}\"}}]}}]}\n",
			"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n",
			"data: [DONE]\n",
		},
	})

	registry := &stubRegistry{tools: map[string]chatmodel.ToolDefinition{"search": {Name: "search"}}}
	executor := &stubExecutor{result: &chatmodel.ToolResult{Success: true, Output: "again"}}
	loop := newTestLoop(srv, registry, executor)

	session := chatmodel.NewSession("user-1")
	ch, _ := loop.Run(context.Background(), session, "loop forever", Options{MaxRounds: 2, ToolBudget: 10})
	chunks := drain(t, ch)

	var last chatmodel.Chunk
	for _, c := range chunks {
		if c.Kind == chatmodel.ChunkFinish {
			last = c
		}
	}
	if last.FinishReason != chatmodel.FinishLength {
		t.Fatalf("finish reason = %q, want length", last.FinishReason)
	}
}

func TestRunCancelledContextEmitsCancelledFinish(t *testing.T) {
	srv := sseServer(t, [][]string{{
		"data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n",
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n",
		"data: [DONE]\n",
	}})
	loop := newTestLoop(srv, &stubRegistry{tools: map[string]chatmodel.ToolDefinition{}}, &stubExecutor{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session := chatmodel.NewSession("user-1")
	ch, _ := loop.Run(ctx, session, "hello", Options{})
	chunks := drain(t, ch)

	if len(chunks) != 1 || chunks[0].Kind != chatmodel.ChunkFinish || chunks[0].FinishReason != chatmodel.FinishCancelled {
		t.Fatalf("expected a single cancelled finish chunk, got %v", chunks)
	}
}

// rateLimitedThenServer answers the first n requests with a 429 that
// carries a Retry-After header, then falls back to serving rounds like
// sseServer for every request after that.
func rateLimitedThenServer(t *testing.T, n int, retryAfter string, rounds [][]string) *httptest.Server {
	t.Helper()
	call := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if call < n {
			call++
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("rate limited"))
			return
		}
		idx := call - n
		if idx >= len(rounds) {
			idx = len(rounds) - 1
		}
		call++
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, line := range rounds[idx] {
			w.Write([]byte(line))
			if flusher != nil {
				flusher.Flush()
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunRetriesOnceAfterRateLimitThenSucceeds(t *testing.T) {
	srv := rateLimitedThenServer(t, 1, "0", [][]string{{
		"data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"hi there\"}}]}\n",
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n",
		"data: [DONE]\n",
	}})
	loop := newTestLoop(srv, &stubRegistry{tools: map[string]chatmodel.ToolDefinition{}}, &stubExecutor{})

	session := chatmodel.NewSession("user-1")
	ch, err := loop.Run(context.Background(), session, "hello", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	chunks := drain(t, ch)

	var last chatmodel.Chunk
	for _, c := range chunks {
		if c.Kind == chatmodel.ChunkFinish {
			last = c
		}
	}
	if last.FinishReason != chatmodel.FinishStop {
		t.Fatalf("finish reason = %q, want stop after the single retry succeeded", last.FinishReason)
	}
}

func TestRunSurfacesTerminalErrorWhenRetryAlsoFails(t *testing.T) {
	srv := rateLimitedThenServer(t, 2, "0", [][]string{{
		"data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"hi there\"}}]}\n",
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n",
		"data: [DONE]\n",
	}})
	loop := newTestLoop(srv, &stubRegistry{tools: map[string]chatmodel.ToolDefinition{}}, &stubExecutor{})

	session := chatmodel.NewSession("user-1")
	ch, err := loop.Run(context.Background(), session, "hello", Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	chunks := drain(t, ch)

	var sawError, sawFinishError bool
	for _, c := range chunks {
		if c.Kind == chatmodel.ChunkError {
			sawError = true
		}
		if c.Kind == chatmodel.ChunkFinish && c.FinishReason == chatmodel.FinishError {
			sawFinishError = true
		}
	}
	if !sawError || !sawFinishError {
		t.Fatalf("expected an error chunk and a terminal error finish after a second rate limit, got %v", chunks)
	}
}

func TestRunRetryAfterRateLimitWaitsApproximatelyRetryAfter(t *testing.T) {
	srv := rateLimitedThenServer(t, 1, "1", [][]string{{
		"data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n",
		"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n",
		"data: [DONE]\n",
	}})
	loop := newTestLoop(srv, &stubRegistry{tools: map[string]chatmodel.ToolDefinition{}}, &stubExecutor{})

	session := chatmodel.NewSession("user-1")
	start := time.Now()
	ch, _ := loop.Run(context.Background(), session, "hello", Options{})
	drain(t, ch)
	elapsed := time.Since(start)

	if elapsed < 900*time.Millisecond {
		t.Fatalf("expected the retry to wait out the Retry-After header (~1s), only waited %s", elapsed)
	}
}

func TestDecodeArgumentsEmptyStringYieldsEmptyMap(t *testing.T) {
	args, err := decodeArguments("")
	if err != nil {
		t.Fatalf("decodeArguments: %v", err)
	}
	if len(args) != 0 {
		t.Fatalf("expected empty map, got %v", args)
	}
}

func TestDecodeArgumentsRejectsInvalidJSON(t *testing.T) {
	if _, err := decodeArguments("{not json"); err == nil {
		t.Fatal("expected an error for invalid JSON arguments")
	}
}
