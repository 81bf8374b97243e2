// SPDX-License-Identifier: AGPL-3.0-only
package chatmodel

import "testing"

func TestNewToolResultMessage_Success(t *testing.T) {
	msg := NewToolResultMessage("call_1", SuccessResult("hi", 12))
	if msg.Role != RoleTool {
		t.Errorf("expected tool role, got %s", msg.Role)
	}
	if msg.ToolCallID != "call_1" {
		t.Errorf("expected tool_call_id call_1, got %s", msg.ToolCallID)
	}
	if msg.Content.String() != "hi" {
		t.Errorf("expected content 'hi', got %q", msg.Content.String())
	}
}

func TestNewToolResultMessage_Failure(t *testing.T) {
	msg := NewToolResultMessage("call_2", FailureResult("boom", 5))
	if msg.Content.String() != "error: boom" {
		t.Errorf("expected 'error: boom', got %q", msg.Content.String())
	}
}

func TestContentStringMultipart(t *testing.T) {
	c := MultipartContent(TextPart("hello "), ImageURLPart("http://x/y.png"), TextPart("world"))
	if got := c.String(); got != "hello [image]world" {
		t.Errorf("unexpected multipart string rendering: %q", got)
	}
}

func TestSessionAppendAndLastAssistantToolCalls(t *testing.T) {
	s := NewSession("u1")
	s.Append(NewMessage(RoleUser, "hi"))

	asst := Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Name: "echo"}}}
	s.Append(asst)

	calls := s.LastAssistantToolCalls()
	if len(calls) != 1 || calls[0].ID != "call_1" {
		t.Errorf("expected to find call_1 on last assistant message, got %+v", calls)
	}
}

func TestArgTypeMatches(t *testing.T) {
	if !ArgString.Matches("x") {
		t.Error("expected string arg type to match a string value")
	}
	if ArgString.Matches(1.0) {
		t.Error("expected string arg type not to match a number value")
	}
	if !ArgNumber.Matches(3.14) {
		t.Error("expected number arg type to match a float64 value")
	}
}
