// SPDX-License-Identifier: AGPL-3.0-only
package chatmodel

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a Session.
type SessionState string

const (
	SessionActive  SessionState = "active"
	SessionIdle    SessionState = "idle"
	SessionClosed  SessionState = "closed"
	SessionExpired SessionState = "expired"
)

// Session is the canonical conversation container: its own id, an
// ordered message list, and lifecycle timestamps. The "connection
// slot" and "resumable event queue" called out in §3 are not fields
// here; they are runtime concerns owned by internal/runstate and
// internal/gateway respectively, keyed by this Session's ID.
type Session struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id,omitempty"`
	State        SessionState           `json:"state"`
	Messages     []Message              `json:"messages"`
	CreatedAt    time.Time              `json:"created_at"`
	LastActivity time.Time              `json:"last_activity"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// NewSession creates an empty, active session with a fresh id.
func NewSession(userID string) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		State:        SessionActive,
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Append adds a message to the session and bumps LastActivity. Per
// the append-only invariant (§3.b), callers must not otherwise mutate
// Messages except for in-place accumulation of the single in-flight
// assistant message during streaming.
func (s *Session) Append(m Message) {
	s.Messages = append(s.Messages, m)
	s.LastActivity = time.Now()
}

// LastAssistantToolCalls returns the tool calls on the most recent
// assistant message, used to validate a tool-role message's
// ToolCallID per invariant (a).
func (s *Session) LastAssistantToolCalls() []ToolCall {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i].ToolCalls
		}
	}
	return nil
}

// IdleFor reports how long the session has been without activity.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}
