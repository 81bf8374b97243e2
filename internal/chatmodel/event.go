// SPDX-License-Identifier: AGPL-3.0-only
package chatmodel

// ReplyKind distinguishes the two delivery destinations an agent run's
// chunks can be routed to.
type ReplyKind string

const (
	ReplyWebSocket ReplyKind = "websocket"
	ReplyHTTP      ReplyKind = "http"
)

// ReplyChannel is the explicit destination carried by a ChatRequest
// event, per §4.8: WebSocket(session_id) or Http(request_id).
type ReplyChannel struct {
	Kind      ReplyKind
	SessionID string // set when Kind == ReplyWebSocket
	RequestID string // set when Kind == ReplyHTTP
}

func WebSocketReply(sessionID string) ReplyChannel {
	return ReplyChannel{Kind: ReplyWebSocket, SessionID: sessionID}
}

func HTTPReply(requestID string) ReplyChannel {
	return ReplyChannel{Kind: ReplyHTTP, RequestID: requestID}
}

// EventKind tags the variant carried by an Event on the internal bus.
type EventKind string

const (
	EventChatRequest    EventKind = "chat_request"
	EventChatResponse   EventKind = "chat_response"
	EventToolInvoked    EventKind = "tool_invoked"
	EventSessionCreated EventKind = "session_created"
	EventSessionClosed  EventKind = "session_closed"
	EventConfigUpdated  EventKind = "config_updated"
	EventHTTPResponse   EventKind = "http_response"
)

// Event is the tagged union published on the event bus. Grounded on
// bamboo-server/src/event_bus.rs's event enum, flattened the same way
// Chunk is.
type Event struct {
	Kind      EventKind
	SessionID string

	Content string       // ChatRequest
	ReplyTo ReplyChannel // ChatRequest

	Chunk *Chunk // ChatResponse, HttpResponse

	Call *ToolCall // ToolInvoked

	Sections []string // ConfigUpdated
}

func ChatRequestEvent(sessionID, content string, replyTo ReplyChannel) Event {
	return Event{Kind: EventChatRequest, SessionID: sessionID, Content: content, ReplyTo: replyTo}
}

func ChatResponseEvent(sessionID string, c Chunk) Event {
	return Event{Kind: EventChatResponse, SessionID: sessionID, Chunk: &c}
}

func HTTPResponseEvent(sessionID string, c Chunk) Event {
	return Event{Kind: EventHTTPResponse, SessionID: sessionID, Chunk: &c}
}

func ToolInvokedEvent(sessionID string, call ToolCall) Event {
	return Event{Kind: EventToolInvoked, SessionID: sessionID, Call: &call}
}

func SessionCreatedEvent(sessionID string) Event {
	return Event{Kind: EventSessionCreated, SessionID: sessionID}
}

func SessionClosedEvent(sessionID string) Event {
	return Event{Kind: EventSessionClosed, SessionID: sessionID}
}

func ConfigUpdatedEvent(sections []string) Event {
	return Event{Kind: EventConfigUpdated, Sections: sections}
}
