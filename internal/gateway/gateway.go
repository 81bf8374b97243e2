// SPDX-License-Identifier: AGPL-3.0-only

// Package gateway implements the WebSocket surface of §4.8/§6.2: one
// socket per session, a JSON ClientMessage/ServerMessage protocol, a
// server-driven Ping heartbeat (the original sends Pong as its
// heartbeat, a bug this package does not repeat, per §9), and
// disconnect retention — a session survives socket loss and a
// reconnect within the window attaches a new socket without losing
// state, since session state lives in internal/sessionstore rather
// than on the connection.
package gateway

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bigduu/Bamboo/internal/chatmodel"
	"github.com/bigduu/Bamboo/internal/eventbus"
	"github.com/bigduu/Bamboo/internal/logging"
	"github.com/bigduu/Bamboo/internal/runstate"
	"github.com/bigduu/Bamboo/internal/sessionstore"
)

// ClientMessageType discriminates the client->server message set.
type ClientMessageType string

const (
	ClientConnect ClientMessageType = "connect"
	ClientChat    ClientMessageType = "chat"
	ClientCommand ClientMessageType = "command"
	ClientPing    ClientMessageType = "ping"
)

// ClientMessage is the JSON envelope a socket sends. SessionID is
// only meaningful on Connect; a Chat/Command/Ping message applies to
// the session already bound to this socket.
type ClientMessage struct {
	Type      ClientMessageType `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	Content   string            `json:"content,omitempty"`
	Command   string            `json:"command,omitempty"`
	Args      map[string]string `json:"args,omitempty"`
}

// ServerMessageType discriminates the server->client message set.
type ServerMessageType string

const (
	ServerConnected         ServerMessageType = "connected"
	ServerAgentToken        ServerMessageType = "agent_token"
	ServerAgentToolStart    ServerMessageType = "agent_tool_start"
	ServerAgentToolComplete ServerMessageType = "agent_tool_complete"
	ServerAgentComplete     ServerMessageType = "agent_complete"
	ServerError             ServerMessageType = "error"
	ServerPong              ServerMessageType = "pong"
	ServerPing              ServerMessageType = "ping"
)

// ServerMessage is the JSON envelope written back to the socket.
type ServerMessage struct {
	Type      ServerMessageType `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	Content   string            `json:"content,omitempty"`
	ToolName  string            `json:"tool_name,omitempty"`
	Reason    string            `json:"finish_reason,omitempty"`
	Message   string            `json:"message,omitempty"`
}

// CommandRouter dispatches a Command client message. Kept narrow so
// the gateway doesn't depend on the scheduler or config packages
// directly.
type CommandRouter interface {
	RouteCommand(sessionID, command string, args map[string]string) (string, error)
}

// Handler upgrades HTTP requests to WebSocket connections and runs
// the per-socket read/write loop.
type Handler struct {
	Store    *sessionstore.Store
	Bus      *eventbus.Bus
	Runs     *runstate.Registry
	Commands CommandRouter

	HeartbeatInterval time.Duration

	upgrader websocket.Upgrader
	log      *logging.Logger

	slotsMu sync.Mutex
	slots   map[string]*connection
}

// New builds a Handler. heartbeat <= 0 uses a 30s default.
func New(store *sessionstore.Store, bus *eventbus.Bus, runs *runstate.Registry, commands CommandRouter, heartbeat time.Duration) *Handler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Handler{
		Store:             store,
		Bus:               bus,
		Runs:              runs,
		Commands:          commands,
		HeartbeatInterval: heartbeat,
		upgrader:          websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		log:               logging.GetDefaultLogger().WithField("component", "gateway"),
		slots:             map[string]*connection{},
	}
}

// bind claims the connection slot of §3's "at most one active
// streaming consumer" invariant for sessionID. If another socket
// already holds the slot, that socket is displaced: it receives a
// SessionBusy error and is closed before the new socket takes over,
// per Testable Scenario S3.
func (h *Handler) bind(sessionID string, c *connection) {
	h.slotsMu.Lock()
	prior := h.slots[sessionID]
	h.slots[sessionID] = c
	h.slotsMu.Unlock()

	if prior != nil && prior != c {
		prior.sendError("session_busy: displaced by a new connection")
		prior.conn.Close()
	}
}

// unbind releases sessionID's slot, but only if c still holds it — a
// socket displaced by bind must not evict the connection that
// replaced it when its own read loop unwinds afterward.
func (h *Handler) unbind(sessionID string, c *connection) {
	if sessionID == "" {
		return
	}
	h.slotsMu.Lock()
	defer h.slotsMu.Unlock()
	if h.slots[sessionID] == c {
		delete(h.slots, sessionID)
	}
}

// ServeHTTP upgrades the connection and blocks for the socket's
// lifetime.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("upgrade failed: %v", err)
		return
	}
	c := &connection{
		handler:  h,
		conn:     conn,
		writeMu:  sync.Mutex{},
		lastSeen: time.Now(),
	}
	c.run()
}

// connection is the per-socket state: one socket bound to at most one
// session, plus its own bus subscription for that session's replies.
type connection struct {
	handler *Handler
	conn    *websocket.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	sessionID string
	lastSeen  time.Time

	sub *eventbus.Subscription
}

func (c *connection) run() {
	defer c.close()

	stopHeartbeat := make(chan struct{})
	go c.heartbeatLoop(stopHeartbeat)
	defer close(stopHeartbeat)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.touch()

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("invalid message: " + err.Error())
			continue
		}
		c.handle(msg)
	}
}

func (c *connection) handle(msg ClientMessage) {
	switch msg.Type {
	case ClientConnect:
		c.handleConnect(msg)
	case ClientChat:
		c.handleChat(msg)
	case ClientCommand:
		c.handleCommand(msg)
	case ClientPing:
		c.send(ServerMessage{Type: ServerPong})
	default:
		c.sendError("unknown message type")
	}
}

// handleConnect creates a session if none was named, or resumes an
// existing one, per §4.8's "one socket per session, after an initial
// Connect handshake" contract. Disconnect retention falls out of this
// for free: a reconnect just sends Connect with the same session_id
// and picks the persisted session back up.
func (c *connection) handleConnect(msg ClientMessage) {
	if prior := c.currentSession(); prior != "" {
		c.handler.unbind(prior, c)
		if c.sub != nil {
			c.sub.Unsubscribe()
		}
	}

	sessionID := msg.SessionID
	var sess *chatmodel.Session
	if sessionID != "" {
		if existing, err := c.handler.Store.Get(sessionID); err == nil {
			sess = existing
		}
	}
	if sess == nil {
		sess = chatmodel.NewSession("")
		if sessionID != "" {
			sess.ID = sessionID
		}
		if err := c.handler.Store.Create(sess); err != nil {
			c.sendError("failed to create session: " + err.Error())
			return
		}
	}

	c.handler.bind(sess.ID, c)

	c.mu.Lock()
	c.sessionID = sess.ID
	c.mu.Unlock()

	c.sub = c.handler.Bus.Subscribe()
	go c.fanoutLoop(c.sub, sess.ID)

	c.send(ServerMessage{Type: ServerConnected, SessionID: sess.ID})
}

// fanoutLoop forwards every ChatResponse event for sessionID to the
// socket, until the subscription is closed.
func (c *connection) fanoutLoop(sub *eventbus.Subscription, sessionID string) {
	for ev := range sub.Events {
		if ev.Kind != chatmodel.EventChatResponse || ev.SessionID != sessionID || ev.Chunk == nil {
			continue
		}
		c.send(chunkToServerMessage(sessionID, *ev.Chunk))
	}
}

func chunkToServerMessage(sessionID string, chunk chatmodel.Chunk) ServerMessage {
	switch chunk.Kind {
	case chatmodel.ChunkContent:
		return ServerMessage{Type: ServerAgentToken, SessionID: sessionID, Content: chunk.Text}
	case chatmodel.ChunkToolCallStart:
		return ServerMessage{Type: ServerAgentToolStart, SessionID: sessionID, ToolName: chunk.ToolCallName}
	case chatmodel.ChunkToolCallEnd:
		return ServerMessage{Type: ServerAgentToolComplete, SessionID: sessionID, ToolName: chunk.ToolCallName}
	case chatmodel.ChunkFinish:
		return ServerMessage{Type: ServerAgentComplete, SessionID: sessionID, Reason: string(chunk.FinishReason)}
	case chatmodel.ChunkError:
		return ServerMessage{Type: ServerError, SessionID: sessionID, Message: chunk.Message}
	default:
		return ServerMessage{Type: ServerAgentToken, SessionID: sessionID}
	}
}

func (c *connection) handleChat(msg ClientMessage) {
	sessionID := c.currentSession()
	if sessionID == "" {
		c.sendError("must send connect before chat")
		return
	}
	c.handler.Bus.Publish(chatmodel.ChatRequestEvent(sessionID, msg.Content, chatmodel.WebSocketReply(sessionID)))
}

func (c *connection) handleCommand(msg ClientMessage) {
	sessionID := c.currentSession()
	if sessionID == "" {
		c.sendError("must send connect before command")
		return
	}
	if c.handler.Commands == nil {
		c.sendError("commands not supported")
		return
	}
	output, err := c.handler.Commands.RouteCommand(sessionID, msg.Command, msg.Args)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.send(ServerMessage{Type: ServerAgentComplete, SessionID: sessionID, Content: output})
}

func (c *connection) currentSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *connection) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *connection) idleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastSeen)
}

// heartbeatLoop emits a server-initiated Ping every interval and
// closes the connection if no client traffic (of any kind, including
// a client Ping) has been seen for 2x the interval — per §4.8's fix
// to the original's Pong-as-heartbeat bug.
func (c *connection) heartbeatLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.handler.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if c.idleFor() > 2*c.handler.HeartbeatInterval {
				c.conn.Close()
				return
			}
			c.send(ServerMessage{Type: ServerPing})
		}
	}
}

func (c *connection) send(msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *connection) sendError(message string) {
	c.send(ServerMessage{Type: ServerError, Message: message})
}

func (c *connection) close() {
	if sessionID := c.currentSession(); sessionID != "" {
		c.handler.unbind(sessionID, c)
	}
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
	c.conn.Close()
}
