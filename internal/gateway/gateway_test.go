// SPDX-License-Identifier: AGPL-3.0-only
package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bigduu/Bamboo/internal/chatmodel"
	"github.com/bigduu/Bamboo/internal/eventbus"
	"github.com/bigduu/Bamboo/internal/runstate"
	"github.com/bigduu/Bamboo/internal/sessionstore"
)

func newTestHandler(t *testing.T, heartbeat time.Duration) (*Handler, *eventbus.Bus) {
	t.Helper()
	store := sessionstore.New(t.TempDir(), 8, nil)
	bus := eventbus.New(16)
	runs := runstate.New(runstate.CancelPrior)
	return New(store, bus, runs, nil, heartbeat), bus
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestConnectCreatesSessionAndRepliesConnected(t *testing.T) {
	h, _ := newTestHandler(t, time.Hour)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	conn.WriteJSON(ClientMessage{Type: ClientConnect})

	msg := readMessage(t, conn)
	if msg.Type != ServerConnected {
		t.Fatalf("expected connected message, got %+v", msg)
	}
	if msg.SessionID == "" {
		t.Fatal("expected a generated session id")
	}
}

func TestConnectResumesNamedSession(t *testing.T) {
	h, _ := newTestHandler(t, time.Hour)
	sess := chatmodel.NewSession("user-1")
	if err := h.Store.Create(sess); err != nil {
		t.Fatalf("Create: %v", err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	conn.WriteJSON(ClientMessage{Type: ClientConnect, SessionID: sess.ID})

	msg := readMessage(t, conn)
	if msg.SessionID != sess.ID {
		t.Fatalf("SessionID = %q, want %q", msg.SessionID, sess.ID)
	}
}

func TestPingRepliesImmediatelyWithPong(t *testing.T) {
	h, _ := newTestHandler(t, time.Hour)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	conn.WriteJSON(ClientMessage{Type: ClientPing})

	msg := readMessage(t, conn)
	if msg.Type != ServerPong {
		t.Fatalf("expected pong, got %+v", msg)
	}
}

func TestChatBeforeConnectReturnsError(t *testing.T) {
	h, _ := newTestHandler(t, time.Hour)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	conn.WriteJSON(ClientMessage{Type: ClientChat, Content: "hi"})

	msg := readMessage(t, conn)
	if msg.Type != ServerError {
		t.Fatalf("expected error, got %+v", msg)
	}
}

func TestChatPublishesChatRequestEventForConnectedSession(t *testing.T) {
	h, bus := newTestHandler(t, time.Hour)
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	conn.WriteJSON(ClientMessage{Type: ClientConnect})
	connected := readMessage(t, conn)

	conn.WriteJSON(ClientMessage{Type: ClientChat, Content: "hello there"})

	select {
	case ev := <-sub.Events:
		if ev.Kind != chatmodel.EventChatRequest || ev.Content != "hello there" || ev.SessionID != connected.SessionID {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if ev.ReplyTo.Kind != chatmodel.ReplyWebSocket || ev.ReplyTo.SessionID != connected.SessionID {
			t.Fatalf("unexpected reply_to: %+v", ev.ReplyTo)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for chat_request event")
	}
}

func TestChatResponseEventIsForwardedAsAgentToken(t *testing.T) {
	h, bus := newTestHandler(t, time.Hour)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	conn.WriteJSON(ClientMessage{Type: ClientConnect})
	connected := readMessage(t, conn)

	// give the fanout goroutine time to subscribe
	time.Sleep(50 * time.Millisecond)
	bus.Publish(chatmodel.ChatResponseEvent(connected.SessionID, chatmodel.ContentChunk("partial reply")))

	msg := readMessage(t, conn)
	if msg.Type != ServerAgentToken || msg.Content != "partial reply" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestSecondConnectToSameSessionDisplacesFirstSocket(t *testing.T) {
	h, _ := newTestHandler(t, time.Hour)
	srv := httptest.NewServer(h)
	defer srv.Close()

	first := dial(t, srv)
	first.WriteJSON(ClientMessage{Type: ClientConnect})
	connected := readMessage(t, first)

	second := dial(t, srv)
	second.WriteJSON(ClientMessage{Type: ClientConnect, SessionID: connected.SessionID})
	secondConnected := readMessage(t, second)
	if secondConnected.Type != ServerConnected || secondConnected.SessionID != connected.SessionID {
		t.Fatalf("expected the second socket to connect to the same session, got %+v", secondConnected)
	}

	first.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := first.ReadMessage()
	if err != nil {
		t.Fatalf("expected the displaced socket to receive a message before closing: %v", err)
	}
	var displaced ServerMessage
	if err := json.Unmarshal(data, &displaced); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if displaced.Type != ServerError || !strings.Contains(displaced.Message, "session_busy") {
		t.Fatalf("expected a session_busy error on the displaced socket, got %+v", displaced)
	}

	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatal("expected the displaced socket's connection to be closed")
	}
}

func TestUnknownMessageTypeReturnsError(t *testing.T) {
	h, _ := newTestHandler(t, time.Hour)
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	conn.WriteJSON(ClientMessage{Type: "bogus"})

	msg := readMessage(t, conn)
	if msg.Type != ServerError {
		t.Fatalf("expected error, got %+v", msg)
	}
}
