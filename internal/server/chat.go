// SPDX-License-Identifier: AGPL-3.0-only
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigduu/Bamboo/internal/apperrors"
	"github.com/bigduu/Bamboo/internal/chatmodel"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func statusForErr(w http.ResponseWriter, err error) {
	writeError(w, apperrors.HTTPStatus(err), err.Error())
}

type chatRequestBody struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

type chatResponseBody struct {
	SessionID string `json:"session_id"`
	StreamURL string `json:"stream_url"`
}

// postChat resolves or creates a session, appends one user message by
// publishing a chat_request event with a WebSocket-shaped reply
// (session-scoped broadcast, not this request's own connection), and
// returns immediately with the URL the caller should open to observe
// the run.
func (s *Server) postChat(w http.ResponseWriter, r *http.Request) {
	var body chatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sess, err := s.resolveOrCreateSession(body.SessionID)
	if err != nil {
		statusForErr(w, err)
		return
	}

	s.Bus.Publish(chatmodel.ChatRequestEvent(sess.ID, body.Message, chatmodel.WebSocketReply(sess.ID)))

	writeJSON(w, http.StatusAccepted, chatResponseBody{
		SessionID: sess.ID,
		StreamURL: "/stream/" + sess.ID,
	})
}

func (s *Server) resolveOrCreateSession(sessionID string) (*chatmodel.Session, error) {
	if sessionID != "" {
		if sess, err := s.Store.Get(sessionID); err == nil {
			return sess, nil
		}
	}
	sess := chatmodel.NewSession("")
	if sessionID != "" {
		sess.ID = sessionID
	}
	if err := s.Store.Create(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// getStream serves an SSE feed of chat_response chunks for one
// session, terminating the response (without closing the session)
// once a Finish or Error chunk is observed or the client disconnects.
func (s *Server) getStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.Bus.Subscribe()
	defer sub.Unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if ev.Kind != chatmodel.EventChatResponse || ev.SessionID != sessionID || ev.Chunk == nil {
				continue
			}
			data, err := json.Marshal(ev.Chunk)
			if err != nil {
				continue
			}
			w.Write([]byte("data: "))
			w.Write(data)
			w.Write([]byte("\n\n"))
			flusher.Flush()
			if ev.Chunk.Kind == chatmodel.ChunkFinish || ev.Chunk.Kind == chatmodel.ChunkError {
				return
			}
		}
	}
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	sess, err := s.Store.Get(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.Messages)
}

func (s *Server) postStop(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if !s.Runs.Cancel(sessionID) {
		writeError(w, http.StatusNotFound, "no active run for session "+sessionID)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}
