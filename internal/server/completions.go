// SPDX-License-Identifier: AGPL-3.0-only
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/bigduu/Bamboo/internal/chatmodel"
)

// resultSink is the eventbus.HTTPSink for one in-flight completions
// request: every chunk the dispatcher routes for this request's
// RequestID lands on ch, read back out by the handler goroutine that
// registered it.
type resultSink struct {
	ch chan chatmodel.Chunk
}

func newResultSink() *resultSink {
	return &resultSink{ch: make(chan chatmodel.Chunk, 32)}
}

func (s *resultSink) Send(c chatmodel.Chunk) { s.ch <- c }

type completionsMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionsRequest struct {
	Model    string               `json:"model"`
	Messages []completionsMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
}

type completionsChoice struct {
	Index        int                `json:"index"`
	Message      completionsMessage `json:"message"`
	FinishReason string             `json:"finish_reason"`
}

type completionsResponse struct {
	ID      string              `json:"id"`
	Object  string              `json:"object"`
	Created int64               `json:"created"`
	Model   string              `json:"model"`
	Choices []completionsChoice `json:"choices"`
}

type completionsDelta struct {
	Content string `json:"content,omitempty"`
}

type completionsStreamChoice struct {
	Index        int              `json:"index"`
	Delta        completionsDelta `json:"delta"`
	FinishReason *string          `json:"finish_reason"`
}

type completionsStreamChunk struct {
	ID      string                    `json:"id"`
	Object  string                    `json:"object"`
	Created int64                     `json:"created"`
	Model   string                    `json:"model"`
	Choices []completionsStreamChoice `json:"choices"`
}

func mapFinishReasonToOpenAI(r chatmodel.FinishReason) string {
	switch r {
	case chatmodel.FinishToolCalls:
		return "tool_calls"
	case chatmodel.FinishContentFilter:
		return "content_filter"
	case chatmodel.FinishLength:
		return "length"
	default:
		return "stop"
	}
}

// postCompletions is the OpenAI-compatible fan-in bridge of §6.1: it
// maps an OpenAI-shaped request onto the internal ChatRequest model,
// runs it through the same dispatcher every other caller shares, and
// re-encodes the result as either a single OpenAI response body or an
// OpenAI-shaped SSE stream, mirroring the request's own "stream" flag.
func (s *Server) postCompletions(w http.ResponseWriter, r *http.Request) {
	var body completionsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(body.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	last := body.Messages[len(body.Messages)-1]
	sess := chatmodel.NewSession("")
	for _, m := range body.Messages[:len(body.Messages)-1] {
		sess.Append(chatmodel.NewMessage(chatmodel.Role(m.Role), m.Content))
	}
	if err := s.Store.Create(sess); err != nil {
		statusForErr(w, err)
		return
	}

	requestID := uuid.NewString()
	sink := newResultSink()
	s.Router.RegisterHTTPSink(requestID, sink)
	defer s.Router.UnregisterHTTPSink(requestID)

	s.Bus.Publish(chatmodel.ChatRequestEvent(sess.ID, last.Content, chatmodel.HTTPReply(requestID)))

	completionID := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	if body.Stream {
		s.streamCompletions(w, r, sink, completionID, created, body.Model)
		return
	}
	s.aggregateCompletions(w, sink, completionID, created, body.Model)
}

func (s *Server) streamCompletions(w http.ResponseWriter, r *http.Request, sink *resultSink, id string, created int64, model string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sink.ch:
			if !ok {
				return
			}
			switch c.Kind {
			case chatmodel.ChunkContent:
				writeCompletionsChunk(w, flusher, completionsStreamChunk{
					ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
					Choices: []completionsStreamChoice{{Delta: completionsDelta{Content: c.Text}}},
				})
			case chatmodel.ChunkFinish:
				reason := mapFinishReasonToOpenAI(c.FinishReason)
				writeCompletionsChunk(w, flusher, completionsStreamChunk{
					ID: id, Object: "chat.completion.chunk", Created: created, Model: model,
					Choices: []completionsStreamChoice{{Delta: completionsDelta{}, FinishReason: &reason}},
				})
				w.Write([]byte("data: [DONE]\n\n"))
				flusher.Flush()
				return
			case chatmodel.ChunkError:
				w.Write([]byte("data: [DONE]\n\n"))
				flusher.Flush()
				return
			}
		}
	}
}

func writeCompletionsChunk(w http.ResponseWriter, flusher http.Flusher, chunk completionsStreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
	flusher.Flush()
}

func (s *Server) aggregateCompletions(w http.ResponseWriter, sink *resultSink, id string, created int64, model string) {
	var content string
	finish := chatmodel.FinishStop
	for c := range sink.ch {
		switch c.Kind {
		case chatmodel.ChunkContent:
			content += c.Text
		case chatmodel.ChunkFinish:
			finish = c.FinishReason
			writeJSON(w, http.StatusOK, completionsResponse{
				ID: id, Object: "chat.completion", Created: created, Model: model,
				Choices: []completionsChoice{{
					Message:      completionsMessage{Role: "assistant", Content: content},
					FinishReason: mapFinishReasonToOpenAI(finish),
				}},
			})
			return
		case chatmodel.ChunkError:
			writeError(w, http.StatusBadGateway, c.Message)
			return
		}
	}
}
