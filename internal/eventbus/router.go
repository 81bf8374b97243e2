// SPDX-License-Identifier: AGPL-3.0-only
package eventbus

import (
	"sync"

	"github.com/bigduu/Bamboo/internal/chatmodel"
)

// HTTPSink receives chunks destined for an in-flight HTTP streaming
// request. The gateway's own session-fanout loop reads ChatResponse
// events off the Bus directly; HTTP requests never touch the bus at
// all, since there's no broadcast fan-out to do for a single
// in-process SSE writer.
type HTTPSink interface {
	Send(chatmodel.Chunk)
}

// Router implements the reply_to dispatch rule of §4.8: a WebSocket
// destination goes out as a bus event for the gateway's per-session
// send loop to pick up, an Http destination is written straight to
// the caller's own sink, never touching the bus. Keeping this as a
// separate type (rather than folding the branch into the agent loop)
// means the agent loop only ever calls one method regardless of
// where the caller is.
type Router struct {
	bus *Bus

	sinksMu sync.Mutex
	sinks   map[string]HTTPSink
}

func NewRouter(bus *Bus) *Router {
	return &Router{bus: bus, sinks: map[string]HTTPSink{}}
}

// RegisterHTTPSink associates a request id with the sink that should
// receive its chunks. The HTTP handler calls this before starting the
// agent run and unregisters it once the request completes.
func (r *Router) RegisterHTTPSink(requestID string, sink HTTPSink) {
	r.sinksMu.Lock()
	defer r.sinksMu.Unlock()
	r.sinks[requestID] = sink
}

func (r *Router) UnregisterHTTPSink(requestID string) {
	r.sinksMu.Lock()
	defer r.sinksMu.Unlock()
	delete(r.sinks, requestID)
}

// Deliver routes a chunk to the destination named by reply. A
// WebSocket reply publishes a ChatResponse event on the bus; an Http
// reply looks up the registered sink and writes to it directly,
// bypassing the bus entirely.
func (r *Router) Deliver(reply chatmodel.ReplyChannel, chunk chatmodel.Chunk) {
	switch reply.Kind {
	case chatmodel.ReplyWebSocket:
		r.bus.Publish(chatmodel.ChatResponseEvent(reply.SessionID, chunk))
	case chatmodel.ReplyHTTP:
		r.sinksMu.Lock()
		sink, ok := r.sinks[reply.RequestID]
		r.sinksMu.Unlock()
		if ok {
			sink.Send(chunk)
		}
	}
}
