// SPDX-License-Identifier: AGPL-3.0-only
package agentloop

import (
	"context"

	"github.com/bigduu/Bamboo/internal/chatmodel"
	"github.com/bigduu/Bamboo/internal/logging"
)

// ReplyRouter delivers one chunk to the destination named by a
// ChatRequest's reply_to. Satisfied by *internal/eventbus.Router.
type ReplyRouter interface {
	Deliver(reply chatmodel.ReplyChannel, chunk chatmodel.Chunk)
}

// RunRegistry enforces the one-active-run-per-session invariant of
// §5. Satisfied by *internal/runstate.Registry.
type RunRegistry interface {
	Start(parent context.Context, sessionID string) (ctx context.Context, done func(), err error)
}

// Dispatcher is the process-wide consumer of ChatRequest events: for
// each one it resolves the named session, starts a run under
// RunRegistry, drives Loop.Run, and forwards every chunk through
// Router per the reply_to rule of §4.8. Grounded on
// jolks-mcp-cron/internal/scheduler.Scheduler's own event-driven
// dispatch loop (a goroutine ranging over ticks and invoking the
// configured executor), generalized here to range over bus events
// instead of cron ticks.
type Dispatcher struct {
	Loop     *Loop
	Store    SessionStore
	Router   ReplyRouter
	Registry RunRegistry
	Options  Options

	log *logging.Logger
}

func NewDispatcher(loop *Loop, store SessionStore, router ReplyRouter, registry RunRegistry, opts Options) *Dispatcher {
	return &Dispatcher{
		Loop:     loop,
		Store:    store,
		Router:   router,
		Registry: registry,
		Options:  opts,
		log:      logging.GetDefaultLogger().WithField("component", "agentloop-dispatcher"),
	}
}

// Run consumes events from src (typically an
// *internal/eventbus.Subscription's Events channel) until ctx is done
// or the channel is closed. Call it in its own goroutine.
func (d *Dispatcher) Run(ctx context.Context, src <-chan chatmodel.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-src:
			if !ok {
				return
			}
			if ev.Kind != chatmodel.EventChatRequest {
				continue
			}
			go d.handle(ctx, ev)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev chatmodel.Event) {
	session, err := d.Store.Get(ev.SessionID)
	if err != nil {
		session = chatmodel.NewSession(ev.SessionID)
		session.ID = ev.SessionID
		if err := d.Store.Create(session); err != nil {
			d.log.Errorf("create session %s: %v", ev.SessionID, err)
			return
		}
	}

	runCtx, done, err := d.Registry.Start(ctx, ev.SessionID)
	if err != nil {
		d.Router.Deliver(ev.ReplyTo, chatmodel.ErrorChunk(err.Error()))
		return
	}
	defer done()

	priorLen := len(session.Messages)
	ch, err := d.Loop.Run(runCtx, session, ev.Content, d.Options)
	if err != nil {
		d.Router.Deliver(ev.ReplyTo, chatmodel.ErrorChunk(err.Error()))
		return
	}

	for c := range ch {
		d.Router.Deliver(ev.ReplyTo, c)
	}

	for i := priorLen; i < len(session.Messages); i++ {
		if _, err := d.Store.AppendMessage(ev.SessionID, session.Messages[i]); err != nil {
			d.log.Warnf("failed to persist message for session %s: %v", ev.SessionID, err)
		}
	}
}
