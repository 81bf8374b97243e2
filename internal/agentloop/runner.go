// SPDX-License-Identifier: AGPL-3.0-only
package agentloop

import (
	"context"
	"fmt"

	"github.com/bigduu/Bamboo/internal/chatmodel"
	"github.com/bigduu/Bamboo/internal/logging"
)

// SessionStore is the narrow session-persistence surface Runner
// needs. Satisfied by internal/sessionstore.Store.
type SessionStore interface {
	Get(sessionID string) (*chatmodel.Session, error)
	Create(sess *chatmodel.Session) error
	AppendMessage(sessionID string, msg chatmodel.Message) (*chatmodel.Session, error)
}

// Runner adapts a Loop to internal/scheduler.AgentRunner: it resolves
// or creates the named session, drives one Loop.Run to completion,
// and returns the concatenated assistant text. This is the piece the
// scheduler's cron ticks actually call; a live chat surface (the
// eventual HTTP/WebSocket handlers) drives the same Loop directly
// against a caller-supplied session instead.
type Runner struct {
	Loop    *Loop
	Store   SessionStore
	Options Options

	log *logging.Logger
}

// NewRunner builds a Runner. opts is applied to every run; SkillFilter
// is overridden per-call with the skillName argument to Run.
func NewRunner(loop *Loop, store SessionStore, opts Options) *Runner {
	return &Runner{
		Loop:    loop,
		Store:   store,
		Options: opts,
		log:     logging.GetDefaultLogger().WithField("component", "agentloop-runner"),
	}
}

// Run implements internal/scheduler.AgentRunner.
func (r *Runner) Run(ctx context.Context, sessionID, skillName, prompt string) (string, error) {
	session, err := r.Store.Get(sessionID)
	if err != nil {
		session = chatmodel.NewSession(sessionID)
		session.ID = sessionID
		if err := r.Store.Create(session); err != nil {
			return "", fmt.Errorf("create session %s: %w", sessionID, err)
		}
	}

	opts := r.Options
	opts.SkillFilter = skillName

	// The loop appends to its own copy of the session, so persisting the
	// new messages below never walks a slice that AppendMessage may be
	// growing at the same time.
	work := *session
	work.Messages = append([]chatmodel.Message(nil), session.Messages...)
	priorLen := len(work.Messages)
	ch, err := r.Loop.Run(ctx, &work, prompt, opts)
	if err != nil {
		return "", err
	}

	var reply string
	var runErr error
	for c := range ch {
		switch c.Kind {
		case chatmodel.ChunkContent:
			reply += c.Text
		case chatmodel.ChunkError:
			runErr = fmt.Errorf("%s", c.Message)
		case chatmodel.ChunkFinish:
			switch c.FinishReason {
			case chatmodel.FinishCancelled:
				runErr = context.Canceled
			case chatmodel.FinishError:
				if runErr == nil {
					runErr = fmt.Errorf("agent run failed")
				}
			}
		}
	}

	for _, msg := range work.Messages[priorLen:] {
		if _, err := r.Store.AppendMessage(sessionID, msg); err != nil {
			r.log.Warnf("failed to persist message for session %s: %v", sessionID, err)
		}
	}

	return reply, runErr
}
