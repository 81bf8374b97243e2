// SPDX-License-Identifier: AGPL-3.0-only

// Package agentloop drives one agent turn to completion: build a
// prompt from the session and enabled skills, stream a completion
// from the provider, dispatch any requested tool calls, and repeat
// until the model stops or a round/tool budget is exhausted.
// Generalized from jolks-mcp-cron/internal/agent/run_task.go's
// tool-enabled completion loop, which iterates without naming its
// states; this package names each state explicitly (runState) so a
// caller can log and reason about where a run currently is, and adds
// the Finalizing stage the teacher's loop has no equivalent of.
package agentloop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bigduu/Bamboo/internal/apperrors"
	"github.com/bigduu/Bamboo/internal/chatmodel"
	"github.com/bigduu/Bamboo/internal/logging"
	"github.com/bigduu/Bamboo/internal/provider"
)

// runState names one stage of the per-run state machine described in
// the agent loop's operating contract: Idle -> Building -> Calling ->
// Streaming -> (EvaluatingTools | Finalizing) -> (Calling | Terminal).
type runState string

const (
	stateIdle            runState = "idle"
	stateBuilding        runState = "building"
	stateCalling         runState = "calling"
	stateStreaming       runState = "streaming"
	stateEvaluatingTools runState = "evaluating_tools"
	stateFinalizing      runState = "finalizing"
	stateTerminal        runState = "terminal"
)

// ToolRegistry is the read-mostly snapshot the loop consults to build
// a request's tool list and to look up a tool's implementation at
// dispatch time. Satisfied by internal/skills.Manager, kept narrow so
// this package never imports it directly.
type ToolRegistry interface {
	Tools() map[string]chatmodel.ToolDefinition
	SystemPrompts() []string
	SkillDirForTool(toolName string) (string, bool)
}

// ToolExecutor runs one resolved tool call. Satisfied by
// internal/toolexec.Executor.
type ToolExecutor interface {
	Execute(ctx context.Context, def chatmodel.ToolDefinition, skillDir string, args map[string]interface{}) (*chatmodel.ToolResult, error)
}

// Compressor implements the optional context-compression policy of
// §4.4.1. A nil Compressor on Loop disables compression entirely.
type Compressor interface {
	Compress(ctx context.Context, messages []chatmodel.Message) ([]chatmodel.Message, error)
}

// Options configures a single Run call.
type Options struct {
	MaxRounds      int
	ToolBudget     int
	PerCallTimeout time.Duration
	SystemPrompt   string // base system prompt, prepended before skill system_prompts
	SkillFilter    string // if set, only this skill's tools are offered to the model
}

func (o Options) withDefaults() Options {
	if o.MaxRounds <= 0 {
		o.MaxRounds = 25
	}
	if o.ToolBudget <= 0 {
		o.ToolBudget = o.MaxRounds
	}
	if o.PerCallTimeout <= 0 {
		o.PerCallTimeout = 30 * time.Second
	}
	return o
}

// Loop is the agent loop of §4.4: a provider, a tool registry, a tool
// executor, and an optional compressor, composed the way
// internal/provider.Provider composes a Transformer and an
// Authenticator as plain struct fields rather than through a
// framework type.
type Loop struct {
	Provider   *provider.Provider
	Registry   ToolRegistry
	Executor   ToolExecutor
	Compressor Compressor

	log *logging.Logger
}

// New builds a Loop. compressor may be nil to disable §4.4.1
// compression entirely.
func New(p *provider.Provider, registry ToolRegistry, executor ToolExecutor, compressor Compressor) *Loop {
	return &Loop{
		Provider:   p,
		Registry:   registry,
		Executor:   executor,
		Compressor: compressor,
		log:        logging.GetDefaultLogger().WithField("component", "agentloop"),
	}
}

// Run drives one full agent turn for session, appending userInput as
// a user message and streaming chunks to the returned channel until
// the run reaches a Terminal state. The channel is always closed
// before Run's caller observes completion (either by reading it to
// closure or by cancelling ctx).
func (l *Loop) Run(ctx context.Context, session *chatmodel.Session, userInput string, opts Options) (<-chan chatmodel.Chunk, error) {
	opts = opts.withDefaults()
	out := make(chan chatmodel.Chunk)
	go l.run(ctx, session, userInput, opts, out)
	return out, nil
}

func (l *Loop) run(ctx context.Context, session *chatmodel.Session, userInput string, opts Options, out chan<- chatmodel.Chunk) {
	defer close(out)

	state := stateIdle
	toolCallsUsed := 0
	var lastUsage *chatmodel.Usage

	state = stateBuilding
	session.Append(chatmodel.NewMessage(chatmodel.RoleUser, userInput))

	for round := 0; ; round++ {
		select {
		case <-ctx.Done():
			out <- chatmodel.FinishChunk(chatmodel.FinishCancelled)
			return
		default:
		}

		if round >= opts.MaxRounds {
			state = stateFinalizing
			l.finalize(ctx, out, lastUsage, chatmodel.FinishLength)
			return
		}

		messages, err := l.compressIfNeeded(ctx, session.Messages)
		if err != nil {
			l.log.Warnf("context compression failed, continuing uncompressed: %v", err)
			messages = session.Messages
		}

		req := chatmodel.ChatRequest{
			SystemPrompt: l.systemPrompt(opts),
			Messages:     messages,
			Tools:        l.toolsFor(opts),
			Stream:       true,
		}

		state = stateCalling
		l.log.Debugf("round %d: %s", round, state)
		chunks, err := l.Provider.ChatStream(ctx, req)
		if err != nil {
			var rateErr *apperrors.RateLimitedError
			if errors.As(err, &rateErr) {
				chunks, err = l.retryAfterRateLimit(ctx, req, rateErr)
			}
			if err != nil {
				l.emit(ctx, out, chatmodel.ErrorChunk(err.Error()))
				l.finalize(ctx, out, lastUsage, chatmodel.FinishError)
				return
			}
		}

		state = stateStreaming
		agg := provider.NewAggregator()
		for c := range chunks {
			if !l.emit(ctx, out, c) {
				out <- chatmodel.FinishChunk(chatmodel.FinishCancelled)
				return
			}
			if c.Kind == chatmodel.ChunkUsage {
				lastUsage = c.Usage
			}
			if agg.Feed(c) {
				break
			}
		}
		if ctx.Err() != nil {
			out <- chatmodel.FinishChunk(chatmodel.FinishCancelled)
			return
		}
		resp := agg.Result()

		assistantMsg := resp.Message
		session.Append(assistantMsg)

		switch resp.FinishReason {
		case chatmodel.FinishStop, chatmodel.FinishContentFilter:
			state = stateFinalizing
			l.finalize(ctx, out, lastUsage, resp.FinishReason)
			return
		case chatmodel.FinishToolCalls:
			if toolCallsUsed >= opts.ToolBudget || len(assistantMsg.ToolCalls) == 0 {
				state = stateFinalizing
				l.finalize(ctx, out, lastUsage, chatmodel.FinishLength)
				return
			}
			state = stateEvaluatingTools
			toolCallsUsed += len(assistantMsg.ToolCalls)
			l.evaluateTools(ctx, session, assistantMsg.ToolCalls, opts)
			state = stateCalling
			continue
		default:
			state = stateFinalizing
			l.finalize(ctx, out, lastUsage, chatmodel.FinishStop)
			return
		}
	}
}

// retryAfterRateLimit implements §7's "RateLimited MAY be retried once
// with a delay equal to retry_after": it waits rateErr.RetryAfter (or
// returns immediately if ctx is cancelled first) and reissues req
// exactly once. A second failure of any kind, including another rate
// limit, is returned to the caller as terminal.
func (l *Loop) retryAfterRateLimit(ctx context.Context, req chatmodel.ChatRequest, rateErr *apperrors.RateLimitedError) (<-chan chatmodel.Chunk, error) {
	l.log.Warnf("rate limited, retrying once after %s", rateErr.RetryAfter)

	if rateErr.RetryAfter > 0 {
		timer := time.NewTimer(rateErr.RetryAfter)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return l.Provider.ChatStream(ctx, req)
}

// systemPrompt composes the base prompt with every enabled skill's
// system_prompt, per §4.4's Building state.
func (l *Loop) systemPrompt(opts Options) string {
	prompt := opts.SystemPrompt
	if l.Registry == nil {
		return prompt
	}
	for _, sp := range l.Registry.SystemPrompts() {
		if prompt != "" {
			prompt += "\n\n"
		}
		prompt += sp
	}
	return prompt
}

// toolsFor returns the tool definitions offered to the model this
// round, filtered to a single skill when opts.SkillFilter is set (the
// scheduler's cron-triggered runs name one skill per task).
func (l *Loop) toolsFor(opts Options) []chatmodel.ToolDefinition {
	if l.Registry == nil {
		return nil
	}
	snapshot := l.Registry.Tools()
	defs := make([]chatmodel.ToolDefinition, 0, len(snapshot))
	for _, def := range snapshot {
		if opts.SkillFilter != "" {
			dir, ok := l.Registry.SkillDirForTool(def.Name)
			if !ok || filepathBase(dir) != opts.SkillFilter {
				continue
			}
		}
		defs = append(defs, def)
	}
	return defs
}

// evaluateTools implements the EvaluatingTools state: each aggregated
// tool call is dispatched and its result appended as a tool message,
// per the tool-result envelope contract (success -> raw output,
// failure -> "error: " + message).
func (l *Loop) evaluateTools(ctx context.Context, session *chatmodel.Session, calls []chatmodel.ToolCall, opts Options) {
	for _, call := range calls {
		result := l.dispatchTool(ctx, call, opts)
		session.Append(chatmodel.NewToolResultMessage(call.ID, *result))
	}
}

func (l *Loop) dispatchTool(ctx context.Context, call chatmodel.ToolCall, opts Options) *chatmodel.ToolResult {
	snapshot := l.Registry.Tools()
	def, ok := snapshot[call.Name]
	if !ok {
		return &chatmodel.ToolResult{Success: false, Error: fmt.Sprintf("unknown tool %q", call.Name)}
	}
	skillDir, _ := l.Registry.SkillDirForTool(call.Name)

	args, err := decodeArguments(call.Arguments)
	if err != nil {
		return &chatmodel.ToolResult{Success: false, Error: "invalid arguments: " + err.Error()}
	}

	callCtx, cancel := context.WithTimeout(ctx, opts.PerCallTimeout)
	defer cancel()

	result, err := l.Executor.Execute(callCtx, def, skillDir, args)
	if err != nil {
		return &chatmodel.ToolResult{Success: false, Error: err.Error()}
	}
	return result
}

func (l *Loop) compressIfNeeded(ctx context.Context, messages []chatmodel.Message) ([]chatmodel.Message, error) {
	if l.Compressor == nil {
		return messages, nil
	}
	return l.Compressor.Compress(ctx, messages)
}

// finalize implements the Finalizing state: emit trailing usage (if
// any was collected) then the terminal Finish chunk.
func (l *Loop) finalize(ctx context.Context, out chan<- chatmodel.Chunk, usage *chatmodel.Usage, reason chatmodel.FinishReason) {
	if usage != nil {
		l.emit(ctx, out, chatmodel.UsageChunk(*usage))
	}
	l.emit(ctx, out, chatmodel.FinishChunk(reason))
}

// emit forwards c to out, returning false if ctx was cancelled first
// (the caller should stop the run in that case).
func (l *Loop) emit(ctx context.Context, out chan<- chatmodel.Chunk, c chatmodel.Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func filepathBase(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
