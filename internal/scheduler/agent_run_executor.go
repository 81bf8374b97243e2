// SPDX-License-Identifier: AGPL-3.0-only
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bigduu/Bamboo/internal/logging"
	"github.com/bigduu/Bamboo/internal/model"
)

// AgentRunner starts (or resumes) a session for skillName and drives
// one agent turn on prompt to completion, returning the assistant's
// final text. Kept as a narrow interface rather than a direct
// dependency on the agent loop package so the scheduler doesn't need
// to import it.
type AgentRunner interface {
	Run(ctx context.Context, sessionID, skillName, prompt string) (output string, err error)
}

// AgentRunExecutor implements model.Executor by dispatching a
// scheduled Task as an agent run instead of a raw shell command,
// generalizing jolks-mcp-cron/internal/command.CommandExecutor's
// timeout-bounded execution and best-effort result persistence.
type AgentRunExecutor struct {
	mu      sync.Mutex
	results map[string]*model.Result

	runner AgentRunner
	store  model.ResultStore
	log    *logging.Logger
}

func NewAgentRunExecutor(runner AgentRunner, store model.ResultStore) *AgentRunExecutor {
	return &AgentRunExecutor{
		results: make(map[string]*model.Result),
		runner:  runner,
		store:   store,
		log:     logging.GetDefaultLogger().WithField("component", "scheduler-executor"),
	}
}

// Execute implements model.Executor.
func (e *AgentRunExecutor) Execute(ctx context.Context, task *model.Task, timeout time.Duration) error {
	if task.ID == "" || task.SkillName == "" {
		return fmt.Errorf("invalid task: missing ID or SkillName")
	}

	result := e.run(ctx, task, timeout)
	if result.Error != "" {
		return fmt.Errorf("%s", result.Error)
	}
	return nil
}

func (e *AgentRunExecutor) run(ctx context.Context, task *model.Task, timeout time.Duration) *model.Result {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := &model.Result{
		TaskID:    task.ID,
		SkillName: task.SkillName,
		Prompt:    task.Prompt,
		StartTime: time.Now(),
	}

	e.mu.Lock()
	e.results[task.ID] = result
	e.mu.Unlock()

	sessionID := task.SessionID
	if sessionID == "" {
		sessionID = task.ID
	}

	output, err := e.runner.Run(runCtx, sessionID, task.SkillName, task.Prompt)
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime).String()
	result.Output = output
	if err != nil {
		result.Error = err.Error()
	}

	if e.store != nil {
		if err := e.store.SaveResult(result); err != nil {
			e.log.Warnf("failed to persist result for task %s: %v", task.ID, err)
		}
	}
	return result
}

// GetTaskResult returns the most recent in-memory result for a task,
// if it has run since this executor started.
func (e *AgentRunExecutor) GetTaskResult(taskID string) (*model.Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	result, ok := e.results[taskID]
	return result, ok
}
