// SPDX-License-Identifier: AGPL-3.0-only
package model

import (
	"context"
	"time"
)

// Status is a task's current scheduling/execution state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDisabled  Status = "disabled"
)

// Task is a cron-triggered agent run: on its Schedule, the scheduler
// starts (or resumes) a session for SkillName and feeds it Prompt,
// rather than shelling out to a raw command.
type Task struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	SkillName   string    `json:"skill_name"`
	SessionID   string    `json:"session_id,omitempty"` // reuse an existing session if set
	Prompt      string    `json:"prompt"`
	Schedule    string    `json:"schedule"`
	Enabled     bool      `json:"enabled"`
	Status      Status    `json:"status"`
	LastRun     time.Time `json:"last_run,omitempty"`
	NextRun     time.Time `json:"next_run,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Executor runs a Task's agent turn to completion (or until timeout).
type Executor interface {
	Execute(ctx context.Context, task *Task, timeout time.Duration) error
}

// TaskStore persists task definitions.
type TaskStore interface {
	SaveTask(task *Task) error
	UpdateTask(task *Task) error
	DeleteTask(taskID string) error
	LoadTasks() ([]*Task, error)
}
