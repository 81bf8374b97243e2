// SPDX-License-Identifier: AGPL-3.0-only
package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/bigduu/Bamboo/internal/model"
)

// RouteCommand implements internal/gateway.CommandRouter, letting a
// WebSocket client manage scheduled tasks over the same connection it
// chats on instead of a separate admin surface. Generalized from the
// task-management MCP tools the teacher exposed
// (handleListTasks/handleAddTask/handleRemoveTask/etc.), now speaking
// the gateway's plain string-arg command shape instead of MCP
// CallToolResult envelopes.
func (s *Scheduler) RouteCommand(sessionID, command string, args map[string]string) (string, error) {
	switch command {
	case "list_tasks":
		return s.routeListTasks()
	case "get_task":
		return s.routeGetTask(args["task_id"])
	case "add_task":
		return s.routeAddTask(sessionID, args)
	case "remove_task":
		return "", s.RemoveTask(args["task_id"])
	case "enable_task":
		return "", s.EnableTask(args["task_id"])
	case "disable_task":
		return "", s.DisableTask(args["task_id"])
	default:
		return "", fmt.Errorf("unknown command %q", command)
	}
}

func (s *Scheduler) routeListTasks() (string, error) {
	data, err := json.Marshal(s.ListTasks())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Scheduler) routeGetTask(taskID string) (string, error) {
	task, err := s.GetTask(taskID)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(task)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Scheduler) routeAddTask(sessionID string, args map[string]string) (string, error) {
	if args["skill_name"] == "" || args["prompt"] == "" || args["schedule"] == "" {
		return "", fmt.Errorf("add_task requires skill_name, prompt, and schedule args")
	}
	task := NewTask()
	task.ID = uuid.NewString()
	task.Name = args["name"]
	task.SkillName = args["skill_name"]
	task.Prompt = args["prompt"]
	task.Schedule = args["schedule"]
	task.SessionID = sessionID
	task.Enabled = true
	task.Status = model.StatusPending

	if err := s.AddTask(task); err != nil {
		return "", err
	}
	data, err := json.Marshal(task)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
