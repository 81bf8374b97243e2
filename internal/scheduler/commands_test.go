// SPDX-License-Identifier: AGPL-3.0-only
package scheduler

import (
	"encoding/json"
	"testing"

	"github.com/bigduu/Bamboo/internal/model"
)

func TestRouteCommandAddTaskThenListTasks(t *testing.T) {
	s := NewScheduler(testConfig())
	s.SetTaskExecutor(&mockTaskExecutor{})

	out, err := s.RouteCommand("sess-1", "add_task", map[string]string{
		"skill_name": "digest",
		"prompt":     "summarize the inbox",
		"schedule":   "@every 1h",
		"name":       "daily digest",
	})
	if err != nil {
		t.Fatalf("RouteCommand(add_task): %v", err)
	}
	var added model.Task
	if err := json.Unmarshal([]byte(out), &added); err != nil {
		t.Fatalf("unmarshal add_task result: %v", err)
	}
	if added.SessionID != "sess-1" || added.SkillName != "digest" {
		t.Fatalf("unexpected task from add_task: %+v", added)
	}

	out, err = s.RouteCommand("sess-1", "list_tasks", nil)
	if err != nil {
		t.Fatalf("RouteCommand(list_tasks): %v", err)
	}
	var tasks []*model.Task
	if err := json.Unmarshal([]byte(out), &tasks); err != nil {
		t.Fatalf("unmarshal list_tasks result: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != added.ID {
		t.Fatalf("expected list_tasks to include the added task, got %+v", tasks)
	}
}

func TestRouteCommandAddTaskRejectsMissingFields(t *testing.T) {
	s := NewScheduler(testConfig())
	s.SetTaskExecutor(&mockTaskExecutor{})

	if _, err := s.RouteCommand("sess-1", "add_task", map[string]string{"skill_name": "digest"}); err == nil {
		t.Fatal("expected an error for a missing prompt/schedule")
	}
}

func TestRouteCommandEnableDisableTask(t *testing.T) {
	s := NewScheduler(testConfig())
	s.SetTaskExecutor(&mockTaskExecutor{})
	task := newTestTask("t1", "* * * * * *")
	task.Enabled = false
	if err := s.AddTask(task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	if _, err := s.RouteCommand("sess-1", "enable_task", map[string]string{"task_id": "t1"}); err != nil {
		t.Fatalf("RouteCommand(enable_task): %v", err)
	}
	got, _ := s.GetTask("t1")
	if !got.Enabled {
		t.Fatal("expected task to be enabled")
	}

	if _, err := s.RouteCommand("sess-1", "disable_task", map[string]string{"task_id": "t1"}); err != nil {
		t.Fatalf("RouteCommand(disable_task): %v", err)
	}
	got, _ = s.GetTask("t1")
	if got.Enabled {
		t.Fatal("expected task to be disabled")
	}
}

func TestRouteCommandUnknownCommandErrors(t *testing.T) {
	s := NewScheduler(testConfig())
	if _, err := s.RouteCommand("sess-1", "bogus", nil); err == nil {
		t.Fatal("expected an error for an unknown command")
	}
}
