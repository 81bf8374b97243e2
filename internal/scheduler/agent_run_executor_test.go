// SPDX-License-Identifier: AGPL-3.0-only
package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bigduu/Bamboo/internal/model"
)

type fakeRunner struct {
	output        string
	err           error
	gotCtx        context.Context
	gotSessionID  string
}

func (f *fakeRunner) Run(ctx context.Context, sessionID, skillName, prompt string) (string, error) {
	f.gotCtx = ctx
	f.gotSessionID = sessionID
	return f.output, f.err
}

type fakeResultStore struct {
	saved []*model.Result
}

func (f *fakeResultStore) SaveResult(r *model.Result) error {
	f.saved = append(f.saved, r)
	return nil
}
func (f *fakeResultStore) GetLatestResult(taskID string) (*model.Result, error) { return nil, nil }
func (f *fakeResultStore) GetResults(taskID string, limit int) ([]*model.Result, error) {
	return nil, nil
}

func TestAgentRunExecutorPersistsSuccessfulResult(t *testing.T) {
	runner := &fakeRunner{output: "the weather is sunny"}
	store := &fakeResultStore{}
	exec := NewAgentRunExecutor(runner, store)

	task := &model.Task{ID: "t1", SkillName: "weather", Prompt: "what's the weather?"}
	if err := exec.Execute(context.Background(), task, time.Second); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(store.saved) != 1 {
		t.Fatalf("expected 1 saved result, got %d", len(store.saved))
	}
	if store.saved[0].Output != "the weather is sunny" {
		t.Errorf("Output = %q", store.saved[0].Output)
	}

	result, ok := exec.GetTaskResult("t1")
	if !ok || result.Output != "the weather is sunny" {
		t.Fatalf("GetTaskResult returned %+v, %v", result, ok)
	}
}

func TestAgentRunExecutorReturnsErrorFromRunner(t *testing.T) {
	runner := &fakeRunner{err: errors.New("provider unavailable")}
	exec := NewAgentRunExecutor(runner, &fakeResultStore{})

	task := &model.Task{ID: "t2", SkillName: "weather", Prompt: "x"}
	err := exec.Execute(context.Background(), task, time.Second)
	if err == nil {
		t.Fatal("expected error from Execute")
	}
}

func TestAgentRunExecutorRejectsTaskMissingSkillName(t *testing.T) {
	exec := NewAgentRunExecutor(&fakeRunner{}, &fakeResultStore{})
	task := &model.Task{ID: "t3"}
	if err := exec.Execute(context.Background(), task, time.Second); err == nil {
		t.Fatal("expected error for task missing SkillName")
	}
}

func TestAgentRunExecutorDefaultsSessionIDToTaskID(t *testing.T) {
	runner := &fakeRunner{output: "ok"}
	exec := NewAgentRunExecutor(runner, &fakeResultStore{})

	task := &model.Task{ID: "t4", SkillName: "digest", Prompt: "go"}
	_ = exec.Execute(context.Background(), task, time.Second)
	if runner.gotSessionID != "t4" {
		t.Errorf("gotSessionID = %q, want task ID fallback %q", runner.gotSessionID, "t4")
	}
}

func TestAgentRunExecutorUsesExplicitSessionID(t *testing.T) {
	runner := &fakeRunner{output: "ok"}
	exec := NewAgentRunExecutor(runner, &fakeResultStore{})

	task := &model.Task{ID: "t5", SkillName: "digest", Prompt: "go", SessionID: "sess-fixed"}
	_ = exec.Execute(context.Background(), task, time.Second)
	if runner.gotSessionID != "sess-fixed" {
		t.Errorf("gotSessionID = %q, want %q", runner.gotSessionID, "sess-fixed")
	}
}
