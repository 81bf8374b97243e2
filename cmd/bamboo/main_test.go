// SPDX-License-Identifier: AGPL-3.0-only
package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigduu/Bamboo/internal/config"
	"github.com/bigduu/Bamboo/internal/transformer"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Server.Port = 18080
	cfg.Gateway.Bind = "127.0.0.1:18081"
	cfg.Storage.Path = filepath.Join(dir, "sessions")
	cfg.Skills.Directories = []string{filepath.Join(dir, "skills")}
	cfg.Logging.Level = "error"
	if err := os.MkdirAll(cfg.Skills.Directories[0], 0o755); err != nil {
		t.Fatalf("mkdir skills dir: %v", err)
	}

	path := filepath.Join(dir, "config.json")
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestCreateAppWiresEveryComponent(t *testing.T) {
	app, err := createApp(writeTestConfig(t), nil)
	if err != nil {
		t.Fatalf("createApp: %v", err)
	}
	t.Cleanup(func() { _ = app.Stop() })

	if app.sqlStore == nil || app.sessions == nil || app.skillMgr == nil {
		t.Fatal("createApp left a storage/skill component nil")
	}
	if app.loop == nil || app.runner == nil {
		t.Fatal("createApp left the agent loop or runner nil")
	}
	if app.bus == nil || app.router == nil || app.runs == nil {
		t.Fatal("createApp left the event bus, router, or run registry nil")
	}
	if app.sched == nil || app.httpServer == nil || app.gatewayH == nil {
		t.Fatal("createApp left the scheduler, http server, or gateway nil")
	}
	if _, ok := app.providers[config.DefaultConfig().LLM.DefaultProvider]; !ok {
		t.Fatal("createApp did not build the default provider")
	}
}

func TestCreateAppRejectsUnknownDefaultProvider(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.Path = filepath.Join(dir, "sessions")
	cfg.Skills.Directories = []string{filepath.Join(dir, "skills")}
	cfg.LLM.DefaultProvider = "does-not-exist"
	delete(cfg.LLM.Providers, "does-not-exist")

	path := filepath.Join(dir, "config.json")
	data, _ := json.Marshal(cfg)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := createApp(path, nil); err == nil {
		t.Fatal("expected createApp to fail validation for an unknown default_provider")
	}
}

func TestApplicationStartAndStopIsIdempotent(t *testing.T) {
	app, err := createApp(writeTestConfig(t), nil)
	if err != nil {
		t.Fatalf("createApp: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// give the listener goroutines a moment to bind before tearing down.
	time.Sleep(20 * time.Millisecond)

	if err := app.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := app.Stop(); err != nil {
		t.Fatalf("second Stop should be a no-op, got: %v", err)
	}
}

func TestCreateAppRejectsSecondInstanceOnSameStorage(t *testing.T) {
	path := writeTestConfig(t)

	first, err := createApp(path, nil)
	if err != nil {
		t.Fatalf("createApp (first): %v", err)
	}
	t.Cleanup(func() { _ = first.Stop() })

	if _, err := createApp(path, nil); err == nil {
		t.Fatal("expected a second createApp against the same storage path to fail")
	}
}

func TestBuildAuthenticatorRejectsUnknownType(t *testing.T) {
	if _, err := buildAuthenticator("test", config.AuthConfig{Type: "bogus"}, t.TempDir()); err == nil {
		t.Fatal("expected an error for an unknown auth type")
	}
}

func TestTransformerForSelectsAnthropicByID(t *testing.T) {
	got := transformerFor("anthropic")
	if _, ok := got.(transformer.Anthropic); !ok {
		t.Fatalf("transformerFor(%q) = %T, want transformer.Anthropic", "anthropic", got)
	}

	got = transformerFor("openai")
	if _, ok := got.(transformer.OpenAI); !ok {
		t.Fatalf("transformerFor(%q) = %T, want transformer.OpenAI", "openai", got)
	}
}
