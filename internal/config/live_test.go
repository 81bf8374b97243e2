// SPDX-License-Identifier: AGPL-3.0-only
package config

import (
	"path/filepath"
	"testing"
)

func newTestLive(t *testing.T) *Live {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Storage.Path = t.TempDir()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := writeDefaults(path, cfg); err != nil {
		t.Fatalf("writeDefaults: %v", err)
	}
	return NewLive(cfg, path, nil)
}

func TestLiveUpdateWholeDocumentPersistsAndMasks(t *testing.T) {
	live := newTestLive(t)

	incoming := live.Current()
	incoming.Server.Port = 9090

	updated, err := live.Update("", incoming)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", updated.Server.Port)
	}
	if live.Current().Server.Port != 9090 {
		t.Error("expected the update to take effect on the live config")
	}
}

func TestLiveUpdateSectionLeavesOtherSectionsUntouched(t *testing.T) {
	live := newTestLive(t)
	originalStorage := live.Current().Storage

	incoming := live.Current()
	incoming.Server.Port = 9191

	if _, err := live.Update("server", incoming); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if live.Current().Server.Port != 9191 {
		t.Error("expected server.port to change")
	}
	if live.Current().Storage != originalStorage {
		t.Error("expected storage section to be untouched by a server-section update")
	}
}

func TestLiveUpdatePreservesMaskedSecret(t *testing.T) {
	live := newTestLive(t)
	p := live.Current().LLM.Providers["openai"]
	p.Auth.Key = "sk-real-secret"
	live.cfg.LLM.Providers["openai"] = p

	incoming := Mask(live.Current())
	incoming.Server.Port = 9292

	updated, err := live.Update("", incoming)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Server.Port != 9292 {
		t.Error("expected the non-secret change to apply")
	}
	if live.cfg.LLM.Providers["openai"].Auth.Key != "sk-real-secret" {
		t.Error("expected the real secret to survive a masked round trip")
	}
}

func TestLiveUpdateRejectsInvalidConfig(t *testing.T) {
	live := newTestLive(t)
	incoming := live.Current()
	incoming.Server.Port = 0

	if _, err := live.Update("", incoming); err == nil {
		t.Fatal("expected an invalid port to be rejected")
	}
}

func TestLiveUpdateUnknownSectionErrors(t *testing.T) {
	live := newTestLive(t)
	if _, err := live.Update("bogus", live.Current()); err == nil {
		t.Fatal("expected an unknown section name to error")
	}
}

func TestLiveSectionReturnsMaskedValue(t *testing.T) {
	live := newTestLive(t)
	p := live.Current().LLM.Providers["openai"]
	p.Auth.Key = "sk-real-secret"
	live.cfg.LLM.Providers["openai"] = p

	v, err := live.Section("llm")
	if err != nil {
		t.Fatalf("Section: %v", err)
	}
	llm, ok := v.(*LLMConfig)
	if !ok {
		t.Fatalf("unexpected section type %T", v)
	}
	if llm.Providers["openai"].Auth.Key != maskedValue {
		t.Errorf("expected masked key, got %q", llm.Providers["openai"].Auth.Key)
	}
}

func TestLiveReloadReadsBackFromDisk(t *testing.T) {
	live := newTestLive(t)
	incoming := live.Current()
	incoming.Server.Port = 9393
	if _, err := live.Update("", incoming); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reloaded, err := live.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if reloaded.Server.Port != 9393 {
		t.Errorf("Server.Port = %d after reload, want 9393", reloaded.Server.Port)
	}
}
