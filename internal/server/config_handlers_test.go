// SPDX-License-Identifier: AGPL-3.0-only
package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bigduu/Bamboo/internal/config"
)

func TestGetConfigSectionReturnsMaskedLLM(t *testing.T) {
	h := newTestHarness(t, nil)
	srv := httptest.NewServer(h.srv.handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/config/llm")
	if err != nil {
		t.Fatalf("GET /config/llm: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var llm config.LLMConfig
	if err := json.NewDecoder(resp.Body).Decode(&llm); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if llm.Providers["openai"].Auth.Key != "***MASKED***" {
		t.Errorf("expected masked key, got %q", llm.Providers["openai"].Auth.Key)
	}
}

func TestGetConfigUnknownSectionReturnsNotFound(t *testing.T) {
	h := newTestHarness(t, nil)
	srv := httptest.NewServer(h.srv.handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/config/bogus")
	if err != nil {
		t.Fatalf("GET /config/bogus: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPostConfigReplacesWholeDocument(t *testing.T) {
	h := newTestHarness(t, nil)
	srv := httptest.NewServer(h.srv.handler())
	defer srv.Close()

	body, _ := json.Marshal(config.Mask(h.cfg.cfg))
	resp, err := http.Post(srv.URL+"/config", "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatalf("POST /config: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestPostConfigReloadReturnsCurrentConfig(t *testing.T) {
	h := newTestHarness(t, nil)
	srv := httptest.NewServer(h.srv.handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/config/reload", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /config/reload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
