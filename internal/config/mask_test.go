// SPDX-License-Identifier: AGPL-3.0-only
package config

import "testing"

func TestMaskRedactsSecretsNotStructure(t *testing.T) {
	cfg := DefaultConfig()
	p := cfg.LLM.Providers["openai"]
	p.Auth.Key = "sk-real-secret"
	cfg.LLM.Providers["openai"] = p
	cfg.Gateway.AuthToken = "real-gateway-token"

	masked := Mask(cfg)

	if masked.LLM.Providers["openai"].Auth.Key != maskedValue {
		t.Errorf("expected provider key to be masked, got %q", masked.LLM.Providers["openai"].Auth.Key)
	}
	if masked.Gateway.AuthToken != maskedValue {
		t.Errorf("expected gateway token to be masked, got %q", masked.Gateway.AuthToken)
	}
	if masked.Server.Port != cfg.Server.Port {
		t.Error("Mask must not change non-secret fields")
	}
	// Original must be untouched.
	if cfg.LLM.Providers["openai"].Auth.Key != "sk-real-secret" {
		t.Error("Mask must not mutate the input config")
	}
}

func TestMaskLeavesEmptySecretsEmpty(t *testing.T) {
	cfg := DefaultConfig()
	masked := Mask(cfg)
	if masked.Gateway.AuthToken != "" {
		t.Errorf("expected empty token to stay empty, got %q", masked.Gateway.AuthToken)
	}
}

func TestMergePreservingMaskedKeepsRealSecretWhenClientEchoesMask(t *testing.T) {
	base := DefaultConfig()
	p := base.LLM.Providers["openai"]
	p.Auth.Key = "sk-real-secret"
	base.LLM.Providers["openai"] = p

	incoming := Mask(base)
	incoming.Server.Port = 9090 // a genuine, non-secret change

	merged := MergePreservingMasked(base, incoming)

	if merged.LLM.Providers["openai"].Auth.Key != "sk-real-secret" {
		t.Errorf("expected real secret preserved, got %q", merged.LLM.Providers["openai"].Auth.Key)
	}
	if merged.Server.Port != 9090 {
		t.Errorf("expected non-secret change to apply, got port %d", merged.Server.Port)
	}
}

func TestMergePreservingMaskedKeepsRealSecretWhenClientOmitsField(t *testing.T) {
	base := DefaultConfig()
	p := base.LLM.Providers["openai"]
	p.Auth.Key = "sk-real-secret"
	base.LLM.Providers["openai"] = p
	base.Gateway.AuthToken = "real-gateway-token"

	// A client that only wants to change the port sends a config body
	// with every secret field left at its Go zero value, not the mask
	// placeholder — decoding JSON that omits a field does exactly this.
	incoming := DefaultConfig()
	incoming.Server.Port = 9090
	incoming.LLM.Providers["openai"] = ProviderConfig{}

	merged := MergePreservingMasked(base, incoming)

	if merged.LLM.Providers["openai"].Auth.Key != "sk-real-secret" {
		t.Errorf("expected real secret preserved when incoming omitted it, got %q", merged.LLM.Providers["openai"].Auth.Key)
	}
	if merged.Gateway.AuthToken != "real-gateway-token" {
		t.Errorf("expected real gateway token preserved when incoming omitted it, got %q", merged.Gateway.AuthToken)
	}
	if merged.Server.Port != 9090 {
		t.Errorf("expected non-secret change to apply, got port %d", merged.Server.Port)
	}
}

func TestMergePreservingMaskedAppliesRealNewSecret(t *testing.T) {
	base := DefaultConfig()
	incoming := DefaultConfig()
	p := incoming.LLM.Providers["openai"]
	p.Auth.Key = "sk-new-secret"
	incoming.LLM.Providers["openai"] = p

	merged := MergePreservingMasked(base, incoming)

	if merged.LLM.Providers["openai"].Auth.Key != "sk-new-secret" {
		t.Errorf("expected new secret to apply, got %q", merged.LLM.Providers["openai"].Auth.Key)
	}
}
