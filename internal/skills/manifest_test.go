// SPDX-License-Identifier: AGPL-3.0-only
package skills

import "testing"

const sampleManifest = `---
name: weather
version: "1.0.0"
description: Look up current weather
tools:
  - name: get_weather
    description: fetch current conditions for a city
    command: ./get_weather.sh
    args:
      - name: city
        type: string
        required: true
---

You are a weather assistant. Use get_weather for current conditions.

<!-- system-prompt-end -->

This section documents internal operational notes that must never
reach the model.
`

func TestParseManifestSplitsFrontmatterAndSystemPrompt(t *testing.T) {
	m, err := ParseManifest([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.Name != "weather" || m.Version != "1.0.0" {
		t.Fatalf("unexpected manifest fields: %+v", m)
	}
	if len(m.Tools) != 1 || m.Tools[0].Name != "get_weather" {
		t.Fatalf("unexpected tools: %+v", m.Tools)
	}
	if len(m.Tools[0].Args) != 1 || !m.Tools[0].Args[0].Required {
		t.Fatalf("unexpected arg def: %+v", m.Tools[0].Args)
	}
	want := "You are a weather assistant. Use get_weather for current conditions."
	if m.SystemPrompt != want {
		t.Fatalf("SystemPrompt = %q, want %q", m.SystemPrompt, want)
	}
}

func TestParseManifestRequiresName(t *testing.T) {
	_, err := ParseManifest([]byte("---\nversion: \"1\"\n---\nbody\n"))
	if err == nil {
		t.Fatal("expected an error for a manifest missing name")
	}
}

func TestParseManifestRequiresFrontmatterDelimiters(t *testing.T) {
	_, err := ParseManifest([]byte("no frontmatter here"))
	if err == nil {
		t.Fatal("expected an error for a manifest with no frontmatter block")
	}
}

func TestParseManifestWholeBodyIsSystemPromptWithoutMarker(t *testing.T) {
	doc := "---\nname: x\n---\njust the prompt, no marker\n"
	m, err := ParseManifest([]byte(doc))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.SystemPrompt != "just the prompt, no marker" {
		t.Fatalf("SystemPrompt = %q", m.SystemPrompt)
	}
}
