// SPDX-License-Identifier: AGPL-3.0-only

// Package skills implements the Skill Manager of §4.5: manifest
// parsing, filesystem discovery, debounced hot reload, and the
// atomically-swapped {tool_name -> ToolDefinition} registry the agent
// loop reads from. Grounded on bamboo-skill/src/{manifest,types,
// watcher,manager}.rs for the manifest shape and watch/reload
// algorithm (translated to Go idiom, fixing the two gaps noted in
// DESIGN.md: no debounce, non-atomic swap), and on
// jolks-mcp-cron/internal/agent/mcp_tools_loader.go for bridging an
// MCP server's tool list into a skill's own (mcpbridge.go).
package skills

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/bigduu/Bamboo/internal/chatmodel"
)

// systemPromptEndMarker lets a manifest's markdown body mix a
// system-prompt section with trailing human documentation that should
// not be sent to the model.
const systemPromptEndMarker = "<!-- system-prompt-end -->"

// MCPServerSpec declares an MCP server a skill bridges tools from.
type MCPServerSpec struct {
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	URL     string   `yaml:"url,omitempty"`
}

// ManifestTool is one tool entry in a skill manifest's frontmatter.
type ManifestTool struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Command     string             `yaml:"command"`
	Args        []chatmodel.ArgDef `yaml:"args"`
}

// Manifest is a skill's parsed frontmatter plus its derived system
// prompt.
type Manifest struct {
	Name        string         `yaml:"name"`
	Version     string         `yaml:"version"`
	Description string         `yaml:"description"`
	Tools       []ManifestTool `yaml:"tools"`
	MCPServer   *MCPServerSpec `yaml:"mcp_server,omitempty"`

	SystemPrompt string `yaml:"-"`
}

// ParseManifest splits data into YAML frontmatter (delimited by `---`
// lines) and a markdown body, unmarshals the frontmatter, and derives
// SystemPrompt from the body up to systemPromptEndMarker (or the
// whole body if the marker is absent).
func ParseManifest(data []byte) (*Manifest, error) {
	frontmatter, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(frontmatter, &m); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("manifest missing required field: name")
	}

	m.SystemPrompt = extractSystemPrompt(body)
	return &m, nil
}

func splitFrontmatter(data []byte) (frontmatter, body []byte, err error) {
	const delim = "---"
	lines := bytes.Split(data, []byte("\n"))

	start := -1
	for i, line := range lines {
		if bytes.Equal(bytes.TrimSpace(line), []byte(delim)) {
			start = i
			break
		}
		if len(bytes.TrimSpace(line)) != 0 {
			break // non-blank, non-delimiter content before frontmatter
		}
	}
	if start < 0 {
		return nil, nil, fmt.Errorf("manifest missing opening --- frontmatter delimiter")
	}

	end := -1
	for i := start + 1; i < len(lines); i++ {
		if bytes.Equal(bytes.TrimSpace(lines[i]), []byte(delim)) {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, nil, fmt.Errorf("manifest missing closing --- frontmatter delimiter")
	}

	frontmatter = bytes.Join(lines[start+1:end], []byte("\n"))
	body = bytes.Join(lines[end+1:], []byte("\n"))
	return frontmatter, body, nil
}

func extractSystemPrompt(body []byte) string {
	if idx := bytes.Index(body, []byte(systemPromptEndMarker)); idx >= 0 {
		body = body[:idx]
	}
	return string(bytes.TrimSpace(body))
}

// toolDefinitions converts a manifest's declared tools into the
// canonical ToolDefinition shape. Command is left relative; manager.go
// resolves it to an absolute, canonicalized path once the skill's
// directory is known, per §4.5's load algorithm step 4.
func (m *Manifest) toolDefinitions() []chatmodel.ToolDefinition {
	out := make([]chatmodel.ToolDefinition, len(m.Tools))
	for i, t := range m.Tools {
		out[i] = chatmodel.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Implementation: chatmodel.ToolImplementation{
				Command: t.Command,
				Args:    t.Args,
			},
		}
	}
	return out
}
