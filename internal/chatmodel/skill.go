// SPDX-License-Identifier: AGPL-3.0-only
package chatmodel

// Skill is a directory-packaged bundle declaring one or more tool
// definitions and an optional system-prompt fragment, loaded and
// hot-reloaded by internal/skills.
type Skill struct {
	Name         string           `json:"name" yaml:"name"`
	Version      string           `json:"version" yaml:"version"`
	Description  string           `json:"description" yaml:"description"`
	SystemPrompt string           `json:"system_prompt,omitempty" yaml:"-"`
	Tools        []ToolDefinition `json:"tools" yaml:"-"`
	SourcePath   string           `json:"source_path" yaml:"-"`
}

// ToolNames returns the names of every tool this skill declares, for
// uniqueness validation during load.
func (s Skill) ToolNames() []string {
	names := make([]string, len(s.Tools))
	for i, t := range s.Tools {
		names[i] = t.Name
	}
	return names
}
