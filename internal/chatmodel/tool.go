// SPDX-License-Identifier: AGPL-3.0-only
package chatmodel

import "encoding/json"

// ArgType is the declared type of a tool argument. Grounded on
// bamboo-tool/src/types.rs's ArgType enum.
type ArgType string

const (
	ArgString  ArgType = "string"
	ArgNumber  ArgType = "number"
	ArgBoolean ArgType = "boolean"
	ArgArray   ArgType = "array"
	ArgObject  ArgType = "object"
)

// Matches reports whether a decoded JSON value is of this argument's
// declared type.
func (t ArgType) Matches(v interface{}) bool {
	switch t {
	case ArgString:
		_, ok := v.(string)
		return ok
	case ArgNumber:
		_, ok := v.(float64)
		return ok
	case ArgBoolean:
		_, ok := v.(bool)
		return ok
	case ArgArray:
		_, ok := v.([]interface{})
		return ok
	case ArgObject:
		_, ok := v.(map[string]interface{})
		return ok
	default:
		return false
	}
}

// ArgDef declares one argument a tool accepts.
type ArgDef struct {
	Name        string      `json:"name" yaml:"name"`
	Type        ArgType     `json:"type" yaml:"type"`
	Required    bool        `json:"required" yaml:"required"`
	Default     interface{} `json:"default,omitempty" yaml:"default,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
}

// ToolImplementation is the executable side of a tool: the resolved
// command path and its declared argument shape. Kept separate from
// ToolDefinition's model-facing fields (name/description/parameters)
// because the agent loop and provider never need the command path,
// only the tool executor does.
type ToolImplementation struct {
	Command string   `json:"command"`
	Args    []ArgDef `json:"args"`
}

// ToolDefinition is a provider-agnostic, model-facing description of
// a tool the agent loop can offer an LLM, plus (optionally) the
// executable implementation backing it.
type ToolDefinition struct {
	Name           string                 `json:"name"`
	Description    string                 `json:"description,omitempty"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	Implementation ToolImplementation     `json:"implementation"`
}

// JSONSchema builds a minimal JSON-schema "object" fragment from the
// implementation's ArgDefs, for tools defined by a skill manifest
// rather than handed a schema directly (e.g. from an MCP server).
func (t ToolDefinition) JSONSchema() map[string]interface{} {
	if t.Parameters != nil {
		return t.Parameters
	}
	props := map[string]interface{}{}
	var required []string
	for _, a := range t.Implementation.Args {
		prop := map[string]interface{}{"type": string(a.Type)}
		if a.Description != "" {
			prop["description"] = a.Description
		}
		if a.Default != nil {
			prop["default"] = a.Default
		}
		props[a.Name] = prop
		if a.Required {
			required = append(required, a.Name)
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ToolResult is the outcome of invoking a tool.
type ToolResult struct {
	Success    bool   `json:"success"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// SuccessResult builds a successful ToolResult.
func SuccessResult(output string, durationMS int64) ToolResult {
	return ToolResult{Success: true, Output: output, DurationMS: durationMS}
}

// FailureResult builds a failed ToolResult.
func FailureResult(errMsg string, durationMS int64) ToolResult {
	return ToolResult{Success: false, Error: errMsg, DurationMS: durationMS}
}

// MarshalArguments re-serializes a ToolCall's decoded argument map
// back to a canonical JSON string, used when dispatcher code needs to
// hand a normalized argument string to a downstream MCP call.
func MarshalArguments(args map[string]interface{}) (string, error) {
	b, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
