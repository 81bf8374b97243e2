// SPDX-License-Identifier: AGPL-3.0-only
package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bigduu/Bamboo/internal/chatmodel"
)

// mcpBridge connects to a skill's declared MCP server and returns its
// tools converted to the canonical ToolDefinition shape. Extracted as
// a field on Manager (rather than a free function call) so tests can
// substitute a fake without spawning a real MCP server process.
type mcpBridge func(spec MCPServerSpec) ([]chatmodel.ToolDefinition, error)

// loadMCPTools is the real bridge, grounded directly on
// jolks-mcp-cron/internal/agent/mcp_tools_loader.go's
// buildToolsFromConfig: connect, ListTools, convert each tool's
// JSON-schema input into a ToolDefinition. Unlike the teacher (which
// loads all configured MCP servers once at startup into one flat
// tool/dispatcher pair), this bridges exactly one server per skill,
// so the resulting tools are swapped in and out along with the rest
// of that skill's catalogue on hot reload.
func loadMCPTools(spec MCPServerSpec) ([]chatmodel.ToolDefinition, error) {
	var transport mcp.Transport
	switch {
	case spec.Command != "":
		transport = mcp.NewCommandTransport(exec.Command(spec.Command, spec.Args...))
	case spec.URL != "":
		transport = mcp.NewSSEClientTransport(spec.URL, nil)
	default:
		return nil, fmt.Errorf("mcp_server declares neither command nor url")
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "bamboo", Version: "1.0.0"}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := client.Connect(ctx, transport)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	resp, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	var out []chatmodel.ToolDefinition
	for _, tl := range resp.Tools {
		params, err := schemaToParams(tl.InputSchema)
		if err != nil {
			continue
		}
		out = append(out, chatmodel.ToolDefinition{
			Name:        tl.Name,
			Description: tl.Description,
			Parameters:  params,
		})
	}
	return out, nil
}

func schemaToParams(schema interface{}) (map[string]interface{}, error) {
	if schema == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var params map[string]interface{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, err
	}
	return params, nil
}
