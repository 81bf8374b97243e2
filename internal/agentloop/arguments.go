// SPDX-License-Identifier: AGPL-3.0-only
package agentloop

import "encoding/json"

// decodeArguments parses a tool call's raw JSON argument string into
// the map internal/toolexec.Executor expects. An empty string is
// treated as no arguments rather than a parse error, since some
// providers omit the field entirely for zero-argument tools.
func decodeArguments(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}
