// SPDX-License-Identifier: AGPL-3.0-only
package provider

// Capabilities gates which request fields a provider forwards, per
// §4.3's provider config.
type Capabilities struct {
	Streaming   bool
	ToolCalling bool
	Vision      bool
	JSONMode    bool
}

// Config describes one configured backend connection. Grounded on
// jolks-mcp-cron's NewOpenAIProvider(apiKey, baseURL)/
// NewAnthropicProvider(apiKey) constructors, generalized into a single
// struct shared by both backends since this package owns HTTP/SSE
// transport directly instead of delegating to either vendor SDK.
type Config struct {
	ID       string
	Name     string
	BaseURL  string
	ChatPath string // defaults to "/chat/completions"

	Headers map[string]string // static custom headers, sent on every request

	TimeoutSeconds int // per-request timeout; 0 means DefaultTimeoutSeconds

	Capabilities Capabilities
}

// DefaultTimeoutSeconds mirrors the teacher's use of a bounded
// context.WithTimeout around command execution in run_task.go.
const DefaultTimeoutSeconds = 120
