// SPDX-License-Identifier: AGPL-3.0-only

// Package config loads the layered runtime configuration: compiled-in
// defaults, then a JSON file on disk, then environment variables,
// then command-line flags, each layer overriding the last. Grounded
// on ebrakke-gopherclaw/internal/config/config.go's Load (defaults
// struct literal, os.Stat-or-write-defaults, env override) and
// jolks-mcp-cron/cmd/mcp-cron/main.go's flag wiring, generalized to
// the section layout this runtime needs.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ServerConfig is the plain HTTP surface.
type ServerConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	CORS       bool   `json:"cors"`
	AdminToken string `json:"admin_token,omitempty"`
}

// GatewayConfig is the WebSocket surface.
type GatewayConfig struct {
	Enabled              bool   `json:"enabled"`
	Bind                 string `json:"bind"`
	AuthToken            string `json:"auth_token,omitempty"`
	MaxConnections       int    `json:"max_connections"`
	HeartbeatIntervalSec int    `json:"heartbeat_interval_secs"`
}

// AuthConfig selects and configures one of the Authenticator variants.
type AuthConfig struct {
	Type        string `json:"type"` // api_key | bearer | device_code | none
	Header      string `json:"header,omitempty"`
	Prefix      string `json:"prefix,omitempty"`
	Key         string `json:"key,omitempty"`
	DeviceCodeURL string `json:"device_code_url,omitempty"`
	TokenURL      string `json:"token_url,omitempty"`
	ExchangeURL   string `json:"exchange_url,omitempty"`
	ClientID      string `json:"client_id,omitempty"`
	Scope         string `json:"scope,omitempty"`
}

// ProviderConfig configures one named LLM backend.
type ProviderConfig struct {
	Enabled        bool              `json:"enabled"`
	BaseURL        string            `json:"base_url"`
	Model          string            `json:"model"`
	Headers        map[string]string `json:"headers,omitempty"`
	Auth           AuthConfig        `json:"auth"`
	TimeoutSeconds int               `json:"timeout_seconds"`
}

// LLMConfig picks a default provider among the configured set.
type LLMConfig struct {
	DefaultProvider string                     `json:"default_provider"`
	Providers       map[string]ProviderConfig  `json:"providers"`
}

// SkillsConfig controls the skill manager.
type SkillsConfig struct {
	Enabled     bool     `json:"enabled"`
	AutoReload  bool     `json:"auto_reload"`
	Directories []string `json:"directories"`
}

// AgentConfig bounds the agent loop.
type AgentConfig struct {
	MaxRounds      int    `json:"max_rounds"`
	SystemPrompt   string `json:"system_prompt,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SchedulerConfig controls cron-triggered agent runs.
type SchedulerConfig struct {
	Enabled               bool `json:"enabled"`
	DefaultTimeoutSeconds int  `json:"default_timeout_seconds"`
}

// StorageConfig points at the on-disk session store root.
type StorageConfig struct {
	Type string `json:"type"` // "file" is the only backing type today
	Path string `json:"path"`
}

// LoggingConfig controls internal/logging's output.
type LoggingConfig struct {
	Level    string `json:"level"`
	File     string `json:"file,omitempty"`
	MaxSizeMB int   `json:"max_size_mb"`
	MaxFiles  int   `json:"max_files"`
}

// Config is the full layered configuration document, §6.4.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Gateway   GatewayConfig   `json:"gateway"`
	LLM       LLMConfig       `json:"llm"`
	Skills    SkillsConfig    `json:"skills"`
	Agent     AgentConfig     `json:"agent"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
}

// DefaultConfig returns the compiled-in baseline before any file, env,
// or flag overrides are applied.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	root := filepath.Join(home, ".bamboo")
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8080, CORS: true},
		Gateway: GatewayConfig{
			Enabled: true, Bind: "127.0.0.1:8081",
			MaxConnections: 256, HeartbeatIntervalSec: 30,
		},
		LLM: LLMConfig{
			DefaultProvider: "openai",
			Providers: map[string]ProviderConfig{
				"openai": {
					Enabled: true, BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini",
					Auth: AuthConfig{Type: "bearer"}, TimeoutSeconds: 120,
				},
			},
		},
		Skills: SkillsConfig{Enabled: true, AutoReload: true, Directories: []string{filepath.Join(root, "skills")}},
		Agent:  AgentConfig{MaxRounds: 25, TimeoutSeconds: 300},
		Scheduler: SchedulerConfig{Enabled: true, DefaultTimeoutSeconds: 300},
		Storage:   StorageConfig{Type: "file", Path: filepath.Join(root, "sessions")},
		Logging:   LoggingConfig{Level: "info", MaxSizeMB: 50, MaxFiles: 5},
	}
}

// ExpandHome expands a leading "~" to the user's home directory,
// per §6.3's on-disk layout note.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Load builds the layered configuration: defaults, then path (if it
// exists; otherwise the defaults are written there for next time),
// then environment variables, then flags parsed from args.
func Load(path string, args []string) (*Config, error) {
	cfg := DefaultConfig()

	path = ExpandHome(path)
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	} else if os.IsNotExist(err) {
		if err := writeDefaults(path, cfg); err != nil {
			return nil, err
		}
	} else {
		return nil, fmt.Errorf("stat config file: %w", err)
	}

	applyEnv(cfg)

	if err := applyFlags(cfg, args); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BAMBOO_SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("BAMBOO_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("BAMBOO_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = ExpandHome(v)
	}
	if v := os.Getenv("BAMBOO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BAMBOO_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.AuthToken = v
	}
	for id, p := range cfg.LLM.Providers {
		envKey := "BAMBOO_LLM_" + strings.ToUpper(id) + "_API_KEY"
		if v := os.Getenv(envKey); v != "" {
			p.Auth.Key = v
			cfg.LLM.Providers[id] = p
		}
	}
}

func applyFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("bamboo", flag.ContinueOnError)
	host := fs.String("host", cfg.Server.Host, "HTTP server host")
	port := fs.Int("port", cfg.Server.Port, "HTTP server port")
	storagePath := fs.String("storage-path", cfg.Storage.Path, "session store root directory")
	logLevel := fs.String("log-level", cfg.Logging.Level, "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	cfg.Server.Host = *host
	cfg.Server.Port = *port
	cfg.Storage.Path = ExpandHome(*storagePath)
	cfg.Logging.Level = *logLevel
	return nil
}

func writeDefaults(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename default config: %w", err)
	}
	return nil
}
