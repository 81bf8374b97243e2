// SPDX-License-Identifier: AGPL-3.0-only
package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Validate enforces §6.4's field constraints: port ranges, bind
// address shape, non-empty required paths, and enum membership.
func Validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range 1-65535", cfg.Server.Port)
	}
	if cfg.Gateway.Enabled {
		if err := validateBind(cfg.Gateway.Bind); err != nil {
			return fmt.Errorf("gateway.bind: %w", err)
		}
	}
	if cfg.Storage.Path == "" || strings.ContainsRune(cfg.Storage.Path, 0) {
		return fmt.Errorf("storage.path must be non-empty and contain no null bytes")
	}
	if cfg.LLM.DefaultProvider == "" {
		return fmt.Errorf("llm.default_provider must be set")
	}
	if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
		return fmt.Errorf("llm.default_provider %q not present in llm.providers", cfg.LLM.DefaultProvider)
	}
	for id, p := range cfg.LLM.Providers {
		switch p.Auth.Type {
		case "api_key", "bearer", "device_code", "none":
		default:
			return fmt.Errorf("llm.providers.%s.auth.type %q is not one of api_key, bearer, device_code, none", id, p.Auth.Type)
		}
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}
	if cfg.Storage.Type != "file" {
		return fmt.Errorf("storage.type %q is not supported (only \"file\")", cfg.Storage.Type)
	}
	return nil
}

func validateBind(bind string) error {
	host, portStr, err := splitHostPort(bind)
	if err != nil {
		return err
	}
	if host == "" {
		return fmt.Errorf("missing host in %q", bind)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port in %q", bind)
	}
	return nil
}

func splitHostPort(bind string) (host, port string, err error) {
	i := strings.LastIndex(bind, ":")
	if i < 0 {
		return "", "", fmt.Errorf("expected host:port, got %q", bind)
	}
	return bind[:i], bind[i+1:], nil
}
