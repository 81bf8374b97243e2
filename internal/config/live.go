// SPDX-License-Identifier: AGPL-3.0-only
package config

import (
	"fmt"
	"sync"
)

// Live is a mutex-guarded, on-disk-backed configuration handle for
// the config CRUD endpoints of §6.1: readers get a consistent
// snapshot, writers replace either one section or the whole document
// and persist it, applying the same preserve-on-masked-secret rule
// Mask/MergePreservingMasked implement.
type Live struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
	args []string
}

// NewLive wraps an already-loaded Config for CRUD access. path and
// args are the same ones passed to Load, kept so Reload can redo the
// full defaults->file->env->flags layering rather than just
// re-reading the file.
func NewLive(cfg *Config, path string, args []string) *Live {
	return &Live{cfg: cfg, path: path, args: args}
}

// Current returns the live, unmasked configuration. Callers that
// serve it over HTTP must call Mask first; internal callers (auth
// middleware, feature checks) need the real values and use this
// directly.
func (l *Live) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cfg := *l.cfg
	return &cfg
}

// sectionOf returns the addressable field of cfg named by section, or
// nil if section doesn't match a known top-level key.
func sectionOf(cfg *Config, section string) interface{} {
	switch section {
	case "server":
		return &cfg.Server
	case "gateway":
		return &cfg.Gateway
	case "llm":
		return &cfg.LLM
	case "skills":
		return &cfg.Skills
	case "agent":
		return &cfg.Agent
	case "scheduler":
		return &cfg.Scheduler
	case "storage":
		return &cfg.Storage
	case "logging":
		return &cfg.Logging
	default:
		return nil
	}
}

// Section returns the masked value of one named section, for
// GET /config/{section}.
func (l *Live) Section(section string) (interface{}, error) {
	l.mu.RLock()
	cfg := *l.cfg
	l.mu.RUnlock()
	masked := Mask(&cfg)
	if v := sectionOf(masked, section); v != nil {
		return v, nil
	}
	return nil, fmt.Errorf("unknown config section %q", section)
}

// Update replaces section (or, when section is empty, the whole
// document) with the corresponding part of incoming, preserving any
// secret field incoming left as the mask placeholder, persists the
// result, and returns the masked updated config.
func (l *Live) Update(section string, incoming *Config) (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	merged := MergePreservingMasked(l.cfg, incoming)
	next := *l.cfg
	if section == "" {
		next = *merged
	} else {
		dst := sectionOf(&next, section)
		src := sectionOf(merged, section)
		if dst == nil || src == nil {
			return nil, fmt.Errorf("unknown config section %q", section)
		}
		if err := copySection(dst, src); err != nil {
			return nil, err
		}
	}

	if err := Validate(&next); err != nil {
		return nil, err
	}
	if err := writeDefaults(l.path, &next); err != nil {
		return nil, err
	}
	l.cfg = &next
	return Mask(l.cfg), nil
}

// Reload re-runs the full defaults->file->env->flags layering from
// disk, discarding any in-memory-only changes.
func (l *Live) Reload() (*Config, error) {
	cfg, err := Load(l.path, l.args)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	return Mask(cfg), nil
}

func copySection(dst, src interface{}) error {
	switch d := dst.(type) {
	case *ServerConfig:
		*d = *src.(*ServerConfig)
	case *GatewayConfig:
		*d = *src.(*GatewayConfig)
	case *LLMConfig:
		*d = *src.(*LLMConfig)
	case *SkillsConfig:
		*d = *src.(*SkillsConfig)
	case *AgentConfig:
		*d = *src.(*AgentConfig)
	case *SchedulerConfig:
		*d = *src.(*SchedulerConfig)
	case *StorageConfig:
		*d = *src.(*StorageConfig)
	case *LoggingConfig:
		*d = *src.(*LoggingConfig)
	default:
		return fmt.Errorf("unsupported config section type %T", dst)
	}
	return nil
}
