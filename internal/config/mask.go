// SPDX-License-Identifier: AGPL-3.0-only
package config

const maskedValue = "***MASKED***"

// Mask returns a deep copy of cfg with every secret field replaced by
// a fixed placeholder, safe to serve from a config-read endpoint.
// Ported from the original's bamboo-config mask()/merge pair (§2.3).
func Mask(cfg *Config) *Config {
	out := *cfg
	out.Server.AdminToken = maskIfSet(cfg.Server.AdminToken)
	out.Gateway.AuthToken = maskIfSet(cfg.Gateway.AuthToken)

	out.LLM.Providers = make(map[string]ProviderConfig, len(cfg.LLM.Providers))
	for id, p := range cfg.LLM.Providers {
		p.Auth.Key = maskIfSet(p.Auth.Key)
		p.Auth.ClientID = maskIfSet(p.Auth.ClientID)
		out.LLM.Providers[id] = p
	}
	return &out
}

func maskIfSet(v string) string {
	if v == "" {
		return ""
	}
	return maskedValue
}

// MergePreservingMasked applies fields from incoming onto base, except
// that a secret field left as the mask placeholder or omitted entirely
// in incoming is treated as "unchanged" and the base's real value is
// kept. Without this, a client that GETs a masked config and POSTs it
// back verbatim would overwrite every real secret with the placeholder
// string, and a client that only sends the fields it wants to change
// would wipe every secret it left out of the body.
func MergePreservingMasked(base, incoming *Config) *Config {
	merged := *incoming

	merged.Server.AdminToken = preserveIfMasked(base.Server.AdminToken, incoming.Server.AdminToken)
	merged.Gateway.AuthToken = preserveIfMasked(base.Gateway.AuthToken, incoming.Gateway.AuthToken)

	merged.LLM.Providers = make(map[string]ProviderConfig, len(incoming.LLM.Providers))
	for id, p := range incoming.LLM.Providers {
		if basep, ok := base.LLM.Providers[id]; ok {
			p.Auth.Key = preserveIfMasked(basep.Auth.Key, p.Auth.Key)
			p.Auth.ClientID = preserveIfMasked(basep.Auth.ClientID, p.Auth.ClientID)
		}
		merged.LLM.Providers[id] = p
	}
	return &merged
}

func preserveIfMasked(baseVal, incomingVal string) string {
	if incomingVal == maskedValue || incomingVal == "" {
		return baseVal
	}
	return incomingVal
}
