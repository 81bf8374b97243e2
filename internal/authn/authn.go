// SPDX-License-Identifier: AGPL-3.0-only

// Package authn implements the Authenticator contract of §4.2:
// pluggable credential attachment for a Provider, polymorphic over
// none/static-key/static-bearer/device-code. The teacher has no
// equivalent (its two providers hold a bare API key string and never
// refresh), so the interface shape and the static variants are
// authored fresh in the teacher's idiom; the device-code variant
// (devicecode.go) is grounded on original_source's
// bamboo-llm/src/auth/{device_code,token}.rs.
package authn

import "context"

// Authenticator attaches credentials to outbound provider requests
// and knows when those credentials need refreshing.
type Authenticator interface {
	// AuthHeader returns the header to attach, or ok=false if this
	// authenticator contributes no header (the none variant).
	AuthHeader(ctx context.Context) (name, value string, ok bool, err error)

	// NeedsRefresh reports whether Refresh should be called before
	// the next request.
	NeedsRefresh() bool

	// Refresh re-establishes credentials. Concurrent callers must
	// observe a single underlying refresh (see devicecode.go).
	Refresh(ctx context.Context) error
}

// None is a no-op Authenticator for backends that require no
// credential (local endpoints, test doubles).
type None struct{}

func (None) AuthHeader(context.Context) (string, string, bool, error) { return "", "", false, nil }
func (None) NeedsRefresh() bool                                       { return false }
func (None) Refresh(context.Context) error                            { return nil }

// StaticBearer always emits Authorization: Bearer <token>.
type StaticBearer struct {
	Token string
}

func (a StaticBearer) AuthHeader(context.Context) (string, string, bool, error) {
	return "Authorization", "Bearer " + a.Token, true, nil
}
func (StaticBearer) NeedsRefresh() bool            { return false }
func (StaticBearer) Refresh(context.Context) error { return nil }

// StaticKey emits a configurable header carrying a raw key value,
// optionally with a prefix. Anthropic's "x-api-key" and OpenAI's
// "Authorization: Bearer <key>" are both expressible as StaticKey
// configurations (Header: "Authorization", Prefix: "Bearer " for the
// latter) rather than needing a bearer-specific special case; the
// separate StaticBearer type exists for config-file ergonomics (a
// provider author writing "auth: bearer" shouldn't also need to spell
// out header/prefix), not because the two types differ in capability.
type StaticKey struct {
	Header string // defaults to "Authorization" if empty
	Prefix string // e.g. "Bearer ", or "" for Anthropic-style raw keys
	Key    string
}

func (a StaticKey) AuthHeader(context.Context) (string, string, bool, error) {
	header := a.Header
	if header == "" {
		header = "Authorization"
	}
	return header, a.Prefix + a.Key, true, nil
}
func (StaticKey) NeedsRefresh() bool            { return false }
func (StaticKey) Refresh(context.Context) error { return nil }
