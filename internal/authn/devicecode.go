// SPDX-License-Identifier: AGPL-3.0-only
package authn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bigduu/Bamboo/internal/apperrors"
	"github.com/bigduu/Bamboo/internal/logging"
)

// grace is how long before a cached token's real expiry it is treated
// as already expired, per §4.2's cache invariants.
const grace = 5 * time.Minute

// DeviceCodeConfig configures the OAuth device-authorization flow
// plus the secondary exchange Copilot-style backends require.
type DeviceCodeConfig struct {
	DeviceCodeURL string // POST here to start the flow
	TokenURL      string // poll here for the access token
	ExchangeURL   string // exchange access token for a scoped token; empty to skip
	ClientID      string
	Scope         string
	CachePath     string // user-scoped token cache file

	// Prompt is invoked once per fresh device-code flow with the
	// user_code and verification_uri the caller must display.
	Prompt func(userCode, verificationURI string)
}

type cachedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (t *cachedToken) expired(now time.Time) bool {
	return t == nil || now.After(t.ExpiresAt.Add(-grace))
}

// DeviceCode implements Authenticator via the OAuth device-code flow,
// grounded on bamboo-llm/src/auth/{device_code,token}.rs: device-code
// request, interval-governed poll, scoped-token exchange, and a cache
// file with a grace-window expiry. Concurrent refreshes are
// serialized with golang.org/x/sync/singleflight rather than the
// ad-hoc mutex+channel the original sketches, since the retrieval
// pack (ebrakke-gopherclaw's go.mod) already pulls in
// golang.org/x/sync for this exact purpose.
type DeviceCode struct {
	cfg    DeviceCodeConfig
	client *http.Client

	mu    sync.Mutex
	token *cachedToken
	sf    singleflight.Group
}

func NewDeviceCode(cfg DeviceCodeConfig) *DeviceCode {
	dc := &DeviceCode{cfg: cfg, client: &http.Client{Timeout: 30 * time.Second}}
	if tok, err := loadCache(cfg.CachePath); err == nil {
		dc.token = tok
	}
	return dc
}

func (dc *DeviceCode) AuthHeader(ctx context.Context) (string, string, bool, error) {
	dc.mu.Lock()
	tok := dc.token
	dc.mu.Unlock()
	if tok == nil {
		return "", "", false, &apperrors.AuthError{Kind: apperrors.AuthFailed, Message: "no cached token; call Refresh first"}
	}
	return "Authorization", "Bearer " + tok.AccessToken, true, nil
}

func (dc *DeviceCode) NeedsRefresh() bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.token.expired(time.Now())
}

// Refresh re-runs the device-code flow, or the lighter scoped-token
// exchange if a still-valid access token only needs re-exchanging.
// Concurrent callers collapse onto a single in-flight flow.
func (dc *DeviceCode) Refresh(ctx context.Context) error {
	_, err, _ := dc.sf.Do("refresh", func() (interface{}, error) {
		tok, err := dc.runFlow(ctx)
		if err != nil {
			return nil, err
		}
		dc.mu.Lock()
		dc.token = tok
		dc.mu.Unlock()
		if err := saveCache(dc.cfg.CachePath, tok); err != nil {
			logging.GetDefaultLogger().Warnf("authn: cache token: %v", err)
		}
		return nil, nil
	})
	return err
}

type deviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

type tokenPollResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

type exchangeResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"` // unix seconds
}

func (dc *DeviceCode) runFlow(ctx context.Context) (*cachedToken, error) {
	dcResp, err := dc.requestDeviceCode(ctx)
	if err != nil {
		return nil, err
	}

	if dc.cfg.Prompt != nil {
		dc.cfg.Prompt(dcResp.UserCode, dcResp.VerificationURI)
	}

	accessToken, err := dc.pollForToken(ctx, dcResp)
	if err != nil {
		return nil, err
	}

	if dc.cfg.ExchangeURL == "" {
		return &cachedToken{AccessToken: accessToken, ExpiresAt: time.Now().Add(24 * time.Hour)}, nil
	}
	return dc.exchange(ctx, accessToken)
}

func (dc *DeviceCode) requestDeviceCode(ctx context.Context) (*deviceCodeResponse, error) {
	form := url.Values{"client_id": {dc.cfg.ClientID}, "scope": {dc.cfg.Scope}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dc.cfg.DeviceCodeURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, &apperrors.AuthError{Kind: apperrors.AuthFailed, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := dc.client.Do(req)
	if err != nil {
		return nil, &apperrors.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	var out deviceCodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &apperrors.AuthError{Kind: apperrors.AuthFailed, Message: "decode device code response: " + err.Error()}
	}
	if out.Interval == 0 {
		out.Interval = 5
	}
	return &out, nil
}

func (dc *DeviceCode) pollForToken(ctx context.Context, dcResp *deviceCodeResponse) (string, error) {
	interval := time.Duration(dcResp.Interval) * time.Second
	deadline := time.Now().Add(time.Duration(dcResp.ExpiresIn) * time.Second)

	for {
		if time.Now().After(deadline) {
			return "", &apperrors.AuthError{Kind: apperrors.DeviceCodeExpired, Message: "device code expired before authorization"}
		}

		select {
		case <-ctx.Done():
			return "", apperrors.Cancelled
		case <-time.After(interval):
		}

		form := url.Values{
			"client_id":   {dc.cfg.ClientID},
			"device_code": {dcResp.DeviceCode},
			"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, dc.cfg.TokenURL, bytes.NewBufferString(form.Encode()))
		if err != nil {
			return "", &apperrors.AuthError{Kind: apperrors.AuthFailed, Message: err.Error()}
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, err := dc.client.Do(req)
		if err != nil {
			return "", &apperrors.NetworkError{Err: err}
		}
		var poll tokenPollResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&poll)
		resp.Body.Close()
		if decodeErr != nil {
			return "", &apperrors.AuthError{Kind: apperrors.AuthFailed, Message: "decode token poll response: " + decodeErr.Error()}
		}

		switch poll.Error {
		case "":
			if poll.AccessToken != "" {
				return poll.AccessToken, nil
			}
		case "authorization_pending":
			continue
		case "slow_down":
			interval += 5 * time.Second
			continue
		case "expired_token":
			return "", &apperrors.AuthError{Kind: apperrors.DeviceCodeExpired, Message: "device code expired"}
		case "access_denied":
			return "", &apperrors.AuthError{Kind: apperrors.AccessDenied, Message: "user denied authorization"}
		default:
			return "", &apperrors.AuthError{Kind: apperrors.AuthFailed, Message: poll.Error}
		}
	}
}

func (dc *DeviceCode) exchange(ctx context.Context, accessToken string) (*cachedToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dc.cfg.ExchangeURL, nil)
	if err != nil {
		return nil, &apperrors.AuthError{Kind: apperrors.AuthFailed, Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := dc.client.Do(req)
	if err != nil {
		return nil, &apperrors.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	var out exchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &apperrors.AuthError{Kind: apperrors.AuthFailed, Message: "decode exchange response: " + err.Error()}
	}
	return &cachedToken{AccessToken: out.Token, ExpiresAt: time.Unix(out.ExpiresAt, 0)}, nil
}

func loadCache(path string) (*cachedToken, error) {
	if path == "" {
		return nil, fmt.Errorf("no cache path configured")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok cachedToken
	if err := json.Unmarshal(b, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func saveCache(path string, tok *cachedToken) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
