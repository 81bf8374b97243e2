// SPDX-License-Identifier: AGPL-3.0-only
package authn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestStaticBearer(t *testing.T) {
	a := StaticBearer{Token: "abc"}
	name, value, ok, err := a.AuthHeader(context.Background())
	if err != nil || !ok {
		t.Fatalf("AuthHeader() error = %v, ok = %v", err, ok)
	}
	if name != "Authorization" || value != "Bearer abc" {
		t.Fatalf("got %s: %s, want Authorization: Bearer abc", name, value)
	}
	if a.NeedsRefresh() {
		t.Fatal("static bearer should never need refresh")
	}
}

func TestStaticKeyDefaultsAndCustomHeader(t *testing.T) {
	a := StaticKey{Key: "sk-1"}
	name, value, _, _ := a.AuthHeader(context.Background())
	if name != "Authorization" || value != "sk-1" {
		t.Fatalf("got %s: %s, want default header with raw key", name, value)
	}

	anthropicStyle := StaticKey{Header: "x-api-key", Key: "sk-ant"}
	name, value, _, _ = anthropicStyle.AuthHeader(context.Background())
	if name != "x-api-key" || value != "sk-ant" {
		t.Fatalf("got %s: %s, want x-api-key: sk-ant", name, value)
	}

	bearerStyle := StaticKey{Prefix: "Bearer ", Key: "sk-oai"}
	_, value, _, _ = bearerStyle.AuthHeader(context.Background())
	if value != "Bearer sk-oai" {
		t.Fatalf("got %s, want prefixed bearer value", value)
	}
}

func TestNoneContributesNoHeader(t *testing.T) {
	_, _, ok, err := None{}.AuthHeader(context.Background())
	if err != nil || ok {
		t.Fatalf("None should contribute no header, got ok=%v err=%v", ok, err)
	}
}

func TestCachedTokenGraceWindow(t *testing.T) {
	now := time.Now()

	fresh := &cachedToken{ExpiresAt: now.Add(time.Hour)}
	if fresh.expired(now) {
		t.Fatal("token with an hour left should not be expired")
	}

	withinGrace := &cachedToken{ExpiresAt: now.Add(2 * time.Minute)}
	if !withinGrace.expired(now) {
		t.Fatal("token within the 5-minute grace window should be treated as expired")
	}

	var nilTok *cachedToken
	if !nilTok.expired(now) {
		t.Fatal("nil token must be expired")
	}
}

func TestDeviceCodeFlowEndToEnd(t *testing.T) {
	pollCount := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/device_code", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(deviceCodeResponse{
			DeviceCode:      "dc123",
			UserCode:        "ABCD-1234",
			VerificationURI: "https://example.com/activate",
			ExpiresIn:       900,
			Interval:        1,
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		pollCount++
		if pollCount < 2 {
			json.NewEncoder(w).Encode(tokenPollResponse{Error: "authorization_pending"})
			return
		}
		json.NewEncoder(w).Encode(tokenPollResponse{AccessToken: "access-1"})
	})
	mux.HandleFunc("/exchange", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-1" {
			t.Errorf("exchange request missing bearer access token, got %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(exchangeResponse{Token: "scoped-1", ExpiresAt: time.Now().Add(time.Hour).Unix()})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var promptedCode, promptedURI string
	dc := NewDeviceCode(DeviceCodeConfig{
		DeviceCodeURL: srv.URL + "/device_code",
		TokenURL:      srv.URL + "/token",
		ExchangeURL:   srv.URL + "/exchange",
		ClientID:      "client-1",
		Prompt: func(userCode, verificationURI string) {
			promptedCode, promptedURI = userCode, verificationURI
		},
	})
	if !dc.NeedsRefresh() {
		t.Fatal("a fresh authenticator with no cached token must need refresh")
	}

	if err := dc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if promptedCode != "ABCD-1234" || promptedURI != "https://example.com/activate" {
		t.Fatalf("prompt callback got (%q, %q)", promptedCode, promptedURI)
	}

	name, value, ok, err := dc.AuthHeader(context.Background())
	if err != nil || !ok {
		t.Fatalf("AuthHeader after refresh: ok=%v err=%v", ok, err)
	}
	if name != "Authorization" || value != "Bearer scoped-1" {
		t.Fatalf("got %s: %s, want the exchanged scoped token", name, value)
	}

	if dc.NeedsRefresh() {
		t.Fatal("token just refreshed with an hour of validity should not need refresh")
	}
}

func TestDeviceCodeExpiredTokenFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/device_code", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(deviceCodeResponse{DeviceCode: "dc1", ExpiresIn: 900, Interval: 1})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(tokenPollResponse{Error: "expired_token"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dc := NewDeviceCode(DeviceCodeConfig{
		DeviceCodeURL: srv.URL + "/device_code",
		TokenURL:      srv.URL + "/token",
	})

	err := dc.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected DeviceCodeExpired error")
	}
}
