// SPDX-License-Identifier: AGPL-3.0-only

// Package provider implements the generic HTTP+streaming Provider of
// §4.3: a transport that owns the request/response lifecycle and the
// SSE line assembly for any backend reachable via an OpenAI- or
// Anthropic-shaped chat-completions endpoint, parameterized by a
// transformer.Transformer and an authn.Authenticator held as struct
// fields (composition over generics, since the concrete pairing is
// chosen at config-load time).
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bigduu/Bamboo/internal/apperrors"
	"github.com/bigduu/Bamboo/internal/authn"
	"github.com/bigduu/Bamboo/internal/chatmodel"
	"github.com/bigduu/Bamboo/internal/logging"
	"github.com/bigduu/Bamboo/internal/transformer"
)

// Provider sends chat requests to one configured backend and
// normalizes its streaming response into chatmodel.Chunks.
type Provider struct {
	Config      Config
	Transformer transformer.Transformer
	Auth        authn.Authenticator

	client *http.Client
	log    *logging.Logger
}

// New builds a Provider with its own *http.Client, whose timeout is
// Config.TimeoutSeconds (or DefaultTimeoutSeconds when that is not
// positive).
func New(cfg Config, t transformer.Transformer, a authn.Authenticator) *Provider {
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds
	}
	return &Provider{
		Config:      cfg,
		Transformer: t,
		Auth:        a,
		client:      &http.Client{Timeout: time.Duration(timeout) * time.Second},
		log:         logging.GetDefaultLogger().WithField("provider", cfg.ID),
	}
}

// Chat performs a non-streaming call by accumulating ChatStream's
// output until the terminal chunk, per §4.3.
func (p *Provider) Chat(ctx context.Context, req chatmodel.ChatRequest) (*chatmodel.ChatResponse, error) {
	chunks, err := p.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return AggregateChunks(chunks)
}

// ChatStream sends req and returns a channel of normalized chunks.
// The channel is closed after the terminal chunk or when ctx is
// cancelled. The request is always transformed with Stream=true: the
// transport always consumes an SSE body, even when the caller invokes
// Chat rather than ChatStream directly.
func (p *Provider) ChatStream(ctx context.Context, req chatmodel.ChatRequest) (<-chan chatmodel.Chunk, error) {
	if p.Auth.NeedsRefresh() {
		if err := p.Auth.Refresh(ctx); err != nil {
			return nil, &apperrors.AuthError{Kind: apperrors.AuthFailed, Message: "refresh: " + err.Error()}
		}
	}

	streamReq := req
	streamReq.Stream = true
	body, err := p.Transformer.TransformRequest(streamReq)
	if err != nil {
		return nil, err
	}

	httpReq, err := p.buildRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &apperrors.NetworkError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, classifyError(resp)
	}

	out := make(chan chatmodel.Chunk)
	go p.pump(ctx, resp.Body, out)
	return out, nil
}

func (p *Provider) buildRequest(ctx context.Context, body []byte) (*http.Request, error) {
	path := p.Config.ChatPath
	if path == "" {
		path = "/chat/completions"
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &apperrors.NetworkError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range p.Config.Headers {
		httpReq.Header.Set(k, v)
	}
	if name, value, ok, err := p.Auth.AuthHeader(ctx); err != nil {
		return nil, &apperrors.AuthError{Kind: apperrors.AuthFailed, Message: err.Error()}
	} else if ok {
		httpReq.Header.Set(name, value)
	}
	return httpReq, nil
}

// classifyError maps a non-2xx response to the taxonomy of §4.3 step 5.
func classifyError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))

	switch {
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		return &apperrors.AuthError{Kind: apperrors.AuthFailed, Message: msg}
	case resp.StatusCode == 429:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return &apperrors.RateLimitedError{RetryAfter: retryAfter}
	case resp.StatusCode >= 500:
		return &apperrors.APIError{Status: resp.StatusCode, Message: msg, Retryable: true}
	default:
		return &apperrors.APIError{Status: resp.StatusCode, Message: msg, Retryable: false}
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// pump runs the SSE assembler over body, dispatching each logical
// payload through the transformer and forwarding the resulting chunks
// to out. It owns closing both body and out.
func (p *Provider) pump(ctx context.Context, body io.ReadCloser, out chan<- chatmodel.Chunk) {
	defer body.Close()
	defer close(out)

	la := &lineAssembler{}
	buf := make([]byte, 4096)

	emit := func(line string) (done bool) {
		payload, ok := ssePayload(line)
		if !ok {
			return false
		}
		chunk, err := p.Transformer.ParseStreamChunk([]byte(payload))
		if err != nil {
			select {
			case out <- chatmodel.ErrorChunk(err.Error()):
			case <-ctx.Done():
			}
			return true
		}
		if chunk == nil {
			return false
		}
		select {
		case out <- *chunk:
		case <-ctx.Done():
			return true
		}
		return chunk.Kind == chatmodel.ChunkFinish
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			for _, line := range la.feed(buf[:n]) {
				if emit(line) {
					return
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				if rest := la.flush(); rest != "" {
					emit(rest)
				}
				return
			}
			p.log.Warnf("stream read: %v", err)
			select {
			case out <- chatmodel.ErrorChunk(fmt.Sprintf("stream read: %v", err)):
			case <-ctx.Done():
			}
			return
		}
	}
}

// ssePayload strips the "data:" prefix from a logical SSE line,
// skipping blank lines and any non-data field (event:, id:, retry:).
func ssePayload(line string) (string, bool) {
	if line == "" {
		return "", false
	}
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}
