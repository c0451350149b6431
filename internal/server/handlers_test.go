package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Leikymain/chatbot-api/internal/auth"
	"github.com/Leikymain/chatbot-api/internal/client"
	"github.com/Leikymain/chatbot-api/internal/domain"
	"github.com/Leikymain/chatbot-api/internal/gateway"
	"github.com/Leikymain/chatbot-api/internal/ratelimit"
	"github.com/Leikymain/chatbot-api/internal/storage/memory"
)

const testSecret = "test-secret"

type stubProvider struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(_ context.Context, req *domain.CompletionRequest) (*domain.CompletionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &domain.CompletionResult{
		Text:  s.text,
		Model: req.Model,
		Usage: domain.Usage{InputTokens: 12, OutputTokens: 8},
	}, nil
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type testEnv struct {
	server   *httptest.Server
	provider *stubProvider
	store    *memory.Store
}

func newTestEnv(t *testing.T, limit int) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := &stubProvider{text: "hello there"}
	store := memory.New()

	pipeline := gateway.New(
		auth.NewStaticVerifier(testSecret),
		ratelimit.New(limit, time.Minute, 128),
		client.NewRegistry(nil),
		provider,
		"claude-sonnet-4-5-20250929",
		5*time.Second,
		gateway.WithStore(store),
		gateway.WithLogger(logger),
	)

	srv := New(0, logger, time.Minute)
	handler := NewHandler(pipeline, client.NewRegistry(nil), auth.NewStaticVerifier(testSecret), logger, WithUsageStore(store))
	handler.Routes(srv.Router)

	ts := httptest.NewServer(srv.Router)
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, provider: provider, store: store}
}

func (e *testEnv) chat(t *testing.T, token string, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/chat", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, resp *http.Response) (string, string) {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return envelope.Error.Type, envelope.Error.Message
}

func TestChatEndToEnd(t *testing.T) {
	env := newTestEnv(t, 30)

	resp := env.chat(t, testSecret, `{"client_id":"demo","messages":[{"role":"user","content":"hi"}]}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Request-ID"); got == "" {
		t.Error("expected X-Request-ID header")
	}
	if got := resp.Header.Get("x-ratelimit-limit-requests"); got != "30" {
		t.Errorf("expected limit header 30, got %q", got)
	}
	if got := resp.Header.Get("x-ratelimit-remaining-requests"); got != "29" {
		t.Errorf("expected remaining header 29, got %q", got)
	}
	if got := resp.Header.Get("x-ratelimit-reset-requests"); got == "" {
		t.Error("expected reset header")
	}

	var chat domain.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if chat.Response != "hello there" {
		t.Errorf("unexpected response text %q", chat.Response)
	}
	if chat.TokensUsed != 20 {
		t.Errorf("expected 20 tokens used, got %d", chat.TokensUsed)
	}
	if chat.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestChatMissingCredential(t *testing.T) {
	env := newTestEnv(t, 30)

	resp := env.chat(t, "", `{"client_id":"demo","messages":[{"role":"user","content":"hi"}]}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("x-ratelimit-limit-requests"); got != "" {
		t.Errorf("unexpected rate limit header on auth failure: %q", got)
	}
	errType, _ := decodeError(t, resp)
	if errType != "unauthenticated" {
		t.Errorf("expected unauthenticated, got %q", errType)
	}
	if env.provider.callCount() != 0 {
		t.Errorf("provider should not be called, got %d calls", env.provider.callCount())
	}
}

func TestChatWrongCredential(t *testing.T) {
	env := newTestEnv(t, 30)

	resp := env.chat(t, "wrong", `{"client_id":"demo","messages":[{"role":"user","content":"hi"}]}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	errType, _ := decodeError(t, resp)
	if errType != "rejected" {
		t.Errorf("expected rejected, got %q", errType)
	}
	if env.provider.callCount() != 0 {
		t.Errorf("provider should not be called, got %d calls", env.provider.callCount())
	}
}

func TestChatValidation(t *testing.T) {
	env := newTestEnv(t, 30)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{not json`},
		{"missing client_id", `{"messages":[{"role":"user","content":"hi"}]}`},
		{"empty messages", `{"client_id":"demo","messages":[]}`},
		{"blank content", `{"client_id":"demo","messages":[{"role":"user","content":"  "}]}`},
		{"bad role", `{"client_id":"demo","messages":[{"role":"system","content":"hi"}]}`},
		{"non-positive max_tokens", `{"client_id":"demo","messages":[{"role":"user","content":"hi"}],"max_tokens":0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.chat(t, testSecret, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
			errType, _ := decodeError(t, resp)
			if errType != "invalid_request" {
				t.Errorf("expected invalid_request, got %q", errType)
			}
		})
	}
	if env.provider.callCount() != 0 {
		t.Errorf("provider should not be called for invalid requests, got %d calls", env.provider.callCount())
	}
}

func TestChatUnknownClient(t *testing.T) {
	env := newTestEnv(t, 30)

	resp := env.chat(t, testSecret, `{"client_id":"nope","messages":[{"role":"user","content":"hi"}]}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	errType, msg := decodeError(t, resp)
	if errType != "not_found" {
		t.Errorf("expected not_found, got %q", errType)
	}
	if !strings.Contains(msg, "nope") {
		t.Errorf("expected message to name the client, got %q", msg)
	}
	// The failed resolution still consumed a rate limit slot.
	if got := resp.Header.Get("x-ratelimit-remaining-requests"); got != "29" {
		t.Errorf("expected remaining 29, got %q", got)
	}
}

func TestChatThrottled(t *testing.T) {
	env := newTestEnv(t, 2)

	body := `{"client_id":"demo","messages":[{"role":"user","content":"hi"}]}`
	for i := 0; i < 2; i++ {
		resp := env.chat(t, testSecret, body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, resp.StatusCode)
		}
	}

	resp := env.chat(t, testSecret, body)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("x-ratelimit-remaining-requests"); got != "0" {
		t.Errorf("expected remaining 0, got %q", got)
	}
	errType, _ := decodeError(t, resp)
	if errType != "throttled" {
		t.Errorf("expected throttled, got %q", errType)
	}
	if env.provider.callCount() != 2 {
		t.Errorf("expected exactly 2 upstream calls, got %d", env.provider.callCount())
	}
}

func TestChatUpstreamUnavailable(t *testing.T) {
	env := newTestEnv(t, 30)
	env.provider.err = domain.ErrUpstreamUnavailable("upstream request failed")

	resp := env.chat(t, testSecret, `{"client_id":"demo","messages":[{"role":"user","content":"hi"}]}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	errType, _ := decodeError(t, resp)
	if errType != "upstream_unavailable" {
		t.Errorf("expected upstream_unavailable, got %q", errType)
	}
}

func TestChatSimple(t *testing.T) {
	env := newTestEnv(t, 30)

	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/chat/simple?message=hola", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var chat domain.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if chat.Response != "hello there" {
		t.Errorf("unexpected response %q", chat.Response)
	}
}

func TestChatSimpleEmptyMessage(t *testing.T) {
	env := newTestEnv(t, 30)

	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/chat/simple", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestListClients(t *testing.T) {
	env := newTestEnv(t, 30)

	// No credential required; the listing degrades to anonymous.
	resp, err := env.server.Client().Get(env.server.URL + "/clients")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Clients []string                  `json:"clients"`
		Configs map[string]map[string]any `json:"configs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	want := []string{"demo", "ecommerce", "support"}
	if len(body.Clients) != len(want) {
		t.Fatalf("expected %d clients, got %v", len(want), body.Clients)
	}
	for i, id := range want {
		if body.Clients[i] != id {
			t.Errorf("clients[%d] = %q, want %q", i, body.Clients[i], id)
		}
		if _, ok := body.Configs[id]; !ok {
			t.Errorf("missing config for %q", id)
		}
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 30)

	resp, err := env.server.Client().Get(env.server.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", body["status"])
	}
}

func TestRoot(t *testing.T) {
	env := newTestEnv(t, 30)

	resp, err := env.server.Client().Get(env.server.URL + "/")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["service"] != "chatbot-api" {
		t.Errorf("expected service name, got %v", body["service"])
	}
}

func TestListUsage(t *testing.T) {
	env := newTestEnv(t, 30)

	resp := env.chat(t, testSecret, `{"client_id":"demo","messages":[{"role":"user","content":"hi"}]}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat failed with %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/usage?client_id=demo", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	usageResp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer usageResp.Body.Close()

	if usageResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", usageResp.StatusCode)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(usageResp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Count != 1 {
		t.Errorf("expected 1 usage record, got %d", body.Count)
	}
}

func TestListUsageRequiresAuth(t *testing.T) {
	env := newTestEnv(t, 30)

	resp, err := env.server.Client().Get(env.server.URL + "/usage")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestListUsageInvalidLimit(t *testing.T) {
	env := newTestEnv(t, 30)

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/usage?limit=abc", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{"forwarded single", "203.0.113.7", "10.0.0.1:1234", "203.0.113.7"},
		{"forwarded chain", "203.0.113.7, 10.0.0.2", "10.0.0.1:1234", "203.0.113.7"},
		{"forwarded padded", "  203.0.113.7  ", "10.0.0.1:1234", "203.0.113.7"},
		{"no forwarded", "", "10.0.0.1:1234", "10.0.0.1"},
		{"remote without port", "", "10.0.0.1", "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(r); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
