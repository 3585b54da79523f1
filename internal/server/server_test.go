package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"mindmate-be/internal/bootstrap"
	"mindmate-be/internal/config"
	"mindmate-be/internal/pkg/logger"
	"mindmate-be/internal/pkg/ratelimit"
	"mindmate-be/internal/pkg/testdb"
	"mindmate-be/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type stubProvider struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (p *stubProvider) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return p.reply, nil
}

func (p *stubProvider) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

type harness struct {
	t        *testing.T
	srv      *Server
	provider *stubProvider
}

func newHarness(t *testing.T, limiter ratelimit.Limiter) *harness {
	t.Helper()

	cfg := &config.Config{
		App:  config.AppConfig{Port: "0", CorsAllowedOrigins: "http://localhost:5173"},
		Auth: config.AuthConfig{JWTSecret: "test-secret"},
		Ai:   config.AIConfig{LLMProvider: "groq", ContextWindow: 20},
	}
	provider := &stubProvider{reply: "I'm here with you."}
	if limiter == nil {
		limiter = ratelimit.NewLocalLimiter(1000)
	}

	container, err := bootstrap.NewContainer(testdb.Open(t), cfg, logger.NewNopLogger(),
		bootstrap.WithLLMProvider(provider),
		bootstrap.WithLimiter(limiter),
		bootstrap.WithBcryptCost(bcrypt.MinCost),
	)
	require.NoError(t, err)
	t.Cleanup(container.Close)

	return &harness{t: t, srv: New(cfg, container), provider: provider}
}

func (h *harness) do(method, path, bearer string, body interface{}) (int, []byte, http.Header) {
	h.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := h.srv.GetApp().Test(req, -1)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp.StatusCode, data, resp.Header
}

func (h *harness) register(email string) string {
	h.t.Helper()
	status, body, _ := h.do(http.MethodPost, "/auth/register", "", map[string]string{"email": email, "password": "secret123"})
	require.Equal(h.t, http.StatusOK, status, string(body))

	var tok struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(h.t, json.Unmarshal(body, &tok))
	require.NotEmpty(h.t, tok.AccessToken)
	assert.Equal(h.t, "bearer", tok.TokenType)
	return tok.AccessToken
}

func (h *harness) createSession(bearer string) string {
	h.t.Helper()
	status, body, _ := h.do(http.MethodPost, "/sessions", bearer, nil)
	require.Equal(h.t, http.StatusOK, status, string(body))

	var s struct {
		Id    string  `json:"id"`
		Title *string `json:"title"`
	}
	require.NoError(h.t, json.Unmarshal(body, &s))
	assert.Nil(h.t, s.Title)
	return s.Id
}

func detail(t *testing.T, body []byte) string {
	t.Helper()
	var e struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(body, &e), string(body))
	return e.Detail
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)

	status, body, _ := h.do(http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestAuth_RegisterAndLogin(t *testing.T) {
	h := newHarness(t, nil)
	h.register("user@example.com")

	status, body, _ := h.do(http.MethodPost, "/auth/register", "", map[string]string{"email": "user@example.com", "password": "other"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Email already registered", detail(t, body))

	status, body, _ = h.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "user@example.com", "password": "secret123"})
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "access_token")

	status, body, _ = h.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "user@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid credentials", detail(t, body))

	status, body, _ = h.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "nobody@example.com", "password": "secret123"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid credentials", detail(t, body))
}

func TestAuth_InvalidBodyIsUnprocessable(t *testing.T) {
	h := newHarness(t, nil)

	status, _, _ := h.do(http.MethodPost, "/auth/register", "", map[string]string{"email": "not-an-email", "password": "x"})

	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestProtectedRoutes_RequireBearerToken(t *testing.T) {
	h := newHarness(t, nil)

	for _, tc := range []struct{ method, path, bearer string }{
		{http.MethodGet, "/sessions", ""},
		{http.MethodPost, "/sessions", ""},
		{http.MethodPost, "/chat", ""},
		{http.MethodGet, "/sessions", "garbage"},
	} {
		status, body, header := h.do(tc.method, tc.path, tc.bearer, nil)
		assert.Equal(t, http.StatusUnauthorized, status, tc.path)
		assert.Equal(t, "Could not validate credentials", detail(t, body))
		assert.Equal(t, "Bearer", header.Get("WWW-Authenticate"))
	}
}

func TestChatFlow(t *testing.T) {
	h := newHarness(t, nil)
	bearer := h.register("flow@example.com")
	sessionId := h.createSession(bearer)

	status, body, _ := h.do(http.MethodPost, "/chat", bearer, map[string]string{
		"session_id": sessionId,
		"message":    "I've been feeling really anxious about work lately",
	})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.JSONEq(t, `{"reply":"I'm here with you.","session_title":"I've been feeling really anxious about"}`, string(body))

	status, body, _ = h.do(http.MethodPost, "/chat", bearer, map[string]string{"session_id": sessionId, "message": "Thanks"})
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"reply":"I'm here with you.","session_title":"I've been feeling really anxious about"}`, string(body))

	status, body, _ = h.do(http.MethodGet, "/sessions/"+sessionId+"/messages", bearer, nil)
	require.Equal(t, http.StatusOK, status)
	var msgs []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(body, &msgs))
	require.Len(t, msgs, 4)
	assert.Equal(t, []string{"user", "assistant", "user", "assistant"},
		[]string{msgs[0].Role, msgs[1].Role, msgs[2].Role, msgs[3].Role})
	assert.Equal(t, "Thanks", msgs[2].Content)

	status, body, _ = h.do(http.MethodGet, "/sessions", bearer, nil)
	require.Equal(t, http.StatusOK, status)
	var sessions []struct {
		Id    string  `json:"id"`
		Title *string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(body, &sessions))
	require.Len(t, sessions, 1)
	require.NotNil(t, sessions[0].Title)
	assert.Equal(t, "I've been feeling really anxious about", *sessions[0].Title)

	status, _, _ = h.do(http.MethodDelete, "/sessions/"+sessionId, bearer, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body, _ = h.do(http.MethodDelete, "/sessions/"+sessionId, bearer, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Session not found", detail(t, body))

	status, body, _ = h.do(http.MethodGet, "/sessions", bearer, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(body))
}

func TestChat_OtherUsersSessionIsNotFound(t *testing.T) {
	h := newHarness(t, nil)
	owner := h.register("owner@example.com")
	intruder := h.register("intruder@example.com")
	sessionId := h.createSession(owner)

	status, body, _ := h.do(http.MethodPost, "/chat", intruder, map[string]string{"session_id": sessionId, "message": "hi"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Session not found", detail(t, body))

	status, _, _ = h.do(http.MethodGet, "/sessions/"+sessionId+"/messages", intruder, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _, _ = h.do(http.MethodDelete, "/sessions/"+sessionId, intruder, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _, _ = h.do(http.MethodGet, "/sessions/not-a-uuid/messages", owner, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestChat_UnknownSessionIdLooksLikeForeignSession(t *testing.T) {
	h := newHarness(t, nil)
	bearer := h.register("lost@example.com")

	for _, sessionId := range []string{"abc", "00000000-0000-0000-0000-000000000000", "6f1c2b9e-3a57-4c1e-9d2f-8b7a4e5c1d30"} {
		status, body, _ := h.do(http.MethodPost, "/chat", bearer, map[string]string{"session_id": sessionId, "message": "hi"})
		assert.Equal(t, http.StatusNotFound, status, sessionId)
		assert.Equal(t, "Session not found", detail(t, body))
	}
	assert.Equal(t, 0, h.provider.calls)
}

func TestChat_EmptyMessageIsAccepted(t *testing.T) {
	h := newHarness(t, nil)
	bearer := h.register("quiet@example.com")
	sessionId := h.createSession(bearer)

	status, body, _ := h.do(http.MethodPost, "/chat", bearer, map[string]string{"session_id": sessionId, "message": ""})

	require.Equal(t, http.StatusOK, status, string(body))
	assert.JSONEq(t, `{"reply":"I'm here with you.","session_title":""}`, string(body))
}

func TestChat_ValidationErrors(t *testing.T) {
	h := newHarness(t, nil)
	bearer := h.register("v@example.com")

	status, _, _ := h.do(http.MethodPost, "/chat", bearer, map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, 0, h.provider.calls)
}

func TestChat_ProviderFailureReturns500AndPersistsNothing(t *testing.T) {
	h := newHarness(t, nil)
	bearer := h.register("fail@example.com")
	sessionId := h.createSession(bearer)
	h.provider.fail(errors.New("groq api error (status 503): over capacity"))

	status, body, _ := h.do(http.MethodPost, "/chat", bearer, map[string]string{"session_id": sessionId, "message": "hello"})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "groq api error (status 503): over capacity", detail(t, body))

	status, body, _ = h.do(http.MethodGet, "/sessions/"+sessionId+"/messages", bearer, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(body))
}

func TestAuth_Throttled(t *testing.T) {
	h := newHarness(t, ratelimit.NewLocalLimiter(2))
	creds := map[string]string{"email": "t@example.com", "password": "wrong"}

	for i := 0; i < 2; i++ {
		status, _, _ := h.do(http.MethodPost, "/auth/login", "", creds)
		assert.Equal(t, http.StatusUnauthorized, status)
	}
	status, body, _ := h.do(http.MethodPost, "/auth/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "Too many requests", detail(t, body))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.do(http.MethodGet, "/health", "", nil)

	status, body, _ := h.do(http.MethodGet, "/metrics", "", nil)

	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "http_requests_total")
	assert.Contains(t, string(body), "mindmate_provider_latency_seconds")
}
