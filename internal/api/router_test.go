package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ba-agent-core/internal/agentloop"
)

type stubChatClient struct{}

func (stubChatClient) Chat(_ context.Context, _ agentloop.ChatRequest) (agentloop.ChatResponse, error) {
	return agentloop.ChatResponse{Text: "hi there", InputTokens: 3, OutputTokens: 2}, nil
}

func newTestRouter() *Router {
	loop := agentloop.New(stubChatClient{}, agentloop.Registry{}, nil, "sys", 1024, 0.5, nil)
	return NewRouter(loop, nil, nil, nil)
}

func TestHealthEndpointReturnsOK(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	w := httptest.NewRecorder()

	router.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func TestChatEndpointRequiresSessionHeader(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/chat/", strings.NewReader(`{"message":"hi"}`))
	w := httptest.NewRecorder()

	router.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChatEndpointReturnsAssistantReply(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/chat/", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("X-Session-ID", "sess-1")
	w := httptest.NewRecorder()

	router.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body chatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "hi there", body.Response)
	assert.Equal(t, 5, body.TokensUsed)
}

func TestChatEndpointRejectsEmptyMessage(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/chat/", strings.NewReader(`{"message":""}`))
	req.Header.Set("X-Session-ID", "sess-1")
	w := httptest.NewRecorder()

	router.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFileEndpointsRequireValidCategory(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/files/?category=not-a-real-category", http.NoBody)
	req.Header.Set("X-Session-ID", "sess-1")
	w := httptest.NewRecorder()

	router.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
