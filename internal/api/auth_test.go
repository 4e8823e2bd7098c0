package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authedRequest(t *testing.T, method, path, token string) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, httptest.NewRecorder()
}

func TestIssueAndVerifyToken(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	token := IssueToken("alice", "s3cret", time.Hour, now)

	user, err := verifyToken(token, "s3cret", now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
}

func TestVerifyTokenExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	token := IssueToken("alice", "s3cret", time.Hour, now)

	_, err := verifyToken(token, "s3cret", now.Add(2*time.Hour))
	assert.Error(t, err)
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	token := IssueToken("alice", "s3cret", time.Hour, time.Now())
	_, err := verifyToken(token, "other", time.Now())
	assert.Error(t, err)
}

func TestVerifyTokenGarbage(t *testing.T) {
	_, err := verifyToken("not-a-token", "s3cret", time.Now())
	assert.Error(t, err)
}

func TestAuthEnabledRejectsMissingToken(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.TokenSecret = "s3cret"
	h := newTestHarness(t, cfg, &stubLLM{}, &stubAnalytics{})

	rec := h.do(t, http.MethodGet, "/api/v1/jobs/some-id", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthEnabledAcceptsValidToken(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.TokenSecret = "s3cret"
	h := newTestHarness(t, cfg, &stubLLM{}, &stubAnalytics{})

	token := IssueToken("alice", "s3cret", time.Hour, time.Now())
	req, rec := authedRequest(t, http.MethodGet, "/api/v1/jobs/missing", token)
	h.server.Handler().ServeHTTP(rec, req)

	// Authenticated but the job does not exist.
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthDisabledUsesForwardedUser(t *testing.T) {
	h := newTestHarness(t, defaultTestConfig(), &stubLLM{}, &stubAnalytics{})

	req, rec := authedRequest(t, http.MethodGet, "/api/v1/jobs/missing", "")
	req.Header.Set("X-Forwarded-User", "bob")
	h.server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The resolved user is recorded on the job a user message spawns.
	conv, err := h.store.Conversations().Create(context.Background(), "t")
	require.NoError(t, err)
	body, err := json.Marshal(CreateMessageRequest{Content: "hello", Role: "user"})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-User", "bob")
	rec = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp CreateMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	job, err := h.store.Jobs().Get(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, "bob", job.Params["user_id"])
}
