package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Keeeeeeeks/opencode-dashboard/pkg/alert"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/bus"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/config"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/crypto"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/lifecycle"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/stream"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/store"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/timer"
	"github.com/Keeeeeeeks/opencode-dashboard/pkg/webhook"
)

const testWebhookSecret = "test-webhook-secret"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	sealer, err := crypto.LoadOrCreate(dir)
	require.NoError(t, err)
	st, err := store.Open(filepath.Join(dir, "controlplane.db"), sealer)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	b := bus.New()
	clock := timer.New()
	ae, err := alert.New(context.Background(), st, b, clock)
	require.NoError(t, err)
	t.Cleanup(ae.Close)

	lm := lifecycle.New(st, b, ae, clock)
	ingest := webhook.New(st, lm, []byte(testWebhookSecret))
	gw := stream.New(b)

	cfg := &config.Config{
		Host:            "127.0.0.1",
		Port:            "3000",
		APIKey:          "test-api-key",
		AllowedOrigins:  []string{"https://dashboard.example"},
		RateLimitWindow: time.Minute,
		RateLimitMax:    1000,
		WebhookSecret:   testWebhookSecret,
	}

	return NewServer(cfg, st, lm, ae, ingest, gw)
}

func authedRequest(method, path string, body []byte) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer test-api-key")
	return req
}

func TestRegisterAndGetAgent(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(&RegisterAgentRequest{ID: "agent-1", Name: "Agent One", Type: "primary"})
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/agents", body))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created AgentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "agent-1", created.ID)
	require.Equal(t, "idle", created.Status)

	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/agents/agent-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListAgents_MissingAuthRejected(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterAgent_ValidationError(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(&RegisterAgentRequest{Name: "No ID"})
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/agents", body))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAgent_NotFound(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/agents/does-not-exist", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func registerAgent(t *testing.T, s *Server, id string) {
	t.Helper()
	body, _ := json.Marshal(&RegisterAgentRequest{ID: id, Name: id, Type: "primary"})
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/agents", body))
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestAssignTaskMovesAgentToWorking(t *testing.T) {
	s := newTestServer(t)
	registerAgent(t, s, "agent-1")

	body, _ := json.Marshal(&CreateTaskRequest{TaskID: "task-1", Title: "Do the thing", Priority: "high"})
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/agents/agent-1/tasks", body))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/agents/agent-1", nil))
	var a AgentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	require.Equal(t, "working", a.Status)
	require.NotNil(t, a.CurrentTaskID)
	require.Equal(t, "task-1", *a.CurrentTaskID)
}

func TestUpdateTaskHandler_StartsInProgress(t *testing.T) {
	s := newTestServer(t)
	registerAgent(t, s, "agent-1")

	body, _ := json.Marshal(&CreateTaskRequest{TaskID: "task-1", Title: "Do the thing"})
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/agents/agent-1/tasks", body))
	require.Equal(t, http.StatusCreated, rec.Code)

	status := "in_progress"
	body, _ = json.Marshal(&UpdateTaskRequest{Status: &status})
	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodPatch, "/api/agents/agent-1/tasks/task-1", body))
	require.Equal(t, http.StatusOK, rec.Code)

	var got AgentTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "in_progress", got.Status)
	require.NotNil(t, got.StartedAt)
}

func TestActionHandler_UnblockResumesTask(t *testing.T) {
	s := newTestServer(t)
	registerAgent(t, s, "agent-1")

	body, _ := json.Marshal(&CreateTaskRequest{TaskID: "task-1", Title: "Do the thing", Priority: "high"})
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/agents/agent-1/tasks", body))
	require.Equal(t, http.StatusCreated, rec.Code)

	body, _ = json.Marshal(&BlockRequest{TaskID: "task-1", Source: "question", Reason: "need-key"})
	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/agents/agent-1/block", body))
	require.Equal(t, http.StatusNoContent, rec.Code)

	body, _ = json.Marshal(&ActionRequest{Action: "unblock"})
	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/agents/agent-1/actions", body))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/agents/agent-1", nil))
	var a AgentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	require.Equal(t, "working", a.Status)
}

func TestCompleteTaskHandler(t *testing.T) {
	s := newTestServer(t)
	registerAgent(t, s, "agent-1")

	body, _ := json.Marshal(&CreateTaskRequest{TaskID: "task-1", Title: "Do the thing"})
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/agents/agent-1/tasks", body))
	require.Equal(t, http.StatusCreated, rec.Code)

	body, _ = json.Marshal(&TaskIDRequest{TaskID: "task-1"})
	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/agents/agent-1/complete", body))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestBlockHandler_RequiresSourceAndTaskID(t *testing.T) {
	s := newTestServer(t)
	registerAgent(t, s, "agent-1")

	body, _ := json.Marshal(&BlockRequest{Reason: "waiting"})
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/agents/agent-1/block", body))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActionHandler_UnknownActionRejected(t *testing.T) {
	s := newTestServer(t)
	registerAgent(t, s, "agent-1")

	body, _ := json.Marshal(&ActionRequest{Action: "teleport"})
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/agents/agent-1/actions", body))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActionHandler_Sleep(t *testing.T) {
	s := newTestServer(t)
	registerAgent(t, s, "agent-1")

	body, _ := json.Marshal(&ActionRequest{Action: "sleep"})
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/agents/agent-1/actions", body))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/agents/agent-1", nil))
	var a AgentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	require.Equal(t, "sleeping", a.Status)
}

func TestSleepScheduleGetAndPut(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(&SleepScheduleRequest{StartHour: 22, EndHour: 6, Timezone: "UTC", Enabled: true})
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodPut, "/api/settings/sleep-schedule", body))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/settings/sleep-schedule", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got SleepScheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 22, got.StartHour)
	require.True(t, got.Enabled)
}

func TestSleepScheduleAcceptsFullDayWindow(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(&SleepScheduleRequest{StartHour: 0, EndHour: 24, Timezone: "UTC", Enabled: true})
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodPut, "/api/settings/sleep-schedule", body))
	require.Equal(t, http.StatusOK, rec.Code)

	var got SleepScheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 24, got.EndHour)
	require.True(t, got.Enabled)
}

func TestSleepScheduleRejectsOutOfRangeHour(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(&SleepScheduleRequest{StartHour: 99, EndHour: 6, Timezone: "UTC", Enabled: true})
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, authedRequest(http.MethodPut, "/api/settings/sleep-schedule", body))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestLinearWebhookHandler_BadSignatureRejected(t *testing.T) {
	s := newTestServer(t)

	body := []byte(`{"type":"Issue","action":"create","data":{"id":"iss-1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/linear/webhook", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-api-key")
	req.Header.Set("linear-signature", "not-a-real-signature")

	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthHandler_NoAuthRequired(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSMiddleware_AllowsAllowlistedOrigin(t *testing.T) {
	s := newTestServer(t)

	req := authedRequest(http.MethodGet, "/api/agents", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	require.Equal(t, "https://dashboard.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_RejectsUnknownOrigin(t *testing.T) {
	s := newTestServer(t)

	req := authedRequest(http.MethodGet, "/api/agents", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
