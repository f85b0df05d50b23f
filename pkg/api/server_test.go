package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/models"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/runner"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/store"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/tasks"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	s := store.NewMemoryStore(nil)
	runnerSvc := runner.New(s, nil)
	taskSvc := tasks.New(s, runnerSvc, nil)
	srv := New(s, runnerSvc, taskSvc, nil, nil, RateLimit{Limit: 1000, Window: time.Minute}, nil)
	return srv, s
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthHandler_ReportsOK(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestRegisterThenStatus_RoundTrips(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/runner/status", registerRequest{Name: "r1", WorkingDir: "/work"})
	require.Equal(t, http.StatusOK, rec.Code)
	var reg envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))
	data := reg.Data.(map[string]any)
	session := data["session"].(map[string]any)
	token := session["token"].(string)
	require.NotEmpty(t, token)

	rec = doJSON(t, srv, http.MethodGet, "/api/runner/status?runnerToken="+token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":0`)
}

func TestCreateTask_ThenClaim_BindsAgentAndTask(t *testing.T) {
	srv, s := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/tasks", createTaskRequest{Title: "Add README", Priority: 2})
	require.Equal(t, http.StatusCreated, rec.Code)

	regRec := doJSON(t, srv, http.MethodPost, "/api/runner/status", registerRequest{Name: "r1", WorkingDir: "/work"})
	var reg envelope
	require.NoError(t, json.Unmarshal(regRec.Body.Bytes(), &reg))
	token := reg.Data.(map[string]any)["session"].(map[string]any)["token"].(string)

	claimRec := doJSON(t, srv, http.MethodPost, "/api/runner/claim", claimRequest{RunnerToken: token, WorkingDir: "/work"})
	require.Equal(t, http.StatusOK, claimRec.Code)
	assert.Contains(t, claimRec.Body.String(), `"title":"Add README"`)

	tasksList, err := s.ListTasks(t.Context(), store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasksList, 1)
	assert.Equal(t, models.TaskStatusInProgress, tasksList[0].Status)
}

func TestGetTask_UnknownID_Returns404WithErrorEnvelope(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/tasks/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body.Error)
}

func TestPatchTask_RejectsInvalidPriority(t *testing.T) {
	srv, s := newTestServer(t)
	created, err := s.CreateTask(t.Context(), &models.Task{Title: "a"})
	require.NoError(t, err)

	badPriority := 99
	rec := doJSON(t, srv, http.MethodPatch, "/api/tasks/"+created.ID, patchTaskRequest{Priority: &badPriority})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelTask_ReleasesQueuedTask(t *testing.T) {
	srv, s := newTestServer(t)
	created, err := s.CreateTask(t.Context(), &models.Task{Title: "a"})
	require.NoError(t, err)

	rec := doJSON(t, srv, http.MethodPost, "/api/tasks/"+created.ID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	got, err := s.GetTask(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, got.Status)
}

func TestPatchTask_OnInProgressTaskReturns409(t *testing.T) {
	srv, s := newTestServer(t)
	created, err := s.CreateTask(t.Context(), &models.Task{Title: "a"})
	require.NoError(t, err)

	regRec := doJSON(t, srv, http.MethodPost, "/api/runner/status", registerRequest{Name: "r1", WorkingDir: "/work"})
	var reg envelope
	require.NoError(t, json.Unmarshal(regRec.Body.Bytes(), &reg))
	token := reg.Data.(map[string]any)["session"].(map[string]any)["token"].(string)
	claimRec := doJSON(t, srv, http.MethodPost, "/api/runner/claim", claimRequest{RunnerToken: token, WorkingDir: "/work"})
	require.Equal(t, http.StatusOK, claimRec.Code)

	newTitle := "renamed"
	rec := doJSON(t, srv, http.MethodPatch, "/api/tasks/"+created.ID, patchTaskRequest{Title: &newTitle})
	assert.Equal(t, http.StatusConflict, rec.Code)
	var body errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "conflict", body.Error)
}

func TestHeartbeat_MismatchedAgentOwnershipReturns403(t *testing.T) {
	srv, s := newTestServer(t)
	_, err := s.CreateTask(t.Context(), &models.Task{Title: "a"})
	require.NoError(t, err)

	reg1 := doJSON(t, srv, http.MethodPost, "/api/runner/status", registerRequest{Name: "owner", WorkingDir: "/work"})
	var ownerEnv envelope
	require.NoError(t, json.Unmarshal(reg1.Body.Bytes(), &ownerEnv))
	ownerToken := ownerEnv.Data.(map[string]any)["session"].(map[string]any)["token"].(string)

	claimRec := doJSON(t, srv, http.MethodPost, "/api/runner/claim", claimRequest{RunnerToken: ownerToken, WorkingDir: "/work"})
	require.Equal(t, http.StatusOK, claimRec.Code)
	var claimEnv envelope
	require.NoError(t, json.Unmarshal(claimRec.Body.Bytes(), &claimEnv))
	agentID := claimEnv.Data.(map[string]any)["agent"].(map[string]any)["id"].(string)

	reg2 := doJSON(t, srv, http.MethodPost, "/api/runner/status", registerRequest{Name: "impostor", WorkingDir: "/work"})
	var impostorEnv envelope
	require.NoError(t, json.Unmarshal(reg2.Body.Bytes(), &impostorEnv))
	impostorToken := impostorEnv.Data.(map[string]any)["session"].(map[string]any)["token"].(string)

	rec := doJSON(t, srv, http.MethodPost, "/api/runner/heartbeat", heartbeatRequest{
		RunnerToken: impostorToken, AgentID: agentID,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimit_BlocksAfterLimitExceeded(t *testing.T) {
	s := store.NewMemoryStore(nil)
	runnerSvc := runner.New(s, nil)
	taskSvc := tasks.New(s, runnerSvc, nil)
	srv := New(s, runnerSvc, taskSvc, nil, nil, RateLimit{Limit: 2, Window: time.Minute}, nil)

	assert.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/api/health", nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(t, srv, http.MethodGet, "/api/health", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, doJSON(t, srv, http.MethodGet, "/api/health", nil).Code)
}
