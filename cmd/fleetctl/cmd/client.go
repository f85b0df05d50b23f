package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/models"
)

// envelope mirrors the {data: T} success shape of pkg/api's wire contract.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// errorEnvelope mirrors the {error, message} failure shape.
type errorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// apiError is a well-formed failure response from the control plane — a
// user error (bad input, state conflict, not found), not a connection
// problem. Callers map this to exit code 1.
type apiError struct {
	Status  int
	Kind    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
}

// ConnError wraps a transport-level failure — the control plane could not
// be reached at all. Callers map this to exit code 2.
type ConnError struct {
	cause error
}

func (e *ConnError) Error() string { return fmt.Sprintf("connecting to fleetd: %v", e.cause) }
func (e *ConnError) Unwrap() error { return e.cause }

// apiClient is a minimal JSON/HTTP client for pkg/api's routes.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// request issues method/path with an optional JSON body, decoding a
// successful envelope's data field into out (nil to discard the body).
func (c *apiClient) request(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &ConnError{cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ConnError{cause: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if len(env.Data) == 0 || string(env.Data) == "null" {
			return nil
		}
		return json.Unmarshal(env.Data, out)
	}

	var errEnv errorEnvelope
	_ = json.Unmarshal(raw, &errEnv)
	if errEnv.Message == "" {
		errEnv.Message = resp.Status
	}
	return &apiError{Status: resp.StatusCode, Kind: errEnv.Error, Message: errEnv.Message}
}

type createTaskBody struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    int      `json:"priority"`
	RiskLevel   string   `json:"riskLevel,omitempty"`
	FilesHint   []string `json:"filesHint,omitempty"`
}

type runBody struct {
	WorkingDir string `json:"workingDir"`
}

type claimResult struct {
	Task  *models.Task  `json:"task"`
	Agent *models.Agent `json:"agent"`
}

type registerBody struct {
	Name       string `json:"name"`
	WorkingDir string `json:"workingDir"`
}

type sessionResult struct {
	Session struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	} `json:"session"`
}

type availableTasksResult struct {
	AvailableTasks struct {
		Count int `json:"count"`
	} `json:"availableTasks"`
}

type healthResult struct {
	Status      string `json:"status"`
	QueuedTasks int    `json:"queuedTasks"`
	ActiveLocks int    `json:"activeLocks"`
}

func (c *apiClient) Health(ctx context.Context) (*healthResult, error) {
	var out healthResult
	if err := c.request(ctx, http.MethodGet, "/api/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) CreateTask(ctx context.Context, body createTaskBody) (*models.Task, error) {
	var out models.Task
	if err := c.request(ctx, http.MethodPost, "/api/tasks", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) ListTasks(ctx context.Context, status string, limit int) ([]*models.Task, error) {
	path := "/api/tasks?"
	if status != "" {
		path += "status=" + status + "&"
	}
	if limit > 0 {
		path += fmt.Sprintf("limit=%d", limit)
	}
	var out []*models.Task
	if err := c.request(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var out models.Task
	if err := c.request(ctx, http.MethodGet, "/api/tasks/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) RunTask(ctx context.Context, id, workingDir string) (*claimResult, error) {
	var out claimResult
	if err := c.request(ctx, http.MethodPost, "/api/tasks/"+id+"/run", runBody{WorkingDir: workingDir}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) RetryTask(ctx context.Context, id, workingDir string) (*claimResult, error) {
	var out claimResult
	if err := c.request(ctx, http.MethodPost, "/api/tasks/"+id+"/retry", runBody{WorkingDir: workingDir}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) CancelTask(ctx context.Context, id string) (*models.Task, error) {
	var out models.Task
	if err := c.request(ctx, http.MethodPost, "/api/tasks/"+id+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) RegisterRunner(ctx context.Context, name, workingDir string) (*sessionResult, error) {
	var out sessionResult
	body := registerBody{Name: name, WorkingDir: workingDir}
	if err := c.request(ctx, http.MethodPost, "/api/runner/status", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) RunnerStatus(ctx context.Context, token string) (*availableTasksResult, error) {
	var out availableTasksResult
	if err := c.request(ctx, http.MethodGet, "/api/runner/status?runnerToken="+token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) ClaimTask(ctx context.Context, token, workingDir string) (*claimResult, error) {
	var out claimResult
	body := struct {
		RunnerToken string `json:"runnerToken"`
		WorkingDir  string `json:"workingDir"`
	}{RunnerToken: token, WorkingDir: workingDir}
	if err := c.request(ctx, http.MethodPost, "/api/runner/claim", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
