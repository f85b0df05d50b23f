package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/fleeterr"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/models"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/runner"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/store"
)

func newService(t *testing.T) (*Service, store.Store, *runner.Service, string) {
	t.Helper()
	s := store.NewMemoryStore(nil)
	runnerSvc := runner.New(s, nil)
	ctx := context.Background()
	reg, err := runnerSvc.Register(ctx, "runner-1", "/work")
	require.NoError(t, err)
	return New(s, runnerSvc, nil), s, runnerSvc, reg.Token
}

func TestService_Create_ValidatesInput(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, &models.Task{Title: ""})
	require.Error(t, err)
	assert.True(t, fleeterr.Is(err, fleeterr.CategoryValidation))

	task, err := svc.Create(ctx, &models.Task{Title: "do x", Priority: 1})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusQueued, task.Status)
}

func TestService_Run_ClaimsQueuedTask(t *testing.T) {
	svc, _, _, token := newService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, &models.Task{Title: "do x"})
	require.NoError(t, err)

	result, err := svc.Run(ctx, token, task.ID, "/work")
	require.NoError(t, err)
	require.NotNil(t, result.Task)
	assert.Equal(t, models.TaskStatusInProgress, result.Task.Status)
}

func TestService_Run_RejectsInProgressTask(t *testing.T) {
	svc, _, _, token := newService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, &models.Task{Title: "do x"})
	require.NoError(t, err)
	_, err = svc.Run(ctx, token, task.ID, "/work")
	require.NoError(t, err)

	_, err = svc.Run(ctx, token, task.ID, "/work")
	require.Error(t, err)
	assert.True(t, fleeterr.Is(err, fleeterr.CategoryConflict))
}

func TestService_Retry_IncrementsCountAndRejectsAtLimit(t *testing.T) {
	svc, s, _, _ := newService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, &models.Task{Title: "do x"})
	require.NoError(t, err)

	for i := 0; i < maxManualRetries; i++ {
		require.NoError(t, s.CompleteTask(ctx, task.ID, models.TaskStatusFailed, task.CreatedAt, nil))
		require.NoError(t, svc.Retry(ctx, task.ID))
	}

	require.NoError(t, s.CompleteTask(ctx, task.ID, models.TaskStatusFailed, task.CreatedAt, nil))
	err = svc.Retry(ctx, task.ID)
	require.Error(t, err)
	assert.True(t, fleeterr.Is(err, fleeterr.CategoryTerminal))
}

func TestService_AutoRetry_RefusesSemanticErrorRegardlessOfBudget(t *testing.T) {
	svc, s, _, _ := newService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, &models.Task{Title: "do x"})
	require.NoError(t, err)
	require.NoError(t, s.CompleteTask(ctx, task.ID, models.TaskStatusFailed, task.CreatedAt, nil))

	semScore := 0.3
	_, err = s.CreateVerificationResult(ctx, &models.VerificationResult{
		TaskID: task.ID, AttemptNumber: 1, Passed: false,
		SyntaxPassed: true, TypesPassed: true, LintPassed: true, TestsPassed: true,
		SemanticScore: &semScore,
	})
	require.NoError(t, err)

	err = svc.AutoRetry(ctx, task.ID)
	require.Error(t, err)
	assert.True(t, fleeterr.Is(err, fleeterr.CategoryTerminal))
}

func TestService_AutoRetry_AllowsSyntaxError(t *testing.T) {
	svc, s, _, _ := newService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, &models.Task{Title: "do x"})
	require.NoError(t, err)
	require.NoError(t, s.CompleteTask(ctx, task.ID, models.TaskStatusFailed, task.CreatedAt, nil))

	_, err = s.CreateVerificationResult(ctx, &models.VerificationResult{
		TaskID: task.ID, AttemptNumber: 1, Passed: false, SyntaxPassed: false,
	})
	require.NoError(t, err)

	err = svc.AutoRetry(ctx, task.ID)
	require.NoError(t, err)

	updated, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusQueued, updated.Status)
}

func TestService_Cancel_ReleasesLocksAndIdlesAgent(t *testing.T) {
	svc, s, _, token := newService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, &models.Task{Title: "do x"})
	require.NoError(t, err)
	result, err := svc.Run(ctx, token, task.ID, "/work")
	require.NoError(t, err)

	require.NoError(t, s.InsertFileLock(ctx, &models.FileLock{
		FilePath: "a.txt", AgentID: result.Agent.ID, TaskID: task.ID,
	}))

	require.NoError(t, svc.Cancel(ctx, task.ID))

	updated, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, updated.Status)

	count, err := s.CountFileLocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	agent, err := s.GetAgent(ctx, result.Agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusIdle, agent.Status)
}

func TestService_Cancel_RejectsTerminalTask(t *testing.T) {
	svc, s, _, _ := newService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, &models.Task{Title: "do x"})
	require.NoError(t, err)
	require.NoError(t, s.CompleteTask(ctx, task.ID, models.TaskStatusCompleted, task.CreatedAt, nil))

	err = svc.Cancel(ctx, task.ID)
	require.Error(t, err)
	assert.True(t, fleeterr.Is(err, fleeterr.CategoryConflict))
}

func TestClassifyFailure(t *testing.T) {
	cases := []struct {
		name   string
		result *models.VerificationResult
		want   FailureType
	}{
		{"syntax", &models.VerificationResult{}, FailureSyntaxError},
		{"types", &models.VerificationResult{SyntaxPassed: true}, FailureTypeError},
		{"lint", &models.VerificationResult{SyntaxPassed: true, TypesPassed: true}, FailureLintError},
		{"tests", &models.VerificationResult{SyntaxPassed: true, TypesPassed: true, LintPassed: true}, FailureTestFailure},
		{"unknown", nil, FailureUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, ClassifyFailure(c.result))
		})
	}
}
