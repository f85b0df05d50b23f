package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/coordinator"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/models"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/store"
)

func TestSupervisor_DetectStuckAgents(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	coord := coordinator.New(s, nil)

	now := time.Now()
	task, err := s.CreateTask(ctx, &models.Task{Title: "t"})
	require.NoError(t, err)
	stale := now.Add(-20 * time.Minute)
	agent, err := s.CreateAgent(ctx, &models.Agent{
		Status: models.AgentStatusWorking, CurrentTaskID: &task.ID,
		LastActivityAt: &stale, StartedAt: stale,
	})
	require.NoError(t, err)

	sv := New(s, coord, time.Minute, func() time.Time { return now })
	sv.detectStuckAgents(ctx)

	updatedAgent, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusFailed, updatedAgent.Status)

	updatedTask, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, updatedTask.Status)

	exceptions, err := s.ListExceptionsByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, exceptions, 1)
	assert.Equal(t, models.ExceptionAgentStuck, exceptions[0].Type)
}

func TestSupervisor_DetectStuckAgents_IgnoresRecentlyActive(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	coord := coordinator.New(s, nil)

	now := time.Now()
	recent := now.Add(-1 * time.Minute)
	agent, err := s.CreateAgent(ctx, &models.Agent{
		Status: models.AgentStatusWorking, LastActivityAt: &recent, StartedAt: recent,
	})
	require.NoError(t, err)

	sv := New(s, coord, time.Minute, func() time.Time { return now })
	sv.detectStuckAgents(ctx)

	updated, err := s.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusWorking, updated.Status)
}

func TestSupervisor_CleanupExpiredLocks(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	coord := coordinator.New(s, nil)

	now := time.Now()
	require.NoError(t, s.InsertFileLock(ctx, &models.FileLock{
		FilePath: "a.txt", AgentID: "agent-1", TaskID: "task-1",
		AcquiredAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}))

	sv := New(s, coord, time.Minute, func() time.Time { return now })
	sv.cleanupExpiredLocks(ctx)

	count, err := s.CountFileLocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSupervisor_ScheduleFailedTaskRetries_SyntaxErrorRetriesAfterDelay(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	coord := coordinator.New(s, nil)

	now := time.Now()
	task, err := s.CreateTask(ctx, &models.Task{Title: "t"})
	require.NoError(t, err)
	require.NoError(t, s.CompleteTask(ctx, task.ID, models.TaskStatusFailed, now.Add(-time.Minute), nil))
	_, err = s.CreateVerificationResult(ctx, &models.VerificationResult{
		TaskID: task.ID, AttemptNumber: 1, SyntaxPassed: false,
	})
	require.NoError(t, err)

	sv := New(s, coord, time.Minute, func() time.Time { return now })
	sv.scheduleFailedTaskRetries(ctx)

	updated, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusQueued, updated.Status, "syntax errors retry automatically after their 5s delay")
}

func TestSupervisor_ScheduleFailedTaskRetries_SemanticErrorOpensHumanReviewException(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	coord := coordinator.New(s, nil)

	now := time.Now()
	task, err := s.CreateTask(ctx, &models.Task{Title: "t"})
	require.NoError(t, err)
	require.NoError(t, s.CompleteTask(ctx, task.ID, models.TaskStatusFailed, now.Add(-time.Hour), nil))
	score := 0.2
	_, err = s.CreateVerificationResult(ctx, &models.VerificationResult{
		TaskID: task.ID, AttemptNumber: 1,
		SyntaxPassed: true, TypesPassed: true, LintPassed: true, TestsPassed: true,
		SemanticScore: &score,
	})
	require.NoError(t, err)

	sv := New(s, coord, time.Minute, func() time.Time { return now })
	sv.scheduleFailedTaskRetries(ctx)

	updated, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, updated.Status, "semantic errors never auto-retry")

	exceptions, err := s.ListExceptionsByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, exceptions, 1)
	assert.Equal(t, models.ExceptionTaskFailure, exceptions[0].Type)
}

func TestSupervisor_RunOnce_RecoversFromPanickingCheck(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	sv := New(s, nil, time.Minute, nil) // nil Coordinator makes cleanupExpiredLocks panic

	assert.NotPanics(t, func() { sv.RunOnce(ctx) })
}
