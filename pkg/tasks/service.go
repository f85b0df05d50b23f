// Package tasks implements the Task Service (C6): CRUD plus the task state
// machine (create, run, retry, autoRetry, cancel) of SPEC_FULL §4.6.
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/fleeterr"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/models"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/runner"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/store"
)

// maxManualRetries bounds Retry's attempts (spec.md §4.6: "Reject if
// retryCount >= 3").
const maxManualRetries = 3

// noRetryFailureTypes are FailureTypes autoRetry refuses to act on even
// when the generic retryCount budget would otherwise allow it, mirroring
// the Supervisor's retry policy table (SPEC_FULL §4.7: SEMANTIC_ERROR
// never retries automatically).
var noRetryFailureTypes = map[FailureType]bool{
	FailureSemanticError: true,
}

// FailureType classifies the most recent verification failure, shared
// with the Supervisor's retry-policy table (SPEC_FULL §4.7).
type FailureType string

// Failure type values.
const (
	FailureSyntaxError   FailureType = "SYNTAX_ERROR"
	FailureTypeError     FailureType = "TYPE_ERROR"
	FailureLintError     FailureType = "LINT_ERROR"
	FailureTestFailure   FailureType = "TEST_FAILURE"
	FailureSemanticError FailureType = "SEMANTIC_ERROR"
	FailureTimeout       FailureType = "TIMEOUT"
	FailureUnknown       FailureType = "UNKNOWN"
)

// ClassifyFailure inspects the most recent VerificationResult for a task
// and returns the FailureType it represents, via which per-check flag is
// false (checked in the order syntax, types, lint, tests, semantic) or, if
// every flag passed yet the task still failed, UNKNOWN.
func ClassifyFailure(result *models.VerificationResult) FailureType {
	if result == nil {
		return FailureUnknown
	}
	switch {
	case !result.SyntaxPassed:
		return FailureSyntaxError
	case !result.TypesPassed:
		return FailureTypeError
	case !result.LintPassed:
		return FailureLintError
	case !result.TestsPassed:
		return FailureTestFailure
	case result.SemanticScore != nil && *result.SemanticScore < models.PassThreshold:
		return FailureSemanticError
	default:
		return FailureUnknown
	}
}

// Service implements the Task Service over a Store, delegating claim
// semantics to the Runner Protocol Service so "run" and a runner's own
// Claim share exactly one code path.
type Service struct {
	store    store.Store
	runnerSvc *runner.Service
	now      func() time.Time
}

// New builds a Service. now defaults to time.Now if nil.
func New(s store.Store, runnerSvc *runner.Service, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: s, runnerSvc: runnerSvc, now: now}
}

// Create inserts a new QUEUED task.
func (s *Service) Create(ctx context.Context, t *models.Task) (*models.Task, error) {
	if t.Title == "" {
		return nil, fleeterr.New(fleeterr.CategoryValidation, "title is required")
	}
	if t.Priority < models.MinPriority || t.Priority > models.MaxPriority {
		return nil, fleeterr.New(fleeterr.CategoryValidation, "priority out of range")
	}
	t.Status = models.TaskStatusQueued
	created, err := s.store.CreateTask(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return created, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Task, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, fleeterr.New(fleeterr.CategoryNotFound, "task not found")
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *Service) List(ctx context.Context, filter store.TaskFilter) ([]*models.Task, error) {
	list, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return list, nil
}

// Update applies a partial patch to a QUEUED task's mutable metadata
// (title, description, priority, filesHint).
func (s *Service) Update(ctx context.Context, taskID string, patch store.TaskPatch) (*models.Task, error) {
	if patch.Priority != nil && (*patch.Priority < models.MinPriority || *patch.Priority > models.MaxPriority) {
		return nil, fleeterr.New(fleeterr.CategoryValidation, "priority out of range")
	}
	updated, err := s.store.UpdateTask(ctx, taskID, patch)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, fleeterr.New(fleeterr.CategoryNotFound, "task not found")
		}
		if err == store.ErrConflict {
			return nil, fleeterr.New(fleeterr.CategoryConflict, "task is no longer QUEUED")
		}
		return nil, fmt.Errorf("update task: %w", err)
	}
	return updated, nil
}

// RunResult mirrors runner.ClaimResult: Agent is nil if the task's current
// state made it ineligible to run right now (e.g. someone else claimed it
// first).
type RunResult struct {
	Task  *models.Task
	Agent *models.Agent
}

// Run attempts to put a QUEUED or FAILED task into IN_PROGRESS against
// workingDir, identically to a runner's own Claim when called on a QUEUED
// task, and as a retry when called on a FAILED one.
func (s *Service) Run(ctx context.Context, runnerToken, taskID, workingDir string) (*RunResult, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	switch task.Status {
	case models.TaskStatusFailed:
		if err := s.retry(ctx, task, maxManualRetries); err != nil {
			return nil, err
		}
	case models.TaskStatusQueued:
		// fall through to claim below
	default:
		return nil, fleeterr.New(fleeterr.CategoryConflict, fmt.Sprintf("task is %s, not runnable", task.Status))
	}

	claim, err := s.runnerSvc.Claim(ctx, runnerToken, workingDir)
	if err != nil {
		return nil, err
	}
	return &RunResult{Task: claim.Task, Agent: claim.Agent}, nil
}

// retry resets a FAILED task back to QUEUED, incrementing retryCount and
// preserving filesHint, rejecting once the limit is reached.
func (s *Service) retry(ctx context.Context, task *models.Task, limit int) error {
	if task.Status != models.TaskStatusFailed {
		return fleeterr.New(fleeterr.CategoryConflict, "only a FAILED task can be retried")
	}
	if task.RetryCount >= limit {
		return fleeterr.New(fleeterr.CategoryTerminal, fmt.Sprintf("retryCount has reached the limit of %d", limit))
	}
	if err := s.store.RequeueTask(ctx, task.ID, 1, 0); err != nil {
		return fmt.Errorf("requeue task: %w", err)
	}
	return nil
}

// Retry is the operator-driven retry (spec.md §4.6's `retry`).
func (s *Service) Retry(ctx context.Context, taskID string) error {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return err
	}
	return s.retry(ctx, task, maxManualRetries)
}

// AutoRetry is the Supervisor-driven retry (spec.md §4.6's `autoRetry`):
// identical to Retry, but additionally refused when the most recent
// failure's classified type is in the no-retry set, regardless of
// remaining retryCount budget.
func (s *Service) AutoRetry(ctx context.Context, taskID string) error {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return err
	}
	latest, err := s.store.LatestVerificationResult(ctx, taskID)
	if err != nil && err != store.ErrNotFound {
		return fmt.Errorf("load latest verification result: %w", err)
	}
	failureType := ClassifyFailure(latest)
	if noRetryFailureTypes[failureType] {
		return fleeterr.New(fleeterr.CategoryTerminal, fmt.Sprintf("failure type %s is not eligible for automatic retry", failureType))
	}
	return s.retry(ctx, task, maxManualRetries)
}

// Cancel transitions a QUEUED/IN_PROGRESS/VERIFYING task to CANCELLED,
// releasing any bound Agent's locks and moving it to IDLE.
func (s *Service) Cancel(ctx context.Context, taskID string) error {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return err
	}

	now := s.now()
	cancelled, err := s.store.CancelTask(ctx, taskID, now)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	if !cancelled {
		return fleeterr.New(fleeterr.CategoryConflict, fmt.Sprintf("task is %s, not cancellable", task.Status))
	}

	if task.AssignedAgentID != nil {
		if _, err := s.store.DeleteFileLocksByAgent(ctx, *task.AssignedAgentID); err != nil {
			return fmt.Errorf("release agent locks on cancel: %w", err)
		}
		if err := s.store.UpdateAgentStatus(ctx, *task.AssignedAgentID, models.AgentStatusIdle, now, true); err != nil {
			return fmt.Errorf("idle agent on cancel: %w", err)
		}
	}
	return nil
}
