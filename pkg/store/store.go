// Package store defines the Store contract (SPEC_FULL §4.1): typed,
// transactional persistence for every entity in pkg/models, with the
// specific primitives other components depend on — conditional claim,
// unique-path insert, predicate cleanup.
//
// There is no ORM/codegen layer here: every row is decoded into a concrete
// struct by the repository method that issued the query, so the only
// untyped surface in the whole control plane is the database/sql driver
// boundary itself (see SPEC_FULL §9 / the "typed row layer" redesign flag).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/models"
)

// Sentinel errors returned by Store implementations. Callers use errors.Is.
var (
	// ErrNotFound is returned when a lookup by ID/token finds no row.
	ErrNotFound = errors.New("store: not found")

	// ErrUniqueViolation is returned by InsertFileLock when another row
	// already holds the same normalized path (the unique-path insert
	// primitive of SPEC_FULL §4.1).
	ErrUniqueViolation = errors.New("store: unique constraint violated")

	// ErrConflict is returned by UpdateTask when the task is no longer in a
	// state its patch may be applied to.
	ErrConflict = errors.New("store: conflicting state")
)

// TaskFilter narrows ListTasks queries. Zero value = no filter.
type TaskFilter struct {
	Status *models.TaskStatus
	Limit  int
}

// TaskPatch carries the optional fields UpdateTask may modify. A nil field
// leaves the corresponding column untouched.
type TaskPatch struct {
	Title       *string
	Description *string
	Priority    *int
	FilesHint   []string // nil = untouched; non-nil (incl. empty) replaces
}

// Store is the single source of truth for all control-plane state. No
// in-process cache is authoritative; every component reads back through
// Store rather than trusting its own view.
type Store interface {
	// --- Tasks ---

	CreateTask(ctx context.Context, t *models.Task) (*models.Task, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error)
	CountTasksByStatus(ctx context.Context, status models.TaskStatus) (int, error)

	// CountQueuedTasksByPriority returns, for every priority value present
	// among currently QUEUED tasks, the number of tasks at that priority.
	// Priorities with zero QUEUED tasks are simply absent from the map.
	CountQueuedTasksByPriority(ctx context.Context) (map[int]int, error)

	// UpdateTask patches title/description/priority/filesHint on a QUEUED
	// task (the only mutable metadata fields; status transitions go through
	// their own dedicated methods). Returns ErrNotFound if the task does not
	// exist, or ErrConflict if it is no longer QUEUED.
	UpdateTask(ctx context.Context, taskID string, patch TaskPatch) (*models.Task, error)

	// SelectNextQueuedTask returns the highest-priority (lowest number),
	// oldest QUEUED task, or ErrNotFound if none exists. It does not claim
	// the task; callers must call ClaimTask to do so atomically.
	SelectNextQueuedTask(ctx context.Context) (*models.Task, error)

	// ClaimTask performs the conditional update
	// "UPDATE tasks SET status=in_progress, assigned_agent_id=?,
	//  started_at=?, branch_name=? WHERE id=? AND status=queued"
	// and reports whether the row was actually claimed (rows affected == 1
	// is the proof of ownership described in SPEC_FULL §4.1).
	ClaimTask(ctx context.Context, taskID, agentID, branchName string, now time.Time) (bool, error)

	// RequeueTask transitions a task back to QUEUED (used by the Task
	// Service's retry, the Supervisor's auto-retry, and the agent loop's
	// stop path). retryCountDelta is added to retryCount.
	// verificationAttemptsDelta is added to the stored counter (>=0, never
	// decreases it).
	RequeueTask(ctx context.Context, taskID string, retryCountDelta, verificationAttemptsDelta int) error

	// SetTaskVerifying marks a task VERIFYING; only valid from IN_PROGRESS.
	SetTaskVerifying(ctx context.Context, taskID string) error

	// IncrementVerificationAttempts atomically increments and returns the
	// new count. Called once per verification run, before checks execute.
	IncrementVerificationAttempts(ctx context.Context, taskID string) (int, error)

	// CompleteTask transitions a task to COMPLETED or FAILED with
	// completedAt=now, from whatever status the task currently has, and
	// clears its assigned agent. A non-nil verificationStatus is recorded
	// on the task.
	CompleteTask(ctx context.Context, taskID string, status models.TaskStatus, now time.Time, verificationStatus *models.VerificationStatus) error

	// CancelTask transitions QUEUED/IN_PROGRESS/VERIFYING -> CANCELLED.
	// Returns false if the task was not in a cancellable state.
	CancelTask(ctx context.Context, taskID string, now time.Time) (bool, error)

	// --- Agents ---

	// CreateAgent inserts a.ID if already set by the caller (so a conditional
	// ClaimTask can be attempted against that ID before the Agent row exists),
	// or generates one otherwise.
	CreateAgent(ctx context.Context, a *models.Agent) (*models.Agent, error)
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	UpdateAgentHeartbeat(ctx context.Context, id string, now time.Time, tokensDelta int64) error
	UpdateAgentStatus(ctx context.Context, id string, status models.AgentStatus, now time.Time, clearTask bool) error
	IncrementAgentOutcome(ctx context.Context, id string, completed bool) error
	ListStaleWorkingAgents(ctx context.Context, cutoff time.Time) ([]*models.Agent, error)
	CountAgentsByStatus(ctx context.Context, status models.AgentStatus) (int, error)

	// --- Runner sessions ---

	CreateRunnerSession(ctx context.Context, s *models.RunnerSession) (*models.RunnerSession, error)
	GetRunnerSessionByName(ctx context.Context, name string) (*models.RunnerSession, error)
	GetRunnerSessionByToken(ctx context.Context, token string) (*models.RunnerSession, error)
	ReactivateRunnerSession(ctx context.Context, id, newToken string, now time.Time) (*models.RunnerSession, error)
	TouchRunnerSession(ctx context.Context, id string, now time.Time) error

	// --- File locks ---

	GetFileLock(ctx context.Context, filePath string) (*models.FileLock, error)
	InsertFileLock(ctx context.Context, l *models.FileLock) error // ErrUniqueViolation on race loss
	DeleteFileLockIfExpired(ctx context.Context, filePath string, now time.Time) (bool, error)
	DeleteFileLockByOwner(ctx context.Context, filePath, agentID string) (bool, error)
	DeleteFileLocksByAgent(ctx context.Context, agentID string) (int, error)
	DeleteExpiredFileLocks(ctx context.Context, now time.Time) (int, error)
	CountFileLocks(ctx context.Context) (int, error)

	// --- Verification results ---

	CreateVerificationResult(ctx context.Context, v *models.VerificationResult) (*models.VerificationResult, error)
	ListVerificationResults(ctx context.Context, taskID string, limit int) ([]*models.VerificationResult, error)
	LatestVerificationResult(ctx context.Context, taskID string) (*models.VerificationResult, error)

	// --- Exceptions ---

	CreateException(ctx context.Context, e *models.Exception) (*models.Exception, error)
	ListExceptionsByTask(ctx context.Context, taskID string) ([]*models.Exception, error)
	HasOpenException(ctx context.Context, taskID string, excType models.ExceptionType) (bool, error)

	// --- Agent logs ---

	AppendAgentLogs(ctx context.Context, logs []*models.AgentLog) error
	ListAgentLogs(ctx context.Context, agentID string) ([]*models.AgentLog, error)
}
