// Package runner implements the Runner Protocol Service (C5): the
// stateless operations a remote runner process calls to register, poll for
// work, claim a task, heartbeat, stream logs, and report completion.
// Every operation authenticates via an opaque runnerToken and, where an
// Agent is involved, additionally checks Agent.RunnerSessionID against the
// authenticated session.
package runner

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/fleeterr"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/masking"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/models"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/store"
)

// maxClaimAttempts bounds Claim's retry loop when a candidate task is lost
// to a concurrent claimer (spec.md §4.5: "bounded retry: 5").
const maxClaimAttempts = 5

// Service implements the Runner Protocol Service over a Store.
type Service struct {
	store   store.Store
	now     func() time.Time
	maskers *masking.Registry
}

// New builds a Service. now defaults to time.Now if nil.
func New(s store.Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: s, now: now, maskers: masking.DefaultRegistry()}
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// RegisterResult is the outcome of Register.
type RegisterResult struct {
	SessionID string
	Token     string
}

// Register creates a RunnerSession for (name, workingDir), or reactivates
// an existing inactive session with the same name, issuing a fresh token
// either way. An existing *active* session under the same name keeps its
// own token; Register never discloses it to a second caller.
func (s *Service) Register(ctx context.Context, name, workingDir string) (*RegisterResult, error) {
	if name == "" {
		return nil, fleeterr.New(fleeterr.CategoryValidation, "name is required")
	}
	if workingDir == "" {
		return nil, fleeterr.New(fleeterr.CategoryValidation, "workingDir is required")
	}

	existing, err := s.store.GetRunnerSessionByName(ctx, name)
	if err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("look up existing session: %w", err)
	}
	if existing != nil {
		if existing.IsActive {
			return nil, fleeterr.New(fleeterr.CategoryConflict, "a runner is already registered and active under this name")
		}
		token, err := generateToken()
		if err != nil {
			return nil, err
		}
		reactivated, err := s.store.ReactivateRunnerSession(ctx, existing.ID, token, s.now())
		if err != nil {
			return nil, fmt.Errorf("reactivate session: %w", err)
		}
		return &RegisterResult{SessionID: reactivated.ID, Token: reactivated.Token}, nil
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}
	created, err := s.store.CreateRunnerSession(ctx, &models.RunnerSession{
		Name: name, WorkingDir: workingDir, Token: token, IsActive: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &RegisterResult{SessionID: created.ID, Token: created.Token}, nil
}

// authenticate resolves runnerToken to its active RunnerSession.
func (s *Service) authenticate(ctx context.Context, runnerToken string) (*models.RunnerSession, error) {
	if runnerToken == "" {
		return nil, fleeterr.New(fleeterr.CategoryValidation, "runnerToken is required")
	}
	session, err := s.store.GetRunnerSessionByToken(ctx, runnerToken)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, fleeterr.New(fleeterr.CategoryOwnership, "unknown or revoked runner token")
		}
		return nil, fmt.Errorf("look up session: %w", err)
	}
	if !session.IsActive {
		return nil, fleeterr.New(fleeterr.CategoryOwnership, "runner session is no longer active")
	}
	return session, nil
}

// Status reports how many tasks are currently QUEUED.
func (s *Service) Status(ctx context.Context, runnerToken string) (int, error) {
	if _, err := s.authenticate(ctx, runnerToken); err != nil {
		return 0, err
	}
	count, err := s.store.CountTasksByStatus(ctx, models.TaskStatusQueued)
	if err != nil {
		return 0, fmt.Errorf("count queued tasks: %w", err)
	}
	return count, nil
}

// ClaimResult is the outcome of Claim. Task is nil if no QUEUED task could
// be claimed.
type ClaimResult struct {
	Task  *models.Task
	Agent *models.Agent
}

// Claim atomically assigns the next QUEUED task (lowest Priority, then
// oldest CreatedAt) to a freshly created Agent bound to this runner
// session, retrying against the next candidate on a lost claim race up to
// maxClaimAttempts times. The Agent row is only created once ClaimTask has
// actually won the race, so a losing claimer leaves no orphan Agent behind
// (SPEC_FULL §8 scenario 2: exactly one Agent created per claimed task).
func (s *Service) Claim(ctx context.Context, runnerToken, workingDir string) (*ClaimResult, error) {
	session, err := s.authenticate(ctx, runnerToken)
	if err != nil {
		return nil, err
	}
	if workingDir == "" {
		return nil, fleeterr.New(fleeterr.CategoryValidation, "workingDir is required")
	}

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		candidate, err := s.store.SelectNextQueuedTask(ctx)
		if err != nil {
			if err == store.ErrNotFound {
				return &ClaimResult{}, nil
			}
			return nil, fmt.Errorf("select next queued task: %w", err)
		}

		// Pick the Agent's ID before it exists, so ClaimTask's conditional
		// update can reference it; the row itself is only created below,
		// once we know we actually won the race for candidate.
		agentID := uuid.NewString()
		branchName := fmt.Sprintf("agent/%s", shortID(candidate.ID))

		claimed, err := s.store.ClaimTask(ctx, candidate.ID, agentID, branchName, s.now())
		if err != nil {
			return nil, fmt.Errorf("claim task: %w", err)
		}
		if !claimed {
			// Lost the race to another runner; no Agent was ever created
			// for this attempt, so there is nothing to clean up.
			continue
		}

		agent, err := s.store.CreateAgent(ctx, &models.Agent{
			ID:              agentID,
			Status:          models.AgentStatusWorking,
			RunnerSessionID: session.ID,
			BranchName:      branchName,
			WorkingDir:      workingDir,
			CurrentTaskID:   &candidate.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("create agent: %w", err)
		}

		task, err := s.store.GetTask(ctx, candidate.ID)
		if err != nil {
			return nil, fmt.Errorf("reload claimed task: %w", err)
		}
		return &ClaimResult{Task: task, Agent: agent}, nil
	}
	return &ClaimResult{}, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// checkOwnership validates that agentID belongs to a session identified by
// runnerToken, returning the Agent on success.
func (s *Service) checkOwnership(ctx context.Context, runnerToken, agentID string) (*models.Agent, error) {
	session, err := s.authenticate(ctx, runnerToken)
	if err != nil {
		return nil, err
	}
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, fleeterr.New(fleeterr.CategoryNotFound, "agent not found")
		}
		return nil, fmt.Errorf("look up agent: %w", err)
	}
	if agent.RunnerSessionID != session.ID {
		return nil, fleeterr.New(fleeterr.CategoryOwnership, "agent does not belong to this runner session")
	}
	return agent, nil
}

// Heartbeat validates ownership and records liveness plus optional token
// usage, touching both the Agent and the RunnerSession.
func (s *Service) Heartbeat(ctx context.Context, runnerToken, agentID string, tokensUsedDelta int64) error {
	if _, err := s.checkOwnership(ctx, runnerToken, agentID); err != nil {
		return err
	}
	now := s.now()
	if err := s.store.UpdateAgentHeartbeat(ctx, agentID, now, tokensUsedDelta); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	session, err := s.store.GetRunnerSessionByToken(ctx, runnerToken)
	if err != nil {
		return fmt.Errorf("reload session: %w", err)
	}
	if err := s.store.TouchRunnerSession(ctx, session.ID, now); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// Logs validates ownership then appends logs in the provided order,
// server-assigning CreatedAt and associating them with agentID/taskID.
// Content truncation to models.MaxLogContentBytes happens inside
// AppendAgentLogs per entry.
func (s *Service) Logs(ctx context.Context, runnerToken, agentID, taskID string, logs []*models.AgentLog) error {
	if _, err := s.checkOwnership(ctx, runnerToken, agentID); err != nil {
		return err
	}
	for _, l := range logs {
		l.AgentID = agentID
		l.TaskID = &taskID
		if s.maskers != nil {
			l.Content = s.maskers.Mask(l.Content)
		}
	}
	if err := s.store.AppendAgentLogs(ctx, logs); err != nil {
		return fmt.Errorf("append logs: %w", err)
	}
	return nil
}

// CompleteRequest is the runner-reported outcome of a finished task.
type CompleteRequest struct {
	Success bool
	Summary string
	Error   string
}

// Complete validates ownership and finalizes the task/agent pair exactly
// as the in-process Agent Runner Loop's own termination finalization would
// (spec.md §4.5: "mirroring §4.4 finalization — without running
// verification again, the runner did it").
func (s *Service) Complete(ctx context.Context, runnerToken, agentID, taskID string, req CompleteRequest) error {
	agent, err := s.checkOwnership(ctx, runnerToken, agentID)
	if err != nil {
		return err
	}

	if _, err := s.releaseAgentLocks(ctx, agentID); err != nil {
		return err
	}

	now := s.now()
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if !task.Status.IsTerminal() {
		status := models.TaskStatusFailed
		if req.Success {
			status = models.TaskStatusCompleted
		}
		if err := s.store.CompleteTask(ctx, taskID, status, now, nil); err != nil {
			return fmt.Errorf("finalize task: %w", err)
		}
	}

	agentStatus := models.AgentStatusFailed
	completed := false
	if req.Success {
		agentStatus, completed = models.AgentStatusIdle, true
	}
	if err := s.store.UpdateAgentStatus(ctx, agentID, agentStatus, now, true); err != nil {
		return fmt.Errorf("finalize agent: %w", err)
	}
	if err := s.store.IncrementAgentOutcome(ctx, agentID, completed); err != nil {
		return fmt.Errorf("increment agent outcome: %w", err)
	}

	if !req.Success {
		description := req.Error
		if description == "" {
			description = req.Summary
		}
		if _, err := s.store.CreateException(ctx, &models.Exception{
			Type: models.ExceptionUnknown, Severity: models.SeverityError, Status: models.ExceptionOpen,
			Title: fmt.Sprintf("runner-reported failure for agent %s", agent.ID), Description: description,
			AgentID: &agentID, TaskID: &taskID,
		}); err != nil {
			return fmt.Errorf("create exception: %w", err)
		}
	}
	return nil
}

// releaseAgentLocks drops every file lock held by agentID. It lives here
// rather than importing pkg/coordinator to avoid a second entry point for
// the same deletes; both this service and the Coordinator act directly on
// Store.DeleteFileLocksByAgent.
func (s *Service) releaseAgentLocks(ctx context.Context, agentID string) (int, error) {
	n, err := s.store.DeleteFileLocksByAgent(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("release agent locks: %w", err)
	}
	return n, nil
}
