// Package supervisor implements the Supervisor (C7): a periodic
// background loop running three checks concurrently per pass — stuck-agent
// detection, lock-expiry cleanup, and failed-task retry scheduling — per
// SPEC_FULL §4.7. A Supervisor error never crashes the process; it opens
// an Exception(UNKNOWN_ERROR) and the loop continues on the next tick.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/coordinator"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/metrics"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/models"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/store"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/tasks"
)

// DefaultInterval is the pass cadence (spec.md §4.7: "30 s interval").
const DefaultInterval = 30 * time.Second

// stuckAgentTimeout is how long an Agent may go without activity before it
// is considered stuck.
const stuckAgentTimeout = 10 * time.Minute

// retryPolicy is one row of the failed-task retry policy table
// (spec.md §4.7).
type retryPolicy struct {
	shouldRetry  bool
	delay        time.Duration
	maxAttempts  int
	humanReview  bool
}

var retryPolicies = map[tasks.FailureType]retryPolicy{
	tasks.FailureSyntaxError:   {shouldRetry: true, delay: 5 * time.Second, maxAttempts: 3, humanReview: false},
	tasks.FailureTypeError:     {shouldRetry: true, delay: 10 * time.Second, maxAttempts: 3, humanReview: false},
	tasks.FailureLintError:     {shouldRetry: true, delay: 5 * time.Second, maxAttempts: 2, humanReview: false},
	tasks.FailureTestFailure:   {shouldRetry: true, delay: 30 * time.Second, maxAttempts: 2, humanReview: true},
	tasks.FailureSemanticError: {shouldRetry: false, delay: 0, maxAttempts: 1, humanReview: true},
	tasks.FailureTimeout:       {shouldRetry: true, delay: 60 * time.Second, maxAttempts: 2, humanReview: false},
	tasks.FailureUnknown:       {shouldRetry: true, delay: 30 * time.Second, maxAttempts: 1, humanReview: true},
}

// maxVerificationAttemptsConsidered bounds which FAILED tasks the retry
// scheduler even looks at (spec.md §4.7: "verificationAttempts < 3").
const maxVerificationAttemptsConsidered = 3

// Supervisor runs the periodic maintenance loop.
type Supervisor struct {
	store   store.Store
	coord   *coordinator.Coordinator
	metrics *metrics.Metrics
	now     func() time.Time

	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// New builds a Supervisor. now defaults to time.Now if nil; interval
// defaults to DefaultInterval if zero.
func New(s store.Store, coord *coordinator.Coordinator, interval time.Duration, now func() time.Time) *Supervisor {
	if now == nil {
		now = time.Now
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Supervisor{store: s, coord: coord, now: now, interval: interval}
}

// SetMetrics wires a Metrics sink into the Supervisor so every pass updates
// the queue-depth/agents-active/locks-held gauges and observes its own
// duration (SPEC_FULL §4.10). Optional; a Supervisor with no
// Metrics wired skips this step.
func (sv *Supervisor) SetMetrics(m *metrics.Metrics) {
	sv.metrics = m
}

// Start launches the background loop. Calling Start twice is a no-op.
func (sv *Supervisor) Start(ctx context.Context) {
	if sv.cancel != nil {
		return
	}
	ctx, sv.cancel = context.WithCancel(ctx)
	sv.done = make(chan struct{})
	go sv.run(ctx)
	slog.Info("supervisor: started", "interval", sv.interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (sv *Supervisor) Stop() {
	if sv.cancel == nil {
		return
	}
	sv.cancel()
	<-sv.done
	slog.Info("supervisor: stopped")
}

func (sv *Supervisor) run(ctx context.Context) {
	defer close(sv.done)

	sv.RunOnce(ctx)

	ticker := time.NewTicker(sv.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sv.RunOnce(ctx)
		}
	}
}

// RunOnce executes the three checks concurrently, as one pass. Exported so
// tests (and a manual operator trigger) can drive a single pass
// deterministically without waiting on the ticker.
func (sv *Supervisor) RunOnce(ctx context.Context) {
	start := sv.now()
	var wg sync.WaitGroup
	checks := []func(context.Context){
		sv.detectStuckAgents,
		sv.cleanupExpiredLocks,
		sv.scheduleFailedTaskRetries,
	}
	for _, check := range checks {
		wg.Add(1)
		go func(c func(context.Context)) {
			defer wg.Done()
			defer sv.recoverCheck(ctx)
			c(ctx)
		}(check)
	}
	wg.Wait()
	sv.recordMetrics(ctx, sv.now().Sub(start))
}

// recordMetrics updates the gauges Metrics exposes at GET /api/metrics.
// A nil sv.metrics makes every call here a no-op (Metrics' own methods are
// nil-receiver-safe).
func (sv *Supervisor) recordMetrics(ctx context.Context, passDuration time.Duration) {
	if sv.metrics == nil {
		return
	}
	sv.metrics.ObserveSupervisorPass(passDuration.Seconds())

	if counts, err := sv.store.CountQueuedTasksByPriority(ctx); err == nil {
		for priority := models.MinPriority; priority <= models.MaxPriority; priority++ {
			sv.metrics.SetQueueDepth(priority, counts[priority])
		}
	}
	if locks, err := sv.store.CountFileLocks(ctx); err == nil {
		sv.metrics.SetLocksHeld(locks)
	}
	if active, err := sv.store.CountAgentsByStatus(ctx, models.AgentStatusWorking); err == nil {
		sv.metrics.SetAgentsActive(active)
	}
}

// recoverCheck converts a panicking check into an Exception rather than
// crashing the process, per spec.md §4.7's "Supervisor errors never crash
// the process".
func (sv *Supervisor) recoverCheck(ctx context.Context) {
	if r := recover(); r != nil {
		sv.reportUnknownError(ctx, fmt.Sprintf("supervisor check panicked: %v", r))
	}
}

func (sv *Supervisor) reportUnknownError(ctx context.Context, description string) {
	slog.Error("supervisor: check failed", "error", description)
	if _, err := sv.store.CreateException(ctx, &models.Exception{
		Type: models.ExceptionUnknown, Severity: models.SeverityError, Status: models.ExceptionOpen,
		Title: "supervisor check failed", Description: description,
	}); err != nil {
		slog.Error("supervisor: failed to record exception", "error", err)
	}
}

// detectStuckAgents fails every WORKING Agent whose last activity (or, if
// never recorded, start time) is older than stuckAgentTimeout.
func (sv *Supervisor) detectStuckAgents(ctx context.Context) {
	cutoff := sv.now().Add(-stuckAgentTimeout)
	agents, err := sv.store.ListStaleWorkingAgents(ctx, cutoff)
	if err != nil {
		sv.reportUnknownError(ctx, fmt.Sprintf("list stale working agents: %v", err))
		return
	}
	for _, agent := range agents {
		now := sv.now()
		lastActive := agent.StartedAt
		if agent.LastActivityAt != nil {
			lastActive = *agent.LastActivityAt
		}
		if _, err := sv.store.CreateException(ctx, &models.Exception{
			Type: models.ExceptionAgentStuck, Severity: models.SeverityError, Status: models.ExceptionOpen,
			Title:       fmt.Sprintf("agent %s appears stuck", agent.ID),
			Description: fmt.Sprintf("no activity since %s", lastActive.Format(time.RFC3339)),
			AgentID:     &agent.ID,
			TaskID:      agent.CurrentTaskID,
		}); err != nil {
			slog.Error("supervisor: failed to create stuck-agent exception", "agent_id", agent.ID, "error", err)
			continue
		}
		if err := sv.store.UpdateAgentStatus(ctx, agent.ID, models.AgentStatusFailed, now, true); err != nil {
			slog.Error("supervisor: failed to fail stuck agent", "agent_id", agent.ID, "error", err)
		}
		if _, err := sv.store.DeleteFileLocksByAgent(ctx, agent.ID); err != nil {
			slog.Error("supervisor: failed to release stuck agent's locks", "agent_id", agent.ID, "error", err)
		}
		if agent.CurrentTaskID != nil {
			if err := sv.store.CompleteTask(ctx, *agent.CurrentTaskID, models.TaskStatusFailed, now, nil); err != nil {
				slog.Error("supervisor: failed to fail stuck agent's task", "task_id", *agent.CurrentTaskID, "error", err)
			}
		}
	}
}

// cleanupExpiredLocks delegates to the Coordinator, which owns the lock
// table's own cleanup primitive.
func (sv *Supervisor) cleanupExpiredLocks(ctx context.Context) {
	if _, err := sv.coord.CleanupExpiredLocks(ctx); err != nil {
		sv.reportUnknownError(ctx, fmt.Sprintf("cleanup expired locks: %v", err))
	}
}

// scheduleFailedTaskRetries classifies each eligible FAILED task's most
// recent verification failure and applies the retry policy table.
func (sv *Supervisor) scheduleFailedTaskRetries(ctx context.Context) {
	status := models.TaskStatusFailed
	failed, err := sv.store.ListTasks(ctx, store.TaskFilter{Status: &status})
	if err != nil {
		sv.reportUnknownError(ctx, fmt.Sprintf("list failed tasks: %v", err))
		return
	}

	for _, task := range failed {
		if task.VerificationAttempts >= maxVerificationAttemptsConsidered {
			continue
		}
		latest, err := sv.store.LatestVerificationResult(ctx, task.ID)
		if err != nil && err != store.ErrNotFound {
			slog.Error("supervisor: failed to load verification result", "task_id", task.ID, "error", err)
			continue
		}
		failureType := tasks.ClassifyFailure(latest)
		policy, ok := retryPolicies[failureType]
		if !ok {
			policy = retryPolicies[tasks.FailureUnknown]
		}

		elapsed := sv.now().Sub(task.UpdatedAt)
		if policy.shouldRetry && elapsed >= policy.delay && task.VerificationAttempts < policy.maxAttempts {
			if err := sv.store.RequeueTask(ctx, task.ID, 0, 1); err != nil {
				slog.Error("supervisor: failed to requeue task for auto-retry", "task_id", task.ID, "error", err)
			}
			continue
		}
		if policy.humanReview {
			sv.ensureHumanReviewException(ctx, task, failureType)
		}
	}
}

func (sv *Supervisor) ensureHumanReviewException(ctx context.Context, task *models.Task, failureType tasks.FailureType) {
	open, err := sv.store.HasOpenException(ctx, task.ID, models.ExceptionTaskFailure)
	if err != nil {
		slog.Error("supervisor: failed to check existing exceptions", "task_id", task.ID, "error", err)
		return
	}
	if open {
		return
	}
	taskID := task.ID
	if _, err := sv.store.CreateException(ctx, &models.Exception{
		Type: models.ExceptionTaskFailure, Severity: models.SeverityWarning, Status: models.ExceptionOpen,
		Title:       fmt.Sprintf("task %s needs human review", task.ID),
		Description: fmt.Sprintf("classified as %s; not eligible for further automatic retry", failureType),
		TaskID:      &taskID,
	}); err != nil {
		slog.Error("supervisor: failed to create human-review exception", "task_id", task.ID, "error", err)
	}
}
