package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/coordinator"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/llm"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/masking"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/models"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/store"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/verifier"
)

// Default loop budgets (spec.md §4.4).
const (
	DefaultMaxIterations = 50
	DefaultMaxRunningTime = 30 * time.Minute
	maxLLMRetries         = 3
	rateLimitSleep        = 60 * time.Second
	transientSleep        = 5 * time.Second
)

// Outcome is the terminal result of one Loop.Run call.
type Outcome string

// Loop outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Loop drives one Agent through one Task: a sequence of tool-using LLM
// turns until task_complete/task_failed, verification pass, or budget
// exhaustion.
type Loop struct {
	store     store.Store
	coord     *coordinator.Coordinator
	verifier  *verifier.Verifier
	llmClient llm.LLMClient
	tools     *ToolExecutor

	agentID, taskID, workingDir string

	maxIterations int
	maxRunTime    time.Duration

	now         func() time.Time
	uncommitted func(workingDir string) (bool, error)
	commit      func(workingDir, message string) error
	maskers     *masking.Registry

	paused  atomic.Bool
	stopped atomic.Bool
}

// Pause cooperatively suspends the loop before its next LLM call: no
// further calls are issued and the Agent transitions to PAUSED, retaining
// its locks so a subsequent Resume can continue the same run.
func (l *Loop) Pause() { l.paused.Store(true) }

// Resume clears a prior Pause.
func (l *Loop) Resume() { l.paused.Store(false) }

// Stop requests the loop terminate before its next LLM call, releasing
// locks and transitioning the Agent to IDLE (spec.md §4.4's "stop" verb,
// distinct from Pause).
func (l *Loop) Stop() { l.stopped.Store(true) }

// Config bundles a Loop's tunables; zero values take the spec.md §4.4
// defaults.
type Config struct {
	MaxIterations int
	MaxRunTime    time.Duration
}

// NewLoop builds a Loop for one task execution. The working-tree status and
// commit primitives spec.md §4.4 describes as "externally supplied" are
// always the git-backed gitHasUncommittedChanges and gitCommitAll.
func NewLoop(s store.Store, coord *coordinator.Coordinator, v *verifier.Verifier, llmClient llm.LLMClient, tools *ToolExecutor, agentID, taskID, workingDir string, cfg Config) *Loop {
	l := &Loop{
		store: s, coord: coord, verifier: v, llmClient: llmClient, tools: tools,
		agentID: agentID, taskID: taskID, workingDir: workingDir,
		maxIterations: cfg.MaxIterations,
		maxRunTime:    cfg.MaxRunTime,
		now:           time.Now,
		uncommitted:   gitHasUncommittedChanges,
		commit:        gitCommitAll,
		maskers:       masking.DefaultRegistry(),
	}
	if l.maxIterations <= 0 {
		l.maxIterations = DefaultMaxIterations
	}
	if l.maxRunTime <= 0 {
		l.maxRunTime = DefaultMaxRunningTime
	}
	return l
}

// Run executes the loop to completion, returning the terminal outcome and
// a human-readable summary. It always performs termination finalization
// (lock release, Task/Agent status update) before returning, regardless of
// outcome.
func (l *Loop) Run(ctx context.Context, task *models.Task) (Outcome, string) {
	startTime := l.now()
	var history []llm.ConversationMessage
	var totalTokens int64
	var retryCount int

	history = append(history, llm.ConversationMessage{Role: llm.RoleSystem, Content: l.systemPrompt(task)})

	outcome, summary := l.iterate(ctx, task, &history, &totalTokens, &retryCount, startTime)
	l.finalize(ctx, outcome, summary, totalTokens)
	return outcome, summary
}

func (l *Loop) iterate(ctx context.Context, task *models.Task, history *[]llm.ConversationMessage, totalTokens *int64, retryCount *int, startTime time.Time) (Outcome, string) {
	for iteration := 0; iteration < l.maxIterations; iteration++ {
		if l.stopped.Load() {
			l.logInfo(ctx, "loop stopped on request")
			return OutcomeFailure, "stopped"
		}
		if l.paused.Load() {
			if err := l.store.UpdateAgentStatus(ctx, l.agentID, models.AgentStatusPaused, l.now(), false); err != nil {
				slog.Warn("agent: failed to record paused status", "agent_id", l.agentID, "error", err)
			}
			if !l.waitWhilePaused(ctx) {
				l.logInfo(ctx, "loop stopped while paused")
				return OutcomeFailure, "stopped"
			}
			if err := l.store.UpdateAgentStatus(ctx, l.agentID, models.AgentStatusWorking, l.now(), false); err != nil {
				slog.Warn("agent: failed to record resumed status", "agent_id", l.agentID, "error", err)
			}
		}

		if l.now().Sub(startTime) >= l.maxRunTime {
			l.logInfo(ctx, "loop exceeded MAX_RUNNING_TIME without completing")
			return OutcomeFailure, "exceeded maximum running time"
		}

		if err := l.store.UpdateAgentHeartbeat(ctx, l.agentID, l.now(), 0); err != nil {
			slog.Warn("agent: heartbeat update failed", "agent_id", l.agentID, "error", err)
		}

		resp, err := l.callLLMWithRetry(ctx, *history, startTime)
		if err != nil {
			l.logError(ctx, fmt.Sprintf("LLM call failed permanently: %v", err))
			return OutcomeFailure, "LLM call failed"
		}
		*totalTokens += int64(resp.Usage.TotalTokens)

		if resp.Thinking != "" {
			l.logThinking(ctx, resp.Thinking)
		}

		assistantMsg := llm.ConversationMessage{Role: llm.RoleAssistant, Content: resp.Text}
		var toolResults []llm.ConversationMessage
		var terminalOutcome *Outcome
		var terminalSummary string
		var pending []llm.ConversationMessage

		for _, call := range resp.ToolCalls {
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, call)
			l.logToolCall(ctx, call)

			result, err := l.tools.Execute(ctx, call.Name, call.Arguments)
			if err != nil {
				l.logError(ctx, fmt.Sprintf("tool %s: %v", call.Name, err))
				result = fmt.Sprintf(`{"error":%q}`, err.Error())
			} else {
				l.logToolResult(ctx, call.Name, result)
			}
			toolResults = append(toolResults, llm.ConversationMessage{
				Role: llm.RoleTool, Content: result, ToolCallID: call.ID, ToolName: call.Name,
			})

			if call.Name == ToolTaskComplete || call.Name == ToolTaskFailed {
				outcome, summary := l.handleCompletionIntent(ctx, task, call, &pending, retryCount, startTime)
				if outcome != nil {
					terminalOutcome, terminalSummary = outcome, summary
				}
			}
		}

		*history = append(*history, assistantMsg)
		if len(toolResults) > 0 {
			*history = append(*history, toolResults...)
		} else {
			// End-of-turn with no tool calls: nudge for continuation
			// (spec.md §4.4 step 5).
			*history = append(*history, llm.ConversationMessage{
				Role: llm.RoleUser, Content: "Continue working the task, or call task_complete/task_failed when done.",
			})
		}
		*history = append(*history, pending...)

		if terminalOutcome != nil {
			return *terminalOutcome, terminalSummary
		}
	}
	l.logInfo(ctx, "loop exhausted maxIterations without completing")
	return OutcomeFailure, "exceeded maximum iteration count"
}

// handleCompletionIntent implements spec.md §4.4's task_complete/task_failed
// handling. It returns a non-nil *Outcome only when the loop should
// terminate; a nil outcome means "retry the outer loop". On a retriable
// verification failure it appends a failure-feedback user message to
// history so the LLM sees concrete per-check detail on its next turn;
// iterate passes the turn's pending messages here and adds them after the
// assistant message and its tool results.
func (l *Loop) handleCompletionIntent(ctx context.Context, task *models.Task, call llm.ToolCall, history *[]llm.ConversationMessage, retryCount *int, startTime time.Time) (*Outcome, string) {
	if call.Name == ToolTaskFailed {
		var args struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal([]byte(call.Arguments), &args)
		failure := OutcomeFailure
		return &failure, args.Reason
	}

	var args struct {
		Summary string `json:"summary"`
	}
	_ = json.Unmarshal([]byte(call.Arguments), &args)

	if uncommitted, err := l.uncommitted(l.workingDir); err == nil && uncommitted {
		msg := args.Summary
		if len(msg) > 100 {
			msg = msg[:100]
		}
		if err := l.commit(l.workingDir, strings.ReplaceAll(msg, `"`, `\"`)); err != nil {
			l.logError(ctx, fmt.Sprintf("commit before verification failed: %v", err))
		}
	} else if err != nil {
		l.logError(ctx, fmt.Sprintf("check uncommitted changes: %v", err))
	}

	if err := l.store.SetTaskVerifying(ctx, task.ID); err != nil {
		l.logError(ctx, fmt.Sprintf("transition to verifying failed: %v", err))
	}

	result, err := l.verifier.Run(ctx, task.ID, l.workingDir)
	if err != nil {
		l.logError(ctx, fmt.Sprintf("verifier run failed: %v", err))
		failure := OutcomeFailure
		return &failure, "verification could not be run"
	}

	if result.Passed {
		success := OutcomeSuccess
		return &success, args.Summary
	}

	if *retryCount >= 3 {
		l.createException(ctx, models.ExceptionVerificationFail, models.SeverityError,
			"verification failed after maximum retries", task.ID)
		failure := OutcomeFailure
		return &failure, "verification failed after maximum retries"
	}

	if l.now().Sub(startTime) >= l.maxRunTime {
		l.createException(ctx, models.ExceptionAgentStuck, models.SeverityError,
			"agent exceeded running time budget while retrying verification", task.ID)
		failure := OutcomeFailure
		return &failure, "exceeded maximum running time while retrying verification"
	}

	*retryCount++
	feedback := formatFailureFeedback(result)
	l.logInfo(ctx, feedback)
	*history = append(*history, llm.ConversationMessage{Role: llm.RoleUser, Content: feedback})
	return nil, ""
}

// formatFailureFeedback builds the detailed per-check feedback message
// appended to history so the LLM can address concrete failures on its next
// attempt (spec.md §4.4 step 6).
func formatFailureFeedback(result *models.VerificationResult) string {
	var b strings.Builder
	b.WriteString("Verification failed:\n")
	writeCheckLine(&b, "syntax", result.SyntaxPassed)
	writeCheckLine(&b, "types", result.TypesPassed)
	writeCheckLine(&b, "lint", result.LintPassed)
	writeCheckLine(&b, "tests", result.TestsPassed)
	if result.SemanticScore != nil {
		fmt.Fprintf(&b, "- semantic: score=%.2f — %s\n", *result.SemanticScore, result.SemanticExplanation)
	} else {
		b.WriteString("- semantic: SKIPPED\n")
	}
	for _, f := range result.Failures {
		loc := ""
		if f.File != nil {
			loc = *f.File
			if f.Line != nil {
				loc = fmt.Sprintf("%s:%d", loc, *f.Line)
			}
			loc += ": "
		}
		fmt.Fprintf(&b, "  %s%s\n", loc, f.Message)
	}
	if len(result.Recommendations) > 0 {
		b.WriteString("Recommendations:\n")
		for _, r := range result.Recommendations {
			fmt.Fprintf(&b, "  - %s\n", r)
		}
	}
	return b.String()
}

func writeCheckLine(b *strings.Builder, name string, passed bool) {
	status := "PASSED"
	if !passed {
		status = "FAILED"
	}
	fmt.Fprintf(b, "- %s: %s\n", name, status)
}

// waitWhilePaused blocks until Resume or Stop is called, or ctx is
// cancelled. It returns false if the loop should terminate instead of
// resuming.
func (l *Loop) waitWhilePaused(ctx context.Context) bool {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for l.paused.Load() {
		if l.stopped.Load() {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return !l.stopped.Load()
}

// callLLMWithRetry retries LLM calls by error class (see classifyLLMError):
// a flat 60s sleep with unlimited retry for rate limiting, a flat 5s sleep
// for connection-reset/5xx errors, and exponential backoff (up to
// maxLLMRetries) only for errors whose message says "retryable". Any other
// error is returned at once, without a retry.
func (l *Loop) callLLMWithRetry(ctx context.Context, history []llm.ConversationMessage, startTime time.Time) (*llm.Response, error) {
	attempt := 0
	for {
		resp, err := llm.Call(ctx, l.llmClient, &llm.GenerateInput{
			TaskID: l.taskID, AgentID: l.agentID,
			Messages: history, Tools: Catalog(),
		})
		if err == nil {
			return resp, nil
		}

		retryable, sleep := classifyLLMError(err)
		if !retryable {
			return nil, err
		}
		if l.now().Sub(startTime) >= l.maxRunTime {
			return nil, fmt.Errorf("exceeded running time while retrying LLM call: %w", err)
		}

		attempt++
		if sleep == 0 {
			if attempt > maxLLMRetries {
				return nil, fmt.Errorf("llm call failed after %d retries: %w", maxLLMRetries, err)
			}
			sleep = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// classifyLLMError returns whether err is worth retrying and, for the two
// flat-sleep classes (rate limit, transient), the fixed sleep duration to
// use. A zero sleep with retryable=true means "use exponential backoff".
func classifyLLMError(err error) (retryable bool, sleep time.Duration) {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return true, rateLimitSleep
	case strings.Contains(msg, "connection reset") || strings.Contains(msg, "http 5") || strings.Contains(msg, "5xx"):
		return true, transientSleep
	case strings.Contains(msg, "retryable"):
		return true, 0
	default:
		return false, 0
	}
}

// finalize implements spec.md §4.4's termination finalization sequence.
func (l *Loop) finalize(ctx context.Context, outcome Outcome, summary string, totalTokens int64) {
	if _, err := l.coord.ReleaseAllLocks(ctx, l.agentID); err != nil {
		slog.Error("agent: failed to release locks on termination", "agent_id", l.agentID, "error", err)
	}

	if summary == "stopped" {
		// An explicit Stop is neither success nor failure: requeue the
		// task for a future run and return the agent to IDLE, with no
		// exception raised.
		if err := l.store.RequeueTask(ctx, l.taskID, 0, 0); err != nil {
			slog.Error("agent: failed to requeue task on stop", "task_id", l.taskID, "error", err)
		}
		if err := l.store.UpdateAgentStatus(ctx, l.agentID, models.AgentStatusIdle, l.now(), true); err != nil {
			slog.Error("agent: failed to set agent idle on stop", "agent_id", l.agentID, "error", err)
		}
		return
	}

	task, err := l.store.GetTask(ctx, l.taskID)
	if err != nil {
		slog.Error("agent: failed to re-read task on termination", "task_id", l.taskID, "error", err)
	} else if !task.Status.IsTerminal() {
		status := models.TaskStatusFailed
		if outcome == OutcomeSuccess {
			status = models.TaskStatusCompleted
		}
		if err := l.store.CompleteTask(ctx, l.taskID, status, l.now(), nil); err != nil {
			slog.Error("agent: failed to finalize task status", "task_id", l.taskID, "error", err)
		}
	}

	agentStatus := models.AgentStatusFailed
	completed := false
	if outcome == OutcomeSuccess {
		agentStatus, completed = models.AgentStatusIdle, true
	}
	if err := l.store.UpdateAgentStatus(ctx, l.agentID, agentStatus, l.now(), true); err != nil {
		slog.Error("agent: failed to finalize agent status", "agent_id", l.agentID, "error", err)
	}
	if err := l.store.IncrementAgentOutcome(ctx, l.agentID, completed); err != nil {
		slog.Error("agent: failed to increment agent outcome counter", "agent_id", l.agentID, "error", err)
	}

	if outcome == OutcomeFailure {
		l.ensureFailureException(ctx, summary)
	}
}

// ensureFailureException opens an Exception for a failed run that has not
// already opened one during completion-intent handling (e.g. the loop
// exhausted its iteration/time budget rather than failing verification).
func (l *Loop) ensureFailureException(ctx context.Context, summary string) {
	open, err := l.store.HasOpenException(ctx, l.taskID, models.ExceptionVerificationFail)
	if err != nil {
		slog.Error("agent: failed to check existing exceptions", "task_id", l.taskID, "error", err)
		return
	}
	if open {
		return
	}
	excType := models.ExceptionUnknown
	if strings.Contains(summary, "running time") {
		excType = models.ExceptionAgentStuck
	}
	l.createException(ctx, excType, models.SeverityError, summary, l.taskID)
}

func (l *Loop) createException(ctx context.Context, excType models.ExceptionType, severity models.ExceptionSeverity, description, taskID string) {
	agentID := l.agentID
	if _, err := l.store.CreateException(ctx, &models.Exception{
		Type: excType, Severity: severity, Status: models.ExceptionOpen,
		Title: fmt.Sprintf("agent %s: %s", l.agentID, excType), Description: description,
		AgentID: &agentID, TaskID: &taskID,
	}); err != nil {
		slog.Error("agent: failed to create exception", "agent_id", l.agentID, "task_id", taskID, "error", err)
	}
}

func (l *Loop) systemPrompt(task *models.Task) string {
	hints := strings.Join(task.FilesHint, ", ")
	var branch string
	if task.BranchName != nil {
		branch = *task.BranchName
	}
	return fmt.Sprintf(
		"Task: %s\n\n%s\n\nBranch: %s\nWorking directory: %s\nFiles hint: %s\n\n"+
			"Use the available tools to make the necessary changes, then call task_complete "+
			"with a summary once you believe the task is done, or task_failed if it cannot be completed.",
		task.Title, task.Description, branch, l.workingDir, hints,
	)
}

func (l *Loop) logInfo(ctx context.Context, content string) {
	l.appendLog(ctx, models.LogTypeInfo, content)
}
func (l *Loop) logError(ctx context.Context, content string) {
	l.appendLog(ctx, models.LogTypeError, content)
}
func (l *Loop) logThinking(ctx context.Context, content string) {
	l.appendLog(ctx, models.LogTypeThinking, content)
}
func (l *Loop) logToolCall(ctx context.Context, call llm.ToolCall) {
	payload, _ := json.Marshal(map[string]string{"tool": call.Name, "input": call.Arguments})
	l.appendLog(ctx, models.LogTypeToolCall, string(payload))
}
func (l *Loop) logToolResult(ctx context.Context, tool, result string) {
	payload, _ := json.Marshal(map[string]string{"tool": tool, "result": result})
	l.appendLog(ctx, models.LogTypeToolResult, string(payload))
}

func (l *Loop) appendLog(ctx context.Context, logType models.AgentLogType, content string) {
	if l.maskers != nil {
		content = l.maskers.Mask(content)
	}

	taskID := l.taskID
	if err := l.store.AppendAgentLogs(ctx, []*models.AgentLog{{
		AgentID: l.agentID, TaskID: &taskID, LogType: logType, Content: content,
	}}); err != nil {
		slog.Warn("agent: failed to append log", "agent_id", l.agentID, "log_type", logType, "error", err)
	}
}

// gitHasUncommittedChanges reports whether the working tree has pending
// changes, via `git status --porcelain`.
func gitHasUncommittedChanges(workingDir string) (bool, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = workingDir
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}

// gitCommitAll stages and commits every pending change with message.
func gitCommitAll(workingDir, message string) error {
	add := exec.Command("git", "add", "-A")
	add.Dir = workingDir
	if err := add.Run(); err != nil {
		return fmt.Errorf("git add: %w", err)
	}
	commit := exec.Command("git", "commit", "-m", message)
	commit.Dir = workingDir
	if err := commit.Run(); err != nil {
		return fmt.Errorf("git commit: %w", err)
	}
	return nil
}
