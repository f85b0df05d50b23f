package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/coordinator"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/llm"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/models"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/store"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/verifier"
)

// scriptedLLM replays a fixed sequence of turns, one per Generate call; the
// last turn repeats once the script is exhausted.
type scriptedLLM struct {
	turns []turn
	calls int

	receivedMessages [][]llm.ConversationMessage
}

type turn struct {
	text      string
	toolCalls []llm.ToolCall
}

func (f *scriptedLLM) Generate(ctx context.Context, input *llm.GenerateInput) (<-chan llm.Chunk, error) {
	f.receivedMessages = append(f.receivedMessages, input.Messages)
	idx := f.calls
	if idx >= len(f.turns) {
		idx = len(f.turns) - 1
	}
	f.calls++
	tn := f.turns[idx]

	ch := make(chan llm.Chunk, len(tn.toolCalls)+2)
	if tn.text != "" {
		ch <- &llm.TextChunk{Content: tn.text}
	}
	for _, c := range tn.toolCalls {
		ch <- &llm.ToolCallChunk{CallID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	ch <- &llm.UsageChunk{Usage: llm.TokenUsage{InputTokens: 1, OutputTokens: 1, TotalTokens: 2}}
	close(ch)
	return ch, nil
}

func (f *scriptedLLM) Close() error { return nil }

// passingVerifierDeps wires a verifier.Verifier that always passes.
type passChecker struct{}

func (passChecker) Name() string       { return "pass" }
func (passChecker) Detect(string) bool { return true }
func (passChecker) CheckSyntax(context.Context, string) (bool, []models.VerificationFailure, error) {
	return true, nil, nil
}
func (passChecker) CheckTypes(context.Context, string) (bool, []models.VerificationFailure, error) {
	return true, nil, nil
}

type passTestRunner struct{}

func (passTestRunner) Name() string       { return "pass" }
func (passTestRunner) Detect(string) bool { return true }
func (passTestRunner) RunTests(context.Context, string, time.Duration) (verifier.TestReport, error) {
	return verifier.TestReport{Total: 1, Failed: 0}, nil
}

type passJudge struct{}

func (passJudge) Score(context.Context, string) (float64, string, error) { return 1.0, "ok", nil }

func noOpDiff(string) (string, error) { return "", nil }

type failChecker struct{}

func (failChecker) Name() string       { return "fail" }
func (failChecker) Detect(string) bool { return true }
func (failChecker) CheckSyntax(context.Context, string) (bool, []models.VerificationFailure, error) {
	return false, []models.VerificationFailure{{Check: "syntax", Message: "bad"}}, nil
}
func (failChecker) CheckTypes(context.Context, string) (bool, []models.VerificationFailure, error) {
	return true, nil, nil
}

func newPassingVerifier(s store.Store) *verifier.Verifier {
	return verifier.New(s, []verifier.LanguageChecker{passChecker{}}, nil,
		[]verifier.TestRunner{passTestRunner{}}, passJudge{}, noOpDiff)
}

func newFailingVerifier(s store.Store) *verifier.Verifier {
	return verifier.New(s, []verifier.LanguageChecker{failChecker{}}, nil,
		[]verifier.TestRunner{passTestRunner{}}, passJudge{}, noOpDiff)
}

func setupRunnableTask(t *testing.T, s store.Store, agentID string) *models.Task {
	t.Helper()
	ctx := context.Background()
	task, err := s.CreateTask(ctx, &models.Task{Title: "do the thing"})
	require.NoError(t, err)
	claimed, err := s.ClaimTask(ctx, task.ID, agentID, "branch-1", time.Now())
	require.NoError(t, err)
	require.True(t, claimed)
	_, err = s.CreateAgent(ctx, &models.Agent{ID: agentID, Status: models.AgentStatusWorking, WorkingDir: t.TempDir(), RunnerSessionID: "session-1"})
	require.NoError(t, err)
	return task
}

func completeArgs(t *testing.T, summary string) string {
	b, err := json.Marshal(map[string]string{"summary": summary})
	require.NoError(t, err)
	return string(b)
}

func TestLoop_Run_CompletesOnFirstPass(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	task := setupRunnableTask(t, s, "agent-1")

	llm := &scriptedLLM{turns: []turn{
		{toolCalls: []llm.ToolCall{{ID: "1", Name: ToolTaskComplete, Arguments: completeArgs(t, "done")}}},
	}}
	tools := NewToolExecutor(task.ID, "agent-1", task.ID, coordinator.New(s, nil))
	loop := NewLoop(s, coordinator.New(s, nil), newPassingVerifier(s), llm, tools, "agent-1", task.ID, t.TempDir(), Config{})

	outcome, summary := loop.Run(ctx, task)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, "done", summary)

	updated, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, updated.Status)

	agent, err := s.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusIdle, agent.Status)
	assert.Equal(t, 1, agent.TasksCompleted)
}

func TestLoop_Run_TaskFailedToolTerminatesImmediately(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	task := setupRunnableTask(t, s, "agent-1")

	args, _ := json.Marshal(map[string]string{"reason": "cannot proceed"})
	llm := &scriptedLLM{turns: []turn{
		{toolCalls: []llm.ToolCall{{ID: "1", Name: ToolTaskFailed, Arguments: string(args)}}},
	}}
	tools := NewToolExecutor(t.TempDir(), "agent-1", task.ID, coordinator.New(s, nil))
	loop := NewLoop(s, coordinator.New(s, nil), newPassingVerifier(s), llm, tools, "agent-1", task.ID, t.TempDir(), Config{})

	outcome, summary := loop.Run(ctx, task)
	assert.Equal(t, OutcomeFailure, outcome)
	assert.Equal(t, "cannot proceed", summary)

	updated, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, updated.Status)
}

func TestLoop_Run_RetriesOnVerificationFailureThenOpensException(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	task := setupRunnableTask(t, s, "agent-1")

	var turns []turn
	for i := 0; i < 4; i++ {
		turns = append(turns, turn{toolCalls: []llm.ToolCall{{ID: "1", Name: ToolTaskComplete, Arguments: completeArgs(t, "attempt")}}})
	}
	fake := &scriptedLLM{turns: turns}
	tools := NewToolExecutor(t.TempDir(), "agent-1", task.ID, coordinator.New(s, nil))
	loop := NewLoop(s, coordinator.New(s, nil), newFailingVerifier(s), fake, tools, "agent-1", task.ID, t.TempDir(), Config{MaxIterations: 10})

	outcome, _ := loop.Run(ctx, task)
	assert.Equal(t, OutcomeFailure, outcome)

	exceptions, err := s.ListExceptionsByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, exceptions, 1)
	assert.Equal(t, models.ExceptionVerificationFail, exceptions[0].Type)

	// The second call's history (i.e. the one following the first failed
	// verification) must carry a user message with the concrete per-check
	// failure detail, or the model retries blind.
	require.True(t, len(fake.receivedMessages) >= 2)
	secondTurnHistory := fake.receivedMessages[1]
	last := secondTurnHistory[len(secondTurnHistory)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Contains(t, last.Content, "Verification failed")
	assert.Contains(t, last.Content, "syntax: FAILED")
}

func TestLoop_Run_NoToolCallsEventuallyExhaustsIterations(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	task := setupRunnableTask(t, s, "agent-1")

	llm := &scriptedLLM{turns: []turn{{text: "thinking out loud"}}}
	tools := NewToolExecutor(t.TempDir(), "agent-1", task.ID, coordinator.New(s, nil))
	loop := NewLoop(s, coordinator.New(s, nil), newPassingVerifier(s), llm, tools, "agent-1", task.ID, t.TempDir(), Config{MaxIterations: 2})

	outcome, summary := loop.Run(ctx, task)
	assert.Equal(t, OutcomeFailure, outcome)
	assert.Contains(t, summary, "maximum iteration count")
	assert.Equal(t, 2, llm.calls)
}

func TestLoop_Stop_RequeuesTaskAndReleasesLocks(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	task := setupRunnableTask(t, s, "agent-1")
	coord := coordinator.New(s, nil)
	_, err := coord.AcquireLock(ctx, "a.txt", "agent-1", task.ID, time.Hour)
	require.NoError(t, err)

	llm := &scriptedLLM{turns: []turn{{text: "still working"}}}
	tools := NewToolExecutor(t.TempDir(), "agent-1", task.ID, coord)
	loop := NewLoop(s, coord, newPassingVerifier(s), llm, tools, "agent-1", task.ID, t.TempDir(), Config{MaxIterations: 100})
	loop.Stop()

	outcome, summary := loop.Run(ctx, task)
	assert.Equal(t, OutcomeFailure, outcome)
	assert.Equal(t, "stopped", summary)

	locked, _, err := coord.IsFileLocked(ctx, "a.txt")
	require.NoError(t, err)
	assert.False(t, locked, "Stop must release held locks")

	updated, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusQueued, updated.Status, "Stop requeues rather than fails the task")

	agent, err := s.GetAgent(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusIdle, agent.Status)
}

func TestClassifyLLMError(t *testing.T) {
	cases := []struct {
		msg           string
		wantRetryable bool
		wantSleep     time.Duration
	}{
		{"429 too many requests", true, rateLimitSleep},
		{"rate limit exceeded", true, rateLimitSleep},
		{"connection reset by peer", true, transientSleep},
		{"http 503 service unavailable", true, transientSleep},
		{"invalid api key", false, 0},
	}
	for _, c := range cases {
		retryable, sleep := classifyLLMError(assertableError(c.msg))
		assert.Equal(t, c.wantRetryable, retryable, c.msg)
		if c.wantRetryable && c.wantSleep > 0 {
			assert.Equal(t, c.wantSleep, sleep, c.msg)
		}
	}
}

type assertableError string

func (e assertableError) Error() string { return string(e) }
