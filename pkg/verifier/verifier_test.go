package verifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/models"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/store"
)

type fakeChecker struct {
	detect              bool
	syntaxPassed, typesPassed bool
}

func (f *fakeChecker) Name() string             { return "fake" }
func (f *fakeChecker) Detect(string) bool       { return f.detect }
func (f *fakeChecker) CheckSyntax(context.Context, string) (bool, []models.VerificationFailure, error) {
	if f.syntaxPassed {
		return true, nil, nil
	}
	return false, []models.VerificationFailure{{Check: "syntax", Message: "boom"}}, nil
}
func (f *fakeChecker) CheckTypes(context.Context, string) (bool, []models.VerificationFailure, error) {
	if f.typesPassed {
		return true, nil, nil
	}
	return false, []models.VerificationFailure{{Check: "types", Message: "boom"}}, nil
}

type fakeTestRunner struct {
	detect bool
	report TestReport
}

func (f *fakeTestRunner) Name() string       { return "fake" }
func (f *fakeTestRunner) Detect(string) bool { return f.detect }
func (f *fakeTestRunner) RunTests(context.Context, string, time.Duration) (TestReport, error) {
	return f.report, nil
}

type fakeJudge struct {
	score       float64
	explanation string
	err         error
}

func (f *fakeJudge) Score(context.Context, string) (float64, string, error) {
	return f.score, f.explanation, f.err
}

func fakeDiff(string) (string, error) { return "diff --git a/x b/x", nil }

func setupTask(t *testing.T, s store.Store) *models.Task {
	t.Helper()
	ctx := context.Background()
	task, err := s.CreateTask(ctx, &models.Task{Title: "t"})
	require.NoError(t, err)
	claimed, err := s.ClaimTask(ctx, task.ID, "agent-1", "branch-1", time.Now())
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, s.SetTaskVerifying(ctx, task.ID))
	return task
}

func TestVerifier_Run_AllPass(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	task := setupTask(t, s)

	v := New(s,
		[]LanguageChecker{&fakeChecker{detect: true, syntaxPassed: true, typesPassed: true}},
		nil,
		[]TestRunner{&fakeTestRunner{detect: true, report: TestReport{Total: 10, Failed: 0}}},
		&fakeJudge{score: 0.9, explanation: "looks good"},
		fakeDiff,
	)

	result, err := v.Run(ctx, task.ID, "/tmp/work")
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, 1, result.AttemptNumber)
	assert.InDelta(t, 0.98, result.ConfidenceScore, 0.001)

	updated, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, updated.Status)
}

func TestVerifier_Run_TestsFail_SkipsSemantic(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	task := setupTask(t, s)

	judge := &fakeJudge{score: 0.9}
	v := New(s,
		[]LanguageChecker{&fakeChecker{detect: true, syntaxPassed: true, typesPassed: true}},
		nil,
		[]TestRunner{&fakeTestRunner{detect: true, report: TestReport{Total: 4, Failed: 1}}},
		judge,
		fakeDiff,
	)

	result, err := v.Run(ctx, task.ID, "/tmp/work")
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Nil(t, result.SemanticScore, "semantic stage must not run when an earlier stage fails")

	updated, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, updated.Status)
}

func TestVerifier_Run_NoTests_FullWeight(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	task := setupTask(t, s)

	v := New(s,
		[]LanguageChecker{&fakeChecker{detect: true, syntaxPassed: true, typesPassed: true}},
		nil,
		nil, // no test runner detected
		&fakeJudge{score: 1.0},
		fakeDiff,
	)

	result, err := v.Run(ctx, task.ID, "/tmp/work")
	require.NoError(t, err)
	assert.True(t, result.TestsPassed)
	assert.Equal(t, 0, result.TestsTotal)
	assert.True(t, result.Passed)
}

func TestVerifier_Run_RepeatedFailureOpensException(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	task := setupTask(t, s)

	v := New(s,
		[]LanguageChecker{&fakeChecker{detect: true, syntaxPassed: false, typesPassed: true}},
		nil, nil,
		&fakeJudge{score: 1.0},
		fakeDiff,
	)

	for i := 0; i < 3; i++ {
		if i > 0 {
			require.NoError(t, s.RequeueTask(ctx, task.ID, 0, 0))
			claimed, err := s.ClaimTask(ctx, task.ID, "agent-1", "branch-1", time.Now())
			require.NoError(t, err)
			require.True(t, claimed)
		}
		require.NoError(t, s.SetTaskVerifying(ctx, task.ID))
		_, err := v.Run(ctx, task.ID, "/tmp/work")
		require.NoError(t, err)
	}

	exceptions, err := s.ListExceptionsByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, exceptions, 1, "an exception should be opened exactly once, on the attempt>=3 failure")
	assert.Equal(t, models.ExceptionVerificationFail, exceptions[0].Type)
}

func TestVerifier_Run_SemanticJudgeError_DefaultsScore(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	task := setupTask(t, s)

	v := New(s,
		[]LanguageChecker{&fakeChecker{detect: true, syntaxPassed: true, typesPassed: true}},
		nil,
		[]TestRunner{&fakeTestRunner{detect: true, report: TestReport{Total: 1, Failed: 0}}},
		&fakeJudge{err: assertError("provider unavailable")},
		fakeDiff,
	)

	result, err := v.Run(ctx, task.ID, "/tmp/work")
	require.NoError(t, err)
	require.NotNil(t, result.SemanticScore)
	assert.InDelta(t, 0.5, *result.SemanticScore, 0.001)
	assert.False(t, result.Passed, "0.5 is below the 0.7 pass threshold")
}

type assertError string

func (e assertError) Error() string { return string(e) }

func TestConfidenceScore_Formula(t *testing.T) {
	score := confidenceScore(true, true, true, 1.0, 1.0)
	assert.InDelta(t, 1.0, score, 0.0001)

	score = confidenceScore(false, false, false, 0, 0)
	assert.InDelta(t, 0, score, 0.0001)

	score = confidenceScore(true, true, false, 0.5, 0.5)
	assert.InDelta(t, 0.2+0.2+0+0.3*0.5+0.2*0.5, score, 0.0001)
}
