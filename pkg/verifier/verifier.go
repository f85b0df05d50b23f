// Package verifier implements the Verifier (C3): a pure-observation
// pipeline that scores whether a task's working tree satisfies the task,
// never editing files itself.
package verifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/models"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/store"
)

// exceptionAttemptThreshold is the verification-attempt count at or above
// which a failing run also opens an Exception for operator attention.
const exceptionAttemptThreshold = 3

// defaultTestBudget is the wall-clock budget for the test stage.
const defaultTestBudget = 5 * time.Minute

// LanguageChecker performs the syntax and types stages for one toolchain.
// Detect sniffs workingDir's project manifest to decide whether this
// checker applies; the first matching checker in Verifier's list wins.
type LanguageChecker interface {
	Name() string
	Detect(workingDir string) bool
	CheckSyntax(ctx context.Context, workingDir string) (passed bool, failures []models.VerificationFailure, err error)
	CheckTypes(ctx context.Context, workingDir string) (passed bool, failures []models.VerificationFailure, err error)
}

// Linter performs the lint stage for one toolchain.
type Linter interface {
	Name() string
	Detect(workingDir string) bool
	Lint(ctx context.Context, workingDir string) (passed bool, failures []models.VerificationFailure, err error)
}

// TestReport summarizes one test run.
type TestReport struct {
	Total    int
	Failed   int
	Failures []models.VerificationFailure
}

// TestRunner performs the tests stage for one toolchain.
type TestRunner interface {
	Name() string
	Detect(workingDir string) bool
	RunTests(ctx context.Context, workingDir string, budget time.Duration) (TestReport, error)
}

// SemanticJudge performs the semantic stage: given a truncated diff, return
// a score in [0,1] and a human-readable explanation.
type SemanticJudge interface {
	Score(ctx context.Context, diff string) (score float64, explanation string, err error)
}

// DiffProvider returns a diff of workingDir against its parent/main
// reference, truncated to MaxDiffBytes.
type DiffProvider func(workingDir string) (string, error)

// Verifier runs the five-stage pipeline described in SPEC_FULL §4.3.
type Verifier struct {
	store       store.Store
	checkers    []LanguageChecker
	linters     []Linter
	testRunners []TestRunner
	judge       SemanticJudge
	diff        DiffProvider
	testBudget  time.Duration
	now         func() time.Time
}

// Option configures a Verifier at construction.
type Option func(*Verifier)

// WithTestBudget overrides the default 5-minute test wall budget.
func WithTestBudget(d time.Duration) Option {
	return func(v *Verifier) { v.testBudget = d }
}

// New builds a Verifier. checkers/linters/testRunners are tried in order;
// the first whose Detect matches workingDir is used. judge and diff must be
// non-nil for the semantic stage to run at all.
func New(s store.Store, checkers []LanguageChecker, linters []Linter, testRunners []TestRunner, judge SemanticJudge, diff DiffProvider, opts ...Option) *Verifier {
	v := &Verifier{
		store:       s,
		checkers:    checkers,
		linters:     linters,
		testRunners: testRunners,
		judge:       judge,
		diff:        diff,
		testBudget:  defaultTestBudget,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Run executes the full pipeline against taskID's working directory. The
// caller is responsible for having already transitioned the task to
// VERIFYING (Store.SetTaskVerifying) before calling Run.
func (v *Verifier) Run(ctx context.Context, taskID, workingDir string) (*models.VerificationResult, error) {
	attempt, err := v.store.IncrementVerificationAttempts(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("verifier: increment attempts: %w", err)
	}

	result := &models.VerificationResult{
		TaskID:        taskID,
		AttemptNumber: attempt,
	}

	syntaxPassed, syntaxFailures, typesPassed, typesFailures, err := v.runSyntaxAndTypes(ctx, workingDir)
	if err != nil {
		return nil, fmt.Errorf("verifier: syntax/types stage: %w", err)
	}
	result.SyntaxPassed = syntaxPassed
	result.TypesPassed = typesPassed
	result.Failures = append(result.Failures, syntaxFailures...)
	result.Failures = append(result.Failures, typesFailures...)

	lintPassed, lintFailures, err := v.runLint(ctx, workingDir)
	if err != nil {
		return nil, fmt.Errorf("verifier: lint stage: %w", err)
	}
	result.LintPassed = lintPassed
	result.Failures = append(result.Failures, lintFailures...)

	testReport, err := v.runTests(ctx, workingDir)
	if err != nil {
		return nil, fmt.Errorf("verifier: tests stage: %w", err)
	}
	result.TestsPassed = testReport.Failed == 0
	result.TestsTotal = testReport.Total
	result.TestsFailed = testReport.Failed
	result.Failures = append(result.Failures, testReport.Failures...)

	var semanticScore float64
	allPriorPassed := result.SyntaxPassed && result.TypesPassed && result.LintPassed && result.TestsPassed
	if allPriorPassed {
		score, explanation, err := v.runSemantic(ctx, workingDir)
		if err != nil {
			slog.Warn("verifier: semantic stage unavailable, defaulting score", "task_id", taskID, "error", err)
			score, explanation = 0.5, fmt.Sprintf("semantic scoring unavailable: %v", err)
		}
		semanticScore = score
		result.SemanticScore = &score
		result.SemanticExplanation = explanation
	}

	testRate := 1.0
	if testReport.Total > 0 {
		testRate = float64(testReport.Total-testReport.Failed) / float64(testReport.Total)
	}

	result.ConfidenceScore = confidenceScore(result.SyntaxPassed, result.TypesPassed, result.LintPassed, testRate, semanticScore)
	result.Passed = allPriorPassed && semanticScore >= models.PassThreshold

	if _, err := v.store.CreateVerificationResult(ctx, result); err != nil {
		return nil, fmt.Errorf("verifier: persist result: %w", err)
	}

	now := v.now()
	if result.Passed {
		passedStatus := models.VerificationStatusPassed
		if err := v.store.CompleteTask(ctx, taskID, models.TaskStatusCompleted, now, &passedStatus); err != nil {
			return nil, fmt.Errorf("verifier: complete task: %w", err)
		}
	} else {
		failedStatus := models.VerificationStatusFailed
		if err := v.store.CompleteTask(ctx, taskID, models.TaskStatusFailed, now, &failedStatus); err != nil {
			return nil, fmt.Errorf("verifier: fail task: %w", err)
		}
		if attempt >= exceptionAttemptThreshold {
			if err := v.openVerificationException(ctx, taskID, result); err != nil {
				slog.Error("verifier: failed to open exception for repeated verification failure",
					"task_id", taskID, "attempt", attempt, "error", err)
			}
		}
	}

	return result, nil
}

func (v *Verifier) openVerificationException(ctx context.Context, taskID string, result *models.VerificationResult) error {
	open, err := v.store.HasOpenException(ctx, taskID, models.ExceptionVerificationFail)
	if err != nil {
		return err
	}
	if open {
		return nil
	}
	_, err = v.store.CreateException(ctx, &models.Exception{
		Type:        models.ExceptionVerificationFail,
		Severity:    models.SeverityWarning,
		Status:      models.ExceptionOpen,
		Title:       "task failed verification repeatedly",
		Description: fmt.Sprintf("task %s failed verification on attempt %d with confidence %.2f", taskID, result.AttemptNumber, result.ConfidenceScore),
		TaskID:      &taskID,
	})
	return err
}

func (v *Verifier) runSyntaxAndTypes(ctx context.Context, workingDir string) (syntaxPassed bool, syntaxFailures []models.VerificationFailure, typesPassed bool, typesFailures []models.VerificationFailure, err error) {
	checker := detectChecker(v.checkers, workingDir)
	if checker == nil {
		// Untyped projects pass both stages by definition (spec.md §4.3).
		return true, nil, true, nil, nil
	}
	syntaxPassed, syntaxFailures, err = checker.CheckSyntax(ctx, workingDir)
	if err != nil {
		return false, nil, false, nil, err
	}
	typesPassed, typesFailures, err = checker.CheckTypes(ctx, workingDir)
	if err != nil {
		return syntaxPassed, syntaxFailures, false, nil, err
	}
	return syntaxPassed, syntaxFailures, typesPassed, typesFailures, nil
}

func (v *Verifier) runLint(ctx context.Context, workingDir string) (bool, []models.VerificationFailure, error) {
	for _, l := range v.linters {
		if l.Detect(workingDir) {
			return l.Lint(ctx, workingDir)
		}
	}
	// No configured linter: pass (spec.md §4.3 step 3).
	return true, nil, nil
}

func (v *Verifier) runTests(ctx context.Context, workingDir string) (TestReport, error) {
	for _, r := range v.testRunners {
		if r.Detect(workingDir) {
			testCtx, cancel := context.WithTimeout(ctx, v.testBudget)
			defer cancel()
			return r.RunTests(testCtx, workingDir, v.testBudget)
		}
	}
	// No detected test runner: full weight per spec.md §4.3's testRate rule.
	return TestReport{}, nil
}

func (v *Verifier) runSemantic(ctx context.Context, workingDir string) (float64, string, error) {
	if v.judge == nil || v.diff == nil {
		return 0.5, "semantic stage not configured", nil
	}
	diff, err := v.diff(workingDir)
	if err != nil {
		return 0, "", fmt.Errorf("obtain diff: %w", err)
	}
	return v.judge.Score(ctx, diff)
}

func detectChecker(checkers []LanguageChecker, workingDir string) LanguageChecker {
	for _, c := range checkers {
		if c.Detect(workingDir) {
			return c
		}
	}
	return nil
}

// confidenceScore applies the weighted formula from spec.md §4.3.
func confidenceScore(syntaxPassed, typesPassed, lintPassed bool, testRate, semanticScore float64) float64 {
	score := 0.0
	if syntaxPassed {
		score += models.WeightSyntax
	}
	if typesPassed {
		score += models.WeightTypes
	}
	if lintPassed {
		score += models.WeightLint
	}
	score += models.WeightTests * testRate
	score += models.WeightSemantic * semanticScore
	return score
}
