package models

import "time"

// VerificationFailure is one failing check's detail, with optional file
// location.
type VerificationFailure struct {
	Check   string  `json:"check"` // "syntax", "types", "lint", "tests", "semantic"
	Message string  `json:"message"`
	File    *string `json:"file,omitempty"`
	Line    *int    `json:"line,omitempty"`
}

// VerificationResult is an append-only record of one verification pipeline
// run against a task's working directory.
type VerificationResult struct {
	ID                  string                 `json:"id"`
	TaskID              string                 `json:"taskId"`
	AttemptNumber       int                    `json:"attemptNumber"`
	Passed              bool                   `json:"passed"`
	ConfidenceScore     float64                `json:"confidenceScore"`
	SyntaxPassed        bool                   `json:"syntaxPassed"`
	TypesPassed         bool                   `json:"typesPassed"`
	LintPassed          bool                   `json:"lintPassed"`
	TestsPassed         bool                   `json:"testsPassed"`
	TestsTotal          int                    `json:"testsTotal"`
	TestsFailed         int                    `json:"testsFailed"`
	SemanticScore       *float64               `json:"semanticScore,omitempty"`
	SemanticExplanation string                 `json:"semanticExplanation,omitempty"`
	Failures            []VerificationFailure  `json:"failures,omitempty"`
	Recommendations     []string               `json:"recommendations,omitempty"`
	CreatedAt           time.Time              `json:"createdAt"`
}

// PassThreshold is the minimum semantic score required, combined with all
// other checks passing, for a VerificationResult to be considered passed.
const PassThreshold = 0.7

// Weights for the confidence score formula (SPEC_FULL §4.3).
const (
	WeightSyntax   = 0.2
	WeightTypes    = 0.2
	WeightLint     = 0.1
	WeightTests    = 0.3
	WeightSemantic = 0.2
)
