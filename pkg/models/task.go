// Package models holds the data model shared by every control-plane
// component: Task, Agent, RunnerSession, FileLock, VerificationResult,
// Exception, and AgentLog.
package models

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

// Task status values, per the state machine in SPEC_FULL.md §4.6.
const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusVerifying  TaskStatus = "verifying"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// RiskLevel classifies how risky a task's changes are expected to be.
type RiskLevel string

// Risk level values.
const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// VerificationStatus mirrors the Task's current relationship to the
// Verifier. Distinct from VerificationResult, which is an immutable record
// of one run.
type VerificationStatus string

// Verification status values. The zero value means "never verified".
const (
	VerificationStatusPending VerificationStatus = "pending"
	VerificationStatusPassed  VerificationStatus = "passed"
	VerificationStatusFailed  VerificationStatus = "failed"
)

// Task represents a unit of coding work.
type Task struct {
	ID                   string               `json:"id"`
	Title                string               `json:"title"`
	Description          string               `json:"description"`
	Status               TaskStatus           `json:"status"`
	Priority             int                  `json:"priority"` // 0 = highest urgency, 3 = lowest
	RiskLevel            RiskLevel            `json:"riskLevel"`
	FilesHint            []string             `json:"filesHint,omitempty"`
	AssignedAgentID      *string              `json:"assignedAgentId,omitempty"`
	BranchName           *string              `json:"branchName,omitempty"`
	VerificationStatus   *VerificationStatus  `json:"verificationStatus,omitempty"`
	VerificationAttempts int                  `json:"verificationAttempts"`
	RetryCount           int                  `json:"retryCount"`
	CreatedAt            time.Time            `json:"createdAt"`
	UpdatedAt            time.Time            `json:"updatedAt"`
	StartedAt            *time.Time           `json:"startedAt,omitempty"`
	CompletedAt          *time.Time           `json:"completedAt,omitempty"`
}

// MinPriority and MaxPriority bound the valid Task.Priority range.
const (
	MinPriority = 0
	MaxPriority = 3
)

// IsTerminal reports whether status is one from which no further
// transition is possible.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}
