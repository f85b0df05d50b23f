package models

import "time"

// AgentStatus is the lifecycle state of an Agent (one execution attempt of
// one Task on one runner).
type AgentStatus string

// Agent status values.
const (
	AgentStatusIdle      AgentStatus = "idle"
	AgentStatusWorking   AgentStatus = "working"
	AgentStatusPaused    AgentStatus = "paused"
	AgentStatusFailed    AgentStatus = "failed"
	AgentStatusStuck     AgentStatus = "stuck"
	AgentStatusCompleted AgentStatus = "completed"
)

// Agent represents one execution attempt of one Task by one runner.
type Agent struct {
	ID              string      `json:"id"`
	Name            string      `json:"name,omitempty"`
	Status          AgentStatus `json:"status"`
	CurrentTaskID   *string     `json:"currentTaskId,omitempty"`
	BranchName      string      `json:"branchName,omitempty"`
	RunnerSessionID string      `json:"runnerSessionId"`
	WorkingDir      string      `json:"workingDir"` // required; always supplied by the claiming runner (SPEC_FULL §3)
	TotalTokensUsed int64       `json:"totalTokensUsed"`
	TasksCompleted  int         `json:"tasksCompleted"`
	TasksFailed     int         `json:"tasksFailed"`
	StartedAt       time.Time   `json:"startedAt"`
	CompletedAt     *time.Time  `json:"completedAt,omitempty"`
	LastActivityAt  *time.Time  `json:"lastActivityAt,omitempty"`
}

// IsBoundToTask reports whether status implies CurrentTaskID must be set.
func (s AgentStatus) IsBoundToTask() bool {
	switch s {
	case AgentStatusWorking, AgentStatusPaused:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether status is a released, non-working state.
func (s AgentStatus) IsTerminal() bool {
	switch s {
	case AgentStatusIdle, AgentStatusCompleted, AgentStatusFailed, AgentStatusStuck:
		return true
	default:
		return false
	}
}

// RunnerSession authenticates a remote runner.
type RunnerSession struct {
	ID         string    `json:"id"`
	Token      string    `json:"token"`
	Name       string    `json:"name"`
	WorkingDir string    `json:"workingDir"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}
