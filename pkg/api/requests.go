package api

// registerRequest is the body of POST /api/runner/status.
type registerRequest struct {
	Name       string `json:"name" binding:"required"`
	WorkingDir string `json:"workingDir" binding:"required"`
}

// claimRequest is the body of POST /api/runner/claim.
type claimRequest struct {
	RunnerToken string `json:"runnerToken" binding:"required"`
	WorkingDir  string `json:"workingDir" binding:"required"`
}

// heartbeatRequest is the body of POST /api/runner/heartbeat.
type heartbeatRequest struct {
	RunnerToken string `json:"runnerToken" binding:"required"`
	AgentID     string `json:"agentId" binding:"required"`
	TaskID      string `json:"taskId,omitempty"`
	TokensUsed  int64  `json:"tokensUsed,omitempty"`
}

// logEntryRequest is one element of logsRequest.Logs.
type logEntryRequest struct {
	LogType  string            `json:"logType" binding:"required"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// logsRequest is the body of POST /api/runner/logs.
type logsRequest struct {
	RunnerToken string            `json:"runnerToken" binding:"required"`
	AgentID     string            `json:"agentId" binding:"required"`
	TaskID      string            `json:"taskId" binding:"required"`
	Logs        []logEntryRequest `json:"logs"`
}

// completeRequest is the body of POST /api/runner/complete.
type completeRequest struct {
	RunnerToken string `json:"runnerToken" binding:"required"`
	AgentID     string `json:"agentId" binding:"required"`
	TaskID      string `json:"taskId" binding:"required"`
	Success     bool   `json:"success"`
	Summary     string `json:"summary,omitempty"`
	Error       string `json:"error,omitempty"`
}

// createTaskRequest is the body of POST /api/tasks.
type createTaskRequest struct {
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description,omitempty"`
	Priority    int      `json:"priority"`
	RiskLevel   string   `json:"riskLevel,omitempty"`
	FilesHint   []string `json:"filesHint,omitempty"`
}

// patchTaskRequest is the body of PATCH /api/tasks/:id. A nil field is left
// untouched.
type patchTaskRequest struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Priority    *int     `json:"priority,omitempty"`
	FilesHint   []string `json:"filesHint,omitempty"`
}

// runTaskRequest is the body of POST /api/tasks/:id/run.
type runTaskRequest struct {
	RunnerToken string `json:"runnerToken" binding:"required"`
	WorkingDir  string `json:"workingDir" binding:"required"`
}

// verifyRequest is the body of POST /api/verify.
type verifyRequest struct {
	TaskID     string `json:"taskId" binding:"required"`
	WorkingDir string `json:"workingDir" binding:"required"`
}
