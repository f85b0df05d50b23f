package models

import (
	"time"
	"unicode/utf8"
)

// AgentLogType classifies one entry in an Agent's structured timeline.
type AgentLogType string

// Agent log type values.
const (
	LogTypeThinking     AgentLogType = "thinking"
	LogTypeToolCall     AgentLogType = "tool_call"
	LogTypeToolResult   AgentLogType = "tool_result"
	LogTypeError        AgentLogType = "error"
	LogTypeInfo         AgentLogType = "info"
	LogTypeStatusChange AgentLogType = "status_change"
)

// MaxLogContentBytes is the truncation limit applied to AgentLog.Content
// before persistence (SPEC_FULL §3).
const MaxLogContentBytes = 50 * 1024

// AgentLog is an append-only structured log entry belonging to an Agent.
type AgentLog struct {
	ID        string            `json:"id"`
	AgentID   string            `json:"agentId"`
	TaskID    *string           `json:"taskId,omitempty"`
	LogType   AgentLogType      `json:"logType"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Truncate clips content to MaxLogContentBytes, preserving valid UTF-8 by
// trimming at a rune boundary.
func Truncate(content string) string {
	if len(content) <= MaxLogContentBytes {
		return content
	}
	cut := MaxLogContentBytes
	// Back off until the first dropped byte starts a rune, so no rune is split.
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}
