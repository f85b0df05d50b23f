package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	t.Run("leaves short content untouched", func(t *testing.T) {
		assert.Equal(t, "hello", Truncate("hello"))
	})

	t.Run("clips long content to the byte limit", func(t *testing.T) {
		content := strings.Repeat("a", MaxLogContentBytes+100)
		out := Truncate(content)
		assert.LessOrEqual(t, len(out), MaxLogContentBytes)
	})

	t.Run("never splits a multi-byte rune", func(t *testing.T) {
		// "é" is two bytes (0xC3 0xA9); pad so the cut point lands mid-rune.
		content := strings.Repeat("a", MaxLogContentBytes-1) + "é"
		out := Truncate(content)
		assert.True(t, isValidUTF8Tail(out))
	})
}

func isValidUTF8Tail(s string) bool {
	for _, r := range s {
		if r == '�' {
			return false
		}
	}
	return true
}

func TestTaskStatusIsTerminal(t *testing.T) {
	assert.True(t, TaskStatusCompleted.IsTerminal())
	assert.True(t, TaskStatusFailed.IsTerminal())
	assert.True(t, TaskStatusCancelled.IsTerminal())
	assert.False(t, TaskStatusQueued.IsTerminal())
	assert.False(t, TaskStatusInProgress.IsTerminal())
	assert.False(t, TaskStatusVerifying.IsTerminal())
}

func TestAgentStatusIsBoundToTask(t *testing.T) {
	assert.True(t, AgentStatusWorking.IsBoundToTask())
	assert.True(t, AgentStatusPaused.IsBoundToTask())
	assert.False(t, AgentStatusIdle.IsBoundToTask())
	assert.False(t, AgentStatusCompleted.IsBoundToTask())
}
