package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/fleeterr"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/store"
)

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"src/main.go":     "src/main.go",
		"./src/main.go":   "src/main.go",
		"src//main.go":    "src/main.go",
		`src\main.go`:     "src/main.go",
		"src/main.go/":    "src/main.go",
		"src/./main.go":   "src/main.go",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePath(in), "input %q", in)
	}
}

func TestCoordinator_AcquireLock(t *testing.T) {
	ctx := context.Background()

	t.Run("grants an uncontested lock", func(t *testing.T) {
		c := New(store.NewMemoryStore(nil), nil)
		lock, err := c.AcquireLock(ctx, "src/main.go", "agent-1", "task-1", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, "src/main.go", lock.FilePath)
		assert.Equal(t, "agent-1", lock.AgentID)
	})

	t.Run("rejects a conflicting claim from a second agent", func(t *testing.T) {
		c := New(store.NewMemoryStore(nil), nil)
		_, err := c.AcquireLock(ctx, "src/main.go", "agent-1", "task-1", time.Hour)
		require.NoError(t, err)

		_, err = c.AcquireLock(ctx, "src/main.go", "agent-2", "task-2", time.Hour)
		require.Error(t, err)
		assert.True(t, fleeterr.Is(err, fleeterr.CategoryConflict))
	})

	t.Run("reclaims an expired lock", func(t *testing.T) {
		clockTime := time.Now()
		clock := func() time.Time { return clockTime }
		c := New(store.NewMemoryStore(clock), clock)

		_, err := c.AcquireLock(ctx, "src/main.go", "agent-1", "task-1", time.Minute)
		require.NoError(t, err)

		clockTime = clockTime.Add(2 * time.Minute)
		lock, err := c.AcquireLock(ctx, "src/main.go", "agent-2", "task-2", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, "agent-2", lock.AgentID)
	})

	t.Run("two spellings of the same path conflict", func(t *testing.T) {
		c := New(store.NewMemoryStore(nil), nil)
		_, err := c.AcquireLock(ctx, "./src/main.go", "agent-1", "task-1", time.Hour)
		require.NoError(t, err)

		_, err = c.AcquireLock(ctx, "src//main.go", "agent-2", "task-2", time.Hour)
		require.Error(t, err)
	})
}

func TestCoordinator_AcquireLocks_RollsBackOnPartialFailure(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	c := New(s, nil)

	_, err := c.AcquireLock(ctx, "b.go", "agent-2", "task-2", time.Hour)
	require.NoError(t, err)

	_, err = c.AcquireLocks(ctx, []string{"a.go", "b.go", "c.go"}, "agent-1", "task-1", time.Hour)
	require.Error(t, err)

	locked, owner, err := c.IsFileLocked(ctx, "a.go")
	require.NoError(t, err)
	assert.False(t, locked, "a.go should have been released after the rollback")

	locked, owner, err = c.IsFileLocked(ctx, "b.go")
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, "agent-2", owner)
}

func TestCoordinator_ReleaseLock_OnlyOwner(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	c := New(s, nil)

	_, err := c.AcquireLock(ctx, "a.go", "agent-1", "task-1", time.Hour)
	require.NoError(t, err)

	require.NoError(t, c.ReleaseLock(ctx, "a.go", "agent-2"))
	locked, _, err := c.IsFileLocked(ctx, "a.go")
	require.NoError(t, err)
	assert.True(t, locked, "a non-owner release must be a no-op")

	require.NoError(t, c.ReleaseLock(ctx, "a.go", "agent-1"))
	locked, _, err = c.IsFileLocked(ctx, "a.go")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestCoordinator_CleanupExpiredLocks(t *testing.T) {
	ctx := context.Background()
	clockTime := time.Now()
	clock := func() time.Time { return clockTime }
	s := store.NewMemoryStore(clock)
	c := New(s, clock)

	_, err := c.AcquireLock(ctx, "a.go", "agent-1", "task-1", time.Minute)
	require.NoError(t, err)
	_, err = c.AcquireLock(ctx, "b.go", "agent-2", "task-2", time.Hour)
	require.NoError(t, err)

	clockTime = clockTime.Add(2 * time.Minute)
	n, err := c.CleanupExpiredLocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := s.CountFileLocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
