// Package coordinator implements exclusive file-path claims for agents
// working concurrently against the same checkout (SPEC_FULL §4.2). The
// uniqueness constraint enforced by Store.InsertFileLock is the actual
// linearization point; this package is responsible for path normalization,
// bounded retry on expired-lock cleanup, and the release/cleanup
// operations around that primitive.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/louannemur/agent-orchestrator-sub000/pkg/fleeterr"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/models"
	"github.com/louannemur/agent-orchestrator-sub000/pkg/store"
)

// maxClaimAttempts bounds the acquire retry loop: an expired lock that
// another agent is simultaneously trying to clean up should resolve within
// a handful of attempts, not spin forever.
const maxClaimAttempts = 3

// Coordinator grants and releases exclusive file-path claims on behalf of
// agents working a task.
type Coordinator struct {
	store store.Store
	now   func() time.Time
}

// New builds a Coordinator over the given Store. now defaults to time.Now
// if nil.
func New(s store.Store, now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	return &Coordinator{store: s, now: now}
}

// NormalizePath canonicalizes a file path the way the lock table keys on
// it: forward slashes, no "." segments, no trailing slash, collapsed
// repeats. Two different spellings of the same file must normalize to the
// same key or the uniqueness constraint can't do its job.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	return strings.TrimSuffix(p, "/")
}

// AcquireLock attempts to claim filePath exclusively for agentID working
// taskID. It first opportunistically clears an expired lock on the same
// path (SPEC_FULL §4.2's "expired locks are reclaimable" rule), then tries
// the unique-path insert. A conflict from a still-live lock held by
// another agent surfaces as a fleeterr.CategoryConflict error; on a race against a
// concurrent cleanup it retries up to maxClaimAttempts times.
func (c *Coordinator) AcquireLock(ctx context.Context, filePath, agentID, taskID string, duration time.Duration) (*models.FileLock, error) {
	if duration <= 0 {
		duration = models.DefaultLockDuration
	}
	normalized := NormalizePath(filePath)

	var lastErr error
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		now := c.now()
		if _, err := c.store.DeleteFileLockIfExpired(ctx, normalized, now); err != nil {
			return nil, fmt.Errorf("coordinator: clean expired lock: %w", err)
		}

		lock := &models.FileLock{
			ID:        uuid.NewString(),
			FilePath:  normalized,
			AgentID:   agentID,
			TaskID:    taskID,
			ExpiresAt: now.Add(duration),
		}
		err := c.store.InsertFileLock(ctx, lock)
		switch {
		case err == nil:
			return lock, nil
		case errIsUniqueViolation(err):
			existing, getErr := c.store.GetFileLock(ctx, normalized)
			if getErr != nil {
				lastErr = getErr
				continue
			}
			if existing.Expired(now) {
				// Lost the race to clean it up; retry.
				lastErr = err
				continue
			}
			return nil, fleeterr.New(fleeterr.CategoryConflict, fmt.Sprintf("file %q is locked by another agent", normalized))
		default:
			return nil, fmt.Errorf("coordinator: insert lock: %w", err)
		}
	}
	return nil, fmt.Errorf("coordinator: could not acquire lock on %q after %d attempts: %w", normalized, maxClaimAttempts, lastErr)
}

// AcquireLocks claims every path or none: on the first failure it releases
// every lock already claimed in this call before returning the error, so
// an agent never ends up holding a partial set it didn't ask for.
func (c *Coordinator) AcquireLocks(ctx context.Context, filePaths []string, agentID, taskID string, duration time.Duration) ([]*models.FileLock, error) {
	acquired := make([]*models.FileLock, 0, len(filePaths))
	for _, fp := range filePaths {
		lock, err := c.AcquireLock(ctx, fp, agentID, taskID, duration)
		if err != nil {
			for _, l := range acquired {
				if relErr := c.store.DeleteFileLockByOwner(ctx, l.FilePath, agentID); relErr != nil {
					slog.Warn("coordinator: failed to roll back partial lock acquisition",
						"file_path", l.FilePath, "agent_id", agentID, "error", relErr)
				}
			}
			return nil, err
		}
		acquired = append(acquired, lock)
	}
	return acquired, nil
}

// ReleaseLock releases filePath if and only if agentID currently holds it.
func (c *Coordinator) ReleaseLock(ctx context.Context, filePath, agentID string) error {
	_, err := c.store.DeleteFileLockByOwner(ctx, NormalizePath(filePath), agentID)
	if err != nil {
		return fmt.Errorf("coordinator: release lock: %w", err)
	}
	return nil
}

// ReleaseAllLocks releases every lock currently held by agentID, used when
// an agent completes, fails, or is reaped by the supervisor.
func (c *Coordinator) ReleaseAllLocks(ctx context.Context, agentID string) (int, error) {
	n, err := c.store.DeleteFileLocksByAgent(ctx, agentID)
	if err != nil {
		return 0, fmt.Errorf("coordinator: release all locks: %w", err)
	}
	return n, nil
}

// CleanupExpiredLocks deletes every lock whose expiry has passed as of
// now, returning the count removed. Invoked periodically by the
// supervisor (SPEC_FULL §4.7).
func (c *Coordinator) CleanupExpiredLocks(ctx context.Context) (int, error) {
	n, err := c.store.DeleteExpiredFileLocks(ctx, c.now())
	if err != nil {
		return 0, fmt.Errorf("coordinator: cleanup expired locks: %w", err)
	}
	return n, nil
}

// IsFileLocked reports whether filePath is currently held by a non-expired
// lock, and if so, by which agent.
func (c *Coordinator) IsFileLocked(ctx context.Context, filePath string) (locked bool, agentID string, err error) {
	lock, err := c.store.GetFileLock(ctx, NormalizePath(filePath))
	if err != nil {
		if errIsNotFound(err) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("coordinator: check lock: %w", err)
	}
	if lock.Expired(c.now()) {
		return false, "", nil
	}
	return true, lock.AgentID, nil
}

func errIsUniqueViolation(err error) bool {
	return err == store.ErrUniqueViolation
}

func errIsNotFound(err error) bool {
	return err == store.ErrNotFound
}
