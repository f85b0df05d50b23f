package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/louannemur/agent-orchestrator-sub000/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// pgUniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStore is the production Store implementation: a thin, typed
// repository layer over database/sql using the pgx driver. Every method
// decodes its result set directly into pkg/models structs — there is no
// generic "row" type and no runtime type assertion between the SQL
// boundary and the rest of the control plane.
type PostgresStore struct {
	db *stdsql.DB
}

// NewPostgresStore opens a pooled connection and applies pending migrations.
func NewPostgresStore(ctx context.Context, cfg Config) (*PostgresStore, error) {
	db, err := stdsql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already-open *sql.DB, without running
// migrations.
func NewPostgresStoreFromDB(db *stdsql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close releases the underlying connection pool.
func (p *PostgresStore) Close() error { return p.db.Close() }

func runMigrations(db *stdsql.DB) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == pgUniqueViolation
	}
	return false
}

// --- Tasks ---

func (p *PostgresStore) CreateTask(ctx context.Context, t *models.Task) (*models.Task, error) {
	if t.Status == "" {
		t.Status = models.TaskStatusQueued
	}
	hints, _ := json.Marshal(t.FilesHint)
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO tasks (id, title, description, status, priority, risk_level, files_hint)
		VALUES (gen_random_id(), $1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`, t.Title, t.Description, t.Status, t.Priority, t.RiskLevel, hints)
	if err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, fmt.Errorf("store: create task: %w", err)
	}
	return t, nil
}

func scanTask(row interface {
	Scan(dest ...any) error
}) (*models.Task, error) {
	var t models.Task
	var hints []byte
	var agentID, branchName, vstatus stdsql.NullString
	var startedAt, completedAt stdsql.NullTime
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.RiskLevel, &hints,
		&agentID, &branchName, &vstatus, &t.VerificationAttempts, &t.RetryCount,
		&t.CreatedAt, &t.UpdatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(hints, &t.FilesHint)
	if agentID.Valid {
		t.AssignedAgentID = &agentID.String
	}
	if branchName.Valid {
		t.BranchName = &branchName.String
	}
	if vstatus.Valid {
		vs := models.VerificationStatus(vstatus.String)
		t.VerificationStatus = &vs
	}
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

const taskColumns = `id, title, description, status, priority, risk_level, files_hint,
	assigned_agent_id, branch_name, verification_status, verification_attempts, retry_count,
	created_at, updated_at, started_at, completed_at`

func (p *PostgresStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get task: %w", err)
	}
	return t, nil
}

func (p *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if filter.Status != nil {
		query += ` WHERE status = $1`
		args = append(args, *filter.Status)
	}
	query += ` ORDER BY created_at ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()
	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountTasksByStatus(ctx context.Context, status models.TaskStatus) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE status = $1`, status).Scan(&n)
	return n, err
}

func (p *PostgresStore) CountQueuedTasksByPriority(ctx context.Context) (map[int]int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT priority, count(*) FROM tasks WHERE status = $1 GROUP BY priority
	`, models.TaskStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("store: count queued tasks by priority: %w", err)
	}
	defer rows.Close()
	counts := make(map[int]int)
	for rows.Next() {
		var priority, n int
		if err := rows.Scan(&priority, &n); err != nil {
			return nil, fmt.Errorf("store: scan queued task count: %w", err)
		}
		counts[priority] = n
	}
	return counts, rows.Err()
}

func (p *PostgresStore) SelectNextQueuedTask(ctx context.Context) (*models.Task, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status = $1
		ORDER BY priority ASC, created_at ASC
		LIMIT 1
	`, models.TaskStatusQueued)
	t, err := scanTask(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: select next queued task: %w", err)
	}
	return t, nil
}

func (p *PostgresStore) UpdateTask(ctx context.Context, taskID string, patch TaskPatch) (*models.Task, error) {
	sets := []string{"updated_at = now()"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if patch.Title != nil {
		sets = append(sets, "title = "+arg(*patch.Title))
	}
	if patch.Description != nil {
		sets = append(sets, "description = "+arg(*patch.Description))
	}
	if patch.Priority != nil {
		sets = append(sets, "priority = "+arg(*patch.Priority))
	}
	if patch.FilesHint != nil {
		hints, _ := json.Marshal(patch.FilesHint)
		sets = append(sets, "files_hint = "+arg(hints))
	}
	args = append(args, taskID, models.TaskStatusQueued)
	query := fmt.Sprintf(`UPDATE tasks SET %s WHERE id = $%d AND status = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args))
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := p.GetTask(ctx, taskID); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}
	return p.GetTask(ctx, taskID)
}

// ClaimTask is the conditional-claim primitive: the affected-row count from
// this single UPDATE is the proof of ownership (SPEC_FULL §4.1). No
// separate SELECT...FOR UPDATE is needed because the WHERE clause re-checks
// status at UPDATE time, so a losing concurrent claim simply affects 0 rows.
func (p *PostgresStore) ClaimTask(ctx context.Context, taskID, agentID, branchName string, now time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, assigned_agent_id = $2, branch_name = $3,
			started_at = $4, updated_at = $4
		WHERE id = $5 AND status = $6
	`, models.TaskStatusInProgress, agentID, branchName, now, taskID, models.TaskStatusQueued)
	if err != nil {
		return false, fmt.Errorf("store: claim task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) RequeueTask(ctx context.Context, taskID string, retryCountDelta, verificationAttemptsDelta int) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, assigned_agent_id = NULL, branch_name = NULL,
			completed_at = NULL, retry_count = retry_count + $2,
			verification_attempts = verification_attempts + $3, updated_at = now()
		WHERE id = $4
	`, models.TaskStatusQueued, retryCountDelta, verificationAttemptsDelta, taskID)
	return err
}

func (p *PostgresStore) SetTaskVerifying(ctx context.Context, taskID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, updated_at = now() WHERE id = $2 AND status = $3
	`, models.TaskStatusVerifying, taskID, models.TaskStatusInProgress)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) IncrementVerificationAttempts(ctx context.Context, taskID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		UPDATE tasks SET verification_attempts = verification_attempts + 1, updated_at = now()
		WHERE id = $1
		RETURNING verification_attempts
	`, taskID).Scan(&n)
	if errors.Is(err, stdsql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return n, err
}

func (p *PostgresStore) CompleteTask(ctx context.Context, taskID string, status models.TaskStatus, now time.Time, verificationStatus *models.VerificationStatus) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, completed_at = $2, assigned_agent_id = NULL,
			verification_status = COALESCE($3, verification_status), updated_at = $2
		WHERE id = $4
	`, status, now, verificationStatus, taskID)
	return err
}

func (p *PostgresStore) CancelTask(ctx context.Context, taskID string, now time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, completed_at = $2, assigned_agent_id = NULL, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5, $6)
	`, models.TaskStatusCancelled, now, taskID,
		models.TaskStatusQueued, models.TaskStatusInProgress, models.TaskStatusVerifying)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// --- Agents ---

// CreateAgent honors a.ID if the caller already picked one (the Runner
// Protocol Service does, so it can attempt ClaimTask's conditional update
// against an agent ID before the Agent row itself exists — see Claim);
// otherwise it generates one the same way gen_random_id() would.
func (p *PostgresStore) CreateAgent(ctx context.Context, a *models.Agent) (*models.Agent, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO agents (id, name, status, current_task_id, branch_name, runner_session_id, working_dir)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING started_at
	`, a.ID, a.Name, a.Status, a.CurrentTaskID, a.BranchName, a.RunnerSessionID, a.WorkingDir)
	if err := row.Scan(&a.StartedAt); err != nil {
		return nil, fmt.Errorf("store: create agent: %w", err)
	}
	return a, nil
}

const agentColumns = `id, name, status, current_task_id, branch_name, runner_session_id, working_dir,
	total_tokens_used, tasks_completed, tasks_failed, started_at, completed_at, last_activity_at`

func scanAgent(row interface{ Scan(dest ...any) error }) (*models.Agent, error) {
	var a models.Agent
	var currentTaskID stdsql.NullString
	var completedAt, lastActivityAt stdsql.NullTime
	err := row.Scan(
		&a.ID, &a.Name, &a.Status, &currentTaskID, &a.BranchName, &a.RunnerSessionID, &a.WorkingDir,
		&a.TotalTokensUsed, &a.TasksCompleted, &a.TasksFailed, &a.StartedAt, &completedAt, &lastActivityAt,
	)
	if err != nil {
		return nil, err
	}
	if currentTaskID.Valid {
		a.CurrentTaskID = &currentTaskID.String
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}
	if lastActivityAt.Valid {
		a.LastActivityAt = &lastActivityAt.Time
	}
	return &a, nil
}

func (p *PostgresStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	a, err := scanAgent(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (p *PostgresStore) UpdateAgentHeartbeat(ctx context.Context, id string, now time.Time, tokensDelta int64) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE agents SET last_activity_at = $1, total_tokens_used = total_tokens_used + $2
		WHERE id = $3
	`, now, tokensDelta, id)
	return err
}

func (p *PostgresStore) UpdateAgentStatus(ctx context.Context, id string, status models.AgentStatus, now time.Time, clearTask bool) error {
	query := `UPDATE agents SET status = $1`
	args := []any{status}
	idx := 2
	if clearTask {
		query += `, current_task_id = NULL`
	}
	if status.IsTerminal() {
		query += fmt.Sprintf(`, completed_at = $%d`, idx)
		args = append(args, now)
		idx++
	}
	query += fmt.Sprintf(` WHERE id = $%d`, idx)
	args = append(args, id)
	_, err := p.db.ExecContext(ctx, query, args...)
	return err
}

func (p *PostgresStore) IncrementAgentOutcome(ctx context.Context, id string, completed bool) error {
	col := "tasks_failed"
	if completed {
		col = "tasks_completed"
	}
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`UPDATE agents SET %s = %s + 1 WHERE id = $1`, col, col), id)
	return err
}

func (p *PostgresStore) ListStaleWorkingAgents(ctx context.Context, cutoff time.Time) ([]*models.Agent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE status = $1 AND COALESCE(last_activity_at, started_at) < $2
	`, models.AgentStatusWorking, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountAgentsByStatus(ctx context.Context, status models.AgentStatus) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM agents WHERE status = $1`, status).Scan(&n)
	return n, err
}

// --- Runner sessions ---

func (p *PostgresStore) CreateRunnerSession(ctx context.Context, s *models.RunnerSession) (*models.RunnerSession, error) {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO runner_sessions (id, token, name, working_dir, is_active)
		VALUES (gen_random_id(), $1, $2, $3, true)
		RETURNING id, created_at, last_seen_at
	`, s.Token, s.Name, s.WorkingDir)
	if err := row.Scan(&s.ID, &s.CreatedAt, &s.LastSeenAt); err != nil {
		return nil, fmt.Errorf("store: create runner session: %w", err)
	}
	s.IsActive = true
	return s, nil
}

func scanSession(row interface{ Scan(dest ...any) error }) (*models.RunnerSession, error) {
	var s models.RunnerSession
	err := row.Scan(&s.ID, &s.Token, &s.Name, &s.WorkingDir, &s.IsActive, &s.CreatedAt, &s.LastSeenAt)
	return &s, err
}

const sessionColumns = `id, token, name, working_dir, is_active, created_at, last_seen_at`

func (p *PostgresStore) GetRunnerSessionByName(ctx context.Context, name string) (*models.RunnerSession, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM runner_sessions WHERE name = $1`, name)
	s, err := scanSession(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (p *PostgresStore) GetRunnerSessionByToken(ctx context.Context, token string) (*models.RunnerSession, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM runner_sessions WHERE token = $1`, token)
	s, err := scanSession(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (p *PostgresStore) ReactivateRunnerSession(ctx context.Context, id, newToken string, now time.Time) (*models.RunnerSession, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE runner_sessions SET token = $1, is_active = true, last_seen_at = $2
		WHERE id = $3
		RETURNING `+sessionColumns, newToken, now, id)
	s, err := scanSession(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (p *PostgresStore) TouchRunnerSession(ctx context.Context, id string, now time.Time) error {
	_, err := p.db.ExecContext(ctx, `UPDATE runner_sessions SET last_seen_at = $1 WHERE id = $2`, now, id)
	return err
}

// --- File locks ---

const lockColumns = `id, file_path, agent_id, task_id, acquired_at, expires_at`

func scanLock(row interface{ Scan(dest ...any) error }) (*models.FileLock, error) {
	var l models.FileLock
	err := row.Scan(&l.ID, &l.FilePath, &l.AgentID, &l.TaskID, &l.AcquiredAt, &l.ExpiresAt)
	return &l, err
}

func (p *PostgresStore) GetFileLock(ctx context.Context, filePath string) (*models.FileLock, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+lockColumns+` FROM file_locks WHERE file_path = $1`, filePath)
	l, err := scanLock(row)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

// InsertFileLock relies on the unique index on file_path: a concurrent
// winner's row makes this insert fail with 23505, mapped to
// ErrUniqueViolation (the unique-path insert primitive of SPEC_FULL §4.1).
func (p *PostgresStore) InsertFileLock(ctx context.Context, l *models.FileLock) error {
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO file_locks (id, file_path, agent_id, task_id, expires_at)
		VALUES (gen_random_id(), $1, $2, $3, $4)
		RETURNING id, acquired_at
	`, l.FilePath, l.AgentID, l.TaskID, l.ExpiresAt)
	if err := row.Scan(&l.ID, &l.AcquiredAt); err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("store: insert file lock: %w", err)
	}
	return nil
}

func (p *PostgresStore) DeleteFileLockIfExpired(ctx context.Context, filePath string, now time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM file_locks WHERE file_path = $1 AND expires_at < $2`, filePath, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (p *PostgresStore) DeleteFileLockByOwner(ctx context.Context, filePath, agentID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM file_locks WHERE file_path = $1 AND agent_id = $2`, filePath, agentID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (p *PostgresStore) DeleteFileLocksByAgent(ctx context.Context, agentID string) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM file_locks WHERE agent_id = $1`, agentID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (p *PostgresStore) DeleteExpiredFileLocks(ctx context.Context, now time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM file_locks WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (p *PostgresStore) CountFileLocks(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM file_locks`).Scan(&n)
	return n, err
}

// --- Verification results ---

func (p *PostgresStore) CreateVerificationResult(ctx context.Context, v *models.VerificationResult) (*models.VerificationResult, error) {
	failures, _ := json.Marshal(v.Failures)
	recs, _ := json.Marshal(v.Recommendations)
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO verification_results (
			id, task_id, attempt_number, passed, confidence_score,
			syntax_passed, types_passed, lint_passed, tests_passed,
			tests_total, tests_failed, semantic_score, semantic_explanation,
			failures, recommendations
		) VALUES (gen_random_id(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at
	`, v.TaskID, v.AttemptNumber, v.Passed, v.ConfidenceScore,
		v.SyntaxPassed, v.TypesPassed, v.LintPassed, v.TestsPassed,
		v.TestsTotal, v.TestsFailed, v.SemanticScore, v.SemanticExplanation,
		failures, recs)
	if err := row.Scan(&v.ID, &v.CreatedAt); err != nil {
		return nil, fmt.Errorf("store: create verification result: %w", err)
	}
	return v, nil
}

const verificationColumns = `id, task_id, attempt_number, passed, confidence_score,
	syntax_passed, types_passed, lint_passed, tests_passed,
	tests_total, tests_failed, semantic_score, semantic_explanation,
	failures, recommendations, created_at`

func scanVerification(row interface{ Scan(dest ...any) error }) (*models.VerificationResult, error) {
	var v models.VerificationResult
	var failures, recs []byte
	err := row.Scan(
		&v.ID, &v.TaskID, &v.AttemptNumber, &v.Passed, &v.ConfidenceScore,
		&v.SyntaxPassed, &v.TypesPassed, &v.LintPassed, &v.TestsPassed,
		&v.TestsTotal, &v.TestsFailed, &v.SemanticScore, &v.SemanticExplanation,
		&failures, &recs, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(failures, &v.Failures)
	_ = json.Unmarshal(recs, &v.Recommendations)
	return &v, nil
}

func (p *PostgresStore) ListVerificationResults(ctx context.Context, taskID string, limit int) ([]*models.VerificationResult, error) {
	query := `SELECT ` + verificationColumns + ` FROM verification_results WHERE task_id = $1 ORDER BY created_at DESC`
	args := []any{taskID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.VerificationResult
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *PostgresStore) LatestVerificationResult(ctx context.Context, taskID string) (*models.VerificationResult, error) {
	rs, err := p.ListVerificationResults(ctx, taskID, 1)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, ErrNotFound
	}
	return rs[0], nil
}

// --- Exceptions ---

func (p *PostgresStore) CreateException(ctx context.Context, e *models.Exception) (*models.Exception, error) {
	if e.Status == "" {
		e.Status = models.ExceptionOpen
	}
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO exceptions (id, type, severity, status, title, description, suggested_action, agent_id, task_id)
		VALUES (gen_random_id(), $1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`, e.Type, e.Severity, e.Status, e.Title, e.Description, e.SuggestedAction, e.AgentID, e.TaskID)
	if err := row.Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, fmt.Errorf("store: create exception: %w", err)
	}
	return e, nil
}

const exceptionColumns = `id, type, severity, status, title, description, suggested_action,
	agent_id, task_id, resolution_notes, created_at, updated_at`

func scanException(row interface{ Scan(dest ...any) error }) (*models.Exception, error) {
	var e models.Exception
	var agentID, taskID stdsql.NullString
	err := row.Scan(
		&e.ID, &e.Type, &e.Severity, &e.Status, &e.Title, &e.Description, &e.SuggestedAction,
		&agentID, &taskID, &e.ResolutionNotes, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if agentID.Valid {
		e.AgentID = &agentID.String
	}
	if taskID.Valid {
		e.TaskID = &taskID.String
	}
	return &e, nil
}

func (p *PostgresStore) ListExceptionsByTask(ctx context.Context, taskID string) ([]*models.Exception, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+exceptionColumns+` FROM exceptions WHERE task_id = $1 ORDER BY created_at ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Exception
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) HasOpenException(ctx context.Context, taskID string, excType models.ExceptionType) (bool, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT count(*) FROM exceptions WHERE task_id = $1 AND type = $2 AND status = $3
	`, taskID, excType, models.ExceptionOpen).Scan(&n)
	return n > 0, err
}

// --- Agent logs ---

func (p *PostgresStore) AppendAgentLogs(ctx context.Context, logs []*models.AgentLog) error {
	if len(logs) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO agent_logs (id, agent_id, task_id, log_type, content, metadata)
		VALUES (gen_random_id(), $1, $2, $3, $4, $5)
		RETURNING id, created_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, l := range logs {
		meta, _ := json.Marshal(l.Metadata)
		content := models.Truncate(l.Content)
		if err := stmt.QueryRowContext(ctx, l.AgentID, l.TaskID, l.LogType, content, meta).
			Scan(&l.ID, &l.CreatedAt); err != nil {
			return fmt.Errorf("store: append agent log: %w", err)
		}
		l.Content = content
	}
	return tx.Commit()
}

func (p *PostgresStore) ListAgentLogs(ctx context.Context, agentID string) ([]*models.AgentLog, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, agent_id, task_id, log_type, content, metadata, created_at
		FROM agent_logs WHERE agent_id = $1 ORDER BY created_at ASC
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.AgentLog
	for rows.Next() {
		var l models.AgentLog
		var taskID stdsql.NullString
		var meta []byte
		if err := rows.Scan(&l.ID, &l.AgentID, &taskID, &l.LogType, &l.Content, &meta, &l.CreatedAt); err != nil {
			return nil, err
		}
		if taskID.Valid {
			l.TaskID = &taskID.String
		}
		_ = json.Unmarshal(meta, &l.Metadata)
		out = append(out, &l)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
