package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"studio/internal/domain"
)

// TaskRepositoryPG implements domain.TaskRepository backed by PostgreSQL.
// Lifecycle guards live in the WHERE clauses so concurrent writers cannot
// race a task out of its state machine.
type TaskRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewTaskRepository creates a new task repository backed by PostgreSQL.
func NewTaskRepository(pool *pgxpool.Pool) *TaskRepositoryPG {
	return &TaskRepositoryPG{pool: pool}
}

const taskColumns = `id, user_id, kind, status, progress, input_json, output_json, error_message, credits_charged, created_at, completed_at`

// GetByID fetches a task by its identifier.
func (r *TaskRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

// ListByUser returns the user's tasks newest first.
func (r *TaskRepositoryPG) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.Task, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+taskColumns+`
FROM tasks
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3;
`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// MarkProcessing claims a pending task. The status guard makes the claim
// exclusive: a second caller sees zero rows and gets ErrInvalidTransition.
func (r *TaskRepositoryPG) MarkProcessing(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE tasks
SET status = 'processing'
WHERE id = $1 AND status = 'pending';
`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.guardError(ctx, id)
	}
	return nil
}

// RecordProgress stores max(current, min(progress, 100)) and returns the
// effective value, so stale or out-of-order updates never move it backwards.
func (r *TaskRepositoryPG) RecordProgress(ctx context.Context, id string, progress int) (int, error) {
	row := r.pool.QueryRow(ctx, `
UPDATE tasks
SET progress = GREATEST(progress, LEAST($2, 100))
WHERE id = $1 AND status = 'processing'
RETURNING progress;
`, id, progress)
	var effective int
	if err := row.Scan(&effective); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, r.guardError(ctx, id)
		}
		return 0, err
	}
	return effective, nil
}

// MarkCompleted finalizes a processing task with its output payload. The
// stored progress reaches 100 only in the same statement.
func (r *TaskRepositoryPG) MarkCompleted(ctx context.Context, id string, output []byte) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE tasks
SET status = 'completed',
    progress = 100,
    output_json = $2,
    completed_at = NOW()
WHERE id = $1 AND status = 'processing';
`, id, output)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.guardError(ctx, id)
	}
	return nil
}

// MarkFailed finalizes a processing task with an error message.
func (r *TaskRepositoryPG) MarkFailed(ctx context.Context, id string, message string) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE tasks
SET status = 'failed',
    error_message = $2,
    completed_at = NOW()
WHERE id = $1 AND status = 'processing';
`, id, message)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.guardError(ctx, id)
	}
	return nil
}

// guardError distinguishes a missing task from one in the wrong state after
// a guarded update matched no rows.
func (r *TaskRepositoryPG) guardError(ctx context.Context, id string) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}

func scanTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	if err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Kind,
		&t.Status,
		&t.Progress,
		&t.InputJSON,
		&t.OutputJSON,
		&t.ErrorMessage,
		&t.CreditsCharged,
		&t.CreatedAt,
		&t.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}
